package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, []string{"super-secret-token", "deadbeefcafe"})

	n, err := w.Write([]byte("auth with super-secret-token and key deadbeefcafe done"))
	require.NoError(t, err)
	assert.Equal(t, len("auth with super-secret-token and key deadbeefcafe done"), n)

	out := buf.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.NotContains(t, out, "deadbeefcafe")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactsNsecByPattern(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, nil)

	_, err := w.Write([]byte("leaked nsec1qyfxxqur23ys6kp3l8j0wv4nxyerzwf5kuct5v4kxc6t5v4khqto you"))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "nsec1")
	assert.Contains(t, buf.String(), "[REDACTED_KEY]")
}

func TestEmptySecretsAreIgnored(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, []string{"", "  "})

	_, err := w.Write([]byte("nothing to scrub here"))
	require.NoError(t, err)
	assert.Equal(t, "nothing to scrub here", buf.String())
}
