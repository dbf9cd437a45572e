package blossom

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/douglaz/nostrweet/pkg/keys"
)

func testSigner(t *testing.T) *keys.Manager {
	t.Helper()
	signer, err := keys.Load(t.TempDir(), "", "")
	require.NoError(t, err)
	return signer
}

func writeBlob(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.jpg")
	require.NoError(t, os.WriteFile(path, content, 0640))
	return path
}

func TestUploadFile(t *testing.T) {
	content := []byte("image bytes")
	sum := sha256.Sum256(content)
	shaHex := hex.EncodeToString(sum[:])

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, shaHex, r.Header.Get("X-SHA-256"))
		gotAuth = r.Header.Get("Authorization")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, content, body)

		_ = json.NewEncoder(w).Encode(BlobDescriptor{
			URL:    "https://blobs.example/" + shaHex,
			SHA256: shaHex,
			Size:   int64(len(body)),
			Type:   "image/jpeg",
		})
	}))
	defer srv.Close()

	signer := testSigner(t)
	c := New([]string{srv.URL}, signer, log.New(os.Stderr, "", 0))
	url, err := c.UploadFile(context.Background(), writeBlob(t, content))
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example/"+shaHex, url)

	// The authorization header carries a signed event over the blob hash.
	require.True(t, strings.HasPrefix(gotAuth, "Nostr "))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(gotAuth, "Nostr "))
	require.NoError(t, err)
	var ev nostr.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, authKind, ev.Kind)
	assert.Equal(t, signer.PublicKey(), ev.PubKey)
	assert.Equal(t, shaHex, ev.Tags.GetFirst([]string{"x"}).Value())
	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUploadFileDerivesURLWithoutDescriptor(t *testing.T) {
	content := []byte("other bytes")
	sum := sha256.Sum256(content)
	shaHex := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New([]string{srv.URL}, testSigner(t), nil)
	url, err := c.UploadFile(context.Background(), writeBlob(t, content))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/"+shaHex, url)
}

func TestUploadFilePartialServerSuccess(t *testing.T) {
	content := []byte("partial")
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BlobDescriptor{URL: "https://ok.example/blob"})
	}))
	defer up.Close()

	c := New([]string{down.URL, up.URL}, testSigner(t), nil)
	url, err := c.UploadFile(context.Background(), writeBlob(t, content))
	require.NoError(t, err, "one successful server is enough")
	assert.Equal(t, "https://ok.example/blob", url)
}

func TestUploadFileAllServersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New([]string{srv.URL}, testSigner(t), nil)
	_, err := c.UploadFile(context.Background(), writeBlob(t, []byte("nope")))
	require.Error(t, err)
}

func TestConfigured(t *testing.T) {
	assert.False(t, New(nil, testSigner(t), nil).Configured())
	assert.True(t, New([]string{"https://b.example"}, testSigner(t), nil).Configured())
}

func TestMimeTypeFor(t *testing.T) {
	for ext, want := range map[string]string{
		"a.jpg": "image/jpeg", "a.jpeg": "image/jpeg", "a.png": "image/png",
		"a.gif": "image/gif", "a.mp4": "video/mp4", "a.bin": "application/octet-stream",
	} {
		assert.Equal(t, want, mimeTypeFor(ext), fmt.Sprintf("ext %s", ext))
	}
}
