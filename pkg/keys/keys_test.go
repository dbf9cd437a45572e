package keys

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestLoadExplicitHex(t *testing.T) {
	sk := "0000000000000000000000000000000000000000000000000000000000000001"
	m, err := Load(t.TempDir(), sk, "")
	require.NoError(t, err)
	assert.Equal(t, sk, m.PrivateKey())
	assert.NotEmpty(t, m.PublicKey())

	npub, err := m.Npub()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(npub, "npub1"))
}

func TestLoadExplicitHexWinsOverMnemonic(t *testing.T) {
	sk := "0000000000000000000000000000000000000000000000000000000000000002"
	m, err := Load(t.TempDir(), sk, testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, sk, m.PrivateKey())
}

func TestLoadRejectsBadHex(t *testing.T) {
	_, err := Load(t.TempDir(), "deadbeef", "")
	require.Error(t, err)
	_, err = Load(t.TempDir(), "zz"+strings.Repeat("00", 31), "")
	require.Error(t, err)
}

func TestLoadMnemonicDeterministic(t *testing.T) {
	first, err := Load(t.TempDir(), "", testMnemonic)
	require.NoError(t, err)
	second, err := Load(t.TempDir(), "", testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey(),
		"the same mnemonic must derive the same key on every start")
}

func TestLoadRejectsBadMnemonic(t *testing.T) {
	_, err := Load(t.TempDir(), "", "definitely not a valid phrase")
	require.Error(t, err)
}

func TestGeneratedKeyPersistedAndReused(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir, "", "")
	require.NoError(t, err)

	keyPath := filepath.Join(dir, keyFileName)
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := Load(dir, "", "")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey(),
		"a restart must reuse the persisted key")
}

func TestRedactionTargetsCoverKeyMaterial(t *testing.T) {
	m, err := Load(t.TempDir(), "", "")
	require.NoError(t, err)
	targets := m.RedactionTargets()
	assert.Contains(t, targets, m.PrivateKey())
}

func TestZeroize(t *testing.T) {
	m, err := Load(t.TempDir(), "", "")
	require.NoError(t, err)
	m.Zeroize()
	assert.Empty(t, m.PrivateKey())
	assert.Empty(t, m.PublicKey())
}
