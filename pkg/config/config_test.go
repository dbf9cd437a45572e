package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 300, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, 900, cfg.RateWindowSeconds)
	require.NoError(t, cfg.Validate())
}

func TestValidateRelayScheme(t *testing.T) {
	cfg := Default()
	cfg.Relays = []string{"wss://relay.example"}
	require.NoError(t, cfg.Validate())

	cfg.Relays = []string{"https://relay.example"}
	assert.Error(t, cfg.Validate())

	cfg.Relays = []string{"not a url at all\x7f"}
	assert.Error(t, cfg.Validate())
}

func TestValidateBlossomScheme(t *testing.T) {
	cfg := Default()
	cfg.BlossomServers = []string{"https://blobs.example"}
	require.NoError(t, cfg.Validate())

	cfg.BlossomServers = []string{"wss://blobs.example"}
	assert.Error(t, cfg.Validate())
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateDaemon(t *testing.T) {
	cfg := Default()
	cfg.Users = []string{"alice"}
	cfg.Relays = []string{"wss://relay.example"}
	cfg.BearerToken = "token"
	require.NoError(t, cfg.ValidateDaemon())

	cfg.Users = nil
	assert.Error(t, cfg.ValidateDaemon())

	cfg.Users = []string{"alice"}
	cfg.Relays = nil
	assert.Error(t, cfg.ValidateDaemon())

	cfg.Relays = []string{"wss://relay.example"}
	cfg.BearerToken = " "
	assert.Error(t, cfg.ValidateDaemon())
}
