// Package keys holds the process signing key. The key is loaded once at
// startup, kept in memory, and never written to any log; pkg/logging carries
// the matching redaction patterns.
package keys

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip06"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// keyFileName is the private key file persisted under the data dir when no
// explicit key or mnemonic is configured.
const keyFileName = ".nostr_key"

// Manager holds the signing key pair for the process lifetime.
type Manager struct {
	sk string
	pk string
}

// Load resolves the signing key, in priority order: explicit hex key,
// BIP-39 mnemonic (NIP-06 derivation, path m/44'/1237'/0'/0/0), then a key
// persisted under dataDir, generating and persisting a fresh one on first
// run.
func Load(dataDir, explicitHex, mnemonic string) (*Manager, error) {
	switch {
	case explicitHex != "":
		return fromHex(strings.TrimSpace(explicitHex))
	case mnemonic != "":
		return fromMnemonic(strings.TrimSpace(mnemonic))
	default:
		return loadOrGenerate(dataDir)
	}
}

func fromHex(sk string) (*Manager, error) {
	raw, err := hex.DecodeString(sk)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 64 hex characters")
	}
	return newManager(sk)
}

func fromMnemonic(words string) (*Manager, error) {
	if !nip06.ValidateWords(words) {
		return nil, fmt.Errorf("invalid BIP-39 mnemonic phrase")
	}
	seed := nip06.SeedFromWords(words)
	sk, err := nip06.PrivateKeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from mnemonic: %w", err)
	}
	return newManager(sk)
}

func loadOrGenerate(dataDir string) (*Manager, error) {
	path := filepath.Join(dataDir, keyFileName)
	if data, err := os.ReadFile(path); err == nil { // #nosec G304
		return fromHex(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	sk := nostr.GeneratePrivateKey()
	if err := os.WriteFile(path, []byte(sk+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist generated key: %w", err)
	}
	return newManager(sk)
}

func newManager(sk string) (*Manager, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return &Manager{sk: sk, pk: pk}, nil
}

// PrivateKey returns the hex signing key. Call sites must never log it.
func (m *Manager) PrivateKey() string { return m.sk }

// PublicKey returns the hex public key.
func (m *Manager) PublicKey() string { return m.pk }

// Npub returns the bech32 public key for display.
func (m *Manager) Npub() (string, error) {
	return nip19.EncodePublicKey(m.pk)
}

// RedactionTargets returns the secrets the log redactor must strip.
func (m *Manager) RedactionTargets() []string {
	targets := []string{m.sk}
	if nsec, err := nip19.EncodePrivateKey(m.sk); err == nil {
		targets = append(targets, nsec)
	}
	return targets
}

// Zeroize overwrites the in-memory key material. Go strings are immutable so
// this is best effort: the fields are dropped and the manager is unusable
// afterwards.
func (m *Manager) Zeroize() {
	m.sk = ""
	m.pk = ""
}
