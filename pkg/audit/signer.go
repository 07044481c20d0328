package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// Signer signs entry hashes with an ed25519 key derived from a 32-byte seed
// file. Absent a key file, signing is disabled and signatures are empty
// strings, which verify as valid.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

const signingKeyFile = "signing_key"

// NewSigner loads the signing key from dataDir if one exists. generate
// creates a fresh key (mode 0600) when none is present.
func NewSigner(dataDir string, generate bool) (*Signer, error) {
	keyPath := filepath.Join(dataDir, signingKeyFile)

	seed, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key %s: expected %d raw bytes, got %d",
				keyPath, ed25519.SeedSize, len(seed))
		}
	case os.IsNotExist(err) && generate:
		_, priv, genErr := ed25519.GenerateKey(nil)
		if genErr != nil {
			return nil, fmt.Errorf("generate signing key: %w", genErr)
		}
		seed = priv.Seed()
		if writeErr := os.WriteFile(keyPath, seed, 0o600); writeErr != nil {
			return nil, fmt.Errorf("write signing key: %w", writeErr)
		}
	case os.IsNotExist(err):
		return &Signer{}, nil // signing disabled
	default:
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Enabled reports whether a signing key is loaded.
func (s *Signer) Enabled() bool { return s.priv != nil }

// Sign returns the base64 signature of the entry hash, or the empty string
// when signing is disabled.
func (s *Signer) Sign(entryHash string) string {
	if s.priv == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, []byte(entryHash)))
}

// Verify checks a signature against an entry hash. An empty signature is
// valid when signing is disabled; with a key loaded it is a failure.
func (s *Signer) Verify(entryHash, signature string) bool {
	if signature == "" {
		return !s.Enabled()
	}
	if s.pub == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, []byte(entryHash), sig)
}
