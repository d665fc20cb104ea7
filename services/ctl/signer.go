package ctl

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envSigningSecretKey = "AGE_SECRET_KEY"
	envSigningPublicKey = "AGE_PUBLIC_KEY"
)

// Signer signs and verifies backup manifests with an Ed25519 key pair derived
// from an age identity. The bech32 payload of an age secret key is a 32-byte
// seed, which doubles as the Ed25519 seed.
type Signer struct {
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey
	recipient string
}

// NewSignerFromEnv reads AGE_SECRET_KEY and/or AGE_PUBLIC_KEY. The secret key
// enables signing; the public key alone is enough to verify. When both are
// set they must belong to the same pair.
func NewSignerFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(envSigningSecretKey))
	pub := strings.TrimSpace(os.Getenv(envSigningPublicKey))
	if secret == "" && pub == "" {
		return nil, fmt.Errorf("%s or %s must be set", envSigningSecretKey, envSigningPublicKey)
	}

	s := &Signer{}

	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envSigningSecretKey, err)
		}
		s.priv = ed25519.NewKeyFromSeed(seed)
		s.pub = ed25519.PublicKey(s.priv[ed25519.SeedSize:])

		// Best effort: the recipient string is informational only.
		if identity, err := age.ParseX25519Identity(secret); err == nil {
			s.recipient = identity.Recipient().String()
		}
	}

	if pub != "" {
		decoded, err := base64.StdEncoding.DecodeString(pub)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envSigningPublicKey, err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", envSigningPublicKey, ed25519.PublicKeySize, len(decoded))
		}
		switch {
		case s.pub == nil:
			s.pub = ed25519.PublicKey(decoded)
		case !bytes.Equal(s.pub, decoded):
			return nil, fmt.Errorf("%s does not match %s", envSigningPublicKey, envSigningSecretKey)
		}
	}

	return s, nil
}

// Sign returns a base64-encoded Ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil {
		return "", errors.New("nil signer")
	}
	if len(s.priv) == 0 {
		return "", fmt.Errorf("signing requires %s", envSigningSecretKey)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)), nil
}

// Verify checks a base64 signature against payload. When the manifest embeds
// its signing public key, pass it as embeddedKey: it is used for verification
// and, if the signer also has a configured key, the two must match.
func (s *Signer) Verify(payload []byte, signature, embeddedKey string) error {
	if s == nil {
		return errors.New("nil signer")
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)
	}

	key := s.pub
	if embeddedKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(embeddedKey)
		if err != nil {
			return fmt.Errorf("decode embedded public key: %w", err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return fmt.Errorf("embedded public key is %d bytes, want %d", len(decoded), ed25519.PublicKeySize)
		}
		if key != nil && !bytes.Equal(key, decoded) {
			return errors.New("manifest signed by unexpected key")
		}
		if key == nil {
			key = ed25519.PublicKey(decoded)
		}
	}

	if key == nil {
		return errors.New("no public key available for verification")
	}
	if !ed25519.Verify(key, payload, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the Ed25519 public key in base64 form, or "" when
// the signer has none.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.pub) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.pub)
}

// Recipient returns the age recipient string when the signer was built from
// a secret key.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("not an age secret key (hrp %q)", hrp)
	}
	seed, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}
