package ctl

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func testSeed(fill byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = fill + byte(i)
	}
	return seed
}

// testAgeSecretKey encodes seed the way age prints identities, as an
// uppercase bech32 string with the age-secret-key- prefix.
func testAgeSecretKey(t *testing.T, seed []byte) string {
	t.Helper()
	grouped, err := bech32.ConvertBits(seed, 8, 5, true)
	if err != nil {
		t.Fatalf("convert seed: %v", err)
	}
	key, err := bech32.Encode("age-secret-key-", grouped)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	return strings.ToUpper(key)
}

func TestSignerSignVerifyRoundTrip(t *testing.T) {
	t.Setenv(envSigningSecretKey, testAgeSecretKey(t, testSeed(0x11)))
	t.Setenv(envSigningPublicKey, "")

	signer, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("NewSignerFromEnv: %v", err)
	}

	pub, err := base64.StdEncoding.DecodeString(signer.PublicKeyBase64())
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		t.Fatalf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}

	payload := []byte("version: \"1\"\ntables: []\n")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := signer.Verify(payload, sig, ""); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := signer.Verify(payload, sig, signer.PublicKeyBase64()); err != nil {
		t.Fatalf("Verify with embedded key: %v", err)
	}
	if err := signer.Verify([]byte("tampered"), sig, ""); err == nil {
		t.Fatal("expected verification of a tampered payload to fail")
	}
	if err := signer.Verify(payload, "not base64!", ""); err == nil {
		t.Fatal("expected a malformed signature to be rejected")
	}
}

func TestSignerVerifyOnlyPublicKey(t *testing.T) {
	seed := testSeed(0x22)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	t.Setenv(envSigningSecretKey, "")
	t.Setenv(envSigningPublicKey, base64.StdEncoding.EncodeToString(pub))

	signer, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("NewSignerFromEnv: %v", err)
	}

	if _, err := signer.Sign([]byte("payload")); err == nil {
		t.Fatal("expected signing to fail without a secret key")
	}

	payload := []byte("payload")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
	if err := signer.Verify(payload, sig, ""); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	otherPriv := ed25519.NewKeyFromSeed(testSeed(0x33))
	otherPub := otherPriv.Public().(ed25519.PublicKey)
	embedded := base64.StdEncoding.EncodeToString(otherPub)
	if err := signer.Verify(payload, sig, embedded); err == nil {
		t.Fatal("expected a mismatched embedded key to be rejected")
	}
}

func TestSignerRejectsMismatchedKeyPair(t *testing.T) {
	otherPriv := ed25519.NewKeyFromSeed(testSeed(0x55))
	otherPub := otherPriv.Public().(ed25519.PublicKey)

	t.Setenv(envSigningSecretKey, testAgeSecretKey(t, testSeed(0x44)))
	t.Setenv(envSigningPublicKey, base64.StdEncoding.EncodeToString(otherPub))

	if _, err := NewSignerFromEnv(); err == nil {
		t.Fatal("expected mismatched key pair to be rejected")
	}
}

func TestSignerRequiresConfiguration(t *testing.T) {
	t.Setenv(envSigningSecretKey, "")
	t.Setenv(envSigningPublicKey, "")

	if _, err := NewSignerFromEnv(); err == nil {
		t.Fatal("expected an error with no keys configured")
	}
}

func TestDecodeAgeSecretKey(t *testing.T) {
	seed := testSeed(0x66)
	valid := testAgeSecretKey(t, seed)

	grouped, err := bech32.ConvertBits(seed, 8, 5, true)
	if err != nil {
		t.Fatalf("convert seed: %v", err)
	}
	wrongHRP, err := bech32.Encode("foo-", grouped)
	if err != nil {
		t.Fatalf("encode wrong hrp: %v", err)
	}

	shortGrouped, err := bech32.ConvertBits(seed[:16], 8, 5, true)
	if err != nil {
		t.Fatalf("convert short seed: %v", err)
	}
	shortKey, err := bech32.Encode("age-secret-key-", shortGrouped)
	if err != nil {
		t.Fatalf("encode short key: %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"uppercase", valid, false},
		{"lowercase", strings.ToLower(valid), false},
		{"wrong hrp", wrongHRP, true},
		{"short seed", shortKey, true},
		{"garbage", "not-a-key", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAgeSecretKey(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeAgeSecretKey: %v", err)
			}
			if len(got) != ed25519.SeedSize {
				t.Fatalf("seed is %d bytes, want %d", len(got), ed25519.SeedSize)
			}
			for i := range got {
				if got[i] != seed[i] {
					t.Fatalf("seed byte %d = %#x, want %#x", i, got[i], seed[i])
				}
			}
		})
	}
}
