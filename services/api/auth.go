package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime      = 1
	argonMemory    = 64 * 1024
	argonThreads   = 4
	argonKeyLen    = 32
	saltLen        = 16
	tokenSecretLen = 32
)

// hashSecret derives an argon2id digest and encodes it in PHC string form,
// so parameters can change later without invalidating stored hashes.
func hashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// verifySecret recomputes the digest with the parameters stored in encoded
// and compares in constant time.
func verifySecret(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("malformed token hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, passes uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &threads); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(secret), salt, passes, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func newTokenSecret() (string, error) {
	raw := make([]byte, tokenSecretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// splitTokenValue parses the "<id>.<secret>" form handed out by Issue.
func splitTokenValue(value string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(value, ".")
	if !ok || secret == "" {
		return uuid.Nil, "", errors.New(`token value must be "<id>.<secret>"`)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, secret, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// requireAuth guards the management routes. The bootstrap token from the
// config file is accepted alongside issued tokens so a fresh install can
// create its first token.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := bearerToken(r)
		if value == "" {
			respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		if a.config.BootstrapToken != "" &&
			subtle.ConstantTimeCompare([]byte(value), []byte(a.config.BootstrapToken)) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		if a.tokens == nil {
			respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		if _, err := a.tokens.Verify(r.Context(), value); err != nil {
			switch {
			case errors.Is(err, ErrTokenNotFound),
				errors.Is(err, ErrTokenDisabled),
				errors.Is(err, ErrTokenInvalid):
				respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
			default:
				respondError(w, http.StatusInternalServerError, errors.New("token lookup failed"))
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}
