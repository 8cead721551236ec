// Package crypto hashes the dev backend's seeded user passwords.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 32 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16

	scheme = "argon2id"
)

// ErrMalformedHash is returned for encodings Hash did not produce.
var ErrMalformedHash = errors.New("malformed password hash")

var b64 = base64.RawStdEncoding

// Hash returns "argon2id$t=..,m=..,p=..$<salt>$<key>" for password.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("%s$t=%d,m=%d,p=%d$%s$%s", scheme, argonTime, argonMemory, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches the encoded hash. Parameters are
// taken from the encoding, so older hashes keep verifying.
func Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != scheme {
		return false, ErrMalformedHash
	}
	var t, m uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[1], "t=%d,m=%d,p=%d", &t, &m, &p); err != nil {
		return false, ErrMalformedHash
	}
	salt, err := b64.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := b64.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
