// Package clientcrypto seals client-side persisted state with a passphrase-derived key.
package clientcrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Params
const (
	SaltLen = 16
	KeyLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// ErrShort is returned when a sealed blob is too short to contain salt and nonce.
var ErrShort = errors.New("sealed blob too short")

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a sealing key from passphrase and salt using Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns salt||nonce||ciphertext.
// The salt is stored alongside so Open can re-derive the key from the passphrase.
func Seal(key, salt, plaintext, aad []byte) ([]byte, error) {
	if len(salt) != SaltLen {
		return nil, errors.New("bad salt length")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, SaltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// SaltOf returns the salt prefix of a sealed blob.
func SaltOf(blob []byte) ([]byte, error) {
	if len(blob) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrShort
	}
	return blob[:SaltLen], nil
}

// Open decrypts a blob produced by Seal with the same key and AAD.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(blob) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrShort
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := blob[SaltLen+chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
