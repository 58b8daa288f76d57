package crypto

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is deliberately fixed rather than configurable: the
	// wrapped-key format carries no parameter header, so every version
	// must stretch passwords identically for old files to stay readable.
	KDFIterations = 200_000

	SaltSize = 32
	KeySize  = 32
)

// DeriveKey stretches a password into n bytes of key material using
// PBKDF2-HMAC-SHA256. Identical inputs always yield identical output.
// An empty password is computed like any other; callers that need to
// reject it do so before getting here.
func DeriveKey(password, salt []byte, n int) []byte {
	return pbkdf2.Key(password, salt, KDFIterations, n, sha256.New)
}

// NewSalt returns a fresh random salt of the standard size.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// NewKey returns fresh random key material of the standard size.
func NewKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
