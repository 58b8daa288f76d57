package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const (
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrAuthentication     = errors.New("crypto: message authentication failed")
)

// Seal encrypts plaintext with AES-256-GCM under key, generating a fresh
// random nonce per call. Returned layout: [nonce||ciphertext||tag].
// Nonces must never repeat for the same key, which is why callers cannot
// supply one.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, plaintext, aad)
	return out, nil
}

// Open decrypts data previously produced by Seal. The tag is verified
// before any plaintext is returned; a mismatch from any cause (wrong key,
// tampering, corruption) surfaces as the same ErrAuthentication.
func Open(key, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
