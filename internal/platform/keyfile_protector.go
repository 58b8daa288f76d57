package platform

import (
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

var protectAAD = []byte("local-protect")

// keyFileProtector wraps blobs with XChaCha20-Poly1305 under a random
// key held in a 0600 file in the user's state directory. It ties
// readability of the wrapped root key to the local account's filesystem
// permissions, which is the portable approximation of the per-user data
// protection APIs some platforms offer.
type keyFileProtector struct{ key []byte }

func NewKeyFileProtector(path string) (Protector, error) {
	key, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, xchacha.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, key, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if len(key) != xchacha.KeySize {
		return nil, errors.New("platform: bad protector key length")
	}
	return &keyFileProtector{key: key}, nil
}

func (p *keyFileProtector) Protect(data []byte) ([]byte, error) {
	aead, err := xchacha.NewX(p.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(data)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, data, protectAAD)
	return out, nil
}

func (p *keyFileProtector) Unprotect(data []byte) ([]byte, error) {
	aead, err := xchacha.NewX(p.key)
	if err != nil {
		return nil, err
	}
	if len(data) < xchacha.NonceSizeX {
		return nil, errors.New("platform: blob too short")
	}
	nonce := data[:xchacha.NonceSizeX]
	ct := data[xchacha.NonceSizeX:]
	return aead.Open(nil, nonce, ct, protectAAD)
}

// NewDefaultProtector picks the key-file variant when a state directory
// is usable and falls back to the passthrough otherwise, keeping
// platform checks out of the core.
func NewDefaultProtector(stateDir string) Protector {
	if stateDir == "" {
		return NewNoopProtector()
	}
	p, err := NewKeyFileProtector(filepath.Join(stateDir, "protect.key"))
	if err != nil {
		return NewNoopProtector()
	}
	return p
}
