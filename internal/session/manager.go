// Package session owns the master session: a single wrapped root key on
// disk and, while unlocked, the unwrapped 32-byte root key in memory.
// Every field-encryption sub-key in the vault is derived from that one
// secret, so nothing here ever writes it out unwrapped.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/potetofly25/KeyManager2/internal/crypto"
	"github.com/potetofly25/KeyManager2/internal/platform"
	"github.com/potetofly25/KeyManager2/internal/storage"
)

// Blob names the manager persists through its BlobStore.
const (
	saltBlobID    = "master.salt"
	rootKeyBlobID = "master.key"
)

// Wrapped record layout: salt || nonce || ciphertext || tag.
const recordSize = crypto.SaltSize + crypto.NonceSize + crypto.KeySize + crypto.TagSize

var rootWrapAAD = []byte("rootkey-wrap")

var (
	ErrNotUnlocked        = errors.New("session: not unlocked")
	ErrAlreadyInitialized = errors.New("session: root key already initialized")
	ErrNotInitialized     = errors.New("session: no root key record")
	ErrEmptyPassword      = errors.New("session: empty master password")
	ErrMalformedRecord    = errors.New("session: malformed root key record")
)

// Manager is the process-wide master session. All state transitions run
// under one mutex; concurrent encrypt/decrypt callers read the key via
// RootKey, which snapshots under the same lock so a racing Lock can never
// expose a partially zeroed key.
type Manager struct {
	mu    sync.Mutex
	store storage.BlobStore
	prot  platform.Protector

	unlocked bool
	root     []byte
}

func NewManager(store storage.BlobStore, prot platform.Protector) *Manager {
	if prot == nil {
		prot = platform.NewNoopProtector()
	}
	return &Manager{store: store, prot: prot}
}

func (m *Manager) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// Initialized reports whether a wrapped root key record exists yet.
func (m *Manager) Initialized(ctx context.Context) (bool, error) {
	_, err := m.store.Get(ctx, rootKeyBlobID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Initialize creates a fresh root key, wraps it under the master password
// and persists the wrapped record plus its salt. Valid only while no
// record exists; established vaults must Unlock instead. On success the
// session holds the new root key.
func (m *Manager) Initialize(ctx context.Context, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, rootKeyBlobID); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	root, err := crypto.NewKey()
	if err != nil {
		return err
	}

	wrapKey := crypto.DeriveKey([]byte(password), salt, crypto.KeySize)
	sealed, err := crypto.Seal(wrapKey, root, rootWrapAAD)
	crypto.Zero(wrapKey)
	if err != nil {
		crypto.Zero(root)
		return err
	}

	record := make([]byte, 0, recordSize)
	record = append(record, salt...)
	record = append(record, sealed...)

	// Protection is opportunistic; a failure here falls back to the raw
	// record, which is already sealed under the password-derived key.
	protected, perr := m.prot.Protect(record)
	if perr != nil {
		protected = record
	}

	if err := m.store.Put(ctx, saltBlobID, salt); err != nil {
		crypto.Zero(root)
		return err
	}
	if err := m.store.Put(ctx, rootKeyBlobID, protected); err != nil {
		// An orphan salt without a record would leave the vault looking
		// half-initialized; remove it so a retry starts clean.
		_ = m.store.Delete(ctx, saltBlobID)
		crypto.Zero(root)
		return err
	}

	m.install(root)
	return nil
}

// Unlock reads the wrapped record, attempts platform unprotect with a
// raw-bytes fallback, derives the wrapping key from the embedded salt and
// opens the envelope. A wrong password surfaces as the AEAD's
// authentication failure; no plaintext leaves until the tag verifies.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := m.store.Get(ctx, rootKeyBlobID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}

	record := blob
	if raw, uerr := m.prot.Unprotect(blob); uerr == nil {
		record = raw
	}
	if len(record) != recordSize {
		return ErrMalformedRecord
	}

	salt := record[:crypto.SaltSize]
	wrapKey := crypto.DeriveKey([]byte(password), salt, crypto.KeySize)
	root, err := crypto.Open(wrapKey, record[crypto.SaltSize:], rootWrapAAD)
	crypto.Zero(wrapKey)
	if err != nil {
		return err
	}

	m.install(root)
	return nil
}

// Lock zeroes the resident root key. Idempotent.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wipeLocked()
}

// RootKey returns a copy of the resident root key, snapshotted under the
// session lock. The caller zeroes the copy when done with it.
func (m *Manager) RootKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.unlocked {
		return nil, ErrNotUnlocked
	}
	out := make([]byte, len(m.root))
	copy(out, m.root)
	return out, nil
}

// install replaces any current key material. Callers hold m.mu.
func (m *Manager) install(root []byte) {
	m.wipeLocked()
	m.root = root
	_ = crypto.LockMemory(m.root) // best-effort
	m.unlocked = true
}

func (m *Manager) wipeLocked() {
	if m.root != nil {
		crypto.Zero(m.root)
		_ = crypto.UnlockMemory(m.root)
		m.root = nil
	}
	m.unlocked = false
}
