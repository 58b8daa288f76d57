package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/potetofly25/KeyManager2/internal/crypto"
	"github.com/potetofly25/KeyManager2/internal/platform"
	"github.com/potetofly25/KeyManager2/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewFileBlobStore(t.TempDir()), platform.NewNoopProtector())
}

func TestInitializeUnlockLock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())
	m := NewManager(store, nil)

	if m.Unlocked() {
		t.Fatal("fresh manager must start locked")
	}
	if _, err := m.RootKey(); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked, got %v", err)
	}

	if err := m.Initialize(ctx, "Tr0ub4dor&3"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !m.Unlocked() {
		t.Fatal("initialize must leave the session unlocked")
	}
	key1, err := m.RootKey()
	if err != nil {
		t.Fatalf("root key: %v", err)
	}

	m.Lock()
	if m.Unlocked() {
		t.Fatal("lock must transition to locked")
	}
	m.Lock() // idempotent

	// A second manager over the same store reproduces the same root key.
	m2 := NewManager(store, nil)
	if err := m2.Unlock(ctx, "Tr0ub4dor&3"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	key2, err := m2.RootKey()
	if err != nil {
		t.Fatalf("root key after unlock: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Fatal("unlock must reproduce the original root key")
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	if err := m.Initialize(ctx, "correct horse"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.Lock()

	if err := m.Unlock(ctx, "wrongpass"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if m.Unlocked() {
		t.Fatal("failed unlock must leave the session locked")
	}
}

func TestInitializeTwice(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.Initialize(ctx, "pw"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	if err := m.Initialize(ctx, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if err := m.Unlock(ctx, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestUnlockBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	if err := m.Unlock(ctx, "pw"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

// failPutStore refuses writes of one blob id.
type failPutStore struct {
	storage.BlobStore
	failID string
}

func (s *failPutStore) Put(ctx context.Context, id string, data []byte) error {
	if id == s.failID {
		return errors.New("disk full")
	}
	return s.BlobStore.Put(ctx, id, data)
}

func TestInitializeFailureLeavesNoOrphanSalt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())

	m := NewManager(&failPutStore{BlobStore: store, failID: rootKeyBlobID}, nil)
	if err := m.Initialize(ctx, "pw"); err == nil {
		t.Fatal("expected initialize to fail when the record cannot be written")
	}
	if m.Unlocked() {
		t.Fatal("failed initialize must leave the session locked")
	}
	if _, err := store.Get(ctx, saltBlobID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected the orphan salt to be removed, got %v", err)
	}

	// A retry against the healthy store starts from scratch.
	m2 := NewManager(store, nil)
	if err := m2.Initialize(ctx, "pw"); err != nil {
		t.Fatalf("retry initialize: %v", err)
	}
}

func TestUnprotectFallbackToRawRecord(t *testing.T) {
	// A record written without platform protection must still unlock on a
	// machine where a protector is active: Unprotect fails, raw bytes win.
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())

	plainMgr := NewManager(store, platform.NewNoopProtector())
	if err := plainMgr.Initialize(ctx, "portable-pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	plainMgr.Lock()

	prot, err := platform.NewKeyFileProtector(filepath.Join(t.TempDir(), "protect.key"))
	if err != nil {
		t.Fatalf("protector: %v", err)
	}
	protMgr := NewManager(store, prot)
	if err := protMgr.Unlock(ctx, "portable-pw"); err != nil {
		t.Fatalf("unlock with protector fallback: %v", err)
	}
}

func TestProtectedRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())
	prot, err := platform.NewKeyFileProtector(filepath.Join(t.TempDir(), "protect.key"))
	if err != nil {
		t.Fatalf("protector: %v", err)
	}

	m := NewManager(store, prot)
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.Lock()

	m2 := NewManager(store, prot)
	if err := m2.Unlock(ctx, "pw"); err != nil {
		t.Fatalf("unlock protected record: %v", err)
	}

	// On-disk blob must not be the raw 92-byte record.
	blob, err := store.Get(ctx, rootKeyBlobID)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	if len(blob) == recordSize {
		t.Fatal("expected protected blob to differ from the raw record")
	}
}

func TestTamperedRecordFailsAuthentication(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())
	m := NewManager(store, nil)
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.Lock()

	blob, err := store.Get(ctx, rootKeyBlobID)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if err := store.Put(ctx, rootKeyBlobID, blob); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	if err := m.Unlock(ctx, "pw"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestSaltStableAcrossUnlocks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())
	m := NewManager(store, nil)
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	salt1, err := store.Get(ctx, saltBlobID)
	if err != nil {
		t.Fatalf("get salt: %v", err)
	}
	m.Lock()
	if err := m.Unlock(ctx, "pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	salt2, err := store.Get(ctx, saltBlobID)
	if err != nil {
		t.Fatalf("get salt again: %v", err)
	}
	if !bytes.Equal(salt1, salt2) {
		t.Fatal("salt must be stable for the vault's lifetime")
	}
}
