package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/potetofly25/KeyManager2/internal/crypto"
	"github.com/potetofly25/KeyManager2/internal/session"
	"github.com/potetofly25/KeyManager2/internal/storage"
)

func newTestVault(t *testing.T) (*Vault, storage.BlobStore) {
	t.Helper()
	store := storage.NewFileBlobStore(t.TempDir())
	return New(session.NewManager(store, nil)), store
}

func newUnlockedVault(t *testing.T, password string) *Vault {
	t.Helper()
	v, _ := newTestVault(t)
	if err := v.Initialize(context.Background(), password); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return v
}

func TestFieldRoundTrip(t *testing.T) {
	v := newUnlockedVault(t, "master-pw")
	for _, pt := range []string{"", "hunter2", "päss wörd ☃", string(make([]byte, 4096))} {
		env, err := v.EncryptField(pt)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := v.DecryptField(env)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != pt {
			t.Fatalf("round-trip mismatch for %q", pt)
		}
	}
}

func TestFieldOpsRequireUnlockedSession(t *testing.T) {
	v := newUnlockedVault(t, "master-pw")
	env, err := v.EncryptField("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	v.Lock()

	if _, err := v.EncryptField("secret"); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked, got %v", err)
	}
	if _, err := v.DecryptField(env); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked, got %v", err)
	}
	if _, err := v.DecryptAll(nil); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked, got %v", err)
	}
}

func TestFieldTamperDetection(t *testing.T) {
	v := newUnlockedVault(t, "master-pw")
	env, err := v.EncryptField("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range raw {
		mut := append([]byte(nil), raw...)
		mut[i] ^= 0x01
		if _, err := v.DecryptField(base64.StdEncoding.EncodeToString(mut)); !errors.Is(err, crypto.ErrAuthentication) {
			t.Fatalf("byte %d: expected ErrAuthentication, got %v", i, err)
		}
	}
	if _, err := v.DecryptField("not even base64!!"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for bad encoding, got %v", err)
	}
}

func TestFieldNonceUniqueness(t *testing.T) {
	if testing.Short() {
		t.Skip("birthday sampling is slow")
	}
	v := newUnlockedVault(t, "master-pw")
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		env, err := v.EncryptField("same plaintext")
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		raw, err := base64.StdEncoding.DecodeString(env)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		nonce := string(raw[:crypto.NonceSize])
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce repeated after %d envelopes", i)
		}
		seen[nonce] = struct{}{}
	}
}

func TestConcurrentFieldOpsDuringLockCycles(t *testing.T) {
	// Field operations racing lock/unlock transitions must never observe a
	// partially zeroed key: every success round-trips exactly, every
	// failure is the locked-session error.
	if testing.Short() {
		t.Skip("unlock cycling repeats the full KDF")
	}
	ctx := context.Background()
	v := newUnlockedVault(t, "master-pw")

	stable, err := v.EncryptField("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				env, err := v.EncryptField("hunter2")
				switch {
				case errors.Is(err, ErrNotUnlocked):
				case err != nil:
					t.Errorf("encrypt: %v", err)
					return
				default:
					pt, derr := v.DecryptField(env)
					if derr != nil && !errors.Is(derr, ErrNotUnlocked) {
						t.Errorf("decrypt fresh envelope: %v", derr)
						return
					}
					if derr == nil && pt != "hunter2" {
						t.Errorf("fresh envelope round-tripped to %q", pt)
						return
					}
				}

				pt, derr := v.DecryptField(stable)
				if derr != nil && !errors.Is(derr, ErrNotUnlocked) {
					t.Errorf("decrypt stable envelope: %v", derr)
					return
				}
				if derr == nil && pt != "hunter2" {
					t.Errorf("stable envelope decrypted to %q", pt)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			v.Lock()
			if err := v.Unlock(ctx, "master-pw"); err != nil {
				t.Errorf("unlock cycle %d: %v", i, err)
				return
			}
		}
	}()
	wg.Wait()

	got, err := v.DecryptField(stable)
	if err != nil || got != "hunter2" {
		t.Fatalf("decrypt after cycling: %q, %v", got, err)
	}
}

func TestLockUnlockScenario(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileBlobStore(t.TempDir())
	v := New(session.NewManager(store, nil))

	if err := v.Initialize(ctx, "Tr0ub4dor&3"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	env, err := v.EncryptField("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	v.Lock()

	if err := v.Unlock(ctx, "wrongpass"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if v.Unlocked() {
		t.Fatal("session must stay locked after a failed unlock")
	}

	if err := v.Unlock(ctx, "Tr0ub4dor&3"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	got, err := v.DecryptField(env)
	if err != nil {
		t.Fatalf("decrypt after relock: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("expected hunter2, got %q", got)
	}

	if err := v.Audit().Verify(); err != nil {
		t.Fatalf("audit chain: %v", err)
	}
}

func TestDecryptAllIsolatesFailures(t *testing.T) {
	v := newUnlockedVault(t, "master-pw")
	good, err := v.EncryptField("s3cret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	creds := []Credential{
		{ID: "1", LoginID: "alice", Password: good, IsEncrypted: true},
		{ID: "2", LoginID: "bob", Password: "AAAA" + good[4:], IsEncrypted: true}, // corrupted
		{ID: "3", LoginID: "carol", Password: "plain-value", IsEncrypted: false},
	}
	results, err := v.DecryptAll(creds)
	if err != nil {
		t.Fatalf("decrypt all: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Decrypted || results[0].Credential.Password != "s3cret" {
		t.Fatalf("record 1 should decrypt, got %+v", results[0])
	}
	if results[1].Decrypted {
		t.Fatal("corrupted record must be reported as not decrypted")
	}
	if !results[1].Credential.IsEncrypted || results[1].Credential.Password == "s3cret" {
		t.Fatal("corrupted record must keep its stored ciphertext")
	}
	if !results[2].Decrypted || results[2].Credential.Password != "plain-value" {
		t.Fatalf("plaintext record should pass through, got %+v", results[2])
	}
}
