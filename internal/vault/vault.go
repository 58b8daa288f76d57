// Package vault is the collaborator-facing surface of the crypto core:
// master session lifecycle, per-field encryption and the portable
// export/import package protocol. UI and persistence layers talk to this
// package and never touch key material directly.
package vault

import (
	"context"
	"fmt"

	"github.com/potetofly25/KeyManager2/internal/audit"
	"github.com/potetofly25/KeyManager2/internal/session"
)

type Vault struct {
	sessions *session.Manager
	auditLog *audit.Log
}

func New(sessions *session.Manager) *Vault {
	return &Vault{sessions: sessions, auditLog: audit.New()}
}

func (v *Vault) Unlocked() bool { return v.sessions.Unlocked() }

// Initialized reports whether a wrapped root key record exists yet.
func (v *Vault) Initialized(ctx context.Context) (bool, error) {
	return v.sessions.Initialized(ctx)
}

// Initialize sets up a brand-new vault under the master password and
// leaves the session unlocked.
func (v *Vault) Initialize(ctx context.Context, password string) error {
	err := v.sessions.Initialize(ctx, password)
	v.record("initialize", err)
	return err
}

// Unlock opens the master session from the persisted wrapped root key.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	err := v.sessions.Unlock(ctx, password)
	v.record("unlock", err)
	return err
}

// Lock zeroes the session's key material. Idempotent.
func (v *Vault) Lock() {
	v.sessions.Lock()
	v.record("lock", nil)
}

// Audit exposes the hash-chained log of session and transfer events.
func (v *Vault) Audit() *audit.Log { return v.auditLog }

func (v *Vault) record(what string, err error) {
	if err != nil {
		what = fmt.Sprintf("%s failed: %v", what, err)
	}
	v.auditLog.Append(what)
}
