//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins a buffer holding key material so it cannot be paged to
// swap. Best-effort: callers ignore the error on platforms or under
// rlimits where mlock is unavailable.
func LockMemory(b []byte) error { return unix.Mlock(b) }

func UnlockMemory(b []byte) error { return unix.Munlock(b) }
