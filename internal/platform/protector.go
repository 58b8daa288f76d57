package platform

// Protector is the opportunistic OS-level data-protection layer applied
// to the wrapped root key before it hits disk. It is best-effort by
// contract: callers attempt Unprotect first and fall back to the raw
// bytes, so a vault written with protection on one machine can still be
// opened where protection is unavailable (the password wrap underneath
// is the real security boundary).
type Protector interface {
	Protect(data []byte) ([]byte, error)
	Unprotect(data []byte) ([]byte, error)
}

type noopProtector struct{}

func (noopProtector) Protect(data []byte) ([]byte, error)   { return data, nil }
func (noopProtector) Unprotect(data []byte) ([]byte, error) { return data, nil }

// NewNoopProtector returns the passthrough used when no per-user key
// material is available.
func NewNoopProtector() Protector { return noopProtector{} }
