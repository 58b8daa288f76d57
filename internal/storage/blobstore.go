package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

// BlobStore persists opaque named byte strings. The crypto core never
// writes unwrapped key material through this interface; it stores only
// the vault salt and the wrapped root key record.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
