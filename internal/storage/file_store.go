package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Blob files carry this suffix so the key directory can also hold the
// protector's key file without collisions.
const blobSuffix = ".blob"

var ErrInvalidBlobID = errors.New("storage: blob id must be a bare file name")

// FileBlobStore keeps each blob as one file in a private directory. Only
// two blobs ever live here, the root key salt and the wrapped root key
// record; a torn record file is unrecoverable, so Put replaces the file
// atomically.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) *FileBlobStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileBlobStore{dir: dir}
}

// blobPath rejects anything that could escape the store directory.
func (f *FileBlobStore) blobPath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) {
		return "", ErrInvalidBlobID
	}
	return filepath.Join(f.dir, id+blobSuffix), nil
}

func (f *FileBlobStore) Put(_ context.Context, id string, data []byte) error {
	path, err := f.blobPath(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, "."+id+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	path, err := f.blobPath(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileBlobStore) Delete(_ context.Context, id string) error {
	path, err := f.blobPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
