package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/potetofly25/KeyManager2/internal/crypto"
	"github.com/potetofly25/KeyManager2/internal/session"
)

// PackageVersion is written into every export and checked on import.
const PackageVersion = 1

var (
	ErrNotUnlocked        = session.ErrNotUnlocked
	ErrPasswordRequired   = errors.New("vault: transfer password required")
	ErrMalformedPackage   = errors.New("vault: malformed export package")
	ErrUnsupportedVersion = errors.New("vault: unsupported package version")
)

var fileKeyWrapAAD = []byte("filekey-wrap")

// exportPackage is the on-disk form: human-readable JSON, one wrapped
// file key shared by every record.
type exportPackage struct {
	Version        int          `json:"version"`
	WrappedFileKey string       `json:"wrappedFileKeyBase64"`
	Records        []Credential `json:"records"`
}

func exportAAD(id string) []byte { return []byte("export:" + id) }

// Export re-encrypts the given credentials under a fresh ephemeral file
// key and writes a portable package to path. A supplied transfer
// password always wraps the file key, even while a session is open;
// only without one does the wrap fall back to the live session. With
// neither available the export fails before anything is written. The
// package lands atomically; no partial file on error.
func (v *Vault) Export(creds []Credential, path, password string) error {
	err := v.export(creds, path, password)
	v.record(fmt.Sprintf("export %d records to %s", len(creds), filepath.Base(path)), err)
	return err
}

func (v *Vault) export(creds []Credential, path, password string) error {
	fileKey, err := crypto.NewKey()
	if err != nil {
		return err
	}
	defer crypto.Zero(fileKey)

	wrapped, err := v.wrapFileKey(fileKey, password)
	if err != nil {
		return err
	}

	records := make([]Credential, 0, len(creds))
	for _, c := range creds {
		secret := c.Password
		if c.IsEncrypted {
			// Stored ciphertext has to be re-encrypted under the file
			// key, which needs the live session. A failure here aborts
			// the export; a package with a mix of key hierarchies would
			// not be importable.
			secret, err = v.DecryptField(c.Password)
			if err != nil {
				return err
			}
		}
		sealed, err := crypto.Seal(fileKey, []byte(secret), exportAAD(c.ID))
		if err != nil {
			return err
		}
		c.Password = base64.StdEncoding.EncodeToString(sealed)
		c.IsEncrypted = true
		records = append(records, c)
	}

	pkg := exportPackage{
		Version:        PackageVersion,
		WrappedFileKey: wrapped,
		Records:        records,
	}
	b, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

// Import reads a package, unwraps its file key and decrypts every
// record. A file key that fails to unwrap invalidates the whole package;
// an individual record that fails to decrypt is returned with its
// envelope intact and Decrypted=false.
func (v *Vault) Import(path, password string) ([]FieldResult, error) {
	out, err := v.importFile(path, password)
	v.record(fmt.Sprintf("import %d records from %s", len(out), filepath.Base(path)), err)
	return out, err
}

func (v *Vault) importFile(path, password string) ([]FieldResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg exportPackage
	if err := json.Unmarshal(b, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}
	if pkg.Version < 1 || pkg.Version > PackageVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, pkg.Version)
	}

	fileKey, err := v.unwrapFileKey(pkg.WrappedFileKey, password)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(fileKey)

	out := make([]FieldResult, 0, len(pkg.Records))
	for _, rec := range pkg.Records {
		res := FieldResult{Credential: rec}
		if raw, derr := base64.StdEncoding.DecodeString(rec.Password); derr == nil {
			if pt, oerr := crypto.Open(fileKey, raw, exportAAD(rec.ID)); oerr == nil {
				res.Credential.Password = string(pt)
				res.Credential.IsEncrypted = false
				res.Decrypted = true
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// wrapFileKey prefers an explicit password over the live session, so an
// export intended for another machine never silently binds itself to
// this vault's root key.
func (v *Vault) wrapFileKey(fileKey []byte, password string) (string, error) {
	if password != "" {
		salt, err := crypto.NewSalt()
		if err != nil {
			return "", err
		}
		wrapKey := crypto.DeriveKey([]byte(password), salt, crypto.KeySize)
		defer crypto.Zero(wrapKey)
		sealed, err := crypto.Seal(wrapKey, fileKey, fileKeyWrapAAD)
		if err != nil {
			return "", err
		}
		blob := make([]byte, 0, len(salt)+len(sealed))
		blob = append(blob, salt...)
		blob = append(blob, sealed...)
		return base64.StdEncoding.EncodeToString(blob), nil
	}
	if v.sessions.Unlocked() {
		return v.EncryptField(base64.StdEncoding.EncodeToString(fileKey))
	}
	return "", ErrPasswordRequired
}

func (v *Vault) unwrapFileKey(wrapped, password string) ([]byte, error) {
	if password != "" {
		raw, err := base64.StdEncoding.DecodeString(wrapped)
		if err != nil {
			return nil, ErrMalformedPackage
		}
		if len(raw) < crypto.SaltSize+crypto.NonceSize+crypto.TagSize {
			return nil, ErrMalformedPackage
		}
		salt := raw[:crypto.SaltSize]
		wrapKey := crypto.DeriveKey([]byte(password), salt, crypto.KeySize)
		defer crypto.Zero(wrapKey)
		fileKey, err := crypto.Open(wrapKey, raw[crypto.SaltSize:], fileKeyWrapAAD)
		if err != nil {
			return nil, err
		}
		if len(fileKey) != crypto.KeySize {
			return nil, ErrMalformedPackage
		}
		return fileKey, nil
	}
	if v.sessions.Unlocked() {
		encoded, err := v.DecryptField(wrapped)
		if err != nil {
			return nil, err
		}
		fileKey, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(fileKey) != crypto.KeySize {
			return nil, ErrMalformedPackage
		}
		return fileKey, nil
	}
	return nil, ErrPasswordRequired
}

// writeFileAtomic stages the package next to its destination and renames
// it into place, so a failed export never leaves a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
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
