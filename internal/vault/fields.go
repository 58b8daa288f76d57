package vault

import (
	"encoding/base64"
	"errors"

	"github.com/potetofly25/KeyManager2/internal/crypto"
)

// EncryptField seals a UTF-8 string into a self-contained envelope
// (nonce||ciphertext||tag||mac, base64-encoded) under sub-keys expanded
// from the session's root key. Requires an unlocked session.
func (v *Vault) EncryptField(plaintext string) (string, error) {
	encKey, macKey, err := v.subKeys()
	if err != nil {
		return "", err
	}
	defer crypto.Zero(encKey)
	defer crypto.Zero(macKey)

	env, err := crypto.SealEnvelope(encKey, macKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(env), nil
}

// DecryptField reverses EncryptField. Any defect in the envelope (bad
// encoding, truncation, MAC or tag mismatch) comes back as the one
// authentication error, so callers and attackers cannot tell the layers
// apart.
func (v *Vault) DecryptField(envelope string) (string, error) {
	encKey, macKey, err := v.subKeys()
	if err != nil {
		return "", err
	}
	defer crypto.Zero(encKey)
	defer crypto.Zero(macKey)

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", crypto.ErrAuthentication
	}
	pt, err := crypto.OpenEnvelope(encKey, macKey, raw)
	if err != nil {
		if errors.Is(err, crypto.ErrCiphertextTooShort) {
			return "", crypto.ErrAuthentication
		}
		return "", err
	}
	return string(pt), nil
}

// DecryptAll decrypts the password field of every credential marked
// encrypted. A record that fails keeps its ciphertext as stored; the
// listing itself never aborts. Requires an unlocked session.
func (v *Vault) DecryptAll(creds []Credential) ([]FieldResult, error) {
	if !v.sessions.Unlocked() {
		return nil, ErrNotUnlocked
	}
	out := make([]FieldResult, 0, len(creds))
	for _, c := range creds {
		res := FieldResult{Credential: c}
		if !c.IsEncrypted {
			res.Decrypted = true
			out = append(out, res)
			continue
		}
		if pt, err := v.DecryptField(c.Password); err == nil {
			res.Credential.Password = pt
			res.Credential.IsEncrypted = false
			res.Decrypted = true
		}
		out = append(out, res)
	}
	return out, nil
}

func (v *Vault) subKeys() (encKey, macKey []byte, err error) {
	root, err := v.sessions.RootKey()
	if err != nil {
		return nil, nil, err
	}
	defer crypto.Zero(root)
	return crypto.ExpandSubKeys(root)
}
