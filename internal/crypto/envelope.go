package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	MACSize = sha256.Size // 32 bytes

	envelopeMinSize = NonceSize + TagSize + MACSize
)

// Purpose labels for root-key expansion. Distinct labels keep the
// encryption and integrity keys independent of each other.
const (
	subKeyLabelEnc = "enc"
	subKeyLabelMAC = "hmac"
)

// ExpandSubKeys derives the field-encryption key and the integrity key
// from the root key with HKDF-SHA256 expansion.
func ExpandSubKeys(rootKey []byte) (encKey, macKey []byte, err error) {
	if encKey, err = expandSubKey(rootKey, subKeyLabelEnc); err != nil {
		return nil, nil, err
	}
	if macKey, err = expandSubKey(rootKey, subKeyLabelMAC); err != nil {
		Zero(encKey)
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func expandSubKey(rootKey []byte, label string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, rootKey, []byte(label)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// SealEnvelope seals plaintext under encKey and appends an HMAC-SHA256
// over the AEAD output under macKey. The MAC is a second integrity layer
// on top of the GCM tag. Layout: [nonce||ciphertext||tag||mac].
func SealEnvelope(encKey, macKey, plaintext []byte) ([]byte, error) {
	body, err := Seal(encKey, plaintext, nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+MACSize)
	out = append(out, body...)
	out = append(out, envelopeMAC(macKey, body)...)
	return out, nil
}

// OpenEnvelope verifies the outer MAC in constant time before the AEAD
// open step runs. Both failure modes report the same ErrAuthentication so
// a caller (or attacker) cannot tell which layer rejected the envelope.
func OpenEnvelope(encKey, macKey, envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeMinSize {
		return nil, ErrCiphertextTooShort
	}
	macStart := len(envelope) - MACSize
	body := envelope[:macStart]
	tag := envelope[macStart:]
	if subtle.ConstantTimeCompare(envelopeMAC(macKey, body), tag) != 1 {
		return nil, ErrAuthentication
	}
	return Open(encKey, body, nil)
}

func envelopeMAC(macKey, body []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	return mac.Sum(nil)
}
