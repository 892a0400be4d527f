package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const fingerprintScheme = "sha256"

type SHA256Fingerprinter struct {
	pepper []byte
}

// NewSHA256Fingerprinter returns a plain SHA-256 fingerprinter when pepper is
// empty and an HMAC-SHA256 one keyed by pepper otherwise. Issuance and
// introspection must agree on the pepper.
func NewSHA256Fingerprinter(pepper []byte) *SHA256Fingerprinter {
	cloned := make([]byte, len(pepper))
	copy(cloned, pepper)
	return &SHA256Fingerprinter{pepper: cloned}
}

func (f *SHA256Fingerprinter) Fingerprint(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	var sum []byte
	if f == nil || len(f.pepper) == 0 {
		digest := sha256.Sum256([]byte(token))
		sum = digest[:]
	} else {
		sum = hmacSHA256(f.pepper, []byte(token))
	}

	return fingerprintScheme + ":" + base64.RawURLEncoding.EncodeToString(sum), nil
}

// Fingerprint uses the unpeppered scheme.
func Fingerprint(token string) (string, error) {
	return (*SHA256Fingerprinter)(nil).Fingerprint(token)
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil)
}
