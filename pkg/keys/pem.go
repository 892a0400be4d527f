package keys

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidPEM = errors.New("keys: no usable public key in PEM data")

// PEMFileSupplier reads the key file on every call so a key replaced on disk
// is picked up by the next verification.
type PEMFileSupplier struct {
	Path      string
	KeyID     string
	Algorithm string
}

var _ Supplier = (*PEMFileSupplier)(nil)

func (s *PEMFileSupplier) CurrentKey(ctx context.Context) (Key, error) {
	if s == nil || s.Path == "" {
		return Key{}, ErrNoKey
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Key{}, fmt.Errorf("keys: read %s: %w", s.Path, err)
	}

	material, err := ParsePublicKeyPEM(data)
	if err != nil {
		return Key{}, fmt.Errorf("keys: parse %s: %w", s.Path, err)
	}

	return Key{
		ID:        s.KeyID,
		Algorithm: s.Algorithm,
		Material:  material,
	}, nil
}

// ParsePublicKeyPEM tries RSA, then ECDSA, then Ed25519. PKIX and
// certificate blocks are accepted for every key type, PKCS#1 for RSA only.
func ParsePublicKeyPEM(data []byte) (any, error) {
	rsaKey, rsaErr := jwt.ParseRSAPublicKeyFromPEM(data)
	if rsaErr == nil {
		return rsaKey, nil
	}

	ecKey, ecErr := jwt.ParseECPublicKeyFromPEM(data)
	if ecErr == nil {
		return ecKey, nil
	}

	edKey, edErr := jwt.ParseEdPublicKeyFromPEM(data)
	if edErr == nil {
		return edKey, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidPEM, errors.Join(rsaErr, ecErr, edErr))
}
