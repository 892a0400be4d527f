package keys

import (
	"context"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKSFileSupplier reads a JWK Set from disk on every call. With KeyID set
// the matching key is used; otherwise the set must hold exactly one key.
type JWKSFileSupplier struct {
	Path  string
	KeyID string
}

var _ Supplier = (*JWKSFileSupplier)(nil)

func (s *JWKSFileSupplier) CurrentKey(ctx context.Context) (Key, error) {
	if s == nil || s.Path == "" {
		return Key{}, ErrNoKey
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Key{}, fmt.Errorf("keys: read %s: %w", s.Path, err)
	}

	return KeyFromJWKS(data, s.KeyID)
}

func KeyFromJWKS(data []byte, keyID string) (Key, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return Key{}, fmt.Errorf("keys: parse jwks: %w", err)
	}

	selected, err := selectJWK(set, keyID)
	if err != nil {
		return Key{}, err
	}

	public, err := jwk.PublicKeyOf(selected)
	if err != nil {
		return Key{}, fmt.Errorf("keys: derive public key: %w", err)
	}

	var material any
	if err := jwk.Export(public, &material); err != nil {
		return Key{}, fmt.Errorf("keys: export public key: %w", err)
	}

	key := Key{Material: material}
	if kid, ok := selected.KeyID(); ok {
		key.ID = kid
	}
	if alg, ok := selected.Algorithm(); ok {
		key.Algorithm = alg.String()
	}
	return key, nil
}

func selectJWK(set jwk.Set, keyID string) (jwk.Key, error) {
	if keyID == "" {
		if set.Len() != 1 {
			return nil, fmt.Errorf("keys: jwks holds %d keys and no key id is configured: %w", set.Len(), ErrNoKey)
		}
		key, ok := set.Key(0)
		if !ok {
			return nil, ErrNoKey
		}
		return key, nil
	}

	key, ok := set.LookupKeyID(keyID)
	if !ok {
		return nil, fmt.Errorf("keys: %q: %w", keyID, ErrKeyNotFound)
	}
	return key, nil
}
