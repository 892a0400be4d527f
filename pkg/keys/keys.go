package keys

import (
	"context"
	"crypto"
	"errors"
	"sync/atomic"
)

var (
	ErrNoKey       = errors.New("keys: no verification key available")
	ErrKeyNotFound = errors.New("keys: key id not found")
)

// Key is the public half of the issuer's signing key. Algorithm, when set,
// pins the only algorithm this key may verify.
type Key struct {
	ID        string
	Algorithm string
	Material  crypto.PublicKey
}

// Supplier returns the key currently trusted for signature verification.
// Callers must ask again for every verification; the answer may change as
// keys rotate.
type Supplier interface {
	CurrentKey(ctx context.Context) (Key, error)
}

type SupplierFunc func(ctx context.Context) (Key, error)

func (f SupplierFunc) CurrentKey(ctx context.Context) (Key, error) {
	return f(ctx)
}

type StaticSupplier struct {
	key Key
}

var _ Supplier = (*StaticSupplier)(nil)

func NewStaticSupplier(key Key) *StaticSupplier {
	return &StaticSupplier{key: key}
}

func (s *StaticSupplier) CurrentKey(ctx context.Context) (Key, error) {
	if s == nil || s.key.Material == nil {
		return Key{}, ErrNoKey
	}
	return s.key, nil
}

// RotatingSupplier lets a key provisioning process swap the active key while
// introspection calls are in flight.
type RotatingSupplier struct {
	current atomic.Pointer[Key]
}

var _ Supplier = (*RotatingSupplier)(nil)

func NewRotatingSupplier(initial Key) *RotatingSupplier {
	s := &RotatingSupplier{}
	s.Rotate(initial)
	return s
}

func (s *RotatingSupplier) Rotate(key Key) {
	k := key
	s.current.Store(&k)
}

func (s *RotatingSupplier) CurrentKey(ctx context.Context) (Key, error) {
	key := s.current.Load()
	if key == nil || key.Material == nil {
		return Key{}, ErrNoKey
	}
	return *key, nil
}
