package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porthorian/openauth-introspection/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
)

type Adapter struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

var _ cache.RevocationCache = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		revoked: map[string]time.Time{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adapter) SetRevoked(ctx context.Context, key string, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.mu.Lock()
	a.revoked[key] = a.now().Add(ttl)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) IsRevoked(ctx context.Context, key string) (bool, error) {
	now := a.now()

	a.mu.RLock()
	expires, ok := a.revoked[key]
	a.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if now.After(expires) {
		a.mu.Lock()
		if current, still := a.revoked[key]; still && now.After(current) {
			delete(a.revoked, key)
		}
		a.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory cache: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
