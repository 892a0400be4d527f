package cache

import (
	"context"
	"time"
)

// RevocationCache remembers token fingerprints known to be revoked.
// Revocation is permanent, so a hit can short-circuit a store lookup; a miss
// means nothing and the store must be asked.
type RevocationCache interface {
	SetRevoked(ctx context.Context, key string, ttl time.Duration) error
	IsRevoked(ctx context.Context, key string) (bool, error)
}
