// Package revocation cross-checks a token against the issuer's token store.
// It fails closed: a token the store cannot vouch for is never active.
package revocation

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/openauth-introspection/pkg/cache"
	ocrypto "github.com/porthorian/openauth-introspection/pkg/crypto"
	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

const (
	DefaultLookupTimeout = 2 * time.Second
	DefaultCacheTTL      = 5 * time.Minute
)

type Checker struct {
	store         storage.TokenStore
	cache         cache.RevocationCache
	fingerprinter ocrypto.Fingerprinter
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	logger        logr.Logger
}

type Option func(*Checker)

// WithCache enables the revoked-token cache. Only revocations are cached.
func WithCache(revocations cache.RevocationCache, ttl time.Duration) Option {
	return func(c *Checker) {
		c.cache = revocations
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

func WithFingerprinter(fingerprinter ocrypto.Fingerprinter) Option {
	return func(c *Checker) {
		if fingerprinter != nil {
			c.fingerprinter = fingerprinter
		}
	}
}

func WithLookupTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		if timeout > 0 {
			c.lookupTimeout = timeout
		}
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

func NewChecker(store storage.TokenStore, opts ...Option) *Checker {
	c := &Checker{
		store:         store,
		fingerprinter: ocrypto.NewSHA256Fingerprinter(nil),
		cacheTTL:      DefaultCacheTTL,
		lookupTimeout: DefaultLookupTimeout,
		logger:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns nil only when the store holds an unrevoked record for
// token. The lookup is attempted once.
func (c *Checker) Check(ctx context.Context, token string) error {
	if c == nil || c.store == nil {
		return oerrors.New(oerrors.CodeStorageUnavailable, "token store is not configured")
	}

	cacheKey := c.cacheKey(token)
	if cacheKey != "" {
		revoked, err := c.cache.IsRevoked(ctx, cacheKey)
		if err != nil {
			c.logger.V(1).Info("revocation cache read failed, consulting store", "error", err.Error())
		} else if revoked {
			return oerrors.New(oerrors.CodeRevoked, "token is revoked")
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	record, ok, err := c.store.LookupToken(lookupCtx, token)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "token store lookup failed", err)
	}
	if !ok {
		return oerrors.New(oerrors.CodeNotFound, "token is not known to the issuer")
	}

	if record.IsRevoked() {
		if cacheKey != "" {
			if err := c.cache.SetRevoked(ctx, cacheKey, c.cacheTTL); err != nil {
				c.logger.V(1).Info("revocation cache write failed", "error", err.Error())
			}
		}
		return oerrors.New(oerrors.CodeRevoked, "token is revoked")
	}

	return nil
}

func (c *Checker) cacheKey(token string) string {
	if c.cache == nil {
		return ""
	}
	key, err := c.fingerprinter.Fingerprint(token)
	if err != nil {
		return ""
	}
	return key
}
