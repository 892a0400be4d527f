// Package introspection implements OAuth 2.0 Token Introspection (RFC 7662)
// for self-contained signed access tokens. A token is reported active only
// when its signature, claims and revocation status all check out; every
// other outcome is the bare {"active":false} response.
package introspection

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	ocache "github.com/porthorian/openauth-introspection/pkg/cache"
	ocrypto "github.com/porthorian/openauth-introspection/pkg/crypto"
	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/keys"
	"github.com/porthorian/openauth-introspection/pkg/metrics"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

type Config struct {
	// Issuer is this authorization server's identifier. Tokens must carry
	// it verbatim in iss.
	Issuer string
	// TrustedAlgorithms defaults to RS256. "none" is always dropped.
	TrustedAlgorithms []string
	// ExpectedTypes lists the accepted typ header values, compared case
	// insensitively. Defaults to JWT.
	ExpectedTypes []string
	// Audiences are accepted in addition to the introspecting client's ID.
	Audiences []string
	Leeway    time.Duration

	LookupTimeout      time.Duration
	RevocationCacheTTL time.Duration

	KeySupply       keys.Supplier
	TokenStore      storage.TokenStore
	RevocationCache ocache.RevocationCache
	Fingerprinter   ocrypto.Fingerprinter
	Metrics         metrics.Recorder
	Logger          logr.Logger
	Clock           func() time.Time
	Runtime         RuntimeConfig
}

type Client struct {
	introspector  oauth.Introspector
	logger        logr.Logger
	closeResource func() error
}

var _ oauth.Introspector = (*Client)(nil)

// New wraps a caller supplied introspector with the resources described by
// config.
func New(introspector oauth.Introspector, config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	if introspector == nil {
		_ = closeResource()
		return nil, oerrors.ErrMissingIntrospector
	}

	return &Client{
		introspector:  introspector,
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

func NewDefault(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	if err := resolvedConfig.validate(); err != nil {
		_ = closeResource()
		return nil, err
	}

	return &Client{
		introspector:  NewService(resolvedConfig),
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

// Introspect never fails; a closed or nil client reports every token
// inactive.
func (c *Client) Introspect(ctx context.Context, request oauth.IntrospectionRequest) oauth.IntrospectionResponse {
	if c == nil || c.introspector == nil {
		return oauth.Inactive()
	}
	return c.introspector.Introspect(ctx, request)
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.introspector = nil
	return nil
}

func (c Config) validate() error {
	if c.KeySupply == nil {
		return oerrors.ErrMissingKeySupply
	}
	if c.Issuer == "" {
		return oerrors.ErrMissingIssuer
	}
	return nil
}
