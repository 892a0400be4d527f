package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: record not found")

// TokenRecord is the issuance subsystem's record of a token it handed out.
// Tokens are keyed by fingerprint, never by raw value.
type TokenRecord struct {
	ID           string
	DateAdded    time.Time
	DateModified *time.Time
	TokenHash    string
	ClientID     string
	ExpiresAt    *time.Time
	Revoked      bool
	RevokedAt    *time.Time
}

func (r TokenRecord) IsRevoked() bool {
	return r.Revoked || r.RevokedAt != nil
}

// TokenStore is the read side used during introspection. A missing record
// is reported as ok == false with a nil error; err is reserved for the store
// being unable to answer.
type TokenStore interface {
	LookupToken(ctx context.Context, token string) (TokenRecord, bool, error)
}

// TokenWriter is owned by the issuance and revocation subsystem.
type TokenWriter interface {
	PutToken(ctx context.Context, token string, record TokenRecord) error
	RevokeToken(ctx context.Context, token string, revokedAt time.Time) error
}

type Store interface {
	TokenStore
	TokenWriter
}
