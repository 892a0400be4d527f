package testsuite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

type PersistenceSuite interface {
	Run(ctx context.Context) error
}

// TokenStoreSuite checks the lookup and revocation contract every
// storage.Store backend must honour. Each run uses fresh random tokens so it
// can target a shared database.
type TokenStoreSuite struct {
	Store storage.Store
}

var _ PersistenceSuite = TokenStoreSuite{}

func (s TokenStoreSuite) Run(ctx context.Context) error {
	if s.Store == nil {
		return errors.New("testsuite: store is nil")
	}

	checks := []struct {
		name string
		fn   func(context.Context, storage.Store) error
	}{
		{name: "unknown token", fn: checkUnknownToken},
		{name: "put and lookup", fn: checkPutAndLookup},
		{name: "revoke", fn: checkRevoke},
		{name: "revoke unknown", fn: checkRevokeUnknown},
		{name: "put replaces", fn: checkPutReplaces},
		{name: "put keeps revocation", fn: checkPutKeepsRevocation},
	}

	for _, check := range checks {
		if err := check.fn(ctx, s.Store); err != nil {
			return fmt.Errorf("testsuite: %s: %w", check.name, err)
		}
	}
	return nil
}

func randomToken() string {
	return "tok-" + uuid.NewString()
}

func checkUnknownToken(ctx context.Context, store storage.Store) error {
	_, ok, err := store.LookupToken(ctx, randomToken())
	if err != nil {
		return err
	}
	if ok {
		return errors.New("unknown token reported as found")
	}
	return nil
}

func checkPutAndLookup(ctx context.Context, store storage.Store) error {
	token := randomToken()
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "client1", ExpiresAt: &expiresAt}); err != nil {
		return err
	}

	record, ok, err := store.LookupToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("stored token not found")
	}
	if record.ID == "" || record.TokenHash == "" {
		return errors.New("stored record is missing id or token hash")
	}
	if record.TokenHash == token {
		return errors.New("raw token stored as hash")
	}
	if record.ClientID != "client1" {
		return fmt.Errorf("client id = %q, want client1", record.ClientID)
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(expiresAt) {
		return fmt.Errorf("expires at = %v, want %v", record.ExpiresAt, expiresAt)
	}
	if record.IsRevoked() {
		return errors.New("fresh token reported as revoked")
	}
	return nil
}

func checkRevoke(ctx context.Context, store storage.Store) error {
	token := randomToken()
	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "client1"}); err != nil {
		return err
	}

	revokedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.RevokeToken(ctx, token, revokedAt); err != nil {
		return err
	}

	record, ok, err := store.LookupToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("revoked token not found")
	}
	if !record.Revoked || record.RevokedAt == nil || !record.RevokedAt.Equal(revokedAt) {
		return fmt.Errorf("revocation not recorded: revoked=%v revoked_at=%v", record.Revoked, record.RevokedAt)
	}
	return nil
}

func checkRevokeUnknown(ctx context.Context, store storage.Store) error {
	err := store.RevokeToken(ctx, randomToken(), time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("expected storage.ErrNotFound, got %v", err)
	}
	return nil
}

func checkPutReplaces(ctx context.Context, store storage.Store) error {
	token := randomToken()
	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "first"}); err != nil {
		return err
	}
	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "second"}); err != nil {
		return err
	}

	record, ok, err := store.LookupToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok || record.ClientID != "second" {
		return fmt.Errorf("expected replaced record, got ok=%v client=%q", ok, record.ClientID)
	}
	return nil
}

func checkPutKeepsRevocation(ctx context.Context, store storage.Store) error {
	token := randomToken()
	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "client1"}); err != nil {
		return err
	}

	revokedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.RevokeToken(ctx, token, revokedAt); err != nil {
		return err
	}
	if err := store.PutToken(ctx, token, storage.TokenRecord{ClientID: "client2"}); err != nil {
		return err
	}

	record, ok, err := store.LookupToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("re-put token not found")
	}
	if !record.Revoked || record.RevokedAt == nil || !record.RevokedAt.Equal(revokedAt) {
		return fmt.Errorf("re-put cleared revocation: revoked=%v revoked_at=%v", record.Revoked, record.RevokedAt)
	}
	if record.ClientID != "client2" {
		return fmt.Errorf("client id = %q, want client2", record.ClientID)
	}
	return nil
}
