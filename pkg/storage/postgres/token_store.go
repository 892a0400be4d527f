package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

const (
	lookupTokenQuery = `
SELECT
  id::text, date_added, date_modified, token_hash, client_id, expires_at, revoked, revoked_at
FROM openauth.token
WHERE token_hash = $1
`

	putTokenQuery = `
INSERT INTO openauth.token AS existing (
  id, date_added, date_modified, token_hash, client_id, expires_at, revoked, revoked_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (token_hash) DO UPDATE
SET
  date_modified = EXCLUDED.date_modified,
  client_id = EXCLUDED.client_id,
  expires_at = EXCLUDED.expires_at,
  revoked = existing.revoked OR EXCLUDED.revoked,
  revoked_at = COALESCE(existing.revoked_at, EXCLUDED.revoked_at)
`

	revokeTokenQuery = `
UPDATE openauth.token
SET
  revoked = TRUE,
  revoked_at = $2,
  date_modified = $3
WHERE token_hash = $1
`
)

func (a *Adapter) LookupToken(ctx context.Context, token string) (storage.TokenRecord, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.TokenRecord{}, false, err
	}

	hash, err := a.fingerprinter.Fingerprint(token)
	if err != nil {
		return storage.TokenRecord{}, false, nil
	}

	stmt, release := a.stmt(ctx, a.stmts.lookupToken)
	defer release()

	record, err := scanToken(stmt.QueryRowContext(ctx, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TokenRecord{}, false, nil
	}
	if err != nil {
		return storage.TokenRecord{}, false, err
	}
	return record, true, nil
}

func (a *Adapter) PutToken(ctx context.Context, token string, record storage.TokenRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	hash, err := a.fingerprinter.Fingerprint(token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = now
	}

	stmt, release := a.stmt(ctx, a.stmts.putToken)
	defer release()

	_, err = stmt.ExecContext(
		ctx,
		id,
		dateAdded,
		now,
		hash,
		record.ClientID,
		record.ExpiresAt,
		record.IsRevoked(),
		record.RevokedAt,
	)
	return err
}

func (a *Adapter) RevokeToken(ctx context.Context, token string, revokedAt time.Time) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	hash, err := a.fingerprinter.Fingerprint(token)
	if err != nil {
		return err
	}

	stmt, release := a.stmt(ctx, a.stmts.revokeToken)
	defer release()

	result, err := stmt.ExecContext(ctx, hash, revokedAt.UTC(), time.Now().UTC())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanToken(s scanner) (storage.TokenRecord, error) {
	var (
		record       storage.TokenRecord
		dateModified sql.NullTime
		expiresAt    sql.NullTime
		revokedAt    sql.NullTime
	)

	if err := s.Scan(
		&record.ID,
		&record.DateAdded,
		&dateModified,
		&record.TokenHash,
		&record.ClientID,
		&expiresAt,
		&record.Revoked,
		&revokedAt,
	); err != nil {
		return storage.TokenRecord{}, err
	}

	record.DateAdded = record.DateAdded.UTC()
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		record.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		record.RevokedAt = &t
	}

	return record, nil
}
