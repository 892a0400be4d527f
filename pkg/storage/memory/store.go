package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	ocrypto "github.com/porthorian/openauth-introspection/pkg/crypto"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

type Store struct {
	mu            sync.RWMutex
	fingerprinter ocrypto.Fingerprinter
	records       map[string]storage.TokenRecord
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return NewStoreWithFingerprinter(ocrypto.NewSHA256Fingerprinter(nil))
}

func NewStoreWithFingerprinter(fingerprinter ocrypto.Fingerprinter) *Store {
	if fingerprinter == nil {
		fingerprinter = ocrypto.NewSHA256Fingerprinter(nil)
	}
	return &Store{
		fingerprinter: fingerprinter,
		records:       map[string]storage.TokenRecord{},
	}
}

func (s *Store) LookupToken(ctx context.Context, token string) (storage.TokenRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.TokenRecord{}, false, err
	}

	hash, err := s.fingerprinter.Fingerprint(token)
	if err != nil {
		return storage.TokenRecord{}, false, nil
	}

	s.mu.RLock()
	record, ok := s.records[hash]
	s.mu.RUnlock()
	if !ok {
		return storage.TokenRecord{}, false, nil
	}

	return cloneRecord(record), true, nil
}

func (s *Store) PutToken(ctx context.Context, token string, record storage.TokenRecord) error {
	hash, err := s.fingerprinter.Fingerprint(token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record.TokenHash = hash
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = now
	}
	record.DateModified = &now

	s.mu.Lock()
	defer s.mu.Unlock()

	// Revocation is terminal; a re-put never clears it.
	if existing, ok := s.records[hash]; ok && existing.IsRevoked() {
		record.Revoked = true
		if existing.RevokedAt != nil {
			record.RevokedAt = existing.RevokedAt
		}
	}
	s.records[hash] = cloneRecord(record)
	return nil
}

func (s *Store) RevokeToken(ctx context.Context, token string, revokedAt time.Time) error {
	hash, err := s.fingerprinter.Fingerprint(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[hash]
	if !ok {
		return storage.ErrNotFound
	}

	at := revokedAt.UTC()
	now := time.Now().UTC()
	record.Revoked = true
	record.RevokedAt = &at
	record.DateModified = &now
	s.records[hash] = record
	return nil
}

func cloneRecord(record storage.TokenRecord) storage.TokenRecord {
	record.DateModified = cloneTime(record.DateModified)
	record.ExpiresAt = cloneTime(record.ExpiresAt)
	record.RevokedAt = cloneTime(record.RevokedAt)
	return record
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
