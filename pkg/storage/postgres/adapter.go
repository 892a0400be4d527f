package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ocrypto "github.com/porthorian/openauth-introspection/pkg/crypto"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

type Adapter struct {
	db *sql.DB
	tx *sql.Tx

	fingerprinter ocrypto.Fingerprinter
	stmts         preparedStatements
}

type preparedStatements struct {
	lookupToken *sql.Stmt
	putToken    *sql.Stmt
	revokeToken *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "lookup token",
		query: lookupTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.lookupToken = stmt
		},
	},
	{
		label: "put token",
		query: putTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putToken = stmt
		},
	},
	{
		label: "revoke token",
		query: revokeTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeToken = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.Store = (*Adapter)(nil)

type Option func(*Adapter)

// WithFingerprinter overrides the token fingerprint scheme. It must match
// the one used when tokens were written.
func WithFingerprinter(fingerprinter ocrypto.Fingerprinter) Option {
	return func(a *Adapter) {
		if fingerprinter != nil {
			a.fingerprinter = fingerprinter
		}
	}
}

func NewAdapter(db *sql.DB, opts ...Option) (*Adapter, error) {
	adapter := &Adapter{
		db:            db,
		fingerprinter: ocrypto.NewSHA256Fingerprinter(nil),
	}
	for _, opt := range opts {
		opt(adapter)
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.lookupToken,
		a.stmts.putToken,
		a.stmts.revokeToken,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.lookupToken == nil || a.stmts.putToken == nil || a.stmts.revokeToken == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

// stmt binds a prepared statement to the adapter's transaction when there
// is one. The returned func releases the bound copy.
func (a *Adapter) stmt(ctx context.Context, prepared *sql.Stmt) (*sql.Stmt, func()) {
	if a.tx == nil {
		return prepared, func() {}
	}
	bound := a.tx.StmtContext(ctx, prepared)
	return bound, func() { _ = bound.Close() }
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
