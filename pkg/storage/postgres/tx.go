package postgres

import (
	"context"
	"errors"

	"github.com/porthorian/openauth-introspection/pkg/storage"
)

var errNilTxCallback = errors.New("postgres adapter: transaction callback is nil")

// WithTokenTx runs fn against a transaction-bound view of the adapter, for
// issuance flows that revoke or replace several tokens at once.
func (a *Adapter) WithTokenTx(ctx context.Context, fn func(store storage.Store) error) error {
	if fn == nil {
		return errNilTxCallback
	}

	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txAdapter := &Adapter{
		db:            a.db,
		tx:            tx,
		fingerprinter: a.fingerprinter,
		stmts:         a.stmts,
	}

	if err := fn(txAdapter); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}
