package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TxRunner executes a function inside a single database transaction. Every
// reservation attempt, confirmation and sweep iteration is one such unit of
// work: either all slot transitions inside it apply, or none do.
type TxRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewTxRunner builds a runner. lockTimeout bounds each row-lock wait inside
// the transaction so contended reservation attempts fail fast instead of
// queueing unboundedly.
func NewTxRunner(db *sqlx.DB, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{db: db, lockTimeout: lockTimeout}
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (r *TxRunner) WithTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if r.lockTimeout > 0 {
		// SET LOCAL scopes the timeout to this transaction only.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
