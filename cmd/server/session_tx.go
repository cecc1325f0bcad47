package main

import (
	"context"
	"database/sql"
	"time"

	"bav/internal/bav/session"
	"bav/internal/bav/store"
	dErrors "bav/pkg/domain-errors"
)

const defaultSessionTxTimeout = 5 * time.Second

// sessionPostgresTx runs session creation in one Postgres transaction.
type sessionPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newSessionPostgresTx(db *sql.DB) *sessionPostgresTx {
	return &sessionPostgresTx{db: db}
}

func (t *sessionPostgresTx) RunInTx(ctx context.Context, fn func(store session.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSessionTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(store.NewPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}
