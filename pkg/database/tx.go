package database

import (
	"context"
	"fmt"
)

// WithTransaction runs fn inside a single Postgres transaction and attaches
// it to ctx via WithConn, so every repository call fn makes becomes part of
// the same transaction. Used by MergeEngine so that "reassign interactions,
// reassign source entities, merge relationships, clear review-queue
// entries, roll up counts" becomes atomic, per spec §5's ordering
// guarantee: partial visibility of a single operation's mutations must
// never be observable. The merge chain entry and the deletion of the
// secondary live in the PersonStore snapshot, outside this transaction,
// and are written after it commits.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := WithConn(ctx, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("operation failed: %w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
