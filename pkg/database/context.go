package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool / pgx.Tx that repositories need.
// Depending on this interface instead of a concrete pool lets every
// repository run equally well against the pool or against a transaction
// started by database.WithTransaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type connKey struct{}

// WithConn attaches a Querier (pool or in-flight transaction) to ctx.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, connKey{}, q)
}

// Conn retrieves the Querier attached to ctx. Repositories call this first;
// callers that never wrapped a transaction rely on the pool having been
// attached once at startup via WithConn(ctx, db).
func Conn(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(connKey{}).(Querier)
	return q, ok
}
