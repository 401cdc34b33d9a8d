package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBConnKey carries a request-scoped connection so that several repository
// calls can share one connection or transaction.
const DBConnKey contextKey = "db_conn"

// WithConn returns a context carrying the given connection. Repositories
// prefer it over the pool when present.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// ConnFromContext retrieves the request-scoped database connection, or nil
// when the caller should fall back to the pool.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}
