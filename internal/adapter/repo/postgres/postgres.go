// Package postgres provides PostgreSQL adapters for the task, result, and
// real-time-sample stores.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the minimal pool surface the repositories need; *pgxpool.Pool
// satisfies it and tests substitute fakes.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// IsConnErr reports whether err looks like a lost or refused database
// connection. The pollers use it to pick the longer back-off.
func IsConnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"lost connection",
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected eof",
		"closed pool",
		"conn closed",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
