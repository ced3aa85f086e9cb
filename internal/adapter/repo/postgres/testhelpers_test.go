package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// execCall records one Exec invocation.
type execCall struct {
	sql  string
	args []any
}

// poolStub implements postgres.PgxPool for unit tests. Claim paths need a
// real transaction and are covered by the container-backed integration test.
type poolStub struct {
	execErr   error
	execCalls []execCall
	row       rowStub
	batch     *batchResultsStub
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execCalls = append(p.execCalls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("query not configured")
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("tx not configured")
}

func (p *poolStub) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	if p.batch == nil {
		p.batch = &batchResultsStub{}
	}
	p.batch.queued += b.Len()
	return p.batch
}

// batchResultsStub implements pgx.BatchResults.
type batchResultsStub struct {
	queued  int
	execs   int
	execErr error
	closed  bool
}

func (b *batchResultsStub) Exec() (pgconn.CommandTag, error) {
	b.execs++
	return pgconn.CommandTag{}, b.execErr
}

func (b *batchResultsStub) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }

func (b *batchResultsStub) QueryRow() pgx.Row {
	return rowStub{scan: func(_ ...any) error { return errors.New("not implemented") }}
}

func (b *batchResultsStub) Close() error {
	b.closed = true
	return nil
}
