// Package dbtest provides in-memory stand-ins for pgx pools and transactions
// so services can be tested without a database.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakePool hands out FakeTx values and remembers them in order.
type FakePool struct {
	mu sync.Mutex

	// BeginErr is returned by every Begin call when set.
	BeginErr error
	// CommitErrs are returned by successive commits; nil entries succeed.
	CommitErrs []error

	Txs []*FakeTx
}

// Begin starts a fake transaction.
func (f *FakePool) Begin(context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	tx := &FakeTx{}
	if len(f.CommitErrs) > 0 {
		tx.commitErr = f.CommitErrs[0]
		f.CommitErrs = f.CommitErrs[1:]
	}
	f.Txs = append(f.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (f *FakePool) Last() *FakeTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Txs) == 0 {
		return nil
	}
	return f.Txs[len(f.Txs)-1]
}

// Count returns how many transactions were begun.
func (f *FakePool) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Txs)
}

func (f *FakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *FakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *FakePool) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

// FakeTx records whether it was committed or rolled back.
type FakeTx struct {
	Rolled    bool
	Committed bool
	commitErr error
}

func (f *FakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("FakeTx does not support nested transactions")
}

func (f *FakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.Committed = true
	return nil
}

func (f *FakeTx) Rollback(context.Context) error {
	if !f.Committed {
		f.Rolled = true
	}
	return nil
}

func (f *FakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *FakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *FakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *FakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *FakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *FakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *FakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *FakeTx) Conn() *pgx.Conn {
	return nil
}
