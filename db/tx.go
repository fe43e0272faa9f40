package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"propertyhub/errutil"
	"propertyhub/metrics"
)

const defaultRetryDelay = 20 * time.Millisecond

// TxRunner is the unit-of-work surface services depend on.
type TxRunner interface {
	InTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Transactor runs units of work. A unit that loses a race (serialization
// failure, deadlock, lock timeout or stale conditional write) is run once
// more; a second loss surfaces as errutil.ErrConflict.
type Transactor struct {
	pool       TxBeginner
	retryDelay time.Duration
}

// NewTransactor wraps pool.
func NewTransactor(pool TxBeginner) *Transactor {
	return &Transactor{pool: pool, retryDelay: defaultRetryDelay}
}

// WithRetryDelay overrides the pause before the single retry.
func (t *Transactor) WithRetryDelay(d time.Duration) *Transactor {
	if d > 0 {
		t.retryDelay = d
	}
	return t
}

// InTx runs fn inside a transaction and commits when fn returns nil.
// op names the operation in errors and conflict metrics.
func (t *Transactor) InTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(t.retryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := t.once(ctx, op, fn)
		if err != nil && IsContention(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if IsContention(err) {
		metrics.RecordConflict(op)
		return oops.Code("TX_CONFLICT").
			With("operation", op).
			With("cause", err.Error()).
			Wrap(errutil.ErrConflict)
	}
	if errors.Is(err, errutil.ErrConflict) {
		metrics.RecordConflict(op)
	}
	return err
}

func (t *Transactor) once(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("operation", op).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").With("operation", op).Wrap(err)
	}
	return nil
}
