package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
)

// Repository is the offer store. Status writes are conditional on the
// current status so a writer that lost a race changes nothing.
type Repository interface {
	Insert(ctx context.Context, q db.Querier, o Offer) (Offer, error)
	Get(ctx context.Context, q db.Querier, id string) (Offer, error)
	GetForUpdate(ctx context.Context, q db.Querier, id string) (Offer, error)
	// UpdateStatus moves id from one status to another and returns
	// db.ErrStaleWrite when the row is no longer in from.
	UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Offer, error)
	// RejectPending rejects every PENDING offer on propertyID except keepID
	// in one statement.
	RejectPending(ctx context.Context, q db.Querier, propertyID, keepID string, at time.Time) ([]Offer, error)
	// StaleIDs lists PENDING offers created before cutoff.
	StaleIDs(ctx context.Context, q db.Querier, cutoff time.Time) ([]string, error)
	// ExpireIfStale expires id when it is still PENDING and created before
	// cutoff. ok is false when the row no longer qualifies.
	ExpireIfStale(ctx context.Context, q db.Querier, id string, cutoff, at time.Time) (o Offer, ok bool, err error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Offer, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const offerColumns = `id, property_id, buyer_id, price, terms, status, countered_from, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, o Offer) (Offer, error) {
	const insertSQL = `
INSERT INTO offers (id, property_id, buyer_id, price, terms, status, countered_from, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING ` + offerColumns

	out, err := scanOffer(q.QueryRow(ctx, insertSQL,
		o.ID, o.PropertyID, o.BuyerID, o.Price, o.Terms, o.Status, o.CounteredFrom, o.CreatedAt))
	if err != nil {
		return Offer{}, oops.Code("OFFER_CREATE_FAILED").With("property_id", o.PropertyID).Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Offer, error) {
	return r.get(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, q db.Querier, id string) (Offer, error) {
	return r.get(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (Offer, error) {
	o, err := scanOffer(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, oops.Code("OFFER_NOT_FOUND").With("offer_id", id).Wrap(errutil.ErrNotFound)
		}
		return Offer{}, oops.Code("OFFER_LOOKUP_FAILED").With("offer_id", id).Wrap(err)
	}
	return o, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Offer, error) {
	const updateSQL = `
UPDATE offers
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + offerColumns

	o, err := scanOffer(q.QueryRow(ctx, updateSQL, id, from, to, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, oops.Code("OFFER_STALE_WRITE").With("offer_id", id).With("from", from).Wrap(db.ErrStaleWrite)
		}
		if db.IsUniqueViolation(err) {
			return Offer{}, oops.Code("OFFER_ALREADY_ACCEPTED").
				With("offer_id", id).
				With("constraint", db.ConstraintName(err)).
				Wrap(errutil.ErrConflict)
		}
		return Offer{}, oops.Code("OFFER_STATUS_UPDATE_FAILED").With("offer_id", id).With("to", to).Wrap(err)
	}
	return o, nil
}

func (r *PGRepository) RejectPending(ctx context.Context, q db.Querier, propertyID, keepID string, at time.Time) ([]Offer, error) {
	const updateSQL = `
UPDATE offers
SET status = 'REJECTED', updated_at = $3
WHERE property_id = $1 AND id <> $2 AND status = 'PENDING'
RETURNING ` + offerColumns

	rows, err := q.Query(ctx, updateSQL, propertyID, keepID, at)
	if err != nil {
		return nil, oops.Code("OFFER_REJECT_FAILED").With("property_id", propertyID).Wrap(err)
	}
	out, err := collectOffers(rows)
	if err != nil {
		return nil, oops.Code("OFFER_REJECT_FAILED").With("property_id", propertyID).Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) StaleIDs(ctx context.Context, q db.Querier, cutoff time.Time) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT id FROM offers WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, oops.Code("OFFER_SWEEP_SCAN_FAILED").Wrap(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.Code("OFFER_SWEEP_SCAN_FAILED").Wrap(err)
	}
	return ids, nil
}

func (r *PGRepository) ExpireIfStale(ctx context.Context, q db.Querier, id string, cutoff, at time.Time) (Offer, bool, error) {
	const updateSQL = `
UPDATE offers
SET status = 'EXPIRED', updated_at = $3
WHERE id = $1 AND status = 'PENDING' AND created_at < $2
RETURNING ` + offerColumns

	o, err := scanOffer(q.QueryRow(ctx, updateSQL, id, cutoff, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, false, nil
		}
		return Offer{}, false, oops.Code("OFFER_EXPIRE_FAILED").With("offer_id", id).Wrap(err)
	}
	return o, true, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filters Filters) ([]Offer, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.PropertyID != "" {
		add("property_id = $%d", filters.PropertyID)
	}
	if filters.BuyerID != "" {
		add("buyer_id = $%d", filters.BuyerID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}

	listSQL := `SELECT ` + offerColumns + ` FROM offers`
	if len(where) > 0 {
		listSQL += " WHERE " + strings.Join(where, " AND ")
	}
	listSQL += " ORDER BY created_at DESC, id"

	rows, err := q.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, oops.Code("OFFER_LIST_FAILED").Wrap(err)
	}
	out, err := collectOffers(rows)
	if err != nil {
		return nil, oops.Code("OFFER_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

func collectOffers(rows pgx.Rows) ([]Offer, error) {
	defer rows.Close()
	out := []Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(
		&o.ID,
		&o.PropertyID,
		&o.BuyerID,
		&o.Price,
		&o.Terms,
		&o.Status,
		&o.CounteredFrom,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Offer{}, err
	}
	return o, nil
}
