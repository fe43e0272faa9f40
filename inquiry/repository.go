package inquiry

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

// Repository is the inquiry store. Inquiries are never row locked; every
// status write is conditional on the status the caller read.
type Repository interface {
	Insert(ctx context.Context, q db.Querier, in Inquiry) (Inquiry, error)
	Get(ctx context.Context, q db.Querier, id string) (Inquiry, error)
	// UpdateStatus returns db.ErrStaleWrite when the row is no longer in from.
	UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Inquiry, error)
	// ResolvedBefore lists RESOLVED inquiries last updated before cutoff.
	ResolvedBefore(ctx context.Context, q db.Querier, cutoff time.Time) ([]string, error)
	// ArchiveIfResolvedBefore archives id when it is still RESOLVED and was
	// last updated before cutoff. ok is false when the row no longer qualifies.
	ArchiveIfResolvedBefore(ctx context.Context, q db.Querier, id string, cutoff, at time.Time) (in Inquiry, ok bool, err error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Inquiry, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const inquiryColumns = `id, property_id, sender_id, message, status, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, in Inquiry) (Inquiry, error) {
	const insertSQL = `
INSERT INTO inquiries (id, property_id, sender_id, message, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING ` + inquiryColumns

	out, err := scanInquiry(q.QueryRow(ctx, insertSQL, in.ID, in.PropertyID, in.SenderID, in.Message, in.Status, in.CreatedAt))
	if err != nil {
		return Inquiry{}, oops.Code("INQUIRY_CREATE_FAILED").With("property_id", in.PropertyID).Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Inquiry, error) {
	in, err := scanInquiry(q.QueryRow(ctx, `SELECT `+inquiryColumns+` FROM inquiries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inquiry{}, notFound(id)
		}
		return Inquiry{}, oops.Code("INQUIRY_LOOKUP_FAILED").With("inquiry_id", id).Wrap(err)
	}
	return in, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Inquiry, error) {
	const updateSQL = `
UPDATE inquiries
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + inquiryColumns

	in, err := scanInquiry(q.QueryRow(ctx, updateSQL, id, from, to, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inquiry{}, oops.Code("INQUIRY_STALE_WRITE").With("inquiry_id", id).With("from", from).Wrap(db.ErrStaleWrite)
		}
		return Inquiry{}, oops.Code("INQUIRY_STATUS_UPDATE_FAILED").With("inquiry_id", id).With("to", to).Wrap(err)
	}
	return in, nil
}

func (r *PGRepository) ResolvedBefore(ctx context.Context, q db.Querier, cutoff time.Time) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT id FROM inquiries WHERE status = 'RESOLVED' AND updated_at < $1 ORDER BY updated_at`, cutoff)
	if err != nil {
		return nil, oops.Code("INQUIRY_SWEEP_SCAN_FAILED").Wrap(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.Code("INQUIRY_SWEEP_SCAN_FAILED").Wrap(err)
	}
	return ids, nil
}

func (r *PGRepository) ArchiveIfResolvedBefore(ctx context.Context, q db.Querier, id string, cutoff, at time.Time) (Inquiry, bool, error) {
	const updateSQL = `
UPDATE inquiries
SET status = 'ARCHIVED', updated_at = $3
WHERE id = $1 AND status = 'RESOLVED' AND updated_at < $2
RETURNING ` + inquiryColumns

	in, err := scanInquiry(q.QueryRow(ctx, updateSQL, id, cutoff, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inquiry{}, false, nil
		}
		return Inquiry{}, false, oops.Code("INQUIRY_ARCHIVE_FAILED").With("inquiry_id", id).Wrap(err)
	}
	return in, true, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filters Filters) ([]Inquiry, error) {
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
	if filters.SenderID != "" {
		add("sender_id = $%d", filters.SenderID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}

	listSQL := `SELECT ` + inquiryColumns + ` FROM inquiries`
	if len(where) > 0 {
		listSQL += " WHERE " + strings.Join(where, " AND ")
	}
	listSQL += " ORDER BY created_at DESC, id"

	rows, err := q.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, oops.Code("INQUIRY_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	out := []Inquiry{}
	for rows.Next() {
		in, err := scanInquiry(rows)
		if err != nil {
			return nil, oops.Code("INQUIRY_LIST_FAILED").Wrap(err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("INQUIRY_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

func scanInquiry(row pgx.Row) (Inquiry, error) {
	var in Inquiry
	if err := row.Scan(&in.ID, &in.PropertyID, &in.SenderID, &in.Message, &in.Status, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return Inquiry{}, err
	}
	return in, nil
}

func notFound(id string) error {
	return oops.Code("INQUIRY_NOT_FOUND").With("inquiry_id", id).Wrap(errutil.ErrNotFound)
}
