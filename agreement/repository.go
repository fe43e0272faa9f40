package agreement

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

// Repository is the rental agreement store.
type Repository interface {
	// Insert fails with errutil.ErrConflict when the property already has
	// an ACTIVE agreement.
	Insert(ctx context.Context, q db.Querier, a Agreement) (Agreement, error)
	Get(ctx context.Context, q db.Querier, id string) (Agreement, error)
	GetForUpdate(ctx context.Context, q db.Querier, id string) (Agreement, error)
	ActiveForProperty(ctx context.Context, q db.Querier, propertyID string) (a Agreement, ok bool, err error)
	// UpdateStatus returns db.ErrStaleWrite when the row is no longer in from.
	UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Agreement, error)
	// Extend adds months to an ACTIVE agreement.
	Extend(ctx context.Context, q db.Querier, id string, months int, at time.Time) (Agreement, error)
	// ExpiringBefore lists ACTIVE agreements whose end date precedes date.
	ExpiringBefore(ctx context.Context, q db.Querier, date time.Time) ([]Agreement, error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Agreement, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const agreementColumns = `id, property_id, tenant_id, landlord_id, rent, duration_months, start_date, status, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, a Agreement) (Agreement, error) {
	const insertSQL = `
INSERT INTO rental_agreements (id, property_id, tenant_id, landlord_id, rent, duration_months, start_date, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING ` + agreementColumns

	out, err := scanAgreement(q.QueryRow(ctx, insertSQL,
		a.ID, a.PropertyID, a.TenantID, a.LandlordID, a.Rent, a.DurationMonths, a.StartDate, a.Status, a.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Agreement{}, alreadyActive(a.PropertyID).With("constraint", db.ConstraintName(err)).Wrap(errutil.ErrConflict)
		}
		return Agreement{}, oops.Code("AGREEMENT_CREATE_FAILED").With("property_id", a.PropertyID).Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Agreement, error) {
	return r.get(ctx, q, `SELECT `+agreementColumns+` FROM rental_agreements WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, q db.Querier, id string) (Agreement, error) {
	return r.get(ctx, q, `SELECT `+agreementColumns+` FROM rental_agreements WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (Agreement, error) {
	a, err := scanAgreement(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, notFound(id)
		}
		return Agreement{}, oops.Code("AGREEMENT_LOOKUP_FAILED").With("agreement_id", id).Wrap(err)
	}
	return a, nil
}

func (r *PGRepository) ActiveForProperty(ctx context.Context, q db.Querier, propertyID string) (Agreement, bool, error) {
	a, err := scanAgreement(q.QueryRow(ctx,
		`SELECT `+agreementColumns+` FROM rental_agreements WHERE property_id = $1 AND status = 'ACTIVE'`, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, false, nil
		}
		return Agreement{}, false, oops.Code("AGREEMENT_LOOKUP_FAILED").With("property_id", propertyID).Wrap(err)
	}
	return a, true, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, q db.Querier, id string, from, to Status, at time.Time) (Agreement, error) {
	const updateSQL = `
UPDATE rental_agreements
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + agreementColumns

	a, err := scanAgreement(q.QueryRow(ctx, updateSQL, id, from, to, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, oops.Code("AGREEMENT_STALE_WRITE").With("agreement_id", id).With("from", from).Wrap(db.ErrStaleWrite)
		}
		return Agreement{}, oops.Code("AGREEMENT_STATUS_UPDATE_FAILED").With("agreement_id", id).With("to", to).Wrap(err)
	}
	return a, nil
}

func (r *PGRepository) Extend(ctx context.Context, q db.Querier, id string, months int, at time.Time) (Agreement, error) {
	const updateSQL = `
UPDATE rental_agreements
SET duration_months = duration_months + $2, updated_at = $3
WHERE id = $1 AND status = 'ACTIVE'
RETURNING ` + agreementColumns

	a, err := scanAgreement(q.QueryRow(ctx, updateSQL, id, months, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, oops.Code("AGREEMENT_STALE_WRITE").With("agreement_id", id).Wrap(db.ErrStaleWrite)
		}
		return Agreement{}, oops.Code("AGREEMENT_EXTEND_FAILED").With("agreement_id", id).Wrap(err)
	}
	return a, nil
}

// ExpiringBefore relies on Postgres date + interval arithmetic, which clamps
// to the end of the month the same way AddMonths does.
func (r *PGRepository) ExpiringBefore(ctx context.Context, q db.Querier, date time.Time) ([]Agreement, error) {
	const selectSQL = `
SELECT ` + agreementColumns + `
FROM rental_agreements
WHERE status = 'ACTIVE'
  AND (start_date + make_interval(months => duration_months))::date < $1::date
ORDER BY start_date, id`

	rows, err := q.Query(ctx, selectSQL, date)
	if err != nil {
		return nil, oops.Code("AGREEMENT_EXPIRING_QUERY_FAILED").Wrap(err)
	}
	out, err := collectAgreements(rows)
	if err != nil {
		return nil, oops.Code("AGREEMENT_EXPIRING_QUERY_FAILED").Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filters Filters) ([]Agreement, error) {
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
	if filters.TenantID != "" {
		add("tenant_id = $%d", filters.TenantID)
	}
	if filters.LandlordID != "" {
		add("landlord_id = $%d", filters.LandlordID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}

	listSQL := `SELECT ` + agreementColumns + ` FROM rental_agreements`
	if len(where) > 0 {
		listSQL += " WHERE " + strings.Join(where, " AND ")
	}
	listSQL += " ORDER BY created_at DESC, id"

	rows, err := q.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, oops.Code("AGREEMENT_LIST_FAILED").Wrap(err)
	}
	out, err := collectAgreements(rows)
	if err != nil {
		return nil, oops.Code("AGREEMENT_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

func collectAgreements(rows pgx.Rows) ([]Agreement, error) {
	defer rows.Close()
	out := []Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var a Agreement
	err := row.Scan(
		&a.ID,
		&a.PropertyID,
		&a.TenantID,
		&a.LandlordID,
		&a.Rent,
		&a.DurationMonths,
		&a.StartDate,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agreement{}, err
	}
	return a, nil
}

func notFound(id string) error {
	return oops.Code("AGREEMENT_NOT_FOUND").With("agreement_id", id).Wrap(errutil.ErrNotFound)
}

func alreadyActive(propertyID string) oops.OopsErrorBuilder {
	return oops.Code("AGREEMENT_ALREADY_ACTIVE").With("property_id", propertyID)
}
