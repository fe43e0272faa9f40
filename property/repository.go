package property

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

// Repository is the data access the registry needs. Every method runs on the
// supplied querier so writes join the caller's unit of work.
type Repository interface {
	Insert(ctx context.Context, q db.Querier, p Property) (Property, error)
	Get(ctx context.Context, q db.Querier, id string) (Property, error)
	GetForUpdate(ctx context.Context, q db.Querier, id string) (Property, error)
	UpdateStatus(ctx context.Context, q db.Querier, id string, status Status, at time.Time) (Property, error)
	UpdateDetails(ctx context.Context, q db.Querier, id string, params UpdateParams, at time.Time) (Property, error)
	List(ctx context.Context, q db.Querier, filters Filters) (ListResult, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const propertyColumns = `id, seller_id, kind, status, title, location, description, price, rent_amount, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, p Property) (Property, error) {
	const insertSQL = `
INSERT INTO properties (id, seller_id, kind, status, title, location, description, price, rent_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING ` + propertyColumns

	out, err := scanProperty(q.QueryRow(ctx, insertSQL,
		p.ID, p.SellerID, p.Kind, p.Status, p.Title, p.Location, p.Description, p.Price, p.RentAmount, p.CreatedAt))
	if err != nil {
		return Property{}, oops.Code("PROPERTY_CREATE_FAILED").With("seller_id", p.SellerID).Wrap(err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Property, error) {
	return r.get(ctx, q, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id)
}

// GetForUpdate loads the row and holds its lock until the transaction ends.
// Every property-scoped mutation starts here so they serialize per property.
func (r *PGRepository) GetForUpdate(ctx context.Context, q db.Querier, id string) (Property, error) {
	return r.get(ctx, q, `SELECT `+propertyColumns+` FROM properties WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (Property, error) {
	p, err := scanProperty(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
		}
		return Property{}, oops.Code("PROPERTY_LOOKUP_FAILED").With("property_id", id).Wrap(err)
	}
	return p, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, q db.Querier, id string, status Status, at time.Time) (Property, error) {
	const updateSQL = `
UPDATE properties
SET status = $2, updated_at = $3
WHERE id = $1
RETURNING ` + propertyColumns

	p, err := scanProperty(q.QueryRow(ctx, updateSQL, id, status, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
		}
		return Property{}, oops.Code("PROPERTY_STATUS_UPDATE_FAILED").With("property_id", id).With("status", status).Wrap(err)
	}
	return p, nil
}

func (r *PGRepository) UpdateDetails(ctx context.Context, q db.Querier, id string, params UpdateParams, at time.Time) (Property, error) {
	const updateSQL = `
UPDATE properties
SET title       = COALESCE($2, title),
    location    = COALESCE($3, location),
    description = COALESCE($4, description),
    price       = COALESCE($5, price),
    rent_amount = COALESCE($6, rent_amount),
    updated_at  = $7
WHERE id = $1
RETURNING ` + propertyColumns

	p, err := scanProperty(q.QueryRow(ctx, updateSQL,
		id, params.Title, params.Location, params.Description, params.Price, params.RentAmount, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
		}
		return Property{}, oops.Code("PROPERTY_UPDATE_FAILED").With("property_id", id).Wrap(err)
	}
	return p, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filters Filters) (ListResult, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.Kind != "" {
		add("kind = $%d", filters.Kind)
	}
	if filters.SellerID != "" {
		add("seller_id = $%d", filters.SellerID)
	}
	if loc := strings.TrimSpace(filters.Location); loc != "" {
		add("location ILIKE '%%' || $%d || '%%'", loc)
	}
	if filters.MinAmount != nil {
		add("COALESCE(price, rent_amount) >= $%d", *filters.MinAmount)
	}
	if filters.MaxAmount != nil {
		add("COALESCE(price, rent_amount) <= $%d", *filters.MaxAmount)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM properties`+clause, args...).Scan(&total); err != nil {
		return ListResult{}, oops.Code("PROPERTY_LIST_FAILED").Wrap(err)
	}

	page, size := filters.page()
	args = append(args, size, (page-1)*size)
	listSQL := fmt.Sprintf(`SELECT %s FROM properties%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		propertyColumns, clause, len(args)-1, len(args))

	rows, err := q.Query(ctx, listSQL, args...)
	if err != nil {
		return ListResult{}, oops.Code("PROPERTY_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	items := []Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return ListResult{}, oops.Code("PROPERTY_LIST_FAILED").Wrap(err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, oops.Code("PROPERTY_LIST_FAILED").Wrap(err)
	}
	return ListResult{Items: items, Total: total}, nil
}

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(
		&p.ID,
		&p.SellerID,
		&p.Kind,
		&p.Status,
		&p.Title,
		&p.Location,
		&p.Description,
		&p.Price,
		&p.RentAmount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Property{}, err
	}
	return p, nil
}
