package property

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/timeline"
)

// PartyChecker reports whether a user id names an account.
type PartyChecker interface {
	Exists(ctx context.Context, q db.Querier, userID string) (bool, error)
}

// Registry owns property records. It knows nothing about offers or
// agreements; SOLD and RENTED are written through WriteStatus by the
// status coordinator.
type Registry struct {
	pool    db.Querier
	tx      db.TxRunner
	repo    Repository
	parties PartyChecker
	events  timeline.Appender
	now     func() time.Time
	newID   func() string
}

func NewRegistry(pool db.Querier, tx db.TxRunner, repo Repository, parties PartyChecker, events timeline.Appender) *Registry {
	if repo == nil {
		repo = NewRepository()
	}
	if events == nil {
		events = timeline.NewWriter()
	}
	return &Registry{
		pool:    pool,
		tx:      tx,
		repo:    repo,
		parties: parties,
		events:  events,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithClock overrides the time source (primarily for tests).
func (r *Registry) WithClock(now func() time.Time) *Registry {
	if now != nil {
		r.now = now
	}
	return r
}

// WithIDGenerator overrides the id source (primarily for tests).
func (r *Registry) WithIDGenerator(gen func() string) *Registry {
	if gen != nil {
		r.newID = gen
	}
	return r
}

// Create lists a new property as AVAILABLE.
func (r *Registry) Create(ctx context.Context, params CreateParams) (Property, error) {
	if err := params.Validate(); err != nil {
		return Property{}, err
	}

	var created Property
	err := r.tx.InTx(ctx, "property.create", func(ctx context.Context, tx pgx.Tx) error {
		ok, err := r.parties.Exists(ctx, tx, params.SellerID)
		if err != nil {
			return err
		}
		if !ok {
			return oops.Code("SELLER_NOT_FOUND").With("seller_id", params.SellerID).Wrap(errutil.ErrNotFound)
		}

		now := r.now().UTC()
		created, err = r.repo.Insert(ctx, tx, Property{
			ID:          r.newID(),
			SellerID:    params.SellerID,
			Kind:        params.Kind,
			Status:      StatusAvailable,
			Title:       params.Title,
			Location:    params.Location,
			Description: params.Description,
			Price:       params.Price,
			RentAmount:  params.RentAmount,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		return r.events.Append(ctx, tx, timeline.Event{
			Entity:     timeline.EntityProperty,
			EntityID:   created.ID,
			PropertyID: created.ID,
			To:         string(StatusAvailable),
			Cause:      "create",
			Payload:    map[string]any{"kind": created.Kind, "amount": created.Amount()},
			At:         now,
		})
	})
	if err != nil {
		return Property{}, err
	}
	return created, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Property, error) {
	if !db.ValidID(id) {
		return Property{}, notFound(id)
	}
	return r.repo.Get(ctx, r.pool, id)
}

func (r *Registry) List(ctx context.Context, filters Filters) (ListResult, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, oops.Code("PROPERTY_STATUS_INVALID").With("status", filters.Status).Wrap(errutil.ErrValidation)
	}
	if filters.Kind != "" && filters.Kind != KindSale && filters.Kind != KindRent {
		return ListResult{}, oops.Code("PROPERTY_KIND_INVALID").With("kind", filters.Kind).Wrap(errutil.ErrValidation)
	}
	if !db.ValidFilterIDs(filters.SellerID) {
		return ListResult{Items: []Property{}}, nil
	}
	return r.repo.List(ctx, r.pool, filters)
}

// Update changes listing details. Status and kind are not editable here.
func (r *Registry) Update(ctx context.Context, id string, params UpdateParams) (Property, error) {
	if !db.ValidID(id) {
		return Property{}, notFound(id)
	}

	var updated Property
	err := r.tx.InTx(ctx, "property.update", func(ctx context.Context, tx pgx.Tx) error {
		current, err := r.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := params.validateFor(current.Kind); err != nil {
			return err
		}
		updated, err = r.repo.UpdateDetails(ctx, tx, id, params, r.now().UTC())
		return err
	})
	if err != nil {
		return Property{}, err
	}
	return updated, nil
}

// SetStatus is the owner-facing status change. Only AVAILABLE and
// MAINTENANCE may be exchanged; SOLD and RENTED follow offers and agreements.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (Property, error) {
	if status != StatusAvailable && status != StatusMaintenance {
		return Property{}, oops.Code("PROPERTY_STATUS_NOT_MANUAL").
			With("property_id", id).
			With("status", status).
			Wrap(errutil.ErrInvalidState)
	}
	if !db.ValidID(id) {
		return Property{}, notFound(id)
	}

	var (
		from    Status
		updated Property
	)
	err := r.tx.InTx(ctx, "property.set_status", func(ctx context.Context, tx pgx.Tx) error {
		current, err := r.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		from = current.Status
		if from == status {
			updated = current
			return nil
		}
		if from != StatusAvailable && from != StatusMaintenance {
			return oops.Code("PROPERTY_STATUS_LOCKED").
				With("property_id", id).
				With("from", from).
				With("to", status).
				Wrap(errutil.ErrInvalidState)
		}

		updated, err = r.WriteStatus(ctx, tx, id, status)
		if err != nil {
			return err
		}
		return r.events.Append(ctx, tx, timeline.Event{
			Entity:     timeline.EntityProperty,
			EntityID:   id,
			PropertyID: id,
			From:       string(from),
			To:         string(status),
			Cause:      "manual",
			At:         updated.UpdatedAt,
		})
	})
	if err != nil {
		return Property{}, err
	}
	if from != status {
		metrics.RecordPropertyStatusChange("manual", string(from), string(status))
	}
	return updated, nil
}

// Lock loads the property and holds its row lock for the rest of the
// transaction behind q.
func (r *Registry) Lock(ctx context.Context, q db.Querier, id string) (Property, error) {
	if !db.ValidID(id) {
		return Property{}, notFound(id)
	}
	return r.repo.GetForUpdate(ctx, q, id)
}

// WriteStatus stores status unconditionally. Callers hold the row lock, which
// is what keeps concurrent writers from losing updates.
func (r *Registry) WriteStatus(ctx context.Context, q db.Querier, id string, status Status) (Property, error) {
	if !status.Valid() {
		return Property{}, oops.Code("PROPERTY_STATUS_INVALID").With("status", status).Wrap(errutil.ErrValidation)
	}
	return r.repo.UpdateStatus(ctx, q, id, status, r.now().UTC())
}

func notFound(id string) error {
	return oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
}
