// Package agreement is the rental agreement manager: at most one ACTIVE
// agreement per property, duration arithmetic and the end-of-term paths.
package agreement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"propertyhub/coordinator"
	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/notify"
	"propertyhub/property"
	"propertyhub/timeline"
)

// PropertyLocker loads a property under its row lock.
type PropertyLocker interface {
	Lock(ctx context.Context, q db.Querier, id string) (property.Property, error)
}

// StatusCoordinator applies property consequences inside a unit of work.
type StatusCoordinator interface {
	Apply(ctx context.Context, q db.Querier, ch coordinator.Change) (coordinator.Outcome, error)
}

// PartyChecker reports whether a user id names an account.
type PartyChecker interface {
	Exists(ctx context.Context, q db.Querier, userID string) (bool, error)
}

type Manager struct {
	pool       db.Querier
	tx         db.TxRunner
	repo       Repository
	properties PropertyLocker
	coord      StatusCoordinator
	parties    PartyChecker
	events     timeline.Appender
	notifier   notify.Notifier
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

func NewManager(pool db.Querier, tx db.TxRunner, repo Repository, properties PropertyLocker, coord StatusCoordinator, parties PartyChecker) *Manager {
	if repo == nil {
		repo = NewRepository()
	}
	return &Manager{
		pool:       pool,
		tx:         tx,
		repo:       repo,
		properties: properties,
		coord:      coord,
		parties:    parties,
		events:     timeline.NewWriter(),
		notifier:   notify.Nop{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("propertyhub/agreement"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithTimeline overrides the timeline writer.
func (m *Manager) WithTimeline(events timeline.Appender) *Manager {
	if events != nil {
		m.events = events
	}
	return m
}

// WithNotifier sets where post-commit notices go.
func (m *Manager) WithNotifier(n notify.Notifier) *Manager {
	if n != nil {
		m.notifier = n
	}
	return m
}

// WithLogger overrides the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithClock overrides the time source (primarily for tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// WithIDGenerator overrides the id source (primarily for tests).
func (m *Manager) WithIDGenerator(gen func() string) *Manager {
	if gen != nil {
		m.newID = gen
	}
	return m
}

// Create signs an ACTIVE agreement and marks the property RENTED in the same
// unit of work. A property that already has an ACTIVE agreement yields
// errutil.ErrConflict; one that is otherwise not AVAILABLE yields
// errutil.ErrInvalidState.
func (m *Manager) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	ctx, span := m.tracer.Start(ctx, "agreement.create", trace.WithAttributes(attribute.String("property_id", params.PropertyID)))
	defer span.End()

	if err := params.Validate(); err != nil {
		return Agreement{}, err
	}

	var (
		created Agreement
		outcome coordinator.Outcome
	)
	err := m.tx.InTx(ctx, "agreement.create", func(ctx context.Context, tx pgx.Tx) error {
		if err := m.requireParty(ctx, tx, "TENANT_NOT_FOUND", params.TenantID); err != nil {
			return err
		}
		if err := m.requireParty(ctx, tx, "LANDLORD_NOT_FOUND", params.LandlordID); err != nil {
			return err
		}

		prop, err := m.properties.Lock(ctx, tx, params.PropertyID)
		if err != nil {
			return err
		}
		active, ok, err := m.repo.ActiveForProperty(ctx, tx, params.PropertyID)
		if err != nil {
			return err
		}
		if ok {
			return alreadyActive(params.PropertyID).With("agreement_id", active.ID).Wrap(errutil.ErrConflict)
		}
		if prop.Status != property.StatusAvailable {
			return oops.Code("PROPERTY_NOT_AVAILABLE").
				With("property_id", prop.ID).
				With("status", prop.Status).
				Wrap(errutil.ErrInvalidState)
		}

		now := m.now().UTC()
		y, mo, d := params.StartDate.Date()
		created, err = m.repo.Insert(ctx, tx, Agreement{
			ID:             m.newID(),
			PropertyID:     params.PropertyID,
			TenantID:       params.TenantID,
			LandlordID:     params.LandlordID,
			Rent:           params.Rent,
			DurationMonths: params.DurationMonths,
			StartDate:      time.Date(y, mo, d, 0, 0, 0, 0, time.UTC),
			Status:         StatusActive,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		if err := m.appendEvent(ctx, tx, created, "", "create"); err != nil {
			return err
		}

		outcome, err = m.coord.Apply(ctx, tx, coordinator.Change{
			Transition: coordinator.AgreementActivated,
			PropertyID: created.PropertyID,
			EntityID:   created.ID,
		})
		return err
	})
	if err != nil {
		return Agreement{}, err
	}

	outcome.Record()
	metrics.RecordEntityTransition(timeline.EntityAgreement, "", string(StatusActive))
	m.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.AgreementCreated,
		PropertyID: created.PropertyID,
		EntityID:   created.ID,
		Status:     string(created.Status),
		Amount:     created.Rent,
		Recipients: []string{created.TenantID, created.LandlordID},
	})
	return created, nil
}

// Extend lengthens an ACTIVE agreement. It has no property consequence.
func (m *Manager) Extend(ctx context.Context, id string, additionalMonths int) (Agreement, error) {
	if additionalMonths <= 0 {
		return Agreement{}, oops.Code("AGREEMENT_EXTENSION_INVALID").
			With("agreement_id", id).
			With("additional_months", additionalMonths).
			Wrap(errutil.ErrInvalidState)
	}
	if additionalMonths > MaxDurationMonths {
		return Agreement{}, durationTooLong(additionalMonths)
	}
	if !db.ValidID(id) {
		return Agreement{}, notFound(id)
	}

	var extended Agreement
	err := m.tx.InTx(ctx, "agreement.extend", func(ctx context.Context, tx pgx.Tx) error {
		a, err := m.lockWithProperty(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return notActive(a)
		}
		if total := a.DurationMonths + additionalMonths; total > MaxDurationMonths {
			return durationTooLong(total)
		}

		extended, err = m.repo.Extend(ctx, tx, id, additionalMonths, m.now().UTC())
		if err != nil {
			return err
		}
		return m.events.Append(ctx, tx, timeline.Event{
			Entity:     timeline.EntityAgreement,
			EntityID:   extended.ID,
			PropertyID: extended.PropertyID,
			From:       string(a.Status),
			To:         string(extended.Status),
			Cause:      "extend",
			Payload: map[string]any{
				"additional_months": additionalMonths,
				"duration_months":   extended.DurationMonths,
			},
			At: extended.UpdatedAt,
		})
	})
	if err != nil {
		return Agreement{}, err
	}
	return extended, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Agreement, error) {
	if !db.ValidID(id) {
		return Agreement{}, notFound(id)
	}
	return m.repo.Get(ctx, m.pool, id)
}

func (m *Manager) List(ctx context.Context, filters Filters) ([]Agreement, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, oops.Code("AGREEMENT_STATUS_INVALID").With("status", filters.Status).Wrap(errutil.ErrValidation)
	}
	if !db.ValidFilterIDs(filters.PropertyID, filters.TenantID, filters.LandlordID) {
		return []Agreement{}, nil
	}
	return m.repo.List(ctx, m.pool, filters)
}

// ExpiringBefore lists ACTIVE agreements whose end date precedes date. It
// changes nothing; ExpireDue is the write path.
func (m *Manager) ExpiringBefore(ctx context.Context, date time.Time) ([]Agreement, error) {
	return m.repo.ExpiringBefore(ctx, m.pool, date)
}

// lockWithProperty locks the agreement's property and then the agreement,
// the same order the offer ledger uses.
func (m *Manager) lockWithProperty(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	a, err := m.repo.Get(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}
	if _, err := m.properties.Lock(ctx, tx, a.PropertyID); err != nil {
		return Agreement{}, err
	}
	return m.repo.GetForUpdate(ctx, tx, id)
}

func (m *Manager) requireParty(ctx context.Context, q db.Querier, code, userID string) error {
	ok, err := m.parties.Exists(ctx, q, userID)
	if err != nil {
		return err
	}
	if !ok {
		return oops.Code(code).With("user_id", userID).Wrap(errutil.ErrNotFound)
	}
	return nil
}

func (m *Manager) appendEvent(ctx context.Context, q db.Querier, a Agreement, from Status, cause string) error {
	return m.events.Append(ctx, q, timeline.Event{
		Entity:     timeline.EntityAgreement,
		EntityID:   a.ID,
		PropertyID: a.PropertyID,
		From:       string(from),
		To:         string(a.Status),
		Cause:      cause,
		Payload: map[string]any{
			"tenant_id":       a.TenantID,
			"rent":            a.Rent,
			"duration_months": a.DurationMonths,
		},
		At: a.UpdatedAt,
	})
}

func notActive(a Agreement) error {
	return oops.Code("AGREEMENT_NOT_ACTIVE").
		With("agreement_id", a.ID).
		With("status", a.Status).
		Wrap(errutil.ErrInvalidState)
}
