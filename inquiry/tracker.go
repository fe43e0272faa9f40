// Package inquiry tracks questions raised about listings: an
// open/resolved/archived lifecycle plus the archival sweep.
package inquiry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/notify"
	"propertyhub/property"
	"propertyhub/timeline"
)

// Listings resolves the property an inquiry is about.
type Listings interface {
	Get(ctx context.Context, id string) (property.Property, error)
}

// PartyChecker reports whether a user id names an account.
type PartyChecker interface {
	Exists(ctx context.Context, q db.Querier, userID string) (bool, error)
}

type Tracker struct {
	pool     db.Querier
	tx       db.TxRunner
	repo     Repository
	listings Listings
	parties  PartyChecker
	events   timeline.Appender
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewTracker(pool db.Querier, tx db.TxRunner, repo Repository, listings Listings, parties PartyChecker) *Tracker {
	if repo == nil {
		repo = NewRepository()
	}
	return &Tracker{
		pool:     pool,
		tx:       tx,
		repo:     repo,
		listings: listings,
		parties:  parties,
		events:   timeline.NewWriter(),
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithTimeline overrides the timeline writer.
func (t *Tracker) WithTimeline(events timeline.Appender) *Tracker {
	if events != nil {
		t.events = events
	}
	return t
}

// WithNotifier sets where post-commit notices go.
func (t *Tracker) WithNotifier(n notify.Notifier) *Tracker {
	if n != nil {
		t.notifier = n
	}
	return t
}

// WithLogger overrides the logger.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// WithClock overrides the time source (primarily for tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

// WithIDGenerator overrides the id source (primarily for tests).
func (t *Tracker) WithIDGenerator(gen func() string) *Tracker {
	if gen != nil {
		t.newID = gen
	}
	return t
}

// Create records an OPEN inquiry from sender about a listing.
func (t *Tracker) Create(ctx context.Context, params CreateParams) (Inquiry, error) {
	if err := params.Validate(); err != nil {
		return Inquiry{}, err
	}
	if !db.ValidID(params.PropertyID) {
		return Inquiry{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", params.PropertyID).Wrap(errutil.ErrNotFound)
	}
	prop, err := t.listings.Get(ctx, params.PropertyID)
	if err != nil {
		return Inquiry{}, err
	}

	var created Inquiry
	err = t.tx.InTx(ctx, "inquiry.create", func(ctx context.Context, tx pgx.Tx) error {
		ok, err := t.parties.Exists(ctx, tx, params.SenderID)
		if err != nil {
			return err
		}
		if !ok {
			return oops.Code("SENDER_NOT_FOUND").With("sender_id", params.SenderID).Wrap(errutil.ErrNotFound)
		}

		created, err = t.repo.Insert(ctx, tx, Inquiry{
			ID:         t.newID(),
			PropertyID: params.PropertyID,
			SenderID:   params.SenderID,
			Message:    strings.TrimSpace(params.Message),
			Status:     StatusOpen,
			CreatedAt:  t.now().UTC(),
		})
		if err != nil {
			return err
		}
		return t.appendEvent(ctx, tx, created, "", "create")
	})
	if err != nil {
		return Inquiry{}, err
	}

	metrics.RecordEntityTransition(timeline.EntityInquiry, "", string(StatusOpen))
	t.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.InquiryCreated,
		PropertyID: created.PropertyID,
		EntityID:   created.ID,
		Status:     string(created.Status),
		Message:    created.Message,
		Recipients: []string{created.SenderID, prop.SellerID},
	})
	return created, nil
}

// SetStatus moves an inquiry forward. The write is conditional on the status
// that was read; a lost race is retried once by the transactor and then
// reported as errutil.ErrConflict.
func (t *Tracker) SetStatus(ctx context.Context, id string, status Status) (Inquiry, error) {
	if !status.Valid() {
		return Inquiry{}, oops.Code("INQUIRY_STATUS_INVALID").With("status", status).Wrap(errutil.ErrValidation)
	}
	if !db.ValidID(id) {
		return Inquiry{}, notFound(id)
	}

	var (
		from    Status
		updated Inquiry
	)
	err := t.tx.InTx(ctx, "inquiry.set_status", func(ctx context.Context, tx pgx.Tx) error {
		current, err := t.repo.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		from = current.Status
		if !CanTransition(from, status) {
			return oops.Code("INQUIRY_TRANSITION_INVALID").
				With("inquiry_id", id).
				With("from", from).
				With("to", status).
				Wrap(errutil.ErrInvalidState)
		}

		updated, err = t.repo.UpdateStatus(ctx, tx, id, from, status, t.now().UTC())
		if err != nil {
			return err
		}
		return t.appendEvent(ctx, tx, updated, from, "manual")
	})
	if err != nil {
		return Inquiry{}, err
	}

	metrics.RecordEntityTransition(timeline.EntityInquiry, string(from), string(status))
	t.notifyStatus(ctx, updated)
	return updated, nil
}

// ArchiveResolvedOlderThan archives every RESOLVED inquiry last updated more
// than retention ago and returns how many it transitioned. Rows are archived
// one conditional write at a time, so reruns converge.
func (t *Tracker) ArchiveResolvedOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, oops.Code("INQUIRY_RETENTION_INVALID").With("retention", retention.String()).Wrap(errutil.ErrValidation)
	}
	cutoff := t.now().UTC().Add(-retention)

	ids, err := t.repo.ResolvedBefore(ctx, t.pool, cutoff)
	if err != nil {
		return 0, err
	}

	var (
		archived []Inquiry
		errs     []error
	)
	for _, id := range ids {
		var (
			in Inquiry
			ok bool
		)
		err := t.tx.InTx(ctx, "inquiry.archive", func(ctx context.Context, tx pgx.Tx) error {
			var err error
			in, ok, err = t.repo.ArchiveIfResolvedBefore(ctx, tx, id, cutoff, t.now().UTC())
			if err != nil || !ok {
				return err
			}
			return t.appendEvent(ctx, tx, in, StatusResolved, "archive")
		})
		if err != nil {
			errutil.LogError(t.logger, "inquiry archival failed", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			archived = append(archived, in)
		}
	}

	metrics.RecordSweepRows("inquiry_archival", len(archived))
	for _, in := range archived {
		metrics.RecordEntityTransition(timeline.EntityInquiry, string(StatusResolved), string(StatusArchived))
		t.notifyStatus(ctx, in)
	}
	if len(archived) > 0 {
		t.logger.InfoContext(ctx, "archived resolved inquiries", "count", len(archived), "cutoff", cutoff)
	}
	return len(archived), errors.Join(errs...)
}

func (t *Tracker) Get(ctx context.Context, id string) (Inquiry, error) {
	if !db.ValidID(id) {
		return Inquiry{}, notFound(id)
	}
	return t.repo.Get(ctx, t.pool, id)
}

func (t *Tracker) List(ctx context.Context, filters Filters) ([]Inquiry, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, oops.Code("INQUIRY_STATUS_INVALID").With("status", filters.Status).Wrap(errutil.ErrValidation)
	}
	if !db.ValidFilterIDs(filters.PropertyID, filters.SenderID) {
		return []Inquiry{}, nil
	}
	return t.repo.List(ctx, t.pool, filters)
}

func (t *Tracker) appendEvent(ctx context.Context, q db.Querier, in Inquiry, from Status, cause string) error {
	return t.events.Append(ctx, q, timeline.Event{
		Entity:     timeline.EntityInquiry,
		EntityID:   in.ID,
		PropertyID: in.PropertyID,
		From:       string(from),
		To:         string(in.Status),
		Cause:      cause,
		Payload:    map[string]any{"sender_id": in.SenderID},
		At:         in.UpdatedAt,
	})
}

func (t *Tracker) notifyStatus(ctx context.Context, in Inquiry) {
	t.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.InquiryStatusChanged,
		PropertyID: in.PropertyID,
		EntityID:   in.ID,
		Status:     string(in.Status),
		Recipients: []string{in.SenderID},
	})
}
