// Package offer is the offer ledger: creation against available SALE
// listings, the accept cascade, counter offers and the stale-offer sweep.
package offer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
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

type Ledger struct {
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

func NewLedger(pool db.Querier, tx db.TxRunner, repo Repository, properties PropertyLocker, coord StatusCoordinator, parties PartyChecker) *Ledger {
	if repo == nil {
		repo = NewRepository()
	}
	return &Ledger{
		pool:       pool,
		tx:         tx,
		repo:       repo,
		properties: properties,
		coord:      coord,
		parties:    parties,
		events:     timeline.NewWriter(),
		notifier:   notify.Nop{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("propertyhub/offer"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithTimeline overrides the timeline writer.
func (l *Ledger) WithTimeline(events timeline.Appender) *Ledger {
	if events != nil {
		l.events = events
	}
	return l
}

// WithNotifier sets where post-commit notices go.
func (l *Ledger) WithNotifier(n notify.Notifier) *Ledger {
	if n != nil {
		l.notifier = n
	}
	return l
}

// WithLogger overrides the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithClock overrides the time source (primarily for tests).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// WithIDGenerator overrides the id source (primarily for tests).
func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	if gen != nil {
		l.newID = gen
	}
	return l
}

// Create records a PENDING offer. The property must be a SALE listing that
// is currently AVAILABLE.
func (l *Ledger) Create(ctx context.Context, params CreateParams) (Offer, error) {
	if params.Price <= 0 {
		return Offer{}, oops.Code("OFFER_PRICE_INVALID").With("price", params.Price).Wrap(errutil.ErrValidation)
	}
	if params.PropertyID == "" || params.BuyerID == "" {
		return Offer{}, oops.Code("OFFER_FIELDS_REQUIRED").Wrap(errutil.ErrValidation)
	}

	var (
		created Offer
		prop    property.Property
	)
	err := l.tx.InTx(ctx, "offer.create", func(ctx context.Context, tx pgx.Tx) error {
		if err := l.requireParty(ctx, tx, params.BuyerID); err != nil {
			return err
		}

		var err error
		prop, err = l.properties.Lock(ctx, tx, params.PropertyID)
		if err != nil {
			return err
		}
		if err := requireOpenForOffers(prop); err != nil {
			return err
		}

		now := l.now().UTC()
		created, err = l.repo.Insert(ctx, tx, Offer{
			ID:         l.newID(),
			PropertyID: params.PropertyID,
			BuyerID:    params.BuyerID,
			Price:      params.Price,
			Terms:      strings.TrimSpace(params.Terms),
			Status:     StatusPending,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, created, "", "create")
	})
	if err != nil {
		return Offer{}, err
	}

	metrics.RecordEntityTransition(timeline.EntityOffer, "", string(StatusPending))
	l.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.OfferCreated,
		PropertyID: created.PropertyID,
		EntityID:   created.ID,
		Amount:     created.Price,
		Message:    created.Terms,
		Recipients: []string{prop.SellerID, created.BuyerID},
	})
	return created, nil
}

// Accept accepts a PENDING offer, rejects every other PENDING offer on the
// same property and marks the property SOLD, all in one unit of work. The
// property row lock serializes competing accepts on the same property.
func (l *Ledger) Accept(ctx context.Context, offerID string) (AcceptResult, error) {
	ctx, span := l.tracer.Start(ctx, "offer.accept", trace.WithAttributes(attribute.String("offer_id", offerID)))
	defer span.End()

	if !db.ValidID(offerID) {
		return AcceptResult{}, offerNotFound(offerID)
	}

	var (
		res     AcceptResult
		prop    property.Property
		outcome coordinator.Outcome
	)
	err := l.tx.InTx(ctx, "offer.accept", func(ctx context.Context, tx pgx.Tx) error {
		res = AcceptResult{}

		o, err := l.lockWithProperty(ctx, tx, offerID, &prop)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return notPending(o)
		}
		if err := requireOpenForOffers(prop); err != nil {
			return err
		}

		now := l.now().UTC()
		res.Accepted, err = l.repo.UpdateStatus(ctx, tx, o.ID, StatusPending, StatusAccepted, now)
		if err != nil {
			return err
		}
		if err := l.appendEvent(ctx, tx, res.Accepted, StatusPending, "accept"); err != nil {
			return err
		}

		res.Rejected, err = l.repo.RejectPending(ctx, tx, o.PropertyID, o.ID, now)
		if err != nil {
			return err
		}
		for _, r := range res.Rejected {
			if err := l.appendEvent(ctx, tx, r, StatusPending, "sibling_accepted"); err != nil {
				return err
			}
		}

		outcome, err = l.coord.Apply(ctx, tx, coordinator.Change{
			Transition: coordinator.OfferAccepted,
			PropertyID: o.PropertyID,
			EntityID:   o.ID,
		})
		return err
	})
	if err != nil {
		return AcceptResult{}, err
	}

	span.SetAttributes(attribute.Int("rejected", len(res.Rejected)))
	outcome.Record()
	metrics.RecordEntityTransition(timeline.EntityOffer, string(StatusPending), string(StatusAccepted))
	for range res.Rejected {
		metrics.RecordEntityTransition(timeline.EntityOffer, string(StatusPending), string(StatusRejected))
	}

	l.notifyStatus(ctx, res.Accepted, prop.SellerID, res.Accepted.BuyerID)
	for _, r := range res.Rejected {
		l.notifyStatus(ctx, r, r.BuyerID)
	}
	return res, nil
}

// Counter retires a PENDING offer as COUNTERED and opens a fresh PENDING
// offer with the new price and terms for the same buyer and property.
func (l *Ledger) Counter(ctx context.Context, offerID string, params CounterParams) (Offer, error) {
	if params.Price <= 0 {
		return Offer{}, oops.Code("OFFER_PRICE_INVALID").With("price", params.Price).Wrap(errutil.ErrValidation)
	}
	if !db.ValidID(offerID) {
		return Offer{}, offerNotFound(offerID)
	}

	var (
		original, successor Offer
		prop                property.Property
	)
	err := l.tx.InTx(ctx, "offer.counter", func(ctx context.Context, tx pgx.Tx) error {
		o, err := l.lockWithProperty(ctx, tx, offerID, &prop)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return notPending(o)
		}
		if err := requireOpenForOffers(prop); err != nil {
			return err
		}

		now := l.now().UTC()
		original, err = l.repo.UpdateStatus(ctx, tx, o.ID, StatusPending, StatusCountered, now)
		if err != nil {
			return err
		}
		if err := l.appendEvent(ctx, tx, original, StatusPending, "counter"); err != nil {
			return err
		}

		from := o.ID
		successor, err = l.repo.Insert(ctx, tx, Offer{
			ID:            l.newID(),
			PropertyID:    o.PropertyID,
			BuyerID:       o.BuyerID,
			Price:         params.Price,
			Terms:         strings.TrimSpace(params.Terms),
			Status:        StatusPending,
			CounteredFrom: &from,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, successor, "", "counter")
	})
	if err != nil {
		return Offer{}, err
	}

	metrics.RecordEntityTransition(timeline.EntityOffer, string(StatusPending), string(StatusCountered))
	metrics.RecordEntityTransition(timeline.EntityOffer, "", string(StatusPending))
	l.notifyStatus(ctx, original, original.BuyerID, prop.SellerID)
	return successor, nil
}

// ExpireStale expires every PENDING offer created more than maxAge ago and
// returns how many it transitioned. Each row is expired by its own
// conditional write, so offers that were accepted, countered or rejected in
// the meantime are skipped and repeated runs converge.
func (l *Ledger) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, oops.Code("OFFER_MAX_AGE_INVALID").With("max_age", maxAge.String()).Wrap(errutil.ErrValidation)
	}
	cutoff := l.now().UTC().Add(-maxAge)

	ids, err := l.repo.StaleIDs(ctx, l.pool, cutoff)
	if err != nil {
		return 0, err
	}

	var (
		expired []Offer
		errs    []error
	)
	for _, id := range ids {
		var (
			o  Offer
			ok bool
		)
		err := l.tx.InTx(ctx, "offer.expire", func(ctx context.Context, tx pgx.Tx) error {
			var err error
			o, ok, err = l.repo.ExpireIfStale(ctx, tx, id, cutoff, l.now().UTC())
			if err != nil || !ok {
				return err
			}
			return l.appendEvent(ctx, tx, o, StatusPending, "expire")
		})
		if err != nil {
			errutil.LogError(l.logger, "offer expiry failed", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			expired = append(expired, o)
		}
	}

	metrics.RecordSweepRows("offer_expiry", len(expired))
	for _, o := range expired {
		metrics.RecordEntityTransition(timeline.EntityOffer, string(StatusPending), string(StatusExpired))
		l.notifyStatus(ctx, o, o.BuyerID)
	}
	if len(expired) > 0 {
		l.logger.InfoContext(ctx, "expired stale offers", "count", len(expired), "cutoff", cutoff)
	}
	return len(expired), errors.Join(errs...)
}

func (l *Ledger) Get(ctx context.Context, offerID string) (Offer, error) {
	if !db.ValidID(offerID) {
		return Offer{}, offerNotFound(offerID)
	}
	return l.repo.Get(ctx, l.pool, offerID)
}

func (l *Ledger) List(ctx context.Context, filters Filters) ([]Offer, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, oops.Code("OFFER_STATUS_INVALID").With("status", filters.Status).Wrap(errutil.ErrValidation)
	}
	if !db.ValidFilterIDs(filters.PropertyID, filters.BuyerID) {
		return []Offer{}, nil
	}
	return l.repo.List(ctx, l.pool, filters)
}

// lockWithProperty locks the offer's property and then the offer itself,
// the order every offer mutation uses.
func (l *Ledger) lockWithProperty(ctx context.Context, tx pgx.Tx, offerID string, prop *property.Property) (Offer, error) {
	o, err := l.repo.Get(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	*prop, err = l.properties.Lock(ctx, tx, o.PropertyID)
	if err != nil {
		return Offer{}, err
	}
	return l.repo.GetForUpdate(ctx, tx, offerID)
}

func (l *Ledger) requireParty(ctx context.Context, q db.Querier, userID string) error {
	ok, err := l.parties.Exists(ctx, q, userID)
	if err != nil {
		return err
	}
	if !ok {
		return oops.Code("BUYER_NOT_FOUND").With("buyer_id", userID).Wrap(errutil.ErrNotFound)
	}
	return nil
}

func (l *Ledger) appendEvent(ctx context.Context, q db.Querier, o Offer, from Status, cause string) error {
	return l.events.Append(ctx, q, timeline.Event{
		Entity:     timeline.EntityOffer,
		EntityID:   o.ID,
		PropertyID: o.PropertyID,
		From:       string(from),
		To:         string(o.Status),
		Cause:      cause,
		Payload:    map[string]any{"price": o.Price, "buyer_id": o.BuyerID},
		At:         o.UpdatedAt,
	})
}

func (l *Ledger) notifyStatus(ctx context.Context, o Offer, recipients ...string) {
	l.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.OfferStatusChanged,
		PropertyID: o.PropertyID,
		EntityID:   o.ID,
		Status:     string(o.Status),
		Amount:     o.Price,
		Recipients: recipients,
	})
}

func requireOpenForOffers(p property.Property) error {
	if p.Kind != property.KindSale || p.Status != property.StatusAvailable {
		return oops.Code("PROPERTY_NOT_FOR_SALE").
			With("property_id", p.ID).
			With("kind", p.Kind).
			With("status", p.Status).
			Wrap(errutil.ErrInvalidState)
	}
	return nil
}

func notPending(o Offer) error {
	return oops.Code("OFFER_NOT_PENDING").
		With("offer_id", o.ID).
		With("status", o.Status).
		Wrap(errutil.ErrInvalidState)
}

func offerNotFound(id string) error {
	return oops.Code("OFFER_NOT_FOUND").With("offer_id", id).Wrap(errutil.ErrNotFound)
}
