// Package coordinator applies the property status consequences of offer
// and agreement transitions inside the triggering unit of work.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/property"
	"propertyhub/timeline"
)

// Registry is the slice of the property registry the coordinator writes through.
type Registry interface {
	Lock(ctx context.Context, q db.Querier, id string) (property.Property, error)
	WriteStatus(ctx context.Context, q db.Querier, id string, status property.Status) (property.Property, error)
}

// Transition names an entity-level change with a property consequence.
type Transition string

const (
	OfferAccepted      Transition = "offer_accepted"
	AgreementActivated Transition = "agreement_activated"
	AgreementEnded     Transition = "agreement_ended"
)

// Change is one transition to dispatch.
type Change struct {
	Transition Transition
	PropertyID string
	EntityID   string
}

// Outcome reports what Apply did to the property.
type Outcome struct {
	Transition Transition
	Property   property.Property
	From       property.Status
	Changed    bool
}

// Record counts the property change. Call it after the unit of work commits.
func (o Outcome) Record() {
	if o.Changed {
		metrics.RecordPropertyStatusChange(string(o.Transition), string(o.From), string(o.Property.Status))
	}
}

type rule struct {
	from property.Status
	to   property.Status
	// strict rules fail when the property is not in from; the others
	// leave a property that something else already moved alone.
	strict bool
}

func ruleFor(t Transition) (rule, error) {
	switch t {
	case OfferAccepted:
		return rule{from: property.StatusAvailable, to: property.StatusSold, strict: true}, nil
	case AgreementActivated:
		return rule{from: property.StatusAvailable, to: property.StatusRented, strict: true}, nil
	case AgreementEnded:
		return rule{from: property.StatusRented, to: property.StatusAvailable}, nil
	}
	return rule{}, oops.Code("TRANSITION_UNKNOWN").With("transition", t).Wrap(errutil.ErrValidation)
}

// Coordinator is the only writer of property status on behalf of offers
// and agreements.
type Coordinator struct {
	registry Registry
	events   timeline.Appender
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(registry Registry, events timeline.Appender) *Coordinator {
	if events == nil {
		events = timeline.NewWriter()
	}
	return &Coordinator{
		registry: registry,
		events:   events,
		logger:   slog.Default(),
		tracer:   otel.Tracer("propertyhub/coordinator"),
	}
}

// WithLogger overrides the logger.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Apply moves the property as ch requires, writing through q so the change
// commits or rolls back with the caller's own writes. The property row is
// locked first; callers that already hold the lock simply re-enter it.
func (c *Coordinator) Apply(ctx context.Context, q db.Querier, ch Change) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.apply", trace.WithAttributes(
		attribute.String("transition", string(ch.Transition)),
		attribute.String("property_id", ch.PropertyID),
	))
	defer span.End()

	r, err := ruleFor(ch.Transition)
	if err != nil {
		return Outcome{}, err
	}

	current, err := c.registry.Lock(ctx, q, ch.PropertyID)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Transition: ch.Transition, Property: current, From: current.Status}
	if current.Status != r.from {
		if r.strict {
			return Outcome{}, oops.Code("PROPERTY_STATUS_MISMATCH").
				With("property_id", ch.PropertyID).
				With("transition", ch.Transition).
				With("status", current.Status).
				With("expected", r.from).
				Wrap(errutil.ErrInvalidState)
		}
		c.logger.DebugContext(ctx, "property already moved, leaving status",
			"property_id", ch.PropertyID,
			"transition", ch.Transition,
			"status", current.Status)
		return out, nil
	}

	updated, err := c.registry.WriteStatus(ctx, q, ch.PropertyID, r.to)
	if err != nil {
		return Outcome{}, err
	}

	err = c.events.Append(ctx, q, timeline.Event{
		Entity:     timeline.EntityProperty,
		EntityID:   ch.PropertyID,
		PropertyID: ch.PropertyID,
		From:       string(current.Status),
		To:         string(r.to),
		Cause:      string(ch.Transition),
		Payload:    map[string]any{"source_id": ch.EntityID},
		At:         updated.UpdatedAt,
	})
	if err != nil {
		return Outcome{}, err
	}

	out.Property = updated
	out.Changed = true
	return out, nil
}
