// Package timeline appends and reads the status_events history. Writes run
// on the caller's transaction so an event commits with the transition it
// describes.
package timeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"propertyhub/db"
)

// Entity kinds recorded in the timeline.
const (
	EntityProperty  = "property"
	EntityOffer     = "offer"
	EntityAgreement = "agreement"
	EntityInquiry   = "inquiry"
)

// Event is one status transition.
type Event struct {
	ID         int64
	Entity     string
	EntityID   string
	PropertyID string
	From       string
	To         string
	Cause      string
	Payload    map[string]any
	At         time.Time
}

// Appender is what record managers need to log a transition.
type Appender interface {
	Append(ctx context.Context, q db.Querier, ev Event) error
}

// Writer persists events.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Append inserts ev using q, normally the active transaction.
func (w *Writer) Append(ctx context.Context, q db.Querier, ev Event) error {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("TIMELINE_PAYLOAD_INVALID").With("entity", ev.Entity).Wrap(err)
	}

	const insertSQL = `
INSERT INTO status_events (entity, entity_id, property_id, from_status, to_status, cause, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
`
	if _, err := q.Exec(ctx, insertSQL, ev.Entity, ev.EntityID, ev.PropertyID, ev.From, ev.To, ev.Cause, body, ev.At.UTC()); err != nil {
		return oops.Code("TIMELINE_APPEND_FAILED").
			With("entity", ev.Entity).
			With("entity_id", ev.EntityID).
			Wrap(err)
	}
	return nil
}

// ListForProperty returns every event touching propertyID in append order.
func (w *Writer) ListForProperty(ctx context.Context, q db.Querier, propertyID string) ([]Event, error) {
	const selectSQL = `
SELECT id, entity, entity_id, property_id, from_status, to_status, cause, payload, created_at
FROM status_events
WHERE property_id = $1
ORDER BY id
`
	rows, err := q.Query(ctx, selectSQL, propertyID)
	if err != nil {
		return nil, oops.Code("TIMELINE_LIST_FAILED").With("property_id", propertyID).Wrap(err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev   Event
			body []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Entity, &ev.EntityID, &ev.PropertyID, &ev.From, &ev.To, &ev.Cause, &body, &ev.At); err != nil {
			return nil, oops.Code("TIMELINE_LIST_FAILED").With("property_id", propertyID).Wrap(err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &ev.Payload); err != nil {
				return nil, oops.Code("TIMELINE_PAYLOAD_INVALID").With("event_id", ev.ID).Wrap(err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("TIMELINE_LIST_FAILED").With("property_id", propertyID).Wrap(err)
	}
	return events, nil
}
