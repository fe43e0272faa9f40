// Package timelinetest provides an in-memory timeline for service tests.
package timelinetest

import (
	"context"
	"sync"

	"propertyhub/db"
	"propertyhub/timeline"
)

// Recorder keeps appended events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []timeline.Event

	// Err, when set, is returned by Append instead of recording.
	Err error
}

func (r *Recorder) Append(_ context.Context, _ db.Querier, ev timeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (r *Recorder) Events() []timeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]timeline.Event, len(r.events))
	copy(out, r.events)
	return out
}

// For returns the events recorded for one entity id.
func (r *Recorder) For(entityID string) []timeline.Event {
	var out []timeline.Event
	for _, ev := range r.Events() {
		if ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out
}
