// Package notifytest records notices for assertions.
package notifytest

import (
	"context"
	"sync"

	"propertyhub/notify"
)

type Recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *Recorder) Notify(_ context.Context, n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of what was recorded.
func (r *Recorder) Notices() []notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []notify.Kind {
	var out []notify.Kind
	for _, n := range r.Notices() {
		out = append(out, n.Kind)
	}
	return out
}
