package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/property"
)

const defaultTimeout = 10 * time.Second

// Directory resolves user ids to email addresses.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
}

// Listings loads the property a notice is about.
type Listings interface {
	Get(ctx context.Context, id string) (property.Property, error)
}

// Dispatcher renders and sends notices in the background. Delivery runs on
// a context detached from the caller's so a finished request does not
// cancel it, bounded by the configured timeout.
type Dispatcher struct {
	sender   Sender
	users    Directory
	listings Listings
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(sender Sender, users Directory, listings Listings, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		sender:   sender,
		users:    users,
		listings: listings,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// WithLogger overrides the logger.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Notify queues n for delivery and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.deliver(ctx, n); err != nil {
			metrics.RecordNotificationFailure(string(n.Kind))
			errutil.LogError(d.logger, "notification failed", err)
		}
	}()
}

// Wait blocks until every queued notice has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notice) error {
	title := ""
	if n.PropertyID != "" {
		p, err := d.listings.Get(ctx, n.PropertyID)
		if err != nil {
			d.logger.WarnContext(ctx, "notice property lookup failed", "property_id", n.PropertyID, "error", err)
		} else {
			title = p.Title
		}
	}

	var (
		to       []string
		seen     = map[string]bool{}
		failures []error
	)
	for _, id := range n.Recipients {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		addr, err := d.users.Email(ctx, id)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		to = append(to, addr)
	}

	if len(to) > 0 {
		subject, body := Render(n, title)
		if err := d.sender.Send(ctx, to, subject, body); err != nil {
			failures = append(failures, err)
		}
	}

	if err := errors.Join(failures...); err != nil {
		return oops.Code("NOTICE_DELIVERY_FAILED").
			With("kind", n.Kind).
			With("entity_id", n.EntityID).
			Wrap(err)
	}
	return nil
}
