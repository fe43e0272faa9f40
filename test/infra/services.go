package infra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyhub/account"
	"propertyhub/agreement"
	"propertyhub/coordinator"
	"propertyhub/db"
	"propertyhub/inquiry"
	"propertyhub/notify/notifytest"
	"propertyhub/offer"
	"propertyhub/property"
	"propertyhub/timeline"
)

// Clock is a settable time source shared by every service in a graph. A
// Clock that was never set follows the wall clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		return &Clock{}
	}
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = time.Now().UTC()
	}
	c.now = c.now.Add(d)
}

// Services is the real service graph over a test pool. Notices go to an
// in-memory recorder instead of email.
type Services struct {
	Pool       *pgxpool.Pool
	Clock      *Clock
	Notices    *notifytest.Recorder
	Timeline   *timeline.Writer
	Accounts   *account.Service
	Properties *property.Registry
	Offers     *offer.Ledger
	Agreements *agreement.Manager
	Inquiries  *inquiry.Tracker
}

// NewServices wires the graph the way the command does, with clock.
func NewServices(pool *pgxpool.Pool, clock *Clock) *Services {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tx := db.NewTransactor(pool).WithRetryDelay(5 * time.Millisecond)
	events := timeline.NewWriter()
	notices := &notifytest.Recorder{}

	accounts := account.NewService(pool, nil, "integration-secret", time.Hour).WithClock(clock.Now)
	properties := property.NewRegistry(pool, tx, nil, accounts, events).WithClock(clock.Now)
	coord := coordinator.New(properties, events).WithLogger(logger)

	return &Services{
		Pool:       pool,
		Clock:      clock,
		Notices:    notices,
		Timeline:   events,
		Accounts:   accounts,
		Properties: properties,
		Offers: offer.NewLedger(pool, tx, nil, properties, coord, accounts).
			WithTimeline(events).WithNotifier(notices).WithLogger(logger).WithClock(clock.Now),
		Agreements: agreement.NewManager(pool, tx, nil, properties, coord, accounts).
			WithTimeline(events).WithNotifier(notices).WithLogger(logger).WithClock(clock.Now),
		Inquiries: inquiry.NewTracker(pool, tx, nil, properties, accounts).
			WithTimeline(events).WithNotifier(notices).WithLogger(logger).WithClock(clock.Now),
	}
}

// User registers a fresh account with role.
func (s *Services) User(ctx context.Context, role account.Role) (account.User, error) {
	return s.Accounts.Register(ctx, account.RegisterRequest{
		Email:    fmt.Sprintf("%s-%s@propertyhub.test", role, uuid.NewString()),
		Password: "integration-password",
		FullName: "Test " + string(role),
		Role:     role,
	})
}

// Sale lists an AVAILABLE SALE property for seller.
func (s *Services) Sale(ctx context.Context, sellerID string, price int64) (property.Property, error) {
	return s.Properties.Create(ctx, property.CreateParams{
		SellerID: sellerID,
		Kind:     property.KindSale,
		Title:    "Sale " + uuid.NewString()[:8],
		Location: "Harbour District",
		Price:    &price,
	})
}

// Rent lists an AVAILABLE RENT property for seller.
func (s *Services) Rent(ctx context.Context, sellerID string, rent int64) (property.Property, error) {
	return s.Properties.Create(ctx, property.CreateParams{
		SellerID:   sellerID,
		Kind:       property.KindRent,
		Title:      "Rent " + uuid.NewString()[:8],
		Location:   "Old Town",
		RentAmount: &rent,
	})
}
