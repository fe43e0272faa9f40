package offer

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyhub/account/accounttest"
	"propertyhub/coordinator"
	"propertyhub/db"
	"propertyhub/db/dbtest"
	"propertyhub/errutil"
	"propertyhub/notify"
	"propertyhub/notify/notifytest"
	"propertyhub/property"
	"propertyhub/property/propertytest"
	"propertyhub/timeline/timelinetest"
)

type fixture struct {
	ledger  *Ledger
	repo    *fakeRepo
	props   *propertytest.Store
	users   *accounttest.Directory
	events  *timelinetest.Recorder
	notices *notifytest.Recorder
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newFakeRepo(),
		props:   propertytest.NewStore(),
		users:   accounttest.NewDirectory(),
		events:  &timelinetest.Recorder{},
		notices: &notifytest.Recorder{},
		now:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	tr := db.NewTransactor(&dbtest.FakePool{}).WithRetryDelay(time.Millisecond)
	f.ledger = NewLedger(nil, tr, f.repo, f.props, coordinator.New(f.props, f.events), f.users).
		WithTimeline(f.events).
		WithNotifier(f.notices).
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) offer(t *testing.T, propertyID string, price int64) Offer {
	t.Helper()
	buyer := f.users.Add(uuid.NewString()[:8] + "@propertyhub.demo")
	o, err := f.ledger.Create(context.Background(), CreateParams{PropertyID: propertyID, BuyerID: buyer, Price: price})
	require.NoError(t, err)
	return o
}

func TestLedger_AcceptRejectsSiblingsAndSellsProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p101 := f.props.Sale(property.StatusAvailable)
	o1 := f.offer(t, p101.ID, 3_500_000_000)
	o2 := f.offer(t, p101.ID, 4_000_000_000)

	res, err := f.ledger.Accept(ctx, o1.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, res.Accepted.Status)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, o2.ID, res.Rejected[0].ID)
	assert.Equal(t, StatusAccepted, f.repo.status(o1.ID))
	assert.Equal(t, StatusRejected, f.repo.status(o2.ID))
	assert.Equal(t, property.StatusSold, f.props.Status(p101.ID))

	_, err = f.ledger.Accept(ctx, o2.ID)
	errutil.AssertKind(t, err, errutil.ErrInvalidState)
	errutil.AssertErrorCode(t, err, "OFFER_NOT_PENDING")
	assert.Equal(t, 1, f.repo.count(p101.ID, StatusAccepted))

	propEvents := f.events.For(p101.ID)
	require.NotEmpty(t, propEvents)
	last := propEvents[len(propEvents)-1]
	assert.Equal(t, string(coordinator.OfferAccepted), last.Cause)
	assert.Equal(t, "SOLD", last.To)
}

func TestLedger_AcceptNotifiesBuyersAndSeller(t *testing.T) {
	f := newFixture(t)
	p := f.props.Sale(property.StatusAvailable)
	o1 := f.offer(t, p.ID, 100)
	o2 := f.offer(t, p.ID, 200)

	_, err := f.ledger.Accept(context.Background(), o2.ID)
	require.NoError(t, err)

	notices := f.notices.Notices()
	require.Len(t, notices, 4)
	accepted, rejected := notices[2], notices[3]
	assert.Equal(t, notify.OfferStatusChanged, accepted.Kind)
	assert.Equal(t, "ACCEPTED", accepted.Status)
	assert.ElementsMatch(t, []string{p.SellerID, o2.BuyerID}, accepted.Recipients)
	assert.Equal(t, "REJECTED", rejected.Status)
	assert.Equal(t, []string{o1.BuyerID}, rejected.Recipients)
}

func TestLedger_AcceptRequiresAvailableProperty(t *testing.T) {
	f := newFixture(t)
	p := f.props.Sale(property.StatusAvailable)
	o := f.offer(t, p.ID, 100)

	_, err := f.props.WriteStatus(context.Background(), nil, p.ID, property.StatusMaintenance)
	require.NoError(t, err)

	_, err = f.ledger.Accept(context.Background(), o.ID)
	errutil.AssertKind(t, err, errutil.ErrInvalidState)
	errutil.AssertErrorCode(t, err, "PROPERTY_NOT_FOR_SALE")
	assert.Equal(t, StatusPending, f.repo.status(o.ID))
}

func TestLedger_AcceptNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Accept(context.Background(), "not-an-id")
	errutil.AssertKind(t, err, errutil.ErrNotFound)

	_, err = f.ledger.Accept(context.Background(), uuid.NewString())
	errutil.AssertKind(t, err, errutil.ErrNotFound)
}

func TestLedger_CreatePreconditions(t *testing.T) {
	f := newFixture(t)
	buyer := f.users.Add("buyer@propertyhub.demo")

	tests := []struct {
		name       string
		propertyID string
		buyerID    string
		price      int64
		kind       error
		code       string
	}{
		{
			name:       "rental listing",
			propertyID: f.props.Rent(property.StatusAvailable).ID,
			buyerID:    buyer,
			price:      1,
			kind:       errutil.ErrInvalidState,
			code:       "PROPERTY_NOT_FOR_SALE",
		},
		{
			name:       "sold listing",
			propertyID: f.props.Sale(property.StatusSold).ID,
			buyerID:    buyer,
			price:      1,
			kind:       errutil.ErrInvalidState,
			code:       "PROPERTY_NOT_FOR_SALE",
		},
		{
			name:       "listing under maintenance",
			propertyID: f.props.Sale(property.StatusMaintenance).ID,
			buyerID:    buyer,
			price:      1,
			kind:       errutil.ErrInvalidState,
			code:       "PROPERTY_NOT_FOR_SALE",
		},
		{
			name:       "unknown property",
			propertyID: uuid.NewString(),
			buyerID:    buyer,
			price:      1,
			kind:       errutil.ErrNotFound,
			code:       "PROPERTY_NOT_FOUND",
		},
		{
			name:       "unknown buyer",
			propertyID: f.props.Sale(property.StatusAvailable).ID,
			buyerID:    uuid.NewString(),
			price:      1,
			kind:       errutil.ErrNotFound,
			code:       "BUYER_NOT_FOUND",
		},
		{
			name:       "non-positive price",
			propertyID: f.props.Sale(property.StatusAvailable).ID,
			buyerID:    buyer,
			price:      0,
			kind:       errutil.ErrValidation,
			code:       "OFFER_PRICE_INVALID",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Create(context.Background(), CreateParams{PropertyID: tt.propertyID, BuyerID: tt.buyerID, Price: tt.price})
			errutil.AssertKind(t, err, tt.kind)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
	assert.Empty(t, f.repo.offers)
}

func TestLedger_Counter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.props.Sale(property.StatusAvailable)
	original := f.offer(t, p.ID, 3_000_000_000)

	successor, err := f.ledger.Counter(ctx, original.ID, CounterParams{Price: 3_200_000_000, Terms: " close in 30 days "})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, successor.Status)
	assert.Equal(t, original.BuyerID, successor.BuyerID)
	assert.Equal(t, original.PropertyID, successor.PropertyID)
	assert.Equal(t, int64(3_200_000_000), successor.Price)
	assert.Equal(t, "close in 30 days", successor.Terms)
	require.NotNil(t, successor.CounteredFrom)
	assert.Equal(t, original.ID, *successor.CounteredFrom)
	assert.Equal(t, StatusCountered, f.repo.status(original.ID))
	assert.Equal(t, property.StatusAvailable, f.props.Status(p.ID), "countering has no property consequence")

	_, err = f.ledger.Counter(ctx, original.ID, CounterParams{Price: 1})
	errutil.AssertKind(t, err, errutil.ErrInvalidState)

	_, err = f.ledger.Counter(ctx, uuid.NewString(), CounterParams{Price: 1})
	errutil.AssertKind(t, err, errutil.ErrNotFound)

	_, err = f.ledger.Counter(ctx, successor.ID, CounterParams{Price: 0})
	errutil.AssertKind(t, err, errutil.ErrValidation)

	res, err := f.ledger.Accept(ctx, successor.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Rejected)
}

func TestLedger_ExpireStaleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.now
	p := f.props.Sale(property.StatusAvailable)

	old := f.offer(t, p.ID, 100)
	countered := f.offer(t, p.ID, 200)

	f.now = t0.Add(24 * time.Hour)
	successor, err := f.ledger.Counter(ctx, countered.ID, CounterParams{Price: 250})
	require.NoError(t, err)

	f.now = t0.Add(5 * 24 * time.Hour)
	recent := f.offer(t, p.ID, 300)

	f.now = t0.Add(8*24*time.Hour + time.Hour)
	n, err := f.ledger.ExpireStale(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, StatusExpired, f.repo.status(old.ID))
	assert.Equal(t, StatusExpired, f.repo.status(successor.ID))
	assert.Equal(t, StatusCountered, f.repo.status(countered.ID))
	assert.Equal(t, StatusPending, f.repo.status(recent.ID))

	n, err = f.ledger.ExpireStale(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "second run transitions nothing")
	assert.Len(t, f.events.For(old.ID), 2, "one create and one expire event")

	_, err = f.ledger.ExpireStale(ctx, 0)
	errutil.AssertKind(t, err, errutil.ErrValidation)
}

func TestLedger_ExpireSkipsRowsThatStoppedQualifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.props.Sale(property.StatusAvailable)
	a := f.offer(t, p.ID, 100)
	b := f.offer(t, p.ID, 200)

	f.now = f.now.Add(8 * 24 * time.Hour)
	// b is accepted between the scan and the per-row writes.
	f.repo.afterScan = func() {
		_, err := f.ledger.Accept(ctx, b.ID)
		require.NoError(t, err)
	}

	n, err := f.ledger.ExpireStale(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, StatusRejected, f.repo.status(a.ID))
	assert.Equal(t, StatusAccepted, f.repo.status(b.ID))
}

func TestLedger_List(t *testing.T) {
	f := newFixture(t)
	p := f.props.Sale(property.StatusAvailable)
	o1 := f.offer(t, p.ID, 100)
	f.offer(t, p.ID, 200)
	f.offer(t, f.props.Sale(property.StatusAvailable).ID, 300)

	out, err := f.ledger.List(context.Background(), Filters{PropertyID: p.ID})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = f.ledger.List(context.Background(), Filters{BuyerID: o1.BuyerID})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, o1.ID, out[0].ID)

	_, err = f.ledger.List(context.Background(), Filters{Status: "WITHDRAWN"})
	errutil.AssertKind(t, err, errutil.ErrValidation)

	got, err := f.ledger.Get(context.Background(), o1.ID)
	require.NoError(t, err)
	assert.Equal(t, o1, got)
}

type fakeRepo struct {
	mu        sync.Mutex
	offers    map[string]Offer
	afterScan func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{offers: map[string]Offer{}}
}

func (f *fakeRepo) status(id string) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers[id].Status
}

func (f *fakeRepo) count(propertyID string, status Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.offers {
		if o.PropertyID == propertyID && o.Status == status {
			n++
		}
	}
	return n
}

func (f *fakeRepo) sorted() []Offer {
	out := make([]Offer, 0, len(f.offers))
	for _, o := range f.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (f *fakeRepo) Insert(_ context.Context, _ db.Querier, o Offer) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.UpdatedAt = o.CreatedAt
	f.offers[o.ID] = o
	return o, nil
}

func (f *fakeRepo) Get(_ context.Context, _ db.Querier, id string) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return Offer{}, oops.Code("OFFER_NOT_FOUND").With("offer_id", id).Wrap(errutil.ErrNotFound)
	}
	return o, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, q db.Querier, id string) (Offer, error) {
	return f.Get(ctx, q, id)
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ db.Querier, id string, from, to Status, at time.Time) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.Status != from {
		return Offer{}, oops.With("offer_id", id).Wrap(db.ErrStaleWrite)
	}
	o.Status, o.UpdatedAt = to, at
	f.offers[id] = o
	return o, nil
}

func (f *fakeRepo) RejectPending(_ context.Context, _ db.Querier, propertyID, keepID string, at time.Time) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Offer
	for _, o := range f.sorted() {
		if o.PropertyID != propertyID || o.ID == keepID || o.Status != StatusPending {
			continue
		}
		o.Status, o.UpdatedAt = StatusRejected, at
		f.offers[o.ID] = o
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeRepo) StaleIDs(_ context.Context, _ db.Querier, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	var ids []string
	for _, o := range f.sorted() {
		if o.Status == StatusPending && o.CreatedAt.Before(cutoff) {
			ids = append(ids, o.ID)
		}
	}
	hook := f.afterScan
	f.afterScan = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return ids, nil
}

func (f *fakeRepo) ExpireIfStale(_ context.Context, _ db.Querier, id string, cutoff, at time.Time) (Offer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.Status != StatusPending || !o.CreatedAt.Before(cutoff) {
		return Offer{}, false, nil
	}
	o.Status, o.UpdatedAt = StatusExpired, at
	f.offers[id] = o
	return o, true, nil
}

func (f *fakeRepo) List(_ context.Context, _ db.Querier, filters Filters) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Offer
	for _, o := range f.sorted() {
		if filters.PropertyID != "" && o.PropertyID != filters.PropertyID {
			continue
		}
		if filters.BuyerID != "" && o.BuyerID != filters.BuyerID {
			continue
		}
		if filters.Status != "" && o.Status != filters.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
