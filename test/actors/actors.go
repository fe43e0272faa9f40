// Package actors drives the real services from concurrent goroutines. Each
// actor loops until stop is closed; business rejections are the expected
// outcome of a race and are only counted.
package actors

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"propertyhub/agreement"
	"propertyhub/errutil"
	"propertyhub/inquiry"
	"propertyhub/offer"
	"propertyhub/test/infra"
)

// Stats tallies outcomes across actors.
type Stats struct {
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Conflicts atomic.Int64
	Infra     atomic.Int64
}

func (s *Stats) record(err error) {
	switch kind := errutil.Kind(err); {
	case err == nil:
		s.Succeeded.Add(1)
	case kind == errutil.ErrConflict:
		s.Conflicts.Add(1)
	case kind != nil:
		s.Rejected.Add(1)
	default:
		// connection loss from the chaos actor and similar
		s.Infra.Add(1)
	}
}

func pause(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Bidder places offers on a SALE property and tries to accept a random one
// of its own, racing the other bidders for the single ACCEPTED slot.
func Bidder(ctx context.Context, svc *infra.Services, propertyID, buyerID string, stats *Stats, stop <-chan struct{}) error {
	var mine []string
	for !stopped(ctx, stop) {
		if rand.Intn(2) == 0 || len(mine) == 0 {
			o, err := svc.Offers.Create(ctx, offer.CreateParams{
				PropertyID: propertyID,
				BuyerID:    buyerID,
				Price:      int64(1_000_000 + rand.Intn(500_000)),
			})
			stats.record(err)
			if err == nil {
				mine = append(mine, o.ID)
			}
		} else {
			_, err := svc.Offers.Accept(ctx, mine[rand.Intn(len(mine))])
			stats.record(err)
		}
		pause(5, 20)
	}
	return nil
}

// Tenant creates agreements on a RENT property and terminates whatever is
// active, racing the other tenants for the single ACTIVE slot.
func Tenant(ctx context.Context, svc *infra.Services, propertyID, tenantID, landlordID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		a, err := svc.Agreements.Create(ctx, agreement.CreateParams{
			PropertyID:     propertyID,
			TenantID:       tenantID,
			LandlordID:     landlordID,
			Rent:           150_000,
			DurationMonths: 1 + rand.Intn(12),
			StartDate:      svc.Clock.Now(),
		})
		stats.record(err)
		pause(5, 20)
		if err != nil {
			continue
		}

		switch rand.Intn(3) {
		case 0:
			_, err = svc.Agreements.Extend(ctx, a.ID, 1)
			stats.record(err)
		case 1:
			_, err = svc.Agreements.SetStatus(ctx, a.ID, agreement.StatusExpired)
			stats.record(err)
		}
		_, err = svc.Agreements.SetStatus(ctx, a.ID, agreement.StatusTerminated)
		stats.record(err)
		pause(5, 20)
	}
	return nil
}

// Inquirer opens inquiries and pushes them through their lifecycle.
func Inquirer(ctx context.Context, svc *infra.Services, propertyID, senderID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		in, err := svc.Inquiries.Create(ctx, inquiry.CreateParams{
			PropertyID: propertyID,
			SenderID:   senderID,
			Message:    "Is the price negotiable?",
		})
		stats.record(err)
		if err == nil {
			_, err = svc.Inquiries.SetStatus(ctx, in.ID, inquiry.StatusResolved)
			stats.record(err)
		}
		pause(10, 30)
	}
	return nil
}

// Sweeper runs every sweep in a loop with short windows so that they race
// the other actors on live rows.
func Sweeper(ctx context.Context, svc *infra.Services, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.Offers.ExpireStale(ctx, 50*time.Millisecond)
		stats.record(err)
		_, err = svc.Inquiries.ArchiveResolvedOlderThan(ctx, 50*time.Millisecond)
		stats.record(err)
		_, err = svc.Agreements.ExpireDue(ctx, svc.Clock.Now().AddDate(0, 6, 0))
		stats.record(err)
		pause(20, 40)
	}
	return nil
}
