//go:build integration

package integration_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"propertyhub/account"
	"propertyhub/agreement"
	"propertyhub/errutil"
	"propertyhub/offer"
	"propertyhub/property"
)

// race runs fn n times at once and returns each call's error.
func race(n int, fn func(i int) error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

func succeeded(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}

var _ = Describe("Concurrent mutations of one property", func() {
	var (
		ctx    context.Context
		seller string
	)

	BeforeEach(func() {
		ctx = context.Background()
		seller = mustUser(ctx, account.RoleSeller)
	})

	It("lets exactly one of many racing accepts win", func() {
		const bidders = 8
		p := mustSale(ctx, seller, 10_000_000)

		ids := make([]string, bidders)
		for i := range ids {
			o, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p, BuyerID: mustUser(ctx, account.RoleBuyer), Price: int64(9_000_000 + i)})
			Expect(err).NotTo(HaveOccurred())
			ids[i] = o.ID
		}

		errs := race(bidders, func(i int) error {
			_, err := svc.Offers.Accept(ctx, ids[i])
			return err
		})
		Expect(succeeded(errs)).To(Equal(1))
		for _, err := range errs {
			if err != nil {
				Expect(errors.Is(err, errutil.ErrInvalidState) || errors.Is(err, errutil.ErrConflict)).To(BeTrue(), "unexpected error %v", err)
			}
		}

		accepted, err := svc.Offers.List(ctx, offer.Filters{PropertyID: p, Status: offer.StatusAccepted})
		Expect(err).NotTo(HaveOccurred())
		Expect(accepted).To(HaveLen(1))
		rejected, err := svc.Offers.List(ctx, offer.Filters{PropertyID: p, Status: offer.StatusRejected})
		Expect(err).NotTo(HaveOccurred())
		Expect(rejected).To(HaveLen(bidders - 1))
	})

	It("lets exactly one of many racing agreement creates win", func() {
		const tenants = 8
		p := mustRent(ctx, seller, 90_000)

		tenantIDs := make([]string, tenants)
		for i := range tenantIDs {
			tenantIDs[i] = mustUser(ctx, account.RoleBuyer)
		}

		errs := race(tenants, func(i int) error {
			_, err := svc.Agreements.Create(ctx, agreement.CreateParams{
				PropertyID:     p,
				TenantID:       tenantIDs[i],
				LandlordID:     seller,
				Rent:           90_000,
				DurationMonths: 6,
				StartDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			})
			return err
		})
		Expect(succeeded(errs)).To(Equal(1))
		for _, err := range errs {
			if err != nil {
				Expect(errors.Is(err, errutil.ErrConflict) || errors.Is(err, errutil.ErrInvalidState)).To(BeTrue(), "unexpected error %v", err)
			}
		}

		active, err := svc.Agreements.List(ctx, agreement.Filters{PropertyID: p, Status: agreement.StatusActive})
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(1))
	})

	It("never lets a termination clobber a concurrent sale", func() {
		for round := 0; round < 10; round++ {
			p := mustSale(ctx, seller, 12_000_000)
			o, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p, BuyerID: mustUser(ctx, account.RoleBuyer), Price: 11_500_000})
			Expect(err).NotTo(HaveOccurred())

			a, err := svc.Agreements.Create(ctx, agreement.CreateParams{
				PropertyID:     p,
				TenantID:       mustUser(ctx, account.RoleBuyer),
				LandlordID:     seller,
				Rent:           70_000,
				DurationMonths: 3,
				StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			})
			Expect(err).NotTo(HaveOccurred())

			race(2, func(i int) error {
				if i == 0 {
					_, err := svc.Agreements.SetStatus(ctx, a.ID, agreement.StatusTerminated)
					Expect(err).NotTo(HaveOccurred())
					return nil
				}
				// The sale can only go through once the property is free again.
				Eventually(func() error {
					_, err := svc.Offers.Accept(ctx, o.ID)
					return err
				}).WithTimeout(5 * time.Second).WithPolling(2 * time.Millisecond).Should(Succeed())
				return nil
			})

			prop, err := svc.Properties.Get(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(prop.Status).To(Equal(property.StatusSold), "round %d", round)

			ended, err := svc.Agreements.Get(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.Status).To(Equal(agreement.StatusTerminated))
		}
	})
})
