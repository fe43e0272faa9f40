//go:build integration

package integration_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"propertyhub/account"
	"propertyhub/agreement"
	"propertyhub/errutil"
	"propertyhub/inquiry"
	"propertyhub/offer"
	"propertyhub/property"
	"propertyhub/test/oracles"
	"propertyhub/timeline"
)

var _ = Describe("Offer acceptance", func() {
	var (
		ctx    context.Context
		seller string
		p101   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		seller = mustUser(ctx, account.RoleSeller)
		p101 = mustSale(ctx, seller, 45_000_000)
	})

	It("sells the property and rejects every sibling", func() {
		o1, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p101, BuyerID: mustUser(ctx, account.RoleBuyer), Price: 35_000_000})
		Expect(err).NotTo(HaveOccurred())
		o2, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p101, BuyerID: mustUser(ctx, account.RoleBuyer), Price: 40_000_000})
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.Offers.Accept(ctx, o1.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Accepted.Status).To(Equal(offer.StatusAccepted))
		Expect(res.Rejected).To(HaveLen(1))

		got, err := svc.Offers.Get(ctx, o2.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(offer.StatusRejected))

		prop, err := svc.Properties.Get(ctx, p101)
		Expect(err).NotTo(HaveOccurred())
		Expect(prop.Status).To(Equal(property.StatusSold))

		_, err = svc.Offers.Accept(ctx, o2.ID)
		Expect(err).To(MatchError(errutil.ErrInvalidState))
	})

	It("records every transition on the property timeline", func() {
		o1, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p101, BuyerID: mustUser(ctx, account.RoleBuyer), Price: 35_000_000})
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Offers.Accept(ctx, o1.ID)
		Expect(err).NotTo(HaveOccurred())

		events, err := svc.Timeline.ListForProperty(ctx, harness.Pool(), p101)
		Expect(err).NotTo(HaveOccurred())

		var trail []string
		for _, ev := range events {
			trail = append(trail, ev.Entity+":"+ev.From+">"+ev.To)
		}
		Expect(trail).To(ContainElements(
			timeline.EntityOffer+":>PENDING",
			timeline.EntityOffer+":PENDING>ACCEPTED",
			timeline.EntityProperty+":AVAILABLE>SOLD",
		))
	})

	It("expires stale offers exactly once", func() {
		o, err := svc.Offers.Create(ctx, offer.CreateParams{PropertyID: p101, BuyerID: mustUser(ctx, account.RoleBuyer), Price: 30_000_000})
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(8 * 24 * time.Hour)
		n, err := svc.Offers.ExpireStale(ctx, 7*24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = svc.Offers.ExpireStale(ctx, 7*24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		got, err := svc.Offers.Get(ctx, o.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(offer.StatusExpired))
	})
})

var _ = Describe("Rental agreements", func() {
	var (
		ctx      context.Context
		landlord string
		p202     string
		params   agreement.CreateParams
	)

	BeforeEach(func() {
		ctx = context.Background()
		landlord = mustUser(ctx, account.RoleSeller)
		p202 = mustRent(ctx, landlord, 60_000)
		params = agreement.CreateParams{
			PropertyID:     p202,
			TenantID:       mustUser(ctx, account.RoleBuyer),
			LandlordID:     landlord,
			Rent:           60_000,
			DurationMonths: 12,
			StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	})

	It("rents the property and refuses a second active agreement", func() {
		a, err := svc.Agreements.Create(ctx, params)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Status).To(Equal(agreement.StatusActive))

		prop, err := svc.Properties.Get(ctx, p202)
		Expect(err).NotTo(HaveOccurred())
		Expect(prop.Status).To(Equal(property.StatusRented))

		second := params
		second.TenantID = mustUser(ctx, account.RoleBuyer)
		_, err = svc.Agreements.Create(ctx, second)
		Expect(err).To(MatchError(errutil.ErrConflict))
	})

	It("frees the property on termination", func() {
		a, err := svc.Agreements.Create(ctx, params)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Agreements.SetStatus(ctx, a.ID, agreement.StatusTerminated)
		Expect(err).NotTo(HaveOccurred())

		prop, err := svc.Properties.Get(ctx, p202)
		Expect(err).NotTo(HaveOccurred())
		Expect(prop.Status).To(Equal(property.StatusAvailable))

		_, err = svc.Agreements.SetStatus(ctx, a.ID, agreement.StatusExpired)
		Expect(err).To(MatchError(errutil.ErrInvalidState))
	})

	It("reports and expires agreements past their end date", func() {
		a, err := svc.Agreements.Create(ctx, params)
		Expect(err).NotTo(HaveOccurred())

		soon, err := svc.Agreements.ExpiringBefore(ctx, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(soon).To(HaveLen(1))

		extended, err := svc.Agreements.Extend(ctx, a.ID, 6)
		Expect(err).NotTo(HaveOccurred())
		Expect(extended.DurationMonths).To(Equal(18))

		n, err := svc.Agreements.ExpireDue(ctx, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		n, err = svc.Agreements.ExpireDue(ctx, time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		prop, err := svc.Properties.Get(ctx, p202)
		Expect(err).NotTo(HaveOccurred())
		Expect(prop.Status).To(Equal(property.StatusAvailable))
	})
})

var _ = Describe("Inquiry archival", func() {
	It("archives a resolved inquiry only after the retention window", func() {
		ctx := context.Background()
		seller := mustUser(ctx, account.RoleSeller)
		p303 := mustSale(ctx, seller, 20_000_000)

		i1, err := svc.Inquiries.Create(ctx, inquiry.CreateParams{PropertyID: p303, SenderID: mustUser(ctx, account.RoleBuyer), Message: "Is there parking?"})
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Inquiries.SetStatus(ctx, i1.ID, inquiry.StatusResolved)
		Expect(err).NotTo(HaveOccurred())
		t := clock.Now()

		clock.Set(t.Add(29 * 24 * time.Hour))
		n, err := svc.Inquiries.ArchiveResolvedOlderThan(ctx, 30*24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		clock.Set(t.Add(31 * 24 * time.Hour))
		n, err = svc.Inquiries.ArchiveResolvedOlderThan(ctx, 30*24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		got, err := svc.Inquiries.Get(ctx, i1.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(inquiry.StatusArchived))
	})
})

var _ = AfterEach(func() {
	name, row, err := oracles.Run(context.Background(), harness.Pool())
	Expect(err).NotTo(HaveOccurred())
	Expect(name).To(BeEmpty(), "oracle %s failed on %s", name, row)
})
