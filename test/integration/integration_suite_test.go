//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"propertyhub/account"
	"propertyhub/test/infra"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PropertyHub Integration Suite")
}

var (
	harness *infra.Harness
	svc     *infra.Services
	clock   *infra.Clock
)

var _ = BeforeSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var err error
	harness, err = infra.NewHarness(ctx, "")
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if harness != nil {
		harness.Close(context.Background())
	}
})

var _ = BeforeEach(func() {
	Expect(harness.Reset(context.Background())).To(Succeed())
	clock = infra.NewClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	svc = infra.NewServices(harness.Pool(), clock)
})

func mustUser(ctx context.Context, role account.Role) string {
	GinkgoHelper()
	u, err := svc.User(ctx, role)
	Expect(err).NotTo(HaveOccurred())
	return u.ID
}

func mustSale(ctx context.Context, sellerID string, price int64) string {
	GinkgoHelper()
	p, err := svc.Sale(ctx, sellerID, price)
	Expect(err).NotTo(HaveOccurred())
	return p.ID
}

func mustRent(ctx context.Context, sellerID string, rent int64) string {
	GinkgoHelper()
	p, err := svc.Rent(ctx, sellerID, rent)
	Expect(err).NotTo(HaveOccurred())
	return p.ID
}
