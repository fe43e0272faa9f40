package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"propertyhub/account"
	"propertyhub/errutil"
	"propertyhub/property"
)

const demoPassword = "propertyhub-demo"

type seedAccounts interface {
	Register(ctx context.Context, req account.RegisterRequest) (account.User, error)
	ByEmail(ctx context.Context, email string) (account.User, error)
}

type seedListings interface {
	Create(ctx context.Context, params property.CreateParams) (property.Property, error)
	List(ctx context.Context, filters property.Filters) (property.ListResult, error)
}

var demoUsers = []account.RegisterRequest{
	{Email: "admin@propertyhub.demo", FullName: "Demo Admin", Role: account.RoleAdmin},
	{Email: "seller@propertyhub.demo", FullName: "Demo Seller", Role: account.RoleSeller},
	{Email: "buyer@propertyhub.demo", FullName: "Demo Buyer", Role: account.RoleBuyer},
	{Email: "agent@propertyhub.demo", FullName: "Demo Agent", Role: account.RoleAgent},
}

func demoListings(sellerID string) []property.CreateParams {
	price, rent := int64(45_000_000), int64(180_000)
	return []property.CreateParams{
		{
			SellerID:    sellerID,
			Kind:        property.KindSale,
			Title:       "Two-bedroom apartment near the park",
			Location:    "Riverside",
			Description: "Bright corner unit with a balcony.",
			Price:       &price,
		},
		{
			SellerID:    sellerID,
			Kind:        property.KindRent,
			Title:       "Family house with garden",
			Location:    "Old Town",
			Description: "Three bedrooms, garage and a small garden.",
			RentAmount:  &rent,
		},
	}
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo accounts and listings when absent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer d.Close()
			return seed(ctx, d.accounts, d.properties, cmd.OutOrStdout())
		},
	}
}

// seed is idempotent: existing accounts are reused and a listing is only
// created when the seller has none with the same title.
func seed(ctx context.Context, accounts seedAccounts, listings seedListings, out io.Writer) error {
	var sellerID string
	for _, req := range demoUsers {
		req.Password = demoPassword
		user, err := accounts.Register(ctx, req)
		switch {
		case err == nil:
			fmt.Fprintf(out, "created %s %s\n", user.Role, user.Email)
		case errors.Is(err, errutil.ErrConflict):
			if user, err = accounts.ByEmail(ctx, req.Email); err != nil {
				return err
			}
		default:
			return err
		}
		if user.Role == account.RoleSeller {
			sellerID = user.ID
		}
	}

	existing, err := listings.List(ctx, property.Filters{SellerID: sellerID, PageSize: 100})
	if err != nil {
		return err
	}
	titles := make(map[string]bool, len(existing.Items))
	for _, p := range existing.Items {
		titles[p.Title] = true
	}

	for _, params := range demoListings(sellerID) {
		if titles[params.Title] {
			continue
		}
		p, err := listings.Create(ctx, params)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s listing %q (%s)\n", p.Kind, p.Title, p.ID)
	}
	return nil
}
