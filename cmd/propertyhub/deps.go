package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"propertyhub/account"
	"propertyhub/agreement"
	"propertyhub/config"
	"propertyhub/coordinator"
	"propertyhub/db"
	"propertyhub/inquiry"
	"propertyhub/notify"
	"propertyhub/offer"
	"propertyhub/property"
	"propertyhub/timeline"
)

// deps is the wired service graph shared by the subcommands.
type deps struct {
	pool       *pgxpool.Pool
	accounts   *account.Service
	properties *property.Registry
	offers     *offer.Ledger
	agreements *agreement.Manager
	inquiries  *inquiry.Tracker
	dispatcher *notify.Dispatcher
}

func newDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	tx := db.NewTransactor(pool)
	events := timeline.NewWriter()

	accounts := account.NewService(pool, nil, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	properties := property.NewRegistry(pool, tx, nil, accounts, events)
	coord := coordinator.New(properties, events).WithLogger(logger)

	dispatcher := notify.NewDispatcher(notify.NewSender(cfg.Email, logger), accounts, properties, cfg.Email.Timeout).
		WithLogger(logger)

	return &deps{
		pool:       pool,
		accounts:   accounts,
		properties: properties,
		offers: offer.NewLedger(pool, tx, nil, properties, coord, accounts).
			WithTimeline(events).
			WithNotifier(dispatcher).
			WithLogger(logger),
		agreements: agreement.NewManager(pool, tx, nil, properties, coord, accounts).
			WithTimeline(events).
			WithNotifier(dispatcher).
			WithLogger(logger),
		inquiries: inquiry.NewTracker(pool, tx, nil, properties, accounts).
			WithTimeline(events).
			WithNotifier(dispatcher).
			WithLogger(logger),
		dispatcher: dispatcher,
	}, nil
}

// Close waits for queued notices and releases the pool.
func (d *deps) Close() {
	d.dispatcher.Wait()
	d.pool.Close()
}
