package infra

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the lifecycle of the Postgres test database and pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness picks a database and applies the embedded migrations. The
// order is overrideDSN, then DSNEnv, then a fresh Postgres 16 container, then
// a server already listening on localhost. Any database this process does
// not own gets its own schema, so runs never see each other's rows.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	pgC, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		local, localErr := LocalDSN(ctx)
		if localErr != nil {
			return nil, fmt.Errorf("start postgres: %w (local fallback: %v)", err, localErr)
		}
		pgC, dsn = &PGContainer{}, local
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	return &Harness{
		container: pgC,
		pool:      pool,
		dsn:       dsn,
		teardown:  teardown,
	}, nil
}

// LocalDSN returns the first localhost DSN that accepts a connection.
func LocalDSN(ctx context.Context) (string, error) {
	var lastErr error
	for _, dsn := range localCandidates(os.Getenv) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := pgx.Connect(pingCtx, dsn)
		if err == nil {
			err = conn.Ping(pingCtx)
			conn.Close(pingCtx)
		}
		cancel()
		if err == nil {
			return dsn, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no local postgres on 127.0.0.1:5432: %w", lastErr)
}

// localCandidates lists the logins tried against a local server: PGUSER and
// PGPASSWORD when set, then the stock postgres superuser, then the OS user.
func localCandidates(getenv func(string) string) []string {
	type login struct{ user, password string }
	var logins []login
	if u := getenv("PGUSER"); u != "" {
		logins = append(logins, login{u, getenv("PGPASSWORD")})
	}
	logins = append(logins, login{"postgres", ""}, login{"postgres", "postgres"})
	if u := getenv("USER"); u != "" && u != "postgres" {
		logins = append(logins, login{u, ""})
	}

	out := make([]string, 0, len(logins))
	for _, l := range logins {
		u := url.URL{
			Scheme:   "postgres",
			Host:     "127.0.0.1:5432",
			Path:     "/postgres",
			RawQuery: "sslmode=disable",
		}
		if l.password != "" {
			u.User = url.UserPassword(l.user, l.password)
		} else {
			u.User = url.User(l.user)
		}
		out = append(out, u.String())
	}
	return out
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates every table so each test starts from an empty store.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, `TRUNCATE TABLE status_events, inquiries, rental_agreements, offers, properties, users CASCADE`)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
