package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the store-wide invariants. Each query selects offending rows,
// so an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_accepted_offer",
			SQL: `SELECT property_id, COUNT(*) FROM offers
                  WHERE status = 'ACCEPTED'
                  GROUP BY property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_one_active_agreement",
			SQL: `SELECT property_id, COUNT(*) FROM rental_agreements
                  WHERE status = 'ACTIVE'
                  GROUP BY property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_accepted_offer_means_sold",
			SQL: `SELECT o.id, p.id, p.status FROM offers o
                  JOIN properties p ON p.id = o.property_id
                  WHERE o.status = 'ACCEPTED' AND p.status <> 'SOLD'`,
		},
		{
			Name: "O4_no_pending_beside_accepted",
			SQL: `SELECT o.id, o.property_id FROM offers o
                  WHERE o.status = 'PENDING'
                    AND EXISTS (SELECT 1 FROM offers a
                                WHERE a.property_id = o.property_id AND a.status = 'ACCEPTED')`,
		},
		{
			Name: "O5_active_agreement_means_rented",
			SQL: `SELECT a.id, p.id, p.status FROM rental_agreements a
                  JOIN properties p ON p.id = a.property_id
                  WHERE a.status = 'ACTIVE' AND p.status <> 'RENTED'`,
		},
		{
			Name: "O6_status_has_cause",
			SQL: `SELECT p.id, p.status FROM properties p
                  WHERE (p.status = 'SOLD' AND NOT EXISTS (
                            SELECT 1 FROM offers o WHERE o.property_id = p.id AND o.status = 'ACCEPTED'))
                     OR (p.status = 'RENTED' AND NOT EXISTS (
                            SELECT 1 FROM rental_agreements a WHERE a.property_id = p.id AND a.status = 'ACTIVE'))`,
		},
		{
			Name: "O7_timeline_per_transition",
			SQL: `SELECT o.id FROM offers o
                  WHERE o.status <> 'PENDING'
                    AND NOT EXISTS (SELECT 1 FROM status_events e
                                    WHERE e.entity_id = o.id AND e.to_status = o.status)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
