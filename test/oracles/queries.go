package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants checked during a stress run. threshold is the
// suspension threshold the run was configured with.
func All(threshold int) []Oracle {
	return []Oracle{
		{
			Name: "O1_version_matches_timeline",
			SQL: `SELECT r.id, r.version, COUNT(t.id) FROM quote_requests r
                  LEFT JOIN quote_timeline t ON t.request_id = r.id
                  GROUP BY r.id, r.version HAVING r.version <> COUNT(t.id)`,
		},
		{
			Name: "O2_accept_once_per_round",
			SQL: `SELECT request_id,
                         COUNT(*) FILTER (WHERE type = 'accepted') AS accepted,
                         COUNT(*) FILTER (WHERE type = 'payment_failed') AS failed
                  FROM quote_timeline GROUP BY request_id
                  HAVING COUNT(*) FILTER (WHERE type = 'accepted') >
                         COUNT(*) FILTER (WHERE type = 'payment_failed') + 1`,
		},
		{
			Name: "O3_paid_at_most_once",
			SQL: `SELECT request_id, COUNT(*) FROM quote_timeline
                  WHERE type = 'paid' GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_agreed_has_price",
			SQL: `SELECT id, status FROM quote_requests
                  WHERE status IN ('payment_pending', 'completed')
                    AND (final_price IS NULL OR accepted_at IS NULL)`,
		},
		{
			Name: "O5_offer_owned_by_party",
			SQL: `SELECT id, offer_kind, offer_by FROM quote_requests
                  WHERE (offer_kind = 'agent' AND offer_by IS DISTINCT FROM agent_id)
                     OR (offer_kind = 'customer' AND offer_by IS DISTINCT FROM customer_id)`,
		},
		{
			Name: "O6_violation_count_matches_log",
			SQL: `SELECT r.user_id, r.violation_count, COUNT(v.id) FROM compliance_records r
                  LEFT JOIN compliance_violations v ON v.user_id = r.user_id AND v.cleared_at IS NULL
                  GROUP BY r.user_id, r.violation_count HAVING r.violation_count <> COUNT(v.id)`,
		},
		{
			Name: "O7_suspended_below_threshold",
			SQL: fmt.Sprintf(`SELECT user_id, violation_count FROM compliance_records
                  WHERE status = 'suspended' AND violation_count < %d`, threshold),
		},
		{
			Name: "O8_single_suspension",
			SQL: `SELECT payload->>'user_id', COUNT(*) FROM outbox
                  WHERE topic = 'compliance.user_suspended'
                  GROUP BY payload->>'user_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_user_mirror",
			SQL: `SELECT u.id FROM users u JOIN compliance_records r ON r.user_id = u.id
                  WHERE u.suspended <> (r.status = 'suspended')`,
		},
		{
			Name: "O10_no_post_after_suspension",
			SQL: `SELECT m.id FROM discussion_messages m
                  JOIN compliance_records r ON r.user_id = m.author_id
                  WHERE r.status = 'suspended' AND m.created_at > r.suspended_at`,
		},
		{
			Name: "O11_stale_outbox",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, threshold int) (string, string, error) {
	for _, o := range All(threshold) {
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
	}
	return "", "", nil
}
