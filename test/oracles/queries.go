// Package oracles holds SQL invariant checks run against a live database
// while the actors are working. Any returned row is a violation.
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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_state_in_vocabulary",
			SQL: `SELECT id, state FROM escrows
                  WHERE state NOT IN ('CREATED','FORM_SUBMITTED','AGREEMENT_PREVIEW',
                                      'AGREED','FUNDED','DELIVERED',
                                      'RELEASE_REQUESTED','RELEASE_CONFIRMED',
                                      'COMPLETED','DISPUTED','CANCELLED','EXPIRED')`,
		},
		{
			// Every state past the preview requires agreement entries from
			// both distinct parties in the append-only log.
			Name: "O2_agreed_needs_both_parties",
			SQL: `SELECT e.id, e.state FROM escrows e
                  WHERE e.state IN ('AGREED','FUNDED','DELIVERED','RELEASE_REQUESTED',
                                    'RELEASE_CONFIRMED','COMPLETED','DISPUTED')
                    AND (SELECT COUNT(DISTINCT l.actor_id) FROM escrow_logs l
                         WHERE l.escrow_id = e.id AND l.action = 'agreed') < 2`,
		},
		{
			// Transition log entries must chain: each edge starts where the
			// previous one ended.
			Name: "O3_transition_chain",
			SQL: `WITH edges AS (
                      SELECT escrow_id, id,
                             payload->>'from' AS f, payload->>'to' AS t,
                             LAG(payload->>'to') OVER (PARTITION BY escrow_id ORDER BY id) AS prev
                      FROM escrow_logs
                      WHERE payload ? 'from' AND payload ? 'to')
                  SELECT * FROM edges WHERE prev IS NOT NULL AND f <> prev`,
		},
		{
			// The current row state must equal the last logged transition
			// target.
			Name: "O4_state_matches_log",
			SQL: `SELECT e.id, e.state, last.t FROM escrows e
                  JOIN LATERAL (
                      SELECT payload->>'to' AS t FROM escrow_logs l
                      WHERE l.escrow_id = e.id AND payload ? 'to'
                      ORDER BY l.id DESC LIMIT 1
                  ) last ON TRUE
                  WHERE e.state <> last.t`,
		},
		{
			// Tokens are capabilities for the escrow's own parties only.
			Name: "O5_token_party_scope",
			SQL: `SELECT t.token FROM action_tokens t
                  JOIN escrows e ON e.id = t.escrow_id
                  WHERE t.party_id NOT IN (e.buyer_id, e.seller_id)`,
		},
		{
			// A used agree token implies a matching log entry from its party.
			Name: "O6_consumed_token_logged",
			SQL: `SELECT t.token FROM action_tokens t
                  WHERE t.used AND t.action IN ('agree_buyer','agree_seller')
                    AND NOT EXISTS (
                        SELECT 1 FROM escrow_logs l
                        WHERE l.escrow_id = t.escrow_id
                          AND l.action = 'agreed'
                          AND l.actor_id = t.party_id)`,
		},
		{
			Name: "O7_outbox_not_stuck",
			SQL: `SELECT id, topic, status FROM outbox
                  WHERE status IN ('pending','inflight')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_escrow_code_format",
			SQL:  `SELECT id, escrow_code FROM escrows WHERE escrow_code !~ '^ESC-[0-9]{6,}$'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
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
