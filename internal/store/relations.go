package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// AdjustRelationship adds delta to the pair's score in a single upsert. The
// score is clamped and the label inferred in SQL, so concurrent writers on
// the same pair never leave the row out of range.
func (s *Store) AdjustRelationship(ctx context.Context, a, b string, delta int, label world.RelationLabel) (*world.Relationship, error) {
	lo, hi := world.PairKey(a, b)
	if lo == hi {
		return nil, fmt.Errorf("adjust relationship: %s with itself", lo)
	}

	// $4..$7: min, max, friendly, hostile
	row := s.db.QueryRow(ctx, `
		WITH next AS (
			SELECT GREATEST($4::int, LEAST($5::int, COALESCE(
				(SELECT score FROM relationships WHERE agent_a = $1 AND agent_b = $2), 0) + $3::int)) AS score,
			       COALESCE((SELECT label FROM relationships WHERE agent_a = $1 AND agent_b = $2), 'neutral') AS label
		)
		INSERT INTO relationships (agent_a, agent_b, score, label, updated_at)
		SELECT $1, $2, next.score,
		       CASE
		           WHEN $8 <> '' THEN $8
		           WHEN next.label = 'romantic' AND next.score > 0 THEN 'romantic'
		           WHEN next.score >= $6::int THEN 'friendly'
		           WHEN next.score <= $7::int THEN 'hostile'
		           ELSE 'neutral'
		       END,
		       NOW()
		FROM next
		ON CONFLICT (agent_a, agent_b) DO UPDATE SET
			score = GREATEST($4::int, LEAST($5::int, relationships.score + $3::int)),
			label = CASE
			    WHEN $8 <> '' THEN $8
			    WHEN relationships.label = 'romantic'
			         AND GREATEST($4::int, LEAST($5::int, relationships.score + $3::int)) > 0 THEN 'romantic'
			    WHEN GREATEST($4::int, LEAST($5::int, relationships.score + $3::int)) >= $6::int THEN 'friendly'
			    WHEN GREATEST($4::int, LEAST($5::int, relationships.score + $3::int)) <= $7::int THEN 'hostile'
			    ELSE 'neutral'
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING agent_a, agent_b, score, label, updated_at`,
		lo, hi, delta,
		world.MinRelationScore, world.MaxRelationScore,
		world.FriendlyThreshold, world.HostileThreshold,
		string(label),
	)

	var rel world.Relationship
	var lbl string
	if err := row.Scan(&rel.AgentA, &rel.AgentB, &rel.Score, &lbl, &rel.UpdatedAt); err != nil {
		return nil, fmt.Errorf("adjust relationship %s/%s: %w", lo, hi, err)
	}
	rel.Label = world.RelationLabel(lbl)
	return &rel, nil
}

// ListRelationships returns every relationship the agent takes part in,
// strongest first.
func (s *Store) ListRelationships(ctx context.Context, agentID string) ([]world.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT agent_a, agent_b, score, label, updated_at
		FROM relationships
		WHERE agent_a = $1 OR agent_b = $1
		ORDER BY score DESC, agent_a, agent_b`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []world.Relationship
	for rows.Next() {
		var rel world.Relationship
		var lbl string
		if err := rows.Scan(&rel.AgentA, &rel.AgentB, &rel.Score, &lbl, &rel.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Label = world.RelationLabel(lbl)
		out = append(out, rel)
	}
	return out, rows.Err()
}
