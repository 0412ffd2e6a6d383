package world

import (
	"context"
	"time"
)

// RelationLabel categorizes how two agents feel about each other.
type RelationLabel string

const (
	RelationHostile  RelationLabel = "hostile"
	RelationNeutral  RelationLabel = "neutral"
	RelationFriendly RelationLabel = "friendly"
	RelationRomantic RelationLabel = "romantic"
)

const (
	MinRelationScore = -100
	MaxRelationScore = 100

	// FriendlyThreshold is the score at which a pair becomes friendly.
	FriendlyThreshold = 30
	// HostileThreshold is the score at or below which a pair becomes hostile.
	HostileThreshold = -30
)

// Relationship is the single row for an unordered pair of agents.
// AgentA always sorts before AgentB.
type Relationship struct {
	AgentA    string        `json:"agent_a"`
	AgentB    string        `json:"agent_b"`
	Score     int           `json:"score"`
	Label     RelationLabel `json:"label"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Other returns the counterpart of agentID in the pair.
func (r *Relationship) Other(agentID string) string {
	if r.AgentA == agentID {
		return r.AgentB
	}
	return r.AgentA
}

// Relations persists relationship rows. An empty label asks the backend to
// infer one from the new score.
type Relations interface {
	AdjustRelationship(ctx context.Context, a, b string, delta int, label RelationLabel) (*Relationship, error)
	ListRelationships(ctx context.Context, agentID string) ([]Relationship, error)
}

// PairKey orders two agent IDs canonically.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ClampScore bounds a relationship score to [MinRelationScore, MaxRelationScore].
func ClampScore(score int) int {
	if score < MinRelationScore {
		return MinRelationScore
	}
	if score > MaxRelationScore {
		return MaxRelationScore
	}
	return score
}

// InferLabel derives a label from a score. A romantic pair stays romantic
// while the score is positive.
func InferLabel(score int, current RelationLabel) RelationLabel {
	if current == RelationRomantic && score > 0 {
		return RelationRomantic
	}
	switch {
	case score >= FriendlyThreshold:
		return RelationFriendly
	case score <= HostileThreshold:
		return RelationHostile
	default:
		return RelationNeutral
	}
}

// ApplyDelta returns rel updated by delta, re-clamped and relabelled.
// A nil rel starts from a neutral zero score.
func ApplyDelta(rel *Relationship, a, b string, delta int, label RelationLabel, now time.Time) *Relationship {
	out := Relationship{Label: RelationNeutral}
	if rel != nil {
		out = *rel
	}
	out.AgentA, out.AgentB = PairKey(a, b)
	out.Score = ClampScore(out.Score + delta)
	if label != "" {
		out.Label = label
	} else {
		out.Label = InferLabel(out.Score, out.Label)
	}
	out.UpdatedAt = now
	return &out
}
