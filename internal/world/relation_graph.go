package world

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// RelationGraph stores relationships as RELATES_TO edges in Neo4j.
// Edges always point from the lower agent ID to the higher one, so each
// unordered pair has exactly one edge.
type RelationGraph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRelationGraph creates a relation graph backed by Neo4j.
func NewRelationGraph(driver neo4j.DriverWithContext, logger *zap.Logger) *RelationGraph {
	return &RelationGraph{
		driver: driver,
		logger: logger,
	}
}

// NewRelationGraphFromURI dials Neo4j and verifies connectivity.
func NewRelationGraphFromURI(ctx context.Context, uri, user, password string, logger *zap.Logger) (*RelationGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j: %w", err)
	}
	return NewRelationGraph(driver, logger), nil
}

// Close shuts down the Neo4j driver.
func (g *RelationGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// AdjustRelationship adds delta to the pair's score inside a single MERGE,
// clamping and relabelling server-side.
func (g *RelationGraph) AdjustRelationship(ctx context.Context, a, b string, delta int, label RelationLabel) (*Relationship, error) {
	lo, hi := PairKey(a, b)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MERGE (a:Agent {id: $a})
		 MERGE (b:Agent {id: $b})
		 MERGE (a)-[r:RELATES_TO]->(b)
		 ON CREATE SET r.score = 0, r.label = 'neutral'
		 WITH r, CASE
		     WHEN r.score + $delta > $max THEN $max
		     WHEN r.score + $delta < $min THEN $min
		     ELSE r.score + $delta END AS s
		 SET r.label = CASE
		         WHEN $label <> '' THEN $label
		         WHEN r.label = 'romantic' AND s > 0 THEN 'romantic'
		         WHEN s >= $friendly THEN 'friendly'
		         WHEN s <= $hostile THEN 'hostile'
		         ELSE 'neutral' END,
		     r.score = s,
		     r.updated_at = datetime()
		 RETURN r.score AS score, r.label AS label`,
		map[string]interface{}{
			"a":        lo,
			"b":        hi,
			"delta":    delta,
			"min":      MinRelationScore,
			"max":      MaxRelationScore,
			"label":    string(label),
			"friendly": FriendlyThreshold,
			"hostile":  HostileThreshold,
		})
	if err != nil {
		return nil, fmt.Errorf("adjust relation: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("adjust relation: %w", err)
		}
		return nil, fmt.Errorf("adjust relation: no row returned")
	}
	rec := result.Record()
	score, _ := rec.Get("score")
	lbl, _ := rec.Get("label")

	rel := &Relationship{
		AgentA:    lo,
		AgentB:    hi,
		Score:     toInt(score),
		Label:     RelationLabel(toString(lbl)),
		UpdatedAt: time.Now(),
	}
	g.logger.Debug("relation adjusted",
		zap.String("a", lo), zap.String("b", hi),
		zap.Int("delta", delta), zap.Int("score", rel.Score))
	return rel, nil
}

// ListRelationships returns every relationship the agent takes part in.
func (g *RelationGraph) ListRelationships(ctx context.Context, agentID string) ([]Relationship, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent)-[r:RELATES_TO]->(b:Agent)
		 WHERE a.id = $agentId OR b.id = $agentId
		 RETURN a.id AS a, b.id AS b, r.score AS score, r.label AS label
		 ORDER BY r.score DESC`,
		map[string]interface{}{"agentId": agentID})
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}

	var out []Relationship
	for result.Next(ctx) {
		rec := result.Record()
		a, _ := rec.Get("a")
		b, _ := rec.Get("b")
		score, _ := rec.Get("score")
		lbl, _ := rec.Get("label")
		out = append(out, Relationship{
			AgentA: toString(a),
			AgentB: toString(b),
			Score:  toInt(score),
			Label:  RelationLabel(toString(lbl)),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	return out, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
