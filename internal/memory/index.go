package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/embedding"
	"github.com/nidhogg/nuka-heartbeat/internal/vectorstore"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// DefaultCollection holds agent memories.
const DefaultCollection = "agent_memories"

// fallbackDimension is used when the embedder cannot report its width yet.
const fallbackDimension = 1024

// Vectors is the subset of the Qdrant client the index uses.
type Vectors interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, match map[string]string) ([]*vectorstore.SearchResult, error)
}

// RankConfig weighs a similarity hit by importance and age.
type RankConfig struct {
	HalfLifeHours float64 // age at which the recency factor halves (default 168 = 1 week)
	MinRecency    float64 // floor for the recency factor (default 0.05)
}

// DefaultRankConfig returns sensible defaults.
func DefaultRankConfig() RankConfig {
	return RankConfig{HalfLifeHours: 168, MinRecency: 0.05}
}

// Index embeds memories into Qdrant and recalls them by similarity.
type Index struct {
	embedder   embedding.Provider
	vectors    Vectors
	collection string
	rank       RankConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewIndex creates a memory index over the given collection.
func NewIndex(embedder embedding.Provider, vectors Vectors, collection string, logger *zap.Logger) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		rank:       DefaultRankConfig(),
		now:        time.Now,
		logger:     logger,
	}
}

// Init ensures the collection exists.
func (x *Index) Init(ctx context.Context) error {
	dim := uint64(x.embedder.Dimension())
	if dim == 0 {
		dim = fallbackDimension
	}
	if err := x.vectors.EnsureCollection(ctx, x.collection, dim); err != nil {
		return fmt.Errorf("init memory index: %w", err)
	}
	return nil
}

// Index embeds and stores one memory.
func (x *Index) Index(ctx context.Context, m *world.Memory) error {
	vecs, err := x.embedder.Embed(ctx, []string{m.Content})
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed memory: empty result")
	}
	return x.vectors.Upsert(ctx, x.collection, vectorstore.Point{
		ID:     m.ID,
		Vector: vecs[0],
		Payload: map[string]string{
			"agent_id":   m.AgentID,
			"content":    m.Content,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
		},
		Ints: map[string]int64{"importance": int64(m.Importance)},
	})
}

// Recall returns the agent's memories closest to query, ranked by similarity
// weighted with importance and recency.
func (x *Index) Recall(ctx context.Context, agentID, query string, limit int) ([]world.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	// over-fetch so reranking has something to work with
	hits, err := x.vectors.Search(ctx, x.collection, vecs[0], uint64(limit*3), map[string]string{"agent_id": agentID})
	if err != nil {
		return nil, err
	}

	type ranked struct {
		mem   world.Memory
		score float64
	}
	now := x.now()
	out := make([]ranked, 0, len(hits))
	for _, h := range hits {
		m := fromPayload(h, agentID)
		out = append(out, ranked{mem: m, score: float64(h.Score) * importanceWeight(m.Importance) * x.recency(now, m.CreatedAt)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > limit {
		out = out[:limit]
	}

	mems := make([]world.Memory, len(out))
	for i, r := range out {
		mems[i] = r.mem
	}
	x.logger.Debug("recalled memories",
		zap.String("agent", agentID), zap.Int("hits", len(hits)), zap.Int("kept", len(mems)))
	return mems, nil
}

func fromPayload(h *vectorstore.SearchResult, agentID string) world.Memory {
	m := world.Memory{ID: h.ID, AgentID: agentID, Content: h.Payload["content"]}
	if v, err := strconv.Atoi(h.Payload["importance"]); err == nil {
		m.Importance = v
	}
	if t, err := time.Parse(time.RFC3339, h.Payload["created_at"]); err == nil {
		m.CreatedAt = t
	}
	return m
}

// importanceWeight maps importance 1..10 onto 0.55..1.
func importanceWeight(importance int) float64 {
	return 0.5 + 0.05*float64(world.ClampImportance(importance))
}

// recency halves every HalfLifeHours, never below MinRecency.
func (x *Index) recency(now, created time.Time) float64 {
	if created.IsZero() || x.rank.HalfLifeHours <= 0 {
		return 1
	}
	hours := now.Sub(created).Hours()
	if hours <= 0 {
		return 1
	}
	return math.Max(math.Pow(0.5, hours/x.rank.HalfLifeHours), x.rank.MinRecency)
}
