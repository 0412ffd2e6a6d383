package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// keywordScanLimit bounds how many recent memories a keyword recall scans.
const keywordScanLimit = 200

// Lister reads an agent's memories, newest first.
type Lister interface {
	ListMemories(ctx context.Context, agentID string, limit int) ([]world.Memory, error)
}

// KeywordRecaller recalls memories by keyword overlap. It is the fallback
// when no embedding endpoint is configured.
type KeywordRecaller struct {
	store Lister
}

// NewKeywordRecaller creates a keyword recaller.
func NewKeywordRecaller(store Lister) *KeywordRecaller {
	return &KeywordRecaller{store: store}
}

// Recall scores the agent's recent memories against query.
func (r *KeywordRecaller) Recall(ctx context.Context, agentID, query string, limit int) ([]world.Memory, error) {
	keywords := tokenize(query)
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}
	mems, err := r.store.ListMemories(ctx, agentID, keywordScanLimit)
	if err != nil {
		return nil, err
	}

	type scored struct {
		mem   world.Memory
		score float64
	}
	var hits []scored
	for _, m := range mems {
		s := keywordSimilarity(keywords, m.Content)
		if s <= 0 {
			continue
		}
		hits = append(hits, scored{m, s * importanceWeight(m.Importance)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]world.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.mem
	}
	return out, nil
}

// keywordSimilarity blends a Jaccard-style overlap with keyword coverage.
// Substring hits count for less than whole-word hits.
func keywordSimilarity(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(text)
	targetWords := tokenize(target)
	targetSet := make(map[string]bool, len(targetWords))
	for _, w := range targetWords {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		if targetSet[kw] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, kw) {
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	jaccard := float64(matched) / math.Max(float64(len(keywords)+len(targetSet)-matched), 1)
	coverage := weighted / float64(len(keywords))
	return 0.4*jaccard + 0.6*coverage
}

// tokenize splits text into lowercase word tokens, keeping non-ASCII runs
// and dropping single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	seen := make(map[string]bool, len(fields))
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len([]rune(w)) > 1 && !seen[w] {
			seen[w] = true
			result = append(result, w)
		}
	}
	return result
}
