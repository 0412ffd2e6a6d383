// Package memstore is an in-process store with the same surface as the
// Postgres store. It backs unit tests and single-process runs without a
// database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// Store keeps every table in memory behind one lock.
type Store struct {
	mu        sync.RWMutex
	agents    map[string]world.Agent
	agentSeq  []string
	inventory []world.InventoryEntry
	memories  []world.Memory
	relations map[[2]string]world.Relationship
	events    []world.WorldEvent
	logs      []world.ActionRecord
	threads   []world.Thread
	replies   []world.Reply
	chats     map[string][]world.ChatExcerpt
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:    make(map[string]world.Agent),
		relations: make(map[[2]string]world.Relationship),
		chats:     make(map[string][]world.ChatExcerpt),
	}
}

// --- agents ---

func (s *Store) UpsertAgent(_ context.Context, a *world.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if _, ok := s.agents[a.ID]; !ok {
		s.agentSeq = append(s.agentSeq, a.ID)
	}
	s.agents[a.ID] = *a
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*world.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, world.ErrNotFound)
	}
	return &a, nil
}

// ListAgents returns agents in insertion order.
func (s *Store) ListAgents(_ context.Context) ([]world.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]world.Agent, 0, len(s.agentSeq))
	for _, id := range s.agentSeq {
		out = append(out, s.agents[id])
	}
	return out, nil
}

// --- inventory ---

// AddInventory grants an item. Granting an owned item moves it.
func (s *Store) AddInventory(_ context.Context, e *world.InventoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.AcquiredAt.IsZero() {
		e.AcquiredAt = time.Now()
	}
	if e.Item.Rarity == "" {
		e.Item.Rarity = world.RarityCommon
	}
	for i := range s.inventory {
		if s.inventory[i].Item.ID == e.Item.ID {
			s.inventory[i] = *e
			return nil
		}
	}
	s.inventory = append(s.inventory, *e)
	return nil
}

func (s *Store) ListInventory(_ context.Context, agentID string) ([]world.InventoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.InventoryEntry
	for _, e := range s.inventory {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out, nil
}

func (s *Store) ListGiftsReceived(_ context.Context, agentID string, since time.Time) ([]world.InventoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.InventoryEntry
	for _, e := range s.inventory {
		if e.AgentID == agentID && e.GiftedAt != nil && e.GiftedAt.After(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GiftedAt.Before(*out[j].GiftedAt) })
	return out, nil
}

func (s *Store) TransferItem(_ context.Context, entryID, fromAgentID, toAgentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inventory {
		e := &s.inventory[i]
		if e.ID != entryID || e.AgentID != fromAgentID {
			continue
		}
		e.AgentID = toAgentID
		e.GiftedBy = fromAgentID
		e.GiftedAt = &at
		e.AcquiredAt = at
		return nil
	}
	return fmt.Errorf("transfer item %s: %w", entryID, world.ErrNotFound)
}

// --- memories ---

func (s *Store) AddMemory(_ context.Context, m *world.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Importance = world.ClampImportance(m.Importance)
	s.memories = append(s.memories, *m)
	return nil
}

// ListMemories returns the newest memories first.
func (s *Store) ListMemories(_ context.Context, agentID string, limit int) ([]world.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []world.Memory
	for i := len(s.memories) - 1; i >= 0 && len(out) < limit; i-- {
		if s.memories[i].AgentID == agentID {
			out = append(out, s.memories[i])
		}
	}
	return out, nil
}

// --- relationships ---

func (s *Store) AdjustRelationship(_ context.Context, a, b string, delta int, label world.RelationLabel) (*world.Relationship, error) {
	lo, hi := world.PairKey(a, b)
	if lo == hi {
		return nil, fmt.Errorf("adjust relationship: %s with itself", lo)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{lo, hi}
	var cur *world.Relationship
	if r, ok := s.relations[key]; ok {
		cur = &r
	}
	next := world.ApplyDelta(cur, lo, hi, delta, label, time.Now())
	s.relations[key] = *next
	return next, nil
}

func (s *Store) ListRelationships(_ context.Context, agentID string) ([]world.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.Relationship
	for _, r := range s.relations {
		if r.AgentA == agentID || r.AgentB == agentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentA+out[i].AgentB < out[j].AgentA+out[j].AgentB
	})
	return out, nil
}

// --- world events ---

func (s *Store) AddWorldEvent(_ context.Context, e *world.WorldEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.events = append(s.events, *e)
	return nil
}

// ListWorldEvents returns events after since, newest first, without cycle
// markers.
func (s *Store) ListWorldEvents(_ context.Context, since time.Time, limit int) ([]world.WorldEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []world.WorldEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if e.Type != world.EventHeartbeatCycle && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) LastEventAt(_ context.Context, t world.EventType) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, e := range s.events {
		if e.Type == t && e.CreatedAt.After(last) {
			last = e.CreatedAt
		}
	}
	return last, nil
}

// --- heartbeat logs ---

func (s *Store) AddActionRecord(_ context.Context, r *world.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, *r)
	return nil
}

func (s *Store) ListActionRecords(_ context.Context, agentID string, limit int) ([]world.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []world.ActionRecord
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].AgentID == agentID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *Store) LastActionAt(_ context.Context, agentID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, r := range s.logs {
		if r.AgentID == agentID && r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	return last, nil
}

// --- board ---

// ListThreads returns threads newest first, ties broken by id.
func (s *Store) ListThreads(_ context.Context, offset, limit int) ([]world.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("list threads: invalid offset %d or limit %d", offset, limit)
	}
	sorted := s.sortedThreads()
	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

func (s *Store) ListThreadsByAuthor(_ context.Context, agentID string, limit int) ([]world.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.Thread
	for _, t := range s.sortedThreads() {
		if len(out) >= limit {
			break
		}
		if t.AuthorID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetThread(_ context.Context, id string) (*world.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.thread(id); t != nil {
		cp := *t
		return &cp, nil
	}
	return nil, fmt.Errorf("get thread %s: %w", id, world.ErrNotFound)
}

func (s *Store) CreateThread(_ context.Context, t *world.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.ReplyCount = 0
	s.threads = append(s.threads, *t)
	return nil
}

func (s *Store) CreateReply(_ context.Context, r *world.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.thread(r.ThreadID)
	if t == nil {
		return fmt.Errorf("create reply: thread %s: %w", r.ThreadID, world.ErrNotFound)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	t.ReplyCount++
	s.replies = append(s.replies, *r)
	return nil
}

func (s *Store) ListReplies(_ context.Context, threadID string) ([]world.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.Reply
	for _, r := range s.replies {
		if r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListRepliesByAuthor(_ context.Context, agentID string, limit int) ([]world.BoardNotice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.BoardNotice
	for i := len(s.replies) - 1; i >= 0 && len(out) < limit; i-- {
		if r := s.replies[i]; r.AuthorID == agentID {
			out = append(out, s.notice(r))
		}
	}
	return out, nil
}

func (s *Store) ListRepliesTo(_ context.Context, agentID string, since time.Time) ([]world.BoardNotice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.BoardNotice
	for _, r := range s.replies {
		t := s.thread(r.ThreadID)
		if t == nil || t.AuthorID != agentID || r.AuthorID == agentID || !r.CreatedAt.After(since) {
			continue
		}
		out = append(out, s.notice(r))
	}
	return out, nil
}

func (s *Store) ListMentions(_ context.Context, agentID, name string, since time.Time) ([]world.BoardNotice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag := "@" + strings.ToLower(name)
	var out []world.BoardNotice
	for _, t := range s.threads {
		if t.AuthorID != agentID && t.CreatedAt.After(since) && strings.Contains(strings.ToLower(t.Content), tag) {
			out = append(out, world.BoardNotice{
				ThreadID: t.ID, ThreadTitle: t.Title, AuthorID: t.AuthorID,
				AuthorName: t.AuthorName, Content: t.Content, CreatedAt: t.CreatedAt,
			})
		}
	}
	for _, r := range s.replies {
		if r.AuthorID != agentID && r.CreatedAt.After(since) && strings.Contains(strings.ToLower(r.Content), tag) {
			out = append(out, s.notice(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) thread(id string) *world.Thread {
	for i := range s.threads {
		if s.threads[i].ID == id {
			return &s.threads[i]
		}
	}
	return nil
}

func (s *Store) notice(r world.Reply) world.BoardNotice {
	n := world.BoardNotice{
		ThreadID:   r.ThreadID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt,
	}
	if t := s.thread(r.ThreadID); t != nil {
		n.ThreadTitle = t.Title
	}
	return n
}

func (s *Store) sortedThreads() []world.Thread {
	out := make([]world.Thread, len(s.threads))
	copy(out, s.threads)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// --- chat ---

func (s *Store) RecordChat(_ context.Context, agentID string, ex world.ChatExcerpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	s.chats[agentID] = append(s.chats[agentID], ex)
	return nil
}

func (s *Store) LastChatExcerpt(_ context.Context, agentID string) (*world.ChatExcerpt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := s.chats[agentID]
	if len(lines) == 0 {
		return nil, nil
	}
	ex := lines[len(lines)-1]
	return &ex, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }
