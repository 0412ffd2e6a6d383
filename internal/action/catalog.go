package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/resolve"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

const (
	// PageSize is the number of threads per browse page.
	PageSize = 10

	// ReplyRelationDelta nudges a pair closer when one replies to the other.
	ReplyRelationDelta = 2

	viewMemoryImportance      = 2
	defaultRememberImportance = 5
)

// Board is the bulletin board collaborator.
type Board interface {
	ListThreads(ctx context.Context, offset, limit int) ([]world.Thread, error)
	GetThread(ctx context.Context, id string) (*world.Thread, error)
	ListReplies(ctx context.Context, threadID string) ([]world.Reply, error)
	CreateThread(ctx context.Context, t *world.Thread) error
	CreateReply(ctx context.Context, r *world.Reply) error
}

// Inventory reads and moves item ownership.
type Inventory interface {
	ListInventory(ctx context.Context, agentID string) ([]world.InventoryEntry, error)
	TransferItem(ctx context.Context, entryID, fromAgentID, toAgentID string, at time.Time) error
}

// Directory lists the world's agents.
type Directory interface {
	ListAgents(ctx context.Context) ([]world.Agent, error)
}

// MemoryWriter appends agent memories.
type MemoryWriter interface {
	AddMemory(ctx context.Context, m *world.Memory) error
}

// EventSink publishes world events.
type EventSink interface {
	EmitEvent(ctx context.Context, e *world.WorldEvent) error
}

// Deps are the collaborators the catalog acts on.
type Deps struct {
	Board     Board
	Inventory Inventory
	Agents    Directory
	Memories  MemoryWriter
	Relations world.Relations
	Events    EventSink
	Resolver  resolve.Resolver
}

// Catalog is the fixed set of actions an agent may take during a heartbeat.
type Catalog struct {
	*Registry
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

// NewCatalog builds the action catalog.
func NewCatalog(deps Deps, logger *zap.Logger) *Catalog {
	if deps.Resolver == nil {
		deps.Resolver = resolve.SubstringResolver{}
	}
	c := &Catalog{
		Registry: NewRegistry(),
		deps:     deps,
		now:      time.Now,
		logger:   logger,
	}
	c.register()
	return c
}

func (c *Catalog) register() {
	str := func(desc string) map[string]string {
		return map[string]string{"type": "string", "description": desc}
	}
	num := func(desc string) map[string]string {
		return map[string]string{"type": "integer", "description": desc}
	}

	c.Register(tool(Browse, "List recent bulletin board threads, newest first.",
		map[string]interface{}{"page": num("Page number, starting at 1")}), c.browse)
	c.Register(tool(View, "Read a thread and all of its replies.",
		map[string]interface{}{"thread_id": str("Full thread id as shown by browse")}, "thread_id"), c.view)
	c.Register(tool(Post, "Start a new thread on the bulletin board.",
		map[string]interface{}{"title": str("Thread title"), "content": str("Thread body")}, "title", "content"), c.post)
	c.Register(tool(Reply, "Reply to an existing thread.",
		map[string]interface{}{"thread_id": str("Full thread id as shown by browse"), "content": str("Reply text")}, "thread_id", "content"), c.reply)
	c.Register(tool(Give, "Give one of your items to another character.",
		map[string]interface{}{"item_name": str("Name of the item in your inventory"), "recipient_name": str("Name of the character receiving it")}, "item_name", "recipient_name"), c.give)
	c.Register(tool(Remember, "Write something down in your long-term memory.",
		map[string]interface{}{"content": str("What to remember"), "importance": num("1 (trivial) to 10 (life changing)")}, "content"), c.remember)
	c.Register(tool(End, "Go back to sleep until the next heartbeat.",
		map[string]interface{}{"reason": str("Why you are done for now")}), c.end)
}

// ThreadSummary is one row of a browse page.
type ThreadSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	ReplyCount int       `json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// BrowsePage is the payload of browse.
type BrowsePage struct {
	Page    int             `json:"page"`
	Threads []ThreadSummary `json:"threads"`
	HasMore bool            `json:"has_more"`
}

func (c *Catalog) browse(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		Page int `json:"page"`
	}
	if r := decode(Browse, args, &p); r != nil {
		return *r
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > math.MaxInt/PageSize {
		return ok(BrowsePage{Page: p.Page, Threads: []ThreadSummary{}}, "no threads on page %d", p.Page)
	}

	threads, err := c.deps.Board.ListThreads(ctx, (p.Page-1)*PageSize, PageSize+1)
	if err != nil {
		c.logger.Warn("browse failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not load the board right now")
	}
	page := BrowsePage{Page: p.Page, Threads: []ThreadSummary{}}
	if len(threads) > PageSize {
		page.HasMore = true
		threads = threads[:PageSize]
	}
	if len(threads) == 0 {
		if p.Page == 1 {
			return ok(page, "no threads yet")
		}
		return ok(page, "no threads on page %d", p.Page)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "page %d:", p.Page)
	for _, t := range threads {
		page.Threads = append(page.Threads, ThreadSummary{
			ID:         t.ID,
			Title:      t.Title,
			Author:     t.AuthorName,
			ReplyCount: t.ReplyCount,
			CreatedAt:  t.CreatedAt,
		})
		fmt.Fprintf(&b, "\n- [%s] %q by %s (%d replies)", t.ID, t.Title, t.AuthorName, t.ReplyCount)
	}
	if page.HasMore {
		fmt.Fprintf(&b, "\nmore on page %d", p.Page+1)
	}
	return ok(page, "%s", b.String())
}

// ThreadView is the payload of view.
type ThreadView struct {
	Thread  world.Thread  `json:"thread"`
	Replies []world.Reply `json:"replies"`
}

func (c *Catalog) view(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		ThreadID string `json:"thread_id"`
	}
	if r := decode(View, args, &p); r != nil {
		return *r
	}
	if r := checkThreadID(p.ThreadID); r != nil {
		return *r
	}

	t, r := c.loadThread(ctx, self, p.ThreadID)
	if r != nil {
		return *r
	}
	replies, err := c.deps.Board.ListReplies(ctx, t.ID)
	if err != nil {
		c.logger.Warn("list replies failed", zap.String("thread", t.ID), zap.Error(err))
		return fail("could not load replies for %q", t.Title)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%q by %s:\n%s", t.Title, t.AuthorName, t.Content)
	if len(replies) == 0 {
		b.WriteString("\n(no replies yet)")
	}
	for _, rp := range replies {
		fmt.Fprintf(&b, "\n> %s: %s", rp.AuthorName, rp.Content)
	}

	c.rememberQuietly(ctx, &world.Memory{
		AgentID:    self.ID,
		Content:    fmt.Sprintf("I read %q by %s (%d replies)", t.Title, t.AuthorName, len(replies)),
		Importance: viewMemoryImportance,
		Source:     View,
	})
	return ok(ThreadView{Thread: *t, Replies: replies}, "%s", b.String())
}

func (c *Catalog) post(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if r := decode(Post, args, &p); r != nil {
		return *r
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)
	if p.Title == "" || p.Content == "" {
		return fail("post needs both a title and content")
	}

	t := &world.Thread{
		ID:         uuid.New().String(),
		AuthorID:   self.ID,
		AuthorName: self.Name,
		Title:      p.Title,
		Content:    p.Content,
		CreatedAt:  c.now(),
	}
	if err := c.deps.Board.CreateThread(ctx, t); err != nil {
		c.logger.Warn("create thread failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not publish your post")
	}
	c.emit(ctx, &world.WorldEvent{
		Type:     world.EventThreadPosted,
		AgentID:  self.ID,
		Content:  fmt.Sprintf("%s posted %q", self.Name, t.Title),
		Metadata: map[string]string{"thread_id": t.ID},
	})
	return ok(map[string]string{"thread_id": t.ID}, "posted %q (thread id %s)", t.Title, t.ID)
}

func (c *Catalog) reply(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		ThreadID string `json:"thread_id"`
		Content  string `json:"content"`
	}
	if r := decode(Reply, args, &p); r != nil {
		return *r
	}
	if r := checkThreadID(p.ThreadID); r != nil {
		return *r
	}
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" {
		return fail("reply content is empty")
	}

	t, r := c.loadThread(ctx, self, p.ThreadID)
	if r != nil {
		return *r
	}
	rp := &world.Reply{
		ID:         uuid.New().String(),
		ThreadID:   t.ID,
		AuthorID:   self.ID,
		AuthorName: self.Name,
		Content:    p.Content,
		CreatedAt:  c.now(),
	}
	if err := c.deps.Board.CreateReply(ctx, rp); err != nil {
		c.logger.Warn("create reply failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not publish your reply")
	}

	if t.AuthorID != "" && t.AuthorID != self.ID {
		if _, err := c.deps.Relations.AdjustRelationship(ctx, self.ID, t.AuthorID, ReplyRelationDelta, ""); err != nil {
			c.logger.Warn("reply relation update failed",
				zap.String("agent", self.ID), zap.String("author", t.AuthorID), zap.Error(err))
		}
	}
	c.emit(ctx, &world.WorldEvent{
		Type:     world.EventThreadReplied,
		AgentID:  self.ID,
		TargetID: t.AuthorID,
		Content:  fmt.Sprintf("%s replied to %q", self.Name, t.Title),
		Metadata: map[string]string{"thread_id": t.ID, "reply_id": rp.ID},
	})
	return ok(map[string]string{"thread_id": t.ID, "reply_id": rp.ID}, "replied to %q", t.Title)
}

func (c *Catalog) remember(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		Content    string `json:"content"`
		Importance int    `json:"importance"`
	}
	if r := decode(Remember, args, &p); r != nil {
		return *r
	}
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" {
		return fail("nothing to remember")
	}
	if p.Importance == 0 {
		p.Importance = defaultRememberImportance
	}

	m := &world.Memory{
		ID:         uuid.New().String(),
		AgentID:    self.ID,
		Content:    p.Content,
		Importance: world.ClampImportance(p.Importance),
		Source:     Remember,
		CreatedAt:  c.now(),
	}
	if err := c.deps.Memories.AddMemory(ctx, m); err != nil {
		c.logger.Warn("remember failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not write that memory down")
	}
	return ok(map[string]interface{}{"memory_id": m.ID, "importance": m.Importance},
		"remembered (importance %d)", m.Importance)
}

func (c *Catalog) end(_ context.Context, _ world.Agent, args json.RawMessage) Result {
	var p struct {
		Reason string `json:"reason"`
	}
	if r := decode(End, args, &p); r != nil {
		return *r
	}
	p.Reason = strings.TrimSpace(p.Reason)
	if p.Reason == "" {
		return ok(nil, "session ended")
	}
	return ok(map[string]string{"reason": p.Reason}, "session ended: %s", p.Reason)
}

// checkThreadID rejects ids that are not full UUIDs before any store call.
func checkThreadID(id string) *Result {
	id = strings.TrimSpace(id)
	if id == "" {
		r := fail("thread_id is required")
		return &r
	}
	if _, err := uuid.Parse(id); err != nil {
		r := fail("invalid thread_id %q: use the full id shown by browse", id)
		return &r
	}
	return nil
}

func (c *Catalog) loadThread(ctx context.Context, self world.Agent, id string) (*world.Thread, *Result) {
	t, err := c.deps.Board.GetThread(ctx, strings.TrimSpace(id))
	if errors.Is(err, world.ErrNotFound) {
		r := fail("thread %s not found", id)
		return nil, &r
	}
	if err != nil {
		c.logger.Warn("get thread failed", zap.String("agent", self.ID), zap.String("thread", id), zap.Error(err))
		r := fail("could not load thread %s", id)
		return nil, &r
	}
	return t, nil
}

// rememberQuietly writes a synthetic memory; failures are only logged.
func (c *Catalog) rememberQuietly(ctx context.Context, m *world.Memory) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}
	m.Importance = world.ClampImportance(m.Importance)
	if err := c.deps.Memories.AddMemory(ctx, m); err != nil {
		c.logger.Warn("memory write failed",
			zap.String("agent", m.AgentID), zap.String("source", m.Source), zap.Error(err))
	}
}

// emit publishes a world event; failures are only logged.
func (c *Catalog) emit(ctx context.Context, e *world.WorldEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	if err := c.deps.Events.EmitEvent(ctx, e); err != nil {
		c.logger.Warn("world event failed",
			zap.String("type", string(e.Type)), zap.String("agent", e.AgentID), zap.Error(err))
	}
}
