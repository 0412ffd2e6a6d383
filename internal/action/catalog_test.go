package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/store/memstore"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type storeEvents struct{ *memstore.Store }

func (e storeEvents) EmitEvent(ctx context.Context, ev *world.WorldEvent) error {
	return e.AddWorldEvent(ctx, ev)
}

// countingBoard records store calls so tests can assert a handler never
// reached the board.
type countingBoard struct {
	*memstore.Store
	gets int
}

func (b *countingBoard) GetThread(ctx context.Context, id string) (*world.Thread, error) {
	b.gets++
	return b.Store.GetThread(ctx, id)
}

type failingMemories struct{}

func (failingMemories) AddMemory(context.Context, *world.Memory) error {
	return errors.New("disk full")
}

var (
	zari = world.Agent{ID: "agent-zari", Name: "Zari"}
	yuki = world.Agent{ID: "agent-yuki", Name: "Yuki"}
)

type fixture struct {
	store   *memstore.Store
	board   *countingBoard
	catalog *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.UpsertAgent(ctx, &zari))
	require.NoError(t, s.UpsertAgent(ctx, &yuki))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"脸", "旧钥匙"} {
		require.NoError(t, s.AddInventory(ctx, &world.InventoryEntry{
			AgentID:    zari.ID,
			Item:       world.Item{ID: fmt.Sprintf("item-%d", i), Name: name, Rarity: world.RarityRare},
			AcquiredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	board := &countingBoard{Store: s}
	c := NewCatalog(Deps{
		Board:     board,
		Inventory: s,
		Agents:    s,
		Memories:  s,
		Relations: s,
		Events:    storeEvents{s},
	}, zap.NewNop())
	return &fixture{store: s, board: board, catalog: c}
}

func (f *fixture) run(self world.Agent, name string, args interface{}) Result {
	b, _ := json.Marshal(args)
	return f.catalog.Execute(context.Background(), self, name, string(b))
}

func (f *fixture) inventoryNames(t *testing.T, agentID string) []string {
	t.Helper()
	inv, err := f.store.ListInventory(context.Background(), agentID)
	require.NoError(t, err)
	return inventoryNames(inv)
}

func (f *fixture) memories(t *testing.T, agentID string) []world.Memory {
	t.Helper()
	m, err := f.store.ListMemories(context.Background(), agentID, 100)
	require.NoError(t, err)
	return m
}

func (f *fixture) events(t *testing.T) []world.WorldEvent {
	t.Helper()
	e, err := f.store.ListWorldEvents(context.Background(), time.Time{}, 100)
	require.NoError(t, err)
	return e
}

func (f *fixture) relations(t *testing.T, agentID string) []world.Relationship {
	t.Helper()
	r, err := f.store.ListRelationships(context.Background(), agentID)
	require.NoError(t, err)
	return r
}

func TestGiveZariToYuki(t *testing.T) {
	f := newFixture(t)

	res := f.run(zari, Give, map[string]string{"item_name": "旧钥匙", "recipient_name": "Yuki"})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, []string{"脸"}, f.inventoryNames(t, zari.ID))
	assert.Equal(t, []string{"旧钥匙"}, f.inventoryNames(t, yuki.ID))

	inv, _ := f.store.ListInventory(context.Background(), yuki.ID)
	assert.Equal(t, zari.ID, inv[0].GiftedBy)
	assert.NotNil(t, inv[0].GiftedAt)

	assert.Len(t, f.memories(t, zari.ID), 1)
	assert.Len(t, f.memories(t, yuki.ID), 1)

	rels := f.relations(t, zari.ID)
	require.Len(t, rels, 1)
	assert.Equal(t, GiftRelationDelta, rels[0].Score)
	assert.Equal(t, yuki.ID, rels[0].Other(zari.ID))

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, world.EventItemGifted, events[0].Type)
	assert.Equal(t, yuki.ID, events[0].TargetID)

	receipt, ok := res.Data.(GiftReceipt)
	require.True(t, ok)
	assert.Equal(t, "旧钥匙", receipt.Item)
	assert.Equal(t, GiftRelationDelta, receipt.RelationScore)
}

func TestGiveFuzzyNames(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, Give, map[string]string{"item_name": "钥匙", "recipient_name": "yu"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"旧钥匙"}, f.inventoryNames(t, yuki.ID))
}

func TestGiveToSelfRejected(t *testing.T) {
	f := newFixture(t)

	res := f.run(zari, Give, map[string]string{"item_name": "脸", "recipient_name": "zari"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "yourself")

	assert.Equal(t, []string{"脸", "旧钥匙"}, f.inventoryNames(t, zari.ID))
	assert.Empty(t, f.memories(t, zari.ID))
	assert.Empty(t, f.events(t))
	assert.Empty(t, f.relations(t, zari.ID))
}

func TestGiveUnknownItemListsInventory(t *testing.T) {
	f := newFixture(t)

	res := f.run(zari, Give, map[string]string{"item_name": "lantern", "recipient_name": "Yuki"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "脸")
	assert.Contains(t, res.Message, "旧钥匙")
	assert.Equal(t, map[string][]string{"inventory": {"脸", "旧钥匙"}}, res.Data)

	res = f.run(yuki, Give, map[string]string{"item_name": "lantern", "recipient_name": "Zari"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "empty")
}

func TestGiveUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, Give, map[string]string{"item_name": "脸", "recipient_name": "Mallory"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
	assert.Equal(t, []string{"脸", "旧钥匙"}, f.inventoryNames(t, zari.ID))
}

func TestGiveSecondaryFailureKeepsTransfer(t *testing.T) {
	f := newFixture(t)
	f.catalog.deps.Memories = failingMemories{}

	res := f.run(zari, Give, map[string]string{"item_name": "脸", "recipient_name": "Yuki"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"脸"}, f.inventoryNames(t, yuki.ID))
	assert.Len(t, f.events(t), 1)
}

func TestRepeatedGiftsBecomeFriendly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.AddInventory(ctx, &world.InventoryEntry{
			AgentID: zari.ID,
			Item:    world.Item{ID: fmt.Sprintf("flower-%d", i), Name: fmt.Sprintf("flower %d", i)},
		}))
		res := f.run(zari, Give, map[string]string{"item_name": fmt.Sprintf("flower %d", i), "recipient_name": "Yuki"})
		require.True(t, res.Success, res.Message)
	}
	rels := f.relations(t, yuki.ID)
	require.Len(t, rels, 1)
	assert.Equal(t, 30, rels[0].Score)
	assert.Equal(t, world.RelationFriendly, rels[0].Label)
}

func TestBrowseEmptyBoard(t *testing.T) {
	f := newFixture(t)

	res := f.run(zari, Browse, map[string]int{"page": 1})
	require.True(t, res.Success)
	assert.Equal(t, "no threads yet", res.Message)

	page, ok := res.Data.(BrowsePage)
	require.True(t, ok)
	assert.Empty(t, page.Threads)
	assert.False(t, page.HasMore)
}

func TestBrowsePages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < PageSize+2; i++ {
		require.NoError(t, f.store.CreateThread(ctx, &world.Thread{
			ID:         uuid.New().String(),
			AuthorID:   yuki.ID,
			AuthorName: yuki.Name,
			Title:      fmt.Sprintf("thread %02d", i),
			Content:    "hello",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first := f.run(zari, Browse, map[string]int{"page": 1}).Data.(BrowsePage)
	assert.Len(t, first.Threads, PageSize)
	assert.True(t, first.HasMore)
	assert.Equal(t, "thread 11", first.Threads[0].Title)

	second := f.run(zari, Browse, map[string]int{"page": 2}).Data.(BrowsePage)
	assert.Len(t, second.Threads, 2)
	assert.False(t, second.HasMore)
	assert.Equal(t, "thread 00", second.Threads[1].Title)

	// same page twice gives the same rows
	again := f.run(zari, Browse, map[string]int{"page": 2}).Data.(BrowsePage)
	assert.Equal(t, second, again)

	empty := f.run(zari, Browse, map[string]int{"page": 5})
	assert.True(t, empty.Success)
	assert.Contains(t, empty.Message, "page 5")
}

func TestBrowseHugePage(t *testing.T) {
	f := newFixture(t)

	var res Result
	assert.NotPanics(t, func() {
		res = f.catalog.Execute(context.Background(), zari, Browse, `{"page": 1152921504606846977}`)
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "no threads on page")
	assert.Empty(t, res.Data.(BrowsePage).Threads)
}

func TestListThreadsRejectsNegativeOffset(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.ListThreads(context.Background(), -PageSize, PageSize)
	assert.Error(t, err)
}

func TestReplyRejectsMalformedThreadID(t *testing.T) {
	f := newFixture(t)

	res := f.run(zari, Reply, map[string]string{"thread_id": "42", "content": "me too"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid thread_id")
	assert.Zero(t, f.board.gets, "store must not be queried for a malformed id")

	res = f.run(zari, View, map[string]string{"thread_id": "42"})
	assert.False(t, res.Success)
	assert.Zero(t, f.board.gets)
}

func TestReplyNudgesRelationship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := &world.Thread{ID: uuid.New().String(), AuthorID: yuki.ID, AuthorName: yuki.Name, Title: "snow", Content: "it snowed"}
	require.NoError(t, f.store.CreateThread(ctx, thread))

	res := f.run(zari, Reply, map[string]string{"thread_id": thread.ID, "content": "I love snow"})
	require.True(t, res.Success, res.Message)

	rels := f.relations(t, zari.ID)
	require.Len(t, rels, 1)
	assert.Equal(t, ReplyRelationDelta, rels[0].Score)

	got, err := f.store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, world.EventThreadReplied, events[0].Type)
	assert.Equal(t, yuki.ID, events[0].TargetID)
}

func TestReplyToOwnThreadLeavesRelationships(t *testing.T) {
	f := newFixture(t)
	thread := &world.Thread{ID: uuid.New().String(), AuthorID: zari.ID, AuthorName: zari.Name, Title: "diary", Content: "day 1"}
	require.NoError(t, f.store.CreateThread(context.Background(), thread))

	res := f.run(zari, Reply, map[string]string{"thread_id": thread.ID, "content": "day 2"})
	require.True(t, res.Success, res.Message)
	assert.Empty(t, f.relations(t, zari.ID))
}

func TestReplyUnknownThread(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, Reply, map[string]string{"thread_id": uuid.New().String(), "content": "hi"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
	assert.Equal(t, 1, f.board.gets)
}

func TestViewWritesLowImportanceMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := &world.Thread{ID: uuid.New().String(), AuthorID: yuki.ID, AuthorName: yuki.Name, Title: "tea", Content: "green or black?"}
	require.NoError(t, f.store.CreateThread(ctx, thread))
	require.NoError(t, f.store.CreateReply(ctx, &world.Reply{ID: uuid.New().String(), ThreadID: thread.ID, AuthorID: zari.ID, AuthorName: "Zari", Content: "green"}))

	res := f.run(zari, View, map[string]string{"thread_id": thread.ID})
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "green or black?")
	assert.Contains(t, res.Message, "Zari: green")

	mems := f.memories(t, zari.ID)
	require.Len(t, mems, 1)
	assert.Equal(t, viewMemoryImportance, mems[0].Importance)
	assert.Equal(t, View, mems[0].Source)
}

func TestViewMemoryFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.catalog.deps.Memories = failingMemories{}
	thread := &world.Thread{ID: uuid.New().String(), AuthorID: yuki.ID, AuthorName: yuki.Name, Title: "tea", Content: "?"}
	require.NoError(t, f.store.CreateThread(context.Background(), thread))

	res := f.run(zari, View, map[string]string{"thread_id": thread.ID})
	assert.True(t, res.Success)
}

func TestPostEmitsEvent(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, Post, map[string]string{"title": "hello", "content": "first post @Yuki"})
	require.True(t, res.Success, res.Message)

	threads, _ := f.store.ListThreads(context.Background(), 0, 10)
	require.Len(t, threads, 1)
	assert.Equal(t, zari.ID, threads[0].AuthorID)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, world.EventThreadPosted, events[0].Type)
	assert.Equal(t, threads[0].ID, events[0].Metadata["thread_id"])

	res = f.run(zari, Post, map[string]string{"title": "  "})
	assert.False(t, res.Success)
}

func TestRememberClampsImportance(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, Remember, map[string]interface{}{"content": "Yuki likes snow", "importance": 42})
	require.True(t, res.Success)

	res = f.run(zari, Remember, map[string]interface{}{"content": "nothing much"})
	require.True(t, res.Success)

	mems := f.memories(t, zari.ID)
	require.Len(t, mems, 2)
	assert.Equal(t, defaultRememberImportance, mems[0].Importance)
	assert.Equal(t, world.MaxImportance, mems[1].Importance)
}

func TestEndReason(t *testing.T) {
	f := newFixture(t)
	res := f.run(zari, End, map[string]string{"reason": "sleepy"})
	assert.True(t, res.Success)
	assert.Equal(t, "session ended: sleepy", res.Message)

	res = f.catalog.Execute(context.Background(), zari, End, "")
	assert.True(t, res.Success)
}

func TestUnknownActionAndBadArguments(t *testing.T) {
	f := newFixture(t)

	res := f.catalog.Execute(context.Background(), zari, "dance", "{}")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, ErrUnknownAction.Error())
	assert.Contains(t, res.Message, Browse)

	res = f.catalog.Execute(context.Background(), zari, Give, `{"item_name": `)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid arguments")

	res = f.catalog.Execute(context.Background(), zari, Browse, `{"page": "two"}`)
	assert.False(t, res.Success)

	_, err := f.catalog.Lookup("dance")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDefinitionsCoverCatalog(t *testing.T) {
	f := newFixture(t)
	var names []string
	for _, d := range f.catalog.Definitions() {
		names = append(names, d.Function.Name)
	}
	assert.Equal(t, []string{Browse, View, Post, Reply, Give, Remember, End}, names)
}

func TestRender(t *testing.T) {
	out := Render(Result{Success: false, Message: "nope", Blocked: true})
	assert.JSONEq(t, `{"success":false,"message":"nope","blocked":true}`, out)

	out = Render(ok(map[string]int{"n": 1}, "done"))
	assert.JSONEq(t, `{"success":true,"message":"done","data":{"n":1}}`, out)
}

func TestSubstantive(t *testing.T) {
	for _, name := range []string{Post, Reply, Give, Remember} {
		assert.True(t, Substantive(name), name)
	}
	for _, name := range []string{Browse, View, End, "dance"} {
		assert.False(t, Substantive(name), name)
	}
}
