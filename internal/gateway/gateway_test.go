package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform string
	sent     []*BroadcastMessage
	err      error
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) Close() error { return nil }
func (f *fakeAdapter) Broadcast(_ context.Context, m *BroadcastMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func TestBroadcastSelectedPlatforms(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	sl := &fakeAdapter{platform: "slack"}
	discord := &fakeAdapter{platform: "discord"}
	gw.Register(sl)
	gw.Register(discord)
	assert.Equal(t, []string{"discord", "slack"}, gw.Adapters())

	require.NoError(t, gw.Broadcast(context.Background(), &BroadcastMessage{Type: BroadcastWorldEvent, Platforms: []string{"slack"}}))
	assert.Len(t, sl.sent, 1)
	assert.Empty(t, discord.sent)
}

func TestBroadcastReportsFailures(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	gw.Register(&fakeAdapter{platform: "slack", err: errors.New("rate limited")})
	gw.Register(&fakeAdapter{platform: "discord"})
	err := gw.Broadcast(context.Background(), &BroadcastMessage{Type: BroadcastWorldEvent})
	assert.EqualError(t, err, "broadcast failed on 1 platform(s)")
}

func TestBroadcasterAnnounceAndHistory(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	sl := &fakeAdapter{platform: "slack"}
	gw.Register(sl)
	b := NewBroadcaster(gw, zap.NewNop())
	b.max = 3

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Announce(ctx, &world.WorldEvent{
			Type:    world.EventItemGifted,
			AgentID: "zari",
			Content: fmt.Sprintf("gift %d", i),
		}))
	}
	require.Len(t, sl.sent, 5)
	assert.Equal(t, "item_gifted", sl.sent[0].Title)

	h := b.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "gift 2", h[0].Message.Content)
	assert.Equal(t, "gift 4", h[2].Message.Content)
	assert.Equal(t, []string{"slack"}, h[2].Targets)
	assert.Len(t, b.History(1), 1)
}

func TestBroadcasterRequiresType(t *testing.T) {
	b := NewBroadcaster(NewGateway(zap.NewNop()), zap.NewNop())
	assert.Error(t, b.Send(context.Background(), &BroadcastMessage{}))
}

func TestPersonaFor(t *testing.T) {
	cases := []struct {
		avatar string
		want   AgentPersona
	}{
		{"https://cdn.example/zari.png", AgentPersona{Name: "Zari", IconURL: "https://cdn.example/zari.png"}},
		{":fox_face:", AgentPersona{Name: "Zari", Emoji: ":fox_face:"}},
		{"a fox with a lantern", AgentPersona{Name: "Zari"}},
		{"", AgentPersona{Name: "Zari"}},
	}
	for _, tc := range cases {
		got := PersonaFor(world.Agent{ID: "zari", Name: "Zari", Avatar: tc.avatar})
		assert.Equal(t, tc.want, *got, "avatar %q", tc.avatar)
	}
}

func TestIntroduceSetsSlackPersona(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	sa := NewSlackAdapter("xoxb-test", "C123", zap.NewNop())
	gw.Register(sa)
	b := NewBroadcaster(gw, zap.NewNop())

	assert.Empty(t, sa.personaOpts("zari"))
	b.Introduce(world.Agent{ID: "zari", Name: "Zari", Avatar: "https://cdn.example/zari.png"})
	b.Introduce(world.Agent{ID: "yuki", Name: "Yuki", Avatar: ":snowflake:"})

	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", "C123", "https://slack.com/api/", sa.personaOpts("zari")...)
	require.NoError(t, err)
	assert.Equal(t, "Zari", values.Get("username"))
	assert.Equal(t, "https://cdn.example/zari.png", values.Get("icon_url"))

	_, values, err = slack.UnsafeApplyMsgOptions("xoxb-test", "C123", "https://slack.com/api/", sa.personaOpts("yuki")...)
	require.NoError(t, err)
	assert.Equal(t, "Yuki", values.Get("username"))
	assert.Equal(t, ":snowflake:", values.Get("icon_emoji"))
}

func TestDiscordFormatUsesPersona(t *testing.T) {
	da := NewDiscordAdapter("token", "chan", zap.NewNop())
	msg := &BroadcastMessage{Type: BroadcastWorldEvent, Title: "item_gifted", Content: "Zari gave 旧钥匙 to Yuki", AgentID: "zari"}

	assert.Equal(t, "**[world_event] item_gifted**\nZari gave 旧钥匙 to Yuki", da.format(msg))

	da.SetPersona("zari", PersonaFor(world.Agent{ID: "zari", Name: "Zari", Avatar: ":fox_face:"}))
	assert.Equal(t, "**[:fox_face: Zari]** **[world_event] item_gifted**\nZari gave 旧钥匙 to Yuki", da.format(msg))
}

type statusAdapter struct {
	fakeAdapter
	status AdapterStatus
}

func (s *statusAdapter) Status() AdapterStatus { return s.status }

func TestStatusesSkipsSilentAdapters(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	gw.Register(&statusAdapter{fakeAdapter: fakeAdapter{platform: "slack"}, status: AdapterStatus{Platform: "slack", Connected: true}})
	gw.Register(&statusAdapter{fakeAdapter: fakeAdapter{platform: "discord"}, status: AdapterStatus{Platform: "discord", Error: "open failed"}})
	gw.Register(&fakeAdapter{platform: "test"})

	got := NewBroadcaster(gw, zap.NewNop()).Statuses()
	require.Len(t, got, 2)
	assert.Equal(t, "discord", got[0].Platform)
	assert.Equal(t, "open failed", got[0].Error)
	assert.True(t, got[1].Connected)
}
