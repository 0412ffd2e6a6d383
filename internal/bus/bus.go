package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "nuka:heartbeat:"

// Stream names.
const (
	StreamEvents  = streamPrefix + "events"
	StreamActions = streamPrefix + "actions"
)

// DefaultMaxLen caps each stream approximately.
const DefaultMaxLen = 10000

// Envelope is one stream entry.
type Envelope struct {
	Kind      string          `json:"kind"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes heartbeat activity to Redis Streams for external consumers.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, logger), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, maxLen: DefaultMaxLen, logger: logger}
}

// Client exposes the underlying client, shared with the cycle lock.
func (b *Bus) Client() *redis.Client { return b.rdb }

// Publish appends a payload to a stream.
func (b *Bus) Publish(ctx context.Context, stream, kind, agentID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	data, err := json.Marshal(&Envelope{
		Kind:      kind,
		AgentID:   agentID,
		Payload:   raw,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published",
		zap.String("stream", stream),
		zap.String("kind", kind),
		zap.String("agent", agentID))
	return nil
}

// Subscribe reads new entries from a stream. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context, stream string) <-chan *Envelope {
	ch := make(chan *Envelope, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var env Envelope
					if json.Unmarshal([]byte(data), &env) != nil {
						continue
					}
					select {
					case ch <- &env:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
