package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// Store persists memories.
type Store interface {
	AddMemory(ctx context.Context, m *world.Memory) error
}

// Indexer makes stored memories recallable.
type Indexer interface {
	Index(ctx context.Context, m *world.Memory) error
}

// Writer stores a memory and then indexes it. Only the store write can fail
// the call; indexing errors are logged.
type Writer struct {
	store   Store
	indexer Indexer
	logger  *zap.Logger
}

// NewWriter creates a writer. indexer may be nil.
func NewWriter(store Store, indexer Indexer, logger *zap.Logger) *Writer {
	return &Writer{store: store, indexer: indexer, logger: logger}
}

// AddMemory persists m and indexes it best-effort.
func (w *Writer) AddMemory(ctx context.Context, m *world.Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Importance = world.ClampImportance(m.Importance)
	if err := w.store.AddMemory(ctx, m); err != nil {
		return err
	}
	if w.indexer == nil {
		return nil
	}
	if err := w.indexer.Index(ctx, m); err != nil {
		w.logger.Warn("memory index failed",
			zap.String("agent", m.AgentID), zap.String("memory", m.ID), zap.Error(err))
	}
	return nil
}
