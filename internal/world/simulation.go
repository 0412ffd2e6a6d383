package world

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickListener receives periodic ticks.
type TickListener interface {
	OnTick(ctx context.Context, now time.Time)
}

// Ticker is the periodic caller that keeps asking the gate for new cycles.
// Listeners run one at a time; a slow listener delays the next tick.
type Ticker struct {
	interval  time.Duration
	listeners []TickListener
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *zap.Logger
}

// NewTicker creates a ticker with the given interval.
func NewTicker(interval time.Duration, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{
		interval: interval,
		logger:   logger,
	}
}

// AddListener registers a tick listener.
func (t *Ticker) AddListener(l TickListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Start begins the tick loop in a background goroutine.
func (t *Ticker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx)
	t.logger.Info("heartbeat ticker started", zap.Duration("interval", t.interval))
}

// Stop halts the tick loop and waits for the current tick to finish.
func (t *Ticker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.logger.Info("heartbeat ticker stopped")
}

func (t *Ticker) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.tick(ctx, now)
		}
	}
}

func (t *Ticker) tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	listeners := make([]TickListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(ctx, now)
	}
}
