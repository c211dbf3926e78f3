package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrQueueFull = errors.New("event queue full")

// Async hands events to a single background worker, so a slow or
// unreachable sink never holds up the request that produced the event.
// Events arriving while the queue is full are dropped.
type Async struct {
	next   Publisher
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewAsync(next Publisher, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.logger.Warn("event_publish_failed", "event", ev.Type, "event_id", ev.ID, "error", err)
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("event queue closed")
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued events and closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return a.next.Close()
}
