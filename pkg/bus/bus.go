// Package bus carries accepted messages from the ingress endpoint to
// the wake processor over a bounded in-memory queue. When the queue is
// full new messages are dropped and counted rather than blocking the
// HTTP handler.
package bus

import (
	"context"
	"sync"

	"github.com/agentswarm/swarmgate/pkg/wire"
)

// Queued is one accepted message waiting for wake processing.
type Queued struct {
	Message  *wire.Message
	RemoteIP string
}

// MessageBus is a bounded inbound queue with a dropped counter.
type MessageBus struct {
	inbound chan Queued
	mu      sync.RWMutex
	closed  bool
	dropped int64
}

// New creates a bus with the given capacity.
func New(capacity int) *MessageBus {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageBus{inbound: make(chan Queued, capacity)}
}

// Publish enqueues a message. Reports false when the queue is full or
// the bus is closed; full-queue drops are counted.
func (mb *MessageBus) Publish(msg Queued) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return false
	}
	select {
	case mb.inbound <- msg:
		return true
	default:
		mb.dropped++
		return false
	}
}

// Consume returns the next message and whether the read succeeded. The
// bool is false when the context is cancelled or the bus is closed.
func (mb *MessageBus) Consume(ctx context.Context) (Queued, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return Queued{}, false
	}
}

// Size returns the current queue depth.
func (mb *MessageBus) Size() int { return len(mb.inbound) }

// Capacity returns the queue capacity.
func (mb *MessageBus) Capacity() int { return cap(mb.inbound) }

// Dropped returns how many messages were dropped because the queue was full.
func (mb *MessageBus) Dropped() int64 {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.dropped
}

// Close stops the bus; further publishes are rejected.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
}
