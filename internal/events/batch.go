package events

import (
	"context"
	"sync"
)

type batchKey struct{}

// Batch holds events emitted under one context until the surrounding
// operation commits.
type Batch struct {
	mu      sync.Mutex
	pending []heldEvent
}

type heldEvent struct {
	em  *Emitter
	evt Event
}

// WithBatch returns a context whose Emit calls are held by the returned Batch.
func WithBatch(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{}
	return context.WithValue(ctx, batchKey{}, b), b
}

func batchFrom(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchKey{}).(*Batch)
	return b
}

func (b *Batch) add(em *Emitter, evt Event) {
	b.mu.Lock()
	b.pending = append(b.pending, heldEvent{em: em, evt: evt})
	b.mu.Unlock()
}

func (b *Batch) take() []heldEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Len returns how many events are held.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush publishes the held events in emission order.
func (b *Batch) Flush(ctx context.Context) {
	for _, h := range b.take() {
		h.em.publish(ctx, h.evt)
	}
}

// Discard drops the held events.
func (b *Batch) Discard() { b.take() }
