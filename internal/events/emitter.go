package events

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/ids"
)

// Publisher delivers events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps events for one source and hands them to a Publisher.
// Publishing never fails the caller: state has already changed when Emit runs.
// A nil *Emitter drops everything.
type Emitter struct {
	source common.Address
	pub    Publisher
	clock  domain.Clock
	log    *zap.Logger
}

func NewEmitter(source common.Address, pub Publisher, clock domain.Clock, log *zap.Logger) *Emitter {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{source: source, pub: pub, clock: clock, log: log}
}

// WithSource returns an emitter sharing the transport but stamped with another source.
func (e *Emitter) WithSource(source common.Address) *Emitter {
	if e == nil {
		return nil
	}
	cp := *e
	cp.source = source
	return &cp
}

// Emit publishes one event. Under a context from WithBatch the event is held
// until the batch is flushed.
func (e *Emitter) Emit(ctx context.Context, typ Type, payload any) {
	if e == nil || e.pub == nil {
		return
	}
	now := e.clock.Now()
	evt := Event{
		ID:         ids.NewAt(now),
		Type:       typ,
		Source:     e.source,
		OccurredAt: now,
		Payload:    payload,
	}
	if b := batchFrom(ctx); b != nil {
		b.add(e, evt)
		return
	}
	e.publish(ctx, evt)
}

func (e *Emitter) publish(ctx context.Context, evt Event) {
	if err := e.pub.Publish(ctx, evt); err != nil {
		e.log.Warn("event publish failed",
			zap.String("type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
}
