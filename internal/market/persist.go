package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/ledger"
)

// SnapshotStore keeps serialised engine states.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, state json.RawMessage) (int64, error)
	LatestSnapshot(ctx context.Context) (json.RawMessage, time.Time, error)
}

// Journal is a SnapshotStore that can open a transaction shared with the
// value ledger. Snapshots saved with the context from Begin commit together
// with the ledger writes made under it.
type Journal interface {
	SnapshotStore
	Begin(ctx context.Context) (context.Context, ledger.Unit, error)
}

// Pruner drops old snapshots.
type Pruner interface {
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// Load restores the latest snapshot from store, or builds a fresh engine when
// there is none. The bool reports whether a snapshot was restored.
func Load(ctx context.Context, store SnapshotStore, cfg Config, value ledger.Service, opts ...Option) (*Engine, bool, error) {
	raw, _, err := store.LatestSnapshot(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		e, err := New(cfg, value, opts...)
		return e, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	e, err := Restore(st, cfg, value, opts...)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Save writes one snapshot to store.
func (e *Engine) Save(ctx context.Context, store SnapshotStore) (int64, error) {
	raw, err := json.Marshal(e.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return store.SaveSnapshot(ctx, raw)
}

// Apply runs one state-changing operation. Operations run one at a time and
// events they emit are published only once op has succeeded.
//
// With a journal, the ledger writes of op and the snapshot of the resulting
// state commit in one transaction. When op or the commit fails the components
// are put back to their state before op and the error is returned.
func (e *Engine) Apply(ctx context.Context, op func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	opCtx, batch := events.WithBatch(ctx)
	if e.opts.journal == nil {
		if err := op(opCtx); err != nil {
			batch.Discard()
			return err
		}
		batch.Flush(ctx)
		return nil
	}

	before := e.Snapshot()
	txCtx, unit, err := e.opts.journal.Begin(opCtx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	err = op(txCtx)
	if err == nil {
		err = e.commit(txCtx, unit)
	}
	if err != nil {
		_ = unit.Rollback()
		batch.Discard()
		if rerr := e.reset(before); rerr != nil {
			e.opts.log.Error("engine state reset failed", zap.Error(rerr))
		}
		return err
	}
	batch.Flush(ctx)
	return nil
}

func (e *Engine) commit(ctx context.Context, unit ledger.Unit) error {
	raw, err := json.Marshal(e.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := e.opts.journal.SaveSnapshot(ctx, raw); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := unit.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// reset puts every component back to st in place.
func (e *Engine) reset(st State) error {
	if mem, ok := e.Value.(*ledger.InMemory); ok && st.Ledger != nil {
		mem.Restore(*st.Ledger)
	}
	if err := e.Factory.Reset(st.Factory); err != nil {
		return fmt.Errorf("factory: %w", err)
	}
	e.Mint.Restore(st.Mint)
	if err := e.Treasury.Reset(st.Treasury); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	return nil
}

// RunPruning trims the snapshot history to the newest keep rows every
// interval until ctx ends.
func (e *Engine) RunPruning(ctx context.Context, p Pruner, interval time.Duration, keep int) {
	log := e.opts.log.Named("snapshots")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PruneSnapshots(ctx, keep)
			if err != nil {
				log.Warn("snapshot pruning failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("snapshots pruned", zap.Int64("removed", n))
			}
		}
	}
}
