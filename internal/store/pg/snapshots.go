package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soundmint.org/internal/domain"
)

var ErrNoSnapshot = fmt.Errorf("%w: no engine snapshot", domain.ErrNotFound)

// SaveSnapshot appends one JSONB engine state and returns its id. Inside a
// transaction opened by Begin the row commits with it.
func (s *Store) SaveSnapshot(ctx context.Context, state json.RawMessage) (int64, error) {
	if !json.Valid(state) {
		return 0, fmt.Errorf("%w: snapshot is not valid JSON", domain.ErrInvalidInput)
	}
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, `
		insert into engine_snapshots(taken_at, state) values ($1, $2) returning id
	`, s.clock.Now(), []byte(state)).Scan(&id)
	return id, err
}

// LatestSnapshot returns the most recent engine state, or ErrNoSnapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (json.RawMessage, time.Time, error) {
	var (
		raw   []byte
		taken time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		select state, taken_at from engine_snapshots order by id desc limit 1
	`).Scan(&raw, &taken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return json.RawMessage(raw), taken, nil
}

// PruneSnapshots keeps the newest keep rows.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `
		delete from engine_snapshots
		where id not in (select id from engine_snapshots order by id desc limit $1)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
