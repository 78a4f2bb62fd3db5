// Package pg is the Postgres-backed value ledger and engine snapshot store.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/ids"
	"soundmint.org/internal/ledger"
)

const pgErrUniqueViolation = "23505"

const txColumns = `id, created_at, from_address, to_address, currency, amount, memo, coalesce(idempotency_key,''), sequence`

// Pool tunes the connection pool opened by Open.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db        *sql.DB
	clock     domain.Clock
	receivers ledger.Receivers
}

var _ ledger.Service = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, pool Pool) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, nil), nil
}

// New wraps an existing handle. A nil clock uses the system clock.
func New(db *sql.DB, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{db: db, clock: clock}
}

func (s *Store) Close() error { return s.db.Close() }

type txKey struct{}

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// Begin opens a serializable transaction. Ledger writes and snapshot saves made
// with the returned context run inside it and leave Commit to the caller.
func (s *Store) Begin(ctx context.Context) (context.Context, ledger.Unit, error) {
	tx, err := s.db.BeginTx(ctx, serializable)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// begin returns the transaction carried by ctx, or a new one owned by the caller.
func (s *Store) begin(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, bool, error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, false, nil
	}
	tx, err := s.db.BeginTx(ctx, opts)
	return tx, true, err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn reads through the transaction carried by ctx when there is one.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func rollback(tx *sql.Tx, owned bool) {
	if owned {
		_ = tx.Rollback()
	}
}

func commit(tx *sql.Tx, owned bool) error {
	if !owned {
		return nil
	}
	return tx.Commit()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) SetReceiver(addr common.Address, r ledger.Receiver) {
	s.receivers.Set(addr, r)
}

func (s *Store) Deposit(ctx context.Context, to common.Address, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	if err := ledger.ValidateMoney(amt); err != nil {
		return ledger.Transaction{}, err
	}
	if domain.IsZero(to) {
		return ledger.Transaction{}, ledger.ErrInvalidRecipient
	}

	tx, owned, err := s.begin(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer rollback(tx, owned)

	if prev, ok, err := replay(ctx, tx, idemKey); err != nil || ok {
		return prev, err
	}
	if err := s.receivers.Notify(ctx, domain.ZeroAddress, []ledger.Posting{{To: to, Amount: amt.Amount}}, amt.Currency); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.credit(ctx, tx, to, amt); err != nil {
		return ledger.Transaction{}, err
	}
	rec, err := s.record(ctx, tx, domain.ZeroAddress, to, amt, "deposit", idemKey)
	if err != nil {
		if !owned {
			return ledger.Transaction{}, err
		}
		return s.replayAfterConflict(ctx, idemKey, err)
	}
	if err := commit(tx, owned); err != nil {
		return ledger.Transaction{}, err
	}
	return rec, nil
}

func (s *Store) GetAccount(ctx context.Context, addr common.Address) (ledger.Account, error) {
	var created time.Time
	q := s.conn(ctx)
	err := q.QueryRowContext(ctx, `select created_at from accounts where address=$1`, addr.Hex()).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}

	rows, err := q.QueryContext(ctx, `select currency, amount from balances where address=$1`, addr.Hex())
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	bals := map[string]int64{}
	for rows.Next() {
		var c string
		var a int64
		if err := rows.Scan(&c, &a); err != nil {
			return ledger.Account{}, err
		}
		bals[c] = a
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{Address: addr, CreatedAt: created, Balances: bals}, nil
}

// GetBalance returns zero for addresses the ledger has never seen.
func (s *Store) GetBalance(ctx context.Context, addr common.Address, currency string) (ledger.Money, error) {
	if currency == "" {
		return ledger.Money{}, ledger.ErrInvalidCurrency
	}
	var amt int64
	err := s.conn(ctx).QueryRowContext(ctx, `
		select coalesce((select amount from balances where address=$1 and currency=$2), 0)
	`, addr.Hex(), currency).Scan(&amt)
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Currency: currency, Amount: amt}, nil
}

func (s *Store) Transfer(ctx context.Context, from, to common.Address, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	if err := ledger.ValidateMoney(amt); err != nil {
		return ledger.Transaction{}, err
	}
	if domain.IsZero(to) {
		return ledger.Transaction{}, ledger.ErrInvalidRecipient
	}

	tx, owned, err := s.begin(ctx, serializable)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer rollback(tx, owned)

	if prev, ok, err := replay(ctx, tx, idemKey); err != nil || ok {
		return prev, err
	}
	if err := debit(ctx, tx, from, amt.Currency, amt.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.receivers.Notify(ctx, from, []ledger.Posting{{To: to, Amount: amt.Amount}}, amt.Currency); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.credit(ctx, tx, to, amt); err != nil {
		return ledger.Transaction{}, err
	}
	rec, err := s.record(ctx, tx, from, to, amt, "", idemKey)
	if err != nil {
		if !owned {
			return ledger.Transaction{}, err
		}
		return s.replayAfterConflict(ctx, idemKey, err)
	}
	if err := commit(tx, owned); err != nil {
		return ledger.Transaction{}, err
	}
	return rec, nil
}

// TransferBatch debits the payer once for the batch total and credits every leg
// in one database transaction.
func (s *Store) TransferBatch(ctx context.Context, from common.Address, currency string, postings []ledger.Posting, memo string) ([]ledger.Transaction, error) {
	if currency == "" {
		return nil, ledger.ErrInvalidCurrency
	}
	live, total, err := ledger.NormalizePostings(postings)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}

	tx, owned, err := s.begin(ctx, serializable)
	if err != nil {
		return nil, err
	}
	defer rollback(tx, owned)

	if err := debit(ctx, tx, from, currency, total); err != nil {
		return nil, err
	}
	if err := s.receivers.Notify(ctx, from, live, currency); err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(live))
	for _, p := range live {
		amt := ledger.Money{Currency: currency, Amount: p.Amount}
		if err := s.credit(ctx, tx, p.To, amt); err != nil {
			return nil, err
		}
		rec, err := s.record(ctx, tx, from, p.To, amt, memo, "")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := commit(tx, owned); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+txColumns+`
		from transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	var last uint64
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, t)
		last = t.Sequence
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, last, nil
}

// debit fails with ErrInsufficientFunds unless the payer's row covers amount.
func debit(ctx context.Context, tx *sql.Tx, from common.Address, currency string, amount int64) error {
	res, err := tx.ExecContext(ctx, `
		update balances set amount = amount - $3
		where address=$1 and currency=$2 and amount >= $3
	`, from.Hex(), currency, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) credit(ctx context.Context, tx *sql.Tx, to common.Address, amt ledger.Money) error {
	if _, err := tx.ExecContext(ctx, `
		insert into accounts(address, created_at) values ($1, $2)
		on conflict (address) do nothing
	`, to.Hex(), s.clock.Now()); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		insert into balances(address, currency, amount)
		values ($1,$2,$3)
		on conflict (address, currency) do update
		set amount = balances.amount + excluded.amount
	`, to.Hex(), amt.Currency, amt.Amount)
	return err
}

func (s *Store) record(ctx context.Context, tx *sql.Tx, from, to common.Address, amt ledger.Money, memo, idemKey string) (ledger.Transaction, error) {
	now := s.clock.Now()
	rec := ledger.Transaction{
		ID:             ids.NewAt(now),
		CreatedAt:      now,
		From:           from,
		To:             to,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		Memo:           memo,
		IdempotencyKey: idemKey,
	}
	err := tx.QueryRowContext(ctx, `
		insert into transactions(id, created_at, from_address, to_address, currency, amount, memo, idempotency_key)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,'')) returning sequence
	`, rec.ID, now, from.Hex(), to.Hex(), amt.Currency, amt.Amount, memo, idemKey).Scan(&rec.Sequence)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return rec, nil
}

// replayAfterConflict returns the winner of a concurrent insert with the same key.
func (s *Store) replayAfterConflict(ctx context.Context, idemKey string, err error) (ledger.Transaction, error) {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation || idemKey == "" {
		return ledger.Transaction{}, err
	}
	row := s.db.QueryRowContext(ctx, `select `+txColumns+` from transactions where idempotency_key=$1`, idemKey)
	return scanTransaction(row)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func replay(ctx context.Context, q queryRower, idemKey string) (ledger.Transaction, bool, error) {
	if idemKey == "" {
		return ledger.Transaction{}, false, nil
	}
	t, err := scanTransaction(q.QueryRowContext(ctx, `select `+txColumns+` from transactions where idempotency_key=$1`, idemKey))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t        ledger.Transaction
		from, to string
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &from, &to, &t.Currency, &t.Amount, &t.Memo, &t.IdempotencyKey, &t.Sequence); err != nil {
		return ledger.Transaction{}, err
	}
	t.From = common.HexToAddress(from)
	t.To = common.HexToAddress(to)
	return t, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
