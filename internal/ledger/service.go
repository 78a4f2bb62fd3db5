package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/ids"
)

// Service defines ledger operations.
type Service interface {
	Deposit(ctx context.Context, to common.Address, amt Money, idemKey string) (Transaction, error)
	GetAccount(ctx context.Context, addr common.Address) (Account, error)
	GetBalance(ctx context.Context, addr common.Address, currency string) (Money, error)
	Transfer(ctx context.Context, from, to common.Address, amt Money, idemKey string) (Transaction, error)
	TransferBatch(ctx context.Context, from common.Address, currency string, postings []Posting, memo string) ([]Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
	SetReceiver(addr common.Address, r Receiver)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	clock     domain.Clock
	accts     map[common.Address]*Account
	seq       uint64
	txs       []Transaction
	idem      map[string]Transaction // idemKey -> tx
	receivers Receivers
}

// NewInMemory creates a fresh ledger.
func NewInMemory(clock domain.Clock) *InMemory {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &InMemory{
		clock: clock,
		accts: make(map[common.Address]*Account),
		idem:  make(map[string]Transaction),
	}
}

func (s *InMemory) SetReceiver(addr common.Address, r Receiver) {
	s.receivers.Set(addr, r)
}

func (s *InMemory) Deposit(ctx context.Context, to common.Address, amt Money, idemKey string) (Transaction, error) {
	if err := ValidateMoney(amt); err != nil {
		return Transaction{}, err
	}
	if domain.IsZero(to) {
		return Transaction{}, ErrInvalidRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.replay(idemKey); ok {
		return tx, nil
	}
	if err := s.receivers.Notify(ctx, domain.ZeroAddress, []Posting{{To: to, Amount: amt.Amount}}, amt.Currency); err != nil {
		return Transaction{}, err
	}
	acc := s.account(to)
	if acc.Balances[amt.Currency] > math.MaxInt64-amt.Amount {
		return Transaction{}, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	acc.Balances[amt.Currency] += amt.Amount
	return s.record(domain.ZeroAddress, to, amt, "deposit", idemKey), nil
}

func (s *InMemory) GetAccount(ctx context.Context, addr common.Address) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[addr]
	if !ok {
		return Account{}, ErrNotFound
	}
	// return copy
	out := *acc
	out.Balances = make(map[string]int64, len(acc.Balances))
	for k, v := range acc.Balances {
		out.Balances[k] = v
	}
	return out, nil
}

// GetBalance returns zero for addresses the ledger has never seen.
func (s *InMemory) GetBalance(ctx context.Context, addr common.Address, currency string) (Money, error) {
	if currency == "" {
		return Money{}, ErrInvalidCurrency
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[addr]
	if !ok {
		return Money{Currency: currency}, nil
	}
	return Money{Currency: currency, Amount: acc.Balances[currency]}, nil
}

func (s *InMemory) Transfer(ctx context.Context, from, to common.Address, amt Money, idemKey string) (Transaction, error) {
	if err := ValidateMoney(amt); err != nil {
		return Transaction{}, err
	}
	if domain.IsZero(to) {
		return Transaction{}, ErrInvalidRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.replay(idemKey); ok {
		return tx, nil
	}

	if s.balance(from, amt.Currency) < amt.Amount {
		return Transaction{}, ErrInsufficientFunds
	}
	if err := s.receivers.Notify(ctx, from, []Posting{{To: to, Amount: amt.Amount}}, amt.Currency); err != nil {
		return Transaction{}, err
	}

	s.account(from).Balances[amt.Currency] -= amt.Amount
	s.account(to).Balances[amt.Currency] += amt.Amount
	return s.record(from, to, amt, "", idemKey), nil
}

// TransferBatch moves value from one payer to several recipients atomically.
// Zero-amount postings are skipped; a batch of only zero postings is a no-op.
func (s *InMemory) TransferBatch(ctx context.Context, from common.Address, currency string, postings []Posting, memo string) ([]Transaction, error) {
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	live, total, err := NormalizePostings(postings)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balance(from, currency) < total {
		return nil, ErrInsufficientFunds
	}
	if err := s.receivers.Notify(ctx, from, live, currency); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(live))
	s.account(from).Balances[currency] -= total
	for _, p := range live {
		s.account(p.To).Balances[currency] += p.Amount
		out = append(out, s.record(from, p.To, Money{Currency: currency, Amount: p.Amount}, memo, ""))
	}
	return out, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

// caller holds s.mu
func (s *InMemory) account(addr common.Address) *Account {
	acc, ok := s.accts[addr]
	if !ok {
		acc = &Account{Address: addr, CreatedAt: s.clock.Now(), Balances: map[string]int64{}}
		s.accts[addr] = acc
	}
	return acc
}

func (s *InMemory) balance(addr common.Address, currency string) int64 {
	if acc, ok := s.accts[addr]; ok {
		return acc.Balances[currency]
	}
	return 0
}

func (s *InMemory) replay(idemKey string) (Transaction, bool) {
	if idemKey == "" {
		return Transaction{}, false
	}
	tx, ok := s.idem[idemKey]
	return tx, ok
}

func (s *InMemory) record(from, to common.Address, amt Money, memo, idemKey string) Transaction {
	s.seq++
	now := s.clock.Now()
	tx := Transaction{
		ID:             ids.NewAt(now),
		CreatedAt:      now,
		From:           from,
		To:             to,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		Memo:           memo,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.txs = append(s.txs, tx)
	if idemKey != "" {
		s.idem[idemKey] = tx
	}
	return tx
}

// ValidateMoney rejects non-positive amounts and empty currencies.
func ValidateMoney(amt Money) error {
	if !amt.IsPositive() {
		return ErrInvalidAmount
	}
	if amt.Currency == "" {
		return ErrInvalidCurrency
	}
	return nil
}

// NormalizePostings drops zero legs and returns the remaining legs with their total.
func NormalizePostings(postings []Posting) ([]Posting, int64, error) {
	var (
		live  []Posting
		total int64
	)
	for _, p := range postings {
		if p.Amount < 0 {
			return nil, 0, fmt.Errorf("%w: negative posting", domain.ErrInvalidInput)
		}
		if p.Amount == 0 {
			continue
		}
		if domain.IsZero(p.To) {
			return nil, 0, ErrInvalidRecipient
		}
		if total > math.MaxInt64-p.Amount {
			return nil, 0, fmt.Errorf("%w: batch total overflows", domain.ErrInvalidInput)
		}
		total += p.Amount
		live = append(live, p)
	}
	return live, total, nil
}

// Receivers is a concurrency-safe registry of credit hooks keyed by address.
// The zero value is ready to use. Service implementations share it.
type Receivers struct {
	mu sync.RWMutex
	m  map[common.Address]Receiver
}

// Set registers recv for addr; a nil recv removes the hook.
func (r *Receivers) Set(addr common.Address, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[common.Address]Receiver)
	}
	if recv == nil {
		delete(r.m, addr)
		return
	}
	r.m[addr] = recv
}

// Notify asks every registered recipient in posting order; the first refusal wins.
func (r *Receivers) Notify(ctx context.Context, from common.Address, postings []Posting, currency string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range postings {
		recv, ok := r.m[p.To]
		if !ok {
			continue
		}
		if err := recv.Receive(ctx, from, Money{Currency: currency, Amount: p.Amount}); err != nil {
			return &RejectedError{Receiver: p.To, Reason: err}
		}
	}
	return nil
}

// State is the serialisable content of an InMemory ledger.
type State struct {
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
	Sequence     uint64        `json:"sequence"`
}

// Snapshot copies the ledger content.
func (s *InMemory) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Sequence: s.seq, Transactions: append([]Transaction(nil), s.txs...)}
	for _, acc := range s.accts {
		cp := *acc
		cp.Balances = make(map[string]int64, len(acc.Balances))
		for k, v := range acc.Balances {
			cp.Balances[k] = v
		}
		st.Accounts = append(st.Accounts, cp)
	}
	return st
}

// Restore replaces the ledger content. Receivers are kept.
func (s *InMemory) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accts = make(map[common.Address]*Account, len(st.Accounts))
	for i := range st.Accounts {
		acc := st.Accounts[i]
		if acc.Balances == nil {
			acc.Balances = map[string]int64{}
		}
		s.accts[acc.Address] = &acc
	}
	s.txs = append([]Transaction(nil), st.Transactions...)
	s.seq = st.Sequence
	s.idem = make(map[string]Transaction)
	for _, tx := range s.txs {
		if tx.IdempotencyKey != "" {
			s.idem[tx.IdempotencyKey] = tx
		}
	}
}

var _ Service = (*InMemory)(nil)
