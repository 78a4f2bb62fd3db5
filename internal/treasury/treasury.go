// Package treasury holds platform funds behind a dual-custodian withdrawal
// flow: a treasurer proposes, treasurer and CEO approve, and executed
// withdrawals count against a rolling weekly limit.
package treasury

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/ids"
	"soundmint.org/internal/ledger"
)

// Defaults, in gwei.
const (
	DefaultMaxWithdrawalAmount int64 = 10_000_000_000
	DefaultWeeklyLimit         int64 = 50_000_000_000
	DefaultWindow                    = 7 * 24 * time.Hour
)

// Withdrawal outcomes reported to the Observer.
const (
	ResultProposed  = "proposed"
	ResultExecuted  = "executed"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
)

// Proposal is the single in-flight withdrawal. The zero value means idle.
type Proposal struct {
	ID                string         `json:"id,omitempty"`
	Proposer          common.Address `json:"proposer"`
	To                common.Address `json:"to"`
	Amount            int64          `json:"amount"`
	Reason            string         `json:"reason"`
	TreasurerApproved bool           `json:"treasurer_approved"`
	CEOApproved       bool           `json:"ceo_approved"`
	TreasurerApprover common.Address `json:"treasurer_approver"`
	CEOApprover       common.Address `json:"ceo_approver"`
	ProposedAt        time.Time      `json:"proposed_at"`
}

// Pending reports whether p is an active proposal.
func (p Proposal) Pending() bool { return p.ID != "" }

// Limits are the withdrawal caps and the current window usage.
type Limits struct {
	MaxWithdrawalAmount int64     `json:"max_withdrawal_amount"`
	WeeklyLimit         int64     `json:"weekly_limit"`
	WeeklyWithdrawn     int64     `json:"weekly_withdrawn"`
	WeekWindowStart     time.Time `json:"week_window_start"`
}

// Config holds construction parameters. Zero limits take the defaults.
type Config struct {
	Address             common.Address
	Admin               common.Address
	Treasurer           common.Address
	CEO                 common.Address // optional; the admin can grant it later
	MaxWithdrawalAmount int64
	WeeklyLimit         int64
	Window              time.Duration
	Currency            string
}

// Observer receives withdrawal outcomes.
type Observer interface {
	ObserveWithdrawal(result string, amount int64)
}

// Treasury is safe for concurrent use; every operation runs under one lock.
type Treasury struct {
	mu      sync.Mutex
	address common.Address
	roles   roleSet
	pending Proposal
	limits  Limits
	window  time.Duration

	value    ledger.Service
	currency string
	clock    domain.Clock
	events   *events.Emitter
	observer Observer
	log      *zap.Logger
}

// Option configures a Treasury.
type Option func(*Treasury)

func WithClock(c domain.Clock) Option {
	return func(t *Treasury) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithEmitter(e *events.Emitter) Option {
	return func(t *Treasury) { t.events = e }
}

func WithObserver(o Observer) Option {
	return func(t *Treasury) { t.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Treasury) {
		if l != nil {
			t.log = l
		}
	}
}

// New builds a treasury whose funds are the ledger balance of cfg.Address.
// The treasury registers itself as the ledger receiver for its address.
func New(cfg Config, value ledger.Service, opts ...Option) (*Treasury, error) {
	switch {
	case domain.IsZero(cfg.Address):
		return nil, fmt.Errorf("%w: invalid treasury address", domain.ErrInvalidAddress)
	case domain.IsZero(cfg.Admin):
		return nil, fmt.Errorf("%w: invalid admin address", domain.ErrInvalidAddress)
	case domain.IsZero(cfg.Treasurer):
		return nil, fmt.Errorf("%w: invalid treasurer address", domain.ErrInvalidAddress)
	case cfg.CEO == cfg.Treasurer:
		return nil, fmt.Errorf("%w: treasurer and ceo must differ", domain.ErrInvalidInput)
	case cfg.MaxWithdrawalAmount < 0 || cfg.WeeklyLimit < 0 || cfg.Window < 0:
		return nil, fmt.Errorf("%w: negative treasury limit", domain.ErrInvalidInput)
	}
	t := newTreasury(cfg, value, opts...)
	t.roles.grant(cfg.Admin, RoleAdmin)
	t.roles.grant(cfg.Treasurer, RoleTreasurer)
	if !domain.IsZero(cfg.CEO) {
		t.roles.grant(cfg.CEO, RoleCEO)
	}
	t.limits.WeekWindowStart = t.clock.Now()
	value.SetReceiver(t.address, ledger.ReceiverFunc(t.receive))
	return t, nil
}

func newTreasury(cfg Config, value ledger.Service, opts ...Option) *Treasury {
	t := &Treasury{
		address:  cfg.Address,
		roles:    make(roleSet),
		window:   cfg.Window,
		value:    value,
		currency: cfg.Currency,
		clock:    domain.SystemClock{},
		log:      zap.NewNop(),
		limits: Limits{
			MaxWithdrawalAmount: cfg.MaxWithdrawalAmount,
			WeeklyLimit:         cfg.WeeklyLimit,
		},
	}
	if t.window == 0 {
		t.window = DefaultWindow
	}
	if t.currency == "" {
		t.currency = ledger.DefaultCurrency
	}
	if t.limits.MaxWithdrawalAmount == 0 {
		t.limits.MaxWithdrawalAmount = DefaultMaxWithdrawalAmount
	}
	if t.limits.WeeklyLimit == 0 {
		t.limits.WeeklyLimit = DefaultWeeklyLimit
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Treasury) Address() common.Address { return t.address }

// receive accepts every deposit. It runs under the ledger lock.
func (t *Treasury) receive(_ context.Context, from common.Address, amt ledger.Money) error {
	t.log.Info("treasury received funds",
		zap.String("from", from.Hex()),
		zap.String("currency", amt.Currency),
		zap.Int64("amount", amt.Amount))
	return nil
}

// ProposeWithdrawal opens a proposal. Treasurer only.
func (t *Treasury) ProposeWithdrawal(ctx context.Context, caller, to common.Address, amount int64, reason string) (Proposal, error) {
	t.mu.Lock()
	if !t.roles.has(caller, RoleTreasurer) {
		t.mu.Unlock()
		return Proposal{}, fmt.Errorf("%w: only treasurer can propose withdrawals", domain.ErrUnauthorized)
	}
	if domain.IsZero(to) {
		t.mu.Unlock()
		return Proposal{}, fmt.Errorf("%w: invalid withdrawal address", domain.ErrInvalidAddress)
	}
	if amount <= 0 {
		t.mu.Unlock()
		return Proposal{}, domain.ErrInvalidAmount
	}
	if amount > t.limits.MaxWithdrawalAmount {
		t.mu.Unlock()
		return Proposal{}, fmt.Errorf("%w: %d > %d", domain.ErrExceedsMaxWithdrawal, amount, t.limits.MaxWithdrawalAmount)
	}
	now := t.clock.Now()
	lim := t.rolled(now)
	if err := t.checkFunds(ctx, lim, amount); err != nil {
		t.mu.Unlock()
		return Proposal{}, err
	}
	if t.pending.Pending() {
		t.mu.Unlock()
		return Proposal{}, domain.ErrProposalAlreadyPending
	}

	t.limits = lim
	t.pending = Proposal{
		ID:         ids.NewAt(now),
		Proposer:   caller,
		To:         to,
		Amount:     amount,
		Reason:     reason,
		ProposedAt: now,
	}
	p := t.pending
	t.mu.Unlock()

	t.log.Info("withdrawal proposed",
		zap.String("proposal_id", p.ID),
		zap.String("to", to.Hex()),
		zap.Int64("amount", amount))
	t.observe(ResultProposed, amount)
	t.events.Emit(ctx, events.TypeWithdrawalProposed, events.WithdrawalProposed{
		ProposalID: p.ID,
		Proposer:   caller,
		To:         to,
		Amount:     amount,
		Reason:     reason,
	})
	return p, nil
}

// ApproveWithdrawal fills the caller's approval slot. A caller holding both
// custodian roles fills whichever slot is still empty, but one identity never
// fills both. The second approval executes the transfer; if execution fails the
// approval is not recorded.
func (t *Treasury) ApproveWithdrawal(ctx context.Context, caller common.Address) (Proposal, bool, error) {
	t.mu.Lock()
	isTreasurer := t.roles.has(caller, RoleTreasurer)
	isCEO := t.roles.has(caller, RoleCEO)
	if !isTreasurer && !isCEO {
		t.mu.Unlock()
		return Proposal{}, false, fmt.Errorf("%w: caller is not a custodian", domain.ErrUnauthorized)
	}
	if !t.pending.Pending() {
		t.mu.Unlock()
		return Proposal{}, false, domain.ErrNoPendingProposal
	}

	p := t.pending
	if (p.TreasurerApproved && p.TreasurerApprover == caller) || (p.CEOApproved && p.CEOApprover == caller) {
		t.mu.Unlock()
		return Proposal{}, false, domain.ErrAlreadyApproved
	}
	var role Role
	switch {
	case isTreasurer && !p.TreasurerApproved:
		p.TreasurerApproved, p.TreasurerApprover, role = true, caller, RoleTreasurer
	case isCEO && !p.CEOApproved:
		p.CEOApproved, p.CEOApprover, role = true, caller, RoleCEO
	default:
		t.mu.Unlock()
		return Proposal{}, false, domain.ErrAlreadyApproved
	}

	if !p.TreasurerApproved || !p.CEOApproved {
		t.pending = p
		t.mu.Unlock()
		t.log.Info("withdrawal approved", zap.String("proposal_id", p.ID), zap.String("role", string(role)))
		t.events.Emit(ctx, events.TypeWithdrawalApproved, events.WithdrawalApproved{ProposalID: p.ID, Approver: caller, Role: string(role)})
		return p, false, nil
	}

	tx, err := t.execute(ctx, p)
	t.mu.Unlock()
	if err != nil {
		t.log.Warn("withdrawal execution failed", zap.String("proposal_id", p.ID), zap.Error(err))
		t.observe(ResultFailed, p.Amount)
		return Proposal{}, false, err
	}

	t.log.Info("withdrawal executed",
		zap.String("proposal_id", p.ID),
		zap.String("to", p.To.Hex()),
		zap.Int64("amount", p.Amount),
		zap.String("tx_id", tx.ID))
	t.observe(ResultExecuted, p.Amount)
	t.events.Emit(ctx, events.TypeWithdrawalApproved, events.WithdrawalApproved{ProposalID: p.ID, Approver: caller, Role: string(role)})
	t.events.Emit(ctx, events.TypeWithdrawalExecuted, events.WithdrawalExecuted{ProposalID: p.ID, To: p.To, Amount: p.Amount, TransactionID: tx.ID})
	return p, true, nil
}

// caller holds t.mu
func (t *Treasury) execute(ctx context.Context, p Proposal) (ledger.Transaction, error) {
	lim := t.rolled(t.clock.Now())
	if err := t.checkFunds(ctx, lim, p.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := t.value.Transfer(ctx, t.address, p.To, ledger.Money{Currency: t.currency, Amount: p.Amount}, "withdrawal:"+p.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	lim.WeeklyWithdrawn += p.Amount
	t.limits = lim
	t.pending = Proposal{}
	return tx, nil
}

// CancelWithdrawal drops the pending proposal. Any custodian or admin may cancel.
func (t *Treasury) CancelWithdrawal(ctx context.Context, caller common.Address) error {
	t.mu.Lock()
	if !t.roles.any(caller, RoleTreasurer, RoleCEO, RoleAdmin) {
		t.mu.Unlock()
		return fmt.Errorf("%w: caller cannot cancel withdrawals", domain.ErrUnauthorized)
	}
	if !t.pending.Pending() {
		t.mu.Unlock()
		return domain.ErrNoPendingProposal
	}
	p := t.pending
	t.pending = Proposal{}
	t.mu.Unlock()

	t.log.Info("withdrawal cancelled", zap.String("proposal_id", p.ID), zap.String("by", caller.Hex()))
	t.observe(ResultCancelled, p.Amount)
	t.events.Emit(ctx, events.TypeWithdrawalCancelled, events.WithdrawalCancelled{ProposalID: p.ID, CancelledBy: caller})
	return nil
}

// UpdateMaxWithdrawalAmount sets the per-proposal cap. Admin only.
func (t *Treasury) UpdateMaxWithdrawalAmount(ctx context.Context, caller common.Address, amount int64) error {
	return t.updateLimits(ctx, caller, func(l *Limits) error {
		if amount <= 0 {
			return domain.ErrInvalidAmount
		}
		l.MaxWithdrawalAmount = amount
		return nil
	})
}

// UpdateWeeklyLimit sets the rolling weekly cap. Admin only.
func (t *Treasury) UpdateWeeklyLimit(ctx context.Context, caller common.Address, amount int64) error {
	return t.updateLimits(ctx, caller, func(l *Limits) error {
		if amount <= 0 {
			return domain.ErrInvalidAmount
		}
		l.WeeklyLimit = amount
		return nil
	})
}

func (t *Treasury) updateLimits(ctx context.Context, caller common.Address, apply func(*Limits) error) error {
	t.mu.Lock()
	if !t.roles.has(caller, RoleAdmin) {
		t.mu.Unlock()
		return fmt.Errorf("%w: only admin can update limit", domain.ErrUnauthorized)
	}
	lim := t.limits
	if err := apply(&lim); err != nil {
		t.mu.Unlock()
		return err
	}
	t.limits = lim
	t.mu.Unlock()

	t.log.Info("withdrawal limits updated",
		zap.Int64("max_withdrawal_amount", lim.MaxWithdrawalAmount),
		zap.Int64("weekly_limit", lim.WeeklyLimit))
	t.events.Emit(ctx, events.TypeLimitsUpdated, events.LimitsUpdated{
		MaxWithdrawalAmount: lim.MaxWithdrawalAmount,
		WeeklyLimit:         lim.WeeklyLimit,
	})
	return nil
}

// PendingApproval returns the active proposal, or the zero Proposal when idle.
func (t *Treasury) PendingApproval() Proposal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Limits returns the caps and usage as of now, with an elapsed window shown as reset.
func (t *Treasury) Limits() Limits {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolled(t.clock.Now())
}

// Balance returns the treasury's ledger balance.
func (t *Treasury) Balance(ctx context.Context) (int64, error) {
	m, err := t.value.GetBalance(ctx, t.address, t.currency)
	if err != nil {
		return 0, err
	}
	return m.Amount, nil
}

// rolled returns the limits with the weekly window reset applied at now.
// caller holds t.mu
func (t *Treasury) rolled(now time.Time) Limits {
	lim := t.limits
	if now.Sub(lim.WeekWindowStart) >= t.window {
		lim.WeeklyWithdrawn = 0
		lim.WeekWindowStart = now
	}
	return lim
}

// caller holds t.mu
func (t *Treasury) checkFunds(ctx context.Context, lim Limits, amount int64) error {
	if lim.WeeklyWithdrawn+amount > lim.WeeklyLimit {
		return fmt.Errorf("%w: %d already withdrawn of %d", domain.ErrExceedsWeeklyLimit, lim.WeeklyWithdrawn, lim.WeeklyLimit)
	}
	bal, err := t.value.GetBalance(ctx, t.address, t.currency)
	if err != nil {
		return err
	}
	if amount > bal.Amount {
		return fmt.Errorf("%w: treasury holds %d", domain.ErrInsufficientFunds, bal.Amount)
	}
	return nil
}

func (t *Treasury) observe(result string, amount int64) {
	if t.observer != nil {
		t.observer.ObserveWithdrawal(result, amount)
	}
}
