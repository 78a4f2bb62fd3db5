package treasury

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/ledger"
)

const eth int64 = 1_000_000_000

var (
	treasuryAddr = common.HexToAddress("0x000000000000000000000000000000000000feed")
	admin        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasurer    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	ceo          = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	user1        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	user2        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	funder       = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type capture struct{ events []events.Event }

func (c *capture) Publish(_ context.Context, evt events.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *capture) types() []events.Type {
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingObserver struct{ results []string }

func (o *recordingObserver) ObserveWithdrawal(result string, _ int64) {
	o.results = append(o.results, result)
}

type fixture struct {
	tr    *Treasury
	value *ledger.InMemory
	clock *fakeClock
	rec   *capture
	obs   *recordingObserver
}

func newFixture(t *testing.T, funds int64) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	value := ledger.NewInMemory(clock)
	rec := &capture{}
	obs := &recordingObserver{}

	tr, err := New(Config{Address: treasuryAddr, Admin: admin, Treasurer: treasurer}, value,
		WithClock(clock),
		WithObserver(obs),
		WithEmitter(events.NewEmitter(treasuryAddr, rec, clock, nil)))
	require.NoError(t, err)
	require.NoError(t, tr.GrantRole(ctx, admin, RoleCEO, ceo))

	if funds > 0 {
		_, err = value.Deposit(ctx, funder, ledger.Money{Currency: ledger.DefaultCurrency, Amount: funds}, "")
		require.NoError(t, err)
		_, err = value.Transfer(ctx, funder, treasuryAddr, ledger.Money{Currency: ledger.DefaultCurrency, Amount: funds}, "")
		require.NoError(t, err)
	}
	rec.events = nil
	return &fixture{tr: tr, value: value, clock: clock, rec: rec, obs: obs}
}

func (fx *fixture) balance(t *testing.T, addr common.Address) int64 {
	t.Helper()
	m, err := fx.value.GetBalance(context.Background(), addr, ledger.DefaultCurrency)
	require.NoError(t, err)
	return m.Amount
}

func (fx *fixture) withdraw(t *testing.T, to common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, to, amount, "payout")
	require.NoError(t, err)
	_, executed, err := fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)
	require.False(t, executed)
	_, executed, err = fx.tr.ApproveWithdrawal(ctx, ceo)
	require.NoError(t, err)
	require.True(t, executed)
}

func TestNewAssignsRoles(t *testing.T) {
	fx := newFixture(t, 0)
	assert.True(t, fx.tr.HasRole(RoleAdmin, admin))
	assert.False(t, fx.tr.HasRole(RoleCEO, admin))
	assert.True(t, fx.tr.HasRole(RoleTreasurer, treasurer))
	assert.False(t, fx.tr.HasRole(RoleAdmin, treasurer))

	lim := fx.tr.Limits()
	assert.Equal(t, 10*eth, lim.MaxWithdrawalAmount)
	assert.Equal(t, 50*eth, lim.WeeklyLimit)
	assert.Equal(t, int64(0), lim.WeeklyWithdrawn)

	_, err := New(Config{Address: treasuryAddr, Admin: admin}, ledger.NewInMemory(nil))
	assert.True(t, errors.Is(err, domain.ErrInvalidAddress))

	withCEO, err := New(Config{Address: treasuryAddr, Admin: admin, Treasurer: treasurer, CEO: ceo}, ledger.NewInMemory(nil))
	require.NoError(t, err)
	assert.True(t, withCEO.HasRole(RoleCEO, ceo))
	assert.False(t, withCEO.HasRole(RoleCEO, admin))

	_, err = New(Config{Address: treasuryAddr, Admin: admin, Treasurer: treasurer, CEO: treasurer}, ledger.NewInMemory(nil))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestDualApproval(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)

	p, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "Test withdrawal")
	require.NoError(t, err)
	assert.Equal(t, user1, fx.tr.PendingApproval().To)
	assert.Equal(t, eth, fx.tr.PendingApproval().Amount)

	got, executed, err := fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.True(t, got.TreasurerApproved)
	assert.Equal(t, eth, fx.balance(t, treasuryAddr))

	got, executed, err = fx.tr.ApproveWithdrawal(ctx, ceo)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, p.ID, got.ID)

	assert.Equal(t, int64(0), fx.balance(t, treasuryAddr))
	assert.Equal(t, eth, fx.balance(t, user1))
	assert.Equal(t, Proposal{}, fx.tr.PendingApproval())
	assert.False(t, fx.tr.PendingApproval().Pending())
	assert.Equal(t, eth, fx.tr.Limits().WeeklyWithdrawn)

	assert.Equal(t, []events.Type{
		events.TypeWithdrawalProposed,
		events.TypeWithdrawalApproved,
		events.TypeWithdrawalApproved,
		events.TypeWithdrawalExecuted,
	}, fx.rec.types())
	assert.Equal(t, []string{ResultProposed, ResultExecuted}, fx.obs.results)
}

func TestApproveOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "")
	require.NoError(t, err)

	_, executed, err := fx.tr.ApproveWithdrawal(ctx, ceo)
	require.NoError(t, err)
	assert.False(t, executed)

	_, _, err = fx.tr.ApproveWithdrawal(ctx, ceo)
	assert.True(t, errors.Is(err, domain.ErrAlreadyApproved))

	_, executed, err = fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestOneIdentityCannotFillBothSlots(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)
	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleTreasurer, user2))
	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleCEO, user2))

	_, err := fx.tr.ProposeWithdrawal(ctx, user2, user1, eth, "")
	require.NoError(t, err)

	p, executed, err := fx.tr.ApproveWithdrawal(ctx, user2)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.True(t, p.TreasurerApproved)

	_, _, err = fx.tr.ApproveWithdrawal(ctx, user2)
	assert.True(t, errors.Is(err, domain.ErrAlreadyApproved))
	assert.Equal(t, eth, fx.balance(t, treasuryAddr))

	_, executed, err = fx.tr.ApproveWithdrawal(ctx, ceo)
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestProposeFailures(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 20*eth)

	_, err := fx.tr.ProposeWithdrawal(ctx, ceo, user1, eth, "")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, common.Address{}, eth/2, "Invalid address")
	assert.True(t, errors.Is(err, domain.ErrInvalidAddress))

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 0, "Zero withdrawal")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 11*eth, "")
	assert.True(t, errors.Is(err, domain.ErrExceedsMaxWithdrawal))

	require.NoError(t, fx.tr.UpdateMaxWithdrawalAmount(ctx, admin, 30*eth))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 21*eth, "")
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	assert.False(t, fx.tr.PendingApproval().Pending())
}

func TestAdminAloneCannotApprove(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "")
	require.NoError(t, err)
	_, _, err = fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)

	_, _, err = fx.tr.ApproveWithdrawal(ctx, admin)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, eth, fx.balance(t, treasuryAddr))
}

func TestRoleCheckedBeforeState(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 2*eth)

	_, _, err := fx.tr.ApproveWithdrawal(ctx, user2)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.False(t, errors.Is(err, domain.ErrNoPendingProposal))

	_, _, err = fx.tr.ApproveWithdrawal(ctx, ceo)
	assert.True(t, errors.Is(err, domain.ErrNoPendingProposal))

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "")
	require.NoError(t, err)

	_, err = fx.tr.ProposeWithdrawal(ctx, user2, user1, eth, "")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, common.Address{}, eth, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidAddress))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, 0, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, 11*eth, "")
	assert.True(t, errors.Is(err, domain.ErrExceedsMaxWithdrawal))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, 3*eth, "")
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, eth, "")
	assert.True(t, errors.Is(err, domain.ErrProposalAlreadyPending))
}

func TestSecondProposalWhilePending(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 2*eth)

	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "First withdrawal")
	require.NoError(t, err)
	_, _, err = fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, eth, "Second withdrawal")
	assert.True(t, errors.Is(err, domain.ErrProposalAlreadyPending))
	assert.Equal(t, user1, fx.tr.PendingApproval().To)
}

func TestWeeklyLimitWindow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 100*eth)

	for i := 0; i < 5; i++ {
		fx.withdraw(t, user1, 10*eth)
		fx.clock.Advance(time.Hour)
	}
	assert.Equal(t, 50*eth, fx.tr.Limits().WeeklyWithdrawn)

	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 10*eth, "Sixth withdrawal")
	assert.True(t, errors.Is(err, domain.ErrExceedsWeeklyLimit))

	fx.clock.Advance(7*24*time.Hour + time.Second)
	assert.Equal(t, int64(0), fx.tr.Limits().WeeklyWithdrawn)
	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 10*eth, "Sixth withdrawal")
	require.NoError(t, err)
}

func TestWindowResetCommitsWithProposal(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 100*eth)
	fx.withdraw(t, user1, 10*eth)

	fx.clock.Advance(7*24*time.Hour + time.Second)
	assert.Equal(t, int64(0), fx.tr.Limits().WeeklyWithdrawn)
	assert.Equal(t, 10*eth, fx.tr.Snapshot().Limits.WeeklyWithdrawn)

	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, 0, "empty")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
	assert.Equal(t, 10*eth, fx.tr.Snapshot().Limits.WeeklyWithdrawn)

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "next week")
	require.NoError(t, err)
	lim := fx.tr.Snapshot().Limits
	assert.Equal(t, int64(0), lim.WeeklyWithdrawn)
	assert.Equal(t, fx.clock.Now(), lim.WeekWindowStart)
}

func TestExecutionRechecksBalance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "")
	require.NoError(t, err)
	_, _, err = fx.tr.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)

	refuse := ledger.ReceiverFunc(func(context.Context, common.Address, ledger.Money) error {
		return errors.New("closed")
	})
	fx.value.SetReceiver(user1, refuse)

	_, executed, err := fx.tr.ApproveWithdrawal(ctx, ceo)
	assert.False(t, executed)
	assert.True(t, errors.Is(err, ledger.ErrTransferRejected))

	p := fx.tr.PendingApproval()
	assert.True(t, p.Pending())
	assert.True(t, p.TreasurerApproved)
	assert.False(t, p.CEOApproved)
	assert.Equal(t, eth, fx.balance(t, treasuryAddr))
	assert.Equal(t, int64(0), fx.tr.Limits().WeeklyWithdrawn)
}

func TestCancelWithdrawal(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, eth)

	assert.True(t, errors.Is(fx.tr.CancelWithdrawal(ctx, treasurer), domain.ErrNoPendingProposal))

	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user1, eth, "")
	require.NoError(t, err)
	assert.True(t, errors.Is(fx.tr.CancelWithdrawal(ctx, user2), domain.ErrUnauthorized))

	require.NoError(t, fx.tr.CancelWithdrawal(ctx, admin))
	assert.False(t, fx.tr.PendingApproval().Pending())

	_, err = fx.tr.ProposeWithdrawal(ctx, treasurer, user2, eth, "")
	require.NoError(t, err)
}

func TestRoleManagement(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	newTreasurer := user2

	err := fx.tr.AssignTreasurer(ctx, treasurer, newTreasurer)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	require.NoError(t, fx.tr.AssignTreasurer(ctx, admin, newTreasurer))
	assert.True(t, fx.tr.HasRole(RoleTreasurer, newTreasurer))
	assert.False(t, fx.tr.HasRole(RoleTreasurer, treasurer))
	assert.Equal(t, []common.Address{newTreasurer}, fx.tr.Members(RoleTreasurer))
	assert.Equal(t, []events.Type{events.TypeRoleRevoked, events.TypeRoleGranted}, fx.rec.types())

	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleCEO, user1))
	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleTreasurer, user1))
	assert.True(t, fx.tr.HasRole(RoleCEO, user1))
	assert.True(t, fx.tr.HasRole(RoleTreasurer, user1))

	assert.True(t, errors.Is(fx.tr.GrantRole(ctx, user1, RoleAdmin, user1), domain.ErrUnauthorized))
	assert.True(t, errors.Is(fx.tr.GrantRole(ctx, admin, Role("owner"), user1), domain.ErrInvalidInput))

	require.NoError(t, fx.tr.RevokeRole(ctx, admin, RoleCEO, user1))
	assert.False(t, fx.tr.HasRole(RoleCEO, user1))
}

func TestAdminTransfer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)

	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleAdmin, user1))
	assert.True(t, errors.Is(fx.tr.RenounceRole(ctx, user1, RoleAdmin, admin), domain.ErrUnauthorized))
	require.NoError(t, fx.tr.RenounceRole(ctx, admin, RoleAdmin, admin))

	assert.True(t, fx.tr.HasRole(RoleAdmin, user1))
	assert.False(t, fx.tr.HasRole(RoleAdmin, admin))
	assert.True(t, errors.Is(fx.tr.UpdateWeeklyLimit(ctx, admin, 100*eth), domain.ErrUnauthorized))
}

func TestUpdateLimits(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)

	err := fx.tr.UpdateMaxWithdrawalAmount(ctx, treasurer, 20*eth)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.True(t, errors.Is(fx.tr.UpdateWeeklyLimit(ctx, admin, 0), domain.ErrInvalidAmount))

	require.NoError(t, fx.tr.UpdateMaxWithdrawalAmount(ctx, admin, 20*eth))
	require.NoError(t, fx.tr.UpdateWeeklyLimit(ctx, admin, 100*eth))
	lim := fx.tr.Limits()
	assert.Equal(t, 20*eth, lim.MaxWithdrawalAmount)
	assert.Equal(t, 100*eth, lim.WeeklyLimit)

	require.Len(t, fx.rec.events, 2)
	assert.Equal(t, events.LimitsUpdated{MaxWithdrawalAmount: 20 * eth, WeeklyLimit: 100 * eth}, fx.rec.events[1].Payload)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 30*eth)
	fx.withdraw(t, user1, 10*eth)
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user2, 5*eth, "pending")
	require.NoError(t, err)

	st := fx.tr.Snapshot()
	restored, err := Restore(st, fx.value, WithClock(fx.clock))
	require.NoError(t, err)

	assert.Equal(t, fx.tr.PendingApproval(), restored.PendingApproval())
	assert.Equal(t, fx.tr.Limits(), restored.Limits())
	assert.True(t, restored.HasRole(RoleCEO, ceo))
	assert.True(t, restored.HasRole(RoleAdmin, admin))

	_, _, err = restored.ApproveWithdrawal(ctx, treasurer)
	require.NoError(t, err)
	_, executed, err := restored.ApproveWithdrawal(ctx, ceo)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, 5*eth, fx.balance(t, user2))
	assert.Equal(t, 15*eth, restored.Limits().WeeklyWithdrawn)
}

func TestResetRollsBackInPlace(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 30*eth)
	before := fx.tr.Snapshot()

	fx.withdraw(t, user1, 10*eth)
	require.NoError(t, fx.tr.GrantRole(ctx, admin, RoleCEO, user2))
	_, err := fx.tr.ProposeWithdrawal(ctx, treasurer, user2, 5*eth, "")
	require.NoError(t, err)

	require.NoError(t, fx.tr.Reset(before))
	assert.False(t, fx.tr.PendingApproval().Pending())
	assert.Equal(t, int64(0), fx.tr.Limits().WeeklyWithdrawn)
	assert.False(t, fx.tr.HasRole(RoleCEO, user2))
	assert.True(t, fx.tr.HasRole(RoleCEO, ceo))

	other := before
	other.Address = user1
	assert.True(t, errors.Is(fx.tr.Reset(other), domain.ErrInvalidInput))
}
