package treasury

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/ledger"
)

// Grant lists the roles held by one account.
type Grant struct {
	Account common.Address `json:"account"`
	Roles   []Role         `json:"roles"`
}

// State is the serialisable content of a Treasury. Funds live in the ledger.
type State struct {
	Address  common.Address `json:"address"`
	Currency string         `json:"currency"`
	Window   time.Duration  `json:"window"`
	Grants   []Grant        `json:"grants"`
	Pending  Proposal       `json:"pending"`
	Limits   Limits         `json:"limits"`
}

func (t *Treasury) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Address:  t.address,
		Currency: t.currency,
		Window:   t.window,
		Pending:  t.pending,
		Limits:   t.limits,
	}
	for addr, roles := range t.roles {
		g := Grant{Account: addr}
		for r := range roles {
			g.Roles = append(g.Roles, r)
		}
		sort.Slice(g.Roles, func(i, j int) bool { return g.Roles[i] < g.Roles[j] })
		st.Grants = append(st.Grants, g)
	}
	sort.Slice(st.Grants, func(i, j int) bool {
		return bytes.Compare(st.Grants[i].Account[:], st.Grants[j].Account[:]) < 0
	})
	return st
}

// Restore rebuilds a treasury from a snapshot and re-registers its ledger receiver.
func Restore(st State, value ledger.Service, opts ...Option) (*Treasury, error) {
	if domain.IsZero(st.Address) {
		return nil, fmt.Errorf("%w: invalid treasury address", domain.ErrInvalidAddress)
	}
	t := newTreasury(Config{
		Address:             st.Address,
		MaxWithdrawalAmount: st.Limits.MaxWithdrawalAmount,
		WeeklyLimit:         st.Limits.WeeklyLimit,
		Window:              st.Window,
		Currency:            st.Currency,
	}, value, opts...)
	roles, err := grantsToRoles(st.Grants)
	if err != nil {
		return nil, err
	}
	t.roles = roles
	t.pending = st.Pending
	t.limits.WeeklyWithdrawn = st.Limits.WeeklyWithdrawn
	t.limits.WeekWindowStart = st.Limits.WeekWindowStart
	value.SetReceiver(t.address, ledger.ReceiverFunc(t.receive))
	return t, nil
}

// Reset replaces roles, the pending proposal and limits with the content of st.
// The address, currency and ledger registration are unchanged.
func (t *Treasury) Reset(st State) error {
	if st.Address != t.address {
		return fmt.Errorf("%w: snapshot is for treasury %s", domain.ErrInvalidInput, st.Address.Hex())
	}
	roles, err := grantsToRoles(st.Grants)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roles = roles
	t.pending = st.Pending
	t.limits = st.Limits
	if st.Window > 0 {
		t.window = st.Window
	}
	return nil
}

func grantsToRoles(grants []Grant) (roleSet, error) {
	roles := make(roleSet)
	for _, g := range grants {
		for _, r := range g.Roles {
			if _, err := ParseRole(string(r)); err != nil {
				return nil, err
			}
			roles.grant(g.Account, r)
		}
	}
	return roles, nil
}
