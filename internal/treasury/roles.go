package treasury

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
)

// Role is a treasury permission.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCEO       Role = "ceo"
	RoleTreasurer Role = "treasurer"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleCEO, RoleTreasurer:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, s)
}

// roleSet maps identities to the roles they hold.
type roleSet map[common.Address]map[Role]struct{}

func (s roleSet) has(addr common.Address, r Role) bool {
	_, ok := s[addr][r]
	return ok
}

func (s roleSet) any(addr common.Address, roles ...Role) bool {
	for _, r := range roles {
		if s.has(addr, r) {
			return true
		}
	}
	return false
}

// grant reports whether the role was newly added.
func (s roleSet) grant(addr common.Address, r Role) bool {
	if s.has(addr, r) {
		return false
	}
	if s[addr] == nil {
		s[addr] = make(map[Role]struct{})
	}
	s[addr][r] = struct{}{}
	return true
}

// revoke reports whether the role was held.
func (s roleSet) revoke(addr common.Address, r Role) bool {
	if !s.has(addr, r) {
		return false
	}
	delete(s[addr], r)
	if len(s[addr]) == 0 {
		delete(s, addr)
	}
	return true
}

func (s roleSet) members(r Role) []common.Address {
	var out []common.Address
	for addr, roles := range s {
		if _, ok := roles[r]; ok {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

type roleChange struct {
	typ     events.Type
	role    Role
	account common.Address
}

// HasRole reports whether addr holds r.
func (t *Treasury) HasRole(r Role, addr common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roles.has(addr, r)
}

// Members lists the holders of r in address order.
func (t *Treasury) Members(r Role) []common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roles.members(r)
}

// AssignTreasurer makes addr the only treasurer. Admin only.
func (t *Treasury) AssignTreasurer(ctx context.Context, caller, addr common.Address) error {
	t.mu.Lock()
	if !t.roles.has(caller, RoleAdmin) {
		t.mu.Unlock()
		return fmt.Errorf("%w: only admin can assign treasurer", domain.ErrUnauthorized)
	}
	if domain.IsZero(addr) {
		t.mu.Unlock()
		return fmt.Errorf("%w: treasurer is the zero address", domain.ErrInvalidAddress)
	}
	var changes []roleChange
	for _, cur := range t.roles.members(RoleTreasurer) {
		if cur == addr {
			continue
		}
		t.roles.revoke(cur, RoleTreasurer)
		changes = append(changes, roleChange{events.TypeRoleRevoked, RoleTreasurer, cur})
	}
	if t.roles.grant(addr, RoleTreasurer) {
		changes = append(changes, roleChange{events.TypeRoleGranted, RoleTreasurer, addr})
	}
	t.mu.Unlock()

	t.publishRoleChanges(ctx, caller, changes)
	return nil
}

// GrantRole adds r to account. Admin only; granting a held role is a no-op.
func (t *Treasury) GrantRole(ctx context.Context, caller common.Address, r Role, account common.Address) error {
	if _, err := ParseRole(string(r)); err != nil {
		return err
	}
	t.mu.Lock()
	if !t.roles.has(caller, RoleAdmin) {
		t.mu.Unlock()
		return fmt.Errorf("%w: only admin can grant roles", domain.ErrUnauthorized)
	}
	if domain.IsZero(account) {
		t.mu.Unlock()
		return fmt.Errorf("%w: account is the zero address", domain.ErrInvalidAddress)
	}
	granted := t.roles.grant(account, r)
	t.mu.Unlock()

	if granted {
		t.publishRoleChanges(ctx, caller, []roleChange{{events.TypeRoleGranted, r, account}})
	}
	return nil
}

// RevokeRole removes r from account. Admin only.
func (t *Treasury) RevokeRole(ctx context.Context, caller common.Address, r Role, account common.Address) error {
	if _, err := ParseRole(string(r)); err != nil {
		return err
	}
	t.mu.Lock()
	if !t.roles.has(caller, RoleAdmin) {
		t.mu.Unlock()
		return fmt.Errorf("%w: only admin can revoke roles", domain.ErrUnauthorized)
	}
	revoked := t.roles.revoke(account, r)
	t.mu.Unlock()

	if revoked {
		t.publishRoleChanges(ctx, caller, []roleChange{{events.TypeRoleRevoked, r, account}})
	}
	return nil
}

// RenounceRole drops one of the caller's own roles.
func (t *Treasury) RenounceRole(ctx context.Context, caller common.Address, r Role, account common.Address) error {
	if caller != account {
		return fmt.Errorf("%w: can only renounce roles for self", domain.ErrUnauthorized)
	}
	t.mu.Lock()
	revoked := t.roles.revoke(account, r)
	t.mu.Unlock()

	if revoked {
		t.publishRoleChanges(ctx, caller, []roleChange{{events.TypeRoleRevoked, r, account}})
	}
	return nil
}

func (t *Treasury) publishRoleChanges(ctx context.Context, sender common.Address, changes []roleChange) {
	for _, c := range changes {
		t.log.Info("treasury role changed",
			zap.String("event", string(c.typ)),
			zap.String("role", string(c.role)),
			zap.String("account", c.account.Hex()),
			zap.String("sender", sender.Hex()))
		t.events.Emit(ctx, c.typ, events.RoleChanged{Role: string(c.role), Account: c.account, Sender: sender})
	}
}
