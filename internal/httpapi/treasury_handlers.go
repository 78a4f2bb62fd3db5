package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"soundmint.org/internal/audit"
	"soundmint.org/internal/treasury"
)

type proposalRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type approvalResponse struct {
	Proposal treasury.Proposal `json:"proposal"`
	Executed bool              `json:"executed"`
}

type limitsRequest struct {
	MaxWithdrawalAmount *int64 `json:"max_withdrawal_amount"`
	WeeklyLimit         *int64 `json:"weekly_limit"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

type treasuryResponse struct {
	Address  string              `json:"address"`
	Currency string              `json:"currency"`
	Balance  int64               `json:"balance"`
	Limits   treasury.Limits     `json:"limits"`
	Pending  *treasury.Proposal  `json:"pending,omitempty"`
	Roles    map[string][]string `json:"roles"`
}

func (a *API) getTreasury(w http.ResponseWriter, r *http.Request) {
	t := a.engine.Treasury
	balance, err := t.Balance(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := treasuryResponse{
		Address:  t.Address().Hex(),
		Currency: a.engine.Currency(),
		Balance:  balance,
		Limits:   t.Limits(),
		Roles:    make(map[string][]string, 3),
	}
	if p := t.PendingApproval(); p.Pending() {
		resp.Pending = &p
	}
	for _, role := range []treasury.Role{treasury.RoleAdmin, treasury.RoleCEO, treasury.RoleTreasurer} {
		members := t.Members(role)
		hex := make([]string, 0, len(members))
		for _, m := range members {
			hex = append(hex, m.Hex())
		}
		resp.Roles[string(role)] = hex
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) proposeWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req proposalRequest
	if !readJSON(w, r, &req) {
		return
	}
	to, err := parseAddressField("to", req.To)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var p treasury.Proposal
	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		var err error
		p, err = a.engine.Treasury.ProposeWithdrawal(ctx, caller, to, req.Amount, req.Reason)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "treasury.withdrawal.proposed",
		zap.String("proposal_id", p.ID),
		zap.String("to", to.Hex()),
		zap.Int64("amount", req.Amount),
		zap.String("reason", req.Reason))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var (
		p        treasury.Proposal
		executed bool
	)
	err := a.engine.Apply(r.Context(), func(ctx context.Context) error {
		var err error
		p, executed, err = a.engine.Treasury.ApproveWithdrawal(ctx, caller)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	event := "treasury.withdrawal.approved"
	if executed {
		event = "treasury.withdrawal.executed"
	}
	_ = audit.LogEvent(r.Context(), event,
		zap.String("proposal_id", p.ID),
		zap.Int64("amount", p.Amount))
	writeJSON(w, http.StatusOK, approvalResponse{Proposal: p, Executed: executed})
}

func (a *API) cancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var pending treasury.Proposal
	err := a.engine.Apply(r.Context(), func(ctx context.Context) error {
		pending = a.engine.Treasury.PendingApproval()
		return a.engine.Treasury.CancelWithdrawal(ctx, caller)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "treasury.withdrawal.cancelled",
		zap.String("proposal_id", pending.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateLimits(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req limitsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.MaxWithdrawalAmount == nil && req.WeeklyLimit == nil {
		badRequest(w, r, "max_withdrawal_amount or weekly_limit is required")
		return
	}

	t := a.engine.Treasury
	err := a.engine.Apply(r.Context(), func(ctx context.Context) error {
		if req.MaxWithdrawalAmount != nil {
			if err := t.UpdateMaxWithdrawalAmount(ctx, caller, *req.MaxWithdrawalAmount); err != nil {
				return err
			}
		}
		if req.WeeklyLimit != nil {
			return t.UpdateWeeklyLimit(ctx, caller, *req.WeeklyLimit)
		}
		return nil
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	lim := t.Limits()
	_ = audit.LogEvent(r.Context(), "treasury.limits.updated",
		zap.Int64("max_withdrawal_amount", lim.MaxWithdrawalAmount),
		zap.Int64("weekly_limit", lim.WeeklyLimit))
	writeJSON(w, http.StatusOK, lim)
}

func (a *API) assignTreasurer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	addr, err := parseAddressField("address", req.Address)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		return a.engine.Treasury.AssignTreasurer(ctx, caller, addr)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "treasury.treasurer.assigned",
		zap.String("treasurer", addr.Hex()))
	writeJSON(w, http.StatusOK, map[string]string{"treasurer": addr.Hex()})
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, true)
}

// revokeRole revokes as admin; a caller dropping its own role renounces it.
func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, false)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !readJSON(w, r, &req) {
		return
	}
	role, err := treasury.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	account, err := parseAddressField("account", req.Account)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	t := a.engine.Treasury
	var event string
	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		switch {
		case grant:
			event = "treasury.role.granted"
			return t.GrantRole(ctx, caller, role, account)
		case account == caller && !t.HasRole(treasury.RoleAdmin, caller):
			event = "treasury.role.renounced"
			return t.RenounceRole(ctx, caller, role, account)
		default:
			event = "treasury.role.revoked"
			return t.RevokeRole(ctx, caller, role, account)
		}
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), event,
		zap.String("role", string(role)),
		zap.String("account", account.Hex()))
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"account": account.Hex(),
		"granted": t.HasRole(role, account),
	})
}
