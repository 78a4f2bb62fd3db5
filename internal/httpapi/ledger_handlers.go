package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"soundmint.org/internal/audit"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/mint"
	"soundmint.org/internal/tokenid"
)

type mintRequest struct {
	TokenIDs []tokenid.ID `json:"token_ids"`
	Payment  int64        `json:"payment"`
}

type depositRequest struct {
	To             string `json:"to"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type balanceResponse struct {
	TokenID   string `json:"token_id"`
	Owner     string `json:"owner"`
	Balance   uint64 `json:"balance"`
	HasMinted bool   `json:"has_minted"`
}

type listTransactionsResponse struct {
	Items     []ledger.Transaction `json:"items"`
	NextAfter uint64               `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

func (a *API) mintBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	registry, ok := pathAddress(w, r, "registry")
	if !ok {
		return
	}
	var req mintRequest
	if !readJSON(w, r, &req) {
		return
	}

	var receipt mint.Receipt
	err := a.engine.Apply(r.Context(), func(ctx context.Context) error {
		var err error
		receipt, err = a.engine.Mint.MintBatch(ctx, caller, registry, req.TokenIDs, req.Payment)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "mint.batch",
		zap.String("registry", registry.Hex()),
		zap.Int("tokens", len(receipt.TokenIDs)),
		zap.Int64("payment", receipt.Payment),
		zap.Int64("artist_share", receipt.ArtistShare),
		zap.Int64("platform_fee", receipt.PlatformFee))
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) tokenBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathToken(w, r)
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		TokenID:   id.String(),
		Owner:     owner.Hex(),
		Balance:   a.engine.Mint.BalanceOf(id, owner),
		HasMinted: a.engine.Mint.HasMinted(id, owner),
	})
}

// deposit credits value from outside the ledger. Requires the host role.
func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !readJSON(w, r, &req) {
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			badRequest(w, r, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		badRequest(w, r, "Idempotency-Key too long")
		return
	}
	to, err := parseAddressField("to", req.To)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = a.engine.Currency()
	}

	var tx ledger.Transaction
	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		var err error
		tx, err = a.engine.Value.Deposit(ctx, to, ledger.Money{Currency: currency, Amount: req.Amount}, idem)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	_ = audit.LogEvent(r.Context(), "ledger.deposit",
		zap.String("to", to.Hex()),
		zap.String("currency", currency),
		zap.Int64("amount", req.Amount),
		zap.String("transaction_id", tx.ID),
		zap.String("idempotency_key", idem))
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) accountBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		currency = a.engine.Currency()
	}
	m, err := a.engine.Value.GetBalance(r.Context(), addr, currency)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr.Hex(),
		"currency": m.Currency,
		"amount":   m.Amount,
	})
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), "limit", 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, r, "after must be a non-negative integer")
			return
		}
	}

	items, next, err := a.engine.Value.ListTransactions(r.Context(), limit, after)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	if next == 0 {
		next = after
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}
