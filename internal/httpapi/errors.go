package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/auth"
	"soundmint.org/internal/domain"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/obs"
	"soundmint.org/internal/tokenid"
)

// errorStatuses is matched in order; payment failures wrap ledger rejections
// and must be classified before the generic ledger errors.
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrTreasuryPaymentFailed, http.StatusConflict, "treasury_payment_failed"},
	{domain.ErrArtistPaymentFailed, http.StatusConflict, "artist_payment_failed"},
	{ledger.ErrTransferRejected, http.StatusConflict, "transfer_rejected"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrProposalAlreadyPending, http.StatusConflict, "proposal_pending"},
	{domain.ErrNoPendingProposal, http.StatusConflict, "no_pending_proposal"},
	{domain.ErrAlreadyApproved, http.StatusConflict, "already_approved"},
	{domain.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
	{domain.ErrExceedsMaxWithdrawal, http.StatusUnprocessableEntity, "exceeds_max_withdrawal"},
	{domain.ErrExceedsWeeklyLimit, http.StatusUnprocessableEntity, "exceeds_weekly_limit"},
	{domain.ErrPaymentMismatch, http.StatusBadRequest, "payment_mismatch"},
	{domain.ErrBatchTooLarge, http.StatusBadRequest, "batch_too_large"},
	{domain.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			writeError(w, r, e.status, e.code, err.Error())
			return
		}
	}
	obs.Logger().Error("request failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, "invalid_input", msg)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(r, dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return false
	}
	badRequest(w, r, err.Error())
	return false
}

// callerFrom writes 401 and reports false when the request is anonymous.
func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="soundmint"`)
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return common.Address{}, false
	}
	return caller, true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		badRequest(w, r, fmt.Sprintf("%s: %v", name, err))
		return common.Address{}, false
	}
	return addr, true
}

func pathToken(w http.ResponseWriter, r *http.Request) (tokenid.ID, bool) {
	id, err := tokenid.Parse(r.PathValue("token"))
	if err != nil {
		badRequest(w, r, fmt.Sprintf("token: %v", err))
		return tokenid.ID{}, false
	}
	return id, true
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		badRequest(w, r, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func parseAddressField(name, raw string) (common.Address, error) {
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func parseIntParam(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}
