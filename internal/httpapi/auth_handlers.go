package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"soundmint.org/internal/audit"
)

type tokenRequest struct {
	Address string   `json:"address"`
	Roles   []string `json:"roles"`
}

type issuedToken struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueToken signs a token for any address. Development only.
func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens || a.issuer == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "token issuance is disabled")
		return
	}

	var req tokenRequest
	if !readJSON(w, r, &req) {
		return
	}
	addr, err := parseAddressField("address", req.Address)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	token, expiresAt, err := a.issuer.GenerateToken(addr, req.Roles, 0)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued",
		zap.String("address", addr.Hex()),
		zap.Strings("roles", req.Roles),
		zap.Time("expires_at", expiresAt))

	writeJSON(w, http.StatusOK, issuedToken{
		Token:     token,
		Address:   addr.Hex(),
		ExpiresAt: expiresAt,
	})
}
