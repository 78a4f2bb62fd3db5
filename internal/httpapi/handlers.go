package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"soundmint.org/internal/auth"
	"soundmint.org/internal/events"
	"soundmint.org/internal/market"
	"soundmint.org/internal/obs"
)

const serviceName = "soundmint-api"

// ReadyProbe checks readiness, e.g. a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options tunes the HTTP layer. Zero values take the defaults.
type Options struct {
	Version      string
	Issuer       *auth.Issuer
	Bus          *events.Bus
	Ready        readinessChecker
	DevTokens    bool
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   int
}

// API is the HTTP surface over a market engine.
type API struct {
	mux        *http.ServeMux
	engine     *market.Engine
	issuer     *auth.Issuer
	bus        *events.Bus
	readyProbe readinessChecker
	version    string
	devTokens  bool
	maxBody    int64
	rateBurst  int
	ratePerSec int

	closing   chan struct{}
	closeOnce sync.Once
}

func New(engine *market.Engine, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     engine,
		issuer:     opts.Issuer,
		bus:        opts.Bus,
		readyProbe: opts.Ready,
		version:    opts.Version,
		devTokens:  opts.DevTokens,
		maxBody:    opts.MaxBodyBytes,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		closing:    make(chan struct{}),
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	a.routes()
	return a
}

// CloseStreams ends open event streams. Register it with
// http.Server.RegisterOnShutdown; Shutdown does not wait for hijacked or
// long-lived responses on its own.
func (a *API) CloseStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("POST /v1/auth/token", a.issueToken)

	a.mux.HandleFunc("POST /v1/artists", a.registerArtist)
	a.mux.HandleFunc("GET /v1/artists", a.listArtists)
	a.mux.HandleFunc("GET /v1/artists/{artist}", a.getArtist)
	a.mux.HandleFunc("GET /v1/platform", a.getPlatform)
	a.mux.HandleFunc("PUT /v1/platform", a.updatePlatform)
	a.mux.HandleFunc("PUT /v1/platform/owner", a.transferOwnership)

	a.mux.HandleFunc("POST /v1/registries/{registry}/collections", a.createCollection)
	a.mux.HandleFunc("GET /v1/registries/{registry}/collections", a.listCollections)
	a.mux.HandleFunc("GET /v1/registries/{registry}/collections/{id}", a.getCollection)
	a.mux.HandleFunc("DELETE /v1/registries/{registry}/collections/{id}", a.deleteCollection)
	a.mux.HandleFunc("POST /v1/registries/{registry}/collections/{id}/visibility", a.toggleVisibility)
	a.mux.HandleFunc("POST /v1/registries/{registry}/tokens", a.createToken)
	a.mux.HandleFunc("PUT /v1/registries/{registry}/uri", a.setURI)
	a.mux.HandleFunc("PUT /v1/registries/{registry}/artist", a.transferArtistRole)
	a.mux.HandleFunc("GET /v1/tokens/{token}", a.getToken)
	a.mux.HandleFunc("GET /v1/tokens/{token}/uri", a.tokenURI)
	a.mux.HandleFunc("PUT /v1/tokens/{token}/price", a.updateTokenPrice)

	a.mux.HandleFunc("POST /v1/registries/{registry}/mints", a.mintBatch)
	a.mux.HandleFunc("GET /v1/tokens/{token}/balances/{owner}", a.tokenBalance)
	a.mux.Handle("POST /v1/deposits", RequireRole(auth.RoleHost)(http.HandlerFunc(a.deposit)))
	a.mux.HandleFunc("GET /v1/accounts/{address}/balance", a.accountBalance)
	a.mux.HandleFunc("GET /v1/ledger/transactions", a.listTransactions)

	a.mux.HandleFunc("GET /v1/treasury", a.getTreasury)
	a.mux.HandleFunc("POST /v1/treasury/proposals", a.proposeWithdrawal)
	a.mux.HandleFunc("POST /v1/treasury/proposals/approve", a.approveWithdrawal)
	a.mux.HandleFunc("DELETE /v1/treasury/proposals", a.cancelWithdrawal)
	a.mux.HandleFunc("PUT /v1/treasury/limits", a.updateLimits)
	a.mux.HandleFunc("POST /v1/treasury/treasurer", a.assignTreasurer)
	a.mux.HandleFunc("POST /v1/treasury/roles", a.grantRole)
	a.mux.HandleFunc("DELETE /v1/treasury/roles", a.revokeRole)

	a.mux.HandleFunc("GET /v1/events", a.Stream)
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           serviceName,
		"time":           time.Now().UTC().Format(time.RFC3339),
		"version":        a.version,
		"currency":       a.engine.Currency(),
		"max_batch_size": a.engine.Mint.MaxBatchSize(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
