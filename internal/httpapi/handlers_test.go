package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundmint.org/internal/auth"
	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/market"
	"soundmint.org/internal/treasury"
)

const eth int64 = 1_000_000_000

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000f4c70")
	ownerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	keeperAddr  = common.HexToAddress("0x000000000000000000000000000000000000007e")
	artistAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	hostAddr    = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	payeeAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	ceoAddr     = common.HexToAddress("0x00000000000000000000000000000000000000ce")
)

type apiClient struct {
	baseURL string
	client  *http.Client
	bus     *events.Bus
	engine  *market.Engine
	api     *API
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...market.Option) *apiClient {
	t.Helper()

	bus := events.NewBus(64)
	opts = append([]market.Option{market.WithPublisher(bus)}, opts...)
	engine, err := market.New(market.Config{
		FactoryAddress: factoryAddr,
		Owner:          ownerAddr,
		FeeBps:         250,
		Treasury:       treasury.Config{Address: vaultAddr, Admin: adminAddr, Treasurer: keeperAddr},
		MaxBatchSize:   5,
	}, ledger.NewInMemory(nil), opts...)
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("test-secret", "soundmint", time.Minute)
	require.NoError(t, err)

	api := New(engine, Options{
		Version:    "test",
		Issuer:     issuer,
		Bus:        bus,
		DevTokens:  true,
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		bus:     bus,
		engine:  engine,
		api:     api,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	resp, err := c.client.Get(u)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) obtainToken(addr common.Address, roles ...string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"address": addr.Hex(),
		"roles":   roles,
	}, "")
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	payload := decode[issuedToken](c.t, resp)
	require.NotEmpty(c.t, payload.Token)
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func expectError(t *testing.T, r *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, r.StatusCode)
	body := decode[map[string]any](t, r)
	assert.Equal(t, code, body["code"])
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAPIMintAndWithdrawFlow(t *testing.T) {
	api := newTestAPI(t)
	artistTok := api.obtainToken(artistAddr)
	buyerTok := api.obtainToken(buyerAddr)
	hostTok := api.obtainToken(hostAddr, auth.RoleHost)
	keeperTok := api.obtainToken(keeperAddr)
	adminTok := api.obtainToken(adminAddr)

	// Register the artist.
	resp := api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reg := decode[registerArtistResponse](t, resp)
	registry := reg.Registry

	resp = api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, artistTok)
	expectError(t, resp, http.StatusConflict, "already_registered")

	resp = api.get("/v1/artists/"+artistAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "Nova", info["name"])

	// Catalog.
	resp = api.post("/v1/registries/"+registry+"/collections", map[string]any{"name": "Debut", "is_public": true}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	col := decode[map[string]any](t, resp)
	colID := uint64(col["id"].(float64))

	resp = api.post("/v1/registries/"+registry+"/collections", map[string]any{"name": "Stolen"}, buyerTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.post("/v1/registries/"+registry+"/tokens", map[string]any{
		"collection_id": colID,
		"royalty_bps":   500,
		"price":         2 * eth,
		"metadata_uri":  "ipfs://track-1",
	}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok := decode[map[string]any](t, resp)
	tokenID := tok["id"].(string)
	assert.Equal(t, "ipfs://track-1", tok["uri"])

	// Fund the buyer.
	resp = api.post("/v1/deposits", map[string]any{"to": buyerAddr.Hex(), "amount": 10 * eth}, buyerTok)
	expectError(t, resp, http.StatusForbidden, "forbidden")
	resp = api.post("/v1/deposits", map[string]any{"to": buyerAddr.Hex(), "amount": 10 * eth, "idempotency_key": "fund-1"}, hostTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "fund-1", resp.Header.Get("Idempotency-Key"))
	resp.Body.Close()

	// Mint.
	resp = api.post("/v1/registries/"+registry+"/mints", map[string]any{"token_ids": []string{tokenID}, "payment": eth}, buyerTok)
	expectError(t, resp, http.StatusBadRequest, "payment_mismatch")

	resp = api.post("/v1/registries/"+registry+"/mints", map[string]any{"token_ids": []string{tokenID}, "payment": 2 * eth}, buyerTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	receipt := decode[map[string]any](t, resp)
	assert.Equal(t, float64(50_000_000), receipt["platform_fee"])
	assert.Equal(t, float64(1_950_000_000), receipt["artist_share"])

	resp = api.get("/v1/tokens/"+tokenID+"/balances/"+buyerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[balanceResponse](t, resp)
	assert.Equal(t, uint64(1), bal.Balance)
	assert.True(t, bal.HasMinted)

	resp = api.get("/v1/tokens/"+tokenID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]any](t, resp)["total_supply"])

	resp = api.get("/v1/accounts/"+artistAddr.Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1_950_000_000), decode[map[string]any](t, resp)["amount"])

	// Treasury withdrawal needs the treasurer and the CEO.
	resp = api.get("/v1/treasury", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode[treasuryResponse](t, resp)
	assert.Equal(t, int64(50_000_000), tr.Balance)
	assert.Nil(t, tr.Pending)

	resp = api.post("/v1/treasury/proposals", map[string]any{"to": payeeAddr.Hex(), "amount": 10_000_000, "reason": "ops"}, buyerTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.post("/v1/treasury/proposals", map[string]any{"to": payeeAddr.Hex(), "amount": 10_000_000, "reason": "ops"}, keeperTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = api.post("/v1/treasury/proposals", map[string]any{"to": payeeAddr.Hex(), "amount": 1, "reason": "again"}, keeperTok)
	expectError(t, resp, http.StatusConflict, "proposal_pending")

	resp = api.post("/v1/treasury/proposals/approve", nil, keeperTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[approvalResponse](t, resp).Executed)

	resp = api.post("/v1/treasury/proposals/approve", nil, keeperTok)
	expectError(t, resp, http.StatusConflict, "already_approved")

	resp = api.post("/v1/treasury/proposals/approve", nil, adminTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.post("/v1/treasury/roles", map[string]any{"role": "ceo", "account": ceoAddr.Hex()}, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ceoTok := api.obtainToken(ceoAddr)
	resp = api.post("/v1/treasury/proposals/approve", nil, ceoTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[approvalResponse](t, resp).Executed)

	resp = api.get("/v1/accounts/"+payeeAddr.Hex()+"/balance", nil)
	assert.Equal(t, float64(10_000_000), decode[map[string]any](t, resp)["amount"])

	resp = api.get("/v1/treasury", nil)
	tr = decode[treasuryResponse](t, resp)
	assert.Equal(t, int64(40_000_000), tr.Balance)
	assert.Equal(t, int64(10_000_000), tr.Limits.WeeklyWithdrawn)

	resp = api.get("/v1/ledger/transactions", url.Values{"limit": []string{"10"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs := decode[listTransactionsResponse](t, resp)
	assert.Len(t, txs.Items, 4) // deposit, fee, artist share, withdrawal
	assert.Equal(t, uint64(4), txs.NextAfter)
}

func TestAPICatalogManagement(t *testing.T) {
	api := newTestAPI(t)
	artistTok := api.obtainToken(artistAddr)
	newArtistTok := api.obtainToken(payeeAddr)

	resp := api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	registry := decode[registerArtistResponse](t, resp).Registry

	resp = api.post("/v1/registries/"+registry+"/collections", map[string]any{"name": "EP"}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	colID := uint64(decode[map[string]any](t, resp)["id"].(float64))
	colPath := "/v1/registries/" + registry + "/collections/" + strconv.FormatUint(colID, 10)

	resp = api.post(colPath+"/visibility", nil, artistTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["is_public"])

	resp = api.post("/v1/registries/"+registry+"/tokens", map[string]any{"collection_id": colID, "price": eth}, artistTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tokenID := decode[map[string]any](t, resp)["id"].(string)

	resp = api.do(http.MethodPut, "/v1/registries/"+registry+"/uri", map[string]any{"base_uri": "https://cdn.example/"}, artistTok)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/v1/tokens/"+tokenID+"/uri", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://cdn.example/"+tokenID, decode[map[string]string](t, resp)["uri"])

	resp = api.do(http.MethodPut, "/v1/tokens/"+tokenID+"/price", map[string]any{"price": 3 * eth}, artistTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3*eth), decode[map[string]any](t, resp)["price"])

	resp = api.get(colPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string]any](t, resp)["tokens"], 1)

	resp = api.do(http.MethodPut, "/v1/registries/"+registry+"/artist", map[string]any{"artist": payeeAddr.Hex()}, artistTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, colPath, nil, artistTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.do(http.MethodDelete, colPath, nil, newArtistTok)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/v1/registries/"+registry+"/collections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string]any](t, resp)
	assert.Equal(t, payeeAddr.Hex(), list["artist"])

	resp = api.get("/v1/registries/0x00000000000000000000000000000000deadbeef/collections", nil)
	expectError(t, resp, http.StatusNotFound, "not_found")

	resp = api.get("/v1/registries/not-an-address/collections", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
}

func TestAPIPlatformAdministration(t *testing.T) {
	api := newTestAPI(t)
	ownerTok := api.obtainToken(ownerAddr)
	strangerTok := api.obtainToken(buyerAddr)

	resp := api.get("/v1/platform", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[platformResponse](t, resp)
	assert.Equal(t, uint32(250), p.FeeBps)
	assert.Equal(t, vaultAddr.Hex(), p.Treasury)

	resp = api.do(http.MethodPut, "/v1/platform", map[string]any{"treasury": vaultAddr.Hex(), "fee_bps": 500}, strangerTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.do(http.MethodPut, "/v1/platform", map[string]any{"treasury": vaultAddr.Hex(), "fee_bps": 500}, ownerTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint32(500), decode[platformResponse](t, resp).FeeBps)

	resp = api.do(http.MethodPut, "/v1/platform/owner", map[string]any{"owner": buyerAddr.Hex()}, ownerTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, buyerAddr.Hex(), decode[platformResponse](t, resp).Owner)
}

func TestAPITreasuryAdministration(t *testing.T) {
	api := newTestAPI(t)
	adminTok := api.obtainToken(adminAddr)
	keeperTok := api.obtainToken(keeperAddr)

	resp := api.do(http.MethodPut, "/v1/treasury/limits", map[string]any{"weekly_limit": 5 * eth}, keeperTok)
	expectError(t, resp, http.StatusForbidden, "unauthorized")

	resp = api.do(http.MethodPut, "/v1/treasury/limits", map[string]any{}, adminTok)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	resp = api.do(http.MethodPut, "/v1/treasury/limits", map[string]any{"max_withdrawal_amount": eth, "weekly_limit": 5 * eth}, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lim := decode[treasury.Limits](t, resp)
	assert.Equal(t, eth, lim.MaxWithdrawalAmount)
	assert.Equal(t, 5*eth, lim.WeeklyLimit)

	resp = api.post("/v1/treasury/roles", map[string]any{"role": "ceo", "account": payeeAddr.Hex()}, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["granted"])

	resp = api.post("/v1/treasury/roles", map[string]any{"role": "janitor", "account": payeeAddr.Hex()}, adminTok)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	payeeTok := api.obtainToken(payeeAddr)
	resp = api.do(http.MethodDelete, "/v1/treasury/roles", map[string]any{"role": "ceo", "account": payeeAddr.Hex()}, payeeTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["granted"])

	resp = api.post("/v1/treasury/treasurer", map[string]any{"address": buyerAddr.Hex()}, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.True(t, api.engine.Treasury.HasRole(treasury.RoleTreasurer, buyerAddr))

	resp = api.do(http.MethodDelete, "/v1/treasury/proposals", nil, adminTok)
	expectError(t, resp, http.StatusConflict, "no_pending_proposal")
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, "")
	expectError(t, resp, http.StatusUnauthorized, "unauthenticated")

	resp = api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, "garbage")
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"address": ""}, "")
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	resp = api.post("/v1/auth/token", map[string]any{"address": buyerAddr.Hex(), "extra": 1}, "")
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
}

func TestTokenEndpointDisabled(t *testing.T) {
	engine, err := market.New(market.Config{
		FactoryAddress: factoryAddr,
		Owner:          ownerAddr,
		Treasury:       treasury.Config{Address: vaultAddr, Admin: adminAddr, Treasurer: keeperAddr},
	}, ledger.NewInMemory(nil))
	require.NoError(t, err)
	srv := httptest.NewServer(New(engine, Options{}).Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Post(srv.URL+"/v1/auth/token", "application/json", strings.NewReader(`{"address":"`+buyerAddr.Hex()+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProbes(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	resp = api.get("/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/v1/info", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "ETH", info["currency"])
	assert.Equal(t, float64(5), info["max_batch_size"])
}

func TestStreamDeliversEvents(t *testing.T) {
	api := newTestAPI(t)
	artistTok := api.obtainToken(artistAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events?types=ArtistRegistered", nil)
	require.NoError(t, err)
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return api.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	reg := api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, artistTok)
	require.Equal(t, http.StatusCreated, reg.StatusCode)
	reg.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Equal(t, string(events.TypeArtistRegistered), eventLine)

	var evt map[string]any
	require.NoError(t, json.Unmarshal([]byte(dataLine), &evt))
	assert.Equal(t, string(events.TypeArtistRegistered), evt["type"])
}

func TestCloseStreamsEndsOpenStreams(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return api.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	api.api.CloseStreams()
	api.api.CloseStreams()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stream started")
}

type failingJournal struct{}

type failingUnit struct{}

func (failingJournal) SaveSnapshot(context.Context, json.RawMessage) (int64, error) { return 1, nil }

func (failingJournal) LatestSnapshot(context.Context) (json.RawMessage, time.Time, error) {
	return nil, time.Time{}, domain.ErrNotFound
}

func (failingJournal) Begin(ctx context.Context) (context.Context, ledger.Unit, error) {
	return ctx, failingUnit{}, nil
}

func (failingUnit) Commit() error   { return errors.New("commit failed") }
func (failingUnit) Rollback() error { return nil }

func TestFailedCommitRollsBackRequest(t *testing.T) {
	api := newTestAPI(t, market.WithJournal(failingJournal{}))
	artistTok := api.obtainToken(artistAddr)
	hostTok := api.obtainToken(hostAddr, auth.RoleHost)

	resp := api.post("/v1/artists", map[string]any{"name": "Nova", "music_styles": []string{"ambient"}}, artistTok)
	expectError(t, resp, http.StatusInternalServerError, "internal")

	resp = api.get("/v1/artists/"+artistAddr.Hex(), nil)
	expectError(t, resp, http.StatusNotFound, "not_found")
	assert.Equal(t, 0, api.engine.Factory.TotalArtists())

	resp = api.post("/v1/deposits", map[string]any{"to": buyerAddr.Hex(), "amount": 10 * eth}, hostTok)
	expectError(t, resp, http.StatusInternalServerError, "internal")

	resp = api.get("/v1/accounts/"+buyerAddr.Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), decode[map[string]any](t, resp)["amount"])
}
