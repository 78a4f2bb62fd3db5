package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"soundmint.org/internal/events"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/accounts/0xabc/balance":         "/v1/accounts/:address/balance",
		"/v1/artists/0xabc":                  "/v1/artists/:artist",
		"/v1/artists":                        "/v1/artists",
		"/v1/registries/0xabc/collections":   "/v1/registries/:registry/collections",
		"/v1/registries/0xabc/collections/7": "/v1/registries/:registry/collections/:id",
		"/v1/tokens/123/balances/0xdef":      "/v1/tokens/:token/balances/:owner",
		"/v1/tokens/123/uri":                 "/v1/tokens/:token/uri",
		"/v1/ledger/transactions":            "/v1/ledger/transactions",
		"/v1/ledger/transactions?limit=10":   "/v1/ledger/transactions",
		"/v1/treasury/proposals/approve":     "/v1/treasury/proposals/approve",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, CanonicalPath(input), "CanonicalPath(%q)", input)
	}
}

func TestInstrumentCountsCanonicalPath(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/registries/:registry/mints", "201")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodPost, "/v1/registries/0x01/mints", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestDomainObserver(t *testing.T) {
	Init()
	d := Domain{}
	mints := testutil.ToFloat64(mintsTotal)
	units := testutil.ToFloat64(mintedTokensTotal)
	executed := testutil.ToFloat64(withdrawalsTotal.WithLabelValues("executed"))
	artists := testutil.ToFloat64(artistsRegistered)

	d.ObserveMint(3, 90, 10)
	d.ObserveWithdrawal("executed", 5)
	assert.NoError(t, d.Publish(t.Context(), events.Event{Type: events.TypeArtistRegistered}))
	assert.NoError(t, d.Publish(t.Context(), events.Event{Type: events.TypeTokenCreated}))

	assert.Equal(t, mints+1, testutil.ToFloat64(mintsTotal))
	assert.Equal(t, units+3, testutil.ToFloat64(mintedTokensTotal))
	assert.Equal(t, executed+1, testutil.ToFloat64(withdrawalsTotal.WithLabelValues("executed")))
	assert.Equal(t, artists+1, testutil.ToFloat64(artistsRegistered))
}

func TestSetReady(t *testing.T) {
	SetReady(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(readyGauge))
	SetReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(readyGauge))
}
