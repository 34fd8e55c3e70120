package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/openid4vp"
	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/relay"
	"github.com/kokukuma/dc-mediator/shim"
	"github.com/kokukuma/dc-mediator/wallet"
)

const waitTimeout = 2 * time.Second

var testWallets = []wallet.Descriptor{
	{ID: "w1", Name: "One", URL: "openid4vp://authorize", Protocols: []string{"openid4vp"}, Enabled: true},
	{ID: "w2", Name: "Two", URL: "https://w2.example/authorize", Protocols: []string{"preview"}, Enabled: true},
}

func newTestServer(t *testing.T, wallets []wallet.Descriptor, opts ...Opt) *httptest.Server {
	t.Helper()

	b := bus.New()
	selections := NewSelections()

	c, err := exchange.New(protocol.NewRegistry(openid4vp.New()), wallet.NewStaticRegistry(wallets...), selections, b)
	require.NoError(t, err)

	r, err := relay.New(b)
	require.NoError(t, err)

	sh, err := shim.New(b)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(sh, c, selections, opts...).Router())

	t.Cleanup(func() {
		srv.Close()
		sh.Stop()
		r.Stop()
		c.Stop()
		_ = b.Close()
	})

	return srv
}

func post(t *testing.T, url, contentType, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getStatus(t *testing.T, srv *httptest.Server, id string) (int, ExchangeStatus) {
	t.Helper()

	resp, err := http.Get(srv.URL + "/api/exchanges/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	var status ExchangeStatus
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	}
	return resp.StatusCode, status
}

func waitForState(t *testing.T, srv *httptest.Server, id string, state exchange.State) ExchangeStatus {
	t.Helper()

	var status ExchangeStatus
	require.Eventually(t, func() bool {
		_, status = getStatus(t, srv, id)
		return status.State == state
	}, waitTimeout, 10*time.Millisecond, "state %s", status.State)
	return status
}

func createExchange(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	body := `{
		"origin": "https://rp.example",
		"options": {"digital": {"requests": [{"protocol": "openid4vp", "data": {
			"client_id": "https://v.example",
			"response_type": "vp_token",
			"response_mode": "direct_post",
			"response_uri": "https://v.example/response",
			"nonce": "abc",
			"dcql_query": {"credentials": [{"id": "mdl", "format": "mso_mdoc"}]}
		}}]}}
	}`

	resp, out := post(t, srv.URL+"/api/exchanges", "application/json", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	require.NotEmpty(t, out["exchangeId"])
	return out["exchangeId"].(string)
}

func TestExchangeFlow(t *testing.T) {
	srv := newTestServer(t, testWallets)

	id := createExchange(t, srv)
	waitForState(t, srv, id, exchange.StateAwaitingSelection)

	resp, err := http.Get(srv.URL + "/api/selections")
	require.NoError(t, err)
	var prompts []exchange.SelectionPrompt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prompts))
	resp.Body.Close()
	require.Len(t, prompts, 1)
	require.Equal(t, id, prompts[0].ExchangeID)
	require.Len(t, prompts[0].Candidates, 1)

	resp, _ = post(t, srv.URL+"/api/exchanges/"+id+"/select", "application/json", `{"walletId":"w2"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/api/exchanges/"+id+"/select", "application/json", `{"walletId":"w1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := waitForState(t, srv, id, exchange.StateAwaitingWalletResponse)
	require.NotNil(t, status.Deadline)
	require.Eventually(t, func() bool {
		_, status = getStatus(t, srv, id)
		return status.Invocation != nil
	}, waitTimeout, 10*time.Millisecond)
	require.True(t, strings.HasPrefix(status.Invocation.Invocation.AuthorizationURL, "openid4vp://authorize?"))

	qr, err := http.Get(srv.URL + "/api/exchanges/" + id + "?qrcode=true")
	require.NoError(t, err)
	defer qr.Body.Close()
	require.Equal(t, http.StatusOK, qr.StatusCode)
	require.Equal(t, "image/png", qr.Header.Get("Content-Type"))

	resp, _ = post(t, srv.URL+"/api/exchanges/"+id+"/response", "application/x-www-form-urlencoded",
		`vp_token=o2d2ZXJzaW9u&state=xyz`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status = waitForState(t, srv, id, exchange.StateCompleted)
	require.Equal(t, "w1", status.WalletID)
	require.Equal(t, "o2d2ZXJzaW9u", status.Result.Response.VPToken)
	require.Equal(t, "xyz", status.Result.Response.State)

	resp, _ = post(t, srv.URL+"/api/exchanges/"+id+"/response", "application/json", `{"vp_token":"again"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelExchange(t *testing.T) {
	srv := newTestServer(t, testWallets)

	id := createExchange(t, srv)
	waitForState(t, srv, id, exchange.StateAwaitingSelection)

	resp, _ := post(t, srv.URL+"/api/exchanges/"+id+"/cancel", "application/json", `{}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := waitForState(t, srv, id, exchange.StateCancelled)
	require.Equal(t, protocol.KindUserCancelled, status.Result.Error.Kind)

	resp, _ = post(t, srv.URL+"/api/exchanges/"+id+"/cancel", "application/json", `{}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNativeFallback(t *testing.T) {
	srv := newTestServer(t, testWallets[1:])

	id := createExchange(t, srv)
	status := waitForState(t, srv, id, exchange.StateCompleted)
	require.True(t, status.Result.UseNative)
}

func TestCreateExchangeErrors(t *testing.T) {
	srv := newTestServer(t, testWallets)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "malformed json", body: `{`, code: http.StatusBadRequest},
		{name: "passkey call", body: `{"options":{"publicKey":{}}}`, code: http.StatusBadRequest},
		{name: "malformed options", body: `{"options":{"digital":"yes"}}`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/api/exchanges", "application/json", tt.body)
			require.Equal(t, tt.code, resp.StatusCode)
			require.NotEmpty(t, out["error"])
		})
	}
}

func TestUnknownExchange(t *testing.T) {
	srv := newTestServer(t, testWallets)

	code, _ := getStatus(t, srv, "missing")
	require.Equal(t, http.StatusNotFound, code)

	for _, path := range []string{"select", "response"} {
		resp, _ := post(t, fmt.Sprintf("%s/api/exchanges/missing/%s", srv.URL, path), "application/json", `{"walletId":"w1"}`)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestSelectionsOrder(t *testing.T) {
	s := NewSelections()
	s.Prompt(exchange.SelectionPrompt{ExchangeID: "b"})
	s.Prompt(exchange.SelectionPrompt{ExchangeID: "a"})
	s.Prompt(exchange.SelectionPrompt{ExchangeID: "c"})
	s.Withdraw("c")

	prompts := s.List()
	require.Len(t, prompts, 2)
	require.Equal(t, "a", prompts[0].ExchangeID)
	require.Equal(t, "b", prompts[1].ExchangeID)

	_, err := s.Get("c")
	require.ErrorIs(t, err, errSelectionNotFound)
}

func TestExchangesRetention(t *testing.T) {
	now := time.Now()
	e := NewExchanges(time.Minute)
	e.now = func() time.Time { return now }

	e.records["old"] = &record{resolvedAt: now.Add(-2 * time.Minute)}
	e.records["recent"] = &record{resolvedAt: now.Add(-30 * time.Second)}
	e.records["pending"] = &record{}

	e.mu.Lock()
	e.purgeNoLock()
	e.mu.Unlock()

	_, ok := e.Get("old")
	require.False(t, ok)
	_, ok = e.Get("recent")
	require.True(t, ok)
	_, ok = e.Get("pending")
	require.True(t, ok)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, testWallets, WithAllowedOrigins("https://rp.example"))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, srv.URL+"/api/exchanges", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://rp.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "https://rp.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
