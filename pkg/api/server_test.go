package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/keygate/checkout/pkg/checkout"
	"github.com/keygate/checkout/pkg/pricefeed"
	"github.com/keygate/checkout/pkg/quote"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey        = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	ownerPrincipal = "wtzxg-u3qsq-7drpw-3iytd-x4mv2-e53xw-e5xyy-g7577-dc6ky-266ly-qqe"
)

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, _, _ string) (pricefeed.Prices, error) {
	return pricefeed.Prices{
		Source:      decimal.NewNullDecimal(decimal.NewFromInt(5)),
		Destination: decimal.NewNullDecimal(decimal.NewFromInt(10)),
	}, nil
}

type stubRouter struct {
	release chan struct{}
}

func (r *stubRouter) GetContractCallsQuote(_ context.Context, req *route.ContractCallsRequest) (*route.Quote, error) {
	return &route.Quote{
		ID:       "quote-" + req.ContractCalls[0].FromAmount,
		Tool:     "across",
		Action:   route.Action{FromChainID: req.FromChain, ToChainID: req.ToChain},
		Estimate: &route.Estimate{ExecutionDuration: 30},
	}, nil
}

func (r *stubRouter) ConvertQuoteToRoute(q *route.Quote) (*route.Route, error) {
	return &route.Route{ID: "route-" + q.ID, Steps: []route.Step{q.Clone()}}, nil
}

func (r *stubRouter) ExecuteRoute(_ context.Context, rt *route.Route, onProgress func(*route.Route)) (*route.Route, error) {
	rt.Steps[0].Execution = &route.Execution{Status: route.StatusPending}
	onProgress(rt.Clone())
	<-r.release
	rt.Steps[0].Execution.Status = route.StatusDone
	onProgress(rt.Clone())
	return rt, nil
}

func (r *stubRouter) GetActiveRoutes() []*route.Route {
	return []*route.Route{}
}

type sessionBody struct {
	ID    string             `json:"id"`
	State checkout.FlowState `json:"state"`
	Quote *struct {
		ID string `json:"id"`
	} `json:"quote"`
	RequiredAmount string `json:"required_amount"`
	Processing     bool   `json:"processing"`
}

type testServer struct {
	server   *Server
	registry *checkout.Registry
	wallet   *wallet.KeyWallet
	router   *stubRouter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w, err := wallet.NewKeyWallet(testKey, nil)
	require.NoError(t, err)
	router := &stubRouter{release: make(chan struct{})}

	env, err := checkout.NewEnvironment(checkout.Options{
		Resolver:  staticResolver{},
		Router:    router,
		Wallet:    w,
		Scheduler: route.NewManualScheduler(),
		Builder: quote.Builder{
			SourceChain:      10,
			DestinationChain: 1,
			SourceToken:      "USDC",
			DestinationToken: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			HelperContract:   common.HexToAddress("0x18901044688D3756C35Ed2b36D93e6a5B8e00E68"),
			FallbackAddress:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Integrator:       "Keygate",
		},
	})
	require.NoError(t, err)

	registry := checkout.NewRegistry()
	t.Cleanup(func() {
		close(router.release)
		registry.CloseAll()
	})
	return &testServer{
		server:   NewServer(env, registry, nil),
		registry: registry,
		wallet:   w,
		router:   router,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) start(t *testing.T) sessionBody {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/payments", map[string]string{
		"destination_amount":     "1.5",
		"destination_currency":   "icp",
		"destination_account_id": ownerPrincipal,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body sessionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (ts *testServer) get(t *testing.T, id string) (int, sessionBody) {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/v1/payments/"+id, nil)
	var body sessionBody
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartPayment(t *testing.T) {
	t.Run("creates a session", func(t *testing.T) {
		ts := newTestServer(t)
		body := ts.start(t)
		assert.NotEmpty(t, body.ID)
		assert.Equal(t, checkout.StateStart, body.State)
		assert.Equal(t, 1, ts.registry.Len())
	})

	tests := []struct {
		name string
		body any
		code string
	}{
		{
			name: "malformed body",
			body: "not an intent",
			code: "BAD_REQUEST",
		},
		{
			name: "bad principal",
			body: map[string]string{
				"destination_amount":     "1",
				"destination_currency":   "ICP",
				"destination_account_id": "not-a-principal",
			},
			code: "INVALID_INTENT",
		},
		{
			name: "zero amount",
			body: map[string]string{
				"destination_amount":     "0",
				"destination_currency":   "ICP",
				"destination_account_id": ownerPrincipal,
			},
			code: "INVALID_INTENT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/api/v1/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Zero(t, ts.registry.Len())
		})
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/wallet", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/payments/missing"},
		{http.MethodPost, "/api/v1/payments/missing/purchase"},
		{http.MethodPost, "/api/v1/payments/missing/confirm"},
		{http.MethodDelete, "/api/v1/payments/missing"},
	} {
		rec := ts.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
	}
}

func TestPurchaseFlow(t *testing.T) {
	ts := newTestServer(t)
	session := ts.start(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/payments/"+session.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_PURCHASING", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/payments/"+session.ID+"/purchase", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body := ts.get(t, session.ID)
	assert.Equal(t, checkout.StateConnect, body.State)

	rec = ts.do(t, http.MethodPost, "/api/v1/wallet/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state wallet.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, wallet.StatusConnected, state.Status)
	assert.Equal(t, testAddress, state.Address)

	require.Eventually(t, func() bool {
		_, body := ts.get(t, session.ID)
		return body.State == checkout.StatePurchase && body.Quote != nil
	}, 2*time.Second, 5*time.Millisecond)

	rec = ts.do(t, http.MethodPut, "/api/v1/payments/"+session.ID+"/intent", map[string]string{"destination_account_id": "x", "destination_currency": "??"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INTENT", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/payments/"+session.ID+"/confirm", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		_, body := ts.get(t, session.ID)
		return body.Processing
	}, 2*time.Second, 5*time.Millisecond)

	rec = ts.do(t, http.MethodPut, "/api/v1/payments/"+session.ID+"/intent", map[string]string{"destination_amount": "3"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROCESSING", decodeError(t, rec).Code)
}

func TestClosePayment(t *testing.T) {
	ts := newTestServer(t)
	session := ts.start(t)

	rec := ts.do(t, http.MethodDelete, "/api/v1/payments/"+session.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.Eventually(t, func() bool {
		code, _ := ts.get(t, session.ID)
		return code == http.StatusNotFound
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWalletEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state wallet.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, wallet.StatusDisconnected, state.Status)

	ts.do(t, http.MethodPost, "/api/v1/wallet/connect", nil)
	assert.True(t, ts.wallet.State().Connected())

	rec = ts.do(t, http.MethodPost, "/api/v1/wallet/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, wallet.StatusDisconnected, state.Status)
	assert.Empty(t, state.Address)
}

func TestActiveRoutes(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/routes/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"routes":[]}`, rec.Body.String())
}
