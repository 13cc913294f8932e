package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/custody"
	"github.com/blockberries/lockberry/engine"
	"github.com/blockberries/lockberry/types"
)

const day types.Timestamp = 86400

type fixture struct {
	engine *engine.Engine
	vault  *custody.Vault
	server *Server
	clock  types.Timestamp
}

func newFixture(t *testing.T, cfg Config, auth admin.Authorizer) *fixture {
	t.Helper()
	ctx := context.Background()

	ecfg := engine.DefaultConfig()
	ecfg.SnapshotInterval = 0
	ecfg.Admins = []types.AccountName{"treasury"}

	f := &fixture{vault: custody.NewVault()}
	require.NoError(t, f.vault.Mint("alice", 10_000))
	require.NoError(t, f.vault.Mint("bob", 10_000))

	e, err := engine.NewEngine(ecfg, f.vault, nil, nil, auth)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(ctx) })
	f.engine = e

	s, err := New(cfg, e,
		WithRegistry(prometheus.NewRegistry()),
		WithClock(func() types.Timestamp { return f.clock }),
	)
	require.NoError(t, err)
	f.server = s
	return f
}

func (f *fixture) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(headerCaller, caller)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestDepositAndBalances(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dep := decode[depositResponse](t, rec)
	assert.Equal(t, 119*day, dep.MaturesAt)
	assert.Equal(t, types.AccountName("alice"), dep.Payer)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	rec = f.do(t, http.MethodGet, "/v1/accounts/alice/balances?now="+strconv.FormatUint(uint64(8*day), 10), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[balancesResponse](t, rec)
	assert.Equal(t, types.Amount(1000), bal.Total)
	assert.Equal(t, types.Amount(1000), bal.Locked)
	assert.Equal(t, types.Amount(0), bal.Pending)
	assert.Equal(t, types.Amount(1000), bal.Active)

	rec = f.do(t, http.MethodGet, "/v1/accounts/alice/locks", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	locks := decode[locksResponse](t, rec)
	assert.Equal(t, []types.LockEntry{{Amount: 1000, MaturesAt: 119 * day}}, locks.Locks)

	rec = f.do(t, http.MethodGet, "/v1/supply", "", nil)
	assert.Equal(t, types.Amount(1000), decode[supplyResponse](t, rec).LockedSupply)
}

func TestDepositCallerChecks(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	body := map[string]any{"amount": 10}

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "bob", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// bob pays for alice
	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "bob", map[string]any{"amount": 10, "payer": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.Amount(9_990), f.vault.BalanceOf("bob"))
	assert.Equal(t, types.Amount(10), f.engine.Balances("alice", 0).Total)
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1_000_000})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "alice", map[string]any{"relock": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "nothing to settle")

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/withdraw", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/accounts/alice/balances?now=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleFlow(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1500})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "bob", map[string]any{"relock": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.clock = 119 * day
	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "alice", map[string]any{"relock": false, "recipient": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[settleResponse](t, rec)
	assert.Equal(t, types.Amount(1500), st.Amount)
	assert.Equal(t, types.AccountName("bob"), st.Recipient)
	assert.Equal(t, types.Amount(11_500), f.vault.BalanceOf("bob"))

	rec = f.do(t, http.MethodGet, "/v1/events?since=0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evs := decode[eventsResponse](t, rec)
	require.Len(t, evs.Events, 2)
	assert.Equal(t, types.EventSettled, evs.Events[1].Kind)

	rec = f.do(t, http.MethodGet, "/v1/events?since=1&limit=5", "", nil)
	assert.Len(t, decode[eventsResponse](t, rec).Events, 1)
}

func TestShutdownByAdminName(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 100})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/shutdown", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/shutdown", "treasury", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.engine.IsShutdown())

	rec = f.do(t, http.MethodPost, "/v1/admin/shutdown", "treasury", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/withdraw", "alice", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.Amount(10_000), f.vault.BalanceOf("alice"))

	rec = f.do(t, http.MethodGet, "/v1/info", "", nil)
	info := decode[engine.Info](t, rec)
	assert.True(t, info.Shutdown)
	assert.Equal(t, "rlBTRFLY", info.Token.Symbol)
}

func TestShutdownBySignedRequest(t *testing.T) {
	dir := t.TempDir()
	signer, err := admin.GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	defer signer.Close()

	keys := admin.NewKeyAuthorizer(engine.DefaultConfig().AdminDomain)
	require.NoError(t, keys.Register("ops", signer.GetPubKey()))
	f := newFixture(t, DefaultConfig(), keys)

	req := admin.Request{Caller: "ops", Action: admin.ActionShutdown}
	require.NoError(t, signer.Sign(engine.DefaultConfig().AdminDomain, &req))

	send := func(nonce uint64, sig []byte) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/admin/shutdown", nil)
		r.Header.Set(headerCaller, "ops")
		r.Header.Set(headerAdminNonce, strconv.FormatUint(nonce, 10))
		r.Header.Set(headerAdminSignature, base64.StdEncoding.EncodeToString(sig))
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, r)
		return rec
	}

	rec := send(req.Nonce+1, req.Signature)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, f.engine.IsShutdown())

	rec = send(req.Nonce, req.Signature)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.engine.IsShutdown())
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 2
	f := newFixture(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/v1/supply", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/supply", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different X-Caller from the same host shares the bucket
	rec = f.do(t, http.MethodGet, "/v1/supply", "bob", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Separate bucket per host
	r := httptest.NewRequest(http.MethodGet, "/v1/supply", nil)
	r.RemoteAddr = "198.51.100.7:4000"
	r.Header.Set(headerCaller, "alice")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics are not limited
	rec = f.do(t, http.MethodGet, "/healthz", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodGet, "/v1/supply", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lockberry_http_requests_total{method="GET",path="/v1/supply",status="200"} 1`), body)
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, r)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
}

func TestConfigValidateBasic(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBasic())

	cfg := DefaultConfig()
	cfg.ListenAddr = ""
	require.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.RateBurst = 0
	require.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.MaxEvents = 0
	require.Error(t, cfg.ValidateBasic())
}

func TestClientTimeRefused(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock = day
	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "alice", map[string]any{"relock": false, "now": 1000 * day})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "client supplied time")

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 10, "now": 1000 * day})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/shutdown?now=5", "treasury", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.engine.IsShutdown())

	// Nothing moved; the lock still runs on the server clock
	assert.Equal(t, types.Amount(9_000), f.vault.BalanceOf("alice"))
	assert.Equal(t, []types.LockEntry{{Amount: 1000, MaturesAt: 119 * day}}, f.engine.Locks("alice"))

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "alice", map[string]any{"relock": false})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Read queries may still look ahead
	rec = f.do(t, http.MethodGet, "/v1/accounts/alice/balances?now="+strconv.FormatUint(uint64(119*day), 10), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.Amount(1000), decode[balancesResponse](t, rec).Unlockable)
}

func TestClientTimeAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowClientTime = true
	f := newFixture(t, cfg, nil)

	rec := f.do(t, http.MethodPost, "/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/accounts/alice/settle", "alice", map[string]any{"relock": false, "now": 119 * day})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.Amount(10_000), f.vault.BalanceOf("alice"))
}
