package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyadvisor/engine/internal/adapters/storage/memory"
	"github.com/polyadvisor/engine/internal/advice"
	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
)

func newTestServer(store *memory.Store, jobs ...cron.Job) *Server {
	model := advice.New(store, store, store, store, store, advice.DefaultConfig())
	return New(Config{
		Addr:        ":0",
		CronSecret:  "cron-secret",
		AdminSecret: "admin-secret",
	}, cron.NewRunner(store, store), jobs, model, store)
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SetState(context.Background(), domain.StateLastSyncAt, "2026-08-01T00:00:00Z"))

	rec := doRequest(newTestServer(store), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "2026-08-01T00:00:00Z", body["lastSyncAt"])
}

func TestJobs_RequireBearerToken(t *testing.T) {
	s := newTestServer(memory.New(), cron.Job{Name: "sync", LockKey: 1, Handler: okHandler()})

	rec := doRequest(s, http.MethodPost, "/jobs/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/jobs/sync", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/jobs/sync", "cron-secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobs_EmptySecretClosesRoute(t *testing.T) {
	store := memory.New()
	model := advice.New(store, store, store, store, store, advice.DefaultConfig())
	s := New(Config{}, cron.NewRunner(store, store),
		[]cron.Job{{Name: "sync", LockKey: 1, Handler: okHandler()}}, model, store)

	rec := doRequest(s, http.MethodPost, "/jobs/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func okHandler() cron.Handler {
	return func(jc *cron.Context) (cron.Outcome, error) {
		return cron.Outcome{Status: domain.RunSuccess, Summary: map[string]any{"items": 1}}, nil
	}
}

func TestJobs_TriggerReturnsStructuredResult(t *testing.T) {
	store := memory.New()
	s := newTestServer(store, cron.Job{Name: "sync", LockKey: 1, Budget: time.Minute, Handler: okHandler()})

	rec := doRequest(s, http.MethodPost, "/jobs/sync", "cron-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res cron.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, domain.RunSuccess, res.Status)
	assert.NotEmpty(t, res.RequestID)

	// la invocación dejó su fila en el audit log
	assert.Len(t, store.Runs(), 1)
}

func TestJobs_FailureReturns200WithOKFalse(t *testing.T) {
	store := memory.New()
	failing := func(jc *cron.Context) (cron.Outcome, error) {
		return cron.Outcome{}, assert.AnError
	}
	s := newTestServer(store, cron.Job{Name: "sync", LockKey: 1, Handler: failing})

	rec := doRequest(s, http.MethodPost, "/jobs/sync", "cron-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res cron.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.OK)
	assert.Equal(t, domain.RunError, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestJobs_LockHeldReturnsSkipped200(t *testing.T) {
	store := memory.New()
	s := newTestServer(store, cron.Job{Name: "sync", LockKey: 1, Handler: okHandler()})

	unlock, acquired, err := store.TryLock(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, acquired)
	defer unlock()

	rec := doRequest(s, http.MethodPost, "/jobs/sync", "cron-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res cron.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.RunSkipped, res.Status)
}

func TestJobs_UnknownName404(t *testing.T) {
	s := newTestServer(memory.New())
	rec := doRequest(s, http.MethodPost, "/jobs/nope", "cron-secret", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvice_KnownMarket(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.UpsertMarkets(context.Background(), []domain.Market{{
		ConditionID: "0xm", Question: "q", Prices: [2]float64{0.3, 0.7},
	}}))

	rec := doRequest(newTestServer(store), http.MethodGet, "/advice/0xm", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		OK     bool          `json:"ok"`
		Advice domain.Advice `json:"advice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.InDelta(t, 0.3, body.Advice.ModelProb, 1e-9)
}

func TestAdvice_UnknownMarket404(t *testing.T) {
	rec := doRequest(newTestServer(memory.New()), http.MethodGet, "/advice/0xmissing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_WatchlistRoundTrip(t *testing.T) {
	store := memory.New()
	s := newTestServer(store)

	rec := doRequest(s, http.MethodPost, "/admin/watchlist", "admin-secret", `{"wallet":"0xABC"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// se normaliza a minúsculas
	wallets, err := store.Watchlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, wallets)

	rec = doRequest(s, http.MethodGet, "/admin/watchlist", "admin-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodDelete, "/admin/watchlist/0xabc", "admin-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	wallets, err = store.Watchlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestAdmin_SeedBulk(t *testing.T) {
	store := memory.New()
	s := newTestServer(store)

	rec := doRequest(s, http.MethodPost, "/admin/seed", "admin-secret",
		`{"wallets":["0xA","0xB"," ",""]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["added"])
}

func TestAdmin_ResetOffset(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SetState(context.Background(), domain.StateMarketsOffset, "750"))
	s := newTestServer(store)

	rec := doRequest(s, http.MethodPost, "/admin/reset-offset", "admin-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	offset, err := store.GetState(context.Background(), domain.StateMarketsOffset, "")
	require.NoError(t, err)
	assert.Equal(t, "0", offset)
}

func TestAdmin_RejectsCronSecret(t *testing.T) {
	// los dos ámbitos usan secretos independientes
	s := newTestServer(memory.New())
	rec := doRequest(s, http.MethodPost, "/admin/reset-offset", "cron-secret", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResponses_IncludeRequestID(t *testing.T) {
	rec := doRequest(newTestServer(memory.New()), http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
