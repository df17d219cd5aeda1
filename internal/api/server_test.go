package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/metrics"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

func newTestServer(t *testing.T) (*Server, *sim.World) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w := sim.NewWorld(42)
	w.Actors["alice"] = &sim.Actor{ID: "alice", Name: "Alice"}
	w.States["alice"] = &sim.AgentState{ActorID: "alice", Energy: 80, Hunger: 80, Health: 80}
	w.Wallets["alice"] = &sim.Wallet{ActorID: "alice", Balance: decimal.NewFromInt(100)}

	srv := &Server{
		World: w,
		Orchestrator: &sim.Orchestrator{
			World: w, Sink: db,
			PlatformFeePct: decimal.NewFromFloat(0.05),
		},
		DB:       db,
		Metrics:  metrics.New(),
		AdminKey: "topsecret",
	}
	return srv, w
}

func TestStatusEndpoint(t *testing.T) {
	srv, w := newTestServer(t)
	w.Tick = 1500

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1500), body["tick"])
	assert.Equal(t, float64(1), body["actors"])
}

func TestSubmitIntent(t *testing.T) {
	srv, w := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/intents",
		strings.NewReader(`{"actor_id":"alice","type":"INTENT_REST"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var in sim.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &in))
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, sim.IntentPending, in.Status)
	assert.Len(t, w.Pending, 1)
}

func TestSubmitIntentUnknownActor(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/intents",
		strings.NewReader(`{"actor_id":"ghost","type":"INTENT_REST"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitIntentRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{"{not json", `{"actor_id":"alice"}`} {
		req := httptest.NewRequest("POST", "/api/v1/intents", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestGetIntentChecksPendingThenStore(t *testing.T) {
	srv, _ := newTestServer(t)

	in := srv.Orchestrator.SubmitIntent("alice", sim.IntentRest, nil, 0)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/intents/"+in.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Resolve it, then fetch again: now served from the store.
	srv.World.WithLock(func() { srv.Orchestrator.RunTick() })

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/intents/"+in.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got sim.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sim.IntentExecuted, got.Status)
}

func TestGetIntentMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/intents/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActorView(t *testing.T) {
	srv, w := newTestServer(t)
	w.Businesses["biz"] = &sim.Business{ID: "biz", OwnerID: "alice", Status: sim.BusinessActive}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/actors/alice", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view actorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "alice", view.Actor.ID)
	assert.Equal(t, "100", view.Balance)
	assert.Equal(t, []string{"biz"}, view.Businesses)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/actors/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointsRequireBearerToken(t *testing.T) {
	srv, w := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/admin/tick", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("POST", "/api/v1/admin/tick", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("POST", "/api/v1/admin/tick", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), w.Tick)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.AdminKey = ""

	req := httptest.NewRequest("POST", "/api/v1/admin/tick", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpointServed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.Greater(t, rl.RetryAfter("1.2.3.4"), 0)

	// Separate IPs do not share a bucket.
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

func TestAdminCleanupIntentsQueryParams(t *testing.T) {
	srv, w := newTestServer(t)
	w.Tick = 500
	for _, id := range []string{"a", "b"} {
		w.Enqueue(&sim.Intent{ID: id, ActorID: "alice", Type: sim.IntentRest, Tick: 1, Status: sim.IntentPending})
	}

	req := httptest.NewRequest("POST", "/api/v1/admin/cleanup-intents?max_age_ticks=100&limit=1", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["removed"])
	assert.Len(t, w.Pending, 1)

	req = httptest.NewRequest("POST", "/api/v1/admin/cleanup-intents?max_age_ticks=nope", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
