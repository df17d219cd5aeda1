// Package api provides the HTTP API for intent submission and world state.
// GET endpoints are public (read-only observation).
// POST endpoints under /admin require a bearer token (control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/mini-economy/internal/metrics"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

// Server serves intent submission, world queries, and manual
// operational triggers over HTTP.
type Server struct {
	World        *sim.World
	Orchestrator *sim.Orchestrator
	DB           *store.DB
	Metrics      *metrics.Set

	Host     string
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.

	// StalenessWindow and RequeueLimit back the stuck-job requeue trigger.
	StalenessWindow time.Duration
	RequeueLimit    int
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Rate limiter for the write path. Reads are cheap and unmetered.
	submitLimiter := NewRateLimiter(120, time.Minute)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/intents", RateLimitMiddleware(submitLimiter, s.handleSubmitIntent))
		r.Get("/intents/{id}", s.handleGetIntent)
		r.Get("/events", s.handleEvents)
		r.Get("/actors/{id}", s.handleActor)
		r.Get("/status", s.handleStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/tick", s.handleManualTick)
			r.Post("/requeue-stuck", s.handleRequeueStuck)
			r.Post("/cleanup-intents", s.handleCleanupIntents)
		})
	})

	if s.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")
	go func() {
		if err := http.ListenAndServe(addr, s.Router()); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type submitRequest struct {
	ActorID  string         `json:"actor_id"`
	Type     string         `json:"type"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority"`
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ActorID == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "actor_id and type are required")
		return
	}

	var in *sim.Intent
	s.World.WithLock(func() {
		if _, ok := s.World.Actors[req.ActorID]; !ok {
			return
		}
		in = s.Orchestrator.SubmitIntent(req.ActorID, sim.IntentType(req.Type), req.Params, req.Priority)
	})
	if in == nil {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}
	writeJSON(w, http.StatusAccepted, in)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Pending intents live in memory until resolved; check there first.
	var pending *sim.Intent
	s.World.WithLock(func() {
		for _, in := range s.World.Pending {
			if in.ID == id {
				cp := *in
				pending = &cp
				return
			}
		}
	})
	if pending != nil {
		writeJSON(w, http.StatusOK, pending)
		return
	}

	in, err := s.DB.GetIntent(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if in == nil {
		writeError(w, http.StatusNotFound, "intent not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.DB.RecentEvents(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// actorView is the public snapshot of one actor.
type actorView struct {
	Actor      *sim.Actor      `json:"actor"`
	State      *sim.AgentState `json:"state,omitempty"`
	Balance    string          `json:"balance"`
	Businesses []string        `json:"businesses,omitempty"`
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var view *actorView
	s.World.WithLock(func() {
		a, ok := s.World.Actors[id]
		if !ok {
			return
		}
		cp := *a
		v := actorView{Actor: &cp, Balance: "0"}
		if st, ok := s.World.States[id]; ok {
			stCp := *st
			v.State = &stCp
		}
		if wal, ok := s.World.Wallets[id]; ok {
			v.Balance = wal.Balance.String()
		}
		for bid, b := range s.World.Businesses {
			if b.OwnerID == id {
				v.Businesses = append(v.Businesses, bid)
			}
		}
		view = &v
	})
	if view == nil {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp map[string]any
	s.World.WithLock(func() {
		resp = map[string]any{
			"tick":           s.World.Tick,
			"sim_time":       sim.SimTime(s.World.Tick),
			"actors":         len(s.World.Actors),
			"businesses":     len(s.World.Businesses),
			"pending":        len(s.World.Pending),
			"city_vault":     s.World.CityVault.String(),
			"platform_vault": s.World.PlatformVault.String(),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleManualTick advances the world by exactly one tick, for
// single-stepping outside the autonomous clock.
func (s *Server) handleManualTick(w http.ResponseWriter, r *http.Request) {
	var tick uint64
	s.World.WithLock(func() {
		tick = s.Orchestrator.RunTick()
	})
	writeJSON(w, http.StatusOK, map[string]any{"tick": tick})
}

func (s *Server) handleRequeueStuck(w http.ResponseWriter, r *http.Request) {
	window := s.StalenessWindow
	if window == 0 {
		window = 5 * time.Minute
	}
	limit := s.RequeueLimit
	if limit == 0 {
		limit = 50
	}
	n, err := s.DB.RequeueStuck(window, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("stuck jobs requeued", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{"requeued": n})
}

// handleCleanupIntents expires stale pending intents. Query params:
// max_age_ticks (default one sim day) and limit (default unbounded).
func (s *Server) handleCleanupIntents(w http.ResponseWriter, r *http.Request) {
	maxAge := uint64(sim.TicksPerDay)
	if v := r.URL.Query().Get("max_age_ticks"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_age_ticks")
			return
		}
		maxAge = parsed
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	var removed int
	s.World.WithLock(func() {
		removed = s.Orchestrator.CleanupStaleIntents(maxAge, limit)
	})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
