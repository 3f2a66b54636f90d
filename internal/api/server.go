// Package api provides the HTTP API for observing and steering the simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/persistence"
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional; enables plan history and DB snapshots
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	// RateLimit caps admin requests per IP per minute; 0 disables limiting.
	RateLimit    int
	MaxStreams   int
	SnapshotPath string // optional; POST /snapshot also writes a compressed snapshot

	once     sync.Once
	hub      *hub
	upgrader websocket.Upgrader
	handler  http.Handler
}

// Handler builds the routing table. Safe to call more than once.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.hub = newHub(s.MaxStreams)
		s.Sim.Listen(s.hub.publish)
		s.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		}

		var limiter *RateLimiter
		if s.RateLimit > 0 {
			limiter = NewRateLimiter(s.RateLimit, time.Minute)
		}
		admin := func(h http.HandlerFunc) http.HandlerFunc {
			h = s.adminOnly(h)
			if limiter != nil {
				h = RateLimitMiddleware(limiter, h)
			}
			return h
		}

		mux := http.NewServeMux()

		// Public endpoints.
		mux.HandleFunc("GET /api/v1/status", s.handleStatus)
		mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
		mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgent)
		mux.HandleFunc("GET /api/v1/agent/{id}/plans", s.handleAgentPlans)
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
		mux.HandleFunc("GET /api/v1/stream", s.handleStream)

		// Admin endpoints.
		mux.HandleFunc("/api/v1/speed", admin(s.handleSpeed))
		mux.HandleFunc("POST /api/v1/snapshot", admin(s.handleSnapshot))
		mux.HandleFunc("POST /api/v1/interrupt", admin(s.handleCommand(engine.CmdInterrupt)))
		mux.HandleFunc("POST /api/v1/event", admin(s.handleCommand(engine.CmdEvent)))
		mux.HandleFunc("POST /api/v1/spawn", admin(s.handleCommand(engine.CmdSpawn)))
		mux.HandleFunc("POST /api/v1/remove", admin(s.handleCommand(engine.CmdRemove)))
		mux.HandleFunc("POST /api/v1/arrive", admin(s.handleCommand(engine.CmdArrive)))

		s.handler = corsMiddleware(mux)
	})
	return s.handler
}

// Start serves the API in a goroutine. The returned server can be shut down.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS holds a comma-separated list; localhost dev servers are
// always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no DRIVESIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  s.Sim.Status(),
		"speed":   s.Eng.Speed(),
		"running": s.Eng.Running(),
		"streams": s.hub.count(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentSummary struct {
		ID      agents.AgentID `json:"id"`
		Name    string         `json:"name"`
		Q       int            `json:"q"`
		R       int            `json:"r"`
		State   string         `json:"state"`
		Drive   string         `json:"drive,omitempty"`
		Node    string         `json:"node,omitempty"`
		Idle    bool           `json:"idle"`
		Urgency float64        `json:"urgency"`
	}

	views := s.Sim.AgentViews()
	result := make([]agentSummary, 0, len(views))
	for _, v := range views {
		sum := agentSummary{
			ID:    v.ID,
			Name:  v.Name,
			Q:     v.Position.Q,
			R:     v.Position.R,
			State: v.Decider.State.String(),
			Drive: string(v.Decider.Drive),
			Node:  v.Decider.Node,
			Idle:  v.Decider.Idle,
		}
		for _, u := range v.Urgency {
			sum.Urgency = max(sum.Urgency, u)
		}
		result = append(result, sum)
	}
	writeJSON(w, result)
}

func agentID(r *http.Request) (agents.AgentID, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return agents.AgentID(id), err
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	v, ok := s.Sim.AgentView(id)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleAgentPlans(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	if _, ok := s.Sim.AgentView(id); !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.PlanRuns(id, queryLimit(r, 20, 200))
	if err != nil {
		slog.Error("plan history query failed", "agent", id, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func queryLimit(r *http.Request, def, ceiling int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= ceiling {
			return n
		}
	}
	return def
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	events := s.Sim.RecentEvents(0)

	q := r.URL.Query()
	if cat := q.Get("category"); cat != "" {
		events = filterEvents(events, func(e engine.Event) bool { return e.Category == cat })
	}
	if a := q.Get("agent"); a != "" {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			http.Error(w, "invalid agent id", http.StatusBadRequest)
			return
		}
		events = filterEvents(events, func(e engine.Event) bool { return e.Agent == agents.AgentID(id) })
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func filterEvents(events []engine.Event, keep func(engine.Event) bool) []engine.Event {
	out := events[:0]
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil && s.SnapshotPath == "" {
		http.Error(w, "no storage configured", http.StatusServiceUnavailable)
		return
	}

	if s.DB != nil {
		if err := s.DB.SaveWorldState(s.Sim); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
	}
	if s.SnapshotPath != "" {
		if err := persistence.WriteSnapshot(s.SnapshotPath, s.Sim.State()); err != nil {
			slog.Error("snapshot write failed", "path", s.SnapshotPath, "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "snapshot saved",
	})
}

// handleCommand queues an admin command of the given kind. The body is a
// JSON engine.Command; its kind field is ignored.
func (s *Server) handleCommand(kind engine.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c engine.Command
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		c.Kind = kind
		if err := s.Sim.Enqueue(c); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		slog.Info("admin command queued", "kind", kind, "agent", c.Agent, "entity", c.Entity)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"queued": kind, "tick": s.Sim.CurrentTick()})
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
