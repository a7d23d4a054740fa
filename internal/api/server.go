// Package api provides the HTTP API for running story turns.
// Story endpoints are open to the game backend that fronts the players.
// Campaign authoring and cache control require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/engine"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
)

const maxCampaignBytes = 4 << 20

// Server serves story turns over HTTP.
type Server struct {
	Director *engine.Director
	DB       *persistence.DB
	Repo     *campaign.Repository
	LLM      *llm.Client
	Port     int
	AdminKey string // Bearer token for authoring endpoints. Empty = authoring disabled.

	// NarrateLimit is how many narration and recap calls one client may
	// make per hour.
	NarrateLimit int

	srv *http.Server
}

// Handler returns the API routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	narrateLimiter := NewRateLimiter(max(s.NarrateLimit, 1), time.Hour)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Turn processing.
	mux.HandleFunc("/api/v1/analyze-action", s.handleAnalyzeAction)
	mux.HandleFunc("/api/v1/turn", s.handleTurn)
	mux.HandleFunc("/api/v1/npc-reaction", s.handleNPCReaction)
	mux.HandleFunc("/api/v1/process-decision", s.handleProcessDecision)
	mux.HandleFunc("/api/v1/pending-decision", s.handleSetPendingDecision)
	mux.HandleFunc("/api/v1/pending-decision/", s.handlePendingDecision)
	mux.HandleFunc("/api/v1/check-trigger", s.handleCheckTrigger)
	mux.HandleFunc("/api/v1/calculate-ending/", s.handleCalculateEnding)

	// Progress.
	mux.HandleFunc("/api/v1/initialize-progress", s.handleInitializeProgress)
	mux.HandleFunc("/api/v1/update-progress", s.handleUpdateProgress)
	mux.HandleFunc("/api/v1/story-state/", s.handleStoryState)
	mux.HandleFunc("/api/v1/events/", s.handleEvents)
	mux.HandleFunc("/api/v1/relationships/", s.handleRelationships)

	// Narration.
	mux.HandleFunc("/api/v1/get-context", s.handleGetContext)
	mux.HandleFunc("/api/v1/ai-context/", s.handleAIContext)
	mux.HandleFunc("/api/v1/narrate", RateLimitMiddleware(narrateLimiter, s.handleNarrate))
	mux.HandleFunc("/api/v1/process-response", s.handleProcessResponse)
	mux.HandleFunc("/api/v1/recap/", RateLimitMiddleware(narrateLimiter, s.handleRecap))

	// Campaigns. Reads are public, writes need the admin token.
	mux.HandleFunc("/api/v1/campaigns", s.adminOnly(s.handleCampaigns))
	mux.HandleFunc("/api/v1/campaigns/", s.adminOnly(s.handleCampaignRoutes))
	mux.HandleFunc("/api/v1/session/", s.adminOnly(s.handleEndSession))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "narration", s.LLM.Enabled())

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight turns until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
		"http://localhost:8000": true,
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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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

// adminOnly wraps a handler to require bearer token auth on writes.
// GET requests pass through (for endpoints that support both).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no STORY_ADMIN_KEY set)", http.StatusForbidden)
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":           "ok",
		"database":         "ok",
		"narration":        s.LLM.Enabled(),
		"cached_campaigns": len(s.Repo.Cached()),
	}
	if err := s.DB.Ping(r.Context()); err != nil {
		slog.Error("health check: database unreachable", "error", err)
		status["status"] = "degraded"
		status["database"] = err.Error()
	}
	writeJSON(w, status)
}

func (s *Server) handleAnalyzeAction(w http.ResponseWriter, r *http.Request) {
	var req engine.TurnRequest
	if !decodePost(w, r, &req) || !requireMessage(w, req) {
		return
	}
	analysis, err := s.Director.AnalyzeAction(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, analysis)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req engine.TurnRequest
	if !decodePost(w, r, &req) || !requireMessage(w, req) {
		return
	}
	res, err := s.Director.ProcessTurn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleNPCReaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID      int64           `json:"room_id"`
		NPCCode     string          `json:"npc_code"`
		Interaction npc.Interaction `json:"interaction_type"`
		Details     string          `json:"details,omitempty"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 || req.NPCCode == "" || req.Interaction == "" {
		http.Error(w, "room_id, npc_code and interaction_type required", http.StatusBadRequest)
		return
	}
	reaction, err := s.Director.NPCReaction(r.Context(), req.RoomID, req.NPCCode, req.Interaction, req.Details)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, reaction)
}

func (s *Server) handleProcessDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID       int64  `json:"room_id"`
		DecisionCode string `json:"decision_code"`
		OptionID     string `json:"chosen_option"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 || req.DecisionCode == "" || req.OptionID == "" {
		http.Error(w, "room_id, decision_code and chosen_option required", http.StatusBadRequest)
		return
	}
	res, err := s.Director.ProcessDecision(r.Context(), req.RoomID, req.DecisionCode, req.OptionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSetPendingDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID       int64  `json:"room_id"`
		DecisionCode string `json:"decision_code"`
		Turns        int    `json:"turns_remaining,omitempty"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 || req.DecisionCode == "" {
		http.Error(w, "room_id and decision_code required", http.StatusBadRequest)
		return
	}
	view, err := s.Director.SetPendingDecision(r.Context(), req.RoomID, req.DecisionCode, req.Turns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handlePendingDecision(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/pending-decision/")
	if !ok {
		return
	}
	view, err := s.Director.PendingDecision(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"has_pending": view != nil,
		"decision":    view,
	})
}

func (s *Server) handleCheckTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID      int64              `json:"room_id"`
		TriggerType string             `json:"trigger_type"`
		TriggerData engine.TriggerData `json:"trigger_data"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 || req.TriggerType == "" {
		http.Error(w, "room_id and trigger_type required", http.StatusBadRequest)
		return
	}
	res, err := s.Director.CheckTrigger(r.Context(), req.RoomID, req.TriggerType, req.TriggerData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCalculateEnding(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/calculate-ending/")
	if !ok {
		return
	}
	report, err := s.Director.CalculateEnding(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleInitializeProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID     int64  `json:"room_id"`
		CampaignID string `json:"campaign_id"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 || req.CampaignID == "" {
		http.Error(w, "room_id and campaign_id required", http.StatusBadRequest)
		return
	}
	st, err := s.Director.InitializeProgress(r.Context(), req.RoomID, req.CampaignID)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("campaign started", "room", req.RoomID, "campaign", req.CampaignID)
	writeJSON(w, st)
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var upd story.ProgressUpdate
	if !decodePost(w, r, &upd) {
		return
	}
	if upd.RoomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}
	res, err := s.Director.UpdateProgress(r.Context(), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleStoryState(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/story-state/")
	if !ok {
		return
	}
	st, err := s.Director.StoryState(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// handleEvents returns a room's story log, newest first.
// Query params: type (event type filter), limit (default 50, max 500).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/events/")
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	events, err := s.DB.RecentEvents(r.Context(), room, limit, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/relationships/")
	if !ok {
		return
	}
	rels, err := s.DB.Relationships(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rels)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	var req engine.ContextRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}
	resp, err := s.Director.BuildContext(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleAIContext(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/ai-context/")
	if !ok {
		return
	}
	sc, err := s.Director.BuildAIContext(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"context":   sc,
		"formatted": sc.Prompt(),
	})
}

func (s *Server) handleNarrate(w http.ResponseWriter, r *http.Request) {
	var req engine.TurnRequest
	if !decodePost(w, r, &req) || !requireMessage(w, req) {
		return
	}
	res, err := s.Director.Narrate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleProcessResponse applies the markers of a narration produced
// outside the engine.
func (s *Server) handleProcessResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID   int64  `json:"room_id"`
		Response string `json:"ai_response"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}
	prose, markers, err := llm.SplitMarkers(req.Response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	applied, err := s.Director.ProcessMarkers(r.Context(), req.RoomID, markers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"narrative": prose,
		"markers":   markers,
		"applied":   applied,
	})
}

func (s *Server) handleRecap(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(w, r, "/api/v1/recap/")
	if !ok {
		return
	}
	recap, err := s.Director.Recap(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, recap)
}

// handleCampaigns lists campaigns (GET) or stores one (POST, admin).
func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.DB.Campaigns(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCampaignBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		c, err := campaign.Parse(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.DB.SaveCampaign(r.Context(), c); err != nil {
			writeError(w, err)
			return
		}
		e := s.Repo.Put(c)
		slog.Info("campaign stored", "campaign", c.ID, "nodes", e.Graph.Len())
		writeJSON(w, c.Summary())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCampaignRoutes dispatches between campaign detail
// (GET /api/v1/campaigns/:id) and cache invalidation
// (DELETE /api/v1/campaigns/:id/cache).
func (s *Server) handleCampaignRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/campaigns/"), "/")
	id, sub, _ := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, "campaign id required", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		e, err := s.Repo.GetOrBuild(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"campaign": e.Campaign,
			"graph":    e.Graph.Export(),
		})

	case sub == "cache" && r.Method == http.MethodDelete:
		writeJSON(w, map[string]any{
			"campaign":    id,
			"invalidated": s.Repo.Invalidate(id),
		})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleEndSession drops everything cached for a room (DELETE, admin).
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	room, ok := roomFromPath(w, r, "/api/v1/session/")
	if !ok {
		return
	}
	s.Director.EndSession(room)
	writeJSON(w, map[string]any{"room_id": room, "cleared": true})
}

// decodePost checks the method and decodes a JSON body, answering the
// request itself on failure.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func requireMessage(w http.ResponseWriter, req engine.TurnRequest) bool {
	if req.RoomID <= 0 || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "room_id and message required", http.StatusBadRequest)
		return false
	}
	return true
}

// roomFromPath parses the room ID following prefix on a GET or DELETE
// request.
func roomFromPath(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}
	room, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), 10, 64)
	if err != nil || room <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return room, true
}

// writeError maps engine and store errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoProgress),
		errors.Is(err, engine.ErrUnknownDecision),
		errors.Is(err, engine.ErrUnknownNPC),
		errors.Is(err, campaign.ErrUnknownCampaign),
		errors.Is(err, persistence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidOption),
		errors.Is(err, engine.ErrUnknownTrigger):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrProgressExists),
		errors.Is(err, engine.ErrDecisionMade),
		errors.Is(err, engine.ErrRoomBusy):
		status = http.StatusConflict
	case errors.Is(err, llm.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, llm.ErrDisabled):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
