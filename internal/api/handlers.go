// File: internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/browser"
	"github.com/xkilldash9x/rover/internal/service"
	"github.com/xkilldash9x/rover/internal/store"
	"github.com/xkilldash9x/rover/internal/stream"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 500
)

type setupRequest struct {
	URL string `json:"url"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleSetupBrowser holds the run lock for the whole setup so no query can
// start against a session that is being replaced.
func (s *Server) handleSetupBrowser(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var session *browser.Session
	err := s.runs.Exclusive(func() error {
		var err error
		session, err = s.sessions.Setup(r.Context(), strings.TrimSpace(req.URL))
		return err
	})
	if errors.Is(err, service.ErrRunInProgress) {
		respondError(w, http.StatusConflict, "A query is running against the current browser session")
		return
	}
	if err != nil {
		s.logger.Error("Browser setup failed.", zap.Error(err))
		var setupErr *browser.SetupError
		if errors.As(err, &setupErr) {
			respondError(w, http.StatusInternalServerError, "Failed to setup browser: "+setupErr.Err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to setup browser: "+err.Error())
		return
	}

	resp := statusResponse{Status: "success", Message: "Browser setup complete"}
	if session != nil {
		resp.SessionID = session.ID()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	err := s.runs.Exclusive(func() error {
		return s.sessions.Cleanup(r.Context())
	})
	if errors.Is(err, service.ErrRunInProgress) {
		respondError(w, http.StatusConflict, "A query is running against the current browser session")
		return
	}
	if err != nil {
		s.logger.Error("Browser cleanup failed.", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to cleanup browser: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Browser cleanup complete"})
}

// handleQuery starts a run and streams its progress frames. Precondition
// failures are answered before the stream starts.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	run, err := s.runs.Start(r.Context(), req.Query)
	if err != nil {
		var pre *agent.PreconditionError
		switch {
		case errors.As(err, &pre):
			respondError(w, http.StatusBadRequest, pre.Reason)
		case errors.Is(err, service.ErrRunInProgress):
			respondError(w, http.StatusConflict, "Another query is already running")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	stream.PrepareHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	if err := run.Stream(r.Context(), stream.NewSSEWriter(w)); err != nil {
		s.logger.Info("Query stream ended with error.", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// handleBrowserEvents relays side-channel events until the client goes
// away or the bus shuts down.
func (s *Server) handleBrowserEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	stream.PrepareHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sse := stream.NewSSEWriter(w)

	heartbeat := s.cfg.EventsHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.Comment("keepalive"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.WriteJSON(ev); err != nil {
				s.logger.Debug("Browser events client went away.", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "Run transcripts are disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxListLimit {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 0 and %d", maxListLimit))
			return
		}
		limit = n
	}
	runs, err := s.transcripts.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs.", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "Run transcripts are disabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.transcripts.GetRun(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "Run not found: "+id)
	case err != nil:
		s.logger.Error("Failed to load run.", zap.String("run_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to load run")
	default:
		respondJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, active := s.sessions.Page()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_active": active,
		"run_active":     s.runs.Busy(),
	})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends an error in the {"detail": ...} shape clients expect.
func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}
