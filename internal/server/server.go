// Package server exposes the local ingestion endpoint shell wrappers use to
// register and update CLI sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
)

const maxBodySize = 1 << 20 // 1MB

// Server is the local ingestion HTTP server. It binds to loopback only;
// wrapper scripts on the same machine are the only intended clients.
type Server struct {
	items item.Store
	bus   *eventbus.EventBus
	log   zerolog.Logger
	addr  string
}

// New creates an ingestion server.
func New(items item.Store, bus *eventbus.EventBus, addr string, log zerolog.Logger) *Server {
	return &Server{items: items, bus: bus, addr: addr, log: log}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/sessions", s.handleCreateSession)
	r.Patch("/api/sessions/{id}", s.handleUpdateSession)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("ingestion server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down ingestion server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ingestion server failed: %w", err)
	}
}

type createSessionRequest struct {
	Command string `json:"command"`
	Title   string `json:"title"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type updateSessionRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer func() { _ = r.Body.Close() }()

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	title := req.Title
	if title == "" {
		title = req.Command
	}

	now := time.Now()
	it := item.Item{
		ID:            uuid.NewString(),
		Type:          item.TypeCLISession,
		Title:         title,
		Status:        item.StatusInProgress,
		Metadata:      map[string]any{item.MetaCommand: req.Command},
		CreatedAt:     now,
		LastCheckedAt: &now,
		LastUpdatedAt: &now,
	}

	if err := s.items.Add(r.Context(), it); err != nil {
		s.log.Error().Err(err).Msg("failed to create cli session")
		httpError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.bus.PublishItemCreated(eventbus.ItemCreatedPayload{Item: &it})
	s.log.Info().Str("item_id", it.ID).Str("command", req.Command).Msg("cli session registered")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createSessionResponse{ID: it.ID})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer func() { _ = r.Body.Close() }()

	id := chi.URLParam(r, "id")

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	status := item.Status(req.Status)
	if !status.Valid() {
		httpError(w, http.StatusBadRequest, "unknown status %q", req.Status)
		return
	}

	prev, err := s.items.Get(r.Context(), id)
	if errors.Is(err, item.ErrNotFound) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("item_id", id).Msg("failed to load session")
		httpError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	// A repeated PATCH with the item's current status is a no-op: no
	// previous_status rewrite, no duplicate notification.
	if status == prev.Status {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.items.UpdateStatus(r.Context(), id, status, nil); err != nil {
		s.log.Error().Err(err).Str("item_id", id).Msg("failed to update session")
		httpError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	updated := prev
	updated.PreviousStatus = prev.Status
	updated.Status = status
	s.bus.PublishItemStatusChanged(eventbus.ItemStatusChangedPayload{
		Item:      &updated,
		OldStatus: prev.Status,
		NewStatus: status,
	})

	w.WriteHeader(http.StatusOK)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}
