package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rjooske/tabiji/internal/messaging"
	"github.com/rjooske/tabiji/internal/models"
)

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// webhookHandler verifies the LINE signature and hands each event to the
// dispatcher. Once the signature is valid the answer is 200 even if an event
// fails, since LINE would otherwise redeliver the whole batch.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	reqID := chimw.GetReqID(r.Context())
	events, err := messaging.ParseWebhook(s.channelSecret, r)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidSignature) {
			slog.Warn("Server.webhookHandler: invalid signature", "request_id", reqID, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid signature"))
			return
		}
		slog.Warn("Server.webhookHandler: malformed request", "request_id", reqID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("malformed webhook request"))
		return
	}

	failed := 0
	for _, ev := range events {
		if err := s.events.HandleEvent(r.Context(), ev); err != nil {
			failed++
			slog.Error("Server.webhookHandler: event failed", "request_id", reqID, "event_id", ev.EventID(),
				"user_id", ev.EventSource().UserID, "error", err)
		}
	}
	slog.Debug("Server.webhookHandler: batch handled", "request_id", reqID, "events", len(events), "failed", failed)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// generationsHandler lists a user's recent jobs, newest first.
func (s *Server) generationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := s.history.ListGenerations(userID, limit)
	if err != nil {
		slog.Error("Server.generationsHandler: list failed", "user_id", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to load history"))
		return
	}
	if records == nil {
		records = []models.GenerationRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}
