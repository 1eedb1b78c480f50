package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/models"
)

const (
	maxTokenRequestBytes = 64 << 10
	maxWebhookBytes      = 1 << 20

	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

type serviceInfo struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, serviceInfo{
		Status:    "ok",
		Service:   ServiceName,
		Version:   ServiceVersion,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// tokenHandler handles POST /api/token. The success body is the bare
// {token, url} object the mobile client expects.
func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	slog.Debug("Server.tokenHandler: processing token request", "method", r.Method, "path", r.URL.Path)

	var req models.TokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTokenRequestBytes)).Decode(&req); err != nil {
		slog.Warn("Server.tokenHandler: failed to decode JSON", "error", err)
		s.metrics.RecordToken("invalid")
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	resp, err := s.issuer.Issue(req)
	switch {
	case err == nil:
	case errors.Is(err, livekit.ErrCredentialsNotConfigured):
		slog.Error("Server.tokenHandler: credentials not configured")
		s.metrics.RecordToken("unconfigured")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case isValidationError(err):
		slog.Warn("Server.tokenHandler: validation failed", "error", err, "room", req.RoomName)
		s.metrics.RecordToken("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		slog.Error("Server.tokenHandler: token generation failed", "error", err, "room", req.RoomName)
		s.metrics.RecordToken("error")
		writeError(w, http.StatusInternalServerError, "Failed to generate token: "+err.Error())
		return
	}

	s.metrics.RecordToken("ok")
	slog.Info("Server.tokenHandler: token issued", "room", req.RoomName, "participant", req.ParticipantName)
	writeJSONResponse(w, http.StatusOK, resp)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		models.ErrEmptyRoomName,
		models.ErrRoomNameTooLong,
		models.ErrEmptyParticipant,
		models.ErrParticipantTooLong,
		models.ErrMetadataTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type webhookAck struct {
	Status string                  `json:"status"`
	Event  models.WebhookEventType `json:"event"`
}

// webhookHandler handles POST /api/webhooks/livekit: verify, persist, dispatch.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Server.webhookHandler: body too large", "limit", tooLarge.Limit)
			s.metrics.RecordWebhook("", "invalid")
			writeError(w, http.StatusRequestEntityTooLarge, "Webhook payload is too large")
			return
		}
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		s.metrics.RecordWebhook("", "invalid")
		writeError(w, http.StatusBadRequest, livekit.ErrInvalidPayload.Error())
		return
	}

	evt, err := s.webhooks.Receive(body, r.Header.Get("Authorization"))
	switch {
	case err == nil:
	case errors.Is(err, livekit.ErrMissingAuthorization), errors.Is(err, livekit.ErrInvalidSignature):
		slog.Warn("Server.webhookHandler: rejected delivery", "error", err)
		s.metrics.RecordWebhook("", "unauthorized")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, livekit.ErrInvalidPayload):
		slog.Warn("Server.webhookHandler: invalid payload", "error", err)
		s.metrics.RecordWebhook("", "invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		slog.Error("Server.webhookHandler: receive failed", "error", err)
		s.metrics.RecordWebhook("", "error")
		writeError(w, http.StatusInternalServerError, "Webhook processing failed: "+err.Error())
		return
	}

	if err := s.st.AddWebhookEvent(*evt); err != nil {
		slog.Error("Server.webhookHandler: failed to store event", "error", err, "event", evt.Event)
		s.metrics.RecordWebhook(string(evt.Event), "error")
		writeError(w, http.StatusInternalServerError, "Webhook processing failed: "+err.Error())
		return
	}
	if err := s.dispatcher.Dispatch(r.Context(), *evt); err != nil {
		slog.Error("Server.webhookHandler: dispatch failed", "error", err, "event", evt.Event)
		s.metrics.RecordWebhook(string(evt.Event), "error")
		writeError(w, http.StatusInternalServerError, "Webhook processing failed: "+err.Error())
		return
	}

	s.metrics.RecordWebhook(string(evt.Event), "ok")
	writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ok", Event: evt.Event})
}

// listWebhookEventsHandler handles GET /api/webhooks/events?room=&limit=
func (s *Server) listWebhookEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := s.st.ListWebhookEvents(r.URL.Query().Get("room"), limit)
	if err != nil {
		slog.Error("Server.listWebhookEventsHandler: store error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list webhook events")
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}
