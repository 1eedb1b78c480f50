package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/travai/travai/internal/flow"
	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/speech"
)

const (
	maxAnswerRequestBytes = 64 << 10
	defaultAudioFormat    = "wav"

	wsMaxFrameBytes = 64 << 10
	wsWriteTimeout  = 10 * time.Second
)

// turnResult is the JSON form of a flow.Turn.
type turnResult struct {
	SessionID       string  `json:"session_id"`
	Reply           string  `json:"reply"`
	Progress        float64 `json:"progress"`
	DisplayProgress int     `json:"display_progress"`
	Complete        bool    `json:"complete"`
	Heard           string  `json:"heard,omitempty"`
	Audio           string  `json:"audio,omitempty"`
	AudioFormat     string  `json:"audio_format,omitempty"`
}

func newTurnResult(sessionID string, t flow.Turn) turnResult {
	out := turnResult{
		SessionID:       sessionID,
		Reply:           t.Reply,
		Progress:        t.Progress,
		DisplayProgress: t.DisplayProgress,
		Complete:        t.Complete,
	}
	if t.Audio != nil && len(t.Audio.Data) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(t.Audio.Data)
		out.AudioFormat = t.Audio.Format
	}
	return out
}

// scriptHandler handles GET /api/onboarding/script
func (s *Server) scriptHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.registry.Prompts()))
}

// createSessionHandler handles POST /api/onboarding/sessions. An existing
// session ID resumes that session instead of failing.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.SessionRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAnswerRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid JSON format")
			return
		}
	}

	var (
		d       *flow.Driver
		created = true
	)
	if req.SessionID == "" {
		d, err = s.registry.Create(r.Context(), "")
	} else {
		d, created, err = s.registry.GetOrCreate(r.Context(), req.SessionID)
	}
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to create session", "error", err, "sessionID", req.SessionID)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	turn, err := d.Start(r.Context())
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to persist session", "error", err, "sessionID", d.SessionID())
	}

	status := http.StatusOK
	message := "Session resumed"
	if created {
		status = http.StatusCreated
		message = "Session created"
	}
	slog.Info("Server.createSessionHandler: "+strings.ToLower(message), "sessionID", d.SessionID())
	writeJSONResponse(w, status, models.SuccessWithMessage(message, newTurnResult(d.SessionID(), turn)))
}

// getSessionHandler handles GET /api/onboarding/sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(d.Status()))
}

// submitAnswerHandler handles POST /api/onboarding/sessions/{id}/answers
func (s *Server) submitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	d, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAnswerRequestBytes)).Decode(&req); err != nil {
		slog.Warn("Server.submitAnswerHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := d.HandleText(r.Context(), req.Text)
	if err != nil {
		// The engine has advanced; only persistence failed.
		slog.Error("Server.submitAnswerHandler: failed to persist session", "error", err, "sessionID", d.SessionID())
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTurnResult(d.SessionID(), turn)))
}

// submitAudioHandler handles POST /api/onboarding/sessions/{id}/audio?format=
// with the raw clip as the request body.
func (s *Server) submitAudioHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	d, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = defaultAudioFormat
	}
	body := http.MaxBytesReader(w, r.Body, speech.MaxAudioBytes)

	turn, heard, err := d.HandleAudio(r.Context(), body, format)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, speech.ErrEmptyAudio):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &tooLarge), errors.Is(err, speech.ErrAudioTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Audio clip is too large")
		case heard == "" && turn.Reply == "":
			slog.Warn("Server.submitAudioHandler: transcription failed", "error", err, "sessionID", d.SessionID())
			writeError(w, http.StatusUnprocessableEntity, "Could not transcribe audio: "+err.Error())
		default:
			slog.Error("Server.submitAudioHandler: failed to persist session", "error", err, "sessionID", d.SessionID())
			res := newTurnResult(d.SessionID(), turn)
			res.Heard = heard
			writeJSONResponse(w, http.StatusOK, models.Success(res))
		}
		return
	}

	res := newTurnResult(d.SessionID(), turn)
	res.Heard = heard
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// resetSessionHandler handles POST /api/onboarding/sessions/{id}/reset
func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	turn, err := d.Reset(r.Context())
	if err != nil {
		slog.Error("Server.resetSessionHandler: failed to persist reset", "error", err, "sessionID", d.SessionID())
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", newTurnResult(d.SessionID(), turn)))
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*flow.Driver, bool) {
	id := r.PathValue("id")
	d, err := s.registry.Get(r.Context(), id)
	switch {
	case err == nil:
		return d, true
	case errors.Is(err, models.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, models.ErrEmptySessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Server.lookupSession: registry error", "error", err, "sessionID", id)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
	}
	return nil, false
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dataChannelHandler handles GET /api/onboarding/ws?token=. The token's room
// grant names the session, so one room is one onboarding conversation.
func (s *Server) dataChannelHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing access token")
		return
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		slog.Warn("Server.dataChannelHandler: token rejected", "error", err)
		status := http.StatusUnauthorized
		if errors.Is(err, livekit.ErrCredentialsNotConfigured) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
	sessionID := claims.Room()
	if sessionID == "" {
		writeError(w, http.StatusForbidden, "Token carries no room grant")
		return
	}

	// The session stays resident while the connection is open, so REST calls
	// reach this same driver however long the participant is quiet.
	d, _, release, err := s.registry.Hold(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.dataChannelHandler: failed to open session", "error", err, "sessionID", sessionID)
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.dataChannelHandler: upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxFrameBytes)

	ctx := r.Context()
	identity := claims.Identity()
	slog.Info("Server.dataChannelHandler: participant connected", "sessionID", sessionID, "identity", identity)

	send := func(msg models.DataMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}
	agentFrame := func(t flow.Turn) models.DataMessage {
		return models.DataMessage{Type: models.DataTypeAgent, Text: t.Reply, Progress: t.Progress, Complete: t.Complete}
	}

	first, err := d.Start(ctx)
	if err != nil {
		slog.Error("Server.dataChannelHandler: failed to persist session", "error", err, "sessionID", sessionID)
	}
	if err := send(agentFrame(first)); err != nil {
		return
	}

	for {
		var in models.DataMessage
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Server.dataChannelHandler: read ended", "sessionID", sessionID, "error", err)
			}
			slog.Info("Server.dataChannelHandler: participant disconnected", "sessionID", sessionID, "identity", identity)
			return
		}

		var out models.DataMessage
		switch in.Type {
		case models.DataTypeText:
			turn, err := d.HandleText(ctx, in.Text)
			if err != nil {
				slog.Error("Server.dataChannelHandler: failed to persist session", "error", err, "sessionID", sessionID)
			}
			out = agentFrame(turn)
		case models.DataTypeMic:
			enabled := in.Enabled != nil && *in.Enabled
			slog.Debug("Server.dataChannelHandler: microphone toggled", "sessionID", sessionID, "enabled", enabled)
			continue
		default:
			out = models.DataMessage{Type: models.DataTypeError, Text: models.ErrUnsupportedDataType.Error() + ": " + string(in.Type)}
		}
		if err := send(out); err != nil {
			slog.Warn("Server.dataChannelHandler: write failed", "sessionID", sessionID, "error", err)
			return
		}
	}
}
