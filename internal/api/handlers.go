package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/InterviewPipe/internal/flow"
	"github.com/BTreeMap/InterviewPipe/internal/models"
	"github.com/BTreeMap/InterviewPipe/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxHistoryLimit = 1000

// messageRequest is the body of POST /interviews/{sessionID}/messages.
type messageRequest struct {
	Message string `json:"message"`
}

// turnResponse is the result payload of a turn.
type turnResponse struct {
	SessionID     string                    `json:"session_id"`
	Reply         string                    `json:"reply"`
	Status        models.ConversationStatus `json:"status"`
	QuestionIndex int                       `json:"question_index"`
	Started       bool                      `json:"started,omitempty"`
}

func newTurnResponse(res flow.TurnResult) turnResponse {
	return turnResponse{
		SessionID:     res.SessionID,
		Reply:         res.Reply,
		Status:        res.State.Status,
		QuestionIndex: res.State.QuestionIndex,
		Started:       res.Started,
	}
}

func (s *Server) startInterviewHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.StartSession(r.Context())
	if err != nil {
		slog.Error("Server.startInterviewHandler: failed to start session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start interview"))
		return
	}
	slog.Info("Server.startInterviewHandler: interview started", "sessionID", res.SessionID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Interview started", newTurnResponse(res)))
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if s.limiter != nil && !s.limiter.allow(sessionID) {
		slog.Warn("Server.messageHandler: rate limited", "sessionID", sessionID)
		if s.recorder != nil {
			s.recorder.RateLimited()
		}
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many messages, please slow down"))
		return
	}

	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error(messageTooLargeText))
			return
		}
		if errors.Is(err, io.EOF) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Request body is required"))
			return
		}
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON"))
		return
	}

	res, err := s.runner.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		s.writeTurnError(w, sessionID, res, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTurnResponse(res)))
}

const messageTooLargeText = "Message too large. Maximum size is 100KB."

// writeTurnError maps a turn error to an HTTP status.
func (s *Server) writeTurnError(w http.ResponseWriter, sessionID string, res flow.TurnResult, err error) {
	var internal *flow.InternalError
	switch {
	case errors.Is(err, flow.ErrMessageTooLarge):
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error(messageTooLargeText))
	case errors.Is(err, models.ErrEmptySessionID):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Session ID is required"))
	case errors.Is(err, store.ErrVersionConflict):
		slog.Warn("Server.messageHandler: concurrent turn rejected", "sessionID", sessionID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Another message for this session is being processed"))
	case errors.Is(err, flow.ErrInvalidSession):
		writeJSONResponse(w, http.StatusConflict, models.Error("This interview has already finished"))
	case errors.As(err, &internal) && res.Reply != "":
		// The turn completed for the user but its profile was lost.
		slog.Error("Server.messageHandler: turn completed with internal failure", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.APIResponse{
			Status:  string(models.APIStatusError),
			Message: "Interview completed but the profile could not be saved",
			Result:  newTurnResponse(res),
		})
	default:
		slog.Error("Server.messageHandler: turn failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	state, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.sessionStateHandler: failed to load session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := models.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = n
	}

	msgs, err := s.records.GetHistory(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("Server.historyHandler: failed to load history", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load history"))
		return
	}
	if msgs == nil {
		msgs = []models.TranscriptMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	profile, err := s.records.GetProfile(r.Context(), sessionID)
	if errors.Is(err, store.ErrProfileNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
		return
	}
	if err != nil {
		slog.Error("Server.profileHandler: failed to load profile", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load profile"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}
