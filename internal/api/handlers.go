package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convogate/convogate/internal/models"
)

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.messagesHandler: processing message request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Channels without their own delivery IDs get one assigned here; such
	// messages cannot be deduplicated across retries.
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = uuid.NewString()
		slog.Debug("Server.messagesHandler: assigned message ID", "messageID", msg.MessageID)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	outcome, err := s.governor.HandleMessage(r.Context(), msg)
	if err != nil {
		if errors.Is(err, models.ErrEmptySessionID) || errors.Is(err, models.ErrEmptyMessageID) {
			slog.Warn("Server.messagesHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.messagesHandler: pipeline failed", "error", err, "sessionID", msg.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	status := http.StatusOK
	if outcome.Duplicate {
		slog.Info("Server.messagesHandler: duplicate suppressed", "sessionID", msg.SessionID, "messageID", msg.MessageID)
		status = http.StatusConflict
	}
	writeJSONResponse(w, status, outcome)
}

// sessionsHandler routes /v1/sessions/{id} and /v1/sessions/{id}/audit.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	sessionID, sub, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Session ID required"))
		return
	}

	switch sub {
	case "":
		s.getSession(w, r, sessionID)
	case "audit":
		s.getSessionAudit(w, r, sessionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.getSession: failed to load session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, session)
}

func (s *Server) getSessionAudit(w http.ResponseWriter, r *http.Request, sessionID string) {
	records, err := s.sessions.ListAuditRecords(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.getSessionAudit: failed to list audit records", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load audit records"))
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	writeJSONResponse(w, http.StatusOK, records)
}

func (s *Server) policyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, s.policy)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
