package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/security"
	"chatsync/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the sync engine over HTTP for local UI processes.
type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	manager *service.Manager
	cfg     *models.Config
	server  *http.Server
}

func NewServer(cfg *models.Config, manager *service.Manager, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		manager: manager,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	conversations := s.router.PathPrefix("/conversations/{id}").Subrouter()
	conversations.HandleFunc("/open", s.handleOpen()).Methods(http.MethodPost)
	conversations.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	conversations.HandleFunc("/messages", s.handleSend()).Methods(http.MethodPost)
	conversations.HandleFunc("/messages/older", s.handleLoadOlder()).Methods(http.MethodPost)
	conversations.HandleFunc("/messages/{messageId}", s.handleEdit()).Methods(http.MethodPatch)
	conversations.HandleFunc("/messages/{messageId}", s.handleDelete()).Methods(http.MethodDelete)
	conversations.HandleFunc("/messages/{messageId}/retry", s.handleRetry()).Methods(http.MethodPost)
	conversations.HandleFunc("/messages/{messageId}/status", s.handleStatus()).Methods(http.MethodGet)
	conversations.HandleFunc("/read", s.handleMarkRead()).Methods(http.MethodPost)
	conversations.HandleFunc("/failed", s.handleFailed()).Methods(http.MethodGet)
	conversations.HandleFunc("/refresh", s.handleRefresh()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, metrics.GetSnapshot())
	}
}

type openRequest struct {
	OtherParticipants []string `json:"otherParticipants"`
}

func (s *Server) handleOpen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}

		conv := s.manager.Conversation(mux.Vars(r)["id"], req.OtherParticipants)
		if err := conv.Refresh(r.Context()); err != nil {
			s.logger.WithError(err).WithField("conversation_id", conv.ID()).
				Warn("Initial refresh failed, serving cached view")
		}
		s.writeJSON(w, http.StatusOK, conv.Messages())
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}
		s.writeJSON(w, http.StatusOK, conv.Messages())
	}
}

type sendRequest struct {
	Text           string `json:"text"`
	AttachmentPath string `json:"attachmentPath,omitempty"`
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		if req.AttachmentPath != "" {
			if err := security.ValidateFilePath(req.AttachmentPath); err != nil {
				s.writeError(w, apperrors.NewValidationError("attachmentPath", err.Error()))
				return
			}
		}

		sent, err := conv.SendMessage(r.Context(), req.Text, req.AttachmentPath)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, sent)
	}
}

func (s *Server) handleRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		sent, err := conv.Retry(r.Context(), mux.Vars(r)["messageId"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sent)
	}
}

type editRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleEdit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		var req editRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}

		updated, err := conv.EditMessage(r.Context(), mux.Vars(r)["messageId"], req.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) handleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		if err := conv.DeleteMessage(r.Context(), mux.Vars(r)["messageId"]); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		messageID := mux.Vars(r)["messageId"]
		msg, found := findMessage(conv, messageID)
		if !found {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "message is not in the cached window"))
			return
		}

		state, err := conv.ResolveDeliveryStatus(r.Context(), msg)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if state == nil {
			// Delivery states only exist for the local user's own messages.
			s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": nil})
			return
		}
		s.writeJSON(w, http.StatusOK, state)
	}
}

type markReadRequest struct {
	AtBottom bool `json:"atBottom"`
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		var req markReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}

		conv.MarkRead(req.AtBottom)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}
		s.writeJSON(w, http.StatusOK, conv.FailedMessages())
	}
}

func (s *Server) handleLoadOlder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		if err := conv.LoadOlder(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conv.Messages())
	}
}

func (s *Server) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.manager.Lookup(mux.Vars(r)["id"])
		if !ok {
			s.writeError(w, apperrors.New(apperrors.ErrCodeNotFound, "conversation is not open"))
			return
		}

		if err := conv.Refresh(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conv.Messages())
	}
}

func findMessage(conv *service.Conversation, messageID string) (models.ConversationMessage, bool) {
	return cache.Find(conv.Messages(), messageID)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: "internal error"}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = string(appErr.Code)
		resp.Error = appErr.Message
		if appErr.UserMessage != "" {
			resp.Error = appErr.UserMessage
		}
		switch appErr.Code {
		case apperrors.ErrCodeEmptyMessage, apperrors.ErrCodeMissingContext,
			apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidationFailed:
			status = http.StatusBadRequest
		case apperrors.ErrCodeBlockedContact:
			status = http.StatusForbidden
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeRemoteWrite:
			status = http.StatusBadGateway
		}
	}

	s.writeJSON(w, status, resp)
}
