package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sendfleet/internal/constants"
	apperrors "sendfleet/internal/errors"
	"sendfleet/internal/middleware"
	"sendfleet/internal/models"
	"sendfleet/internal/service"
	"sendfleet/internal/validation"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 1 << 20

// Server exposes the operator API: account lifecycle, message submission,
// and status polling.
type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	accounts   *service.AccountManager
	dispatcher *service.Dispatcher
	store      service.DispatchStore
	server     *http.Server
}

func NewServer(cfg *models.Config, accounts *service.AccountManager, dispatcher *service.Dispatcher, store service.DispatchStore, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		accounts:   accounts,
		dispatcher: dispatcher,
		store:      store,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))
	s.router.Use(middleware.RequestSizeLimit(maxRequestBodyBytes))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(apiKeyAuth(s.logger))

	api.HandleFunc("/accounts", s.handleCreateAccount()).Methods(http.MethodPost)
	api.HandleFunc("/accounts", s.handleListAccounts()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", s.handleAccountStatus()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/connect", s.handleConnectAccount()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/suspend", s.handleSuspendAccount()).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleEnqueueMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/retry", s.handleRetryMessage()).Methods(http.MethodPost)
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
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type createAccountRequest struct {
	ID         string `json:"id,omitempty"`
	Label      string `json:"label"`
	DailyLimit int    `json:"dailyLimit,omitempty"`
}

func (s *Server) handleCreateAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		if err := validation.ValidateAccountLabel(req.Label); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateDailyLimit(req.DailyLimit); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		acct, err := s.accounts.CreateAccount(r.Context(), req.ID, req.Label, req.DailyLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, acct)
	}
}

func (s *Server) handleListAccounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.accounts.ListAccounts(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
	}
}

func (s *Server) handleAccountStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.accounts.AccountStatus(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleConnectAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.accounts.Connect(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		// Connection proceeds asynchronously; the caller polls the
		// account status for the QR payload and eventual promotion.
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "connecting"})
	}
}

func (s *Server) handleSuspendAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.accounts.Suspend(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.AccountStatusSuspended)})
	}
}

func (s *Server) handleEnqueueMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		if err := validation.ValidateRecipient(req.Recipient); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidatePayload(req.Payload); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg := &models.OutboundMessage{
			ID:          uuid.NewString(),
			CampaignID:  req.CampaignID,
			Recipient:   req.Recipient,
			Payload:     req.Payload,
			ChannelType: req.ChannelType,
		}
		if err := s.dispatcher.Enqueue(r.Context(), msg); err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     msg.ID,
			"status": string(models.MessageStatusPending),
		})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
				s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid limit"))
				return
			}
		}
		limit, err := validation.ValidateListLimit(limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		filter := models.MessageFilter{
			Status:     models.MessageStatus(q.Get("status")),
			CampaignID: q.Get("campaignId"),
			AccountID:  q.Get("accountId"),
			Limit:      limit,
		}

		messages, err := s.store.ListMessages(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.store.GetMessage(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if msg == nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeNotFound, "message not found"))
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleRetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateMessageID(id); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.dispatcher.RetryMessage(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": string(models.MessageStatusPending),
		})
	}
}

// writeError maps application error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidState, apperrors.ErrCodeAccountSuspend, apperrors.ErrCodeLockHeld:
		status = http.StatusConflict
	case apperrors.ErrCodeRateLimit:
		status = http.StatusTooManyRequests
	}

	if status >= 500 {
		s.logger.WithError(err).WithField(service.LogFieldPath, r.URL.Path).Error("Request failed")
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
