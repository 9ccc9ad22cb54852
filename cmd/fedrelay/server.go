package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fedrelay/internal/httputil"
	"fedrelay/internal/metrics"
	"fedrelay/internal/middleware"
	"fedrelay/internal/models"
	"fedrelay/internal/service"
	"fedrelay/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxActivityBodyBytes = 1 << 20

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	cfg       *models.Config
	inboxes   service.InboxIngest
	publisher *service.Publisher
	follows   *service.FollowService
	limiter   *service.RateLimiter
	registry  *metrics.Registry
	server    *http.Server
}

func NewServer(cfg *models.Config, inboxes service.InboxIngest, publisher *service.Publisher, follows *service.FollowService, limiter *service.RateLimiter, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		cfg:       cfg,
		inboxes:   inboxes,
		publisher: publisher,
		follows:   follows,
		limiter:   limiter,
		registry:  registry,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.registry, s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	fed := s.router.PathPrefix("/federation/users/{user}").Subrouter()
	fed.HandleFunc("/inbox", s.handleInbox()).Methods(http.MethodPost)
	fed.HandleFunc("/outbox", s.handleOutbox()).Methods(http.MethodPost)
	fed.HandleFunc("/follow", s.handleFollow()).Methods(http.MethodPost)
	fed.HandleFunc("/unfollow", s.handleUnfollow()).Methods(http.MethodPost)
	fed.HandleFunc("/followers", s.handleListFollowers()).Methods(http.MethodGet)
	fed.HandleFunc("/following", s.handleListFollowing()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.registry.Export())
	}
}

// inboundActivity is the minimal envelope required of a received activity.
// The full document is stored verbatim for the worker to interpret.
type inboundActivity struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor string `json:"actor"`
}

// handleInbox accepts a remote activity for a local user. Admission is rate
// limited per remote actor domain; admitted activities are queued durably and
// acknowledged with 202 before any processing happens. Replays of an already
// queued activity also return 202.
func (s *Server) handleInbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActivityBodyBytes))
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		var envelope inboundActivity
		if err := json.Unmarshal(body, &envelope); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid activity document")
			return
		}
		if err := validateEnvelope(localUserID, envelope, true); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		allowed, err := s.limiter.Allow(r.Context(), httputil.HostOfURI(envelope.Actor))
		if err != nil {
			s.logger.WithError(err).Error("Rate limit check failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowed {
			s.registry.IncrementCounter("inbox_rate_limited", nil, "Inbox posts rejected by rate limiting")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		activity := &models.InboxActivity{
			LocalUserID:     localUserID,
			RemoteActorID:   envelope.Actor,
			ActivityID:      envelope.ID,
			ActivityType:    envelope.Type,
			ActivityPayload: string(body),
		}
		if err := s.inboxes.EnqueueInboxActivity(r.Context(), activity); err != nil {
			s.logger.WithError(err).Error("Failed to enqueue inbox activity")
			s.writeError(w, http.StatusInternalServerError, "failed to queue activity")
			return
		}

		s.registry.IncrementCounter("inbox_accepted", nil, "Inbox posts queued for processing")
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleOutbox publishes a locally-produced activity to all accepted
// followers of the user.
func (s *Server) handleOutbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActivityBodyBytes))
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		var envelope inboundActivity
		if err := json.Unmarshal(body, &envelope); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid activity document")
			return
		}
		if err := validateEnvelope(localUserID, envelope, false); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		activity := &models.OutboxActivity{
			ActivityID:      envelope.ID,
			LocalUserID:     localUserID,
			ActivityType:    envelope.Type,
			ActivityPayload: string(body),
		}

		enqueued, err := s.publisher.PublishToFollowers(r.Context(), localUserID, activity)
		if err != nil {
			s.logger.WithError(err).Error("Failed to publish activity")
			s.writeError(w, http.StatusInternalServerError, "failed to publish activity")
			return
		}

		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"activity_id": envelope.ID,
			"enqueued":    enqueued,
		})
	}
}

func validateEnvelope(localUserID string, envelope inboundActivity, requireActor bool) error {
	if err := validation.ValidateLocalUserID(localUserID); err != nil {
		return err
	}
	if err := validation.ValidateActivityID(envelope.ID); err != nil {
		return err
	}
	if err := validation.ValidateActivityType(envelope.Type); err != nil {
		return err
	}
	if requireActor {
		if err := validation.ValidateActorURI(envelope.Actor); err != nil {
			return err
		}
	}
	return nil
}

type followRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleFollow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]

		var req followRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "actor is required")
			return
		}
		if err := validation.ValidateActorURI(req.Actor); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.follows.Follow(r.Context(), localUserID, req.Actor); err != nil {
			s.logger.WithError(err).Error("Failed to initiate follow")
			s.writeError(w, http.StatusUnprocessableEntity, "failed to initiate follow")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleUnfollow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]

		var req followRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "actor is required")
			return
		}
		if err := validation.ValidateActorURI(req.Actor); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.follows.Unfollow(r.Context(), localUserID, req.Actor); err != nil {
			s.logger.WithError(err).Error("Failed to withdraw follow")
			s.writeError(w, http.StatusInternalServerError, "failed to withdraw follow")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleListFollowers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]
		status, limit, offset := listParams(r)

		records, err := s.follows.ListFollowers(r.Context(), localUserID, status, limit, offset)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list followers")
			s.writeError(w, http.StatusInternalServerError, "failed to list followers")
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{"followers": records})
	}
}

func (s *Server) handleListFollowing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localUserID := mux.Vars(r)["user"]
		status, limit, offset := listParams(r)

		records, err := s.follows.ListFollowing(r.Context(), localUserID, status, limit, offset)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list following")
			s.writeError(w, http.StatusInternalServerError, "failed to list following")
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{"following": records})
	}
}

func listParams(r *http.Request) (models.FollowStatus, int, int) {
	status := models.FollowStatus(r.URL.Query().Get("status"))

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	return status, limit, offset
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
