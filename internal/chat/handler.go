package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ashureev/tutor-ai/internal/api"
	"github.com/ashureev/tutor-ai/internal/identity"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes request limits.
type HandlerConfig struct {
	MaxRequestBodySize int64
	MaxMessageLength   int
}

// Handler serves the chat HTTP API.
type Handler struct {
	svc         *Service
	sessions    *SessionManager
	rateLimiter *RateLimiter
	messages    prompts.Messages
	cfg         HandlerConfig
	logger      *slog.Logger
}

// NewHandler creates a chat handler. When sm is set, resetting a
// conversation also closes the user's open chat sockets.
func NewHandler(svc *Service, sm *SessionManager, rl *RateLimiter, msgs prompts.Messages, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, sessions: sm, rateLimiter: rl, messages: msgs, cfg: cfg, logger: logger}
}

// RegisterRoutes registers chat routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/ai", func(r chi.Router) {
		r.Post("/message", h.HandleMessage)
		r.Get("/history", h.HandleHistory)
		r.Delete("/history", h.HandleReset)
	})
}

func (h *Handler) validate(req *MessageRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Message,
			validation.Required,
			validation.RuneLength(1, h.cfg.MaxMessageLength),
		),
	)
}

// HandleMessage handles POST /api/ai/message. The reply is returned as
// plain text.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate(&req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("chat message received",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	reply, err := h.svc.Send(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		status, msg := statusFor(err, h.messages)
		h.logger.Error("chat message failed", "user_id", userID, "status", status, "error", err)
		api.Error(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Tutor-Outcome", string(reply.Outcome))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(reply.Text)); err != nil {
		h.logger.Warn("failed to write chat reply", "user_id", userID, "error", err)
	}
}

// HandleHistory handles GET /api/ai/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	turns, err := h.svc.History(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load history", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, h.messages.GenericFailure)
		return
	}
	api.JSON(w, http.StatusOK, historyItems(turns))
}

// HandleReset handles DELETE /api/ai/history.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.svc.Reset(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to reset history", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, h.messages.GenericFailure)
		return
	}
	if h.sessions != nil {
		h.sessions.CloseSession(userID)
	}
	api.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
