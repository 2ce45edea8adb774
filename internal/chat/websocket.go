package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/tutor-ai/internal/identity"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

// WebSocketHandler serves /ws/chat. Each inbound message frame is answered
// with exactly one reply or error frame, in order.
type WebSocketHandler struct {
	svc            *Service
	sm             *SessionManager
	rateLimiter    *RateLimiter
	messages       prompts.Messages
	cfg            HandlerConfig
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a WebSocket chat handler. allowedOrigins are
// full origins as used for CORS; "*" accepts any origin.
func NewWebSocketHandler(svc *Service, sm *SessionManager, rl *RateLimiter, msgs prompts.Messages, cfg HandlerConfig, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		svc:            svc,
		sm:             sm,
		rateLimiter:    rl,
		messages:       msgs,
		cfg:            cfg,
		originPatterns: originPatterns(allowedOrigins),
		logger:         logger,
	}
}

// originPatterns converts origins such as "https://app.example:4200" into
// the host patterns websocket.Accept expects.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, strings.TrimSpace(o))
	}
	return patterns
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.cfg.MaxRequestBodySize)

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID)
	h.logger.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		var in Frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		out := h.handleFrame(ctx, userID, sessionID, in)
		if err := wsjson.Write(ctx, ws, out); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, userID, sessionID string, in Frame) Frame {
	switch in.Type {
	case FramePing:
		return Frame{Type: FramePong}
	case FrameMessage:
	default:
		return Frame{Type: FrameError, Content: "unsupported frame type"}
	}

	if n := utf8.RuneCountInString(in.Content); n == 0 || n > h.cfg.MaxMessageLength {
		return Frame{Type: FrameError, Content: "message must be between 1 and " + strconv.Itoa(h.cfg.MaxMessageLength) + " characters"}
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		return Frame{Type: FrameError, Content: "rate limit exceeded"}
	}

	reply, err := h.svc.Send(ctx, userID, sessionID, in.Content)
	if err != nil {
		status, msg := statusFor(err, h.messages)
		h.logger.Error("chat message failed", "user_id", userID, "status", status, "error", err)
		return Frame{Type: FrameError, Content: msg}
	}
	return Frame{Type: FrameReply, Content: reply.Text, Outcome: string(reply.Outcome)}
}
