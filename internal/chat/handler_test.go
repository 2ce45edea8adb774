package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tutor-ai/internal/conversation"
	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/identity"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

func newTestRouter(t *testing.T, repo *fakeRepo, responder *fakeResponder, rl *RateLimiter, cfg HandlerConfig) http.Handler {
	t.Helper()
	return newTestRouterWithSessions(t, repo, responder, rl, cfg, nil)
}

func newTestRouterWithSessions(t *testing.T, repo *fakeRepo, responder *fakeResponder, rl *RateLimiter, cfg HandlerConfig, sm *SessionManager) http.Handler {
	t.Helper()
	svc := NewService(repo, responder)
	h := NewHandler(svc, sm, rl, prompts.Default().Messages, cfg, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(identity.WithUser(req.Context(), userID, "tab-1"))
}

func postMessage(router http.Handler, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/ai/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = authed(req, userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleMessage_Success(t *testing.T) {
	repo := newFakeRepo()
	repo.setLevel("u1", "beginner")
	responder := &fakeResponder{reply: conversation.Reply{Text: "I'm great, thanks!", Outcome: conversation.OutcomeText}}
	router := newTestRouter(t, repo, responder, nil, HandlerConfig{})

	rec := postMessage(router, "u1", `{"message":"How are you?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if rec.Body.String() != "I'm great, thanks!" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Tutor-Outcome") != "text" {
		t.Errorf("outcome header = %q", rec.Header().Get("X-Tutor-Outcome"))
	}
}

func TestHandleMessage_ErrorMapping(t *testing.T) {
	msgs := prompts.Default().Messages
	tests := []struct {
		name       string
		level      string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"level missing", "", nil, http.StatusBadRequest, msgs.LevelRequired},
		{"upstream unavailable", "beginner", fmt.Errorf("%w: dial tcp: refused", conversation.ErrUpstreamUnavailable), http.StatusBadGateway, msgs.UpstreamUnavailable},
		{"contract violation", "beginner", fmt.Errorf("%w: no text", conversation.ErrUpstreamContractViolation), http.StatusInternalServerError, msgs.GenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			if tt.level != "" {
				repo.setLevel("u1", tt.level)
			}
			router := newTestRouter(t, repo, &fakeResponder{err: tt.err}, nil, HandlerConfig{})

			rec := postMessage(router, "u1", `{"message":"hi"}`)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %q, want %q", body["error"], tt.wantMsg)
			}
			if strings.Contains(rec.Body.String(), "refused") {
				t.Error("upstream detail leaked to client")
			}
		})
	}
}

func TestHandleMessage_RequestValidation(t *testing.T) {
	repo := newFakeRepo()
	repo.setLevel("u1", "beginner")
	responder := &fakeResponder{reply: conversation.Reply{Text: "ok"}}
	router := newTestRouter(t, repo, responder, nil, HandlerConfig{MaxMessageLength: 10, MaxRequestBodySize: 256})

	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
	}{
		{"unauthenticated", "", `{"message":"hi"}`, http.StatusUnauthorized},
		{"malformed json", "u1", `{"message":`, http.StatusBadRequest},
		{"empty message", "u1", `{"message":""}`, http.StatusBadRequest},
		{"too long", "u1", `{"message":"this message is too long"}`, http.StatusBadRequest},
		{"body too large", "u1", `{"message":"` + strings.Repeat("a", 300) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(router, tt.userID, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
	if responder.calls != 0 {
		t.Errorf("responder called %d times for invalid requests", responder.calls)
	}
}

func TestHandleMessage_RateLimited(t *testing.T) {
	repo := newFakeRepo()
	repo.setLevel("u1", "beginner")
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	router := newTestRouter(t, repo, &fakeResponder{reply: conversation.Reply{Text: "ok"}}, rl, HandlerConfig{})

	if rec := postMessage(router, "u1", `{"message":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := postMessage(router, "u1", `{"message":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
}

func TestHandleHistoryAndReset(t *testing.T) {
	repo := newFakeRepo()
	repo.turns["u1"] = []domain.StoredTurn{
		{UserID: "u1", Role: "user", Content: "Hi"},
		{UserID: "u1", Role: "ia", Content: "Hello!"},
	}
	router := newTestRouter(t, repo, &fakeResponder{}, nil, HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/ai/history", nil), "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var items []HistoryItem
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []HistoryItem{{Role: "user", Content: "Hi"}, {Role: "assistant", Content: "Hello!"}}
	if len(items) != len(want) || items[0] != want[0] || items[1] != want[1] {
		t.Errorf("history = %+v, want %+v", items, want)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/ai/history", nil), "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/ai/history", nil), "u1"))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("history after reset = %s, want []", rec.Body.String())
	}
}

func TestHandleReset_ClosesOpenSockets(t *testing.T) {
	repo := newFakeRepo()
	repo.turns["u1"] = []domain.StoredTurn{{UserID: "u1", Role: "user", Content: "Hi"}}
	sm := NewSessionManager()
	mine, other := &fakeSocket{}, &fakeSocket{}
	sm.Register("u1", "tab-1", mine)
	sm.Register("u2", "tab-1", other)
	router := newTestRouterWithSessions(t, repo, &fakeResponder{}, nil, HandlerConfig{}, sm)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/ai/history", nil), "u1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"deleted":1}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if mine.closed.Load() != 1 {
		t.Error("reset user's socket should be closed")
	}
	if other.closed.Load() != 0 {
		t.Error("other user's socket should stay open")
	}
	if sm.Count() != 1 {
		t.Errorf("Count() = %d, want 1", sm.Count())
	}
}
