package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/identity"
)

type fakeRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	pingErr  error
	getErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[string]*domain.Profile)}
}

func (f *fakeRepo) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p := f.profiles[userID]
	if p == nil {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (f *fakeRepo) UpsertProfile(_ context.Context, p *domain.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *p
	f.profiles[p.UserID] = &copy
	return nil
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func newProfileRouter(repo *fakeRepo) http.Handler {
	r := chi.NewRouter()
	NewProfileHandler(repo, nil).RegisterRoutes(r)
	return r
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(identity.WithUser(req.Context(), userID, "tab-1"))
}

func TestProfileSaveAndGet(t *testing.T) {
	repo := newFakeRepo()
	router := newProfileRouter(repo)

	body := `{"englishLevel":" intermediate ","learningGoal":"talk about music with friends","musicGenres":["rock","mpb"]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/profile/save", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", rec.Code, rec.Body.String())
	}
	stored := repo.profiles["user-1"]
	if stored == nil || stored.EnglishLevel != "intermediate" {
		t.Fatalf("stored profile = %+v, want trimmed level", stored)
	}

	req = authed(httptest.NewRequest(http.MethodGet, "/api/profile/get", nil), "user-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got ProfileResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || got.Profile == nil {
		t.Fatalf("get response = %+v", got)
	}
	if got.Profile.LearningGoal != "talk about music with friends" || len(got.Profile.MusicGenres) != 2 {
		t.Errorf("profile = %+v", got.Profile)
	}
}

func TestProfileSaveKeepsCreatedAt(t *testing.T) {
	repo := newFakeRepo()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.profiles["user-1"] = &domain.Profile{UserID: "user-1", EnglishLevel: "beginner", CreatedAt: created, UpdatedAt: created}
	router := newProfileRouter(repo)

	body := `{"englishLevel":"advanced","learningGoal":"prepare for job interviews"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/profile/save", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	p := repo.profiles["user-1"]
	if !p.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, created)
	}
	if !p.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt = %v, want after %v", p.UpdatedAt, created)
	}
}

func TestProfileSaveValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing level", `{"learningGoal":"long enough goal"}`, "englishLevel"},
		{"blank level", `{"englishLevel":"   ","learningGoal":"long enough goal"}`, "englishLevel"},
		{"short goal", `{"englishLevel":"beginner","learningGoal":"short"}`, "learningGoal"},
		{"long goal", `{"englishLevel":"beginner","learningGoal":"` + strings.Repeat("a", 501) + `"}`, "learningGoal"},
		{"empty genre", `{"englishLevel":"beginner","learningGoal":"long enough goal","musicGenres":[""]}`, "musicGenres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			router := newProfileRouter(repo)
			req := authed(httptest.NewRequest(http.MethodPost, "/api/profile/save", strings.NewReader(tt.body)), "user-1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var got map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			fields, _ := got["fields"].(map[string]interface{})
			if _, ok := fields[tt.field]; !ok {
				t.Errorf("fields = %v, want entry for %s", fields, tt.field)
			}
			if len(repo.profiles) != 0 {
				t.Error("invalid profile must not be stored")
			}
		})
	}
}

func TestProfileGetMissing(t *testing.T) {
	router := newProfileRouter(newFakeRepo())
	req := authed(httptest.NewRequest(http.MethodGet, "/api/profile/get", nil), "nobody")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got ProfileResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Success || got.Profile != nil {
		t.Errorf("response = %+v, want success=false without profile", got)
	}
}

func TestProfileUnauthorized(t *testing.T) {
	router := newProfileRouter(newFakeRepo())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile/get", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProfileStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("db down")
	router := newProfileRouter(repo)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/profile/get", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("internal error detail leaked to client")
	}
}

func TestHealth(t *testing.T) {
	repo := newFakeRepo()
	h := NewHealthHandler(repo, time.Second)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	repo.pingErr = errors.New("unreachable")
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type fakeBroker struct{ up bool }

func (f *fakeBroker) Connected() bool { return f.up }

func TestHealthReportsEvents(t *testing.T) {
	broker := &fakeBroker{up: true}
	h := NewHealthHandler(newFakeRepo(), time.Second).WithEvents(broker)

	check := func() (int, map[string]any) {
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		var body map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return rec.Code, body
	}

	code, body := check()
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("connected: code = %d, status = %v", code, body["status"])
	}
	if checks, _ := body["checks"].(map[string]any); checks["events"] != "ok" {
		t.Errorf("events check = %v, want ok", checks["events"])
	}

	broker.up = false
	code, body = check()
	if code != http.StatusOK {
		t.Errorf("disconnected broker must not fail readiness, code = %d", code)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	if checks, _ := body["checks"].(map[string]any); checks["events"] != "disconnected" {
		t.Errorf("events check = %v, want disconnected", checks["events"])
	}
}
