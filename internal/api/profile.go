package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/identity"
)

const maxProfileBodySize = 64 << 10

// ProfileStore persists learner profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, profile *domain.Profile) error
}

// ProfileRequest is the body of POST /api/profile/save.
type ProfileRequest struct {
	EnglishLevel string   `json:"englishLevel"`
	LearningGoal string   `json:"learningGoal"`
	MusicGenres  []string `json:"musicGenres"`
}

// Validate checks the request after trimming surrounding whitespace.
func (r *ProfileRequest) Validate() error {
	r.EnglishLevel = strings.TrimSpace(r.EnglishLevel)
	r.LearningGoal = strings.TrimSpace(r.LearningGoal)
	return validation.ValidateStruct(r,
		validation.Field(&r.EnglishLevel,
			validation.Required.Error("Nível de inglês é obrigatório."),
			validation.RuneLength(1, 64),
		),
		validation.Field(&r.LearningGoal,
			validation.Required.Error("Objetivo de aprendizado é obrigatório."),
			validation.RuneLength(10, 500).Error("Objetivo deve ter entre 10 e 500 caracteres."),
		),
		validation.Field(&r.MusicGenres,
			validation.Length(0, 20),
			validation.Each(validation.Required, validation.RuneLength(1, 64)),
		),
	)
}

// ProfileView is the profile shape returned to clients.
type ProfileView struct {
	EnglishLevel string   `json:"englishLevel"`
	LearningGoal string   `json:"learningGoal"`
	MusicGenres  []string `json:"musicGenres"`
}

// ProfileResponse is the body of GET /api/profile/get.
type ProfileResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Profile *ProfileView `json:"profile,omitempty"`
}

// ProfileHandler serves profile endpoints.
type ProfileHandler struct {
	store  ProfileStore
	now    func() time.Time
	logger *slog.Logger
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(store ProfileStore, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{store: store, now: time.Now, logger: logger}
}

// RegisterRoutes registers profile routes (requires authentication).
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/profile", func(r chi.Router) {
		r.Post("/save", h.Save)
		r.Get("/get", h.Get)
	})
}

// Save creates or replaces the caller's profile.
func (h *ProfileHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProfileBodySize)
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			JSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "fields": verrs})
			return
		}
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load profile", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}

	now := h.now()
	profile := &domain.Profile{
		UserID:       userID,
		EnglishLevel: req.EnglishLevel,
		LearningGoal: req.LearningGoal,
		MusicGenres:  req.MusicGenres,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
	}

	if err := h.store.UpsertProfile(r.Context(), profile); err != nil {
		h.logger.Error("failed to save profile", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}

	h.logger.Info("profile saved", "user_id", userID, "english_level", profile.EnglishLevel)
	JSON(w, http.StatusOK, map[string]string{
		"message":      "Perfil atualizado! Você está pronto para conversar!",
		"englishLevel": profile.EnglishLevel,
	})
}

// Get returns the caller's profile. A missing profile is reported with
// success=false rather than a 404.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load profile", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		JSON(w, http.StatusOK, ProfileResponse{Success: false, Message: "Perfil não encontrado."})
		return
	}

	genres := profile.MusicGenres
	if genres == nil {
		genres = []string{}
	}
	JSON(w, http.StatusOK, ProfileResponse{
		Success: true,
		Message: "Perfil carregado com sucesso.",
		Profile: &ProfileView{
			EnglishLevel: profile.EnglishLevel,
			LearningGoal: profile.LearningGoal,
			MusicGenres:  genres,
		},
	})
}
