// Package domain contains core domain types for the tutor application.
package domain

import (
	"strings"
	"time"
)

// Profile holds a learner's tutoring preferences.
type Profile struct {
	UserID       string    `json:"user_id"`
	EnglishLevel string    `json:"englishLevel"`
	LearningGoal string    `json:"learningGoal"`
	MusicGenres  []string  `json:"musicGenres"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasLevel reports whether the profile carries a non-blank proficiency level.
func (p *Profile) HasLevel() bool {
	return p != nil && strings.TrimSpace(p.EnglishLevel) != ""
}
