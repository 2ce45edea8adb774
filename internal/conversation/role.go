package conversation

import (
	"strings"

	"github.com/ashureev/tutor-ai/internal/domain"
)

// assistantLabels are the stored role labels that denote tutor output.
// Anything else is treated as the learner so that unknown labels are never
// replayed as the model's own words.
var assistantLabels = map[string]struct{}{
	"ia":        {},
	"model":     {},
	"assistant": {},
}

// NormalizeRole maps a free-form role label to a Role. Matching is
// case-insensitive.
func NormalizeRole(label string) domain.Role {
	if _, ok := assistantLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return domain.RoleAssistant
	}
	return domain.RoleUser
}

// NormalizeTurns converts stored records into turns, preserving order.
func NormalizeTurns(records []domain.StoredTurn) []domain.Turn {
	turns := make([]domain.Turn, len(records))
	for i, r := range records {
		turns[i] = domain.Turn{Role: NormalizeRole(r.Role), Content: r.Content}
	}
	return turns
}
