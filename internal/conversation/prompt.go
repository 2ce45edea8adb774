package conversation

import (
	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/gemini"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

// Assembler builds generateContent requests from a learner's context.
type Assembler struct {
	catalog *prompts.Catalog
	safety  []gemini.SafetySetting
}

// NewAssembler creates an assembler using the persona from catalog.
func NewAssembler(catalog *prompts.Catalog) *Assembler {
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &Assembler{catalog: catalog, safety: gemini.DefaultSafetySettings()}
}

// Assemble returns the request for history followed by newMessage. The
// system instruction is always present and the last content is always the
// learner's new message, even when it is empty.
func (a *Assembler) Assemble(level string, history []domain.Turn, newMessage string) (*gemini.Request, error) {
	persona, err := a.catalog.Persona(level)
	if err != nil {
		return nil, err
	}

	contents := make([]gemini.Content, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, gemini.TextContent(turn.Role.WireRole(), turn.Content))
	}
	contents = append(contents, gemini.TextContent(domain.RoleUser.WireRole(), newMessage))

	safety := make([]gemini.SafetySetting, len(a.safety))
	copy(safety, a.safety)

	return &gemini.Request{
		Contents:          contents,
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: persona}}},
		SafetySettings:    safety,
	}, nil
}
