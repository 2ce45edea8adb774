package conversation

import (
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/ashureev/tutor-ai/internal/prompts"
)

// Outcome classifies an interpreted reply.
type Outcome string

const (
	// OutcomeText is generated model text.
	OutcomeText Outcome = "text"
	// OutcomeSafetyBlocked means the model's answer was withheld by safety filters.
	OutcomeSafetyBlocked Outcome = "safety_blocked"
	// OutcomePromptBlocked means the learner's prompt itself was rejected.
	OutcomePromptBlocked Outcome = "prompt_blocked"
)

// Reply is the text returned to the learner.
type Reply struct {
	Text    string
	Outcome Outcome
}

// Blocked reports whether the reply is a fixed safety fallback.
func (r Reply) Blocked() bool {
	return r.Outcome == OutcomeSafetyBlocked || r.Outcome == OutcomePromptBlocked
}

const (
	textPath         = "candidates.0.content.parts.0.text"
	finishReasonPath = "candidates.0.finishReason"
	blockReasonPath  = "promptFeedback.blockReason"

	finishReasonSafety = "SAFETY"
)

// Interpreter extracts replies from raw generateContent responses.
type Interpreter struct {
	messages prompts.Messages
	logger   *slog.Logger
}

// NewInterpreter creates an interpreter whose fallbacks come from catalog.
func NewInterpreter(catalog *prompts.Catalog, logger *slog.Logger) *Interpreter {
	if catalog == nil {
		catalog = prompts.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{messages: catalog.Messages, logger: logger}
}

var defaultInterpreter = NewInterpreter(nil, nil)

// Interpret classifies raw using the default catalog fallbacks.
func Interpret(raw []byte) (Reply, error) {
	return defaultInterpreter.Interpret(raw)
}

// Interpret returns the generated text verbatim, a fixed fallback for
// safety blocks, or ErrUpstreamContractViolation.
func (in *Interpreter) Interpret(raw []byte) (Reply, error) {
	if !gjson.ValidBytes(raw) {
		return Reply{}, fmt.Errorf("%w: response is not valid JSON", ErrUpstreamContractViolation)
	}

	if text := gjson.GetBytes(raw, textPath); text.Exists() {
		return Reply{Text: text.String(), Outcome: OutcomeText}, nil
	}

	if gjson.GetBytes(raw, finishReasonPath).String() == finishReasonSafety {
		in.logger.Warn("model response blocked by safety filters")
		return Reply{Text: in.messages.SafetyBlock, Outcome: OutcomeSafetyBlocked}, nil
	}

	if reason := gjson.GetBytes(raw, blockReasonPath); reason.Exists() {
		in.logger.Warn("prompt blocked by safety filters", "block_reason", reason.String())
		return Reply{Text: in.messages.PromptBlock, Outcome: OutcomePromptBlocked}, nil
	}

	in.logger.Error("no text in model response", "body", truncate(string(raw), 1000))
	return Reply{}, fmt.Errorf("%w: no text at %s", ErrUpstreamContractViolation, textPath)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
