// Package conversation turns a learner's history and new message into a
// single tutor reply from the generative model.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/gemini"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

// Generator sends one generateContent request and returns the raw body.
type Generator interface {
	GenerateContent(ctx context.Context, req *gemini.Request) ([]byte, error)
}

// Service orchestrates one conversational exchange. It keeps no state
// between calls and is safe for concurrent use.
type Service struct {
	generator   Generator
	assembler   *Assembler
	interpreter *Interpreter
	window      int
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistoryWindow sets how many recent turns are sent upstream.
func WithHistoryWindow(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithCatalog sets the prompt catalog used for the persona and fallbacks.
func WithCatalog(c *prompts.Catalog) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.assembler = NewAssembler(c)
			s.interpreter = NewInterpreter(c, s.logger)
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
			s.interpreter.logger = l
		}
	}
}

// NewService creates a conversation service backed by generator.
func NewService(generator Generator, opts ...ServiceOption) *Service {
	catalog := prompts.Default()
	s := &Service{
		generator: generator,
		assembler: NewAssembler(catalog),
		window:    DefaultHistoryWindow,
		logger:    slog.Default(),
	}
	s.interpreter = NewInterpreter(catalog, s.logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the tutor's reply to newMessage. history holds stored turns
// oldest first; only the most recent window of them is sent.
func (s *Service) Handle(ctx context.Context, userID, level string, history []domain.StoredTurn, newMessage string) (Reply, error) {
	if strings.TrimSpace(level) == "" {
		return Reply{}, ErrPreconditionFailed
	}

	turns := NormalizeTurns(Window(history, s.window))

	req, err := s.assembler.Assemble(level, turns, newMessage)
	if err != nil {
		return Reply{}, fmt.Errorf("assemble request: %w", err)
	}

	start := time.Now()
	raw, err := s.generator.GenerateContent(ctx, req)
	if err != nil {
		s.logger.Error("generate content failed",
			"user_id", userID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		if errors.Is(err, gemini.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Reply{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		return Reply{}, fmt.Errorf("generate content: %w", err)
	}

	reply, err := s.interpreter.Interpret(raw)
	if err != nil {
		return Reply{}, err
	}

	s.logger.Debug("conversation turn handled",
		"user_id", userID,
		"history_turns", len(turns),
		"outcome", string(reply.Outcome))
	return reply, nil
}
