package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ashureev/tutor-ai/internal/conversation"
	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/events"
)

// Repository is the persistence the chat service needs.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ListTurns(ctx context.Context, userID string, limit int) ([]domain.StoredTurn, error)
	AppendTurns(ctx context.Context, turns ...domain.StoredTurn) error
	DeleteTurns(ctx context.Context, userID string) (int64, error)
}

// Responder produces the tutor reply for one exchange.
type Responder interface {
	Handle(ctx context.Context, userID, level string, history []domain.StoredTurn, newMessage string) (conversation.Reply, error)
}

// Service loads a learner's context, asks the responder for a reply and
// records the exchange once it succeeded.
type Service struct {
	repo         Repository
	responder    Responder
	publisher    events.Publisher
	convLog      ConversationLogger
	historyLimit int
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithConversationLogger sets the conversation log sink.
func WithConversationLogger(l ConversationLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.convLog = l
		}
	}
}

// WithHistoryLimit sets how many recent turns are loaded per message.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a chat service.
func NewService(repo Repository, responder Responder, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		responder:    responder,
		publisher:    events.NopPublisher{},
		convLog:      noopConversationLogger{},
		historyLimit: conversation.DefaultHistoryWindow,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send returns the tutor's reply to message and appends the exchange to the
// user's history. Nothing is stored when the reply fails.
//
// Two concurrent Sends for the same user may interleave their pairs; each
// pair is written atomically but pairs are not serialized against each other.
func (s *Service) Send(ctx context.Context, userID, sessionID, message string) (conversation.Reply, error) {
	var (
		profile *domain.Profile
		history []domain.StoredTurn
	)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		if profile, err = s.repo.GetProfile(ctx, userID); err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		var err error
		if history, err = s.repo.ListTurns(ctx, userID, s.historyLimit); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		return nil
	})
	if err := p.Wait(); err != nil {
		return conversation.Reply{}, err
	}

	if !profile.HasLevel() {
		s.logger.Info("chat rejected, proficiency level not set", "user_id", userID)
		return conversation.Reply{}, conversation.ErrPreconditionFailed
	}
	level := profile.EnglishLevel

	s.logEvent(userID, sessionID, "outbound", "chat_user_message", message, nil)

	reply, err := s.responder.Handle(ctx, userID, level, history, message)
	if err != nil {
		return conversation.Reply{}, err
	}

	userTurn, assistantTurn := s.newPair(userID, message, reply.Text)
	if err := s.repo.AppendTurns(ctx, userTurn, assistantTurn); err != nil {
		return conversation.Reply{}, fmt.Errorf("record exchange: %w", err)
	}

	s.logEvent(userID, sessionID, "inbound", "chat_assistant_message", reply.Text, map[string]any{
		"outcome": string(reply.Outcome),
	})

	ev := events.TurnRecorded{
		UserID:          userID,
		SessionID:       sessionID,
		UserTurnID:      userTurn.ID.String(),
		AssistantTurnID: assistantTurn.ID.String(),
		Outcome:         string(reply.Outcome),
		Level:           level,
		RecordedAt:      assistantTurn.CreatedAt.UTC(),
	}
	if err := s.publisher.PublishTurnRecorded(ctx, ev); err != nil {
		s.logger.Warn("failed to publish turn event", "user_id", userID, "error", err)
	}

	return reply, nil
}

// newPair builds the stored user and assistant turns with strictly
// increasing timestamps.
func (s *Service) newPair(userID, message, replyText string) (domain.StoredTurn, domain.StoredTurn) {
	now := s.now().Truncate(time.Millisecond)
	user := domain.StoredTurn{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      domain.RoleUser.String(),
		Content:   message,
		CreatedAt: now,
	}
	assistant := domain.StoredTurn{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      domain.RoleAssistant.String(),
		Content:   replyText,
		CreatedAt: now.Add(time.Millisecond),
	}
	return user, assistant
}

// History returns the user's full conversation, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.Turn, error) {
	records, err := s.repo.ListTurns(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return conversation.NormalizeTurns(records), nil
}

// Reset deletes the user's conversation and returns how many turns were removed.
func (s *Service) Reset(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteTurns(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("reset history: %w", err)
	}
	s.logger.Info("conversation reset", "user_id", userID, "turns_deleted", n)
	return n, nil
}

// Close flushes the conversation log.
func (s *Service) Close() error {
	return s.convLog.Close()
}

func (s *Service) logEvent(userID, sessionID, direction, eventType, content string, meta map[string]any) {
	s.convLog.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}
