package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/tutor-ai/internal/conversation"
	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/events"
)

type fakeRepo struct {
	mu        sync.Mutex
	profiles  map[string]*domain.Profile
	turns     map[string][]domain.StoredTurn
	appendErr error
	listErr   error
	lastLimit int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles: make(map[string]*domain.Profile),
		turns:    make(map[string][]domain.StoredTurn),
	}
}

func (f *fakeRepo) setLevel(userID, level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = &domain.Profile{UserID: userID, EnglishLevel: level}
}

func (f *fakeRepo) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	if p == nil {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (f *fakeRepo) ListTurns(_ context.Context, userID string, limit int) ([]domain.StoredTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := f.turns[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.StoredTurn, len(all))
	copy(out, all)
	return out, nil
}

func (f *fakeRepo) AppendTurns(_ context.Context, turns ...domain.StoredTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	for _, t := range turns {
		f.turns[t.UserID] = append(f.turns[t.UserID], t)
	}
	return nil
}

func (f *fakeRepo) DeleteTurns(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.turns[userID]))
	delete(f.turns, userID)
	return n, nil
}

func (f *fakeRepo) stored(userID string) []domain.StoredTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.StoredTurn(nil), f.turns[userID]...)
}

type fakeResponder struct {
	mu       sync.Mutex
	calls    int
	lastHist []domain.StoredTurn
	lastLvl  string
	reply    conversation.Reply
	err      error
}

func (f *fakeResponder) Handle(_ context.Context, _ string, level string, history []domain.StoredTurn, _ string) (conversation.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastHist = history
	f.lastLvl = level
	if f.err != nil {
		return conversation.Reply{}, f.err
	}
	return f.reply, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.TurnRecorded
	err    error
}

func (f *fakePublisher) PublishTurnRecorded(_ context.Context, ev events.TurnRecorded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakePublisher) Close() {}

var errBoom = errors.New("boom")
