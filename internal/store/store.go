// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ashureev/tutor-ai/internal/domain"
	"github.com/ashureev/tutor-ai/internal/shared"
)

//go:embed migrations
var migrations embed.FS

// Repository defines the interface for persisting learner profiles and
// conversation turns.
type Repository interface {
	// GetProfile retrieves a profile by user ID. It returns nil, nil when
	// the user has no profile.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// UpsertProfile creates or updates a profile.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error

	// ListTurns returns a user's turns oldest first. When limit is positive
	// only the most recent limit turns are returned.
	ListTurns(ctx context.Context, userID string, limit int) ([]domain.StoredTurn, error)

	// AppendTurns stores turns in a single transaction, in the given order.
	AppendTurns(ctx context.Context, turns ...domain.StoredTurn) error

	// DeleteTurns removes every turn for a user and returns how many were removed.
	DeleteTurns(ctx context.Context, userID string) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

func migrationsFS(dialect string) (fs.FS, error) {
	sub, err := fs.Sub(migrations, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", dialect, err)
	}
	return sub, nil
}

const (
	appendMaxRetries = 2
	appendBaseDelay  = 100 * time.Millisecond
)

// withRetry runs fn, retrying contention errors up to twice with exponential
// backoff (100ms, 200ms).
func withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(appendMaxRetries, retry.NewExponential(appendBaseDelay))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		attempt++
		err := fn()
		if shared.IsRetryableStoreError(err) {
			slog.Debug("store write contended, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
