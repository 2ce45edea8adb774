package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ashureev/tutor-ai/internal/domain"
)

// PostgresStore implements Repository using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and applies migrations.
func NewPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute

	// PgBouncer in transaction mode rejects prepared statements.
	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "postgres")
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile retrieves a profile by user ID.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT user_id, english_level, learning_goal, music_genres, created_at, updated_at
		FROM profiles WHERE user_id = $1`

	var p domain.Profile
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.EnglishLevel, &p.LearningGoal, &p.MusicGenres, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile creates or updates a profile.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	query := `
		INSERT INTO profiles (user_id, english_level, learning_goal, music_genres, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			english_level = EXCLUDED.english_level,
			learning_goal = EXCLUDED.learning_goal,
			music_genres = EXCLUDED.music_genres,
			updated_at = EXCLUDED.updated_at`

	genres := p.MusicGenres
	if genres == nil {
		genres = []string{}
	}

	if _, err := s.pool.Exec(ctx, query,
		p.UserID, p.EnglishLevel, p.LearningGoal, genres, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ListTurns returns a user's turns oldest first.
func (s *PostgresStore) ListTurns(ctx context.Context, userID string, limit int) ([]domain.StoredTurn, error) {
	query := `
		SELECT id, user_id, role, content, created_at FROM (
			SELECT seq, id, user_id, role, content, created_at
			FROM turns WHERE user_id = $1
			ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`

	// LIMIT NULL is unbounded.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StoredTurn, error) {
		var t domain.StoredTurn
		err := row.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect turns: %w", err)
	}
	return turns, nil
}

// AppendTurns stores turns in one transaction. Serialization failures are
// retried with exponential backoff.
func (s *PostgresStore) AppendTurns(ctx context.Context, turns ...domain.StoredTurn) error {
	if len(turns) == 0 {
		return nil
	}
	return withRetry(ctx, "append turns", func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, t := range turns {
				batch.Queue(
					`INSERT INTO turns (id, user_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
					t.ID, t.UserID, t.Role, t.Content, t.CreatedAt,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert turns: %w", err)
			}
			return nil
		})
	})
}

// DeleteTurns removes every turn for a user.
func (s *PostgresStore) DeleteTurns(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM turns WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete turns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
