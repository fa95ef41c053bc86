package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sats-arena/internal/domain"
)

// ProfileStore persists player profiles in the players table.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

func (s *ProfileStore) Load(ctx context.Context, username string) (domain.PlayerProfile, error) {
	p := domain.PlayerProfile{Username: username}
	err := s.pool.QueryRow(ctx, `
		SELECT balance, completed_lessons, completed_quizzes, password_hash, last_seen
		FROM players WHERE username=$1`, username).
		Scan(&p.Balance, &p.CompletedLessons, &p.CompletedQuizzes, &p.PasswordHash, &p.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlayerProfile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Save upserts the profile. An empty PasswordHash keeps the stored one.
func (s *ProfileStore) Save(ctx context.Context, p domain.PlayerProfile) error {
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (username, balance, completed_lessons, completed_quizzes, password_hash, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE SET
			balance = EXCLUDED.balance,
			completed_lessons = EXCLUDED.completed_lessons,
			completed_quizzes = EXCLUDED.completed_quizzes,
			password_hash = COALESCE(NULLIF(EXCLUDED.password_hash, ''), players.password_hash),
			last_seen = EXCLUDED.last_seen`,
		p.Username, p.Balance, nonNil(p.CompletedLessons), nonNil(p.CompletedQuizzes), p.PasswordHash, lastSeen)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// nonNil keeps NOT NULL text[] columns happy.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
