package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"sats-arena/internal/domain"
)

// ProfileStore keeps player profiles in a single SQLite file.
// Completed lesson and quiz ids are stored as JSON arrays.
type ProfileStore struct {
	db *sql.DB
}

func Open(path string) (*ProfileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &ProfileStore{db: db}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS players (
	username TEXT PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0,
	completed_lessons TEXT NOT NULL DEFAULT '[]',
	completed_quizzes TEXT NOT NULL DEFAULT '[]',
	password_hash TEXT NOT NULL DEFAULT '',
	last_seen INTEGER NOT NULL DEFAULT 0
);`

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProfileStore) Close() error {
	return s.db.Close()
}

func (s *ProfileStore) Load(ctx context.Context, username string) (domain.PlayerProfile, error) {
	p := domain.PlayerProfile{Username: username}
	var (
		lessons, quizzes string
		lastSeen         int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT balance, completed_lessons, completed_quizzes, password_hash, last_seen
		FROM players WHERE username=?`, username).
		Scan(&p.Balance, &lessons, &quizzes, &p.PasswordHash, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlayerProfile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("load profile: %w", err)
	}
	if err := json.Unmarshal([]byte(lessons), &p.CompletedLessons); err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("decode lessons: %w", err)
	}
	if err := json.Unmarshal([]byte(quizzes), &p.CompletedQuizzes); err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("decode quizzes: %w", err)
	}
	if lastSeen > 0 {
		p.LastSeen = time.UnixMilli(lastSeen).UTC()
	}
	return p, nil
}

// Save upserts the profile. An empty PasswordHash keeps the stored one.
func (s *ProfileStore) Save(ctx context.Context, p domain.PlayerProfile) error {
	lessons, err := encodeIDs(p.CompletedLessons)
	if err != nil {
		return err
	}
	quizzes, err := encodeIDs(p.CompletedQuizzes)
	if err != nil {
		return err
	}
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO players
		(username, balance, completed_lessons, completed_quizzes, password_hash, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			balance=excluded.balance,
			completed_lessons=excluded.completed_lessons,
			completed_quizzes=excluded.completed_quizzes,
			password_hash=COALESCE(NULLIF(excluded.password_hash, ''), players.password_hash),
			last_seen=excluded.last_seen`,
		p.Username, p.Balance, lessons, quizzes, p.PasswordHash, lastSeen.UnixMilli())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(b), nil
}
