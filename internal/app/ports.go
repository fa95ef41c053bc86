package app

import (
	"context"

	"sats-arena/internal/domain"
)

// SessionRegistry abstracts where active sessions are claimed (in-memory, Redis, etc).
// A key is an area id for multiplayer sessions or a per-player key for solo ones.
type SessionRegistry interface {
	// Claim registers s under key unless another session already holds it.
	Claim(key string, s *Session) bool
	Get(key string) (*Session, bool)
	// Release drops the claim only if it is still held by sessionID.
	Release(key, sessionID string)
	// Keys returns the claimed keys in a stable order.
	Keys() []string
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizIDs(ctx context.Context) ([]string, error)
}

// ProfileStore persists player profiles by username. Save upserts; an empty
// PasswordHash keeps the stored one.
type ProfileStore interface {
	Load(ctx context.Context, username string) (domain.PlayerProfile, error)
	Save(ctx context.Context, profile domain.PlayerProfile) error
}

// PositionSource reports the last known position of a connected player.
type PositionSource interface {
	Position(playerID string) (domain.Vec3, bool)
}

// Notifier delivers chat lines and UI events to a single player.
type Notifier interface {
	Chat(playerID, text, color string)
	UI(playerID string, ev domain.UIEvent)
}

// Terrain toggles the presence of answer platforms in an area.
type Terrain interface {
	SetPlatforms(areaID string, present []bool)
}

// EventSink receives session lifecycle events. Implementations must not block.
type EventSink interface {
	Record(ev domain.SessionEvent)
}

// MultiSink fans an event out to every sink.
type MultiSink []EventSink

func (m MultiSink) Record(ev domain.SessionEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ev)
		}
	}
}

type nopSink struct{}

func (nopSink) Record(domain.SessionEvent) {}
