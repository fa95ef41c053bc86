package memory

import (
	"context"
	"sync"

	"sats-arena/internal/domain"
)

// ProfileStore keeps profiles for the lifetime of the process.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.PlayerProfile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]domain.PlayerProfile)}
}

func (s *ProfileStore) Load(_ context.Context, username string) (domain.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[username]
	if !ok {
		return domain.PlayerProfile{}, domain.ErrProfileNotFound
	}
	return clone(p), nil
}

func (s *ProfileStore) Save(_ context.Context, profile domain.PlayerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile.PasswordHash == "" {
		profile.PasswordHash = s.profiles[profile.Username].PasswordHash
	}
	s.profiles[profile.Username] = clone(profile)
	return nil
}

func clone(p domain.PlayerProfile) domain.PlayerProfile {
	p.CompletedLessons = append([]string{}, p.CompletedLessons...)
	p.CompletedQuizzes = append([]string{}, p.CompletedQuizzes...)
	return p
}
