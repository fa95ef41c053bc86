package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"sats-arena/internal/domain"
)

// Service is the entry point for transports. Game state changes are forwarded
// to the scheduler; profile I/O runs on the caller's goroutine.
type Service struct {
	scheduler *Scheduler
	profiles  *Profiles
	catalog   atomic.Pointer[Catalog]
	source    *CatalogSource
	reloadMu  sync.Mutex
	notify    Notifier
	logger    *slog.Logger
}

// ErrNoCatalogSource is returned by ReloadCatalog when no source was configured.
var ErrNoCatalogSource = errors.New("catalog reload not configured")

func NewService(scheduler *Scheduler, profiles *Profiles, notify Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if profiles != nil {
		scheduler.OnDisconnect = profiles.SaveAsync
	}
	s := &Service{
		scheduler: scheduler,
		profiles:  profiles,
		notify:    notify,
		logger:    logger,
	}
	s.catalog.Store(scheduler.arena.Catalog())
	return s
}

// WithCatalogSource enables ReloadCatalog.
func (s *Service) WithCatalogSource(src CatalogSource) *Service {
	s.source = &src
	return s
}

// Catalog returns the current quizzes and lessons.
func (s *Service) Catalog() *Catalog { return s.catalog.Load() }

// ReloadCatalog rebuilds the catalog from its source and hands it to the arena.
// With invalidate set, cached quizzes are dropped first so the backing store is
// read again. It returns the number of quizzes served.
func (s *Service) ReloadCatalog(ctx context.Context, invalidate bool) (int, error) {
	if s.source == nil {
		return 0, ErrNoCatalogSource
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if invalidate {
		current := s.Catalog().Quizzes()
		ids := make([]string, len(current))
		for i, q := range current {
			ids[i] = q.ID
		}
		if err := s.source.Invalidate(ctx, ids); err != nil {
			return 0, err
		}
	}
	c, err := s.source.Load(ctx)
	if err != nil {
		return 0, err
	}
	var setErr error
	if err := s.scheduler.Query(ctx, func(a *Arena) { setErr = a.SetCatalog(c) }); err != nil {
		return 0, err
	}
	if setErr != nil {
		return 0, setErr
	}
	s.catalog.Store(c)
	s.logger.Info("catalog reloaded", "quizzes", len(c.Quizzes()), "invalidated", invalidate)
	return len(c.Quizzes()), nil
}

// PlayerConnected registers a new guest.
func (s *Service) PlayerConnected(ctx context.Context, playerID, name string) error {
	return s.scheduler.Send(ctx, Connect{PlayerID: playerID, Name: name})
}

// PlayerDisconnected forfeits the player's session and persists their profile.
func (s *Service) PlayerDisconnected(ctx context.Context, playerID string) error {
	return s.scheduler.Send(ctx, Disconnect{PlayerID: playerID})
}

// RequestSession starts a multiplayer quiz in areaID. An empty areaID picks the
// area the player stands in; an empty quizRef picks a random quiz.
func (s *Service) RequestSession(ctx context.Context, areaID, quizRef, playerID string) error {
	return s.scheduler.Call(ctx, func(reply chan error) any {
		return StartQuiz{AreaID: areaID, QuizRef: quizRef, PlayerID: playerID, Reply: reply}
	})
}

// RequestSolo starts a private quiz answered with numbered commands.
func (s *Service) RequestSolo(ctx context.Context, quizRef, playerID string) error {
	return s.scheduler.Call(ctx, func(reply chan error) any {
		return StartSolo{QuizRef: quizRef, PlayerID: playerID, Reply: reply}
	})
}

// Answer submits a solo answer.
func (s *Service) Answer(ctx context.Context, playerID string, choice int) error {
	return s.scheduler.Call(ctx, func(reply chan error) any {
		return SubmitAnswer{PlayerID: playerID, Choice: choice, Reply: reply}
	})
}

// Balance returns the player's balance.
func (s *Service) Balance(ctx context.Context, playerID string) (int, error) {
	var (
		balance int
		err     error
	)
	if qerr := s.scheduler.Query(ctx, func(a *Arena) { balance, err = a.Balance(playerID) }); qerr != nil {
		return 0, qerr
	}
	return balance, err
}

// Scoreboards returns a snapshot of every active multiplayer session.
func (s *Service) Scoreboards(ctx context.Context) ([]domain.Scoreboard, error) {
	var boards []domain.Scoreboard
	if err := s.scheduler.Query(ctx, func(a *Arena) { boards = a.Scoreboards() }); err != nil {
		return nil, err
	}
	return boards, nil
}

// Login authenticates a connected guest and loads their profile.
func (s *Service) Login(ctx context.Context, playerID, username, password string) error {
	if err := s.ensureGuest(ctx, playerID); err != nil {
		return err
	}
	profile, created, err := s.profiles.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if created {
		s.notify.Chat(playerID, "New profile created.", ColorHint)
	}
	return s.scheduler.Call(ctx, func(reply chan error) any {
		return ApplyProfile{PlayerID: playerID, Profile: profile, Reply: reply}
	})
}

// Register creates a password-protected profile and logs the player into it.
func (s *Service) Register(ctx context.Context, playerID, username, password string) error {
	if err := s.ensureGuest(ctx, playerID); err != nil {
		return err
	}
	profile, err := s.profiles.Register(ctx, username, password)
	if err != nil {
		return err
	}
	return s.scheduler.Call(ctx, func(reply chan error) any {
		return ApplyProfile{PlayerID: playerID, Profile: profile, Reply: reply}
	})
}

func (s *Service) ensureGuest(ctx context.Context, playerID string) error {
	var err error
	if qerr := s.scheduler.Query(ctx, func(a *Arena) { err = a.CanAuthenticate(playerID) }); qerr != nil {
		return qerr
	}
	return err
}

// AreaStatus describes an area and the multiplayer session running in it.
type AreaStatus struct {
	ID      string             `json:"id"`
	Session *domain.Scoreboard `json:"session,omitempty"`
}

// Areas lists every configured area in order.
func (s *Service) Areas(ctx context.Context) ([]AreaStatus, error) {
	var out []AreaStatus
	err := s.scheduler.Query(ctx, func(a *Arena) {
		boards := make(map[string]domain.Scoreboard)
		for _, b := range a.Scoreboards() {
			boards[b.AreaID] = b
		}
		for _, id := range a.AreaIDs() {
			st := AreaStatus{ID: id}
			if b, ok := boards[id]; ok {
				st.Session = &b
			}
			out = append(out, st)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
