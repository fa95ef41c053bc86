package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sats-arena/internal/domain"
)

// DefaultTickInterval is the period of the scheduler loop.
const DefaultTickInterval = 250 * time.Millisecond

// ErrSchedulerStopped is returned for commands sent after the loop exited.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Commands accepted on the scheduler inbox.
type (
	Connect struct {
		PlayerID string
		Name     string
	}
	Disconnect struct {
		PlayerID string
	}
	StartQuiz struct {
		AreaID   string
		QuizRef  string
		PlayerID string
		Reply    chan error
	}
	StartSolo struct {
		QuizRef  string
		PlayerID string
		Reply    chan error
	}
	SubmitAnswer struct {
		PlayerID string
		Choice   int
		Reply    chan error
	}
	ApplyProfile struct {
		PlayerID string
		Profile  domain.PlayerProfile
		Reply    chan error
	}
	query struct {
		fn   func(*Arena)
		done chan struct{}
	}
)

// Scheduler is the single goroutine that owns the Arena. Every state change,
// whether from a tick or a player command, happens inside Run.
type Scheduler struct {
	Inbox chan any

	arena    *Arena
	trigger  *Trigger
	interval time.Duration
	logger   *slog.Logger
	stopped  chan struct{}

	// OnDisconnect receives the profile of an authenticated player that left.
	// It runs on the scheduler goroutine and must not block.
	OnDisconnect func(domain.PlayerProfile)
}

func NewScheduler(arena *Arena, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Inbox:    make(chan any, 256),
		arena:    arena,
		trigger:  NewTrigger(arena.Zones()),
		interval: interval,
		logger:   logger,
		stopped:  make(chan struct{}),
	}
}

// Run processes commands and ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.Inbox:
			s.handleCommand(cmd)
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step runs one tick: NPC proximity first, then every session.
// Panics are logged so one bad session never stops the loop.
func (s *Scheduler) Step() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked", "panic", r)
		}
	}()
	s.trigger.Update(s.arena.PlayerIDs(), s.arena.positions, s.arena)
	s.arena.Tick()
}

func (s *Scheduler) handleCommand(cmd any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command panicked", "panic", r)
		}
	}()

	switch c := cmd.(type) {
	case Connect:
		s.arena.Connect(c.PlayerID, c.Name)
	case Disconnect:
		s.trigger.Forget(c.PlayerID)
		profile, save := s.arena.Disconnect(c.PlayerID)
		if save && s.OnDisconnect != nil {
			s.OnDisconnect(profile)
		}
	case StartQuiz:
		reply(c.Reply, s.arena.StartMultiplayer(c.AreaID, c.QuizRef, c.PlayerID))
	case StartSolo:
		reply(c.Reply, s.arena.StartSolo(c.QuizRef, c.PlayerID))
	case SubmitAnswer:
		reply(c.Reply, s.arena.Answer(c.PlayerID, c.Choice))
	case ApplyProfile:
		reply(c.Reply, s.arena.ApplyProfile(c.PlayerID, c.Profile))
	case query:
		defer close(c.done)
		c.fn(s.arena)
	default:
		s.logger.Warn("unknown scheduler command", "type", fmt.Sprintf("%T", cmd))
	}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Send enqueues a command without waiting for it to run.
func (s *Scheduler) Send(ctx context.Context, cmd any) error {
	select {
	case s.Inbox <- cmd:
		return nil
	case <-s.stopped:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call enqueues a command built around a reply channel and waits for its result.
func (s *Scheduler) Call(ctx context.Context, build func(chan error) any) error {
	ch := make(chan error, 1)
	if err := s.Send(ctx, build(ch)); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-s.stopped:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs fn on the scheduler goroutine and waits for it.
func (s *Scheduler) Query(ctx context.Context, fn func(*Arena)) error {
	q := query{fn: fn, done: make(chan struct{})}
	if err := s.Send(ctx, q); err != nil {
		return err
	}
	select {
	case <-q.done:
		return nil
	case <-s.stopped:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
