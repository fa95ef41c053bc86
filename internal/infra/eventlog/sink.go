// Package eventlog persists session lifecycle events as compressed JSON lines.
package eventlog

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"sats-arena/internal/domain"
)

// Sink implements app.EventSink. Record never blocks the caller; a background
// goroutine owns the file and events are dropped when the buffer is full.
type Sink struct {
	w      *JSONLZstdWriter
	logger *slog.Logger

	ch      chan domain.SessionEvent
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

func NewSink(dir string, buffer int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Sink{
		w:      NewJSONLZstdWriter(dir, "sessions"),
		logger: logger,
		ch:     make(chan domain.SessionEvent, buffer),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func (s *Sink) Record(ev domain.SessionEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the writer fell behind.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close flushes pending events and closes the current file.
func (s *Sink) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.w.Close()
	})
	return err
}

func (s *Sink) loop() {
	for ev := range s.ch {
		if err := s.w.Write(ev); err != nil {
			s.logger.Error("write session event", "session", ev.SessionID, "type", ev.Type, "err", err)
		}
	}
}
