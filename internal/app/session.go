package app

import (
	"sort"
	"sync"
	"time"

	"sats-arena/internal/domain"
)

// Phase is the lifecycle state of a session.
type Phase int

const (
	PhaseAwaitingFirstQuestion Phase = iota
	PhaseQuestionOpen
	PhaseQuestionResolving
	PhaseAdvancing
	PhaseComplete
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingFirstQuestion:
		return "awaiting_first_question"
	case PhaseQuestionOpen:
		return "question_open"
	case PhaseQuestionResolving:
		return "question_resolving"
	case PhaseAdvancing:
		return "advancing"
	case PhaseComplete:
		return "complete"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Mode selects how answers are submitted.
type Mode int

const (
	// ModeMultiplayer sessions are answered by standing on platforms.
	ModeMultiplayer Mode = iota
	// ModeSolo sessions are answered with a numbered chat command.
	ModeSolo
)

// Outcome is what happens to a session after a question is resolved.
type Outcome int

const (
	OutcomeNext Outcome = iota
	OutcomeComplete
	OutcomeAborted
)

// Elimination records a participant that lost on a question.
type Elimination struct {
	PlayerID string
	Platform int
}

// Resolution summarizes one resolved question.
type Resolution struct {
	QuestionIndex int
	CorrectIndex  int
	Question      domain.Question
	Correct       []string
	Out           []Elimination
	Outcome       Outcome
}

// Advisory is a de-duplicated proximity hint for a participant.
type Advisory struct {
	Platform int
	On       bool
}

// Session owns one in-progress quiz attempt.
type Session struct {
	id            string
	areaID        string
	mode          Mode
	quiz          domain.Quiz
	platformCount int
	createdAt     time.Time
	now           func() time.Time

	mu             sync.RWMutex
	phase          Phase
	questionIndex  int
	questionStart  time.Time
	nextQuestionAt time.Time
	resolved       bool
	participants   map[string]*domain.Participant
	order          []string
	advisories     map[string]Advisory
}

// NewSession is exported for infrastructure layers and tests.
func NewSession(id, areaID string, mode Mode, quiz domain.Quiz, platformCount int) *Session {
	return newSession(id, areaID, mode, quiz, platformCount, time.Now)
}

// NewSessionWithClock is test-only for deterministic timestamps.
func NewSessionWithClock(id, areaID string, mode Mode, quiz domain.Quiz, platformCount int, now func() time.Time) *Session {
	return newSession(id, areaID, mode, quiz, platformCount, now)
}

func newSession(id, areaID string, mode Mode, quiz domain.Quiz, platformCount int, now func() time.Time) *Session {
	return &Session{
		id:            id,
		areaID:        areaID,
		mode:          mode,
		quiz:          quiz,
		platformCount: platformCount,
		createdAt:     now(),
		now:           now,
		phase:         PhaseAwaitingFirstQuestion,
		questionIndex: -1,
		participants:  make(map[string]*domain.Participant),
		advisories:    make(map[string]Advisory),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) AreaID() string { return s.areaID }

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Quiz() domain.Quiz { return s.quiz }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) QuestionIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionIndex
}

// Participant returns a copy of the participant's state.
func (s *Session) Participant(playerID string) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[playerID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Participants returns participant ids in join order.
func (s *Session) Participants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// IsEmpty reports whether the session has no participants.
func (s *Session) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants) == 0
}

func (s *Session) enroll(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[playerID]; ok {
		return
	}
	s.participants[playerID] = &domain.Participant{
		PlayerID:     playerID,
		Status:       domain.StatusPlaying,
		LastPlatform: domain.NoPlatform,
		Finalized:    true,
		LastUpdated:  s.now(),
	}
	s.order = append(s.order, playerID)
}

// remove drops a participant and reports whether the session is now empty.
func (s *Session) remove(playerID string) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed = s.removeLocked(playerID)
	return removed, len(s.participants) == 0
}

func (s *Session) removeLocked(playerID string) bool {
	if _, ok := s.participants[playerID]; !ok {
		return false
	}
	delete(s.participants, playerID)
	delete(s.advisories, playerID)
	for i, id := range s.order {
		if id == playerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// askQuestion opens question index for every remaining participant.
func (s *Session) askQuestion(index int) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.quiz.Questions) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	q := s.quiz.Questions[index]
	if s.mode == ModeMultiplayer && len(q.Answers) > s.platformCount {
		return domain.Question{}, domain.ErrTooManyAnswers
	}
	if q.CorrectIndex() < 0 {
		return domain.Question{}, domain.ErrInvalidQuestion
	}

	now := s.now()
	s.phase = PhaseQuestionOpen
	s.questionIndex = index
	s.questionStart = now
	s.nextQuestionAt = time.Time{}
	s.resolved = false
	for _, p := range s.participants {
		p.Status = domain.StatusPlaying
		p.Finalized = false
		p.LastPlatform = domain.NoPlatform
		p.LastUpdated = now
	}
	for id := range s.advisories {
		delete(s.advisories, id)
	}
	return q, nil
}

// pending returns the participants whose position is still sampled this question.
func (s *Session) pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase != PhaseQuestionOpen {
		return nil
	}
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		if p.Status == domain.StatusPlaying && !p.Finalized {
			out = append(out, id)
		}
	}
	return out
}

// sample records the platform a participant currently occupies. The last sample
// before the deadline is the one evaluated. An advisory is returned only when
// the on/near classification changed since the previous one.
func (s *Session) sample(playerID string, on, near int) (Advisory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[playerID]
	if !ok || s.phase != PhaseQuestionOpen || p.Status != domain.StatusPlaying || p.Finalized {
		return Advisory{}, false
	}
	p.LastPlatform = on

	target := near
	if on != domain.NoPlatform {
		target = on
	}
	if target == domain.NoPlatform {
		delete(s.advisories, playerID)
		return Advisory{}, false
	}
	adv := Advisory{Platform: target, On: on != domain.NoPlatform}
	if last, seen := s.advisories[playerID]; seen && last == adv {
		return Advisory{}, false
	}
	s.advisories[playerID] = adv
	return adv, true
}

// remaining returns the time left on the open question.
func (s *Session) remaining(duration time.Duration) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	left := duration - s.now().Sub(s.questionStart)
	if left < 0 {
		return 0
	}
	return left
}

// expired reports whether the open question has run past duration.
func (s *Session) expired(duration time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase == PhaseQuestionOpen && s.now().Sub(s.questionStart) > duration
}

// resolve evaluates the open question exactly once. Later calls return false.
func (s *Session) resolve() (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked()
}

func (s *Session) resolveLocked() (Resolution, bool) {
	if s.phase != PhaseQuestionOpen || s.resolved {
		return Resolution{}, false
	}
	s.resolved = true
	s.phase = PhaseQuestionResolving

	q := s.quiz.Questions[s.questionIndex]
	res := Resolution{
		QuestionIndex: s.questionIndex,
		CorrectIndex:  q.CorrectIndex(),
		Question:      q,
	}
	now := s.now()
	for _, id := range append([]string(nil), s.order...) {
		p := s.participants[id]
		if p.Status != domain.StatusPlaying {
			continue
		}
		p.Finalized = true
		p.LastUpdated = now
		if p.LastPlatform != domain.NoPlatform && p.LastPlatform == res.CorrectIndex {
			p.Status = domain.StatusCorrect
			p.Score++
			res.Correct = append(res.Correct, id)
			continue
		}
		p.Status = domain.StatusOut
		res.Out = append(res.Out, Elimination{PlayerID: id, Platform: p.LastPlatform})
		s.removeLocked(id)
	}

	switch {
	case len(res.Correct) == 0:
		res.Outcome = OutcomeAborted
		s.phase = PhaseAborted
	case s.questionIndex+1 >= len(s.quiz.Questions):
		res.Outcome = OutcomeComplete
		s.phase = PhaseComplete
	default:
		res.Outcome = OutcomeNext
		s.phase = PhaseAdvancing
		for _, id := range s.order {
			s.participants[id].Status = domain.StatusPlaying
		}
	}
	return res, true
}

// answer resolves the open question of a solo session with a 1-based choice.
func (s *Session) answer(playerID string, choice int) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[playerID]
	if !ok {
		return Resolution{}, domain.ErrParticipantNotFound
	}
	if s.phase != PhaseQuestionOpen || s.resolved || p.Finalized {
		return Resolution{}, domain.ErrNotInSession
	}
	q := s.quiz.Questions[s.questionIndex]
	if choice < 1 || choice > len(q.Answers) {
		return Resolution{}, domain.ErrInvalidChoice
	}
	p.LastPlatform = choice - 1
	res, _ := s.resolveLocked()
	return res, nil
}

// scheduleNext sets when the next question opens.
func (s *Session) scheduleNext(at time.Time) {
	s.mu.Lock()
	s.nextQuestionAt = at
	s.mu.Unlock()
}

// readyForNext reports whether an advancing session may open its next question.
func (s *Session) readyForNext() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase == PhaseAdvancing && !s.now().Before(s.nextQuestionAt)
}

func (s *Session) abort() {
	s.mu.Lock()
	s.phase = PhaseAborted
	s.mu.Unlock()
}

// overdue reports whether the session outlived its absolute deadline.
func (s *Session) overdue(max time.Duration) bool {
	if max <= 0 {
		return false
	}
	return s.now().Sub(s.createdAt) > max
}

// Snapshot returns the ordered scoreboard of the session.
func (s *Session) Snapshot() domain.Scoreboard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.ScoreboardEntry, 0, len(s.participants))
	for _, p := range s.participants {
		entries = append(entries, domain.ScoreboardEntry{
			PlayerID: p.PlayerID,
			Status:   p.Status,
			Score:    p.Score,
		})
	}
	// Score desc, then whoever reached it first, then id.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := s.participants[entries[i].PlayerID]
		pj := s.participants[entries[j].PlayerID]
		if !pi.LastUpdated.Equal(pj.LastUpdated) {
			return pi.LastUpdated.Before(pj.LastUpdated)
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})

	return domain.Scoreboard{
		AreaID:        s.areaID,
		SessionID:     s.id,
		QuizID:        s.quiz.ID,
		QuestionIndex: s.questionIndex,
		Entries:       entries,
		UpdatedAt:     s.now(),
	}
}
