package app_test

import (
	"errors"
	"testing"
	"time"

	"sats-arena/internal/app"
	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
)

func TestCorrectPlatformCompletesQuiz(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(2))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := e.session(t, "arena")
	e.arena.Tick()
	e.expire()

	p, ok := s.Participant("p1")
	if !ok || p.Status != domain.StatusCorrect || p.Score != 1 {
		t.Fatalf("expected p1 correct with score 1, got %+v", p)
	}
	if s.Phase() != app.PhaseComplete {
		t.Fatalf("expected complete, got %s", s.Phase())
	}
	if got := e.ledger.Balance("p1"); got != 5-1+10 {
		t.Fatalf("expected balance 14, got %d", got)
	}
	if _, ok := e.store.Get("arena"); ok {
		t.Fatalf("expected area slot released")
	}
	if n := len(e.sink.ofType(domain.EventSessionCompleted)); n != 1 {
		t.Fatalf("expected one completed event, got %d", n)
	}
	if e.notify.count("p1", "Time's up - Correct!") != 1 {
		t.Fatalf("expected correct message, got %v", e.notify.chats["p1"])
	}
}

func TestWrongPlatformEliminates(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := e.session(t, "arena")
	e.arena.Tick()
	e.expire()

	if s.Phase() != app.PhaseAborted {
		t.Fatalf("expected aborted, got %s", s.Phase())
	}
	resolved := e.sink.ofType(domain.EventQuestionResolved)
	if len(resolved) != 1 || len(resolved[0].Out) != 1 || resolved[0].Out[0] != "p1" {
		t.Fatalf("expected p1 out, got %+v", resolved)
	}
	if got := e.ledger.Balance("p1"); got != 4 {
		t.Fatalf("expected balance 4, got %d", got)
	}
	if e.notify.count("p1", "Platform 1 was wrong") != 1 {
		t.Fatalf("expected wrong platform message, got %v", e.notify.chats["p1"])
	}
}

func TestNoPlatformCountsAsWrong(t *testing.T) {
	e := newEnv(t, nil)
	// In the join zone but between the platforms.
	e.join("p1", domain.Vec3{X: 0, Y: 1, Z: 7.5})

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.arena.Tick()
	e.expire()

	resolved := e.sink.ofType(domain.EventQuestionResolved)
	if len(resolved) != 1 || len(resolved[0].Out) != 1 {
		t.Fatalf("expected p1 out, got %+v", resolved)
	}
	if got := e.ledger.Balance("p1"); got != 4 {
		t.Fatalf("expected balance 4, got %d", got)
	}
	if e.notify.count("p1", "weren't on any platform") != 1 {
		t.Fatalf("expected no-platform message, got %v", e.notify.chats["p1"])
	}
}

func TestSurvivorAdvancesAlone(t *testing.T) {
	e := newEnv(t, nil)
	e.join("x", onPlatform(1))
	e.join("y", onPlatform(3))

	if err := e.arena.StartMultiplayer("arena", "quizD", "x"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := e.session(t, "arena")
	e.arena.Tick()
	e.expire()

	if s.Phase() != app.PhaseAdvancing {
		t.Fatalf("expected advancing, got %s", s.Phase())
	}
	if ids := s.Participants(); len(ids) != 1 || ids[0] != "x" {
		t.Fatalf("expected only x to remain, got %v", ids)
	}
	if layout := e.terrain.layout("arena"); len(layout) != 4 || !layout[1] || layout[0] || layout[2] || layout[3] {
		t.Fatalf("expected only platform 1 to remain, got %v", layout)
	}

	// Nothing happens before the advance delay.
	e.arena.Tick()
	if s.Phase() != app.PhaseAdvancing {
		t.Fatalf("expected still advancing, got %s", s.Phase())
	}
	e.clock.Advance(time.Second)
	e.arena.Tick()
	if s.Phase() != app.PhaseQuestionOpen || s.QuestionIndex() != 1 {
		t.Fatalf("expected question 2 open, got %s/%d", s.Phase(), s.QuestionIndex())
	}
	if layout := e.terrain.layout("arena"); !layout[0] || !layout[1] || !layout[2] || !layout[3] {
		t.Fatalf("expected platforms restored, got %v", layout)
	}

	e.positions.Set("x", onPlatform(3))
	e.positions.Set("y", onPlatform(3))
	e.arena.Tick()
	e.expire()

	if s.Phase() != app.PhaseComplete {
		t.Fatalf("expected complete, got %s", s.Phase())
	}
	if got := e.ledger.Balance("x"); got != 14 {
		t.Fatalf("expected x balance 14, got %d", got)
	}
	if got := e.ledger.Balance("y"); got != 4 {
		t.Fatalf("expected y balance 4, got %d", got)
	}
}

func TestInsufficientFundsAbortsWithoutCharging(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))
	e.ledger.Load("p1", 2)

	err := e.arena.StartMultiplayer("arena", "quizE", "p1")
	if err != domain.ErrNoEligiblePlayers {
		t.Fatalf("expected ErrNoEligiblePlayers, got %v", err)
	}
	if got := e.ledger.Balance("p1"); got != 2 {
		t.Fatalf("expected untouched balance 2, got %d", got)
	}
	if keys := e.store.Keys(); len(keys) != 0 {
		t.Fatalf("expected no session, got %v", keys)
	}
}

func TestPoorPlayerExcludedOthersJoin(t *testing.T) {
	e := newEnv(t, nil)
	e.join("rich", onPlatform(0))
	e.join("poor", onPlatform(1))
	e.ledger.Load("poor", 2)

	if err := e.arena.StartMultiplayer("arena", "quizE", "poor"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := e.session(t, "arena")
	if ids := s.Participants(); len(ids) != 1 || ids[0] != "rich" {
		t.Fatalf("expected only rich to join, got %v", ids)
	}
	if e.ledger.Balance("poor") != 2 || e.ledger.Balance("rich") != 2 {
		t.Fatalf("unexpected balances poor=%d rich=%d", e.ledger.Balance("poor"), e.ledger.Balance("rich"))
	}
}

func TestNoPlayersInZone(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != domain.ErrNoPlayersInZone {
		t.Fatalf("expected ErrNoPlayersInZone, got %v", err)
	}
	if got := e.ledger.Balance("p1"); got != 5 {
		t.Fatalf("expected balance 5, got %d", got)
	}
}

func TestAreaIsExclusive(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))
	e.join("p2", offside)

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.positions.Set("p2", onPlatform(1))
	if err := e.arena.StartMultiplayer("arena", "quizD", "p2"); err != domain.ErrAreaBusy {
		t.Fatalf("expected ErrAreaBusy, got %v", err)
	}
	if got := e.ledger.Balance("p2"); got != 5 {
		t.Fatalf("expected p2 uncharged, got %d", got)
	}
}

func TestQuestionResolvesOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(1))
	e.join("p2", onPlatform(0))

	if err := e.arena.StartMultiplayer("arena", "quizD", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.expire()
	for i := 0; i < 3; i++ {
		e.arena.Tick()
	}

	if n := len(e.sink.ofType(domain.EventQuestionResolved)); n != 1 {
		t.Fatalf("expected a single resolution, got %d", n)
	}
	if e.notify.count("p2", "failed") != 1 {
		t.Fatalf("expected one failure message, got %v", e.notify.chats["p2"])
	}
}

func TestLastSampleBeforeDeadlineWins(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.arena.Tick()
	e.clock.Advance(10 * time.Second)
	e.arena.Tick()

	// Reaches the right platform on the deadline tick.
	e.positions.Set("p1", onPlatform(2))
	e.clock.Advance(5*time.Second + time.Millisecond)
	e.arena.Tick()

	if got := e.ledger.Balance("p1"); got != 14 {
		t.Fatalf("expected late arrival to be credited, balance %d", got)
	}
}

func TestAdvisoryIsDeduplicated(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(2))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 4; i++ {
		e.arena.Tick()
	}
	if n := e.notify.count("p1", "You are ON Platform 3"); n != 1 {
		t.Fatalf("expected one ON advisory, got %d", n)
	}

	near := platformCenters[0]
	near.X += 2
	e.positions.Set("p1", near)
	e.arena.Tick()
	e.arena.Tick()
	if n := e.notify.count("p1", "You are NEAR Platform 1"); n != 1 {
		t.Fatalf("expected one NEAR advisory, got %d", n)
	}
	ev, ok := e.notify.lastUI("p1")
	if !ok || ev.RemainingTime == nil {
		t.Fatalf("expected remaining time update, got %+v", ev)
	}
}

func TestDisconnectForfeitsAndTearsDown(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(1))
	e.join("p2", onPlatform(2))

	if err := e.arena.StartMultiplayer("arena", "quizD", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := e.session(t, "arena")

	if _, save := e.arena.Disconnect("p2"); save {
		t.Fatalf("guests are not persisted")
	}
	if ids := s.Participants(); len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("expected p1 to remain, got %v", ids)
	}
	if _, ok := e.store.Get("arena"); !ok {
		t.Fatalf("session should continue for p1")
	}

	e.arena.Disconnect("p1")
	if _, ok := e.store.Get("arena"); ok {
		t.Fatalf("expected session torn down when empty")
	}
	aborted := e.sink.ofType(domain.EventSessionAborted)
	if len(aborted) != 1 || aborted[0].Reason != "last participant disconnected" {
		t.Fatalf("unexpected abort events %+v", aborted)
	}
}

func TestDisconnectReturnsProfileForAuthenticated(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)
	err := e.arena.ApplyProfile("p1", domain.PlayerProfile{Username: "alice", Balance: 20, CompletedQuizzes: []string{"quizD"}})
	if err != nil {
		t.Fatalf("apply profile: %v", err)
	}
	if err := e.arena.ApplyProfile("p1", domain.PlayerProfile{Username: "alice"}); err != domain.ErrAlreadyAuthenticated {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}

	profile, save := e.arena.Disconnect("p1")
	if !save || profile.Username != "alice" || profile.Balance != 20 {
		t.Fatalf("unexpected profile %+v save=%v", profile, save)
	}
	if len(profile.CompletedQuizzes) != 1 || profile.CompletedQuizzes[0] != "quizD" {
		t.Fatalf("expected completed quizzes kept, got %v", profile.CompletedQuizzes)
	}
}

func TestLoginRejectedDuringSession(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(2))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := e.arena.ApplyProfile("p1", domain.PlayerProfile{Username: "alice", Balance: 50})
	if err != domain.ErrAlreadyInSession {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
	if got := e.ledger.Balance("p1"); got != 4 {
		t.Fatalf("expected charged guest balance 4 kept, got %d", got)
	}
	if name, _ := e.arena.Username("p1"); name != "" {
		t.Fatalf("expected p1 to stay a guest, got %q", name)
	}

	e.arena.Tick()
	e.expire()
	if err := e.arena.ApplyProfile("p1", domain.PlayerProfile{Username: "alice", Balance: 50}); err != nil {
		t.Fatalf("expected login after the quiz, got %v", err)
	}
}

func TestSetCatalogGuardsNPCRefs(t *testing.T) {
	e := newEnv(t, nil)

	missing, err := app.NewCatalog(testQuizzes()[1:], testLessons())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := e.arena.SetCatalog(missing); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound for dropped npc quiz, got %v", err)
	}

	fresh := append(testQuizzes(), domain.Quiz{
		ID: "quizF", NPCName: "QuizMind", Topic: "Fresh", Cost: 1, Reward: 10,
		Questions: []domain.Question{question("Pick a", "a", "a", "b")},
	})
	next, err := app.NewCatalog(fresh, testLessons())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := e.arena.SetCatalog(next); err != nil {
		t.Fatalf("set catalog: %v", err)
	}
	e.join("p1", onPlatform(0))
	if err := e.arena.StartMultiplayer("arena", "quizF", "p1"); err != nil {
		t.Fatalf("expected reloaded quiz to start, got %v", err)
	}
}

func TestTooManyAnswersAbortsSession(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))

	if err := e.arena.StartMultiplayer("arena", "quizWide", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if keys := e.store.Keys(); len(keys) != 0 {
		t.Fatalf("expected session aborted, got %v", keys)
	}
	aborted := e.sink.ofType(domain.EventSessionAborted)
	if len(aborted) != 1 || aborted[0].Reason != domain.ErrTooManyAnswers.Error() {
		t.Fatalf("unexpected abort events %+v", aborted)
	}
	// Entry cost is sunk.
	if got := e.ledger.Balance("p1"); got != 4 {
		t.Fatalf("expected balance 4, got %d", got)
	}
}

func TestSessionDeadlineAborts(t *testing.T) {
	e := newEnv(t, func(o *app.ArenaOptions) {
		o.Rules.QuestionDuration = time.Minute
		o.Rules.MaxSessionDuration = 20 * time.Second
	})
	e.join("p1", onPlatform(2))

	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.clock.Advance(21 * time.Second)
	e.arena.Tick()

	if _, ok := e.store.Get("arena"); ok {
		t.Fatalf("expected session aborted by deadline")
	}
	aborted := e.sink.ofType(domain.EventSessionAborted)
	if len(aborted) != 1 || aborted[0].Reason != "session deadline exceeded" {
		t.Fatalf("unexpected abort events %+v", aborted)
	}
}

func TestSoloQuiz(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)

	if err := e.arena.StartSolo("quizD", "p1"); err != nil {
		t.Fatalf("start solo: %v", err)
	}
	if err := e.arena.StartSolo("quizA", "p1"); err != domain.ErrAlreadyInSession {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
	if err := e.arena.Answer("p1", 9); err != domain.ErrInvalidChoice {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
	if err := e.arena.Answer("p1", 2); err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	s := e.session(t, "solo:p1")
	if s.QuestionIndex() != 1 || s.Phase() != app.PhaseQuestionOpen {
		t.Fatalf("expected second question open, got %s/%d", s.Phase(), s.QuestionIndex())
	}
	if err := e.arena.Answer("p1", 4); err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if got := e.ledger.Balance("p1"); got != 14 {
		t.Fatalf("expected balance 14, got %d", got)
	}
	if _, ok := e.store.Get("solo:p1"); ok {
		t.Fatalf("expected solo session released")
	}
}

func TestSoloTimeout(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)

	if err := e.arena.StartSolo("quizA", "p1"); err != nil {
		t.Fatalf("start solo: %v", err)
	}
	e.clock.Advance(app.DefaultRules().SoloQuestionDuration + time.Millisecond)
	e.arena.Tick()

	if _, ok := e.store.Get("solo:p1"); ok {
		t.Fatalf("expected solo session released")
	}
	if e.notify.count("p1", "Time's up! The correct answer was: c") != 1 {
		t.Fatalf("expected timeout message, got %v", e.notify.chats["p1"])
	}
}

func TestAnswerOutsideSoloIsRejected(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(0))

	if err := e.arena.Answer("p1", 1); err != domain.ErrNotInSession {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
	if err := e.arena.StartMultiplayer("arena", "quizA", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.arena.Answer("p1", 1); err != domain.ErrNotInSession {
		t.Fatalf("expected ErrNotInSession in multiplayer, got %v", err)
	}
	if e.notify.count("p1", "Stand on the platform") != 1 {
		t.Fatalf("expected platform hint, got %v", e.notify.chats["p1"])
	}
}

func TestLessonRewardedOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)

	e.arena.OnEnter("p1", "npc-lesson")
	e.arena.OnExit("p1", "npc-lesson")
	e.arena.OnEnter("p1", "npc-lesson")

	if got := e.ledger.Balance("p1"); got != 6 {
		t.Fatalf("expected single lesson reward, balance %d", got)
	}
	ev, _ := e.notify.lastUI("p1")
	if ev.Type != app.UIShowKnowledge || ev.Text != "Welcome" {
		t.Fatalf("expected knowledge panel, got %+v", ev)
	}
	e.arena.OnExit("p1", "npc-lesson")
	if ev, _ := e.notify.lastUI("p1"); ev.Type != app.UIHideKnowledge {
		t.Fatalf("expected hide knowledge, got %+v", ev)
	}
}

func TestQuizPromptBlockedWhileBusy(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", offside)
	e.join("p2", onPlatform(0))

	e.arena.OnEnter("p1", "npc-quiz")
	if ev, _ := e.notify.lastUI("p1"); ev.Type != app.UIShowQuizPrompt || ev.QuizID != "quizA" || ev.Cost != 1 {
		t.Fatalf("expected quiz prompt, got %+v", ev)
	}
	e.arena.OnExit("p1", "npc-quiz")

	if err := e.arena.StartMultiplayer("arena", "quizA", "p2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.arena.OnEnter("p1", "npc-quiz")
	if e.notify.count("p1", "already in progress") != 1 {
		t.Fatalf("expected busy message, got %v", e.notify.chats["p1"])
	}
}

func TestScoreboards(t *testing.T) {
	e := newEnv(t, nil)
	e.join("p1", onPlatform(1))
	e.join("p2", onPlatform(1))

	if err := e.arena.StartMultiplayer("arena", "quizD", "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.arena.Tick()
	e.expire()

	boards := e.arena.Scoreboards()
	if len(boards) != 1 || boards[0].AreaID != "arena" || len(boards[0].Entries) != 2 {
		t.Fatalf("unexpected scoreboards %+v", boards)
	}
	for _, entry := range boards[0].Entries {
		if entry.Score != 1 {
			t.Fatalf("expected score 1, got %+v", entry)
		}
	}
	if boards[0].Entries[0].PlayerID != "p1" {
		t.Fatalf("expected tie broken by id, got %+v", boards[0].Entries)
	}
}

func TestNewArenaRejectsUnknownNPCRef(t *testing.T) {
	catalog, _ := app.NewCatalog(testQuizzes(), nil)
	_, err := app.NewArena(app.ArenaOptions{
		Catalog:   catalog,
		Areas:     []app.Area{{ID: "arena", Platforms: testPlatformMap(t)}},
		NPCs:      []app.NPC{{ID: "n", Kind: app.NPCLesson, Ref: "missing", Radius: 1}},
		Sessions:  memory.NewSessionStore(),
		Positions: &fakePositions{},
		Notifier:  newFakeNotifier(),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}
