package app_test

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"sats-arena/internal/app"
	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePositions struct {
	mu sync.RWMutex
	m  map[string]domain.Vec3
}

func (p *fakePositions) Set(id string, pos domain.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]domain.Vec3)
	}
	p.m[id] = pos
}

func (p *fakePositions) Position(id string) (domain.Vec3, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.m[id]
	return pos, ok
}

type fakeNotifier struct {
	mu    sync.Mutex
	chats map[string][]string
	ui    map[string][]domain.UIEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{chats: make(map[string][]string), ui: make(map[string][]domain.UIEvent)}
}

func (n *fakeNotifier) Chat(id, text, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chats[id] = append(n.chats[id], text)
}

func (n *fakeNotifier) UI(id string, ev domain.UIEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ui[id] = append(n.ui[id], ev)
}

// count returns how many chat lines for id contain substr.
func (n *fakeNotifier) count(id, substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, line := range n.chats[id] {
		if strings.Contains(line, substr) {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) lastUI(id string) (domain.UIEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.ui[id]
	if len(evs) == 0 {
		return domain.UIEvent{}, false
	}
	return evs[len(evs)-1], true
}

type fakeTerrain struct {
	mu      sync.Mutex
	layouts map[string][]bool
}

func (t *fakeTerrain) SetPlatforms(area string, present []bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.layouts == nil {
		t.layouts = make(map[string][]bool)
	}
	t.layouts[area] = append([]bool(nil), present...)
}

func (t *fakeTerrain) layout(area string) []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.layouts[area]
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (s *recordingSink) Record(ev domain.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ofType(typ domain.SessionEventType) []domain.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SessionEvent
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reference layout: answer i is on platform i.
var platformCenters = []domain.Vec3{
	{X: -3, Y: 0.1, Z: 5},
	{X: 3, Y: 0.1, Z: 5},
	{X: -3, Y: 0.1, Z: 10},
	{X: 3, Y: 0.1, Z: 10},
}

// outside the join zone and far from every platform
var offside = domain.Vec3{X: 40, Y: 1, Z: 40}

func onPlatform(i int) domain.Vec3 {
	c := platformCenters[i]
	return domain.Vec3{X: c.X, Y: 1.5, Z: c.Z}
}

func testPlatformMap(t *testing.T) *app.PlatformMap {
	t.Helper()
	labels := []string{"(Front-Right)", "(Front-Left)", "(Back-Right)", "(Back-Left)"}
	platforms := make([]domain.Platform, len(platformCenters))
	for i, c := range platformCenters {
		platforms[i] = domain.Platform{Label: labels[i], Center: c, OnRadius: 1.5, NearRadius: 2.5}
	}
	m, err := app.NewPlatformMap(platforms, domain.Box{
		Min: domain.Vec3{X: -6, Y: -1, Z: 2},
		Max: domain.Vec3{X: 6, Y: 5, Z: 13},
	})
	if err != nil {
		t.Fatalf("platform map: %v", err)
	}
	return m
}

func question(prompt, correct string, answers ...string) domain.Question {
	return domain.Question{Prompt: prompt, Answers: answers, Correct: correct}
}

func testQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			ID: "quizA", NPCName: "QuizMind", Topic: "Single", Cost: 1, Reward: 10,
			Questions: []domain.Question{
				question("Pick c", "c", "a", "b", "c", "d"),
			},
		},
		{
			ID: "quizD", NPCName: "QuizMind", Topic: "Double", Cost: 1, Reward: 10,
			Questions: []domain.Question{
				question("Pick b", "b", "a", "b", "c", "d"),
				question("Pick d", "d", "a", "b", "c", "d"),
			},
		},
		{
			ID: "quizE", NPCName: "QuizMind", Topic: "Pricey", Cost: 3, Reward: 10,
			Questions: []domain.Question{
				question("Pick a", "a", "a", "b"),
			},
		},
		{
			ID: "quizWide", NPCName: "QuizMind", Topic: "Too wide", Cost: 1, Reward: 10,
			Questions: []domain.Question{
				question("Pick e", "e", "a", "b", "c", "d", "e"),
			},
		},
	}
}

func testLessons() []domain.Lesson {
	return []domain.Lesson{{ID: "lesson0", NPCName: "InfoBot00", Text: "Welcome", Reward: 1}}
}

type env struct {
	arena     *app.Arena
	store     *memory.SessionStore
	ledger    *app.Ledger
	positions *fakePositions
	notify    *fakeNotifier
	terrain   *fakeTerrain
	sink      *recordingSink
	clock     *fakeClock
}

func newEnv(t *testing.T, mutate func(*app.ArenaOptions)) *env {
	t.Helper()
	catalog, err := app.NewCatalog(testQuizzes(), testLessons())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e := &env{
		store:     memory.NewSessionStore(),
		ledger:    app.NewLedger(app.DefaultStartingBalance),
		positions: &fakePositions{},
		notify:    newFakeNotifier(),
		terrain:   &fakeTerrain{},
		sink:      &recordingSink{},
		clock:     newFakeClock(),
	}
	ids := 0
	opts := app.ArenaOptions{
		Rules:     app.DefaultRules(),
		Catalog:   catalog,
		Areas:     []app.Area{{ID: "arena", Platforms: testPlatformMap(t)}},
		NPCs: []app.NPC{
			{ID: "npc-quiz", Kind: app.NPCQuiz, Ref: "quizA", AreaID: "arena", Position: domain.Vec3{X: 0, Y: 1.65, Z: 5}, Radius: 1.5},
			{ID: "npc-lesson", Kind: app.NPCLesson, Ref: "lesson0", Position: domain.Vec3{X: -0.5, Y: 1.65, Z: 16.5}, Radius: 1.5},
		},
		Sessions:  e.store,
		Ledger:    e.ledger,
		Positions: e.positions,
		Notifier:  e.notify,
		Terrain:   e.terrain,
		Events:    e.sink,
		Clock:     e.clock.Now,
		IDs: func() string {
			ids++
			return "session-" + string(rune('0'+ids))
		},
		Rand: rand.New(rand.NewSource(1)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	arena, err := app.NewArena(opts)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	e.arena = arena
	return e
}

// join connects a player and places them at pos.
func (e *env) join(id string, pos domain.Vec3) {
	e.arena.Connect(id, id)
	e.positions.Set(id, pos)
}

// expire moves the clock past the question deadline and ticks once.
func (e *env) expire() {
	e.clock.Advance(app.DefaultRules().QuestionDuration + time.Millisecond)
	e.arena.Tick()
}

func (e *env) session(t *testing.T, key string) *app.Session {
	t.Helper()
	s, ok := e.store.Get(key)
	if !ok {
		t.Fatalf("expected active session under %q", key)
	}
	return s
}
