package app

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"sats-arena/internal/domain"
)

// Chat colors understood by the client.
const (
	ColorInfo    = "FFFFFF"
	ColorSuccess = "00FF00"
	ColorWarn    = "FFA500"
	ColorError   = "FF0000"
	ColorHint    = "ADD8E6"
	ColorBalance = "FFFF00"
	ColorNear    = "808080"
)

// UI event types.
const (
	UIQuiz            = "quiz"
	UIShowQuizPrompt  = "showQuizPrompt"
	UIHideQuizPrompt  = "hideQuizPrompt"
	UIShowKnowledge   = "showKnowledge"
	UIHideKnowledge   = "hideKnowledge"
	UIPlatformsLayout = "platforms"
)

// Rules are the timing constants of the game.
type Rules struct {
	QuestionDuration     time.Duration
	SoloQuestionDuration time.Duration
	AdvanceDelay         time.Duration
	// MaxSessionDuration aborts sessions that outlive it. Zero disables the guard.
	MaxSessionDuration time.Duration
	// HideDistance closes NPC panels once a player walks this far away.
	HideDistance float64
}

// DefaultRules mirrors the reference timings.
func DefaultRules() Rules {
	return Rules{
		QuestionDuration:     15 * time.Second,
		SoloQuestionDuration: 30 * time.Second,
		AdvanceDelay:         time.Second,
		MaxSessionDuration:   10 * time.Minute,
		HideDistance:         3,
	}
}

// Area is one world region with its own platform geometry and session slot.
type Area struct {
	ID        string
	Platforms *PlatformMap
}

// NPCKind selects what an NPC offers.
type NPCKind string

const (
	NPCLesson NPCKind = "lesson"
	NPCQuiz   NPCKind = "quiz"
)

// NPC is a proximity trigger that shows a lesson or a quiz prompt.
type NPC struct {
	ID       string
	Kind     NPCKind
	Ref      string
	AreaID   string
	Position domain.Vec3
	Radius   float64
}

type player struct {
	id         string
	name       string
	username   string
	lessons    map[string]struct{}
	quizzes    map[string]struct{}
	sessionKey string
	lesson     string
	prompt     string
}

// ArenaOptions wires an Arena. Catalog, Areas, Sessions, Positions and Notifier are required.
type ArenaOptions struct {
	Rules     Rules
	Catalog   *Catalog
	Areas     []Area
	NPCs      []NPC
	Sessions  SessionRegistry
	Ledger    *Ledger
	Positions PositionSource
	Notifier  Notifier
	Terrain   Terrain
	Events    EventSink
	Logger    *slog.Logger
	Clock     func() time.Time
	IDs       func() string
	Rand      *rand.Rand
}

// Arena coordinates players, areas and sessions. It is not safe for concurrent
// use: every method must run on the scheduler goroutine.
type Arena struct {
	rules     Rules
	catalog   *Catalog
	areas     map[string]*Area
	areaOrder []string
	npcs      map[string]NPC
	npcOrder  []string
	sessions  SessionRegistry
	ledger    *Ledger
	positions PositionSource
	notify    Notifier
	terrain   Terrain
	events    EventSink
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	rnd       *rand.Rand
	players   map[string]*player
}

func NewArena(opts ArenaOptions) (*Arena, error) {
	if opts.Catalog == nil || opts.Sessions == nil || opts.Positions == nil || opts.Notifier == nil {
		return nil, errors.New("arena: catalog, sessions, positions and notifier are required")
	}
	if len(opts.Areas) == 0 {
		return nil, errors.New("arena: at least one area is required")
	}
	def := DefaultRules()
	if opts.Rules.QuestionDuration <= 0 {
		opts.Rules.QuestionDuration = def.QuestionDuration
	}
	if opts.Rules.SoloQuestionDuration <= 0 {
		opts.Rules.SoloQuestionDuration = def.SoloQuestionDuration
	}
	if opts.Rules.AdvanceDelay < 0 {
		opts.Rules.AdvanceDelay = 0
	}
	if opts.Rules.HideDistance <= 0 {
		opts.Rules.HideDistance = def.HideDistance
	}

	a := &Arena{
		rules:     opts.Rules,
		catalog:   opts.Catalog,
		areas:     make(map[string]*Area, len(opts.Areas)),
		npcs:      make(map[string]NPC, len(opts.NPCs)),
		sessions:  opts.Sessions,
		ledger:    opts.Ledger,
		positions: opts.Positions,
		notify:    opts.Notifier,
		terrain:   opts.Terrain,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       opts.Clock,
		newID:     opts.IDs,
		rnd:       opts.Rand,
		players:   make(map[string]*player),
	}
	if a.ledger == nil {
		a.ledger = NewLedger(DefaultStartingBalance)
	}
	if a.terrain == nil {
		a.terrain = nopTerrain{}
	}
	if a.events == nil {
		a.events = nopSink{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newID == nil {
		a.newID = uuid.NewString
	}
	if a.rnd == nil {
		a.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for i := range opts.Areas {
		area := opts.Areas[i]
		if area.ID == "" || area.Platforms == nil {
			return nil, fmt.Errorf("arena: area %d needs an id and platforms", i)
		}
		if _, dup := a.areas[area.ID]; dup {
			return nil, fmt.Errorf("arena: duplicate area %q", area.ID)
		}
		a.areas[area.ID] = &area
		a.areaOrder = append(a.areaOrder, area.ID)
	}
	for _, npc := range opts.NPCs {
		if _, dup := a.npcs[npc.ID]; dup || npc.ID == "" {
			return nil, fmt.Errorf("arena: npc id %q is empty or duplicated", npc.ID)
		}
		switch npc.Kind {
		case NPCLesson:
			if _, err := a.catalog.Lesson(npc.Ref); err != nil {
				return nil, fmt.Errorf("arena: npc %s: %w", npc.ID, err)
			}
		case NPCQuiz:
			if _, err := a.catalog.Quiz(npc.Ref); err != nil {
				return nil, fmt.Errorf("arena: npc %s: %w", npc.ID, err)
			}
		default:
			return nil, fmt.Errorf("arena: npc %s has unknown kind %q", npc.ID, npc.Kind)
		}
		if npc.AreaID != "" {
			if _, ok := a.areas[npc.AreaID]; !ok {
				return nil, fmt.Errorf("arena: npc %s: %w", npc.ID, domain.ErrAreaNotFound)
			}
		}
		a.npcs[npc.ID] = npc
		a.npcOrder = append(a.npcOrder, npc.ID)
	}
	for _, id := range a.areaOrder {
		a.restorePlatforms(id)
	}
	return a, nil
}

// Catalog returns the quiz catalog the arena serves.
func (a *Arena) Catalog() *Catalog { return a.catalog }

// SetCatalog swaps in a reloaded catalog. Running sessions keep the quiz they
// started with. A catalog that drops a quiz or lesson an NPC points at is refused.
func (a *Arena) SetCatalog(c *Catalog) error {
	if c == nil {
		return errors.New("arena: nil catalog")
	}
	for _, id := range a.npcOrder {
		npc := a.npcs[id]
		var err error
		switch npc.Kind {
		case NPCLesson:
			_, err = c.Lesson(npc.Ref)
		case NPCQuiz:
			_, err = c.Quiz(npc.Ref)
		}
		if err != nil {
			return fmt.Errorf("arena: npc %s: %w", npc.ID, err)
		}
	}
	a.catalog = c
	return nil
}

// Zones returns one proximity zone per NPC.
func (a *Arena) Zones() []Zone {
	zones := make([]Zone, 0, len(a.npcOrder))
	for _, id := range a.npcOrder {
		npc := a.npcs[id]
		exit := a.rules.HideDistance
		if exit < npc.Radius {
			exit = npc.Radius
		}
		zones = append(zones, Zone{ID: npc.ID, Center: npc.Position, EnterRadius: npc.Radius, ExitRadius: exit})
	}
	return zones
}

// Connect registers a player as a guest with the starting balance.
func (a *Arena) Connect(playerID, name string) {
	if _, ok := a.players[playerID]; ok {
		return
	}
	if name == "" {
		name = playerID
	}
	a.players[playerID] = &player{
		id:      playerID,
		name:    name,
		lessons: make(map[string]struct{}),
		quizzes: make(map[string]struct{}),
	}
	a.notify.Chat(playerID, fmt.Sprintf("Welcome, %s! Type /help for commands. Balance: %d sats.", name, a.ledger.Balance(playerID)), ColorInfo)
}

// PlayerIDs returns the connected players in a stable order.
func (a *Arena) PlayerIDs() []string {
	ids := make([]string, 0, len(a.players))
	for id := range a.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Username returns the authenticated username, or "" for guests.
func (a *Arena) Username(playerID string) (string, error) {
	p, ok := a.players[playerID]
	if !ok {
		return "", domain.ErrUnknownPlayer
	}
	return p.username, nil
}

// Balance returns the player's current balance.
func (a *Arena) Balance(playerID string) (int, error) {
	if _, ok := a.players[playerID]; !ok {
		return 0, domain.ErrUnknownPlayer
	}
	return a.ledger.Balance(playerID), nil
}

// CanAuthenticate reports whether a profile may be bound to the player. Logging
// in mid-quiz would replace a balance that already paid the entry cost.
func (a *Arena) CanAuthenticate(playerID string) error {
	p, ok := a.players[playerID]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if p.username != "" {
		return domain.ErrAlreadyAuthenticated
	}
	if p.sessionKey != "" {
		return domain.ErrAlreadyInSession
	}
	return nil
}

// ApplyProfile binds a loaded profile to a connected guest.
func (a *Arena) ApplyProfile(playerID string, profile domain.PlayerProfile) error {
	if err := a.CanAuthenticate(playerID); err != nil {
		return err
	}
	p := a.players[playerID]
	p.username = profile.Username
	for _, id := range profile.CompletedLessons {
		p.lessons[id] = struct{}{}
	}
	for _, id := range profile.CompletedQuizzes {
		p.quizzes[id] = struct{}{}
	}
	a.ledger.Load(playerID, profile.Balance)
	a.notify.Chat(playerID, fmt.Sprintf("Logged in as %s. Balance: %d sats.", profile.Username, a.ledger.Balance(playerID)), ColorSuccess)
	return nil
}

// Profile returns the persistable state of an authenticated player.
func (a *Arena) Profile(playerID string) (domain.PlayerProfile, bool) {
	p, ok := a.players[playerID]
	if !ok || p.username == "" {
		return domain.PlayerProfile{}, false
	}
	return a.profileOf(p), true
}

func (a *Arena) profileOf(p *player) domain.PlayerProfile {
	return domain.PlayerProfile{
		Username:         p.username,
		Balance:          a.ledger.Balance(p.id),
		CompletedLessons: sortedKeys(p.lessons),
		CompletedQuizzes: sortedKeys(p.quizzes),
		LastSeen:         a.now(),
	}
}

// Disconnect removes the player, forfeiting any session. It returns the profile
// to persist when the player was authenticated.
func (a *Arena) Disconnect(playerID string) (domain.PlayerProfile, bool) {
	p, ok := a.players[playerID]
	if !ok {
		return domain.PlayerProfile{}, false
	}
	a.leaveSession(p, "last participant disconnected")

	var (
		profile domain.PlayerProfile
		save    bool
	)
	if p.username != "" {
		profile, save = a.profileOf(p), true
	}
	delete(a.players, playerID)
	a.ledger.Forget(playerID)
	return profile, save
}

func (a *Arena) leaveSession(p *player, reason string) {
	if p.sessionKey == "" {
		return
	}
	key := p.sessionKey
	p.sessionKey = ""
	s, ok := a.sessions.Get(key)
	if !ok {
		return
	}
	removed, empty := s.remove(p.id)
	if !removed {
		return
	}
	a.logger.Info("participant left session", "session", s.ID(), "player", p.id)
	if empty {
		a.finish(key, s, domain.EventSessionAborted, reason)
	}
}

// StartMultiplayer charges every eligible player in the area's join zone and
// opens the first question. Players are filtered before anyone is charged, so a
// start that ends with no eligible players charges nobody.
func (a *Arena) StartMultiplayer(areaID, quizRef, initiatorID string) error {
	if _, ok := a.players[initiatorID]; !ok {
		return domain.ErrUnknownPlayer
	}
	if areaID == "" {
		areaID = a.areaFor(initiatorID)
	}
	area, ok := a.areas[areaID]
	if !ok {
		return domain.ErrAreaNotFound
	}
	if _, busy := a.sessions.Get(areaID); busy {
		a.notify.Chat(initiatorID, "[Quiz Master]: A quiz is already in progress!", ColorWarn)
		return domain.ErrAreaBusy
	}
	quiz, err := a.pickQuiz(quizRef)
	if err != nil {
		a.notify.Chat(initiatorID, "[System]: Quiz not found.", ColorError)
		return err
	}
	if len(quiz.Questions) == 0 {
		a.notify.Chat(initiatorID, "[System]: That quiz has no questions.", ColorError)
		return domain.ErrQuestionNotFound
	}

	var inZone []string
	for _, id := range a.PlayerIDs() {
		if pos, ok := a.positions.Position(id); ok && area.Platforms.InJoinZone(pos) {
			inZone = append(inZone, id)
		}
	}
	if len(inZone) == 0 {
		a.notify.Chat(initiatorID, "[Quiz Master]: No players in the quiz zone!", ColorWarn)
		return domain.ErrNoPlayersInZone
	}

	eligible := make([]string, 0, len(inZone))
	for _, id := range inZone {
		p := a.players[id]
		switch {
		case p.sessionKey != "":
			a.notify.Chat(id, "[Quiz Master]: You can't join, you're already in a quiz!", ColorWarn)
		case a.ledger.Balance(id) < quiz.Cost:
			a.notify.Chat(id, fmt.Sprintf("[Quiz Master]: You don't have enough sats (%d) to join %q. Cost: %d sats.", a.ledger.Balance(id), quiz.Topic, quiz.Cost), ColorError)
		default:
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		a.notify.Chat(initiatorID, "[Quiz Master]: No eligible players could join the quiz.", ColorWarn)
		return domain.ErrNoEligiblePlayers
	}

	s := newSession(a.newID(), areaID, ModeMultiplayer, quiz, area.Platforms.Len(), a.now)
	if !a.sessions.Claim(areaID, s) {
		a.notify.Chat(initiatorID, "[Quiz Master]: A quiz is already in progress!", ColorWarn)
		return domain.ErrAreaBusy
	}
	for _, id := range eligible {
		if !a.ledger.Adjust(id, -quiz.Cost) {
			a.notify.Chat(id, "[Quiz Master]: Payment failed, you were not added to the quiz.", ColorError)
			continue
		}
		p := a.players[id]
		s.enroll(id)
		p.sessionKey = areaID
		a.closePrompt(p)
		a.notify.Chat(id, fmt.Sprintf("You joined %q. %d sats deducted. Balance: %d sats.", quiz.Topic, quiz.Cost, a.ledger.Balance(id)), ColorBalance)
	}
	if s.IsEmpty() {
		a.sessions.Release(areaID, s.ID())
		return domain.ErrNoEligiblePlayers
	}

	a.broadcast(s, fmt.Sprintf("[Quiz Master]: Starting %q for %d player(s)!", quiz.Topic, len(s.Participants())), ColorHint)
	a.logger.Info("session started", "session", s.ID(), "area", areaID, "quiz", quiz.ID, "players", len(s.Participants()))
	a.record(s, domain.EventSessionStarted, nil, nil, "")
	a.openQuestion(areaID, s, 0)
	return nil
}

// StartSolo starts a private quiz for one player, answered with Answer.
func (a *Arena) StartSolo(quizRef, playerID string) error {
	p, ok := a.players[playerID]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if p.sessionKey != "" {
		a.notify.Chat(playerID, "You are already in a quiz!", ColorWarn)
		return domain.ErrAlreadyInSession
	}
	quiz, err := a.pickQuiz(quizRef)
	if err != nil {
		a.notify.Chat(playerID, "[System]: Quiz not found.", ColorError)
		return err
	}
	if len(quiz.Questions) == 0 {
		a.notify.Chat(playerID, "[System]: That quiz has no questions.", ColorError)
		return domain.ErrQuestionNotFound
	}

	key := soloKey(playerID)
	s := newSession(a.newID(), "", ModeSolo, quiz, 0, a.now)
	if !a.sessions.Claim(key, s) {
		a.notify.Chat(playerID, "You are already in a quiz!", ColorWarn)
		return domain.ErrAlreadyInSession
	}
	if !a.ledger.Adjust(playerID, -quiz.Cost) {
		a.sessions.Release(key, s.ID())
		a.notify.Chat(playerID, fmt.Sprintf("Not enough sats! %q costs %d sats. Balance: %d sats.", quiz.Topic, quiz.Cost, a.ledger.Balance(playerID)), ColorError)
		return domain.ErrInsufficientFunds
	}
	s.enroll(playerID)
	p.sessionKey = key
	a.closePrompt(p)
	a.notify.Chat(playerID, fmt.Sprintf("Paid %d sats for %q. Balance: %d sats.", quiz.Cost, quiz.Topic, a.ledger.Balance(playerID)), ColorBalance)
	a.record(s, domain.EventSessionStarted, nil, nil, "")
	a.openQuestion(key, s, 0)
	return nil
}

// Answer submits a numbered answer to the player's solo session.
func (a *Arena) Answer(playerID string, choice int) error {
	p, ok := a.players[playerID]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if p.sessionKey == "" {
		a.notify.Chat(playerID, "You are not in a quiz. Type /solo to start one.", ColorWarn)
		return domain.ErrNotInSession
	}
	key := p.sessionKey
	s, ok := a.sessions.Get(key)
	if !ok {
		p.sessionKey = ""
		a.notify.Chat(playerID, "You are no longer part of that quiz.", ColorWarn)
		return domain.ErrNotInSession
	}
	if s.Mode() != ModeSolo {
		a.notify.Chat(playerID, "Stand on the platform with the correct answer!", ColorHint)
		return domain.ErrNotInSession
	}
	res, err := s.answer(playerID, choice)
	switch {
	case errors.Is(err, domain.ErrInvalidChoice):
		q := s.Quiz().Questions[s.QuestionIndex()]
		a.notify.Chat(playerID, fmt.Sprintf("Invalid choice. Enter a number between 1 and %d.", len(q.Answers)), ColorError)
		return err
	case err != nil:
		a.notify.Chat(playerID, "No question is open right now.", ColorWarn)
		return err
	}
	a.applyResolution(key, s, res)
	return nil
}

// Tick advances every active session by one scheduler step.
func (a *Arena) Tick() {
	for _, key := range a.sessions.Keys() {
		s, ok := a.sessions.Get(key)
		if !ok {
			continue
		}
		a.tickSession(key, s)
	}
}

func (a *Arena) tickSession(key string, s *Session) {
	if s.overdue(a.rules.MaxSessionDuration) {
		a.logger.Warn("session exceeded its deadline", "session", s.ID(), "max", a.rules.MaxSessionDuration)
		a.broadcast(s, "[System]: The quiz ran out of time and was cancelled.", ColorError)
		a.finish(key, s, domain.EventSessionAborted, "session deadline exceeded")
		return
	}

	switch s.Phase() {
	case PhaseAdvancing:
		if s.readyForNext() {
			a.openQuestion(key, s, s.QuestionIndex()+1)
		}
	case PhaseQuestionOpen:
		d := a.questionDuration(s)
		if s.Mode() == ModeMultiplayer {
			a.samplePositions(key, s, d)
		} else {
			for _, id := range s.pending() {
				a.notify.UI(id, remainingEvent(s.remaining(d)))
			}
		}
		if s.IsEmpty() {
			a.finish(key, s, domain.EventSessionAborted, "no participants left")
			return
		}
		// Sampling happens-before the deadline check so a final-tick arrival counts.
		if s.expired(d) {
			a.resolve(key, s)
		}
	case PhaseAwaitingFirstQuestion, PhaseQuestionResolving:
		// Transient; both are left within the call that entered them.
	case PhaseComplete, PhaseAborted:
		a.sessions.Release(key, s.ID())
	}
}

func (a *Arena) samplePositions(key string, s *Session, d time.Duration) {
	area, ok := a.areas[s.AreaID()]
	if !ok {
		a.logger.Error("session references unknown area", "session", s.ID(), "area", s.AreaID())
		a.finish(key, s, domain.EventSessionAborted, domain.ErrAreaNotFound.Error())
		return
	}
	remaining := s.remaining(d)
	for _, id := range s.pending() {
		p := a.players[id]
		if p == nil || p.sessionKey != key {
			s.remove(id)
			a.logger.Warn("dropped stale participant", "session", s.ID(), "player", id)
			if p != nil {
				a.notify.Chat(id, "[System]: You are no longer part of this quiz.", ColorWarn)
			}
			continue
		}
		if pos, ok := a.positions.Position(id); ok {
			on, near := area.Platforms.Classify(pos)
			if adv, changed := s.sample(id, on, near); changed {
				a.notify.Chat(id, advisoryText(area.Platforms, adv), advisoryColor(adv))
			}
		}
		a.notify.UI(id, remainingEvent(remaining))
	}
}

func (a *Arena) openQuestion(key string, s *Session, index int) {
	if s.Mode() == ModeMultiplayer {
		a.restorePlatforms(s.AreaID())
	}
	q, err := s.askQuestion(index)
	if err != nil {
		a.logger.Error("cannot open question", "session", s.ID(), "quiz", s.Quiz().ID, "index", index, "err", err)
		a.broadcast(s, "[System]: Error loading the next question. Ending quiz.", ColorError)
		a.finish(key, s, domain.EventSessionAborted, err.Error())
		return
	}

	quiz := s.Quiz()
	d := a.questionDuration(s)
	secs := int(d / time.Second)
	var area *Area
	if s.Mode() == ModeMultiplayer {
		area = a.areas[s.AreaID()]
	}
	for _, id := range s.Participants() {
		if index == 0 {
			a.notify.Chat(id, fmt.Sprintf("--- Starting Quiz: %s ---", quiz.Topic), ColorHint)
		}
		a.notify.Chat(id, fmt.Sprintf("--- Question %d/%d ---", index+1, len(quiz.Questions)), ColorHint)
		a.notify.Chat(id, q.Prompt, ColorInfo)
		for i, ans := range q.Answers {
			if area != nil {
				a.notify.Chat(id, fmt.Sprintf("Platform %d %s: %s", i+1, area.Platforms.Label(i), ans), ColorInfo)
			} else {
				a.notify.Chat(id, fmt.Sprintf("%d. %s", i+1, ans), ColorInfo)
			}
		}
		if area != nil {
			a.notify.Chat(id, fmt.Sprintf("Stand on the correct platform! Time ends in %d seconds!", secs), ColorWarn)
		} else {
			a.notify.Chat(id, fmt.Sprintf("Type /a <number> within %d seconds!", secs), ColorWarn)
		}
		a.notify.UI(id, questionEvent(q, d))
	}
}

func (a *Arena) resolve(key string, s *Session) {
	res, ok := s.resolve()
	if !ok {
		return
	}
	a.applyResolution(key, s, res)
}

func (a *Arena) applyResolution(key string, s *Session, res Resolution) {
	quiz := s.Quiz()
	multi := s.Mode() == ModeMultiplayer

	for _, id := range res.Correct {
		if multi {
			a.notify.Chat(id, "Time's up - Correct!", ColorSuccess)
		} else {
			a.notify.Chat(id, "Correct!", ColorSuccess)
		}
	}
	out := make([]string, 0, len(res.Out))
	for _, e := range res.Out {
		out = append(out, e.PlayerID)
		a.notify.Chat(e.PlayerID, lossText(multi, res, e), ColorError)
		a.notify.Chat(e.PlayerID, fmt.Sprintf("Quiz %q failed. The %d sats entry cost is not refunded. Balance: %d sats.", quiz.Topic, quiz.Cost, a.ledger.Balance(e.PlayerID)), ColorError)
		if p := a.players[e.PlayerID]; p != nil && p.sessionKey == key {
			p.sessionKey = ""
		}
		a.notify.UI(e.PlayerID, hideQuizEvent())
	}
	if multi {
		a.dropIncorrectPlatforms(s.AreaID(), res.CorrectIndex)
	}
	a.record(s, domain.EventQuestionResolved, res.Correct, out, "")

	switch res.Outcome {
	case OutcomeComplete:
		for _, id := range res.Correct {
			a.ledger.Adjust(id, quiz.Reward)
			if p := a.players[id]; p != nil {
				p.quizzes[quiz.ID] = struct{}{}
			}
			a.notify.Chat(id, fmt.Sprintf("Quiz %q complete! +%d sats. Balance: %d sats.", quiz.Topic, quiz.Reward, a.ledger.Balance(id)), ColorSuccess)
		}
		a.finish(key, s, domain.EventSessionCompleted, "")
	case OutcomeNext:
		delay := a.rules.AdvanceDelay
		if !multi {
			delay = 0
		}
		s.scheduleNext(a.now().Add(delay))
		if delay == 0 {
			a.openQuestion(key, s, res.QuestionIndex+1)
			return
		}
		a.broadcast(s, "Get ready for the next question...", ColorHint)
	case OutcomeAborted:
		a.logger.Info("no correct answers, ending session", "session", s.ID(), "question", res.QuestionIndex)
		a.finish(key, s, domain.EventSessionAborted, "no correct answers")
	}
}

// finish releases the session slot and returns remaining participants to idle.
func (a *Arena) finish(key string, s *Session, typ domain.SessionEventType, reason string) {
	if typ == domain.EventSessionAborted {
		s.abort()
	}
	a.sessions.Release(key, s.ID())
	for _, id := range s.Participants() {
		if p := a.players[id]; p != nil && p.sessionKey == key {
			p.sessionKey = ""
			a.notify.UI(id, hideQuizEvent())
		}
	}
	a.record(s, typ, nil, nil, reason)
	a.logger.Info("session ended", "session", s.ID(), "area", s.AreaID(), "type", string(typ), "reason", reason)
}

func (a *Arena) record(s *Session, typ domain.SessionEventType, correct, out []string, reason string) {
	a.events.Record(domain.SessionEvent{
		Type:          typ,
		SessionID:     s.ID(),
		AreaID:        s.AreaID(),
		QuizID:        s.Quiz().ID,
		QuestionIndex: s.QuestionIndex(),
		Correct:       correct,
		Out:           out,
		Reason:        reason,
		At:            a.now(),
	})
}

func (a *Arena) broadcast(s *Session, text, color string) {
	for _, id := range s.Participants() {
		a.notify.Chat(id, text, color)
	}
}

func (a *Arena) restorePlatforms(areaID string) {
	area, ok := a.areas[areaID]
	if !ok {
		return
	}
	present := make([]bool, area.Platforms.Len())
	for i := range present {
		present[i] = true
	}
	a.terrain.SetPlatforms(areaID, present)
}

func (a *Arena) dropIncorrectPlatforms(areaID string, correct int) {
	area, ok := a.areas[areaID]
	if !ok {
		return
	}
	present := make([]bool, area.Platforms.Len())
	if correct >= 0 && correct < len(present) {
		present[correct] = true
	}
	a.terrain.SetPlatforms(areaID, present)
}

// OnEnter opens the NPC's lesson or quiz prompt for the player.
func (a *Arena) OnEnter(playerID, zoneID string) {
	p, ok := a.players[playerID]
	if !ok {
		return
	}
	npc, ok := a.npcs[zoneID]
	if !ok {
		return
	}
	switch npc.Kind {
	case NPCLesson:
		a.showLesson(p, npc)
	case NPCQuiz:
		a.showQuizPrompt(p, npc)
	}
}

// OnExit closes whatever the NPC opened.
func (a *Arena) OnExit(playerID, zoneID string) {
	p, ok := a.players[playerID]
	if !ok {
		return
	}
	if p.lesson == zoneID {
		p.lesson = ""
		a.notify.UI(playerID, domain.UIEvent{Type: UIHideKnowledge})
	}
	if p.prompt == zoneID {
		a.closePrompt(p)
	}
}

func (a *Arena) showLesson(p *player, npc NPC) {
	lesson, err := a.catalog.Lesson(npc.Ref)
	if err != nil {
		a.logger.Warn("npc references missing lesson", "npc", npc.ID, "lesson", npc.Ref)
		return
	}
	p.lesson = npc.ID
	a.notify.UI(p.id, domain.UIEvent{Type: UIShowKnowledge, Text: lesson.Text, NPCName: lesson.NPCName})
	if _, done := p.lessons[lesson.ID]; done {
		return
	}
	p.lessons[lesson.ID] = struct{}{}
	if lesson.Reward > 0 {
		a.ledger.Adjust(p.id, lesson.Reward)
	}
	a.notify.Chat(p.id, fmt.Sprintf("+%d sats! Lesson complete. Balance: %d sats.", lesson.Reward, a.ledger.Balance(p.id)), ColorBalance)
}

func (a *Arena) showQuizPrompt(p *player, npc NPC) {
	quiz, err := a.catalog.Quiz(npc.Ref)
	if err != nil {
		a.logger.Warn("npc references missing quiz", "npc", npc.ID, "quiz", npc.Ref)
		return
	}
	if p.sessionKey != "" {
		a.notify.Chat(p.id, fmt.Sprintf("[%s]: Finish your current quiz first!", quiz.NPCName), ColorWarn)
		return
	}
	if npc.AreaID != "" {
		if _, busy := a.sessions.Get(npc.AreaID); busy {
			a.notify.Chat(p.id, fmt.Sprintf("[%s]: A quiz is already in progress!", quiz.NPCName), ColorWarn)
			return
		}
	}
	p.prompt = npc.ID
	a.notify.UI(p.id, domain.UIEvent{
		Type:    UIShowQuizPrompt,
		NPCName: quiz.NPCName,
		Topic:   quiz.Topic,
		Cost:    quiz.Cost,
		QuizID:  quiz.ID,
	})
}

func (a *Arena) closePrompt(p *player) {
	if p.prompt == "" {
		return
	}
	p.prompt = ""
	a.notify.UI(p.id, domain.UIEvent{Type: UIHideQuizPrompt})
}

// Scoreboards returns a snapshot of every active multiplayer session.
func (a *Arena) Scoreboards() []domain.Scoreboard {
	var out []domain.Scoreboard
	for _, key := range a.sessions.Keys() {
		s, ok := a.sessions.Get(key)
		if !ok || s.Mode() != ModeMultiplayer {
			continue
		}
		out = append(out, s.Snapshot())
	}
	return out
}

// AreaIDs returns the configured areas in order.
func (a *Arena) AreaIDs() []string {
	out := make([]string, len(a.areaOrder))
	copy(out, a.areaOrder)
	return out
}

func (a *Arena) areaFor(playerID string) string {
	if pos, ok := a.positions.Position(playerID); ok {
		for _, id := range a.areaOrder {
			if a.areas[id].Platforms.InJoinZone(pos) {
				return id
			}
		}
	}
	return a.areaOrder[0]
}

// pickQuiz resolves "" to a random quiz, "qN" to the Nth quiz, anything else by id.
func (a *Arena) pickQuiz(ref string) (domain.Quiz, error) {
	if ref == "" {
		return a.catalog.Random(a.rnd)
	}
	if q, err := a.catalog.Quiz(ref); err == nil {
		return q, nil
	}
	return a.catalog.QuizByNumber(ref)
}

func (a *Arena) questionDuration(s *Session) time.Duration {
	if s.Mode() == ModeSolo {
		return a.rules.SoloQuestionDuration
	}
	return a.rules.QuestionDuration
}

func soloKey(playerID string) string { return "solo:" + playerID }

func advisoryText(m *PlatformMap, adv Advisory) string {
	if adv.On {
		return fmt.Sprintf("[System] You are ON Platform %d %s.", adv.Platform+1, m.Label(adv.Platform))
	}
	return fmt.Sprintf("[System] You are NEAR Platform %d %s.", adv.Platform+1, m.Label(adv.Platform))
}

func advisoryColor(adv Advisory) string {
	if adv.On {
		return ColorSuccess
	}
	return ColorNear
}

func lossText(multi bool, res Resolution, e Elimination) string {
	correct := res.Question.Correct
	if !multi {
		if e.Platform == domain.NoPlatform {
			return fmt.Sprintf("Time's up! The correct answer was: %s", correct)
		}
		return fmt.Sprintf("Incorrect! The correct answer was: %s", correct)
	}
	if e.Platform == domain.NoPlatform {
		return fmt.Sprintf("Time's up! You weren't on any platform. The correct answer was Platform %d: %s", res.CorrectIndex+1, correct)
	}
	return fmt.Sprintf("Time's up! Platform %d was wrong. The correct answer was Platform %d: %s", e.Platform+1, res.CorrectIndex+1, correct)
}

func questionEvent(q domain.Question, d time.Duration) domain.UIEvent {
	secs := seconds(d)
	show := true
	return domain.UIEvent{
		Type:          UIQuiz,
		RemainingTime: &secs,
		QuestionText:  q.Prompt,
		Answers:       q.Answers,
		ShowQuiz:      &show,
	}
}

func remainingEvent(d time.Duration) domain.UIEvent {
	secs := seconds(d)
	return domain.UIEvent{Type: UIQuiz, RemainingTime: &secs}
}

func hideQuizEvent() domain.UIEvent {
	show := false
	return domain.UIEvent{Type: UIQuiz, ShowQuiz: &show}
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type nopTerrain struct{}

func (nopTerrain) SetPlatforms(string, []bool) {}
