package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no quiz session is active for an area or player.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a player is not enrolled in the session.
	ErrParticipantNotFound = errors.New("participant not found in quiz")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates the session points past the quiz's question list.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrLessonNotFound indicates an NPC references a lesson that is not in the catalog.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrTooManyAnswers is returned when a question has more answers than the area has platforms.
	ErrTooManyAnswers = errors.New("question has more answers than platforms")
	// ErrInvalidQuestion is returned when the correct answer matches none of the answers.
	ErrInvalidQuestion = errors.New("question has no matching correct answer")

	// ErrAreaNotFound is returned for unknown area ids.
	ErrAreaNotFound = errors.New("area not found")
	// ErrAreaBusy is returned when a session is already active in the area.
	ErrAreaBusy = errors.New("a quiz is already in progress")
	// ErrNoPlayersInZone is returned when nobody stands in the join zone.
	ErrNoPlayersInZone = errors.New("no players in the quiz zone")
	// ErrNoEligiblePlayers is returned when every player in the zone was filtered out.
	ErrNoEligiblePlayers = errors.New("no eligible players could join the quiz")

	// ErrInsufficientFunds is returned when a charge would make a balance negative.
	ErrInsufficientFunds = errors.New("insufficient sats")
	// ErrAlreadyInSession is returned when a player tries to join a second session.
	ErrAlreadyInSession = errors.New("player already in a quiz")
	// ErrNotInSession is returned when a player acts on a session they are not part of.
	ErrNotInSession = errors.New("player is not in a quiz")
	// ErrInvalidChoice is returned for out-of-range answer numbers.
	ErrInvalidChoice = errors.New("invalid answer choice")
	// ErrUnknownPlayer is returned for players that are not connected.
	ErrUnknownPlayer = errors.New("unknown player")

	// ErrProfileNotFound is returned by profile stores for unseen usernames.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidCredentials is returned when a password does not match the stored hash.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAlreadyAuthenticated is returned for a second login on the same connection.
	ErrAlreadyAuthenticated = errors.New("already logged in")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already registered")
)
