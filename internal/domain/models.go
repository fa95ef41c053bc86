package domain

import "time"

// Vec3 is a world-space coordinate.
type Vec3 struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
	Z float64 `json:"z" yaml:"z" msgpack:"z"`
}

// Box is an axis-aligned box; both corners are inclusive.
type Box struct {
	Min Vec3 `json:"min" yaml:"min"`
	Max Vec3 `json:"max" yaml:"max"`
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Platform is one labeled answer zone.
type Platform struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Center     Vec3    `json:"center"`
	OnRadius   float64 `json:"onRadius"`
	NearRadius float64 `json:"nearRadius"`
}

// Question models a multiple choice question. The correct answer is stored as text
// and mapped to an index by exact match.
type Question struct {
	Prompt  string   `json:"q" yaml:"q" msgpack:"q"`
	Answers []string `json:"a" yaml:"a" msgpack:"a"`
	Correct string   `json:"correct" yaml:"correct" msgpack:"correct"`
}

// CorrectIndex returns the index of the first answer equal to Correct, or -1.
func (q Question) CorrectIndex() int {
	for i, a := range q.Answers {
		if a == q.Correct {
			return i
		}
	}
	return -1
}

// Quiz is an ordered list of questions with an entry cost and a completion reward.
type Quiz struct {
	ID        string     `json:"id" yaml:"id" msgpack:"id"`
	NPCName   string     `json:"npcName" yaml:"npcName" msgpack:"npc"`
	Topic     string     `json:"topic" yaml:"topic" msgpack:"topic"`
	Cost      int        `json:"cost" yaml:"cost" msgpack:"cost"`
	Reward    int        `json:"reward" yaml:"reward" msgpack:"reward"`
	Questions []Question `json:"questions" yaml:"questions" msgpack:"questions"`
}

// Lesson is a piece of text shown by a knowledge NPC, rewarded once per profile.
type Lesson struct {
	ID      string `json:"id" yaml:"id"`
	NPCName string `json:"npcName" yaml:"npcName"`
	Text    string `json:"text" yaml:"text"`
	Reward  int    `json:"reward" yaml:"reward"`
}

// ParticipantStatus tracks a participant through a single question.
type ParticipantStatus string

const (
	StatusPlaying ParticipantStatus = "playing"
	StatusCorrect ParticipantStatus = "correct"
	StatusOut     ParticipantStatus = "out"
)

// NoPlatform marks a participant that is not standing on any platform.
const NoPlatform = -1

// Participant is a player enrolled in a session.
type Participant struct {
	PlayerID     string
	Status       ParticipantStatus
	LastPlatform int
	Finalized    bool
	Score        int
	LastUpdated  time.Time
}

// PlayerProfile is the persisted part of a player.
type PlayerProfile struct {
	Username         string    `json:"username"`
	Balance          int       `json:"balance"`
	CompletedLessons []string  `json:"completedLessons"`
	CompletedQuizzes []string  `json:"completedQuizzes"`
	PasswordHash     string    `json:"-"`
	LastSeen         time.Time `json:"lastSeen"`
}

// ScoreboardEntry is a snapshot-friendly view of a participant.
type ScoreboardEntry struct {
	PlayerID string            `json:"playerId"`
	Status   ParticipantStatus `json:"status"`
	Score    int               `json:"score"`
}

// Scoreboard captures the ordered participants of an active session.
type Scoreboard struct {
	AreaID        string            `json:"areaId"`
	SessionID     string            `json:"sessionId"`
	QuizID        string            `json:"quizId"`
	QuestionIndex int               `json:"questionIndex"`
	Entries       []ScoreboardEntry `json:"entries"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// UIEvent is a fire-and-forget structured message for the client UI.
// Only the populated fields are sent.
type UIEvent struct {
	Type          string   `json:"type,omitempty"`
	RemainingTime *int     `json:"remainingTime,omitempty"`
	QuestionText  string   `json:"questionText,omitempty"`
	Answers       []string `json:"answers,omitempty"`
	ShowQuiz      *bool    `json:"showQuiz,omitempty"`
	Text          string   `json:"text,omitempty"`
	NPCName       string   `json:"npcName,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Cost          int      `json:"cost,omitempty"`
	QuizID        string   `json:"quizId,omitempty"`
	AreaID        string   `json:"areaId,omitempty"`
	Platforms     []bool   `json:"platforms,omitempty"`
}

// SessionEventType names lifecycle events emitted by sessions.
type SessionEventType string

const (
	EventSessionStarted   SessionEventType = "session_started"
	EventQuestionResolved SessionEventType = "question_resolved"
	EventSessionCompleted SessionEventType = "session_completed"
	EventSessionAborted   SessionEventType = "session_aborted"
)

// SessionEvent is an append-only record of a session transition.
type SessionEvent struct {
	Type          SessionEventType `json:"type"`
	SessionID     string           `json:"sessionId"`
	AreaID        string           `json:"areaId"`
	QuizID        string           `json:"quizId"`
	QuestionIndex int              `json:"questionIndex"`
	Correct       []string         `json:"correct,omitempty"`
	Out           []string         `json:"out,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	At            time.Time        `json:"at"`
}
