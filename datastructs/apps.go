package datastructs

import (
	"time"

	"github.com/google/uuid"
)

type SessionState int

const (
	AwaitingAnswer SessionState = iota
	Cancelled
	Expired
	Completed
	// Failed ends a session whose prompts could not be delivered.
	Failed
)

func (s SessionState) String() string {
	switch s {
	case AwaitingAnswer:
		return "awaiting_answer"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s SessionState) Terminal() bool { return s != AwaitingAnswer }

// Session is one applicant's interview in progress.
type Session struct {
	ID            uuid.UUID
	UserID        string
	DMChannelID   string
	QuestionIndex int
	Answers       []string
	State         SessionState
	StartedAt     time.Time
}

type Answer struct {
	Question string
	Text     string
}

// Application is a completed interview ready to be posted for review.
type Application struct {
	ApplicantID string
	Answers     []Answer
	SubmittedAt time.Time
}

type DecisionState int

const (
	PendingDecision DecisionState = iota
	Accepted
	Rejected
)

func (d DecisionState) String() string {
	switch d {
	case PendingDecision:
		return "pending"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// PendingApplication is an application post awaiting a moderator.
type PendingApplication struct {
	ChannelID   string
	MessageID   string
	ApplicantID string
	State       DecisionState
}
