package trigger

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a trigger.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status can never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Trigger is a scheduled unit of work owned by an execution agent. One-shot
// triggers have an empty Recurrence; recurring ones re-arm after every fire.
type Trigger struct {
	ID           string
	AgentID      string
	Payload      string
	StartAt      time.Time
	Recurrence   Recurrence
	Timezone     string
	Status       Status
	NextFireAt   time.Time
	LastFiredAt  *time.Time
	FailureCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New builds a scheduled trigger with a fresh id. startAt is the first fire
// time; for recurring triggers with a zero startAt the first occurrence is
// computed from now.
func New(agentID, payload string, startAt time.Time, rule Recurrence, timezone string) (*Trigger, error) {
	now := time.Now().UTC()

	nextFire := startAt
	if nextFire.IsZero() {
		if rule.IsZero() {
			nextFire = now
		} else {
			next, err := rule.NextAfter(now)
			if err != nil {
				return nil, err
			}
			nextFire = next
		}
	}

	return &Trigger{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Payload:    payload,
		StartAt:    nextFire,
		Recurrence: rule,
		Timezone:   timezone,
		Status:     StatusScheduled,
		NextFireAt: nextFire,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Recurring reports whether the trigger re-arms after firing.
func (t *Trigger) Recurring() bool {
	return !t.Recurrence.IsZero()
}
