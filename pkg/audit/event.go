// Package audit records what a seeding run did to NetBox, one JSON line per
// object outcome, so a later run or a human can see which objects were
// created, found, or skipped and by whom.
package audit

import (
	"os/user"
	"time"

	"github.com/google/uuid"
)

// Event is one audited object outcome.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RunID     string        `json:"run_id"`
	User      string        `json:"user"`
	NetBox    string        `json:"netbox"`
	Step      string        `json:"step"`
	Kind      string        `json:"kind"`
	Key       string        `json:"key"`
	State     string        `json:"state,omitempty"` // created, exists, skipped
	ObjectID  int           `json:"object_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	RunID       string
	NetBox      string
	Step        string
	Kind        string
	Key         string
	State       string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent starts an event for one object of a run.
func NewEvent(runID, kind, key string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		RunID:     runID,
		User:      currentUser(),
		Kind:      kind,
		Key:       key,
	}
}

// WithNetBox sets the NetBox base URL the run targeted.
func (e *Event) WithNetBox(url string) *Event {
	e.NetBox = url
	return e
}

// WithStep sets the reconcile step the object belongs to.
func (e *Event) WithStep(step string) *Event {
	e.Step = step
	return e
}

// WithOutcome records the state and the NetBox ID of the object.
func (e *Event) WithOutcome(state string, objectID int) *Event {
	e.State = state
	e.ObjectID = objectID
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets how long the object took.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// NewRunID returns an identifier shared by every event of one run. It sorts
// by start time.
func NewRunID() string {
	return "run-" + time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}
