package storage

import (
	"errors"
	"time"

	"github.com/kalambet/daybot/internal/schedule"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Task is one unit of scheduled work owned by a single user.
// If AddedToCalendar is true, EventID carries the external calendar id.
type Task struct {
	ID              string    `json:"task_id"`
	Owner           string    `json:"-"`
	Title           string    `json:"task"`
	Description     string    `json:"desc"`
	Summary         string    `json:"summary"`
	StartDate       string    `json:"startdate,omitempty"`
	StartTime       string    `json:"starttime,omitempty"`
	EndDate         string    `json:"enddate,omitempty"`
	EndTime         string    `json:"endtime,omitempty"`
	Daily           bool      `json:"daily,omitempty"`
	OtherInfo       string    `json:"other_info,omitempty"`
	AddedToCalendar bool      `json:"addedToCalendar"`
	EventID         string    `json:"-"`
	CreatedAt       time.Time `json:"-"`
}

// Slot returns the task's raw temporal footprint.
func (t Task) Slot() schedule.Slot {
	return schedule.Slot{
		StartDate: t.StartDate,
		StartTime: t.StartTime,
		EndDate:   t.EndDate,
		EndTime:   t.EndTime,
		Daily:     t.Daily,
	}
}

// Message is one entry of a user's chat transcript.
type Message struct {
	ID        int64     `json:"-"`
	Owner     string    `json:"-"`
	Role      string    `json:"by"`
	Text      string    `json:"msg"`
	CreatedAt time.Time `json:"dateTime"`
}

// Job is one queued background delivery (notification payloads waiting for
// their fire time).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
