// Package pipeline runs one chat turn end to end: classify the message,
// resolve it into an action, check the schedule for conflicts, sync the
// calendar, persist, and assemble the reply.
package pipeline

import (
	"context"
	"errors"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// ErrValidation marks caller mistakes: empty input, or a schedulable action
// whose temporal fields are missing or malformed.
var ErrValidation = errors.New("invalid request")

// Oracle resolves user intent. Implemented by oracle.Oracle.
type Oracle interface {
	Classify(ctx context.Context, input, history string) (oracle.Classification, error)
	ResolveDialog(ctx context.Context, input, history string) (oracle.Action, error)
	NarrateConflict(ctx context.Context, report schedule.Report, existing []storage.Task, intent string, candidate storage.Task, draft string) (oracle.Narration, error)
	GeneralAnswer(ctx context.Context, input, trimmedHistory string) (string, error)
}

// Calendar syncs tasks to an external calendar. A turn may run without one;
// tasks then stay local with AddedToCalendar false.
type Calendar interface {
	Create(ctx context.Context, t storage.Task) (string, error)
	Update(ctx context.Context, eventID string, t storage.Task) error
	Delete(ctx context.Context, eventID string) error
}

// TaskStore persists tasks. Implemented by storage.Store.
type TaskStore interface {
	InsertTask(t storage.Task) (string, error)
	GetTask(id string) (storage.Task, error)
	ListTasksByOwner(owner string) ([]storage.Task, error)
	UpdateTask(id string, t storage.Task) error
	DeleteTask(id string) error
}

// MessageLog records the chat transcript. Implemented by storage.Store.
type MessageLog interface {
	AppendMessage(owner, text, role string) error
	ListMessagesByOwner(owner string) ([]storage.Message, error)
}

// Notifier arms the on-start and follow-up notifications for a task and
// keeps any recurring delivery in step with the task's lifecycle.
type Notifier interface {
	Arm(owner string, t storage.Task, n oracle.Narration) error
	Disarm(taskID string)
}

// ResultKind tags a turn's terminal outcome.
type ResultKind int

const (
	// ResultOK is a completed turn: the reply and any side effects landed.
	ResultOK ResultKind = iota
	// ResultConflict is a turn aborted by the overlap scan: nothing was
	// synced or persisted.
	ResultConflict
)

// Response is the assembled reply for one completed chat turn.
type Response struct {
	Text            string   `json:"text"`
	Intent          string   `json:"intent,omitempty"`
	TaskID          string   `json:"task_id,omitempty"`
	StartDate       string   `json:"startdate,omitempty"`
	StartTime       string   `json:"starttime,omitempty"`
	EndDate         string   `json:"enddate,omitempty"`
	EndTime         string   `json:"endtime,omitempty"`
	Daily           bool     `json:"daily,omitempty"`
	AddedToCalendar bool     `json:"addedToCalendar,omitempty"`
	Title           string   `json:"title,omitempty"`
	Body            string   `json:"body,omitempty"`
	Title1          string   `json:"title1,omitempty"`
	Body1           string   `json:"body1,omitempty"`
	Deleted         []string `json:"deleted,omitempty"`
}

// ConflictResult is a turn that ended on a schedule conflict.
type ConflictResult struct {
	Text   string          `json:"text"`
	Report schedule.Report `json:"report"`
}

// TurnResult is the outcome of one chat turn. Conflict is set only when
// Kind is ResultConflict.
type TurnResult struct {
	Kind     ResultKind
	Response Response
	Conflict *ConflictResult
}

// Request is one inbound chat turn.
type Request struct {
	Owner string
	Input string
	// Calendar is built per turn from the caller's token; nil disables sync.
	Calendar Calendar
}
