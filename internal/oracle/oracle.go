// Package oracle turns free-form chat into structured task actions using a
// generative model: request classification, dialog resolution, conflict
// narration, and notification drafting.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// Generator is the interface for structured text generation.
type Generator interface {
	GenerateJSON(ctx context.Context, model, prompt string) (string, error)
}

// Categories returned by Classify.
const (
	CategoryTask    = "task_management"
	CategoryGeneral = "general_knowledge"
)

// Classification is the routing decision for one inbound message.
type Classification struct {
	Category       string
	TrimmedHistory string
}

// Narration is the model's rendering of a conflict report: the user-facing
// text plus the on-start and follow-up notification payloads.
type Narration struct {
	IsConflict bool   `json:"isConflict"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Title1     string `json:"title1"`
	Body1      string `json:"body1"`
}

// Notification is a drafted push-notification payload.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Oracle resolves user intent through a generative model.
type Oracle struct {
	gen   Generator
	model string
	now   func() time.Time
}

// New creates an Oracle using the given generator and model name.
func New(gen Generator, model string) *Oracle {
	return &Oracle{gen: gen, model: model, now: time.Now}
}

// WithClock overrides the clock used in dialog prompts. Tests use this to
// pin the "current date/time" context.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// Classify routes the message to task management or general knowledge.
// The history should already include the user's task snapshot.
func (o *Oracle) Classify(ctx context.Context, input, history string) (Classification, error) {
	raw, err := o.gen.GenerateJSON(ctx, o.model, buildClassifyPrompt(input, history))
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	var resp struct {
		Category string `json:"category"`
		History  string `json:"history"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return Classification{}, fmt.Errorf("classify: parsing response: %w", err)
	}
	if resp.Category != CategoryTask && resp.Category != CategoryGeneral {
		return Classification{}, fmt.Errorf("classify: unknown category %q", resp.Category)
	}
	return Classification{Category: resp.Category, TrimmedHistory: resp.History}, nil
}

// ResolveDialog resolves the message into a structured action. The payload
// variant is validated against dbAction before the action is returned.
func (o *Oracle) ResolveDialog(ctx context.Context, input, history string) (Action, error) {
	raw, err := o.gen.GenerateJSON(ctx, o.model, buildDialogPrompt(input, history, o.now()))
	if err != nil {
		return Action{}, fmt.Errorf("resolve dialog: %w", err)
	}
	act, err := decodeAction([]byte(extractJSON(raw)))
	if err != nil {
		return Action{}, fmt.Errorf("resolve dialog: %w", err)
	}
	return act, nil
}

// NarrateConflict turns a conflict report into user-facing text and, when
// no conflict exists, on-start and follow-up notification payloads.
func (o *Oracle) NarrateConflict(ctx context.Context, report schedule.Report, existing []storage.Task, intent string, candidate storage.Task, draft string) (Narration, error) {
	prompt := buildConflictPrompt(intent, mustJSON(report), mustJSON(existing), mustJSON(candidate), draft)
	raw, err := o.gen.GenerateJSON(ctx, o.model, prompt)
	if err != nil {
		return Narration{}, fmt.Errorf("narrate conflict: %w", err)
	}

	var n Narration
	if err := json.Unmarshal([]byte(extractJSON(raw)), &n); err != nil {
		return Narration{}, fmt.Errorf("narrate conflict: parsing response: %w", err)
	}
	// The mechanical scan is authoritative; the narration only words it.
	n.IsConflict = report.IsConflict
	return n, nil
}

// GeneralAnswer answers a general-knowledge question outside the task domain.
func (o *Oracle) GeneralAnswer(ctx context.Context, input, trimmedHistory string) (string, error) {
	raw, err := o.gen.GenerateJSON(ctx, o.model, buildGeneralPrompt(input, trimmedHistory))
	if err != nil {
		return "", fmt.Errorf("general answer: %w", err)
	}
	return decodeRes(raw, "general answer")
}

// Converse produces a short small-talk reply.
func (o *Oracle) Converse(ctx context.Context, input, history string) (string, error) {
	raw, err := o.gen.GenerateJSON(ctx, o.model, buildConversePrompt(input, history))
	if err != nil {
		return "", fmt.Errorf("converse: %w", err)
	}
	return decodeRes(raw, "converse")
}

// NotificationMessage drafts a fresh notification title/body for a task.
func (o *Oracle) NotificationMessage(ctx context.Context, task string) (Notification, error) {
	raw, err := o.gen.GenerateJSON(ctx, o.model, buildNotificationPrompt(task))
	if err != nil {
		return Notification{}, fmt.Errorf("notification message: %w", err)
	}
	var n Notification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &n); err != nil {
		return Notification{}, fmt.Errorf("notification message: parsing response: %w", err)
	}
	return n, nil
}

func decodeRes(raw, op string) (string, error) {
	var resp struct {
		Res string `json:"res"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return "", fmt.Errorf("%s: parsing response: %w", op, err)
	}
	return resp.Res, nil
}
