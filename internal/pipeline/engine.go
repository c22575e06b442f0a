package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// Engine sequences one chat turn. All collaborators are injected; the
// engine owns none of their lifecycles.
type Engine struct {
	oracle   Oracle
	detector *schedule.Detector
	tasks    TaskStore
	messages MessageLog
	notifier Notifier
	log      *slog.Logger
}

// Deps are the collaborators an Engine runs against. Notifier may be nil.
type Deps struct {
	Oracle   Oracle
	Detector *schedule.Detector
	Tasks    TaskStore
	Messages MessageLog
	Notifier Notifier
	Log      *slog.Logger
}

// New creates an Engine.
func New(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		oracle:   d.Oracle,
		detector: d.Detector,
		tasks:    d.Tasks,
		messages: d.Messages,
		notifier: d.Notifier,
		log:      log,
	}
}

// Run executes one chat turn. A schedule conflict is a terminal outcome,
// not an error: the result's Kind is ResultConflict and nothing was synced
// or persisted. Errors wrapping ErrValidation are caller mistakes.
func (e *Engine) Run(ctx context.Context, req Request) (TurnResult, error) {
	if req.Owner == "" {
		return TurnResult{}, fmt.Errorf("%w: missing owner", ErrValidation)
	}
	if strings.TrimSpace(req.Input) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty input", ErrValidation)
	}

	if err := e.messages.AppendMessage(req.Owner, req.Input, storage.RoleUser); err != nil {
		return TurnResult{}, fmt.Errorf("logging user message: %w", err)
	}

	// Point-in-time view: conflict decisions for this turn are made against
	// this snapshot, not against concurrently committing turns.
	snapshot, err := e.tasks.ListTasksByOwner(req.Owner)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading tasks: %w", err)
	}

	history, err := e.buildHistory(req.Owner, snapshot)
	if err != nil {
		return TurnResult{}, err
	}

	cls, err := e.oracle.Classify(ctx, req.Input, history)
	if err != nil {
		return TurnResult{}, err
	}
	if cls.Category == oracle.CategoryGeneral {
		text, err := e.oracle.GeneralAnswer(ctx, req.Input, cls.TrimmedHistory)
		if err != nil {
			return TurnResult{}, err
		}
		return e.finish(req.Owner, Response{Text: text})
	}

	act, err := e.oracle.ResolveDialog(ctx, req.Input, history)
	if err != nil {
		return TurnResult{}, err
	}

	// Slot-filling turn: reply as-is, no side effects yet.
	if act.IsInfoIncomplete || act.DBAction == oracle.ActionNone {
		return e.finish(req.Owner, Response{Text: act.Text})
	}

	switch act.DBAction {
	case oracle.ActionAdd:
		return e.runAdd(ctx, req, act, snapshot)
	case oracle.ActionUpdate:
		return e.runUpdate(ctx, req, act, snapshot)
	case oracle.ActionDelete:
		return e.runDelete(ctx, req, act)
	}
	return TurnResult{}, fmt.Errorf("unhandled action %q", act.DBAction)
}

func (e *Engine) runAdd(ctx context.Context, req Request, act oracle.Action, snapshot []storage.Task) (TurnResult, error) {
	task := act.Add.Task(req.Owner)
	// Sync state is decided by this engine's own calendar create, never by
	// the model's payload.
	task.AddedToCalendar = false
	task.EventID = ""
	slot := task.Slot()

	// A partially specified task is stored as-is and never reaches the
	// overlap scan or the calendar.
	if !slot.Schedulable() {
		id, err := e.tasks.InsertTask(task)
		if err != nil {
			return TurnResult{}, fmt.Errorf("inserting task: %w", err)
		}
		return e.finish(req.Owner, taskResponse(act.Text, "new", id, task))
	}

	report, err := e.detect(slot, snapshot, "")
	if err != nil {
		return TurnResult{}, err
	}
	n, err := e.oracle.NarrateConflict(ctx, report, snapshot, "add", task, act.Text)
	if err != nil {
		return TurnResult{}, err
	}
	if n.IsConflict {
		return e.finishConflict(req.Owner, n, report)
	}

	// Calendar first, then store, so the record never claims a sync that
	// did not happen.
	if req.Calendar != nil && act.CalendarAction == oracle.ActionAdd {
		eventID, err := req.Calendar.Create(ctx, task)
		if err != nil {
			return TurnResult{}, fmt.Errorf("calendar create: %w", err)
		}
		task.EventID = eventID
		task.AddedToCalendar = true
	}

	id, err := e.tasks.InsertTask(task)
	if err != nil {
		return TurnResult{}, fmt.Errorf("inserting task: %w", err)
	}
	task.ID = id
	e.arm(req.Owner, task, n)

	resp := taskResponse(replyText(n.Text, act.Text), "new", id, task)
	resp.Title, resp.Body = n.Title, n.Body
	resp.Title1, resp.Body1 = n.Title1, n.Body1
	return e.finish(req.Owner, resp)
}

func (e *Engine) runUpdate(ctx context.Context, req Request, act oracle.Action, snapshot []storage.Task) (TurnResult, error) {
	existing, err := e.tasks.GetTask(act.Update.TaskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TurnResult{}, fmt.Errorf("%w: task %s not found", ErrValidation, act.Update.TaskID)
		}
		return TurnResult{}, fmt.Errorf("loading task %s: %w", act.Update.TaskID, err)
	}

	task := act.Update.Task.Task(req.Owner)
	task.ID = existing.ID
	task.EventID = existing.EventID
	task.AddedToCalendar = existing.AddedToCalendar

	narration := oracle.Narration{Text: act.Text}
	if existing.AddedToCalendar && existing.EventID != "" {
		// The task's own prior record is excluded so it never conflicts
		// with itself.
		report, err := e.detect(task.Slot(), snapshot, existing.ID)
		if err != nil {
			return TurnResult{}, err
		}
		narration, err = e.oracle.NarrateConflict(ctx, report, snapshot, "update", task, act.Text)
		if err != nil {
			return TurnResult{}, err
		}
		if narration.IsConflict {
			return e.finishConflict(req.Owner, narration, report)
		}

		if req.Calendar != nil {
			switch act.CalendarAction {
			case oracle.ActionAdd:
				eventID, err := req.Calendar.Create(ctx, task)
				if err != nil {
					return TurnResult{}, fmt.Errorf("calendar create: %w", err)
				}
				task.EventID = eventID
				task.AddedToCalendar = true
			case oracle.ActionUpdate:
				if err := req.Calendar.Update(ctx, existing.EventID, task); err != nil {
					return TurnResult{}, fmt.Errorf("calendar update: %w", err)
				}
			}
		}
	}

	if err := e.tasks.UpdateTask(existing.ID, task); err != nil {
		return TurnResult{}, fmt.Errorf("updating task %s: %w", existing.ID, err)
	}
	e.arm(req.Owner, task, narration)

	resp := taskResponse(replyText(narration.Text, act.Text), "update", existing.ID, task)
	resp.Title, resp.Body = narration.Title, narration.Body
	resp.Title1, resp.Body1 = narration.Title1, narration.Body1
	return e.finish(req.Owner, resp)
}

func (e *Engine) runDelete(ctx context.Context, req Request, act oracle.Action) (TurnResult, error) {
	var deleted []string
	for _, item := range act.Delete {
		// Calendar cleanup is best effort; the store is the source of truth.
		if item.AddedToCalendar && req.Calendar != nil {
			if t, err := e.tasks.GetTask(item.TaskID); err == nil && t.EventID != "" {
				if err := req.Calendar.Delete(ctx, t.EventID); err != nil {
					e.log.Warn("calendar delete failed", "task", item.TaskID, "event", t.EventID, "error", err)
				}
			}
		}

		if err := e.tasks.DeleteTask(item.TaskID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.log.Warn("task already gone", "task", item.TaskID)
				e.disarm(item.TaskID)
				continue
			}
			return TurnResult{}, fmt.Errorf("deleting task %s: %w", item.TaskID, err)
		}
		e.disarm(item.TaskID)
		deleted = append(deleted, item.TaskID)
	}

	return e.finish(req.Owner, Response{Text: act.Text, Intent: "delete", Deleted: deleted})
}

// detect runs the overlap scan with the snapshot, optionally excluding one
// task id from the comparison set.
func (e *Engine) detect(slot schedule.Slot, snapshot []storage.Task, excludeID string) (schedule.Report, error) {
	entries := make([]schedule.Entry, 0, len(snapshot))
	for _, t := range snapshot {
		if excludeID != "" && t.ID == excludeID {
			continue
		}
		entries = append(entries, schedule.Entry{ID: t.ID, Title: t.Title, Slot: t.Slot()})
	}
	report, err := e.detector.Detect(slot, entries)
	if err != nil {
		return schedule.Report{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return report, nil
}

// buildHistory joins the transcript with the task snapshot the model needs
// for grounding.
func (e *Engine) buildHistory(owner string, snapshot []storage.Task) (string, error) {
	msgs, err := e.messages.ListMessagesByOwner(owner)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encoding task snapshot: %w", err)
	}
	b.WriteString("\nDATARESULT: ")
	b.Write(data)
	return b.String(), nil
}

func (e *Engine) arm(owner string, t storage.Task, n oracle.Narration) {
	if e.notifier == nil || !t.Slot().Schedulable() {
		return
	}
	if err := e.notifier.Arm(owner, t, n); err != nil {
		e.log.Warn("arming notifications failed", "task", t.ID, "error", err)
	}
}

func (e *Engine) disarm(taskID string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Disarm(taskID)
}

// finish appends the bot reply to the transcript and returns the turn.
func (e *Engine) finish(owner string, resp Response) (TurnResult, error) {
	if err := e.messages.AppendMessage(owner, resp.Text, storage.RoleBot); err != nil {
		return TurnResult{}, fmt.Errorf("logging bot message: %w", err)
	}
	return TurnResult{Kind: ResultOK, Response: resp}, nil
}

// finishConflict records the conflict explanation and returns the aborted
// turn. No calendar or store writes have happened at this point.
func (e *Engine) finishConflict(owner string, n oracle.Narration, report schedule.Report) (TurnResult, error) {
	if err := e.messages.AppendMessage(owner, n.Text, storage.RoleBot); err != nil {
		return TurnResult{}, fmt.Errorf("logging bot message: %w", err)
	}
	return TurnResult{
		Kind:     ResultConflict,
		Conflict: &ConflictResult{Text: n.Text, Report: report},
	}, nil
}

func taskResponse(text, intent, id string, t storage.Task) Response {
	return Response{
		Text:            text,
		Intent:          intent,
		TaskID:          id,
		StartDate:       t.StartDate,
		StartTime:       t.StartTime,
		EndDate:         t.EndDate,
		EndTime:         t.EndTime,
		Daily:           t.Daily,
		AddedToCalendar: t.AddedToCalendar,
	}
}

func replyText(narrated, draft string) string {
	if narrated != "" {
		return narrated
	}
	return draft
}
