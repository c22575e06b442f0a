package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// --- fakes ---

type fakeOracle struct {
	classification oracle.Classification
	action         oracle.Action
	narration      oracle.Narration
	general        string

	narrateCalls  int
	narrateReport schedule.Report
	narrateTasks  []storage.Task
}

func (f *fakeOracle) Classify(ctx context.Context, input, history string) (oracle.Classification, error) {
	if f.classification.Category == "" {
		return oracle.Classification{Category: oracle.CategoryTask}, nil
	}
	return f.classification, nil
}

func (f *fakeOracle) ResolveDialog(ctx context.Context, input, history string) (oracle.Action, error) {
	return f.action, nil
}

func (f *fakeOracle) NarrateConflict(ctx context.Context, report schedule.Report, existing []storage.Task, intent string, candidate storage.Task, draft string) (oracle.Narration, error) {
	f.narrateCalls++
	f.narrateReport = report
	f.narrateTasks = existing
	n := f.narration
	n.IsConflict = report.IsConflict
	return n, nil
}

func (f *fakeOracle) GeneralAnswer(ctx context.Context, input, trimmedHistory string) (string, error) {
	return f.general, nil
}

type fakeCalendar struct {
	createCalls int
	updateCalls int
	deleteCalls int
	deletedIDs  []string
	deleteErr   error
	nextEventID string
}

func (f *fakeCalendar) Create(ctx context.Context, t storage.Task) (string, error) {
	f.createCalls++
	if f.nextEventID == "" {
		return "ev-new", nil
	}
	return f.nextEventID, nil
}

func (f *fakeCalendar) Update(ctx context.Context, eventID string, t storage.Task) error {
	f.updateCalls++
	return nil
}

func (f *fakeCalendar) Delete(ctx context.Context, eventID string) error {
	f.deleteCalls++
	f.deletedIDs = append(f.deletedIDs, eventID)
	return f.deleteErr
}

type fakeStore struct {
	tasks       map[string]storage.Task
	order       []string
	messages    []storage.Message
	insertCalls int
	updateCalls int
	deleteCalls int
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]storage.Task{}}
}

func (f *fakeStore) seed(t storage.Task) {
	f.tasks[t.ID] = t
	f.order = append(f.order, t.ID)
}

func (f *fakeStore) InsertTask(t storage.Task) (string, error) {
	f.insertCalls++
	if t.ID == "" {
		f.nextID++
		t.ID = fmt.Sprintf("t-%d", f.nextID)
	}
	f.seed(t)
	return t.ID, nil
}

func (f *fakeStore) GetTask(id string) (storage.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return storage.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTasksByOwner(owner string) ([]storage.Task, error) {
	var out []storage.Task
	for _, id := range f.order {
		if t, ok := f.tasks[id]; ok && t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTask(id string, t storage.Task) error {
	f.updateCalls++
	if _, ok := f.tasks[id]; !ok {
		return storage.ErrNotFound
	}
	t.ID = id
	f.tasks[id] = t
	return nil
}

func (f *fakeStore) DeleteTask(id string) error {
	f.deleteCalls++
	if _, ok := f.tasks[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) AppendMessage(owner, text, role string) error {
	f.messages = append(f.messages, storage.Message{Owner: owner, Role: role, Text: text, CreatedAt: time.Now()})
	return nil
}

func (f *fakeStore) ListMessagesByOwner(owner string) ([]storage.Message, error) {
	var out []storage.Message
	for _, m := range f.messages {
		if m.Owner == owner {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	armCalls int
	lastTask storage.Task
	disarmed []string
}

func (f *fakeNotifier) Arm(owner string, t storage.Task, n oracle.Narration) error {
	f.armCalls++
	f.lastTask = t
	return nil
}

func (f *fakeNotifier) Disarm(taskID string) {
	f.disarmed = append(f.disarmed, taskID)
}

func addAction(p oracle.TaskPayload) oracle.Action {
	return oracle.Action{
		Text:           "Scheduled it.",
		DBAction:       oracle.ActionAdd,
		CalendarAction: oracle.ActionAdd,
		Add:            &p,
	}
}

func newEngine(o *fakeOracle, st *fakeStore, nt *fakeNotifier) *Engine {
	d := Deps{
		Oracle:   o,
		Detector: schedule.NewDetector(time.UTC),
		Tasks:    st,
		Messages: st,
	}
	// Assign only a non-nil fake: a nil *fakeNotifier wrapped in the
	// interface would not compare equal to nil inside the engine.
	if nt != nil {
		d.Notifier = nt
	}
	return New(d)
}

// --- tests ---

func TestRun_AddNoOverlap(t *testing.T) {
	o := &fakeOracle{narration: oracle.Narration{
		Text: "Meeting booked.", Title: "Meeting", Body: "Starts now",
		Title1: "Check-in", Body1: "How did it go?",
	}}
	o.action = addAction(oracle.TaskPayload{
		Title: "meeting", StartDate: "2025-03-10", StartTime: "10:00",
		EndDate: "2025-03-10", EndTime: "11:00",
	})
	st := newFakeStore()
	cal := &fakeCalendar{}
	nt := &fakeNotifier{}
	e := newEngine(o, st, nt)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "book a meeting", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Kind != ResultOK {
		t.Fatalf("Kind = %v, want ResultOK", res.Kind)
	}
	if res.Response.TaskID == "" {
		t.Error("response missing task_id")
	}
	if !res.Response.AddedToCalendar {
		t.Error("AddedToCalendar = false, want true")
	}
	if res.Response.Title == "" || res.Response.Title1 == "" {
		t.Error("response missing notification payloads")
	}
	if cal.createCalls != 1 {
		t.Errorf("calendar create calls = %d, want 1", cal.createCalls)
	}
	if nt.armCalls != 1 {
		t.Errorf("notifier arm calls = %d, want 1", nt.armCalls)
	}

	stored, err := st.GetTask(res.Response.TaskID)
	if err != nil {
		t.Fatalf("stored task: %v", err)
	}
	if !stored.AddedToCalendar || stored.EventID != "ev-new" {
		t.Errorf("stored = %+v, want synced with event id", stored)
	}

	msgs, _ := st.ListMessagesByOwner("u1")
	if len(msgs) != 2 || msgs[0].Role != storage.RoleUser || msgs[1].Role != storage.RoleBot {
		t.Errorf("transcript = %+v, want user then bot entry", msgs)
	}
	if msgs[1].Text != "Meeting booked." {
		t.Errorf("bot entry = %q", msgs[1].Text)
	}
}

func TestRun_AddConflictAborts(t *testing.T) {
	o := &fakeOracle{narration: oracle.Narration{Text: "That overlaps your standup."}}
	o.action = addAction(oracle.TaskPayload{
		Title: "meeting", StartDate: "2025-03-10", StartTime: "09:15",
		EndDate: "2025-03-10", EndTime: "09:45",
	})
	st := newFakeStore()
	st.seed(storage.Task{
		ID: "t-standup", Owner: "u1", Title: "standup",
		StartDate: "2025-03-10", StartTime: "09:00",
		EndDate: "2025-03-10", EndTime: "09:30",
	})
	cal := &fakeCalendar{}
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "book a meeting", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Kind != ResultConflict {
		t.Fatalf("Kind = %v, want ResultConflict", res.Kind)
	}
	if res.Conflict == nil || !res.Conflict.Report.IsConflict {
		t.Fatal("conflict result missing report")
	}
	if res.Conflict.Report.Conflicts[0].TaskID != "t-standup" {
		t.Errorf("conflicting task = %+v", res.Conflict.Report.Conflicts)
	}
	if res.Response.TaskID != "" {
		t.Error("aborted turn must not carry a task_id")
	}
	if cal.createCalls != 0 {
		t.Errorf("calendar create calls = %d, want 0", cal.createCalls)
	}
	if st.insertCalls != 0 {
		t.Errorf("store insert calls = %d, want 0", st.insertCalls)
	}

	msgs, _ := st.ListMessagesByOwner("u1")
	if msgs[len(msgs)-1].Text != "That overlaps your standup." {
		t.Errorf("conflict explanation not logged: %+v", msgs)
	}
}

func TestRun_AddIncompleteSlotStoresLocally(t *testing.T) {
	o := &fakeOracle{}
	o.action = addAction(oracle.TaskPayload{Title: "call mom", StartDate: "2025-03-10", StartTime: "18:00"})
	st := newFakeStore()
	cal := &fakeCalendar{}
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "remind me to call mom", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Response.AddedToCalendar {
		t.Error("incomplete slot must not be calendar-synced")
	}
	if cal.createCalls != 0 {
		t.Errorf("calendar create calls = %d, want 0", cal.createCalls)
	}
	if o.narrateCalls != 0 {
		t.Errorf("narrate calls = %d, want 0 for incomplete slot", o.narrateCalls)
	}
	if st.insertCalls != 1 {
		t.Errorf("store insert calls = %d, want 1", st.insertCalls)
	}
}

func TestRun_IncompleteInfoIsPassthrough(t *testing.T) {
	o := &fakeOracle{action: oracle.Action{
		Text:             "When should it end?",
		IsInfoIncomplete: true,
		DBAction:         oracle.ActionAdd,
		CalendarAction:   oracle.ActionAdd,
	}}
	st := newFakeStore()
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "meet sam at 10"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Response.Text != "When should it end?" {
		t.Errorf("text = %q", res.Response.Text)
	}
	if st.insertCalls+st.updateCalls+st.deleteCalls != 0 {
		t.Error("slot-filling turn must not touch the task store")
	}
}

func TestRun_GeneralKnowledgeSkipsTaskWork(t *testing.T) {
	o := &fakeOracle{
		classification: oracle.Classification{Category: oracle.CategoryGeneral, TrimmedHistory: "h"},
		general:        "Paris.",
	}
	st := newFakeStore()
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "capital of France?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Response.Text != "Paris." {
		t.Errorf("text = %q", res.Response.Text)
	}
	if st.insertCalls != 0 {
		t.Error("general turn must not write tasks")
	}
	msgs, _ := st.ListMessagesByOwner("u1")
	if len(msgs) != 2 {
		t.Errorf("transcript length = %d, want user+bot", len(msgs))
	}
}

func TestRun_UpdateExcludesSelfFromScan(t *testing.T) {
	// The stored task overlaps its own new timing; only self-exclusion
	// lets the update through.
	o := &fakeOracle{narration: oracle.Narration{Text: "Moved."}}
	o.action = oracle.Action{
		Text:           "Moved.",
		DBAction:       oracle.ActionUpdate,
		CalendarAction: oracle.ActionUpdate,
		Update: &oracle.UpdatePayload{
			TaskID: "t-1",
			Task: oracle.TaskPayload{
				Title: "meeting", StartDate: "2025-03-10", StartTime: "10:30",
				EndDate: "2025-03-10", EndTime: "11:30", AddedToCalendar: true,
			},
		},
	}
	st := newFakeStore()
	st.seed(storage.Task{
		ID: "t-1", Owner: "u1", Title: "meeting",
		StartDate: "2025-03-10", StartTime: "10:00",
		EndDate: "2025-03-10", EndTime: "11:00",
		AddedToCalendar: true, EventID: "ev-1",
	})
	cal := &fakeCalendar{}
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "push the meeting 30 min", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Kind != ResultOK {
		t.Fatalf("Kind = %v, want ResultOK (self-overlap is not a conflict)", res.Kind)
	}
	if cal.updateCalls != 1 {
		t.Errorf("calendar update calls = %d, want 1", cal.updateCalls)
	}
	if st.updateCalls != 1 {
		t.Errorf("store update calls = %d, want 1", st.updateCalls)
	}
	stored, _ := st.GetTask("t-1")
	if stored.StartTime != "10:30" || stored.EventID != "ev-1" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRun_UpdateCalendarAddAdoptsNewEventID(t *testing.T) {
	o := &fakeOracle{narration: oracle.Narration{Text: "Re-synced."}}
	o.action = oracle.Action{
		Text:           "Re-synced.",
		DBAction:       oracle.ActionUpdate,
		CalendarAction: oracle.ActionAdd,
		Update: &oracle.UpdatePayload{
			TaskID: "t-1",
			Task: oracle.TaskPayload{
				Title: "review", StartDate: "2025-03-12", StartTime: "15:00",
				EndDate: "2025-03-12", EndTime: "16:00", AddedToCalendar: true,
			},
		},
	}
	st := newFakeStore()
	st.seed(storage.Task{
		ID: "t-1", Owner: "u1", Title: "review",
		StartDate: "2025-03-11", StartTime: "15:00",
		EndDate: "2025-03-11", EndTime: "16:00",
		AddedToCalendar: true, EventID: "ev-old",
	})
	cal := &fakeCalendar{nextEventID: "ev-fresh"}
	e := newEngine(o, st, nil)

	if _, err := e.Run(context.Background(), Request{Owner: "u1", Input: "move review to wednesday", Calendar: cal}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cal.createCalls != 1 {
		t.Errorf("calendar create calls = %d, want 1", cal.createCalls)
	}
	stored, _ := st.GetTask("t-1")
	if stored.EventID != "ev-fresh" {
		t.Errorf("EventID = %q, want the freshly created id", stored.EventID)
	}
}

func TestRun_DeleteMixedItems(t *testing.T) {
	o := &fakeOracle{}
	o.action = oracle.Action{
		Text:           "Deleted both.",
		DBAction:       oracle.ActionDelete,
		CalendarAction: oracle.ActionDelete,
		Delete: []oracle.DeleteItem{
			{TaskID: "t-1", AddedToCalendar: true},
			{TaskID: "t-2", AddedToCalendar: false},
		},
	}
	st := newFakeStore()
	st.seed(storage.Task{ID: "t-1", Owner: "u1", Title: "a", AddedToCalendar: true, EventID: "ev-1"})
	st.seed(storage.Task{ID: "t-2", Owner: "u1", Title: "b"})
	// Calendar failure must not block either store delete.
	cal := &fakeCalendar{deleteErr: errors.New("calendar down")}
	nt := &fakeNotifier{}
	e := newEngine(o, st, nt)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "delete both", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cal.deleteCalls != 1 {
		t.Errorf("calendar delete calls = %d, want exactly 1", cal.deleteCalls)
	}
	if st.deleteCalls != 2 {
		t.Errorf("store delete calls = %d, want 2", st.deleteCalls)
	}
	if len(res.Response.Deleted) != 2 {
		t.Errorf("deleted ids = %v, want both", res.Response.Deleted)
	}
	if len(nt.disarmed) != 2 {
		t.Errorf("disarmed = %v, want both tasks", nt.disarmed)
	}
}

func TestRun_AddPayloadCannotForceSyncFlag(t *testing.T) {
	// The model claims the task is synced; without a calendar create of our
	// own the stored record must stay local.
	o := &fakeOracle{narration: oracle.Narration{Text: "Saved."}}
	o.action = oracle.Action{
		Text:           "Saved.",
		DBAction:       oracle.ActionAdd,
		CalendarAction: oracle.ActionNone,
		Add: &oracle.TaskPayload{
			Title: "meeting", StartDate: "2025-03-10", StartTime: "10:00",
			EndDate: "2025-03-10", EndTime: "11:00", AddedToCalendar: true,
		},
	}
	st := newFakeStore()
	cal := &fakeCalendar{}
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "book it", Calendar: cal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cal.createCalls != 0 {
		t.Errorf("calendar create calls = %d, want 0", cal.createCalls)
	}
	if res.Response.AddedToCalendar {
		t.Error("response claims a sync that never happened")
	}
	stored, _ := st.GetTask(res.Response.TaskID)
	if stored.AddedToCalendar || stored.EventID != "" {
		t.Errorf("stored = %+v, want unsynced with empty event id", stored)
	}
}

func TestRun_MalformedSlotIsValidationError(t *testing.T) {
	o := &fakeOracle{}
	o.action = addAction(oracle.TaskPayload{
		Title: "meeting", StartDate: "tomorrow", StartTime: "10:00",
		EndDate: "2025-03-10", EndTime: "11:00",
	})
	st := newFakeStore()
	e := newEngine(o, st, nil)

	_, err := e.Run(context.Background(), Request{Owner: "u1", Input: "book it"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if st.insertCalls != 0 {
		t.Error("invalid turn must not persist anything")
	}
}

func TestRun_EmptyInput(t *testing.T) {
	e := newEngine(&fakeOracle{}, newFakeStore(), nil)
	if _, err := e.Run(context.Background(), Request{Owner: "u1", Input: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := e.Run(context.Background(), Request{Input: "hi"}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestRun_NoCalendarStaysLocal(t *testing.T) {
	o := &fakeOracle{narration: oracle.Narration{Text: "Saved."}}
	o.action = addAction(oracle.TaskPayload{
		Title: "gym", StartDate: "2025-03-10", StartTime: "07:00",
		EndDate: "2025-03-10", EndTime: "08:00",
	})
	st := newFakeStore()
	e := newEngine(o, st, nil)

	res, err := e.Run(context.Background(), Request{Owner: "u1", Input: "gym at 7"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Response.AddedToCalendar {
		t.Error("no calendar client, task must stay local")
	}
	stored, _ := st.GetTask(res.Response.TaskID)
	if stored.AddedToCalendar || stored.EventID != "" {
		t.Errorf("stored = %+v, want unsynced", stored)
	}
}
