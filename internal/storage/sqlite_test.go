package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(owner string) Task {
	return Task{
		Owner:       owner,
		Title:       "meeting",
		Description: "weekly sync",
		Summary:     "Weekly sync",
		StartDate:   "2025-03-10",
		StartTime:   "10:00",
		EndDate:     "2025-03-10",
		EndTime:     "11:00",
	}
}

func TestInsertAndGetTask(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertTask(sampleTask("alice@example.com"))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if id == "" {
		t.Fatal("InsertTask returned empty id")
	}

	got, err := s.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "meeting" || got.Owner != "alice@example.com" {
		t.Errorf("GetTask = %+v, want inserted fields", got)
	}
	if got.AddedToCalendar {
		t.Error("AddedToCalendar = true, want false by default")
	}
}

func TestInsertTask_KeepsProvidedID(t *testing.T) {
	s := openTestStore(t)

	task := sampleTask("alice@example.com")
	task.ID = "fixed-id"
	id, err := s.InsertTask(task)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if id != "fixed-id" {
		t.Errorf("InsertTask id = %q, want fixed-id", id)
	}
}

func TestInsertTask_RequiresOwner(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertTask(Task{Title: "orphan"}); err == nil {
		t.Error("InsertTask without owner: want error")
	}
}

func TestListTasksByOwner_Isolation(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertTask(sampleTask("alice@example.com")); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := s.InsertTask(sampleTask("bob@example.com")); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	tasks, err := s.ListTasksByOwner("alice@example.com")
	if err != nil {
		t.Fatalf("ListTasksByOwner: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("got %d tasks for alice, want 1", len(tasks))
	}
}

func TestUpdateTask(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertTask(sampleTask("alice@example.com"))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	updated := sampleTask("alice@example.com")
	updated.Title = "rescheduled meeting"
	updated.AddedToCalendar = true
	updated.EventID = "evt-42"
	if err := s.UpdateTask(id, updated); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, err := s.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "rescheduled meeting" || !got.AddedToCalendar || got.EventID != "evt-42" {
		t.Errorf("GetTask after update = %+v", got)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateTask("missing", sampleTask("alice@example.com"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTask(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertTask(sampleTask("alice@example.com"))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.DeleteTask(id); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTask(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteTask error = %v, want ErrNotFound", err)
	}
}

func TestListDailyTasks(t *testing.T) {
	s := openTestStore(t)

	daily := sampleTask("alice@example.com")
	daily.Daily = true
	if _, err := s.InsertTask(daily); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := s.InsertTask(sampleTask("alice@example.com")); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	tasks, err := s.ListDailyTasks()
	if err != nil {
		t.Fatalf("ListDailyTasks: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Daily {
		t.Errorf("ListDailyTasks = %+v, want single daily task", tasks)
	}
}

func TestMessages_AppendListClear(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage("alice@example.com", "add a meeting tomorrow", RoleUser); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage("alice@example.com", "what time should it end?", RoleBot); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage("bob@example.com", "hello", RoleUser); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.ListMessagesByOwner("alice@example.com")
	if err != nil {
		t.Fatalf("ListMessagesByOwner: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleBot {
		t.Errorf("message order = [%s %s], want [user bot]", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].CreatedAt.Before(msgs[0].CreatedAt) {
		t.Error("messages not in timestamp order")
	}

	if err := s.ClearMessages("alice@example.com"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	msgs, err = s.ListMessagesByOwner("alice@example.com")
	if err != nil {
		t.Fatalf("ListMessagesByOwner: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(msgs))
	}

	if err := s.ClearMessages("alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClearMessages on empty transcript error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessage_RejectsUnknownRole(t *testing.T) {
	s := openTestStore(t)
	if err := s.AppendMessage("alice@example.com", "hi", "system"); err == nil {
		t.Error("AppendMessage with unknown role: want error")
	}
}

func TestJobs_EnqueueClaimComplete(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j1", Type: "notify", PayloadJSON: `{"owner":"alice@example.com"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != "j1" {
		t.Fatalf("ClaimNextJob = %+v, want j1", claimed)
	}
	if claimed.Status != "running" {
		t.Errorf("claimed status = %q, want running", claimed.Status)
	}

	// Already claimed, nothing else is due.
	again, err := s.ClaimNextJob([]string{"notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("second claim = %+v, want nil", again)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestJobs_FutureJobNotClaimed(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j2", Type: "notify", PayloadJSON: "{}", RunAfter: time.Now().Add(time.Hour)}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed future job %+v, want nil", claimed)
	}
}

func TestJobs_FailAndRetry(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j3", Type: "notify", PayloadJSON: "{}", MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"notify"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	// First failure re-queues with backoff, so it is not immediately due.
	if err := s.FailJob("j3", "delivery failed"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	claimed, err := s.ClaimNextJob([]string{"notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed backed-off job %+v, want nil", claimed)
	}

	// Second failure exhausts attempts.
	if err := s.FailJob("j3", "delivery failed again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob on missing job error = %v, want ErrNotFound", err)
	}
}
