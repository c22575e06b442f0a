// Package notify queues and delivers task notifications: an on-start
// message when a task begins and a follow-up a few minutes after.
// Deliveries land in the chat transcript as bot messages.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// JobType tags queued notification deliveries.
const JobType = "notify"

// DefaultFollowUpDelay is how long after a task starts the follow-up fires.
const DefaultFollowUpDelay = 10 * time.Minute

// Queue persists pending deliveries. Implemented by storage.Store.
type Queue interface {
	EnqueueJob(job storage.Job) error
}

// Payload is the queued delivery body.
type Payload struct {
	Owner  string `json:"owner"`
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Scheduler enqueues the on-start and follow-up deliveries for a task.
type Scheduler struct {
	queue    Queue
	loc      *time.Location
	followUp time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler delivering in the given location.
// A nil location means UTC; a non-positive delay gets the default.
func NewScheduler(queue Queue, loc *time.Location, followUp time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if followUp <= 0 {
		followUp = DefaultFollowUpDelay
	}
	return &Scheduler{queue: queue, loc: loc, followUp: followUp, now: time.Now}
}

// Arm queues the task's on-start and follow-up notifications. Tasks whose
// start already passed (and are not daily) are skipped silently.
func (s *Scheduler) Arm(owner string, t storage.Task, n oracle.Narration) error {
	startAt, err := s.nextStart(t)
	if err != nil {
		return fmt.Errorf("arming task %s: %w", t.ID, err)
	}
	if startAt.IsZero() {
		return nil
	}

	if n.Title != "" || n.Body != "" {
		if err := s.enqueue(owner, t.ID, n.Title, n.Body, startAt); err != nil {
			return fmt.Errorf("arming on-start for task %s: %w", t.ID, err)
		}
	}
	if n.Title1 != "" || n.Body1 != "" {
		if err := s.enqueue(owner, t.ID, n.Title1, n.Body1, startAt.Add(s.followUp)); err != nil {
			return fmt.Errorf("arming follow-up for task %s: %w", t.ID, err)
		}
	}
	return nil
}

// ArmAt queues a single delivery at the given time. The daily re-arm cron
// uses this with freshly drafted wording.
func (s *Scheduler) ArmAt(owner, taskID, title, body string, at time.Time) error {
	return s.enqueue(owner, taskID, title, body, at)
}

// FollowUpDelay reports the configured follow-up offset.
func (s *Scheduler) FollowUpDelay() time.Duration {
	return s.followUp
}

func (s *Scheduler) enqueue(owner, taskID, title, body string, at time.Time) error {
	data, err := json.Marshal(Payload{Owner: owner, TaskID: taskID, Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return s.queue.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(data),
		RunAfter:    at,
	})
}

// nextStart resolves when the task next begins. For daily tasks that is
// today at the start time, or tomorrow when that already passed. A zero
// time means nothing to arm.
func (s *Scheduler) nextStart(t storage.Task) (time.Time, error) {
	if t.StartTime == "" {
		return time.Time{}, nil
	}
	tod, err := schedule.ParseTimeOfDay(t.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing start time: %w", err)
	}

	now := s.now().In(s.loc)

	if t.Daily {
		next := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), 0, 0, s.loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	}

	if t.StartDate == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(schedule.DateLayout, t.StartDate, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing start date: %w", err)
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, s.loc)
	if at.Before(now) {
		return time.Time{}, nil
	}
	return at, nil
}
