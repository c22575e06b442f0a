package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// Drafter writes fresh notification wording, so each day's delivery for a
// recurring task reads differently. Implemented by oracle.Oracle.
type Drafter interface {
	NotificationMessage(ctx context.Context, task string) (oracle.Notification, error)
}

// TaskLister loads the daily tasks to re-arm. Implemented by storage.Store.
type TaskLister interface {
	ListDailyTasks() ([]storage.Task, error)
}

// Cron re-arms daily-recurring tasks: every day at the task's start time it
// drafts a fresh notification and queues it plus the follow-up.
type Cron struct {
	c       *cron.Cron
	sched   *Scheduler
	drafter Drafter
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCron creates a Cron scheduling in the given location.
func NewCron(sched *Scheduler, drafter Drafter, loc *time.Location) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	return &Cron{
		c:       cron.New(cron.WithLocation(loc)),
		sched:   sched,
		drafter: drafter,
		logger:  slog.Default(),
		entries: map[string]cron.EntryID{},
	}
}

// Arm queues the one-shot deliveries for a task and keeps its recurring
// entry in step with the daily flag: a daily task is registered (or its
// schedule replaced), a non-daily one drops any stale entry.
func (c *Cron) Arm(owner string, t storage.Task, n oracle.Narration) error {
	if t.Daily {
		if err := c.Add(t); err != nil {
			return err
		}
	} else {
		c.Remove(t.ID)
	}
	return c.sched.Arm(owner, t, n)
}

// Disarm drops a task's recurring delivery. Queued one-shot jobs still fire.
func (c *Cron) Disarm(taskID string) {
	c.Remove(taskID)
}

// Rearm registers every stored daily task. Called once at startup.
func (c *Cron) Rearm(lister TaskLister) error {
	tasks, err := lister.ListDailyTasks()
	if err != nil {
		return fmt.Errorf("listing daily tasks: %w", err)
	}
	for _, t := range tasks {
		if err := c.Add(t); err != nil {
			c.logger.Warn("re-arming daily task failed", "task", t.ID, "error", err)
		}
	}
	return nil
}

// Add registers a daily task's recurring delivery. Re-adding an id replaces
// its previous schedule.
func (c *Cron) Add(t storage.Task) error {
	if !t.Daily {
		return fmt.Errorf("task %s is not daily", t.ID)
	}
	tod, err := schedule.ParseTimeOfDay(t.StartTime)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	spec := fmt.Sprintf("%d %d * * *", tod.Minute(), tod.Hour())
	task := t
	id, err := c.c.AddFunc(spec, func() { c.fire(task) })
	if err != nil {
		return fmt.Errorf("scheduling task %s: %w", t.ID, err)
	}

	c.mu.Lock()
	if old, ok := c.entries[t.ID]; ok {
		c.c.Remove(old)
	}
	c.entries[t.ID] = id
	c.mu.Unlock()
	return nil
}

// Remove drops a task's recurring delivery.
func (c *Cron) Remove(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.entries[taskID]; ok {
		c.c.Remove(id)
		delete(c.entries, taskID)
	}
}

// Start begins firing schedules.
func (c *Cron) Start() {
	c.c.Start()
}

// Stop halts scheduling and waits for running fires to finish.
func (c *Cron) Stop() {
	<-c.c.Stop().Done()
}

// fire drafts fresh wording and queues the on-start and follow-up
// deliveries for one occurrence.
func (c *Cron) fire(t storage.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := c.drafter.NotificationMessage(ctx, t.Title)
	if err != nil {
		c.logger.Warn("drafting notification failed", "task", t.ID, "error", err)
		n = oracle.Notification{Title: t.Title, Body: "Your task starts now."}
	}

	now := time.Now()
	if err := c.sched.ArmAt(t.Owner, t.ID, n.Title, n.Body, now); err != nil {
		c.logger.Error("queueing notification failed", "task", t.ID, "error", err)
		return
	}
	if err := c.sched.ArmAt(t.Owner, t.ID, n.Title, "How is it going?", now.Add(c.sched.FollowUpDelay())); err != nil {
		c.logger.Error("queueing follow-up failed", "task", t.ID, "error", err)
	}
}
