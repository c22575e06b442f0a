package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/daybot/internal/storage"
)

// JobStore abstracts the delivery queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Sink receives delivered notifications. Implemented by storage.Store,
// which lands them in the chat transcript.
type Sink interface {
	AppendMessage(owner, text, role string) error
}

// Worker drains due notification jobs and delivers them to the sink.
type Worker struct {
	store  JobStore
	sink   Sink
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. A non-positive pollInterval defaults to 500ms.
func NewWorker(store JobStore, sink Sink, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{store: store, sink: sink, poll: pollInterval, logger: slog.Default()}
}

// Run polls for due deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("notify iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single due job. Returns true if a job was
// processed, regardless of outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.deliver(job); err != nil {
		w.logger.Warn("delivery failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) deliver(job *storage.Job) error {
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.Owner == "" {
		return fmt.Errorf("payload missing owner")
	}

	text := p.Body
	if p.Title != "" {
		text = p.Title + ": " + p.Body
	}
	if err := w.sink.AppendMessage(p.Owner, text, storage.RoleBot); err != nil {
		return fmt.Errorf("appending notification: %w", err)
	}
	return nil
}
