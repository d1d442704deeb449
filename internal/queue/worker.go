package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/hibiken/asynq"

	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/scheduler"
)

type Worker struct {
	sched *scheduler.Scheduler
}

func NewWorker(sched *scheduler.Scheduler) *Worker {
	return &Worker{sched: sched}
}

// HandlePublishPostTask drives one post through the scheduler's claim and
// publish path. A post that was already claimed or finished by another
// invocation is not an error worth retrying.
func (w *Worker) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	summary, err := w.sched.PublishPost(ctx, payload.UserID, payload.PostID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrValidation) {
			log.Printf("skipping publish task for post %d: %v", payload.PostID, err)
			return nil
		}
		return err
	}

	log.Printf("publish task for post %d done: %+v", payload.PostID, summary)
	return nil
}
