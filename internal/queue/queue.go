package queue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
	UserID int64 `json:"user_id"`
}

// EnqueuePost schedules a publish task for when the post comes due. The
// task is only a nudge: the scheduler's claim decides whether this delivery
// or a sweep pass actually publishes.
func EnqueuePost(asynqClient *asynq.Client, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay), asynq.MaxRetry(3))
	if err != nil {
		return err
	}

	log.Printf("publish task scheduled: %+v", payload)
	return nil
}
