package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeBroadcast = "push:broadcast"
	TaskTypeDigest    = "notifications:digest"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the priority layout the worker serves.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// BroadcastPayload is a push composed by an admin. TargetTelegramID zero means every subscriber.
type BroadcastPayload struct {
	AdminTelegramID  int64  `json:"admin_telegram_id"`
	AdminChatID      int64  `json:"admin_chat_id"`
	Lang             string `json:"lang"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	URL              string `json:"url"`
	TargetTelegramID int64  `json:"target_telegram_id"`
}

type DigestPayload struct {
	BatchSize int `json:"batch_size"`
}

func NewBroadcastTask(p BroadcastPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeBroadcast, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	), nil
}

func NewDigestTask(batchSize int) (*asynq.Task, error) {
	payload, err := json.Marshal(DigestPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}

	// A digest run that overlaps the next tick is dropped rather than queued twice.
	return asynq.NewTask(TaskTypeDigest, payload,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(1),
		asynq.Unique(10*time.Minute),
	), nil
}
