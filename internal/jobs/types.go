package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskPurgeCache = "cache:purge"
	TaskWarmDomain = "cache:warm"

	QueueMaintenance = "maintenance"
)

// WarmPayload asks the worker to fill one cache line. An empty Date means
// today in the coordinator's timezone.
type WarmPayload struct {
	Domain string `json:"domain"`
	Date   string `json:"date,omitempty"`
}

func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeCache, nil,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	)
}

func NewWarmTask(domain, date string) (*asynq.Task, error) {
	payload, err := json.Marshal(WarmPayload{Domain: domain, Date: date})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarmDomain, payload,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	), nil
}
