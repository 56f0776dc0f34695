package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypePushDeliver is the queue task carrying one push payload from
// the API server to the detached worker.
const TaskTypePushDeliver = "push:deliver"

// Enqueuer hands push payloads to the background worker.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(redisURL string) (*Enqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(opt)}, nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueuePush queues a push delivery. The payload travels as the push
// channel wire shape so the worker handles it exactly like a real push.
func (e *Enqueuer) EnqueuePush(ctx context.Context, payload Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode push payload: %w", err)
	}
	task := asynq.NewTask(TaskTypePushDeliver, raw)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("notify: enqueue push: %w", err)
	}
	return nil
}

// ProcessTask adapts the gateway to asynq's handler signature.
func (g *Gateway) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return g.HandlePush(ctx, t.Payload())
}
