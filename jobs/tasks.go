package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type names processed by the worker.
const (
	TaskAuthzWarmup = "authz:warmup"
)

// WarmupPayload selects whose permissions to pre-resolve. At most one of
// DealerID or RoleID is set; an empty payload sweeps every assignment.
type WarmupPayload struct {
	DealerID int64 `json:"dealer_id,omitempty"`
	RoleID   int64 `json:"role_id,omitempty"`
}

// NewWarmupTask builds an asynq task for the payload.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal warmup payload: %w", err)
	}
	return asynq.NewTask(TaskAuthzWarmup, data), nil
}

// Enqueuer submits background tasks from the management services.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer constructs an Asynq producer for the given redis connection.
func NewEnqueuer(redisOpts asynq.RedisClientOpt) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(redisOpts)}
}

// Close releases client resources.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueueDealerWarmup schedules a warmup for every user of a dealer.
func (e *Enqueuer) EnqueueDealerWarmup(ctx context.Context, dealerID int64) error {
	task, err := NewWarmupTask(WarmupPayload{DealerID: dealerID})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("jobs: enqueue dealer warmup: %w", err)
	}
	return nil
}

// EnqueueRoleWarmup schedules a warmup for every user holding a role.
func (e *Enqueuer) EnqueueRoleWarmup(ctx context.Context, roleID int64) error {
	task, err := NewWarmupTask(WarmupPayload{RoleID: roleID})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("jobs: enqueue role warmup: %w", err)
	}
	return nil
}
