package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// Enqueuer is the subset of *asynq.Client used by the publisher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher hands authorized payments to the order worker through the task queue.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
}

// RecordAuthorization enqueues the record. The payment id doubles as the task
// id, so a record is queued at most once.
func (p Publisher) RecordAuthorization(ctx context.Context, rec Record) error {
	if p.Client == nil {
		return errors.New("orders: queue client not configured")
	}
	if strings.TrimSpace(rec.PaymentID) == "" {
		return errors.New("orders: payment id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("orders: encode record: %w", err)
	}
	queue := strings.TrimSpace(p.Queue)
	if queue == "" {
		queue = "orders"
	}
	maxRetry := p.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	_, err = p.Client.EnqueueContext(ctx, asynq.NewTask(TaskAuthorized, payload),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID("payment:"+rec.PaymentID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("orders: enqueue record: %w", err)
	}
	return nil
}

// NopRecorder drops records. It is used when no queue is configured.
type NopRecorder struct{}

// RecordAuthorization implements the recorder contract without side effects.
func (NopRecorder) RecordAuthorization(context.Context, Record) error { return nil }
