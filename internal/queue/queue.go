// Package queue provides the background intake path: analysis requests are
// enqueued over Redis, consumed by the worker, and their outcomes stored for
// later retrieval.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// TypeAnalyzeVideo is the task type for one queued analysis.
const TypeAnalyzeVideo = "analyze:video"

const defaultQueue = "analyzer:default"

// Enqueuer submits analysis tasks to the queue.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an enqueuer from a Redis URL.
func NewEnqueuer(redisURL string) (*Enqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(opt)}, nil
}

// Enqueue queues one analysis task. Analysis is never retried: a failed run
// is recorded in the audit trail and surfaced through the stored result.
func (e *Enqueuer) Enqueue(ctx context.Context, payload models.AnalyzeTaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TypeAnalyzeVideo, data)
	if _, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(defaultQueue),
		asynq.MaxRetry(0),
		asynq.TaskID(payload.RequestID),
	); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close releases the client.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
