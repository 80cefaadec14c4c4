package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// Runner executes one analysis; satisfied by analyze.Pipeline.
type Runner interface {
	Run(ctx context.Context, req analyze.Request) (*analyze.Result, error)
}

// ResultSink persists outcomes and progress updates; satisfied by ResultStore.
type ResultSink interface {
	SetResult(ctx context.Context, requestID string, body []byte) error
	PublishProgress(ctx context.Context, requestID, stage string)
}

// Consumer pulls analysis tasks off the queue and runs them.
type Consumer struct {
	server  *asynq.Server
	runner  Runner
	results ResultSink
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Runner      Runner
	Results     ResultSink
}

// NewConsumer creates a queue consumer.
func NewConsumer(config *ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				defaultQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Printf("Task %s failed: %v", task.Type(), err)
			}),
		},
	)

	return &Consumer{
		server:  server,
		runner:  config.Runner,
		results: config.Results,
	}, nil
}

// Start runs the consumer until Stop is called.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyzeVideo, c.handleAnalyzeTask)

	log.Println("Starting analysis worker...")
	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully.
func (c *Consumer) Stop() {
	log.Println("Shutting down analysis worker...")
	c.server.Shutdown()
}

// storedResult is the outcome document persisted for async callers. It
// mirrors the synchronous response body plus a status envelope.
type storedResult struct {
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Analysis  *analyze.Result `json:"analysis,omitempty"`
}

// handleAnalyzeTask runs one queued analysis. The task itself always
// succeeds from the queue's point of view: a failed analysis is a terminal
// outcome recorded in the audit trail and the stored result, not something
// to retry.
func (c *Consumer) handleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	var payload models.AnalyzeTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to parse task payload: %w", err)
	}

	log.Printf("Processing analysis request %s (milestone %s)", payload.RequestID, payload.MilestoneID)
	c.results.PublishProgress(ctx, payload.RequestID, "processing")

	result, err := c.runner.Run(ctx, analyze.Request{
		RequestID:   payload.RequestID,
		MilestoneID: payload.MilestoneID,
		VideoURL:    payload.VideoURL,
		APIKeyID:    payload.APIKeyID,
	})

	stored := storedResult{RequestID: payload.RequestID}
	if err != nil {
		e := apperr.Classify(err)
		stored.Status = models.StatusError
		stored.Error = e.Message
		if e.HTTPStatus >= http.StatusInternalServerError {
			log.Printf("Analysis request %s failed: %v", payload.RequestID, err)
		}
	} else {
		stored.Status = models.StatusSuccess
		stored.Analysis = result
	}

	body, merr := json.Marshal(stored)
	if merr != nil {
		return fmt.Errorf("failed to marshal stored result: %w", merr)
	}
	if serr := c.results.SetResult(ctx, payload.RequestID, body); serr != nil {
		log.Printf("WARNING: failed to store result for %s: %v", payload.RequestID, serr)
	}
	c.results.PublishProgress(ctx, payload.RequestID, "done")

	return nil
}
