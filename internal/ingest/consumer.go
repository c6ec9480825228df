package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ierrors "github.com/kbforge/ingestd/internal/errors"
	"github.com/kbforge/ingestd/internal/queue"
)

// Message is the ingestion job payload. Either file_id or id names the
// job record; collection_name optionally targets a shared collection.
type Message struct {
	FileID         string `json:"file_id,omitempty"`
	ID             string `json:"id,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
}

// JobID returns the job identifier, preferring file_id over id.
func (m Message) JobID() string {
	if m.FileID != "" {
		return m.FileID
	}
	return m.ID
}

// JobProcessor runs one ingestion job. *Processor satisfies this.
type JobProcessor interface {
	Process(ctx context.Context, jobID, collectionName string) error
}

// Consumer pulls job messages from a queue and hands them to a
// processor, retrying transient failures with exponential backoff.
// After retries are exhausted the message is acked as failed rather
// than requeued, so a poison message cannot loop forever.
type Consumer struct {
	queue       queue.Queue
	queueName   string
	processor   JobProcessor
	concurrency int
	retry       ierrors.RetryConfig
}

// NewConsumer builds a consumer with the given parallelism. Zero or
// negative concurrency means one worker.
func NewConsumer(q queue.Queue, queueName string, processor JobProcessor, concurrency int, retry ierrors.RetryConfig) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		queue:       q,
		queueName:   queueName,
		processor:   processor,
		concurrency: concurrency,
		retry:       retry,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled or a
// worker fails to receive from the queue.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.concurrency; i++ {
		g.Go(func() error {
			return c.work(ctx)
		})
	}
	return g.Wait()
}

func (c *Consumer) work(ctx context.Context) error {
	for {
		delivery, err := c.queue.Receive(ctx, c.queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.handle(ctx, delivery)
	}
}

// handle processes one delivery. Malformed payloads are dead-lettered;
// processing failures are logged and acked after the retry budget is
// spent, leaving the job record in its failed state.
func (c *Consumer) handle(ctx context.Context, delivery queue.Delivery) {
	var msg Message
	if err := json.Unmarshal(delivery.Body(), &msg); err != nil {
		slog.Error("malformed job message",
			slog.String("queue", c.queueName),
			slog.String("error", err.Error()))
		c.finish(delivery.Nack(false))
		return
	}
	jobID := msg.JobID()
	if jobID == "" {
		slog.Error("job message missing file id", slog.String("queue", c.queueName))
		c.finish(delivery.Nack(false))
		return
	}

	if err := c.processWithRetry(ctx, jobID, msg.CollectionName); err != nil {
		slog.Error("job failed after retries",
			slog.String("job_id", jobID),
			slog.String("collection", msg.CollectionName),
			slog.String("error", err.Error()))
	}
	c.finish(delivery.Ack())
}

// processWithRetry retries only failures marked retryable (embedding or
// vector store outages); misconfiguration, empty content and duplicate
// content fail immediately.
func (c *Consumer) processWithRetry(ctx context.Context, jobID, collectionName string) error {
	var permanent error
	err := ierrors.Retry(ctx, c.retry, func() error {
		err := c.processor.Process(ctx, jobID, collectionName)
		if err != nil && !ierrors.IsRetryable(err) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	return err
}

func (c *Consumer) finish(err error) {
	if err != nil {
		slog.Error("queue acknowledgement failed",
			slog.String("queue", c.queueName),
			slog.String("error", err.Error()))
	}
}
