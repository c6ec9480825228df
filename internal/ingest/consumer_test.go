package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/kbforge/ingestd/internal/errors"
	"github.com/kbforge/ingestd/internal/queue"
)

type fakeDelivery struct {
	body    []byte
	outcome chan string
}

func (d *fakeDelivery) Body() []byte { return d.body }

func (d *fakeDelivery) Ack() error {
	d.outcome <- "ack"
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	if requeue {
		d.outcome <- "requeue"
	} else {
		d.outcome <- "dead"
	}
	return nil
}

type fakeQueue struct {
	deliveries chan queue.Delivery
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{deliveries: make(chan queue.Delivery, 16)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, body []byte) error {
	q.deliveries <- &fakeDelivery{body: body, outcome: make(chan string, 1)}
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context, name string) (queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-q.deliveries:
		return d, nil
	}
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) push(t *testing.T, body string) *fakeDelivery {
	t.Helper()
	d := &fakeDelivery{body: []byte(body), outcome: make(chan string, 1)}
	q.deliveries <- d
	return d
}

func awaitOutcome(t *testing.T, d *fakeDelivery) string {
	t.Helper()
	select {
	case outcome := <-d.outcome:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never settled")
		return ""
	}
}

type recordingProcessor struct {
	mu    sync.Mutex
	calls []Message
	errs  []error
}

func (p *recordingProcessor) Process(ctx context.Context, jobID, collectionName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Message{FileID: jobID, CollectionName: collectionName})
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *recordingProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func fastRetry() ierrors.RetryConfig {
	return ierrors.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func startConsumer(t *testing.T, q queue.Queue, p JobProcessor, concurrency int) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	consumer := NewConsumer(q, "documents", p, concurrency, fastRetry())
	go func() { done <- consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumerProcessesMessage(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{"file_id":"f-1","collection_name":"kb"}`)
	assert.Equal(t, "ack", awaitOutcome(t, d))

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.calls, 1)
	assert.Equal(t, "f-1", p.calls[0].FileID)
	assert.Equal(t, "kb", p.calls[0].CollectionName)
}

func TestConsumerIDFallback(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{"id":"f-2"}`)
	assert.Equal(t, "ack", awaitOutcome(t, d))

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.calls, 1)
	assert.Equal(t, "f-2", p.calls[0].FileID)
	assert.Empty(t, p.calls[0].CollectionName)
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{errs: []error{
		ierrors.EmbeddingFailed("upstream 503", nil),
		ierrors.EmbeddingFailed("upstream 503", nil),
	}}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{"file_id":"f-3"}`)
	assert.Equal(t, "ack", awaitOutcome(t, d))
	assert.Equal(t, 3, p.callCount())
}

func TestConsumerAcksAfterRetryExhaustion(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{errs: []error{
		ierrors.EmbeddingFailed("down", nil),
		ierrors.EmbeddingFailed("down", nil),
		ierrors.EmbeddingFailed("down", nil),
	}}
	startConsumer(t, q, p, 1)

	// Acked as failed, never requeued, so a poison message cannot loop.
	d := q.push(t, `{"file_id":"f-4"}`)
	assert.Equal(t, "ack", awaitOutcome(t, d))
	assert.Equal(t, 3, p.callCount())
}

func TestConsumerPermanentFailureSkipsRetry(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{errs: []error{
		ierrors.DuplicateContent("abc123"),
		errors.New("should not be reached"),
	}}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{"file_id":"f-5"}`)
	assert.Equal(t, "ack", awaitOutcome(t, d))
	assert.Equal(t, 1, p.callCount())
}

func TestConsumerDeadLettersMalformedMessage(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{not json`)
	assert.Equal(t, "dead", awaitOutcome(t, d))
	assert.Zero(t, p.callCount())
}

func TestConsumerDeadLettersMissingJobID(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{}
	startConsumer(t, q, p, 1)

	d := q.push(t, `{"collection_name":"kb"}`)
	assert.Equal(t, "dead", awaitOutcome(t, d))
	assert.Zero(t, p.callCount())
}

func TestConsumerParallelWorkers(t *testing.T) {
	q := newFakeQueue()
	p := &recordingProcessor{}
	startConsumer(t, q, p, 4)

	deliveries := make([]*fakeDelivery, 8)
	for i := range deliveries {
		deliveries[i] = q.push(t, `{"file_id":"f-n"}`)
	}
	for _, d := range deliveries {
		assert.Equal(t, "ack", awaitOutcome(t, d))
	}
	assert.Equal(t, 8, p.callCount())
}
