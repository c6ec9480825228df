// Package queue provides the durable message queue the ingestion
// consumer pulls from.
//
// The transport contract is small: enqueue a payload, receive one
// delivery at a time, then ack or nack it. Unacked deliveries become
// visible again after a timeout, which is the only redelivery
// mechanism; a job is never resumed mid-step.
package queue

import "context"

// Delivery is one claimed message. Exactly one of Ack or Nack must be
// called; until then the message stays invisible to other consumers.
type Delivery interface {
	// Body returns the message payload.
	Body() []byte

	// Ack marks the message as consumed and removes it.
	Ack() error

	// Nack releases the message. With requeue it becomes visible for
	// redelivery immediately; without, it is dead-lettered.
	Nack(requeue bool) error
}

// Queue is the durable transport contract.
type Queue interface {
	// Enqueue appends a payload to the named queue.
	Enqueue(ctx context.Context, queue string, body []byte) error

	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context, queue string) (Delivery, error)

	// Close releases the queue.
	Close() error
}
