// Package queue implements the pipeline's step-message FIFO (spec §4.1/§7):
// at-least-once dequeue with a visibility timeout, exponential redelivery
// delay, and a poison queue once a message's dequeue count exceeds a bound.
//
// Two implementations: queue/inproc (a channel-backed queue for
// single-process "in-process mode") and queue/pubsub (Cloud Pub/Sub, giving
// the teacher's otherwise-unused cloud.google.com/go/pubsub dependency a
// real home as the "distributed mode" backend).
package queue

import (
	"context"
	"time"
)

// Message is one pipeline step invocation: "run stepName for pipelineKey".
type Message struct {
	PipelineIndex      string
	PipelineDocumentID string
	StepName           string
	// DequeueCount is the number of times this message has been delivered,
	// including the current delivery. Backends populate it on Dequeue.
	DequeueCount int
}

// DefaultMaxDequeueCount is the bound after which a message is routed to the
// poison queue (spec §4.1, §7: default 20).
const DefaultMaxDequeueCount = 20

// DefaultVisibilityTimeout is how long a dequeued message is hidden from
// other consumers before it reappears if not acknowledged (spec §7: default
// 300s).
const DefaultVisibilityTimeout = 300 * time.Second

// Handle is returned by Dequeue; callers pass it to Ack/Nack to resolve the
// delivery.
type Handle interface {
	// Message is the delivered message.
	Message() Message
}

// Queue is a FIFO of pipeline step messages with at-least-once delivery.
type Queue interface {
	// Enqueue adds msg to the back of the queue.
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue blocks until a message is available or ctx is done, returning
	// a Handle whose visibility timeout has started.
	Dequeue(ctx context.Context) (Handle, error)
	// Ack resolves a successful delivery, removing the message permanently.
	Ack(ctx context.Context, h Handle) error
	// Nack resolves a failed delivery: the message is redelivered after an
	// exponential delay (dequeueCount × 1s) unless its dequeue count exceeds
	// MaxDequeueCount, in which case it is moved to the poison queue instead.
	Nack(ctx context.Context, h Handle) error
}

// PoisonQueue receives messages that exceeded MaxDequeueCount, preserving
// their original content for later inspection/replay (spec §6).
type PoisonQueue interface {
	// Poisoned returns every message currently parked in the poison queue.
	Poisoned(ctx context.Context) ([]Message, error)
}

// RedeliveryDelay is the exponential backoff the spec names: dequeueCount × 1s.
func RedeliveryDelay(dequeueCount int) time.Duration {
	if dequeueCount < 1 {
		dequeueCount = 1
	}
	return time.Duration(dequeueCount) * time.Second
}
