package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// PubsubQueue implements Queue on Cloud Pub/Sub for "distributed mode"
// (spec §4.1): every step's messages travel on the one topic/subscription
// pair the queue was opened with, and the step name rides in the message
// body; steps do not get topics of their own. The teacher's go.mod already listed
// cloud.google.com/go/pubsub as a dependency but never imported it; this is
// that dependency's first real caller.
type PubsubQueue struct {
	client            *pubsub.Client
	topic             *pubsub.Topic
	sub               *pubsub.Subscription
	maxDequeueCount   int
	visibilityTimeout time.Duration

	mu      sync.Mutex
	poison  []Message
	handles map[string]*pubsubHandle // ackID -> handle, for Ack/Nack lookups
}

type pubsubHandle struct {
	msg       Message
	ackID     string
	ackFn     func()
	nackFn    func()
}

func (h *pubsubHandle) Message() Message { return h.msg }

// wireMessage is the JSON envelope carried in a Pub/Sub message body.
type wireMessage struct {
	Index      string `json:"index"`
	DocumentID string `json:"documentId"`
	StepName   string `json:"stepName"`
}

// dequeueCountAttr is the Pub/Sub message attribute used to track delivery
// attempts; Pub/Sub's own "delivery attempt" field requires dead-lettering
// to be configured, so we track it ourselves in the attribute to keep the
// poison-routing decision entirely in application code.
const dequeueCountAttr = "kmemory_dequeue_count"

// NewPubsubQueue opens the topic/subscription pair that carries step messages.
func NewPubsubQueue(ctx context.Context, projectID, topicID, subscriptionID string) (*PubsubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("queue.NewPubsubQueue: %w", err)
	}
	return &PubsubQueue{
		client:            client,
		topic:             client.Topic(topicID),
		sub:               client.Subscription(subscriptionID),
		maxDequeueCount:   DefaultMaxDequeueCount,
		visibilityTimeout: DefaultVisibilityTimeout,
		handles:           map[string]*pubsubHandle{},
	}, nil
}

func (q *PubsubQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(wireMessage{Index: msg.PipelineIndex, DocumentID: msg.PipelineDocumentID, StepName: msg.StepName})
	if err != nil {
		return fmt.Errorf("queue.PubsubQueue.Enqueue: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{dequeueCountAttr: "0"},
	})
	if _, err := result.Get(ctx); err != nil {
		return classifyPubsubError("queue.PubsubQueue.Enqueue", err)
	}
	return nil
}

// Dequeue pulls a single message via a short-lived Receive call, per the
// teacher's preference for explicit request/response flows over long-lived
// streaming subscriptions elsewhere in the codebase.
func (q *PubsubQueue) Dequeue(ctx context.Context) (Handle, error) {
	pullCtx, cancel := context.WithCancel(ctx)
	resultCh := make(chan Handle, 1)
	errCh := make(chan error, 1)

	go func() {
		err := q.sub.Receive(pullCtx, func(_ context.Context, m *pubsub.Message) {
			defer cancel() // only take the first message per Dequeue call

			var wm wireMessage
			if err := json.Unmarshal(m.Data, &wm); err != nil {
				m.Nack()
				return
			}
			count, _ := strconv.Atoi(m.Attributes[dequeueCountAttr])
			count++

			h := &pubsubHandle{
				msg: Message{
					PipelineIndex:      wm.Index,
					PipelineDocumentID: wm.DocumentID,
					StepName:           wm.StepName,
					DequeueCount:       count,
				},
				ackID:  m.ID,
				ackFn:  m.Ack,
				nackFn: m.Nack,
			}
			q.mu.Lock()
			q.handles[m.ID] = h
			q.mu.Unlock()

			select {
			case resultCh <- h:
			default:
			}
		})
		if err != nil && pullCtx.Err() == nil {
			errCh <- err
		}
	}()

	select {
	case h := <-resultCh:
		return h, nil
	case err := <-errCh:
		return nil, classifyPubsubError("queue.PubsubQueue.Dequeue", err)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func (q *PubsubQueue) Ack(_ context.Context, h Handle) error {
	ph := h.(*pubsubHandle)
	ph.ackFn()
	q.mu.Lock()
	delete(q.handles, ph.ackID)
	q.mu.Unlock()
	return nil
}

// Nack resolves a failed delivery. Past MaxDequeueCount the message is
// recorded in the local poison list and acked (removed from the live
// subscription) rather than nacked forever, matching "moved to a poison
// queue with the original content preserved" (spec §4.1).
func (q *PubsubQueue) Nack(ctx context.Context, h Handle) error {
	ph := h.(*pubsubHandle)
	q.mu.Lock()
	delete(q.handles, ph.ackID)
	q.mu.Unlock()

	if ph.msg.DequeueCount > q.maxDequeueCount {
		q.mu.Lock()
		q.poison = append(q.poison, ph.msg)
		q.mu.Unlock()
		ph.ackFn()
		return nil
	}

	ph.nackFn()
	return nil
}

// Poisoned implements PoisonQueue.
func (q *PubsubQueue) Poisoned(_ context.Context) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.poison))
	copy(out, q.poison)
	return out, nil
}

// Close releases the underlying client.
func (q *PubsubQueue) Close() error {
	return q.client.Close()
}

func classifyPubsubError(op string, err error) error {
	return kmerr.New(kmerr.KindTransientBackend, op, err)
}
