package queue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// InProcessQueue is a channel/list-backed Queue for single-process
// "in-process mode" (spec §4.1) — no network round trip, delivery order is
// exact FIFO, visibility timeout is enforced with a timer per delivery.
type InProcessQueue struct {
	mu                sync.Mutex
	ready             *list.List // *inprocEntry waiting to be dequeued
	inflight          map[*inprocEntry]*time.Timer
	notify            chan struct{}
	poison            []Message
	maxDequeueCount   int
	visibilityTimeout time.Duration
}

type inprocEntry struct {
	msg Message
}

func (e *inprocEntry) Message() Message { return e.msg }

// NewInProcessQueue returns a ready-to-use InProcessQueue with the spec's
// default bounds.
func NewInProcessQueue() *InProcessQueue {
	return &InProcessQueue{
		ready:             list.New(),
		inflight:          map[*inprocEntry]*time.Timer{},
		notify:            make(chan struct{}, 1),
		maxDequeueCount:   DefaultMaxDequeueCount,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
}

func (q *InProcessQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *InProcessQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	q.ready.PushBack(&inprocEntry{msg: msg})
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *InProcessQueue) Dequeue(ctx context.Context) (Handle, error) {
	for {
		q.mu.Lock()
		if front := q.ready.Front(); front != nil {
			q.ready.Remove(front)
			entry := front.Value.(*inprocEntry)
			entry.msg.DequeueCount++
			timer := time.AfterFunc(q.visibilityTimeout, func() { q.onVisibilityExpired(entry) })
			q.inflight[entry] = timer
			q.mu.Unlock()
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InProcessQueue) onVisibilityExpired(entry *inprocEntry) {
	q.mu.Lock()
	if _, stillInflight := q.inflight[entry]; !stillInflight {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, entry)
	q.requeueLocked(entry)
	q.mu.Unlock()
	q.wake()
}

// requeueLocked must be called with q.mu held. It implements the poison-vs-
// redeliver decision (spec §7): past MaxDequeueCount the message moves to
// the poison queue with its original content preserved.
func (q *InProcessQueue) requeueLocked(entry *inprocEntry) {
	if entry.msg.DequeueCount > q.maxDequeueCount {
		q.poison = append(q.poison, entry.msg)
		return
	}
	q.ready.PushBack(entry)
}

func (q *InProcessQueue) Ack(_ context.Context, h Handle) error {
	entry := h.(*inprocEntry)
	q.mu.Lock()
	if timer, ok := q.inflight[entry]; ok {
		timer.Stop()
		delete(q.inflight, entry)
	}
	q.mu.Unlock()
	return nil
}

// Nack resolves a failed delivery. Per spec §7 a redelivered message waits
// dequeueCount×1s before reappearing; a message that has exceeded
// MaxDequeueCount instead moves to the poison queue immediately.
func (q *InProcessQueue) Nack(_ context.Context, h Handle) error {
	entry := h.(*inprocEntry)
	q.mu.Lock()
	if timer, ok := q.inflight[entry]; ok {
		timer.Stop()
		delete(q.inflight, entry)
	}
	if entry.msg.DequeueCount > q.maxDequeueCount {
		q.poison = append(q.poison, entry.msg)
		q.mu.Unlock()
		return nil
	}
	delay := RedeliveryDelay(entry.msg.DequeueCount)
	q.mu.Unlock()
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.ready.PushBack(entry)
		q.mu.Unlock()
		q.wake()
	})
	return nil
}

// Poisoned implements PoisonQueue.
func (q *InProcessQueue) Poisoned(_ context.Context) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.poison))
	copy(out, q.poison)
	return out, nil
}
