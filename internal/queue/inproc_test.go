package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewInProcessQueue()
	require.NoError(t, q.Enqueue(ctx, Message{PipelineIndex: "default", PipelineDocumentID: "doc1", StepName: "extract"}))

	h, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "extract", h.Message().StepName)
	assert.Equal(t, 1, h.Message().DequeueCount)

	require.NoError(t, q.Ack(ctx, h))

	poisoned, err := q.Poisoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, poisoned)
}

func TestInProcessQueue_NackRedeliversWithIncreasingCount(t *testing.T) {
	ctx := context.Background()
	q := NewInProcessQueue()
	q.visibilityTimeout = time.Hour // isolate redelivery-on-nack from visibility expiry
	require.NoError(t, q.Enqueue(ctx, Message{PipelineIndex: "default", PipelineDocumentID: "doc1", StepName: "extract"}))

	h1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h1.Message().DequeueCount)
	require.NoError(t, q.Nack(ctx, h1))

	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h2, err := q.Dequeue(ctx2)
	require.NoError(t, err)
	assert.Equal(t, 2, h2.Message().DequeueCount)
}

func TestInProcessQueue_PastMaxDequeueCountGoesToPoison(t *testing.T) {
	ctx := context.Background()
	q := NewInProcessQueue()
	q.maxDequeueCount = 2
	require.NoError(t, q.Enqueue(ctx, Message{PipelineIndex: "default", PipelineDocumentID: "doc1", StepName: "extract"}))

	// Dequeue blocks until a message is ready, whether that's an immediate
	// poison decision or a delayed redelivery, so no manual sleeping is
	// needed between iterations.
	for i := 0; i < 3; i++ {
		h, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, h))
	}

	poisoned, err := q.Poisoned(ctx)
	require.NoError(t, err)
	require.Len(t, poisoned, 1)
	assert.Equal(t, "extract", poisoned[0].StepName)
}
