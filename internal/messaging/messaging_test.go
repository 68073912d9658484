package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainrun-backend/pkg/models"
)

func TestInMemoryQueueCloseEndsTaskStream(t *testing.T) {
	queue := NewInMemoryQueue()
	require.NoError(t, queue.PublishRegisterRun(context.Background(), models.RegisterRunPayload{}))

	queue.Close()
	queue.Close() // second close is a no-op

	task, ok := <-queue.Tasks()
	require.True(t, ok, "buffered task should still be readable")
	assert.Equal(t, RegisterRunQueue, task.Type())

	_, ok = <-queue.Tasks()
	assert.False(t, ok, "task stream should be closed once drained")

	assert.Error(t, queue.PublishRegisterRun(context.Background(), models.RegisterRunPayload{}))
}

func TestInMemoryQueueNackRequeues(t *testing.T) {
	queue := NewInMemoryQueue()
	require.NoError(t, queue.PublishCheckpointReport(context.Background(), models.CheckpointReportPayload{WorldRank: 3}))

	task := <-queue.Tasks()
	require.NoError(t, task.Nack())

	requeued := <-queue.Tasks()
	assert.Equal(t, task.Payload(), requeued.Payload())
	require.NoError(t, requeued.Ack())

	queue.Close()
	assert.Error(t, requeued.Nack(), "requeue after close should fail, not panic")
}

func TestRabbitMQPublisherCloseWithoutConnection(t *testing.T) {
	p := &RabbitMQPublisher{}
	assert.NotPanics(t, p.Close)
}
