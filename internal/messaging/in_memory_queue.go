package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trainrun-backend/pkg/models"
)

type inMemoryTask struct {
	queue   string
	payload []byte
	q       *InMemoryQueue
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

// Nack mirrors the broker's requeue so consumer retry paths behave the same
// against the in-memory twin.
func (t *inMemoryTask) Nack() error {
	return t.q.enqueue(t)
}

func (t *inMemoryTask) Reject() error {
	return nil
}

type InMemoryQueue struct {
	lock   sync.Mutex
	tasks  chan Task
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) enqueue(task Task) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	q.tasks <- task
	return nil
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return q.enqueue(&inMemoryTask{queue: queue, payload: data, q: q})
}

func (q *InMemoryQueue) PublishRegisterRun(ctx context.Context, payload models.RegisterRunPayload) error {
	return q.publishTaskInternal(RegisterRunQueue, payload)
}

func (q *InMemoryQueue) PublishCheckpointReport(ctx context.Context, payload models.CheckpointReportPayload) error {
	return q.publishTaskInternal(CheckpointQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

// Close ends the task stream. Buffered tasks remain readable; consumers see
// the channel close once they are drained.
func (q *InMemoryQueue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
