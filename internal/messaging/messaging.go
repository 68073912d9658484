package messaging

import (
	"context"
	"time"

	"trainrun-backend/pkg/models"
)

const (
	RegisterRunQueue = "register_run_queue"
	CheckpointQueue  = "checkpoint_queue"
	RetryDelay       = 5 * time.Second
	MaxConnectRetry  = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type Publisher interface {
	// PublishRegisterRun sends a run registration to the registry. The send
	// is fire-and-forget: no acknowledgement from the registry is awaited.
	PublishRegisterRun(ctx context.Context, payload models.RegisterRunPayload) error

	PublishCheckpointReport(ctx context.Context, payload models.CheckpointReportPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
