package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"trainrun-backend/internal/database"
	"trainrun-backend/internal/messaging"
	"trainrun-backend/pkg/models"
)

const (
	// Retry budget for a checkpoint report consumed before its run's
	// registration. The delay gives the registration time to arrive; the
	// limit keeps a report whose registration was lost from occupying the
	// queue forever.
	orphanReportRetryLimit = 5
	orphanReportRetryDelay = 200 * time.Millisecond
)

// Registry is the singleton run-state store. It consumes registration and
// checkpoint-report messages and persists them for later inspection.
type Registry struct {
	db       *gorm.DB
	receiver messaging.Receiver

	// Requeue counts per orphan report payload. Only touched from the
	// single Start consumer goroutine.
	orphanRetries map[string]int
}

var (
	registryOnce     sync.Once
	registryInstance *Registry
)

func NewRegistry(db *gorm.DB, receiver messaging.Receiver) *Registry {
	return &Registry{db: db, receiver: receiver, orphanRetries: make(map[string]int)}
}

// GetOrCreateRegistry returns the process-wide registry, creating it on the
// first call. Later calls ignore their arguments and return the existing
// instance, so concurrent callers always share one registry.
func GetOrCreateRegistry(db *gorm.DB, receiver messaging.Receiver) *Registry {
	registryOnce.Do(func() {
		registryInstance = NewRegistry(db, receiver)
	})
	return registryInstance
}

// Start consumes tasks until the receiver's channel closes.
func (r *Registry) Start() {
	slog.Info("starting run registry consumer")

	for task := range r.receiver.Tasks() {
		r.processTask(task)
	}
}

func (r *Registry) Stop() {
	slog.Info("stopping run registry consumer")

	r.receiver.Close()
}

func (r *Registry) processTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.RegisterRunQueue:
		var payload models.RegisterRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling run registration", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = r.RegisterTrainRun(ctx, payload.Run)

	case messaging.CheckpointQueue:
		var payload models.CheckpointReportPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling checkpoint report", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = r.RecordCheckpoint(ctx, payload)
		if errors.Is(err, database.ErrRunNotFound) {
			r.handleOrphanReport(task, payload)
			return
		}
		delete(r.orphanRetries, string(task.Payload()))

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// handleOrphanReport requeues a checkpoint report whose run has not been
// registered yet. Registrations and reports travel on separate queues, so a
// report can overtake its registration; a paced, bounded requeue lets the
// registration catch up, and reports that exhaust the budget are dropped
// rather than left to block the queue.
func (r *Registry) handleOrphanReport(task messaging.Task, payload models.CheckpointReportPayload) {
	key := string(task.Payload())
	r.orphanRetries[key]++

	if r.orphanRetries[key] <= orphanReportRetryLimit {
		slog.Warn("checkpoint report for unknown run, requeueing",
			"run_id", payload.RunId, "rank", payload.WorldRank, "attempt", r.orphanRetries[key])
		time.Sleep(orphanReportRetryDelay)
		if err := task.Nack(); err != nil {
			slog.Error("error requeueing message from queue", "error", err)
		}
		return
	}

	delete(r.orphanRetries, key)
	slog.Error("dropping checkpoint report for unknown run",
		"run_id", payload.RunId, "rank", payload.WorldRank)
	if err := task.Reject(); err != nil {
		slog.Error("error rejecting message from queue", "error", err)
	}
}

// RegisterTrainRun stores a run's immutable registration record.
func (r *Registry) RegisterTrainRun(ctx context.Context, run models.RunInfo) error {
	if err := database.CreateTrainRun(ctx, r.db, run); err != nil {
		return err
	}
	slog.Info("registered train run", "run_id", run.Id, "name", run.Name, "workers", len(run.Workers))
	return nil
}

// RecordCheckpoint appends a checkpoint report to a run's history.
func (r *Registry) RecordCheckpoint(ctx context.Context, report models.CheckpointReportPayload) error {
	if err := database.AddRunCheckpoint(ctx, r.db, report); err != nil {
		return err
	}
	slog.Info("recorded checkpoint", "run_id", report.RunId, "rank", report.WorldRank, "stage", report.Stage)
	return nil
}
