package runstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"trainrun-backend/internal/checkpoint"
	"trainrun-backend/internal/messaging"
	"trainrun-backend/internal/session"
	"trainrun-backend/internal/storage"
	"trainrun-backend/internal/trainer"
	"trainrun-backend/pkg/models"
)

// ResultRecorder turns per-worker training reports into durable state: it
// uploads staged checkpoints to the object store and publishes a checkpoint
// record to the registry. Placeholder checkpoints from non-reporting ranks
// are dropped.
type ResultRecorder struct {
	runId     uuid.UUID
	store     storage.ObjectStore
	bucket    string
	publisher messaging.Publisher

	seq atomic.Int64
}

func NewResultRecorder(runId uuid.UUID, store storage.ObjectStore, bucket string, publisher messaging.Publisher) *ResultRecorder {
	return &ResultRecorder{runId: runId, store: store, bucket: bucket, publisher: publisher}
}

// HandlerFor returns the report handler for one worker's session. The
// handler runs synchronously inside the worker's report call; the staged
// checkpoint directory is only valid until it returns.
func (r *ResultRecorder) HandlerFor(worldRank int) session.ReportHandler {
	return func(ctx context.Context, res session.Result) error {
		return r.record(ctx, worldRank, res)
	}
}

func (r *ResultRecorder) record(ctx context.Context, worldRank int, res session.Result) error {
	stage, _ := res.Metrics[models.ReportStageKey].(string)
	metrics := trainer.CoerceMetrics(res.Metrics)

	var location string
	ckpt := checkpoint.FromDirectory(res.CheckpointDir)
	if ckpt.HasModel() {
		prefix := fmt.Sprintf("%s/checkpoint_%06d", r.runId, r.seq.Add(1))
		if err := ckpt.Upload(ctx, r.store, r.bucket, prefix); err != nil {
			return fmt.Errorf("failed to persist checkpoint for rank %d: %w", worldRank, err)
		}
		location = fmt.Sprintf("%s/%s", r.bucket, prefix)
		slog.Info("uploaded checkpoint", "run_id", r.runId, "rank", worldRank, "location", location)
	} else {
		// Placeholder report from a non-reporting rank. Metrics are still
		// forwarded so the registry sees every rank's view of the run.
		slog.Debug("skipping placeholder checkpoint", "run_id", r.runId, "rank", worldRank)
	}

	payload := models.CheckpointReportPayload{
		RunId:           r.runId,
		WorldRank:       worldRank,
		Stage:           stage,
		Metrics:         metrics,
		StorageLocation: location,
	}
	if err := r.publisher.PublishCheckpointReport(ctx, payload); err != nil {
		slog.Error("failed to publish checkpoint report", "run_id", r.runId, "rank", worldRank, "error", err)
	}
	return nil
}
