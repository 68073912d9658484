package trainer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"trainrun-backend/internal/checkpoint"
	"trainrun-backend/pkg/models"
)

type relayState int

const (
	relayIdle relayState = iota
	relayCheckpointPending
	relayReported
)

// CheckpointRelay forwards checkpoints and metrics to the run's result
// channel. It is driven by the training loop's callback hooks and runs an
// explicit state machine per worker:
//
//	Idle -> CheckpointPending (checkpoint written by the library)
//	     -> Reported          (metrics + checkpoint handed off)
//	     -> Idle
//
// Batch-end, epoch-end and validation-end hooks all attempt a report; the
// CheckpointPending guard deduplicates so a report happens only immediately
// after an actual checkpoint write.
type CheckpointRelay struct {
	state         relayState
	isReportRank  bool
	lastModelPath string
	preprocessor  []byte
}

func NewCheckpointRelay() *CheckpointRelay {
	return &CheckpointRelay{state: relayIdle}
}

var _ Callback = (*CheckpointRelay)(nil)

func (r *CheckpointRelay) Setup(t *Trainer) error {
	r.state = relayIdle
	r.preprocessor = t.cfg.PreprocessorArtifact

	if t.cfg.Strategy.PerNodeReporting() {
		// Each node has a unique set of param and optimizer shards, so the
		// local rank 0 workers report the checkpoint shards for all workers
		// on their node.
		r.isReportRank = t.sess.LocalRank() == 0
	} else {
		// Only the global rank 0 worker saves the full model, so it is the
		// only one that needs to report checkpoints.
		r.isReportRank = t.sess.WorldRank() == 0
	}
	return nil
}

func (r *CheckpointRelay) OnCheckpointSaved(t *Trainer, modelPath string) {
	r.lastModelPath = modelPath
	r.state = relayCheckpointPending
}

func (r *CheckpointRelay) OnTrainBatchEnd(ctx context.Context, t *Trainer) error {
	return r.report(ctx, t, models.StageTrainBatchEnd)
}

func (r *CheckpointRelay) OnTrainEpochEnd(ctx context.Context, t *Trainer) error {
	return r.report(ctx, t, models.StageTrainEpochEnd)
}

func (r *CheckpointRelay) OnValidationEnd(ctx context.Context, t *Trainer) error {
	return r.report(ctx, t, models.StageValidationEnd)
}

// report hands the latest metrics and checkpoint to the session. Called on
// every hook; returns immediately unless a checkpoint write is pending.
func (r *CheckpointRelay) report(ctx context.Context, t *Trainer, stage string) error {
	if r.state != relayCheckpointPending {
		return nil
	}

	metrics := map[string]any{models.ReportStageKey: stage}
	for k, v := range CoerceMetrics(t.LoggedMetrics()) {
		metrics[k] = v
	}

	// Ensures all workers already finished writing their checkpoints.
	t.cfg.Strategy.Barrier()

	stagingDir, err := os.MkdirTemp("", "checkpoint-report-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	ckpt := checkpoint.FromDirectory(stagingDir)

	// Only the report rank stages the actual checkpoint. Other ranks hand
	// off empty placeholder checkpoints to avoid blocking synchronization
	// primitives that expect every rank to report.
	if r.isReportRank {
		if err := checkpoint.Stage(r.lastModelPath, stagingDir); err != nil {
			return fmt.Errorf("failed to stage checkpoint for report: %w", err)
		}
		if len(r.preprocessor) > 0 {
			if err := ckpt.SavePreprocessor(bytes.NewReader(r.preprocessor)); err != nil {
				return fmt.Errorf("failed to save preprocessor artifact: %w", err)
			}
		}
	}

	r.state = relayReported
	if err := t.sess.Report(ctx, metrics, ckpt.Directory()); err != nil {
		r.state = relayIdle
		return fmt.Errorf("failed to report checkpoint at %s: %w", stage, err)
	}

	slog.Debug("reported checkpoint", "rank", t.sess.WorldRank(), "stage", stage, "report_rank", r.isReportRank)

	r.state = relayIdle
	return nil
}
