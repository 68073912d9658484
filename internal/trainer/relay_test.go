package trainer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainrun-backend/internal/checkpoint"
	"trainrun-backend/internal/session"
	"trainrun-backend/internal/trainer"
	"trainrun-backend/pkg/models"
)

func relayFixture(t *testing.T, s *session.Session, strategy trainer.Strategy) (*trainer.CheckpointRelay, *trainer.Trainer) {
	relay := trainer.NewCheckpointRelay()
	tr, err := trainer.New(trainer.Config{
		Module:    countingFactory(&countingModule{}),
		MaxEpochs: 1,
		Strategy:  strategy,
		Callbacks: []trainer.Callback{relay},
	}, s)
	require.NoError(t, err)
	require.NoError(t, relay.Setup(tr))
	return relay, tr
}

func writeModelFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "last.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))
	return path
}

func TestRelayDoesNotReportWithoutCheckpoint(t *testing.T) {
	s := newSession(0, 1, 1)
	relay, tr := relayFixture(t, s, trainer.NewReplicatedStrategy(nil))

	require.NoError(t, relay.OnTrainBatchEnd(context.Background(), tr))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	require.NoError(t, relay.OnValidationEnd(context.Background(), tr))

	assert.Empty(t, s.Results())
}

func TestRelayReportsOnceThenRearms(t *testing.T) {
	s := newSession(0, 1, 1)
	relay, tr := relayFixture(t, s, trainer.NewReplicatedStrategy(nil))

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	require.Len(t, s.Results(), 1)

	// No second report until another checkpoint is written.
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	require.NoError(t, relay.OnTrainBatchEnd(context.Background(), tr))
	require.Len(t, s.Results(), 1)

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnValidationEnd(context.Background(), tr))
	require.Len(t, s.Results(), 2)

	assert.Equal(t, models.StageTrainEpochEnd, s.Results()[0].Metrics[models.ReportStageKey])
	assert.Equal(t, models.StageValidationEnd, s.Results()[1].Metrics[models.ReportStageKey])
}

func TestRelayReportRankStagesModel(t *testing.T) {
	s := newSession(0, 2, 1)
	relay, tr := relayFixture(t, s, trainer.NewReplicatedStrategy(nil))

	var hadModel bool
	s.SetReportHandler(func(ctx context.Context, res session.Result) error {
		hadModel = checkpoint.FromDirectory(res.CheckpointDir).HasModel()
		return nil
	})

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	assert.True(t, hadModel)
}

func TestRelayNonReportRankSendsPlaceholder(t *testing.T) {
	s := newSession(1, 2, 1)
	relay, tr := relayFixture(t, s, trainer.NewReplicatedStrategy(nil))

	var hadModel bool
	reported := false
	s.SetReportHandler(func(ctx context.Context, res session.Result) error {
		reported = true
		hadModel = checkpoint.FromDirectory(res.CheckpointDir).HasModel()
		return nil
	})

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))

	// Placeholder keeps the report cadence in lockstep across ranks.
	assert.True(t, reported)
	assert.False(t, hadModel)
}

func TestRelayShardedStrategyElectsLocalRankZero(t *testing.T) {
	// World rank 1 but local rank 0: reports under the sharded strategy.
	s := session.New(session.Context{WorldSize: 4, WorldRank: 1, LocalRank: 0, NodeRank: 1})
	s.SetDatasetShard("train", session.NewStaticShard("plan", "uuid", []any{0}))
	relay, tr := relayFixture(t, s, trainer.NewShardedStrategy(nil))

	var hadModel bool
	s.SetReportHandler(func(ctx context.Context, res session.Result) error {
		hadModel = checkpoint.FromDirectory(res.CheckpointDir).HasModel()
		return nil
	})

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	assert.True(t, hadModel)
}

func TestRelaySavesPreprocessorArtifact(t *testing.T) {
	s := newSession(0, 1, 1)
	relay := trainer.NewCheckpointRelay()
	tr, err := trainer.New(trainer.Config{
		Module:               countingFactory(&countingModule{}),
		MaxEpochs:            1,
		Strategy:             trainer.NewReplicatedStrategy(nil),
		Callbacks:            []trainer.Callback{relay},
		PreprocessorArtifact: []byte("fitted-preprocessor"),
	}, s)
	require.NoError(t, err)
	require.NoError(t, relay.Setup(tr))

	var artifact []byte
	s.SetReportHandler(func(ctx context.Context, res session.Result) error {
		data, err := os.ReadFile(filepath.Join(res.CheckpointDir, checkpoint.PreprocessorKey))
		artifact = data
		return err
	})

	relay.OnCheckpointSaved(tr, writeModelFile(t))
	require.NoError(t, relay.OnTrainEpochEnd(context.Background(), tr))
	assert.Equal(t, []byte("fitted-preprocessor"), artifact)
}
