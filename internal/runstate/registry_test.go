package runstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trainrun-backend/internal/database"
	"trainrun-backend/internal/messaging"
	"trainrun-backend/internal/runstate"
	"trainrun-backend/pkg/models"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func sampleRun() models.RunInfo {
	return models.RunInfo{
		Id:             uuid.New(),
		Name:           "sample",
		TrainerActorId: "trainer-1",
		Workers: []models.WorkerInfo{
			{WorldRank: 0, LocalRank: 0, NodeRank: 0, ActorId: "a0", NodeIp: "10.0.0.1", GpuIds: []int{0}, Pid: 100},
			{WorldRank: 1, LocalRank: 1, NodeRank: 0, ActorId: "a1", NodeIp: "10.0.0.1", Pid: 101},
		},
		Datasets: []models.DatasetInfo{{Name: "train", PlanName: "plan", PlanUuid: "uuid-1"}},
	}
}

func TestGetOrCreateRegistryReturnsSingleton(t *testing.T) {
	db := createDB(t)

	first := runstate.GetOrCreateRegistry(db, messaging.NewInMemoryQueue())
	second := runstate.GetOrCreateRegistry(createDB(t), messaging.NewInMemoryQueue())
	assert.Same(t, first, second)
}

func TestRegisterTrainRunPersistsRun(t *testing.T) {
	db := createDB(t)
	registry := runstate.NewRegistry(db, messaging.NewInMemoryQueue())

	run := sampleRun()
	require.NoError(t, registry.RegisterTrainRun(context.Background(), run))

	stored, err := database.GetTrainRun(context.Background(), db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, run.Name, stored.Name)
	require.Len(t, stored.Workers, 2)
	assert.Equal(t, 0, stored.Workers[0].WorldRank)
	assert.Equal(t, 1, stored.Workers[1].WorldRank)
	require.Len(t, stored.Datasets, 1)
}

func TestRegisterTrainRunIsIdempotent(t *testing.T) {
	db := createDB(t)
	registry := runstate.NewRegistry(db, messaging.NewInMemoryQueue())

	run := sampleRun()
	require.NoError(t, registry.RegisterTrainRun(context.Background(), run))
	require.NoError(t, registry.RegisterTrainRun(context.Background(), run))

	runs, err := database.ListTrainRuns(context.Background(), db, 0, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordCheckpointAppendsInOrder(t *testing.T) {
	db := createDB(t)
	registry := runstate.NewRegistry(db, messaging.NewInMemoryQueue())

	run := sampleRun()
	require.NoError(t, registry.RegisterTrainRun(context.Background(), run))

	for i, stage := range []string{models.StageTrainEpochEnd, models.StageValidationEnd} {
		require.NoError(t, registry.RecordCheckpoint(context.Background(), models.CheckpointReportPayload{
			RunId:           run.Id,
			WorldRank:       0,
			Stage:           stage,
			Metrics:         map[string]float64{"loss": float64(i)},
			StorageLocation: "checkpoints/somewhere",
		}))
	}

	stored, err := database.GetTrainRun(context.Background(), db, run.Id)
	require.NoError(t, err)
	require.Len(t, stored.Checkpoints, 2)
	assert.Equal(t, 1, stored.Checkpoints[0].Seq)
	assert.Equal(t, 2, stored.Checkpoints[1].Seq)
	assert.Equal(t, models.StageValidationEnd, stored.Checkpoints[1].Stage)
}

func startRegistry(t *testing.T, registry *runstate.Registry) chan struct{} {
	t.Helper()

	done := make(chan struct{})
	go func() {
		registry.Start()
		close(done)
	}()
	return done
}

func waitForStop(t *testing.T, registry *runstate.Registry, done chan struct{}) {
	t.Helper()

	registry.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("registry consumer did not stop")
	}
}

func TestCheckpointReportBeforeRegistration(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	registry := runstate.NewRegistry(db, queue)

	run := sampleRun()
	require.NoError(t, queue.PublishCheckpointReport(context.Background(), models.CheckpointReportPayload{
		RunId:     run.Id,
		WorldRank: 0,
		Stage:     models.StageTrainEpochEnd,
		Metrics:   map[string]float64{"loss": 0.5},
	}))
	require.NoError(t, queue.PublishRegisterRun(context.Background(), models.RegisterRunPayload{Run: run}))

	done := startRegistry(t, registry)

	require.Eventually(t, func() bool {
		stored, err := database.GetTrainRun(context.Background(), db, run.Id)
		return err == nil && len(stored.Checkpoints) == 1
	}, 10*time.Second, 50*time.Millisecond)

	waitForStop(t, registry, done)
}

func TestOrphanCheckpointReportDoesNotBlockQueue(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	registry := runstate.NewRegistry(db, queue)

	// A report whose run is never registered must be retried a bounded
	// number of times and then dropped, not requeued forever.
	require.NoError(t, queue.PublishCheckpointReport(context.Background(), models.CheckpointReportPayload{
		RunId:     uuid.New(),
		WorldRank: 0,
		Stage:     models.StageTrainBatchEnd,
	}))

	done := startRegistry(t, registry)

	run := sampleRun()
	require.NoError(t, queue.PublishRegisterRun(context.Background(), models.RegisterRunPayload{Run: run}))

	require.Eventually(t, func() bool {
		stored, err := database.GetTrainRun(context.Background(), db, run.Id)
		return err == nil && len(stored.Checkpoints) == 0
	}, 10*time.Second, 50*time.Millisecond)

	// Give the orphan report time to exhaust its retry budget before the
	// queue shuts down.
	require.Eventually(t, func() bool {
		runs, err := database.ListTrainRuns(context.Background(), db, 0, 0)
		return err == nil && len(runs) == 1
	}, 10*time.Second, 50*time.Millisecond)
	time.Sleep(2 * time.Second)

	waitForStop(t, registry, done)
}

func TestRecordCheckpointUnknownRun(t *testing.T) {
	db := createDB(t)
	registry := runstate.NewRegistry(db, messaging.NewInMemoryQueue())

	err := registry.RecordCheckpoint(context.Background(), models.CheckpointReportPayload{
		RunId:     uuid.New(),
		WorldRank: 0,
		Stage:     models.StageTrainEpochEnd,
	})
	assert.ErrorIs(t, err, database.ErrRunNotFound)
}
