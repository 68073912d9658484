package runstate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainrun-backend/internal/messaging"
	"trainrun-backend/internal/runstate"
	"trainrun-backend/internal/session"
	"trainrun-backend/internal/workergroup"
	"trainrun-backend/pkg/models"
)

func makeGroup(n int) *workergroup.LocalGroup {
	sessions := make([]*session.Session, n)
	for i := 0; i < n; i++ {
		sessions[i] = session.New(session.Context{
			WorldSize: n,
			WorldRank: n - 1 - i, // deliberately out of order
			LocalRank: i % 2,
			NodeRank:  i / 2,
			ActorId:   fmt.Sprintf("actor-%d", i),
			NodeIp:    "10.0.0.1",
		})
	}
	sessions[0].SetDatasetShard("train", session.NewStaticShard("plan", "plan-uuid-1", nil))
	return workergroup.NewLocalGroup(sessions)
}

func TestRegisterTrainRunPublishesSortedWorkers(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	reporter := runstate.NewReporter(makeGroup(4), queue)

	run, err := reporter.RegisterTrainRun(context.Background(), "test-run", "trainer-actor")
	require.NoError(t, err)
	assert.Equal(t, "test-run", run.Name)
	assert.Len(t, run.Workers, 4)

	task := <-queue.Tasks()
	assert.Equal(t, messaging.RegisterRunQueue, task.Type())

	var payload models.RegisterRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))

	require.Len(t, payload.Run.Workers, 4)
	for i, w := range payload.Run.Workers {
		assert.Equal(t, i, w.WorldRank)
		assert.NotZero(t, w.Pid)
	}

	require.Len(t, payload.Run.Datasets, 1)
	assert.Equal(t, "train", payload.Run.Datasets[0].Name)
	assert.Equal(t, "plan-uuid-1", payload.Run.Datasets[0].PlanUuid)
}

type failingPublisher struct{}

func (failingPublisher) PublishRegisterRun(ctx context.Context, payload models.RegisterRunPayload) error {
	return fmt.Errorf("broker unavailable")
}

func (failingPublisher) PublishCheckpointReport(ctx context.Context, payload models.CheckpointReportPayload) error {
	return fmt.Errorf("broker unavailable")
}

func (failingPublisher) Close() {}

func TestRegisterTrainRunPublishFailureIsSurfaced(t *testing.T) {
	reporter := runstate.NewReporter(makeGroup(2), failingPublisher{})

	run, err := reporter.RegisterTrainRun(context.Background(), "unpublished-run", "trainer-actor")
	require.ErrorIs(t, err, runstate.ErrRegistrationNotPublished)

	// The run record itself is intact so the caller can still train with it.
	assert.Equal(t, "unpublished-run", run.Name)
	assert.Len(t, run.Workers, 2)
}

// failingGroup fails collection on one rank.
type failingGroup struct {
	*workergroup.LocalGroup
	failIndex int
}

func (g *failingGroup) ExecuteSingleAsync(index int, fn func(s *session.Session) (any, error)) *workergroup.Future {
	if index == g.failIndex {
		return g.LocalGroup.ExecuteSingleAsync(index, func(s *session.Session) (any, error) {
			return nil, fmt.Errorf("worker crashed")
		})
	}
	return g.LocalGroup.ExecuteSingleAsync(index, fn)
}

func TestRegisterTrainRunFailureSuppressesPublish(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	group := &failingGroup{LocalGroup: makeGroup(3), failIndex: 1}
	reporter := runstate.NewReporter(group, queue)

	_, err := reporter.RegisterTrainRun(context.Background(), "doomed-run", "trainer-actor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker crashed")

	select {
	case task := <-queue.Tasks():
		t.Fatalf("expected no message to be published, got %s", task.Type())
	default:
	}
}
