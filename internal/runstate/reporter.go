package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"trainrun-backend/internal/messaging"
	"trainrun-backend/internal/session"
	"trainrun-backend/internal/workergroup"
	"trainrun-backend/pkg/models"
)

// ErrRegistrationNotPublished reports that a run's registration never
// reached the registry. Training can proceed, but checkpoint reports for
// the run would have no registration to attach to, so callers should skip
// checkpoint reporting when they see this error.
var ErrRegistrationNotPublished = errors.New("run registration was not published")

// Reporter collects run metadata from every training worker and announces
// the run to the registry. Registration is strictly observational: a failed
// or slow registry must never fail or stall the training run, so failures
// come back as plain error values the caller is free to log and ignore.
type Reporter struct {
	group     workergroup.Group
	publisher messaging.Publisher
}

func NewReporter(group workergroup.Group, publisher messaging.Publisher) *Reporter {
	return &Reporter{group: group, publisher: publisher}
}

// RegisterTrainRun snapshots the identity of every worker in the group,
// orders the snapshots by world rank, and publishes the resulting run record
// to the registry. Worker collection failures abort registration. A publish
// failure still returns the assembled RunInfo, wrapped in
// ErrRegistrationNotPublished so the caller knows the registry never saw it.
func (r *Reporter) RegisterTrainRun(ctx context.Context, runName, trainerActorId string) (models.RunInfo, error) {
	futures := make([]*workergroup.Future, r.group.Len())
	for i := 0; i < r.group.Len(); i++ {
		futures[i] = r.group.ExecuteSingleAsync(i, func(s *session.Session) (any, error) {
			return collectWorkerInfo(s), nil
		})
	}

	if err := workergroup.CheckForFailure(ctx, futures); err != nil {
		slog.Error("failed to collect worker info for run registration", "run_name", runName, "error", err)
		return models.RunInfo{}, fmt.Errorf("failed to collect worker info: %w", err)
	}

	workers := make([]models.WorkerInfo, 0, len(futures))
	for _, f := range futures {
		val, err := f.Wait(ctx)
		if err != nil {
			return models.RunInfo{}, fmt.Errorf("failed to collect worker info: %w", err)
		}
		workers = append(workers, val.(models.WorkerInfo))
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].WorldRank < workers[j].WorldRank
	})

	datasets, err := r.collectDatasetInfo(ctx)
	if err != nil {
		return models.RunInfo{}, err
	}

	run := models.RunInfo{
		Id:             uuid.New(),
		Name:           runName,
		TrainerActorId: trainerActorId,
		Workers:        workers,
		Datasets:       datasets,
	}

	if err := r.publisher.PublishRegisterRun(ctx, models.RegisterRunPayload{Run: run}); err != nil {
		slog.Error("failed to publish run registration", "run_id", run.Id, "run_name", runName, "error", err)
		return run, fmt.Errorf("%w: %v", ErrRegistrationNotPublished, err)
	}

	slog.Info("registered train run", "run_id", run.Id, "run_name", runName, "workers", len(workers))
	return run, nil
}

func collectWorkerInfo(s *session.Session) models.WorkerInfo {
	c := s.Context()
	return models.WorkerInfo{
		WorldRank: c.WorldRank,
		LocalRank: c.LocalRank,
		NodeRank:  c.NodeRank,
		ActorId:   c.ActorId,
		NodeId:    c.NodeId,
		NodeIp:    c.NodeIp,
		GpuIds:    c.GpuIds,
		Pid:       s.Pid(),
	}
}

// collectDatasetInfo reads dataset lineage from rank 0's shard assignments.
// Every rank consumes shards of the same datasets, so one rank suffices.
func (r *Reporter) collectDatasetInfo(ctx context.Context) ([]models.DatasetInfo, error) {
	if r.group.Len() == 0 {
		return nil, nil
	}

	future := r.group.ExecuteSingleAsync(0, func(s *session.Session) (any, error) {
		shards := s.DatasetShards()
		datasets := make([]models.DatasetInfo, 0, len(shards))
		for name, shard := range shards {
			datasets = append(datasets, models.DatasetInfo{
				Name:     name,
				PlanName: shard.PlanName(),
				PlanUuid: shard.PlanUuid(),
			})
		}
		return datasets, nil
	})

	val, err := future.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect dataset info: %w", err)
	}

	datasets := val.([]models.DatasetInfo)
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}
