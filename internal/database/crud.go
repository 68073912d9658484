package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trainrun-backend/pkg/models"
)

var ErrRunNotFound = errors.New("train run not found")

// CreateTrainRun persists a run registration. Registrations are retried by
// the message broker on consumer failure, so the insert is idempotent: a
// duplicate run id leaves the existing record untouched.
func CreateTrainRun(ctx context.Context, db *gorm.DB, run models.RunInfo) error {
	record := TrainRun{
		Id:             run.Id,
		Name:           run.Name,
		TrainerActorId: run.TrainerActorId,
		CreationTime:   time.Now().UTC(),
	}

	for _, w := range run.Workers {
		gpuIds, err := json.Marshal(w.GpuIds)
		if err != nil {
			return fmt.Errorf("could not marshal gpu ids for rank %d: %w", w.WorldRank, err)
		}
		record.Workers = append(record.Workers, RunWorker{
			RunId:     run.Id,
			WorldRank: w.WorldRank,
			LocalRank: w.LocalRank,
			NodeRank:  w.NodeRank,
			ActorId:   w.ActorId,
			NodeId:    w.NodeId,
			NodeIp:    w.NodeIp,
			Pid:       w.Pid,
			GpuIds:    gpuIds,
		})
	}

	for _, d := range run.Datasets {
		record.Datasets = append(record.Datasets, RunDataset{
			RunId:    run.Id,
			Name:     d.Name,
			PlanName: d.PlanName,
			PlanUuid: d.PlanUuid,
		})
	}

	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return fmt.Errorf("could not create train run %s: %w", run.Id, err)
	}
	return nil
}

// AddRunCheckpoint appends a checkpoint report to a run's history.
func AddRunCheckpoint(ctx context.Context, db *gorm.DB, report models.CheckpointReportPayload) error {
	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		return fmt.Errorf("could not marshal checkpoint metrics: %w", err)
	}

	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var exists bool
		if err := txn.Model(&TrainRun{}).Select("count(*) > 0").Where("id = ?", report.RunId).Find(&exists).Error; err != nil {
			return fmt.Errorf("could not look up run %s: %w", report.RunId, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrRunNotFound, report.RunId)
		}

		var maxSeq int
		if err := txn.Model(&RunCheckpoint{}).Where("run_id = ?", report.RunId).
			Select("coalesce(max(seq), 0)").Find(&maxSeq).Error; err != nil {
			return fmt.Errorf("could not determine checkpoint sequence for run %s: %w", report.RunId, err)
		}

		record := RunCheckpoint{
			RunId:           report.RunId,
			Seq:             maxSeq + 1,
			WorldRank:       report.WorldRank,
			Stage:           report.Stage,
			StorageLocation: report.StorageLocation,
			ReportTime:      time.Now().UTC(),
			Metrics:         metrics,
		}
		if err := txn.Create(&record).Error; err != nil {
			return fmt.Errorf("could not record checkpoint for run %s: %w", report.RunId, err)
		}
		return nil
	})
}

// GetTrainRun loads a run with its workers, datasets and checkpoint history.
func GetTrainRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (TrainRun, error) {
	var run TrainRun
	err := db.WithContext(ctx).
		Preload("Workers", func(db *gorm.DB) *gorm.DB { return db.Order("world_rank") }).
		Preload("Datasets").
		Preload("Checkpoints", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&run, "id = ?", runId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrainRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runId)
	}
	if err != nil {
		return TrainRun{}, fmt.Errorf("could not load train run %s: %w", runId, err)
	}
	return run, nil
}

// ListTrainRuns returns runs ordered newest first.
func ListTrainRuns(ctx context.Context, db *gorm.DB, offset, limit int) ([]TrainRun, error) {
	var runs []TrainRun
	query := db.WithContext(ctx).Order("creation_time DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("could not list train runs: %w", err)
	}
	return runs, nil
}
