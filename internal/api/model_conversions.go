package api

import (
	"encoding/json"
	"fmt"

	"trainrun-backend/internal/database"
	"trainrun-backend/pkg/api"
)

func convertTrainRun(run database.TrainRun) (api.TrainRun, error) {
	out := api.TrainRun{
		Id:             run.Id,
		Name:           run.Name,
		TrainerActorId: run.TrainerActorId,
		CreationTime:   run.CreationTime,
	}

	for _, w := range run.Workers {
		var gpuIds []int
		if len(w.GpuIds) > 0 {
			if err := json.Unmarshal(w.GpuIds, &gpuIds); err != nil {
				return api.TrainRun{}, fmt.Errorf("invalid gpu ids for rank %d: %w", w.WorldRank, err)
			}
		}
		out.Workers = append(out.Workers, api.Worker{
			WorldRank: w.WorldRank,
			LocalRank: w.LocalRank,
			NodeRank:  w.NodeRank,
			ActorId:   w.ActorId,
			NodeId:    w.NodeId,
			NodeIp:    w.NodeIp,
			GpuIds:    gpuIds,
			Pid:       w.Pid,
		})
	}

	for _, d := range run.Datasets {
		out.Datasets = append(out.Datasets, api.Dataset{
			Name:     d.Name,
			PlanName: d.PlanName,
			PlanUuid: d.PlanUuid,
		})
	}

	for _, c := range run.Checkpoints {
		var metrics map[string]float64
		if len(c.Metrics) > 0 {
			if err := json.Unmarshal(c.Metrics, &metrics); err != nil {
				return api.TrainRun{}, fmt.Errorf("invalid metrics for checkpoint %d: %w", c.Seq, err)
			}
		}
		out.Checkpoints = append(out.Checkpoints, api.Checkpoint{
			Seq:             c.Seq,
			WorldRank:       c.WorldRank,
			Stage:           c.Stage,
			StorageLocation: c.StorageLocation,
			ReportTime:      c.ReportTime,
			Metrics:         metrics,
		})
	}

	return out, nil
}
