package api

import (
	"time"

	"github.com/google/uuid"
)

type Worker struct {
	WorldRank int    `json:"world_rank"`
	LocalRank int    `json:"local_rank"`
	NodeRank  int    `json:"node_rank"`
	ActorId   string `json:"actor_id"`
	NodeId    string `json:"node_id"`
	NodeIp    string `json:"node_ip"`
	GpuIds    []int  `json:"gpu_ids"`
	Pid       int    `json:"pid"`
}

type Dataset struct {
	Name     string `json:"name"`
	PlanName string `json:"plan_name"`
	PlanUuid string `json:"plan_uuid"`
}

type Checkpoint struct {
	Seq             int                `json:"seq"`
	WorldRank       int                `json:"world_rank"`
	Stage           string             `json:"stage"`
	StorageLocation string             `json:"storage_location,omitempty"`
	ReportTime      time.Time          `json:"report_time"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

type TrainRun struct {
	Id             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	TrainerActorId string    `json:"trainer_actor_id,omitempty"`
	CreationTime   time.Time `json:"creation_time"`

	Workers     []Worker     `json:"workers,omitempty"`
	Datasets    []Dataset    `json:"datasets,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
}

type ListRunsRequest struct {
	Offset int `schema:"offset"`
	Limit  int `schema:"limit"`
}

type ListRunsResponse struct {
	Runs []TrainRun `json:"runs"`
}
