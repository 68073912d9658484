package models

import (
	"github.com/google/uuid"
)

// ReportStageKey is the metric key under which the checkpoint relay records
// which training-loop hook produced a report.
const ReportStageKey = "_report_on"

const (
	StageTrainBatchEnd = "train_batch_end"
	StageTrainEpochEnd = "train_epoch_end"
	StageValidationEnd = "validation_end"
)

// WorkerInfo is an immutable snapshot of a single training worker's
// identity, collected once at run-registration time.
type WorkerInfo struct {
	WorldRank int    `json:"world_rank"`
	LocalRank int    `json:"local_rank"`
	NodeRank  int    `json:"node_rank"`
	ActorId   string `json:"actor_id"`
	NodeId    string `json:"node_id"`
	NodeIp    string `json:"node_ip"`
	GpuIds    []int  `json:"gpu_ids"`
	Pid       int    `json:"pid"`
}

// DatasetInfo identifies the lineage of a dataset shard consumed by a run.
type DatasetInfo struct {
	Name     string `json:"name"`
	PlanName string `json:"plan_name"`
	PlanUuid string `json:"plan_uuid"`
}

// RunInfo describes one training run. It is built once per run, sent once
// to the registry, and never mutated afterward. Workers are ordered by
// world rank before transmission.
type RunInfo struct {
	Id             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	TrainerActorId string        `json:"trainer_actor_id"`
	Workers        []WorkerInfo  `json:"workers"`
	Datasets       []DatasetInfo `json:"datasets"`
}

// --- Task Payload Structs ---

type RegisterRunPayload struct {
	Run RunInfo
}

type CheckpointReportPayload struct {
	RunId           uuid.UUID
	WorldRank       int
	Stage           string
	Metrics         map[string]float64
	StorageLocation string // object store path of the uploaded checkpoint
}
