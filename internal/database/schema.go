package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TrainRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name           string `gorm:"not null"`
	TrainerActorId string

	CreationTime time.Time

	Workers  []RunWorker  `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Datasets []RunDataset `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`

	Checkpoints []RunCheckpoint `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type RunWorker struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorldRank int       `gorm:"primaryKey"`

	LocalRank int
	NodeRank  int
	ActorId   string
	NodeId    string
	NodeIp    string
	Pid       int

	GpuIds datatypes.JSON `gorm:"type:jsonb"` // [0,1,…]
}

type RunDataset struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name  string    `gorm:"primaryKey"`

	PlanName string
	PlanUuid string
}

type RunCheckpoint struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq   int       `gorm:"primaryKey;autoIncrement:false"`

	WorldRank       int
	Stage           string `gorm:"size:30"`
	StorageLocation string

	ReportTime time.Time

	Metrics datatypes.JSON `gorm:"type:jsonb"` // {"loss":0.1,…}
}
