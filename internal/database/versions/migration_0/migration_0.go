package migration_0

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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

	GpuIds datatypes.JSON `gorm:"type:jsonb"`
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

	Metrics datatypes.JSON `gorm:"type:jsonb"`
}

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&TrainRun{}, &RunWorker{}, &RunDataset{}, &RunCheckpoint{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
