package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"trainrun-backend/cmd"
	"trainrun-backend/internal/messaging"
	"trainrun-backend/internal/runstate"
	"trainrun-backend/internal/session"
	"trainrun-backend/internal/storage"
	"trainrun-backend/internal/trainer"
	"trainrun-backend/internal/workergroup"
)

type WorkerConfig struct {
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`

	StorageType      string `env:"STORAGE_TYPE" envDefault:"local"`
	LocalStorageDir  string `env:"LOCAL_STORAGE_DIR" envDefault:"./storage"`
	CheckpointBucket string `env:"CHECKPOINT_BUCKET" envDefault:"checkpoints"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

type RunConfig struct {
	RunName    string `yaml:"run_name"`
	NumWorkers int    `yaml:"num_workers"`

	MaxEpochs              int    `yaml:"max_epochs"`
	CheckpointEveryNEpochs int    `yaml:"checkpoint_every_n_epochs"`
	Strategy               string `yaml:"strategy"`
	EnableValidation       bool   `yaml:"enable_validation"`

	TrainBatches int     `yaml:"train_batches"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
}

func loadRunConfig(path string) (RunConfig, error) {
	cfg := RunConfig{
		NumWorkers:             1,
		MaxEpochs:              1,
		CheckpointEveryNEpochs: 1,
		Strategy:               "replicated",
		TrainBatches:           8,
		BatchSize:              32,
		LearningRate:           0.01,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read run config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse run config %s: %w", path, err)
	}
	if cfg.RunName == "" {
		return cfg, fmt.Errorf("run config %s is missing run_name", path)
	}
	return cfg, nil
}

func newObjectStore(cfg WorkerConfig) (storage.ObjectStore, error) {
	if cfg.StorageType == "s3" {
		return storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	}
	return storage.NewLocalObjectStore(cfg.LocalStorageDir)
}

// syntheticShard builds an in-memory shard of y = 2x + 1 samples, striped
// across ranks the way a distributed sampler would.
func syntheticShard(name string, run RunConfig, rank int) *session.StaticShard {
	batches := make([]any, 0, run.TrainBatches)
	for b := 0; b < run.TrainBatches; b++ {
		batch := make([][2]float64, 0, run.BatchSize)
		for i := 0; i < run.BatchSize; i++ {
			x := float64(rank + (b*run.BatchSize+i)*run.NumWorkers)
			batch = append(batch, [2]float64{x, 2*x + 1})
		}
		batches = append(batches, batch)
	}
	return session.NewStaticShard(name, uuid.NewString(), batches)
}

func main() {
	var runConfigPath string
	flag.StringVar(&runConfigPath, "run", "run.yaml", "path to the run config yaml")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	run, err := loadRunConfig(runConfigPath)
	if err != nil {
		log.Fatalf("error loading run config: %v", err)
	}

	ctx := context.Background()

	store, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	if err := store.CreateBucket(ctx, cfg.CheckpointBucket); err != nil {
		log.Fatalf("Failed to create checkpoint bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	hostname, _ := os.Hostname()

	sessions := make([]*session.Session, run.NumWorkers)
	for rank := 0; rank < run.NumWorkers; rank++ {
		sessions[rank] = session.New(session.Context{
			WorldSize: run.NumWorkers,
			WorldRank: rank,
			LocalRank: rank,
			NodeRank:  0,
			ActorId:   uuid.NewString(),
			NodeId:    hostname,
			NodeIp:    "127.0.0.1",
		})
		sessions[rank].SetDatasetShard("train", syntheticShard("train", run, rank))
		if run.EnableValidation {
			sessions[rank].SetDatasetShard("validation", syntheticShard("validation", run, rank))
		}
	}

	group := workergroup.NewLocalGroup(sessions)
	barrier := workergroup.NewBarrier(run.NumWorkers)

	var strategy trainer.Strategy
	switch run.Strategy {
	case "replicated":
		strategy = trainer.NewReplicatedStrategy(barrier.Await)
	case "sharded":
		strategy = trainer.NewShardedStrategy(barrier.Await)
	default:
		log.Fatalf("unknown strategy %q, expected replicated or sharded", run.Strategy)
	}

	// Registration is best-effort telemetry. If it fails the run still
	// trains, it just reports no checkpoints to the registry.
	reporter := runstate.NewReporter(group, publisher)
	runInfo, err := reporter.RegisterTrainRun(ctx, run.RunName, uuid.NewString())
	if err != nil {
		log.Printf("Run registration failed, continuing without checkpoint reporting: %v", err)
	} else {
		recorder := runstate.NewResultRecorder(runInfo.Id, store, cfg.CheckpointBucket, publisher)
		for rank, s := range sessions {
			s.SetReportHandler(recorder.HandlerFor(rank))
		}
	}

	futures := make([]*workergroup.Future, run.NumWorkers)
	for rank := 0; rank < run.NumWorkers; rank++ {
		futures[rank] = group.ExecuteSingleAsync(rank, func(s *session.Session) (any, error) {
			t, err := trainer.New(trainer.Config{
				Module:                 newLinearModule,
				ModuleConfig:           map[string]any{"learning_rate": run.LearningRate},
				MaxEpochs:              run.MaxEpochs,
				CheckpointEveryNEpochs: run.CheckpointEveryNEpochs,
				Strategy:               strategy,
				EnableValidation:       run.EnableValidation,
			}, s)
			if err != nil {
				return nil, err
			}
			return nil, t.Fit(ctx)
		})
	}

	if err := workergroup.CheckForFailure(ctx, futures); err != nil {
		log.Fatalf("Training run failed: %v", err)
	}

	log.Printf("Training run %s finished", run.RunName)
}
