package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"trainrun-backend/internal/session"
)

var ErrInvalidConfig = errors.New("invalid trainer config")

// Callback hooks into the training loop. Hooks returning an error abort the
// fit.
type Callback interface {
	Setup(t *Trainer) error

	OnTrainBatchEnd(ctx context.Context, t *Trainer) error
	OnTrainEpochEnd(ctx context.Context, t *Trainer) error
	OnValidationEnd(ctx context.Context, t *Trainer) error

	// OnCheckpointSaved fires after the trainer writes a library-native
	// checkpoint (file or directory) to modelPath.
	OnCheckpointSaved(t *Trainer, modelPath string)
}

type Config struct {
	Module       ModuleFactory
	ModuleConfig map[string]any

	MaxEpochs              int
	CheckpointEveryNEpochs int

	Strategy    Strategy
	Environment ClusterEnvironment
	Callbacks   []Callback

	EnableValidation bool

	// PreprocessorArtifact is an optional serialized fitted preprocessor
	// that is saved next to the model in every reported checkpoint.
	PreprocessorArtifact []byte

	// CheckpointDir is where library-native checkpoints are written. A temp
	// dir is used when empty.
	CheckpointDir string
}

// Trainer drives the per-worker training loop. Construction validates that
// the config is usable with the distributed runtime; composition failures
// surface here rather than mid-training.
type Trainer struct {
	cfg  Config
	sess *session.Session

	module        Module
	loggedMetrics map[string]any
	currentEpoch  int
}

func New(cfg Config, sess *session.Session) (*Trainer, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: session must not be nil", ErrInvalidConfig)
	}
	if cfg.Module == nil {
		return nil, fmt.Errorf("%w: a Module factory is required", ErrInvalidConfig)
	}
	if cfg.MaxEpochs <= 0 {
		return nil, fmt.Errorf("%w: MaxEpochs must be positive, got %d", ErrInvalidConfig, cfg.MaxEpochs)
	}

	switch cfg.Strategy.(type) {
	case *ReplicatedStrategy, *ShardedStrategy:
	case nil:
		return nil, fmt.Errorf("%w: a Strategy is required", ErrInvalidConfig)
	default:
		return nil, fmt.Errorf(
			"%w: strategy %q is not supported in distributed runs, use ReplicatedStrategy or ShardedStrategy",
			ErrInvalidConfig, cfg.Strategy.Name(),
		)
	}

	switch cfg.Environment.(type) {
	case nil:
		cfg.Environment = NewRuntimeEnvironment(sess)
	case *RuntimeEnvironment:
	default:
		return nil, fmt.Errorf(
			"%w: the cluster environment is managed by the runtime, remove the custom environment",
			ErrInvalidConfig,
		)
	}

	relays := 0
	for _, cb := range cfg.Callbacks {
		if _, ok := cb.(*CheckpointRelay); ok {
			relays++
		}
	}
	if relays > 1 {
		return nil, fmt.Errorf("%w: at most one CheckpointRelay callback is allowed, found %d", ErrInvalidConfig, relays)
	}
	if relays == 0 {
		cfg.Callbacks = append(cfg.Callbacks, NewCheckpointRelay())
	}

	if cfg.CheckpointEveryNEpochs <= 0 {
		cfg.CheckpointEveryNEpochs = 1
	}

	return &Trainer{
		cfg:           cfg,
		sess:          sess,
		loggedMetrics: make(map[string]any),
	}, nil
}

// LoggedMetrics returns the most recent metric values logged by the module's
// step functions.
func (t *Trainer) LoggedMetrics() map[string]any {
	out := make(map[string]any, len(t.loggedMetrics))
	for k, v := range t.loggedMetrics {
		out[k] = v
	}
	return out
}

func (t *Trainer) CurrentEpoch() int { return t.currentEpoch }

func (t *Trainer) Session() *session.Session { return t.sess }

// Fit runs the training loop to completion on this worker.
func (t *Trainer) Fit(ctx context.Context) error {
	trainShard, ok := t.sess.DatasetShard("train")
	if !ok {
		return fmt.Errorf("%w: no 'train' dataset shard assigned to rank %d", ErrInvalidConfig, t.sess.WorldRank())
	}

	var validationShard session.DatasetShard
	if t.cfg.EnableValidation {
		validationShard, ok = t.sess.DatasetShard("validation")
		if !ok {
			return fmt.Errorf(
				"%w: validation is enabled but no 'validation' dataset shard is assigned to rank %d",
				ErrInvalidConfig, t.sess.WorldRank(),
			)
		}
	}

	module, err := t.cfg.Module(t.cfg.ModuleConfig)
	if err != nil {
		return fmt.Errorf("failed to construct module: %w", err)
	}
	t.module = module

	device := t.cfg.Strategy.RootDevice(t.sess)
	if err := module.Setup(device); err != nil {
		return fmt.Errorf("failed to set up module on %s: %w", device, err)
	}

	checkpointDir := t.cfg.CheckpointDir
	if checkpointDir == "" {
		checkpointDir, err = os.MkdirTemp("", "trainer-checkpoints-*")
		if err != nil {
			return fmt.Errorf("failed to create checkpoint dir: %w", err)
		}
		defer os.RemoveAll(checkpointDir)
	}

	for _, cb := range t.cfg.Callbacks {
		if err := cb.Setup(t); err != nil {
			return fmt.Errorf("callback setup failed: %w", err)
		}
	}

	slog.Info("starting fit",
		"rank", t.sess.WorldRank(), "world_size", t.sess.WorldSize(),
		"strategy", t.cfg.Strategy.Name(), "device", device.String(), "max_epochs", t.cfg.MaxEpochs)

	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		t.currentEpoch = epoch

		if err := t.runTrainEpoch(ctx, trainShard); err != nil {
			return err
		}

		if (epoch+1)%t.cfg.CheckpointEveryNEpochs == 0 {
			modelPath := filepath.Join(checkpointDir, "last.ckpt")
			if err := t.module.Save(modelPath); err != nil {
				return fmt.Errorf("failed to save checkpoint at epoch %d: %w", epoch, err)
			}
			for _, cb := range t.cfg.Callbacks {
				cb.OnCheckpointSaved(t, modelPath)
			}
		}

		for _, cb := range t.cfg.Callbacks {
			if err := cb.OnTrainEpochEnd(ctx, t); err != nil {
				return err
			}
		}

		if t.cfg.EnableValidation {
			if err := t.runValidation(ctx, validationShard); err != nil {
				return err
			}
		}
	}

	slog.Info("fit complete", "rank", t.sess.WorldRank(), "epochs", t.cfg.MaxEpochs)
	return nil
}

func (t *Trainer) runTrainEpoch(ctx context.Context, shard session.DatasetShard) error {
	for batch := range shard.Batches() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training interrupted at epoch %d: %w", t.currentEpoch, err)
		}

		metrics, err := t.module.TrainStep(batch)
		if err != nil {
			return fmt.Errorf("train step failed at epoch %d: %w", t.currentEpoch, err)
		}
		t.mergeMetrics(metrics)

		for _, cb := range t.cfg.Callbacks {
			if err := cb.OnTrainBatchEnd(ctx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Trainer) runValidation(ctx context.Context, shard session.DatasetShard) error {
	for batch := range shard.Batches() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("validation interrupted at epoch %d: %w", t.currentEpoch, err)
		}

		metrics, err := t.module.ValidationStep(batch)
		if err != nil {
			return fmt.Errorf("validation step failed at epoch %d: %w", t.currentEpoch, err)
		}
		t.mergeMetrics(metrics)
	}

	for _, cb := range t.cfg.Callbacks {
		if err := cb.OnValidationEnd(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) mergeMetrics(metrics map[string]any) {
	for k, v := range metrics {
		t.loggedMetrics[k] = v
	}
}
