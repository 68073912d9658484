package trainer

import (
	"trainrun-backend/internal/session"
)

// SamplerArgs tells the dataset sampler how to partition batches across the
// distributed group.
type SamplerArgs struct {
	NumReplicas int
	Rank        int
}

// BarrierFunc blocks until every rank in the group has reached the same
// synchronization point. Supplied by the distributed runtime; nil means
// single-worker execution with no synchronization needed.
type BarrierFunc func()

// Strategy is the capability surface the adapter needs from the training
// library's distributed strategy. The library's strategy object is wrapped
// and injected rather than subclassed.
type Strategy interface {
	Name() string

	// RootDevice returns the device of the current worker, derived live
	// from the runtime session.
	RootDevice(s *session.Session) Device

	SamplerArgs(s *session.Session) SamplerArgs

	Barrier()

	// PerNodeReporting reports whether each node holds a unique set of
	// parameter/optimizer shards. When true the local rank 0 worker of
	// every node reports checkpoints; when false only global rank 0 does.
	PerNodeReporting() bool
}

type baseStrategy struct {
	barrier BarrierFunc
}

func (b baseStrategy) Barrier() {
	if b.barrier != nil {
		b.barrier()
	}
}

func rootDevice(s *session.Session) Device {
	if gpus := s.GpuIds(); len(gpus) > 0 {
		return CUDA(gpus[0])
	}
	return CPU()
}

func samplerArgs(s *session.Session) SamplerArgs {
	return SamplerArgs{NumReplicas: s.WorldSize(), Rank: s.WorldRank()}
}

// ReplicatedStrategy synchronizes full model replicas across workers. The
// global rank 0 worker holds the complete model, so it alone reports
// checkpoints.
type ReplicatedStrategy struct {
	baseStrategy
}

func NewReplicatedStrategy(barrier BarrierFunc) *ReplicatedStrategy {
	return &ReplicatedStrategy{baseStrategy{barrier: barrier}}
}

func (s *ReplicatedStrategy) Name() string { return "replicated" }

func (s *ReplicatedStrategy) RootDevice(sess *session.Session) Device { return rootDevice(sess) }

func (s *ReplicatedStrategy) SamplerArgs(sess *session.Session) SamplerArgs {
	return samplerArgs(sess)
}

func (s *ReplicatedStrategy) PerNodeReporting() bool { return false }

// ShardedStrategy shards parameter and optimizer state, each node holding a
// unique set of shards. The local rank 0 worker on every node reports the
// checkpoint shards for its node.
type ShardedStrategy struct {
	baseStrategy
}

func NewShardedStrategy(barrier BarrierFunc) *ShardedStrategy {
	return &ShardedStrategy{baseStrategy{barrier: barrier}}
}

func (s *ShardedStrategy) Name() string { return "sharded" }

func (s *ShardedStrategy) RootDevice(sess *session.Session) Device { return rootDevice(sess) }

func (s *ShardedStrategy) SamplerArgs(sess *session.Session) SamplerArgs {
	return samplerArgs(sess)
}

func (s *ShardedStrategy) PerNodeReporting() bool { return true }
