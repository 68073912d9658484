package session

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Context holds the identity facts the distributed runtime assigns to one
// worker process. Values are provided by the runtime at startup, never read
// from environment variables by adapter code.
type Context struct {
	WorldSize int
	WorldRank int
	LocalRank int
	NodeRank  int
	ActorId   string
	NodeId    string
	NodeIp    string
	GpuIds    []int
}

// Result is one report from a training worker: a metrics snapshot plus the
// checkpoint directory staged for hand-off. The checkpoint directory is only
// valid for the duration of the handler call that receives the result.
type Result struct {
	Metrics       map[string]any
	CheckpointDir string
}

// ReportHandler consumes a worker's report synchronously. The session's
// Report call does not return until the handler is done with the result, so
// the caller may delete the staged checkpoint directory afterwards.
type ReportHandler func(ctx context.Context, res Result) error

// Session is the per-worker training session: the runtime context, the
// dataset shards assigned to this rank, and the run's result channel.
type Session struct {
	ctx Context
	pid int

	mu       sync.Mutex
	shards   map[string]DatasetShard
	onReport ReportHandler
	results  []Result
}

func New(ctx Context) *Session {
	return &Session{
		ctx:    ctx,
		pid:    os.Getpid(),
		shards: make(map[string]DatasetShard),
	}
}

func (s *Session) Context() Context { return s.ctx }

func (s *Session) WorldSize() int { return s.ctx.WorldSize }
func (s *Session) WorldRank() int { return s.ctx.WorldRank }
func (s *Session) LocalRank() int { return s.ctx.LocalRank }
func (s *Session) NodeRank() int  { return s.ctx.NodeRank }
func (s *Session) Pid() int       { return s.pid }

// GpuIds returns the GPU ids the runtime assigned to this worker. Empty for
// CPU workers.
func (s *Session) GpuIds() []int { return s.ctx.GpuIds }

// SetDatasetShard assigns a dataset shard to this worker under a well-known
// name ("train", "validation").
func (s *Session) SetDatasetShard(name string, shard DatasetShard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[name] = shard
}

func (s *Session) DatasetShard(name string) (DatasetShard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[name]
	return shard, ok
}

// DatasetShards returns the shard map for run registration.
func (s *Session) DatasetShards() map[string]DatasetShard {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DatasetShard, len(s.shards))
	for name, shard := range s.shards {
		out[name] = shard
	}
	return out
}

// SetReportHandler installs the controller-side consumer for this worker's
// reports. Without a handler, reports accumulate in memory (used in tests).
func (s *Session) SetReportHandler(h ReportHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReport = h
}

// Report delivers a metrics snapshot and a staged checkpoint directory to
// the run's result channel. The call is synchronous: when it returns, the
// consumer is done with the checkpoint directory.
func (s *Session) Report(ctx context.Context, metrics map[string]any, checkpointDir string) error {
	s.mu.Lock()
	handler := s.onReport
	s.mu.Unlock()

	res := Result{Metrics: metrics, CheckpointDir: checkpointDir}

	if handler == nil {
		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()
		return nil
	}

	if err := handler(ctx, res); err != nil {
		return fmt.Errorf("failed to deliver training result for rank %d: %w", s.ctx.WorldRank, err)
	}
	return nil
}

// Results returns the reports accumulated without a handler installed.
func (s *Session) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}
