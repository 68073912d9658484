package session

// BatchIterator yields the batches of a dataset shard in order.
type BatchIterator func(yield func(batch any) bool)

// DatasetShard is the fixed contract of the dataset library: a per-worker
// slice of a dataset plus the lineage metadata identifying the plan that
// produced it.
type DatasetShard interface {
	PlanName() string

	PlanUuid() string

	Batches() BatchIterator
}

// StaticShard is a DatasetShard over an in-memory batch list. Used by local
// runs and tests; real runs receive shards from the dataset library.
type StaticShard struct {
	planName string
	planUuid string
	batches  []any
}

func NewStaticShard(planName, planUuid string, batches []any) *StaticShard {
	return &StaticShard{planName: planName, planUuid: planUuid, batches: batches}
}

func (s *StaticShard) PlanName() string { return s.planName }

func (s *StaticShard) PlanUuid() string { return s.planUuid }

func (s *StaticShard) Batches() BatchIterator {
	return func(yield func(batch any) bool) {
		for _, b := range s.batches {
			if !yield(b) {
				return
			}
		}
	}
}
