package trainer

import (
	"trainrun-backend/internal/session"
)

// ClusterEnvironment is the training library's abstraction for discovering
// rank and world size from the execution environment.
type ClusterEnvironment interface {
	WorldSize() int
	GlobalRank() int
	LocalRank() int
	NodeRank() int

	SetWorldSize(size int)
	SetGlobalRank(rank int)

	Teardown()
}

// RuntimeEnvironment serves rank and world-size queries live from the
// distributed runtime's session. The setters are no-ops: caching a value
// here would go stale after elastic membership changes, so overrides are
// rejected and reads always reflect the runtime.
type RuntimeEnvironment struct {
	sess *session.Session
}

var _ ClusterEnvironment = (*RuntimeEnvironment)(nil)

func NewRuntimeEnvironment(sess *session.Session) *RuntimeEnvironment {
	return &RuntimeEnvironment{sess: sess}
}

func (e *RuntimeEnvironment) WorldSize() int { return e.sess.WorldSize() }

func (e *RuntimeEnvironment) GlobalRank() int { return e.sess.WorldRank() }

func (e *RuntimeEnvironment) LocalRank() int { return e.sess.LocalRank() }

func (e *RuntimeEnvironment) NodeRank() int { return e.sess.NodeRank() }

// SetWorldSize is disabled since WorldSize reads directly from the runtime.
func (e *RuntimeEnvironment) SetWorldSize(size int) {}

// SetGlobalRank is disabled since GlobalRank reads directly from the runtime.
func (e *RuntimeEnvironment) SetGlobalRank(rank int) {}

func (e *RuntimeEnvironment) Teardown() {}
