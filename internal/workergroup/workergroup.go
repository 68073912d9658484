package workergroup

import (
	"context"
	"errors"
	"fmt"

	"trainrun-backend/internal/session"
)

// Future resolves to the result of one asynchronous worker call.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func (f *Future) resolve(val any, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Wait blocks until the call resolves or the context is cancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Group is the fan-out surface of the distributed runtime's worker group:
// one training session per rank, addressable by index.
type Group interface {
	Len() int

	// ExecuteSingleAsync schedules fn on the worker at the given index and
	// returns immediately with a future for its result.
	ExecuteSingleAsync(index int, fn func(s *session.Session) (any, error)) *Future
}

// CheckForFailure waits on all futures and aggregates their errors. It
// mirrors the controller-side failure check of the runtime: any single
// worker failure fails the whole fan-out.
func CheckForFailure(ctx context.Context, futures []*Future) error {
	var errs []error
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LocalGroup runs every rank's session in the current process, one
// goroutine per call. It stands in for the runtime's worker group in local
// runs and tests.
type LocalGroup struct {
	sessions []*session.Session
}

func NewLocalGroup(sessions []*session.Session) *LocalGroup {
	return &LocalGroup{sessions: sessions}
}

var _ Group = (*LocalGroup)(nil)

func (g *LocalGroup) Len() int { return len(g.sessions) }

func (g *LocalGroup) Session(index int) *session.Session { return g.sessions[index] }

func (g *LocalGroup) ExecuteSingleAsync(index int, fn func(s *session.Session) (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	if index < 0 || index >= len(g.sessions) {
		f.resolve(nil, fmt.Errorf("worker index %d out of range [0, %d)", index, len(g.sessions)))
		return f
	}
	go func() {
		val, err := fn(g.sessions[index])
		f.resolve(val, err)
	}()
	return f
}
