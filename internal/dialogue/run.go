package dialogue

import (
	"sync"
	"sync/atomic"
)

// Summary describes how a run ended.
type Summary struct {
	// Turns is the number of loop iterations consumed from the budget.
	Turns     int
	Committed int
	Skipped   int
	Cancelled bool
}

// Run is the handle of one started dialogue run.
type Run struct {
	sessionID string
	budget    int

	cancelled atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	onCancel  func()

	done    chan struct{}
	summary Summary
	err     error
}

func newRun(sessionID string, budget int, onCancel func()) *Run {
	return &Run{
		sessionID: sessionID,
		budget:    budget,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		onCancel:  onCancel,
	}
}

func (r *Run) SessionID() string {
	return r.sessionID
}

// Budget is the number of turns the run was started with.
func (r *Run) Budget() int {
	return r.budget
}

// Cancel asks the run to stop. It is observed before the next turn starts
// and after a pacing delay; a generation call already in flight completes
// and its turn is committed.
func (r *Run) Cancel() {
	r.stopOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.stop)
		if r.onCancel != nil {
			r.onCancel()
		}
	})
}

func (r *Run) stopping() bool {
	return r.cancelled.Load()
}

// Done is closed when the run has returned to idle.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes. The error is non-nil only when the
// gateway failed, and is then a *TurnError.
func (r *Run) Wait() (Summary, error) {
	<-r.done
	return r.summary, r.err
}

func (r *Run) finish(s Summary, err error) {
	r.summary = s
	r.err = err
	close(r.done)
}
