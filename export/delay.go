package export

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// delayExecutor runs delayed exports on a single goroutine, in readiness
// order. The clock is injectable so tests can drive it.
type delayExecutor struct {
	clock clockwork.Clock
	tasks chan func()
}

func newDelayExecutor(clock clockwork.Clock) *delayExecutor {
	e := &delayExecutor{clock: clock, tasks: make(chan func(), 16)}
	go e.run()
	return e
}

func (e *delayExecutor) run() {
	for task := range e.tasks {
		task()
	}
}

// schedule enqueues f for execution after d on the executor goroutine.
func (e *delayExecutor) schedule(d time.Duration, f func()) {
	e.clock.AfterFunc(d, func() {
		e.tasks <- f
	})
}

var (
	sharedDelayOnce sync.Once
	sharedDelay     *delayExecutor
)

// sharedDelayExecutor is the one process-wide delay executor.
func sharedDelayExecutor() *delayExecutor {
	sharedDelayOnce.Do(func() {
		sharedDelay = newDelayExecutor(clockwork.NewRealClock())
	})
	return sharedDelay
}
