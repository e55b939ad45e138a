// Package worker runs a unit of work repeatedly on one owned goroutine and
// gives it a start/stop/terminate lifecycle.
//
// Legal state transitions:
//
//	Stopped  -> Starting  Start, or first Start creating the goroutine
//	Starting -> Started   the goroutine, before OnStart
//	Started  -> Stopping  Stop
//	Stopping -> Stopped   the goroutine, after OnStop returns
//	any      -> Killing   Terminate (final)
//
// A stopped worker keeps its goroutine parked and can be started again.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	Stopped State = iota
	Starting
	Started
	Stopping
	Killing
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	case Killing:
		return "killing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrTerminated is returned by Start after Terminate.
var ErrTerminated = errors.New("worker terminated")

// Hooks is implemented by whatever the worker drives. OnStart and OnStop
// bracket each run of DoWork calls; all three run on the worker goroutine.
type Hooks interface {
	OnStart()
	DoWork()
	OnStop()
}

// Worker owns at most one goroutine running Hooks. Start, Stop and
// Terminate may be called from any goroutine except the worker's own.
type Worker struct {
	name     string
	hooks    Hooks
	idleWait time.Duration

	state atomic.Int32

	// mu guards the goroutine slot.
	mu         sync.Mutex
	done       chan struct{}
	terminated bool

	signalMu sync.Mutex
	changed  *sync.Cond
}

// New creates a stopped worker. idleWait is slept before every DoWork call;
// zero runs DoWork back to back.
func New(name string, hooks Hooks, idleWait time.Duration) *Worker {
	w := &Worker{name: name, hooks: hooks, idleWait: idleWait}
	w.changed = sync.NewCond(&w.signalMu)
	return w
}

// Name returns the name given to New.
func (w *Worker) Name() string {
	return w.name
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Start runs the worker and blocks until it is Started. OnStart runs on the
// worker goroutine right after that and may still be in progress when Start
// returns. Calling Start on a started worker is a no-op.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated {
		return ErrTerminated
	}

	if w.done == nil {
		w.setState(Starting)
		w.done = make(chan struct{})
		go w.run(w.done)
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"worker":   w.name,
		}).Debug("Spawned worker goroutine")
	} else if w.transition(Stopped, Starting) {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"worker":   w.name,
		}).Debug("Waking parked worker")
	}

	s := w.waitFor(func(s State) bool { return s == Started || s == Killing })
	if s == Killing {
		return ErrTerminated
	}
	return nil
}

// Stop asks the work loop to finish and blocks until OnStop has returned.
// The goroutine stays parked and the worker can be started again.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		return
	}
	if w.transition(Started, Stopping) {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"worker":   w.name,
		}).Debug("Stopping worker")
	}
	w.waitFor(func(s State) bool { return s == Stopped || s == Killing })
}

// Terminate stops the worker for good and waits for its goroutine to exit.
// It is safe to call more than once.
func (w *Worker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.terminated = true
	w.setState(Killing)
	if w.done == nil {
		return
	}

	<-w.done
	w.done = nil
	logrus.WithFields(logrus.Fields{
		"function": "Terminate",
		"worker":   w.name,
	}).Debug("Worker terminated")
}

func (w *Worker) run(done chan struct{}) {
	defer close(done)

	for w.State() != Killing {
		w.transition(Starting, Started)
		w.hooks.OnStart()

		w.workLoop()
		w.hooks.OnStop()

		// A pending Terminate or Start must survive the move to Stopped.
		for {
			prev := w.State()
			next := Stopped
			if prev == Killing || prev == Starting {
				next = prev
			}
			if w.state.CompareAndSwap(int32(prev), int32(next)) {
				break
			}
		}
		w.broadcast()

		w.waitFor(func(s State) bool { return s != Stopped })
	}
}

func (w *Worker) workLoop() {
	for w.State() == Started {
		if w.idleWait > 0 {
			time.Sleep(w.idleWait)
		}
		w.hooks.DoWork()
	}
}

func (w *Worker) transition(from, to State) bool {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	w.broadcast()
	return true
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.broadcast()
}

func (w *Worker) broadcast() {
	w.signalMu.Lock()
	w.changed.Broadcast()
	w.signalMu.Unlock()
}

// waitFor blocks until cond holds for the current state and returns it.
func (w *Worker) waitFor(cond func(State) bool) State {
	w.signalMu.Lock()
	defer w.signalMu.Unlock()
	for {
		s := w.State()
		if cond(s) {
			return s
		}
		w.changed.Wait()
	}
}
