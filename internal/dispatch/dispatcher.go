package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/util"
)

// Sink submits one command and waits for the window manager's reply.
type Sink interface {
	RunCommand(ctx context.Context, cmd layout.Command) error
}

// State is the dispatcher's position in its Idle/Sending/Closed cycle.
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
	StateClosed  State = "closed"
)

// Result describes one finished submission.
type Result struct {
	Command  layout.Command
	Err      error
	Duration time.Duration
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	State     State          `json:"state"`
	Submitted uint64         `json:"submitted"`
	Last      layout.Command `json:"last,omitempty"`
	LastAt    time.Time      `json:"lastAt,omitempty"`
}

// Dispatcher is the only consumer of a Queue. It never has more than one
// command in flight.
type Dispatcher struct {
	sink     Sink
	logger   *util.Logger
	observer func(Result)

	mu     sync.Mutex
	status Status
}

// New returns a dispatcher submitting to sink. observer, when non-nil, is
// called after every submission from the dispatcher goroutine.
func New(sink Sink, logger *util.Logger, observer func(Result)) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		logger:   logger,
		observer: observer,
		status:   Status{State: StateIdle},
	}
}

// Run drains q until it is closed and empty, submitting commands in order.
// It does not stop on ctx cancellation by itself: the producer closes the
// queue when it exits and Run finishes the backlog first. A failed
// submission ends the loop with that error; there is no retry.
func (d *Dispatcher) Run(ctx context.Context, q *Queue) error {
	defer d.setState(StateClosed)
	for cmd := range q.Commands() {
		d.setState(StateSending)
		start := time.Now()
		err := d.sink.RunCommand(ctx, cmd)
		res := Result{Command: cmd, Err: err, Duration: time.Since(start)}
		if d.observer != nil {
			d.observer(res)
		}
		if err != nil {
			return fmt.Errorf("submit %q: %w", cmd, err)
		}
		d.mu.Lock()
		d.status.Submitted++
		d.status.Last = cmd
		d.status.LastAt = start
		d.status.State = StateIdle
		d.mu.Unlock()
		if d.logger != nil {
			d.logger.Debugf("submitted %q in %s", cmd, res.Duration)
		}
	}
	if d.logger != nil {
		d.logger.Debugf("command queue closed, dispatcher exiting")
	}
	return nil
}

// Status returns a copy of the current status.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return d.Status().State
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.status.State = s
	d.mu.Unlock()
}

// LogSink accepts every command without contacting the window manager.
type LogSink struct {
	Logger *util.Logger
}

// RunCommand logs cmd and reports success.
func (s LogSink) RunCommand(_ context.Context, cmd layout.Command) error {
	if s.Logger != nil {
		s.Logger.Infof("dry-run: %s", cmd)
	}
	return nil
}
