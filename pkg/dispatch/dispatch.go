// Package dispatch serializes commands to an engine and correlates each
// terminal-awaiting command with the single reply that resolves it. UCI
// has no request identifiers, so correlation is by the one-at-a-time
// invariant: at most one in-flight request, strict FIFO line delivery.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/session"
	"github.com/kibitzer/kibitzer/pkg/transport"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

var (
	// ErrBusy indicates a second terminal-awaiting command while one is
	// already pending. Callers retry after the first resolves; queuing
	// here would hide the protocol's strict request/response shape.
	ErrBusy = errors.New("another command is awaiting its reply")

	// ErrTimeout indicates the caller's deadline elapsed first. The
	// engine process is left running; a slow search is not a fault.
	ErrTimeout = errors.New("timed out waiting for engine reply")

	// ErrProcessDied indicates the engine exited or closed its output.
	// All pending and future requests fail with it.
	ErrProcessDied = errors.New("engine process died")
)

// Observer receives search progress reports that arrive while a request
// is pending. Called from the reader goroutine; keep it fast.
type Observer func(info *uci.Info)

type result struct {
	event uci.Event
	err   error
}

type pendingRequest struct {
	terminal uci.Kind
	collect  bool
	lines    []string
	done     chan result
}

// Dispatcher owns the outgoing half of the transport and the single
// pending-request slot.
type Dispatcher struct {
	channel *transport.Channel
	machine *session.Machine
	logger  logger.Logger

	mu       sync.Mutex
	pending  *pendingRequest
	observer Observer
	dead     bool

	done chan struct{}
}

// New wires a dispatcher over a transport channel and session machine
// and starts the reader loop.
func New(channel *transport.Channel, machine *session.Machine, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		channel: channel,
		machine: machine,
		logger:  log,
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// SetObserver registers the info callback. Pass nil to remove it.
func (d *Dispatcher) SetObserver(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Done is closed when the reader loop exits, i.e. when the process has
// closed its output stream.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Post sends a command that expects no terminal reply (position,
// ucinewgame, setoption, stop). The session gate runs first: an
// out-of-order command fails without touching the process.
func (d *Dispatcher) Post(cmd string, gate session.Command) error {
	if err := d.machine.Begin(gate); err != nil {
		return err
	}
	return d.send(cmd)
}

// Execute sends a command and blocks until the terminal event arrives,
// the timeout elapses, or the process dies. A timeout of zero means
// wait indefinitely (the process-death path still fires).
func (d *Dispatcher) Execute(cmd string, gate session.Command, terminal uci.Kind, timeout time.Duration) (uci.Event, error) {
	ev, _, err := d.execute(nil, cmd, gate, terminal, timeout, false)
	return ev, err
}

// ExecuteDrain behaves like Execute and additionally returns the
// non-info lines the engine emitted before the terminal event. Used for
// the isready drain that detects engine complaints.
func (d *Dispatcher) ExecuteDrain(cmd string, gate session.Command, terminal uci.Kind, timeout time.Duration) (uci.Event, []string, error) {
	return d.execute(nil, cmd, gate, terminal, timeout, true)
}

// Probe sends the prelude lines followed by isready as a single request
// and returns whatever non-info output the engine emitted before
// readyok. Engines acknowledge good input silently and complain in
// plain text, so a non-empty drain means the prelude upset the engine.
func (d *Dispatcher) Probe(prelude []string, timeout time.Duration) ([]string, error) {
	_, lines, err := d.execute(prelude, uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, timeout, true)
	return lines, err
}

func (d *Dispatcher) execute(prelude []string, cmd string, gate session.Command, terminal uci.Kind, timeout time.Duration, collect bool) (uci.Event, []string, error) {
	d.mu.Lock()
	if d.dead {
		d.mu.Unlock()
		return uci.Event{}, nil, ErrProcessDied
	}
	if d.pending != nil {
		d.mu.Unlock()
		return uci.Event{}, nil, ErrBusy
	}
	if err := d.machine.Begin(gate); err != nil {
		d.mu.Unlock()
		return uci.Event{}, nil, err
	}
	p := &pendingRequest{
		terminal: terminal,
		collect:  collect,
		done:     make(chan result, 1),
	}
	d.pending = p
	d.mu.Unlock()

	for _, line := range prelude {
		if err := d.send(line); err != nil {
			d.clearPending(p)
			return uci.Event{}, nil, err
		}
	}
	if err := d.send(cmd); err != nil {
		d.clearPending(p)
		return uci.Event{}, nil, err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-p.done:
		return r.event, p.lines, r.err
	case <-timeoutC:
		d.clearPending(p)
		// The terminal reply may have raced the deadline.
		select {
		case r := <-p.done:
			return r.event, p.lines, r.err
		default:
		}
		return uci.Event{}, nil, ErrTimeout
	}
}

func (d *Dispatcher) clearPending(p *pendingRequest) {
	d.mu.Lock()
	if d.pending == p {
		d.pending = nil
	}
	d.mu.Unlock()
}

// send writes one line; a write failure means the pipe is gone, which is
// process death.
func (d *Dispatcher) send(cmd string) error {
	d.logger.Debug("send", logger.WithField("command", cmd))
	if err := d.channel.Send(cmd); err != nil {
		d.markDead()
		return fmt.Errorf("%w: %v", ErrProcessDied, err)
	}
	return nil
}

func (d *Dispatcher) markDead() {
	d.mu.Lock()
	already := d.dead
	d.dead = true
	p := d.pending
	d.pending = nil
	d.mu.Unlock()

	if !already {
		d.machine.ProcessDied()
	}
	if p != nil {
		p.done <- result{err: ErrProcessDied}
	}
}

// loop drains the transport until end-of-stream, feeding the parser,
// the session machine, the observer, and the pending-request slot.
func (d *Dispatcher) loop() {
	for line := range d.channel.Lines() {
		ev := uci.Parse(line)
		d.machine.Apply(ev)

		switch ev.Kind {
		case uci.KindInfo:
			d.mu.Lock()
			obs := d.observer
			d.mu.Unlock()
			if obs != nil {
				obs(ev.Info)
			}
			continue
		case uci.KindUnrecognized:
			if ev.Raw != "" {
				d.logger.Debug("unrecognized engine output", logger.WithField("line", ev.Raw))
			}
		}

		d.mu.Lock()
		p := d.pending
		if p == nil {
			d.mu.Unlock()
			continue
		}
		if ev.Kind == p.terminal {
			d.pending = nil
			d.mu.Unlock()
			p.done <- result{event: ev}
			continue
		}
		if p.collect && ev.Raw != "" {
			p.lines = append(p.lines, ev.Raw)
		}
		d.mu.Unlock()
	}

	d.markDead()
	close(d.done)
}
