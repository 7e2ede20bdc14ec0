// Package session tracks the readiness state of one engine session and
// gates commands so the protocol's strict request/response order is never
// violated. The machine is the single writer of its state: the dispatcher
// drives it, callers only read.
package session

import (
	"errors"
	"sync"

	"github.com/kibitzer/kibitzer/pkg/types"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

// ErrInvalidState indicates a command issued out of protocol order. The
// process receives no bytes for the rejected call.
var ErrInvalidState = errors.New("command not allowed in current session state")

// State represents engine session readiness
type State string

const (
	StateNotStarted        State = "not-started"
	StateAwaitingHandshake State = "awaiting-handshake"
	StateIdle              State = "idle"
	StateAwaitingReady     State = "awaiting-ready"
	StateSearching         State = "searching"
	StateTerminated        State = "terminated"
)

// Command identifies the caller operations the machine gates
type Command string

const (
	CommandHandshake Command = "uci"
	CommandPing      Command = "isready"
	CommandSearch    Command = "go"
	CommandStop      Command = "stop"
	CommandSetOption Command = "setoption"
	CommandPosition  Command = "position"
	CommandNewGame   Command = "ucinewgame"
)

// BufferedOption is an option value set before the handshake completed,
// held until the session first reaches Idle.
type BufferedOption struct {
	Name  string
	Value string
}

// Machine is the session state machine. One instance per engine.
type Machine struct {
	mu      sync.RWMutex
	state   State
	id      types.EngineID
	options map[string]types.Option
	buffer  []BufferedOption
}

// New returns a machine in the NotStarted state.
func New() *Machine {
	return &Machine{
		state:   StateNotStarted,
		options: make(map[string]types.Option),
	}
}

// Current returns the session state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ID returns the identity the engine reported during the handshake.
func (m *Machine) ID() types.EngineID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Option looks up a declared engine option by name.
func (m *Machine) Option(name string) (types.Option, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opt, ok := m.options[name]
	return opt, ok
}

// Options returns a copy of all options declared during the handshake.
// Declarations are never removed for the lifetime of the session.
func (m *Machine) Options() map[string]types.Option {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Option, len(m.options))
	for k, v := range m.options {
		out[k] = v
	}
	return out
}

// Begin validates a caller command against the current state and applies
// the outgoing transition. On ErrInvalidState nothing changes.
func (m *Machine) Begin(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd {
	case CommandHandshake:
		if m.state != StateNotStarted {
			return ErrInvalidState
		}
		m.state = StateAwaitingHandshake
	case CommandPing:
		if m.state != StateIdle {
			return ErrInvalidState
		}
		m.state = StateAwaitingReady
	case CommandSearch:
		if m.state != StateIdle {
			return ErrInvalidState
		}
		m.state = StateSearching
	case CommandStop:
		if m.state != StateSearching {
			return ErrInvalidState
		}
		// State stays Searching until the engine acknowledges with bestmove.
	case CommandSetOption, CommandPosition, CommandNewGame:
		if m.state != StateIdle {
			return ErrInvalidState
		}
	default:
		return ErrInvalidState
	}
	return nil
}

// BufferOption holds an option assignment made before the handshake has
// completed. Returns false once the session has reached Idle, meaning
// the caller should send setoption directly.
func (m *Machine) BufferOption(name, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateNotStarted && m.state != StateAwaitingHandshake {
		return false
	}
	m.buffer = append(m.buffer, BufferedOption{Name: name, Value: value})
	return true
}

// DrainBufferedOptions returns and clears the pre-handshake option buffer.
func (m *Machine) DrainBufferedOptions() []BufferedOption {
	m.mu.Lock()
	defer m.mu.Unlock()
	buffered := m.buffer
	m.buffer = nil
	return buffered
}

// Apply consumes a protocol event and performs the forward transition it
// implies. Events that make no sense in the current state are ignored;
// real engines are loose enough that dropping them beats failing.
func (m *Machine) Apply(ev uci.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case uci.KindEngineID:
		if ev.ID.Name != "" {
			m.id.Name = ev.ID.Name
		}
		if ev.ID.Author != "" {
			m.id.Author = ev.ID.Author
		}
	case uci.KindOption:
		m.options[ev.Option.Name] = *ev.Option
	case uci.KindUCIOk:
		if m.state == StateAwaitingHandshake {
			m.state = StateIdle
		}
	case uci.KindReadyOk:
		if m.state == StateAwaitingReady {
			m.state = StateIdle
		}
	case uci.KindBestMove:
		if m.state == StateSearching {
			m.state = StateIdle
		}
	}
}

// ProcessDied forces the terminal state from anywhere.
func (m *Machine) ProcessDied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateTerminated
}

// Terminate moves to the terminal state. Reachable from any state,
// idempotent.
func (m *Machine) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateTerminated
}
