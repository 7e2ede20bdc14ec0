package session_test

import (
	"errors"
	"testing"

	"github.com/kibitzer/kibitzer/pkg/session"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

func TestHappyPathTransitions(t *testing.T) {
	m := session.New()
	if m.Current() != session.StateNotStarted {
		t.Fatalf("initial state = %q", m.Current())
	}

	if err := m.Begin(session.CommandHandshake); err != nil {
		t.Fatalf("Begin(uci) error = %v", err)
	}
	if m.Current() != session.StateAwaitingHandshake {
		t.Fatalf("state = %q, want awaiting-handshake", m.Current())
	}

	m.Apply(uci.Parse("id name Fake"))
	m.Apply(uci.Parse("uciok"))
	if m.Current() != session.StateIdle {
		t.Fatalf("state after uciok = %q, want idle", m.Current())
	}
	if m.ID().Name != "Fake" {
		t.Errorf("ID.Name = %q, want Fake", m.ID().Name)
	}

	if err := m.Begin(session.CommandPing); err != nil {
		t.Fatalf("Begin(isready) error = %v", err)
	}
	m.Apply(uci.Parse("readyok"))
	if m.Current() != session.StateIdle {
		t.Fatalf("state after readyok = %q, want idle", m.Current())
	}

	if err := m.Begin(session.CommandSearch); err != nil {
		t.Fatalf("Begin(go) error = %v", err)
	}
	if m.Current() != session.StateSearching {
		t.Fatalf("state after go = %q, want searching", m.Current())
	}
	m.Apply(uci.Parse("bestmove e2e4"))
	if m.Current() != session.StateIdle {
		t.Fatalf("state after bestmove = %q, want idle", m.Current())
	}
}

func TestOutOfOrderCommandsRejected(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*session.Machine)
		cmd   session.Command
	}{
		{"go before handshake", func(m *session.Machine) {}, session.CommandSearch},
		{"isready before handshake", func(m *session.Machine) {}, session.CommandPing},
		{"position before handshake", func(m *session.Machine) {}, session.CommandPosition},
		{
			"double handshake",
			func(m *session.Machine) { _ = m.Begin(session.CommandHandshake) },
			session.CommandHandshake,
		},
		{
			"go while awaiting uciok",
			func(m *session.Machine) { _ = m.Begin(session.CommandHandshake) },
			session.CommandSearch,
		},
		{
			"go while searching",
			func(m *session.Machine) {
				_ = m.Begin(session.CommandHandshake)
				m.Apply(uci.Parse("uciok"))
				_ = m.Begin(session.CommandSearch)
			},
			session.CommandSearch,
		},
		{
			"stop while idle",
			func(m *session.Machine) {
				_ = m.Begin(session.CommandHandshake)
				m.Apply(uci.Parse("uciok"))
			},
			session.CommandStop,
		},
		{
			"anything after terminate",
			func(m *session.Machine) {
				_ = m.Begin(session.CommandHandshake)
				m.Apply(uci.Parse("uciok"))
				m.Terminate()
			},
			session.CommandSearch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.New()
			tt.setup(m)
			before := m.Current()
			if err := m.Begin(tt.cmd); !errors.Is(err, session.ErrInvalidState) {
				t.Errorf("Begin(%s) error = %v, want ErrInvalidState", tt.cmd, err)
			}
			if m.Current() != before {
				t.Errorf("rejected command changed state %q -> %q", before, m.Current())
			}
		})
	}
}

func TestStopKeepsSearching(t *testing.T) {
	m := session.New()
	_ = m.Begin(session.CommandHandshake)
	m.Apply(uci.Parse("uciok"))
	_ = m.Begin(session.CommandSearch)

	if err := m.Begin(session.CommandStop); err != nil {
		t.Fatalf("Begin(stop) error = %v", err)
	}
	// stop is acknowledged by bestmove, not by the send itself.
	if m.Current() != session.StateSearching {
		t.Errorf("state after stop = %q, want searching", m.Current())
	}
	m.Apply(uci.Parse("bestmove e2e4"))
	if m.Current() != session.StateIdle {
		t.Errorf("state after bestmove = %q, want idle", m.Current())
	}
}

func TestOptionsCollectedDuringHandshake(t *testing.T) {
	m := session.New()
	_ = m.Begin(session.CommandHandshake)
	m.Apply(uci.Parse("option name Hash type spin default 16 min 1 max 4096"))
	m.Apply(uci.Parse("option name Ponder type check default false"))
	m.Apply(uci.Parse("uciok"))

	if len(m.Options()) != 2 {
		t.Fatalf("Options() len = %d, want 2", len(m.Options()))
	}
	hash, ok := m.Option("Hash")
	if !ok {
		t.Fatal("Hash option not recorded")
	}
	if hash.Default != "16" {
		t.Errorf("Hash default = %q, want 16", hash.Default)
	}

	// Mutating the returned copy must not affect the registry.
	opts := m.Options()
	delete(opts, "Hash")
	if _, ok := m.Option("Hash"); !ok {
		t.Error("option registry must not be mutable through Options()")
	}
}

func TestOptionBufferingBeforeHandshake(t *testing.T) {
	m := session.New()
	if !m.BufferOption("Threads", "4") {
		t.Fatal("BufferOption should accept values before handshake")
	}
	_ = m.Begin(session.CommandHandshake)
	if !m.BufferOption("Hash", "128") {
		t.Fatal("BufferOption should accept values while awaiting handshake")
	}
	m.Apply(uci.Parse("uciok"))
	if m.BufferOption("MultiPV", "2") {
		t.Fatal("BufferOption should refuse once idle")
	}

	buffered := m.DrainBufferedOptions()
	if len(buffered) != 2 {
		t.Fatalf("buffered = %d entries, want 2", len(buffered))
	}
	if buffered[0].Name != "Threads" || buffered[1].Name != "Hash" {
		t.Errorf("buffered order = %v, want Threads then Hash", buffered)
	}
	if got := m.DrainBufferedOptions(); len(got) != 0 {
		t.Errorf("second drain = %v, want empty", got)
	}
}

func TestProcessDiedFromAnyState(t *testing.T) {
	m := session.New()
	_ = m.Begin(session.CommandHandshake)
	m.Apply(uci.Parse("uciok"))
	_ = m.Begin(session.CommandSearch)

	m.ProcessDied()
	if m.Current() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", m.Current())
	}
	if err := m.Begin(session.CommandSearch); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("Begin after death error = %v, want ErrInvalidState", err)
	}
}

func TestSpontaneousEventsIgnored(t *testing.T) {
	m := session.New()
	_ = m.Begin(session.CommandHandshake)
	m.Apply(uci.Parse("uciok"))

	// A bestmove with no search pending must not corrupt the state.
	m.Apply(uci.Parse("bestmove a2a3"))
	if m.Current() != session.StateIdle {
		t.Errorf("state = %q, want idle", m.Current())
	}
	// readyok with no ping pending likewise.
	m.Apply(uci.Parse("readyok"))
	if m.Current() != session.StateIdle {
		t.Errorf("state = %q, want idle", m.Current())
	}
}
