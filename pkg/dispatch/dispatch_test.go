package dispatch_test

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kibitzer/kibitzer/pkg/dispatch"
	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/session"
	"github.com/kibitzer/kibitzer/pkg/transport"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

// fakeEngine is the far end of an in-memory pipe pair: the test plays
// the engine, the dispatcher under test plays the host.
type fakeEngine struct {
	out      *io.PipeWriter
	received chan string
}

func (f *fakeEngine) reply(lines ...string) {
	for _, line := range lines {
		fmt.Fprintf(f.out, "%s\n", line)
	}
}

func (f *fakeEngine) die() {
	f.out.Close()
}

// expectNothing asserts no command reaches the engine within the window.
func (f *fakeEngine) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case cmd := <-f.received:
		t.Errorf("engine received %q, want nothing", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}

func newHarness(t *testing.T) (*dispatch.Dispatcher, *session.Machine, *fakeEngine) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	machine := session.New()
	d := dispatch.New(transport.New(stdinW, stdoutR), machine, logger.Discard())

	engine := &fakeEngine{out: stdoutW, received: make(chan string, 64)}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			engine.received <- scanner.Text()
		}
	}()
	t.Cleanup(func() {
		stdoutW.Close()
		stdinR.Close()
	})

	return d, machine, engine
}

// handshake drives the session to Idle through the real pipe.
func handshake(t *testing.T, d *dispatch.Dispatcher, engine *fakeEngine) {
	t.Helper()
	go func() {
		<-engine.received // uci
		engine.reply("id name Fake", "uciok")
	}()
	if _, err := d.Execute(uci.CommandUCI, session.CommandHandshake, uci.KindUCIOk, time.Second); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
}

func TestExecuteResolvesOnTerminalEvent(t *testing.T) {
	d, machine, engine := newHarness(t)
	handshake(t, d, engine)

	go func() {
		<-engine.received // isready
		time.Sleep(20 * time.Millisecond)
		engine.reply("readyok")
	}()

	ev, err := d.Execute(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, time.Second)
	if err != nil {
		t.Fatalf("Execute(isready) error = %v", err)
	}
	if ev.Kind != uci.KindReadyOk {
		t.Errorf("event kind = %q, want readyok", ev.Kind)
	}
	if machine.Current() != session.StateIdle {
		t.Errorf("state = %q, want idle", machine.Current())
	}
}

func TestExecuteTimeout(t *testing.T) {
	d, machine, engine := newHarness(t)
	handshake(t, d, engine)

	start := time.Now()
	_, err := d.Execute("go infinite", session.CommandSearch, uci.KindBestMove, 50*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, dispatch.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("resolved after %v, want >= 50ms", elapsed)
	}

	// The engine is still running and still searching; a late bestmove
	// brings the session back to idle.
	if machine.Current() != session.StateSearching {
		t.Errorf("state after timeout = %q, want searching", machine.Current())
	}
	engine.reply("bestmove e2e4")
	waitForState(t, machine, session.StateIdle)
}

func TestSecondExecuteFailsFastWithBusy(t *testing.T) {
	d, _, engine := newHarness(t)
	handshake(t, d, engine)

	firstDone := make(chan error, 1)
	go func() {
		_, err := d.Execute("go infinite", session.CommandSearch, uci.KindBestMove, time.Second)
		firstDone <- err
	}()
	<-engine.received // go infinite is in flight

	_, err := d.Execute(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, time.Second)
	if !errors.Is(err, dispatch.ErrBusy) {
		t.Fatalf("concurrent Execute error = %v, want ErrBusy", err)
	}

	engine.reply("bestmove d2d4")
	if err := <-firstDone; err != nil {
		t.Fatalf("first Execute error = %v", err)
	}
}

func TestInvalidStateSendsNoBytes(t *testing.T) {
	d, _, engine := newHarness(t)

	_, err := d.Execute("go depth 1", session.CommandSearch, uci.KindBestMove, time.Second)
	if !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
	engine.expectNothing(t)
}

func TestProcessDeathFailsPendingRequest(t *testing.T) {
	d, machine, engine := newHarness(t)
	handshake(t, d, engine)

	go func() {
		<-engine.received // go
		engine.die()
	}()

	_, err := d.Execute("go infinite", session.CommandSearch, uci.KindBestMove, time.Second)
	if !errors.Is(err, dispatch.ErrProcessDied) {
		t.Fatalf("error = %v, want ErrProcessDied", err)
	}
	if machine.Current() != session.StateTerminated {
		t.Errorf("state = %q, want terminated", machine.Current())
	}

	// Future requests fail the same way.
	_, err = d.Execute(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, time.Second)
	if !errors.Is(err, dispatch.ErrProcessDied) {
		t.Errorf("post-death Execute error = %v, want ErrProcessDied", err)
	}

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Error("Done() not closed after process death")
	}
}

func TestObserverReceivesInfoLines(t *testing.T) {
	d, _, engine := newHarness(t)
	handshake(t, d, engine)

	var mu sync.Mutex
	var depths []int
	d.SetObserver(func(info *uci.Info) {
		mu.Lock()
		defer mu.Unlock()
		if info.Depth != nil {
			depths = append(depths, *info.Depth)
		}
	})

	go func() {
		<-engine.received
		engine.reply(
			"info depth 1 score cp 20",
			"info depth 2 score cp 32",
			"bestmove e2e4 ponder e7e5",
		)
	}()

	ev, err := d.Execute("go depth 2", session.CommandSearch, uci.KindBestMove, time.Second)
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if ev.BestMove.Move != "e2e4" || ev.BestMove.Ponder != "e7e5" {
		t.Errorf("bestmove = %+v", ev.BestMove)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(depths) != 2 || depths[0] != 1 || depths[1] != 2 {
		t.Errorf("observer depths = %v, want [1 2]", depths)
	}
}

func TestExecuteDrainCollectsInterleavedLines(t *testing.T) {
	d, _, engine := newHarness(t)
	handshake(t, d, engine)

	go func() {
		<-engine.received
		engine.reply("No such option: Bogus", "readyok")
	}()

	_, lines, err := d.ExecuteDrain(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, time.Second)
	if err != nil {
		t.Fatalf("ExecuteDrain error = %v", err)
	}
	if len(lines) != 1 || lines[0] != "No such option: Bogus" {
		t.Errorf("drained lines = %v", lines)
	}
}

func TestProbeSendsPreludeThenPing(t *testing.T) {
	d, _, engine := newHarness(t)
	handshake(t, d, engine)

	go func() {
		if got := <-engine.received; got != "setoption name Hash value 64" {
			t.Errorf("first line = %q", got)
		}
		if got := <-engine.received; got != "isready" {
			t.Errorf("second line = %q", got)
		}
		engine.reply("readyok")
	}()

	lines, err := d.Probe([]string{"setoption name Hash value 64"}, time.Second)
	if err != nil {
		t.Fatalf("Probe error = %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("silent engine should drain nothing, got %v", lines)
	}
}

func TestPostGatesWithoutReply(t *testing.T) {
	d, _, engine := newHarness(t)
	handshake(t, d, engine)

	if err := d.Post("position startpos moves e2e4", session.CommandPosition); err != nil {
		t.Fatalf("Post error = %v", err)
	}
	if got := <-engine.received; got != "position startpos moves e2e4" {
		t.Errorf("engine received %q", got)
	}

	if err := d.Post("stop", session.CommandStop); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("Post(stop) while idle error = %v, want ErrInvalidState", err)
	}
}

func waitForState(t *testing.T, m *session.Machine, want session.State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Current() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", m.Current(), want)
}
