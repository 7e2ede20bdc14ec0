// Package engine is the public surface of Kibitzer: construct an engine
// from an executable path, configure it, set positions, run searches,
// shut it down. Everything here is thin composition over pkg/process,
// pkg/dispatch and pkg/session.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kibitzer/kibitzer/pkg/dispatch"
	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/process"
	"github.com/kibitzer/kibitzer/pkg/session"
	"github.com/kibitzer/kibitzer/pkg/types"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

// Errors callers check with errors.Is. Timeout, Busy and ProcessDied are
// re-exported from pkg/dispatch so library users import one package.
var (
	ErrTimeout       = dispatch.ErrTimeout
	ErrBusy          = dispatch.ErrBusy
	ErrProcessDied   = dispatch.ErrProcessDied
	ErrInvalidState  = session.ErrInvalidState
	ErrUnknownOption = errors.New("engine does not support this option")
)

// DefaultStartupTimeout bounds the uci/uciok and isready/readyok
// handshake at construction.
const DefaultStartupTimeout = 5 * time.Second

// Config tunes engine construction. The zero value works.
type Config struct {
	// Name labels the engine in logs. Defaults to the executable name.
	Name string
	// Args are extra command-line arguments for the executable.
	Args []string
	// Options are applied during startup, before the handshake reply
	// is processed, via the pre-handshake buffer.
	Options map[string]string
	// StartupTimeout bounds the construction handshake.
	StartupTimeout time.Duration
	// GracePeriod is how long Shutdown waits between quit and kill.
	GracePeriod time.Duration
	// Logger receives structured logs. Defaults to a discard logger.
	Logger logger.Logger
}

// Observer receives search progress reports during Search.
type Observer = dispatch.Observer

// Engine drives one UCI engine process.
type Engine struct {
	name       string
	logger     logger.Logger
	supervisor *process.Supervisor
	machine    *session.Machine
	dispatcher *dispatch.Dispatcher

	obsMu    sync.Mutex
	observer Observer

	// searchMu is the search slot: only its holder may swap the
	// dispatcher observer for progress aggregation.
	searchMu sync.Mutex

	shutOnce sync.Once
	shutErr  error
}

// New spawns the engine executable and completes the UCI handshake:
// identification, option declarations, and the first readiness ping.
// The returned engine is Idle and ready for positions and searches.
func New(path string, cfg Config) (*Engine, error) {
	name := cfg.Name
	if name == "" {
		name = filepath.Base(path)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithEngine(name)

	startupTimeout := cfg.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}

	supervisor, err := process.Start(path, cfg.Args, log)
	if err != nil {
		return nil, err
	}
	if cfg.GracePeriod > 0 {
		supervisor.SetGracePeriod(cfg.GracePeriod)
	}

	machine := session.New()
	e := &Engine{
		name:       name,
		logger:     log,
		supervisor: supervisor,
		machine:    machine,
		dispatcher: dispatch.New(supervisor.Channel(), machine, log),
	}
	e.dispatcher.SetObserver(e.forwardInfo)

	// Startup options ride the pre-handshake buffer and flush once the
	// session first reaches Idle.
	for _, name := range sortedKeys(cfg.Options) {
		machine.BufferOption(name, cfg.Options[name])
	}

	if err := e.handshake(startupTimeout); err != nil {
		_ = supervisor.Terminate()
		return nil, err
	}

	log.Info("engine ready",
		logger.WithField("id", e.ID().Name),
		logger.WithField("options", len(e.Options())))
	return e, nil
}

func (e *Engine) handshake(timeout time.Duration) error {
	if _, err := e.dispatcher.Execute(uci.CommandUCI, session.CommandHandshake, uci.KindUCIOk, timeout); err != nil {
		return fmt.Errorf("engine %s: handshake: %w", e.name, err)
	}

	for _, opt := range e.machine.DrainBufferedOptions() {
		if err := e.SetOption(opt.Name, opt.Value); err != nil {
			return fmt.Errorf("engine %s: startup option: %w", e.name, err)
		}
	}

	if _, err := e.dispatcher.Execute(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, timeout); err != nil {
		return fmt.Errorf("engine %s: readiness: %w", e.name, err)
	}
	return nil
}

// Name returns the label the engine is logged under.
func (e *Engine) Name() string {
	return e.name
}

// ID returns the identity reported during the handshake.
func (e *Engine) ID() types.EngineID {
	return e.machine.ID()
}

// State returns the current session state.
func (e *Engine) State() session.State {
	return e.machine.Current()
}

// Alive reports whether the engine process is still running.
func (e *Engine) Alive() bool {
	return e.supervisor.Alive()
}

// PID returns the engine process id.
func (e *Engine) PID() int {
	return e.supervisor.PID()
}

// Options returns the option declarations captured during the handshake.
func (e *Engine) Options() map[string]types.Option {
	return e.machine.Options()
}

// Observe registers a callback for search progress reports. Pass nil to
// remove it. The callback runs on the reader goroutine; keep it fast.
func (e *Engine) Observe(fn Observer) {
	e.obsMu.Lock()
	e.observer = fn
	e.obsMu.Unlock()
}

func (e *Engine) forwardInfo(info *uci.Info) {
	e.obsMu.Lock()
	fn := e.observer
	e.obsMu.Unlock()
	if fn != nil {
		fn(info)
	}
}

// SetOption assigns a value to a declared engine option. Before the
// handshake completes the assignment is buffered; afterwards it is sent
// immediately and verified with a readiness probe, because engines
// acknowledge setoption only by complaining.
func (e *Engine) SetOption(name, value string) error {
	if e.machine.BufferOption(name, value) {
		return nil
	}

	if opt, ok := e.machine.Option(name); ok {
		if err := opt.ValidateValue(value); err != nil {
			return err
		}
	} else if len(e.machine.Options()) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	complaints, err := e.dispatcher.Probe([]string{uci.FormatSetOption(name, value)}, DefaultStartupTimeout)
	if err != nil {
		return err
	}
	if len(complaints) > 0 {
		e.logger.Warn("engine rejected option",
			logger.WithField("option", name),
			logger.WithField("reply", strings.Join(complaints, "; ")))
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	return nil
}

// NewGame tells the engine to drop state tied to the previous game and
// waits for it to settle.
func (e *Engine) NewGame() error {
	if err := e.dispatcher.Post(uci.CommandUCINewGame, session.CommandNewGame); err != nil {
		return err
	}
	_, err := e.dispatcher.Execute(uci.CommandIsReady, session.CommandPing, uci.KindReadyOk, DefaultStartupTimeout)
	return err
}

// SetPosition pushes a position by FEN plus optional moves. An empty fen
// means the standard starting position.
func (e *Engine) SetPosition(fen string, moves ...string) error {
	return e.dispatcher.Post(uci.FormatPosition(fen, moves), session.CommandPosition)
}

// SetStartPos pushes the starting position with optional moves played
// from it.
func (e *Engine) SetStartPos(moves ...string) error {
	return e.SetPosition("", moves...)
}

// Search runs a search under the given limits and blocks until the
// engine reports its best move. Empty limits search for
// types.DefaultMoveTime. No deadline is applied beyond the limits
// themselves; use SearchWithTimeout against engines you don't trust.
func (e *Engine) Search(limits types.SearchLimits) (types.SearchResult, error) {
	return e.SearchWithTimeout(limits, 0)
}

// SearchWithTimeout is Search with a hard caller-side deadline. On
// timeout the engine process is left running and keeps searching; the
// caller decides whether to Stop or Shutdown.
func (e *Engine) SearchWithTimeout(limits types.SearchLimits, timeout time.Duration) (types.SearchResult, error) {
	// A second Search is rejected before touching the dispatcher
	// observer, so the in-flight search keeps its aggregation.
	if !e.searchMu.TryLock() {
		return types.SearchResult{}, ErrBusy
	}
	defer e.searchMu.Unlock()

	var (
		mu       sync.Mutex
		progress types.SearchResult
	)
	userObserver := e.snapshotObserver()
	e.dispatcher.SetObserver(func(info *uci.Info) {
		mu.Lock()
		mergeInfo(&progress, info)
		mu.Unlock()
		if userObserver != nil {
			userObserver(info)
		}
	})
	defer e.dispatcher.SetObserver(e.forwardInfo)

	ev, err := e.dispatcher.Execute(uci.FormatGo(limits), session.CommandSearch, uci.KindBestMove, timeout)
	if err != nil {
		return types.SearchResult{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	progress.BestMove = ev.BestMove.Move
	progress.Ponder = ev.BestMove.Ponder
	return progress, nil
}

// Stop asks the engine to cut the current search short. It does not
// unblock a pending Search; that resolves when the engine answers with
// bestmove.
func (e *Engine) Stop() error {
	return e.dispatcher.Post(uci.CommandStop, session.CommandStop)
}

// Command sends a raw protocol line and returns whatever output the
// engine produced before its next readyok. Escape hatch for engine
// extensions the typed surface doesn't cover.
func (e *Engine) Command(cmd string) ([]string, error) {
	return e.dispatcher.Probe([]string{strings.TrimSpace(cmd)}, DefaultStartupTimeout)
}

// Shutdown terminates the engine process: quit, a grace period, then
// kill. Idempotent; a second call observes the first call's result.
func (e *Engine) Shutdown() error {
	e.shutOnce.Do(func() {
		e.machine.Terminate()
		e.shutErr = e.supervisor.Terminate()
	})
	return e.shutErr
}

func (e *Engine) snapshotObserver() Observer {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	return e.observer
}

// mergeInfo folds one progress report into the running result, keeping
// the deepest values seen. Reports for alternative lines (multipv > 1)
// are forwarded to observers but don't overwrite the main line.
func mergeInfo(r *types.SearchResult, info *uci.Info) {
	if info.MultiPV != nil && *info.MultiPV > 1 {
		return
	}
	if info.Depth != nil {
		r.Depth = *info.Depth
	}
	if info.SelDepth != nil {
		r.SelDepth = *info.SelDepth
	}
	if info.ScoreCP != nil {
		r.ScoreCP = info.ScoreCP
		r.Mate = nil
	}
	if info.Mate != nil {
		r.Mate = info.Mate
		r.ScoreCP = nil
	}
	if info.Nodes != nil {
		r.Nodes = *info.Nodes
	}
	if info.NPS != nil {
		r.NPS = *info.NPS
	}
	if info.Time != nil {
		r.Time = *info.Time
	}
	if len(info.PV) > 0 {
		r.PV = append([]string(nil), info.PV...)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
