// Package process owns the engine child process: spawning with redirected
// pipes, liveness, and graceful-then-forceful termination.
package process

import (
	"bufio"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/transport"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

// DefaultGracePeriod is how long Terminate waits after quit before
// killing the process.
const DefaultGracePeriod = 2 * time.Second

// Supervisor exclusively owns one engine process and both pipe ends.
// At most one live process exists per supervisor.
type Supervisor struct {
	cmd     *exec.Cmd
	channel *transport.Channel
	logger  logger.Logger

	gracePeriod time.Duration

	waitDone chan struct{}
	waitMu   sync.Mutex
	waitErr  error

	termOnce sync.Once
	termErr  error
}

// Start spawns the engine executable with stdin/stdout redirected into a
// transport channel. Spawn failures (missing executable, permission
// denied) are fatal and reported immediately.
func Start(path string, args []string, log logger.Logger) (*Supervisor, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: spawn %s: %w", path, err)
	}

	s := &Supervisor{
		cmd:         cmd,
		channel:     transport.New(stdin, stdout),
		logger:      log,
		gracePeriod: DefaultGracePeriod,
		waitDone:    make(chan struct{}),
	}

	// Stderr is outside the protocol; drain it so the engine can't block,
	// and keep it visible at debug level.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Debug("engine stderr", logger.WithField("line", scanner.Text()))
		}
	}()

	// Wait must not run while the pipes are still being read: it closes
	// them on child exit and would drop buffered final output, such as a
	// bestmove printed right before the engine quits.
	go func() {
		<-s.channel.ReaderDone()
		<-stderrDone
		err := cmd.Wait()
		s.waitMu.Lock()
		s.waitErr = err
		s.waitMu.Unlock()
		close(s.waitDone)
	}()

	log.Debug("engine process started",
		logger.WithField("path", path),
		logger.WithField("pid", cmd.Process.Pid))
	return s, nil
}

// Channel returns the line transport to the process.
func (s *Supervisor) Channel() *transport.Channel {
	return s.channel
}

// PID returns the child process id.
func (s *Supervisor) PID() int {
	return s.cmd.Process.Pid
}

// Alive reports whether the process has not yet exited.
func (s *Supervisor) Alive() bool {
	select {
	case <-s.waitDone:
		return false
	default:
		return true
	}
}

// SetGracePeriod overrides the quit-to-kill grace period. Must be called
// before Terminate.
func (s *Supervisor) SetGracePeriod(d time.Duration) {
	s.gracePeriod = d
}

// Terminate asks the engine to quit, waits out the grace period, then
// kills it. Safe to call multiple times; every call after the first
// observes the same result.
func (s *Supervisor) Terminate() error {
	s.termOnce.Do(func() {
		// Best effort: the pipe may already be gone.
		_ = s.channel.Send(uci.CommandQuit)

		select {
		case <-s.waitDone:
		case <-time.After(s.gracePeriod):
			s.logger.Warn("engine ignored quit, killing",
				logger.WithField("pid", s.cmd.Process.Pid))
			if err := s.cmd.Process.Kill(); err != nil {
				s.termErr = fmt.Errorf("process: kill: %w", err)
			}
			<-s.waitDone
		}

		s.logger.Debug("engine process terminated",
			logger.WithField("pid", s.cmd.Process.Pid))
	})
	return s.termErr
}

// WaitErr returns the process exit error once the process has exited,
// nil before that or on a clean exit.
func (s *Supervisor) WaitErr() error {
	select {
	case <-s.waitDone:
	default:
		return nil
	}
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	return s.waitErr
}
