// Package pool fans analysis requests out over a fixed set of engine
// processes. Each worker owns one engine; dead engines are replaced up
// to a restart budget.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kibitzer/kibitzer/pkg/dispatch"
	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/types"
)

var (
	ErrQueueFull = errors.New("analysis queue is full")
	ErrClosed    = errors.New("pool is closed")
)

const (
	defaultQueueMultiplier = 4
	defaultJobTimeout      = 30 * time.Second
	defaultMaxRestarts     = 1
)

// Searcher is the slice of the engine surface the pool drives.
// *engine.Engine satisfies it.
type Searcher interface {
	Name() string
	Alive() bool
	NewGame() error
	SetPosition(fen string, moves ...string) error
	SearchWithTimeout(limits types.SearchLimits, timeout time.Duration) (types.SearchResult, error)
	Shutdown() error
}

// Factory builds one engine for one worker. Called at startup and on
// every restart.
type Factory func() (Searcher, error)

// Config tunes the pool. The zero value runs a single worker.
type Config struct {
	// Size is the number of engines, each with its own worker.
	Size int
	// QueueSize bounds pending requests. Defaults to 4x Size.
	QueueSize int
	// JobTimeout is the hard deadline per analysis.
	JobTimeout time.Duration
	// MaxRestarts is how many replacement attempts a worker makes when
	// its engine dies before the worker gives up.
	MaxRestarts int
	Logger      logger.Logger
}

// Request describes one position to analyze.
type Request struct {
	FEN    string
	Moves  []string
	Limits types.SearchLimits
}

type response struct {
	result types.SearchResult
	err    error
}

type job struct {
	id       string
	ctx      context.Context
	request  Request
	response chan response
}

// Pool distributes analysis requests across workers.
type Pool struct {
	cfg     Config
	factory Factory
	logger  logger.Logger

	jobs   chan job
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New starts cfg.Size engines and their workers. If any engine fails to
// start, the ones already running are shut down and the error returned.
func New(factory Factory, cfg Config) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Size * defaultQueueMultiplier
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	engines := make([]Searcher, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		s, err := factory()
		if err != nil {
			for _, started := range engines {
				_ = started.Shutdown()
			}
			return nil, fmt.Errorf("pool: start engine %d: %w", i, err)
		}
		engines = append(engines, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  cfg.Logger,
		jobs:    make(chan job, cfg.QueueSize),
		group:   &errgroup.Group{},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, s := range engines {
		s := s
		p.group.Go(func() error { return p.worker(s) })
	}
	return p, nil
}

// Analyze queues one request and blocks for its result. It fails fast
// with ErrQueueFull when the queue is at capacity rather than blocking
// the caller.
func (p *Pool) Analyze(ctx context.Context, req Request) (types.SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{
		id:       uuid.NewString(),
		ctx:      ctx,
		request:  req,
		response: make(chan response, 1),
	}

	// The jobs channel is never closed, so this send can't panic; a job
	// accepted while Close runs is abandoned and the caller sees
	// ErrClosed below.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.SearchResult{}, ErrClosed
	}
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return types.SearchResult{}, ErrClosed
	case p.jobs <- j:
	default:
		return types.SearchResult{}, ErrQueueFull
	}

	select {
	case resp := <-j.response:
		return resp.result, resp.err
	case <-ctx.Done():
		return types.SearchResult{}, ctx.Err()
	case <-p.ctx.Done():
		return types.SearchResult{}, ErrClosed
	}
}

// Close stops accepting requests, waits for in-flight work, and shuts
// down every engine. Safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cancel()
		p.closeErr = p.group.Wait()
	})
	return p.closeErr
}

func (p *Pool) worker(s Searcher) error {
	log := p.logger.WithEngine(s.Name())
	defer func() {
		if s != nil {
			_ = s.Shutdown()
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return nil
		case j := <-p.jobs:
			result, err := p.analyzeOn(s, j)
			if needsReplacement(s, err) {
				log.Warn("engine died, replacing", logger.WithField("job", j.id))
				_ = s.Shutdown()
				replacement, restartErr := p.replace()
				if restartErr != nil {
					s = nil
					j.response <- response{err: errors.Join(err, restartErr)}
					return restartErr
				}
				s = replacement
				log = p.logger.WithEngine(s.Name())
				// The position was lost with the old process; run the
				// job again on the fresh engine.
				result, err = p.analyzeOn(s, j)
			}

			j.response <- response{result: result, err: err}
		}
	}
}

func (p *Pool) analyzeOn(s Searcher, j job) (types.SearchResult, error) {
	if err := s.NewGame(); err != nil {
		return types.SearchResult{}, err
	}
	if err := s.SetPosition(j.request.FEN, j.request.Moves...); err != nil {
		return types.SearchResult{}, err
	}
	return s.SearchWithTimeout(j.request.Limits, p.cfg.JobTimeout)
}

func (p *Pool) replace() (Searcher, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRestarts; attempt++ {
		if p.ctx.Err() != nil {
			return nil, ErrClosed
		}
		s, err := p.factory()
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("pool: restart failed after %d attempts: %w", p.cfg.MaxRestarts+1, lastErr)
}

func needsReplacement(s Searcher, err error) bool {
	if !s.Alive() {
		return true
	}
	return errors.Is(err, dispatch.ErrProcessDied)
}
