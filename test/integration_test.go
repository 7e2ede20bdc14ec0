//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kibitzer/kibitzer/pkg/engine"
	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/pool"
	"github.com/kibitzer/kibitzer/pkg/types"
)

// fakeEngine is a shell stand-in for a real UCI engine so the
// integration suite runs without Stockfish installed.
const fakeEngine = `
while read line; do
  case "$line" in
    uci)
      echo "id name IntegrationFake"
      echo "option name Hash type spin default 16 min 1 max 512"
      echo "uciok"
      ;;
    isready) echo "readyok" ;;
    go*)
      echo "info depth 8 score cp 25 nodes 100000 nps 500000 time 180 pv e2e4 e7e5"
      echo "bestmove e2e4 ponder e7e5"
      ;;
    quit) exit 0 ;;
  esac
done
`

func startFake(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New("sh", engine.Config{
		Args:    []string{"-c", fakeEngine},
		Options: map[string]string{"Hash": "64"},
		Logger:  logger.CreateLogger("", "error"),
	})
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

// TestEndToEndAnalysis drives the full path: spawn, handshake, options,
// position, search, shutdown.
func TestEndToEndAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := startFake(t)

	if e.ID().Name != "IntegrationFake" {
		t.Errorf("engine name = %q", e.ID().Name)
	}

	if err := e.NewGame(); err != nil {
		t.Fatalf("new game: %v", err)
	}
	if err := e.SetStartPos("e2e4", "e7e5"); err != nil {
		t.Fatalf("position: %v", err)
	}

	result, err := e.Search(types.SearchLimits{MoveTime: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.BestMove != "e2e4" {
		t.Errorf("best move = %q", result.BestMove)
	}
	if result.Depth != 8 || result.Nodes != 100000 {
		t.Errorf("progress not aggregated: depth=%d nodes=%d", result.Depth, result.Nodes)
	}

	if err := e.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

// TestPoolEndToEnd runs concurrent analyses through the worker pool
// against real child processes.
func TestPoolEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	factory := func() (pool.Searcher, error) {
		return engine.New("sh", engine.Config{
			Args:   []string{"-c", fakeEngine},
			Logger: logger.CreateLogger("", "error"),
		})
	}

	p, err := pool.New(factory, pool.Config{Size: 2, QueueSize: 8})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Analyze(context.Background(), pool.Request{
				Limits: types.SearchLimits{Depth: 8},
			})
			if err != nil {
				errs <- err
				return
			}
			if res.BestMove != "e2e4" {
				errs <- fmt.Errorf("best move = %q, want e2e4", res.BestMove)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("pool analysis: %v", err)
	}
}
