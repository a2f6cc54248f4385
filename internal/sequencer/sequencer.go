// Package sequencer serializes every mutating call to the coordination
// chain through a single FIFO worker: the chain's shared
// objects require sequential versioning, so two concurrent submissions
// touching the same object conflict at the chain level. Routing every
// write through one goroutine turns that chain-level constraint into an
// ordinary queue.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/rlog"
)

// Thunk is one unit of sequenced work. It receives the sequencer's
// running context, which is cancelled on Shutdown; long thunks should
// observe ctx.Done().
type Thunk func(ctx context.Context) (interface{}, error)

type task struct {
	label  string
	thunk  Thunk
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// Sequencer runs queued thunks one at a time, in submission order.
// Enqueue is safe for concurrent callers; only Run's single goroutine
// ever executes a thunk.
type Sequencer struct {
	tasks chan task
	log   log.Logger

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a Sequencer with a queue of the given depth. A depth of 0
// makes Enqueue block until the worker is ready for the next task,
// which is fine for low-throughput coordination-chain writes but callers
// typically pass a small buffer (e.g. 64) to absorb bursts.
func New(queueDepth int) *Sequencer {
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Sequencer{
		tasks: make(chan task, queueDepth),
		log:   rlog.New("sequencer"),
	}
}

// Run drains the queue until ctx is cancelled. It must be called exactly
// once, typically from the daemon's main goroutine group.
func (s *Sequencer) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.drain(ctx.Err())
			return
		case t := <-s.tasks:
			s.execute(ctx, t)
		}
	}
}

func (s *Sequencer) execute(ctx context.Context, t task) {
	start := time.Now()
	value, err := t.thunk(ctx)
	metrics.SequencerTaskDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("sequenced task failed", "label", t.label, "err", err)
	}
	t.result <- taskResult{value: value, err: err}
}

// drain fails every task still sitting in the queue once the sequencer is
// shutting down, so callers blocked in Enqueue are released instead of
// hanging forever.
func (s *Sequencer) drain(cause error) {
	for {
		select {
		case t := <-s.tasks:
			t.result <- taskResult{err: fmt.Errorf("sequencer: shutting down: %w", cause)}
		default:
			return
		}
	}
}

// Enqueue submits thunk under label and blocks until it has run (or ctx
// is cancelled first). Label is for logging and metrics only.
func (s *Sequencer) Enqueue(ctx context.Context, label string, thunk Thunk) (interface{}, error) {
	t := task{label: label, thunk: thunk, result: make(chan taskResult, 1)}

	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.SequencerQueueDepth.Set(float64(len(s.tasks)))

	select {
	case r := <-t.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
