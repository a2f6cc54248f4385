package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueRunsFIFO(t *testing.T) {
	s := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Enqueue(ctx, "t", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		}()
		// Serialize submission so the expected order is deterministic;
		// the point under test is that the single worker never
		// interleaves two thunks, not submission race ordering.
		wg.Wait()
	}

	if len(order) != 5 {
		t.Fatalf("got %d completions want 5", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("got order %v, expected strictly increasing", order)
		}
	}
}

func TestEnqueueReturnsResult(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	value, err := s.Enqueue(ctx, "ok", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "result" {
		t.Fatalf("got %v", value)
	}
}

func TestEnqueuePropagatesErrorWithoutStoppingWorker(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	wantErr := errors.New("boom")
	_, err := s.Enqueue(ctx, "fails", func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v want %v", err, wantErr)
	}

	value, err := s.Enqueue(ctx, "ok", func(ctx context.Context) (interface{}, error) {
		return "still alive", nil
	})
	if err != nil {
		t.Fatalf("unexpected error after prior failure: %v", err)
	}
	if value != "still alive" {
		t.Fatalf("got %v", value)
	}
}

func TestEnqueueUnblocksOnContextCancel(t *testing.T) {
	s := New(0)
	// No Run goroutine started, so the queue never drains and Enqueue
	// would block forever without the ctx.Done() escape hatch.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Enqueue(ctx, "never runs", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
