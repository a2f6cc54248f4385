package presignpool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/mpcclient"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/store"
)

type fakeChainClient struct {
	nextCapID string
}

func (f *fakeChainClient) Submit(ctx context.Context, call chainio.Call) (chainio.SubmitResult, error) {
	if call.Function == "request_presign" {
		return chainio.SubmitResult{CreatedObjects: map[string]string{"PresignCap": f.nextCapID}}, nil
	}
	return chainio.SubmitResult{}, nil
}

func (f *fakeChainClient) QueryEvents(ctx context.Context, eventType, afterCursor string, limit int) (chainio.EventPage, error) {
	return chainio.EventPage{}, nil
}

func (f *fakeChainClient) ObjectVersion(ctx context.Context, objectID string) (uint64, error) {
	return 0, nil
}

func (f *fakeChainClient) View(ctx context.Context, module, function string, args []interface{}) (json.RawMessage, error) {
	return nil, nil
}

type fakeMPCClient struct {
	presignID   string
	presignBlob []byte
}

func (f *fakeMPCClient) PrepareCentralizedSignature(ctx context.Context, req mpcclient.PrepareSignatureRequest) (mpcclient.PrepareSignatureResult, error) {
	return mpcclient.PrepareSignatureResult{}, nil
}

func (f *fakeMPCClient) PollSignature(ctx context.Context, signatureID string, timeout time.Duration) (mpcclient.RawSignature, error) {
	return mpcclient.RawSignature{}, nil
}

func (f *fakeMPCClient) PollPresign(ctx context.Context, capabilityObjectID string, timeout time.Duration) (mpcclient.PresignResult, error) {
	return mpcclient.PresignResult{PresignID: f.presignID, PresignBlob: f.presignBlob}, nil
}

func newTestPool(t *testing.T) (*PresignPool, *fakeChainClient, *fakeMPCClient, context.Context) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	seq := sequencer.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)

	chainClient := &fakeChainClient{nextCapID: "cap-1"}
	mpc := &fakeMPCClient{presignID: "ps-1", presignBlob: []byte("blob")}
	return New(st, seq, chainClient, mpc, nil, time.Hour), chainClient, mpc, ctx
}

func TestLeaseFIFOAndConsume(t *testing.T) {
	pool, _, _, _ := newTestPool(t)
	if err := pool.Add(store.PresignEntry{ObjectID: "p1", PresignID: "ps-1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	entry, err := pool.Lease("sess-1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if entry.ObjectID != "p1" {
		t.Fatalf("got %+v", entry)
	}

	if err := pool.MarkConsumed("p1", "sess-1"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Consumed != 1 {
		t.Fatalf("got %+v", stats)
	}
}

func TestReleaseOnSigningFailure(t *testing.T) {
	pool, _, _, _ := newTestPool(t)
	pool.Add(store.PresignEntry{ObjectID: "p1", PresignID: "ps-1"})
	if _, err := pool.Lease("sess-1"); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := pool.Release("p1", "sess-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 || stats.Leased != 0 {
		t.Fatalf("got %+v", stats)
	}
}

func TestReplenishAddsPresign(t *testing.T) {
	pool, _, _, ctx := newTestPool(t)

	pool.Replenish(ctx, 1)

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 {
		t.Fatalf("got %+v", stats)
	}
}

func TestReplenishGuardsAgainstConcurrentRuns(t *testing.T) {
	pool, _, _, ctx := newTestPool(t)

	done := make(chan struct{})
	go func() {
		pool.Replenish(ctx, 1)
		close(done)
	}()
	// A second call while the first may still be running should not panic
	// or double-replenish; CompareAndSwap guards against overlap.
	pool.Replenish(ctx, 1)
	<-done

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available < 1 {
		t.Fatalf("expected at least one presign added, got %+v", stats)
	}
}

func TestEnsureMinimumAvailableSkipsWhenSufficient(t *testing.T) {
	pool, _, _, ctx := newTestPool(t)
	pool.Add(store.PresignEntry{ObjectID: "p1", PresignID: "ps-1"})

	pool.EnsureMinimumAvailable(ctx, 1)
	time.Sleep(20 * time.Millisecond)

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 {
		t.Fatalf("expected no extra replenishment, got %+v", stats)
	}
}
