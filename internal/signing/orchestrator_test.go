package signing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/mpcclient"
	"github.com/rebornbridge/relayer/internal/presignpool"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/store"
)

type fakeChainClient struct {
	submits []chainio.Call
	result  chainio.SubmitResult
	err     error
}

func (f *fakeChainClient) Submit(ctx context.Context, call chainio.Call) (chainio.SubmitResult, error) {
	f.submits = append(f.submits, call)
	return f.result, f.err
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
	prepareResult mpcclient.PrepareSignatureResult
	prepareErr    error
	pollResult    mpcclient.RawSignature
	pollErr       error
}

func (f *fakeMPCClient) PrepareCentralizedSignature(ctx context.Context, req mpcclient.PrepareSignatureRequest) (mpcclient.PrepareSignatureResult, error) {
	return f.prepareResult, f.prepareErr
}
func (f *fakeMPCClient) PollSignature(ctx context.Context, signatureID string, timeout time.Duration) (mpcclient.RawSignature, error) {
	return f.pollResult, f.pollErr
}
func (f *fakeMPCClient) PollPresign(ctx context.Context, capabilityObjectID string, timeout time.Duration) (mpcclient.PresignResult, error) {
	return mpcclient.PresignResult{}, nil
}

func newTestOrchestrator(t *testing.T, client *fakeChainClient, mpc *fakeMPCClient) (*Orchestrator, *presignpool.PresignPool, context.Context) {
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

	pool := presignpool.New(st, seq, client, mpc, nil, time.Hour)
	if err := pool.Add(store.PresignEntry{ObjectID: "p1", PresignID: "ps-1", PresignBlob: []byte("blob")}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	key := KeyMaterial{SecretKeyShare: []byte("share"), PublicOutput: []byte("pub")}
	return New(pool, mpc, seq, client, nil, key), pool, ctx
}

func eventFor(t *testing.T, attestationHash, messageHash string) chainio.Event {
	t.Helper()
	payload, err := json.Marshal(SignPendingEvent{AttestationHash: attestationHash, MessageHash: messageHash})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return chainio.Event{TxID: "tx-1", EventSeq: 1, Type: "SignPending", Payload: payload}
}

func TestHandleCompletesFullSigningFlow(t *testing.T) {
	client := &fakeChainClient{result: chainio.SubmitResult{
		CreatedObjects: map[string]string{"SigningRequest": "sig-1"},
	}}
	mpc := &fakeMPCClient{
		prepareResult: mpcclient.PrepareSignatureResult{CentralizedSigPart: []byte("part"), SignatureID: "sig-1"},
		pollResult:    mpcclient.RawSignature{Signature: []byte("full-sig")},
	}
	orch, pool, ctx := newTestOrchestrator(t, client, mpc)

	if err := orch.Handle(ctx, eventFor(t, "att-1", "0xdeadbeef")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(client.submits) != 2 {
		t.Fatalf("expected request_sign + complete_seal submits, got %d: %+v", len(client.submits), client.submits)
	}
	if client.submits[0].Function != "request_sign" || client.submits[1].Function != "complete_seal" {
		t.Fatalf("unexpected submit order: %+v", client.submits)
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Consumed != 1 {
		t.Fatalf("expected presign consumed, got %+v", stats)
	}
}

func TestHandleReleasesLeaseOnPrepareFailure(t *testing.T) {
	client := &fakeChainClient{}
	mpc := &fakeMPCClient{prepareErr: context.DeadlineExceeded}
	orch, pool, ctx := newTestOrchestrator(t, client, mpc)

	if err := orch.Handle(ctx, eventFor(t, "att-1", "0xdeadbeef")); err == nil {
		t.Fatal("expected Handle to report transient prepare failure")
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 || stats.Leased != 0 {
		t.Fatalf("expected lease released back to available, got %+v", stats)
	}
}

func TestHandleReleasesLeaseOnPollTimeout(t *testing.T) {
	client := &fakeChainClient{result: chainio.SubmitResult{CreatedObjects: map[string]string{"SigningRequest": "sig-1"}}}
	mpc := &fakeMPCClient{
		prepareResult: mpcclient.PrepareSignatureResult{CentralizedSigPart: []byte("part"), SignatureID: "sig-1"},
		pollErr:       context.DeadlineExceeded,
	}
	orch, pool, ctx := newTestOrchestrator(t, client, mpc)

	if err := orch.Handle(ctx, eventFor(t, "att-1", "0xdeadbeef")); err == nil {
		t.Fatal("expected Handle to report transient poll failure")
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 || stats.Leased != 0 {
		t.Fatalf("expected lease released back to available, got %+v", stats)
	}
}

func TestHandleAdvancesPastOnChainAbortOnRequestSign(t *testing.T) {
	client := &fakeChainClient{result: chainio.SubmitResult{Aborted: true, AbortCode: "E_DUPLICATE"}}
	mpc := &fakeMPCClient{
		prepareResult: mpcclient.PrepareSignatureResult{CentralizedSigPart: []byte("part"), SignatureID: "sig-1"},
	}
	orch, pool, ctx := newTestOrchestrator(t, client, mpc)

	if err := orch.Handle(ctx, eventFor(t, "att-1", "0xdeadbeef")); err != nil {
		t.Fatalf("expected Handle to swallow the non-retriable abort, got %v", err)
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 || stats.Leased != 0 {
		t.Fatalf("expected lease released back to available, got %+v", stats)
	}
}

func TestHandleDropsUnparseablePayload(t *testing.T) {
	client := &fakeChainClient{}
	mpc := &fakeMPCClient{}
	orch, _, ctx := newTestOrchestrator(t, client, mpc)

	event := chainio.Event{TxID: "tx-1", EventSeq: 1, Type: "SignPending", Payload: json.RawMessage(`{not json`)}
	if err := orch.Handle(ctx, event); err != nil {
		t.Fatalf("expected unparseable payload to advance cursor, got %v", err)
	}
	if len(client.submits) != 0 {
		t.Fatalf("expected no submits for unparseable payload, got %d", len(client.submits))
	}
}

func TestHandleDropsInvalidMessageHash(t *testing.T) {
	client := &fakeChainClient{}
	mpc := &fakeMPCClient{}
	orch, pool, ctx := newTestOrchestrator(t, client, mpc)

	if err := orch.Handle(ctx, eventFor(t, "att-1", "not-hex-or-base64!!")); err != nil {
		t.Fatalf("expected invalid message hash to advance cursor (ValidationFailure), got %v", err)
	}

	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 1 || stats.Leased != 0 {
		t.Fatalf("expected lease never taken for a validation failure caught before leasing, got %+v", stats)
	}
}
