package eventpoller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/store"
)

type fakeClient struct {
	pages []chainio.EventPage
	calls int
}

func (f *fakeClient) Submit(ctx context.Context, call chainio.Call) (chainio.SubmitResult, error) {
	return chainio.SubmitResult{}, nil
}
func (f *fakeClient) ObjectVersion(ctx context.Context, objectID string) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) View(ctx context.Context, module, function string, args []interface{}) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeClient) QueryEvents(ctx context.Context, eventType, afterCursor string, limit int) (chainio.EventPage, error) {
	if f.calls >= len(f.pages) {
		return chainio.EventPage{}, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollOnceAdvancesCursorOnSuccess(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{pages: []chainio.EventPage{
		{Events: []chainio.Event{{TxID: "tx1", EventSeq: 1}, {TxID: "tx2", EventSeq: 2}}, HasNextPage: false},
	}}

	var handled []string
	handler := HandlerFunc(func(ctx context.Context, event chainio.Event) error {
		handled = append(handled, event.TxID)
		return nil
	})

	p := New("stream-a", "SignPending", client, st, handler)
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(handled) != 2 {
		t.Fatalf("got %v", handled)
	}

	cursor, err := st.GetCursor("stream-a")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor.TxID != "tx2" || cursor.EventSeq != 2 {
		t.Fatalf("got %+v", cursor)
	}
}

func TestPollOnceDoesNotAdvanceOnHandlerFailure(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{pages: []chainio.EventPage{
		{Events: []chainio.Event{{TxID: "tx1", EventSeq: 1}}, HasNextPage: false},
	}}

	handler := HandlerFunc(func(ctx context.Context, event chainio.Event) error {
		return errors.New("handler exploded")
	})

	p := New("stream-b", "SignPending", client, st, handler)
	if err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected error from failing handler")
	}

	cursor, err := st.GetCursor("stream-b")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor.TxID != "" {
		t.Fatalf("expected cursor untouched, got %+v", cursor)
	}
}

func TestPollOnceFollowsPagination(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{pages: []chainio.EventPage{
		{Events: []chainio.Event{{TxID: "tx1", EventSeq: 1}}, HasNextPage: true},
		{Events: []chainio.Event{{TxID: "tx2", EventSeq: 2}}, HasNextPage: false},
	}}

	var handled []string
	handler := HandlerFunc(func(ctx context.Context, event chainio.Event) error {
		handled = append(handled, event.TxID)
		return nil
	})

	p := New("stream-c", "SignPending", client, st, handler)
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(handled) != 2 || client.calls != 2 {
		t.Fatalf("got handled=%v calls=%d", handled, client.calls)
	}
}

func TestPollOnceSkipsEventsWithEmptyID(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{pages: []chainio.EventPage{
		{Events: []chainio.Event{{TxID: "", EventSeq: 0}, {TxID: "tx1", EventSeq: 1}}, HasNextPage: false},
	}}

	var handled []string
	handler := HandlerFunc(func(ctx context.Context, event chainio.Event) error {
		handled = append(handled, event.TxID)
		return nil
	})

	p := New("stream-d", "SignPending", client, st, handler)
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(handled) != 1 || handled[0] != "tx1" {
		t.Fatalf("got %v", handled)
	}
}
