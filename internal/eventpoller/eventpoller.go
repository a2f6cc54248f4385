// Package eventpoller implements the generic, cursor-based event
// poller: one instance per coordination-chain event stream, with
// replay-from-cursor semantics and an overlap guard so a slow cycle
// never runs concurrently with itself.
package eventpoller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/store"
)

// PageSize is the page size used for every QueryEvents call.
const PageSize = 50

// Handler processes one event. Returning nil advances the stream's
// cursor past this event; returning an error leaves the cursor untouched
// so the event is redelivered on the next cycle.
type Handler interface {
	Handle(ctx context.Context, event chainio.Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event chainio.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event chainio.Event) error { return f(ctx, event) }

// Poller polls one event stream and dispatches to a Handler.
type Poller struct {
	StreamName string
	EventType  string

	client  chainio.Client
	store   *store.Store
	handler Handler
	log     log.Logger

	polling atomic.Bool
}

// New builds a Poller for one (streamName, eventType) pair.
func New(streamName, eventType string, client chainio.Client, st *store.Store, handler Handler) *Poller {
	return &Poller{
		StreamName: streamName,
		EventType:  eventType,
		client:     client,
		store:      st,
		handler:    handler,
		log:        rlog.New("eventpoller." + streamName),
	}
}

// Run ticks every interval, calling PollOnce, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.log.Error("poll cycle failed", "stream", p.StreamName, "err", err)
			}
		}
	}
}

// PollOnce runs one poll cycle: load the cursor, fetch pages of events
// after it, and dispatch each to the handler in order, advancing the
// cursor only after a successful handler call. It is a no-op if a cycle
// is already in flight.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !p.polling.CompareAndSwap(false, true) {
		return nil
	}
	defer p.polling.Store(false)

	cursor, err := p.store.GetCursor(p.StreamName)
	if err != nil {
		return fmt.Errorf("eventpoller: loading cursor: %w", err)
	}

	for {
		afterCursor := cursorToken(cursor)
		page, err := p.client.QueryEvents(ctx, p.EventType, afterCursor, PageSize)
		if err != nil {
			return fmt.Errorf("eventpoller: querying events: %w", err)
		}

		for _, event := range page.Events {
			if event.TxID == "" {
				p.log.Warn("dropping event with empty id", "stream", p.StreamName)
				continue
			}
			if err := p.handler.Handle(ctx, event); err != nil {
				// Do not advance; this and every later event in the page
				// will be redelivered next cycle.
				return fmt.Errorf("eventpoller: handler failed on event %s: %w", event.TxID, err)
			}
			cursor = store.EventCursor{StreamName: p.StreamName, TxID: event.TxID, EventSeq: event.EventSeq}
			if err := p.store.PutCursor(cursor); err != nil {
				return fmt.Errorf("eventpoller: persisting cursor: %w", err)
			}
			metrics.EventPollerCursor.WithLabelValues(p.StreamName).Set(float64(cursor.EventSeq))
		}

		if !page.HasNextPage {
			break
		}
	}
	metrics.EventPollerLagSeconds.WithLabelValues(p.StreamName).Set(0)
	return nil
}

// Reconnect stops any in-flight cycle's effect on state (the next cycle
// simply reloads the persisted cursor) — the "stop and restart from the
// persisted cursor" operation of . Since cursor state lives in
// the store rather than in-memory, reconnecting is just a name for "do
// nothing and let the next tick re-read the cursor".
func (p *Poller) Reconnect() {
	p.polling.Store(false)
}

func cursorToken(c store.EventCursor) string {
	if c.TxID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.TxID, c.EventSeq)
}
