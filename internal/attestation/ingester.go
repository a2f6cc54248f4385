// Package attestation pulls signed cross-chain attestations from an
// external indexer and submits newly-observed ones to the coordination
// chain.
package attestation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/chains"
	"github.com/rebornbridge/relayer/internal/config"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/retry"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/store"
)

// MaxTransientRetries caps per-entry retries within one poll cycle
// before the ingester gives up until the next cycle (open
// question (i), resolved: capped at 5, then logged at Error).
const MaxTransientRetries = 5

type attestationEntry struct {
	Sequence string `json:"sequence"`
	VAABytes string `json:"vaaBytes"` // base64
}

type indexerPage struct {
	Entries []attestationEntry `json:"entries"`
}

// Ingester polls indexerBaseURL for each configured emitter and submits
// newly-observed attestations to the coordination chain.
type Ingester struct {
	indexerBaseURL string
	emitters       []config.EmitterConfig
	httpClient     *http.Client

	store  *store.Store
	seq    *sequencer.Sequencer
	client chainio.Client
	log    log.Logger

	inFlight sync.Map // key: "chainId:emitter:sequence" -> struct{}
}

// New builds an Ingester. httpClient may be nil, defaulting to a
// conservative 15s timeout client.
func New(indexerBaseURL string, emitters []config.EmitterConfig, st *store.Store, seq *sequencer.Sequencer, client chainio.Client, httpClient *http.Client) *Ingester {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Ingester{
		indexerBaseURL: indexerBaseURL,
		emitters:       emitters,
		httpClient:     httpClient,
		store:          st,
		seq:            seq,
		client:         client,
		log:            rlog.New("attestation"),
	}
}

// Run polls every emitter every interval until ctx is cancelled.
func (i *Ingester) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, emitter := range i.emitters {
				if err := i.pollEmitter(ctx, emitter); err != nil {
					i.log.Error("poll emitter failed", "emitter", emitter.Label, "err", err)
				}
			}
		}
	}
}

func emitterKey(e config.EmitterConfig) string {
	return fmt.Sprintf("%d:%s", e.ChainID, e.Address)
}

// pollEmitter fetches ascending entries for one emitter after its last
// known sequence and processes each new one in order, stopping at the
// first entry whose retries are exhausted so cursor ordering is
// preserved for the next cycle.
func (i *Ingester) pollEmitter(ctx context.Context, emitter config.EmitterConfig) error {
	mark, err := i.store.GetSequence(emitterKey(emitter))
	if err != nil {
		return fmt.Errorf("attestation: loading sequence mark: %w", err)
	}
	lastKnown := new(big.Int)
	if mark.Sequence != "" {
		if _, ok := lastKnown.SetString(mark.Sequence, 10); !ok {
			return fmt.Errorf("attestation: corrupt sequence mark %q", mark.Sequence)
		}
	}

	entries, err := i.fetchAttestations(ctx, emitter)
	if err != nil {
		return fmt.Errorf("attestation: fetching entries: %w", err)
	}

	for _, entry := range entries {
		seq, ok := new(big.Int).SetString(entry.Sequence, 10)
		if !ok || seq.Cmp(lastKnown) <= 0 {
			continue
		}

		key := fmt.Sprintf("%s:%s", emitterKey(emitter), entry.Sequence)
		if _, loaded := i.inFlight.LoadOrStore(key, struct{}{}); loaded {
			continue
		}

		advanced, err := i.processWithRetry(ctx, emitter, entry)
		i.inFlight.Delete(key)
		if !advanced {
			if err != nil {
				i.log.Error("attestation processing exhausted retries, will retry next cycle", "emitter", emitter.Label, "sequence", entry.Sequence, "err", err)
				metrics.AttestationsProcessed.WithLabelValues(emitter.Label, "transient_failure").Inc()
			}
			return nil // preserve order: don't advance past an unresolved entry
		}

		if err := i.store.PutSequence(store.SequenceMark{EmitterKey: emitterKey(emitter), Sequence: entry.Sequence}); err != nil {
			return fmt.Errorf("attestation: persisting sequence mark: %w", err)
		}
		lastKnown = seq
	}
	return nil
}

// processWithRetry retries processAttestation up to MaxTransientRetries
// times for transient failures. advanced=true means the sequence mark
// should move forward (success, or a non-retriable on-chain abort, or
// the deposit address is simply unknown to us).
func (i *Ingester) processWithRetry(ctx context.Context, emitter config.EmitterConfig, entry attestationEntry) (advanced bool, lastErr error) {
	policy := retry.Policy{MaxRetries: MaxTransientRetries, BaseDelay: 500 * time.Millisecond}
	err := policy.Do(ctx, func(attempt int) error {
		ok, err := i.processAttestation(ctx, emitter, entry)
		if err != nil {
			return err
		}
		advanced = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return advanced, nil
}

// processAttestation decodes one entry and, if it names a deposit
// address this daemon knows about, submits it to the coordination chain.
// The returned bool reports whether the sequence mark may advance:
// success, "deposit address unknown" and "on-chain abort" all advance;
// a transport-level error does not.
func (i *Ingester) processAttestation(ctx context.Context, emitter config.EmitterConfig, entry attestationEntry) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(entry.VAABytes)
	if err != nil {
		i.log.Warn("dropping attestation with invalid encoding", "emitter", emitter.Label, "sequence", entry.Sequence)
		return true, nil
	}

	payload, err := ParseEnvelope(raw)
	if err != nil {
		i.log.Warn("dropping unparseable attestation", "emitter", emitter.Label, "sequence", entry.Sequence, "err", err)
		return true, nil
	}

	depositAddress := payload.DepositAddress32[:]
	if info, ok := chains.ByWireID(payload.SourceChainWireID); ok {
		depositAddress = chains.DecodeDepositAddress(info, payload.DepositAddress32)
	}

	sess, err := i.store.LoadByDepositAddress(depositAddress)
	if err == store.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up session: %w", err)
	}

	result, err := i.seq.Enqueue(ctx, "attestation.processAttestation", func(ctx context.Context) (interface{}, error) {
		return i.client.Submit(ctx, chainio.Call{
			Module:   "attestation",
			Function: "process_attestation",
			Args:     []interface{}{raw, sess.SessionID},
		})
	})
	if err != nil {
		return false, fmt.Errorf("submitting attestation: %w", err)
	}

	submitResult, _ := result.(chainio.SubmitResult)
	if submitResult.Aborted {
		i.log.Warn("attestation rejected on-chain", "emitter", emitter.Label, "sequence", entry.Sequence, "abortCode", submitResult.AbortCode)
		metrics.AttestationsProcessed.WithLabelValues(emitter.Label, "aborted").Inc()
		return true, nil
	}
	metrics.AttestationsProcessed.WithLabelValues(emitter.Label, "success").Inc()
	return true, nil
}

func (i *Ingester) fetchAttestations(ctx context.Context, emitter config.EmitterConfig) ([]attestationEntry, error) {
	u := fmt.Sprintf("%s/api/v1/attestations/%d/%s?sortOrder=ASC&pageSize=50",
		i.indexerBaseURL, emitter.ChainID, url.PathEscape(emitter.Address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	var page indexerPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	return page.Entries, nil
}
