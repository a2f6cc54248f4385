// Package presignpool maintains the pool of precomputed MPC presigns:
// FIFO lease with TTL reclamation, and a background replenishment
// pipeline that submits request_presign calls, polls the MPC service,
// and refills the pool one unit at a time.
package presignpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/mpcclient"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/store"
	"github.com/rebornbridge/relayer/internal/treasury"
)

// PresignPollTimeout bounds how long replenishment waits for the MPC
// service to complete one presign before giving up on that unit.
const PresignPollTimeout = 120 * time.Second

// PresignPool is the lease/replenish front end over the store's presign
// table.
type PresignPool struct {
	store    *store.Store
	seq      *sequencer.Sequencer
	client   chainio.Client
	mpc      mpcclient.Client
	treasury *treasury.Treasury
	leaseTTL time.Duration
	log      log.Logger

	replenishing atomic.Bool
}

// New builds a PresignPool. leaseTTL bounds how long a lease may be held
// before LeasePresign's inline reclaim (and the background RunReclaimLoop
// sweep) returns it to the available pool. treas may be nil, in which
// case replenishment submits request_presign directly without the
// withdraw→use→return discipline, the same as when the treasury is
// disabled daemon-wide.
func New(st *store.Store, seq *sequencer.Sequencer, client chainio.Client, mpc mpcclient.Client, treas *treasury.Treasury, leaseTTL time.Duration) *PresignPool {
	return &PresignPool{
		store:    st,
		seq:      seq,
		client:   client,
		mpc:      mpc,
		treasury: treas,
		leaseTTL: leaseTTL,
		log:      rlog.New("presignpool"),
	}
}

// Add inserts a freshly-completed presign entry.
func (p *PresignPool) Add(entry store.PresignEntry) error {
	if err := p.store.AddPresign(entry); err != nil {
		return err
	}
	p.refreshGauges()
	return nil
}

// Lease claims the oldest available entry for key (a session or
// attestation identifier).
func (p *PresignPool) Lease(key string) (store.PresignEntry, error) {
	entry, err := p.store.LeasePresign(key, p.leaseTTL)
	if err != nil {
		return store.PresignEntry{}, err
	}
	p.refreshGauges()
	return entry, nil
}

// MarkConsumed finalizes a presign once it has actually been used to
// produce a signature.
func (p *PresignPool) MarkConsumed(objectID, leasedFor string) error {
	ok, err := p.store.MarkPresignConsumed(objectID, leasedFor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("presignpool: %s is not leased for %s", objectID, leasedFor)
	}
	p.refreshGauges()
	return nil
}

// Release returns a leased-but-unused presign to the pool immediately,
// for the signing-failure path.
func (p *PresignPool) Release(objectID, leasedFor string) error {
	ok, err := p.store.ReleaseLease(objectID, leasedFor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("presignpool: %s is not leased for %s", objectID, leasedFor)
	}
	p.refreshGauges()
	return nil
}

// Stats reports the pool's current occupancy.
func (p *PresignPool) Stats() (store.PresignStats, error) {
	return p.store.PresignStats()
}

// EnsureMinimumAvailable replenishes up to min available entries if the
// pool is currently below that count. Replenishment runs in the calling
// goroutine's background via Replenish; callers that want to wait for
// completion should call Replenish directly.
func (p *PresignPool) EnsureMinimumAvailable(ctx context.Context, min int) {
	stats, err := p.store.PresignStats()
	if err != nil {
		p.log.Error("presignpool: reading stats", "err", err)
		return
	}
	if stats.Available >= min {
		return
	}
	needed := min - stats.Available
	go p.Replenish(ctx, needed)
}

// Replenish requests n new presigns, one unit at a time; it does not
// reclaim expired leases. It is guarded by an in-progress flag so only one
// replenishment batch runs at a time; a call that finds a
// batch already running is a silent no-op.
func (p *PresignPool) Replenish(ctx context.Context, n int) {
	if !p.replenishing.CompareAndSwap(false, true) {
		p.log.Debug("presignpool: replenish already in progress, skipping")
		return
	}
	defer p.replenishing.Store(false)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := p.replenishOne(ctx); err != nil {
			p.log.Error("presignpool: replenish unit failed", "err", err)
			metrics.PresignReplenishFailures.Inc()
			continue
		}
	}
}

// replenishOne performs the five steps of replenishment
// recipe for a single presign.
func (p *PresignPool) replenishOne(ctx context.Context) error {
	var coins treasury.WithdrawnCoins
	if p.treasury != nil {
		var err error
		coins, err = p.treasury.Withdraw(ctx, treasury.CallFeeAmount, treasury.CallGasAmount)
		if err != nil {
			return fmt.Errorf("withdrawing fees for request_presign: %w", err)
		}
		defer func() {
			if err := p.treasury.Return(ctx, coins, 0, 0); err != nil {
				p.log.Error("presignpool: returning withdrawn coins", "err", err)
			}
		}()
	}

	result, err := p.seq.Enqueue(ctx, "presignpool.requestPresign", func(ctx context.Context) (interface{}, error) {
		return p.client.Submit(ctx, chainio.Call{
			Module:   "presign",
			Function: "request_presign",
			Args:     []interface{}{uuid.NewString(), coins.FeeCoinObjectID, coins.GasCoinObjectID},
		})
	})
	if err != nil {
		return fmt.Errorf("submitting request_presign: %w", err)
	}
	submitResult, _ := result.(chainio.SubmitResult)
	capabilityID := submitResult.CreatedObjects["PresignCap"]
	if capabilityID == "" {
		return fmt.Errorf("request_presign did not return a PresignCap object id")
	}

	completed, err := p.mpc.PollPresign(ctx, capabilityID, PresignPollTimeout)
	if err != nil {
		return fmt.Errorf("polling presign %s: %w", capabilityID, err)
	}

	if err := p.Add(store.PresignEntry{
		ObjectID:    capabilityID,
		PresignID:   completed.PresignID,
		PresignBlob: completed.PresignBlob,
	}); err != nil {
		return fmt.Errorf("storing completed presign: %w", err)
	}
	return nil
}

// RunReclaimLoop periodically reclaims expired leases back to available,
// every interval, until ctx is cancelled.
func (p *PresignPool) RunReclaimLoop(ctx context.Context, interval, leaseTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.ReclaimExpiredLeases(leaseTTL)
			if err != nil {
				p.log.Error("presignpool: reclaim tick failed", "err", err)
				continue
			}
			if n > 0 {
				p.log.Info("presignpool: reclaimed expired leases", "count", n)
			}
			p.refreshGauges()
		}
	}
}

func (p *PresignPool) refreshGauges() {
	stats, err := p.store.PresignStats()
	if err != nil {
		return
	}
	metrics.PresignAvailable.Set(float64(stats.Available))
	metrics.PresignLeased.Set(float64(stats.Leased))
	metrics.PresignConsumed.Set(float64(stats.Consumed))
}
