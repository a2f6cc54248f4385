// Package treasury wraps the coordination chain's on-chain fee pool:
// reading balances, topping them up when low, and the
// withdraw→use→return discipline every fee-consuming coordination-chain
// call must follow instead of splitting coins per session in memory.
package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
)

// CallFeeAmount and CallGasAmount are the fee/gas units withdrawn for a
// single coordination-chain submission. Every withdraw→use→return call
// site withdraws exactly this much and returns it as fully consumed,
// since the coordination chain charges a flat fee per Move call rather
// than metering per-call gas the way an EVM chain would.
const (
	CallFeeAmount uint64 = 1
	CallGasAmount uint64 = 1
)

// WithdrawnCoins is a transaction-scoped handle to coins pulled out of
// the pool for one use. It must be passed to Return exactly once; it is
// never split further or cached across sessions.
type WithdrawnCoins struct {
	FeeCoinObjectID string
	GasCoinObjectID string
	FeeAmount       uint64
	GasAmount       uint64
}

// Treasury tracks the coordination chain's fee pool. Balances are cached
// briefly under a read-write lock since they are read far more often
// (every EnsureMinimums tick, every balances request) than they change.
type Treasury struct {
	client chainio.Client
	seq    *sequencer.Sequencer
	log    log.Logger

	minFeeBalance uint64
	minGasBalance uint64

	cacheMu     sync.RWMutex
	cachedFee   uint64
	cachedGas   uint64
	cachedAt    time.Time
	cacheWindow time.Duration
}

// New builds a Treasury. minFeeBalance/minGasBalance are the thresholds
// EnsureMinimums watches; a zero threshold disables top-ups for that coin.
func New(client chainio.Client, seq *sequencer.Sequencer, minFeeBalance, minGasBalance uint64) *Treasury {
	return &Treasury{
		client:        client,
		seq:           seq,
		log:           rlog.New("treasury"),
		minFeeBalance: minFeeBalance,
		minGasBalance: minGasBalance,
		cacheWindow:   5 * time.Second,
	}
}

// Balances returns the fee pool's current fee-token and gas-token
// amounts. A cached value younger than the treasury's cache window is
// returned without a chain round trip.
func (t *Treasury) Balances(ctx context.Context) (feeAmount, gasAmount uint64, err error) {
	t.cacheMu.RLock()
	fresh := time.Since(t.cachedAt) < t.cacheWindow && !t.cachedAt.IsZero()
	fee, gas := t.cachedFee, t.cachedGas
	t.cacheMu.RUnlock()
	if fresh {
		return fee, gas, nil
	}

	raw, err := t.client.View(ctx, "treasury", "balances", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("treasury: reading balances: %w", err)
	}
	var result struct {
		FeeAmount uint64 `json:"feeAmount"`
		GasAmount uint64 `json:"gasAmount"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, 0, fmt.Errorf("treasury: decoding balances: %w", err)
	}

	t.cacheMu.Lock()
	t.cachedFee, t.cachedGas = result.FeeAmount, result.GasAmount
	t.cachedAt = time.Now()
	t.cacheMu.Unlock()
	return result.FeeAmount, result.GasAmount, nil
}

// TopUpFeeToken submits a fee-token top-up of amount through the
// sequencer, invalidating the balance cache on success.
func (t *Treasury) TopUpFeeToken(ctx context.Context, amount uint64) error {
	_, err := t.seq.Enqueue(ctx, "treasury.topUpFeeToken", func(ctx context.Context) (interface{}, error) {
		return t.client.Submit(ctx, chainio.Call{
			Module:   "treasury",
			Function: "top_up_fee_token",
			Args:     []interface{}{amount},
		})
	})
	if err != nil {
		return fmt.Errorf("treasury: top up fee token: %w", err)
	}
	t.invalidateCache()
	return nil
}

// TopUpGasToken submits a gas-token top-up of amount through the
// sequencer, invalidating the balance cache on success.
func (t *Treasury) TopUpGasToken(ctx context.Context, amount uint64) error {
	_, err := t.seq.Enqueue(ctx, "treasury.topUpGasToken", func(ctx context.Context) (interface{}, error) {
		return t.client.Submit(ctx, chainio.Call{
			Module:   "treasury",
			Function: "top_up_gas_token",
			Args:     []interface{}{amount},
		})
	})
	if err != nil {
		return fmt.Errorf("treasury: top up gas token: %w", err)
	}
	t.invalidateCache()
	return nil
}

// EnsureMinimums reads current balances and, for any coin kind below its
// configured threshold, submits a top-up sized to 2x the threshold.
func (t *Treasury) EnsureMinimums(ctx context.Context) error {
	fee, gas, err := t.Balances(ctx)
	if err != nil {
		return err
	}
	if t.minFeeBalance > 0 && fee < t.minFeeBalance {
		t.log.Warn("fee balance below threshold, topping up", "balance", fee, "threshold", t.minFeeBalance)
		if err := t.TopUpFeeToken(ctx, 2*t.minFeeBalance); err != nil {
			return err
		}
	}
	if t.minGasBalance > 0 && gas < t.minGasBalance {
		t.log.Warn("gas balance below threshold, topping up", "balance", gas, "threshold", t.minGasBalance)
		if err := t.TopUpGasToken(ctx, 2*t.minGasBalance); err != nil {
			return err
		}
	}
	return nil
}

// RunMaintainer calls EnsureMinimums every interval until ctx is
// cancelled, logging (not aborting the loop on) failures so a single bad
// tick does not take the maintainer down permanently.
func (t *Treasury) RunMaintainer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.EnsureMinimums(ctx); err != nil {
				t.log.Error("treasury maintainer tick failed", "err", err)
			}
		}
	}
}

// Withdraw pulls feeAmount/gasAmount out of the pool into a
// transaction-scoped handle. The caller must pass the handle to Return
// exactly once, whether or not the intervening use consumed anything.
func (t *Treasury) Withdraw(ctx context.Context, feeAmount, gasAmount uint64) (WithdrawnCoins, error) {
	result, err := t.seq.Enqueue(ctx, "treasury.withdraw", func(ctx context.Context) (interface{}, error) {
		return t.client.Submit(ctx, chainio.Call{
			Module:   "treasury",
			Function: "withdraw",
			Args:     []interface{}{feeAmount, gasAmount},
		})
	})
	if err != nil {
		return WithdrawnCoins{}, fmt.Errorf("treasury: withdraw: %w", err)
	}
	submitResult, _ := result.(chainio.SubmitResult)
	t.invalidateCache()
	return WithdrawnCoins{
		FeeCoinObjectID: submitResult.CreatedObjects["FeeCoin"],
		GasCoinObjectID: submitResult.CreatedObjects["GasCoin"],
		FeeAmount:       feeAmount,
		GasAmount:       gasAmount,
	}, nil
}

// Return sends whatever remains of a previously withdrawn handle back to
// the pool. remainingFee/remainingGas are what the intervening use did
// not consume; the handle's coin objects must not be touched again after
// this call.
func (t *Treasury) Return(ctx context.Context, handle WithdrawnCoins, remainingFee, remainingGas uint64) error {
	_, err := t.seq.Enqueue(ctx, "treasury.return", func(ctx context.Context) (interface{}, error) {
		return t.client.Submit(ctx, chainio.Call{
			Module:   "treasury",
			Function: "return_remainder",
			Args: []interface{}{
				handle.FeeCoinObjectID, handle.GasCoinObjectID,
				remainingFee, remainingGas,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("treasury: return remainder: %w", err)
	}
	t.invalidateCache()
	return nil
}

func (t *Treasury) invalidateCache() {
	t.cacheMu.Lock()
	t.cachedAt = time.Time{}
	t.cacheMu.Unlock()
}
