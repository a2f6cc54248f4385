// Package signing drives one attestation from "signing requested" to
// "fully signed on the coordination chain": lease a presign,
// prepare the centralized half of an Ed25519/EdDSA signature through the
// MPC oracle, submit request_sign, poll for completion, mark the presign
// consumed, and submit complete_seal. The orchestrator holds no signing
// material of its own beyond the KeyMaterial it forwards to the MPC
// client.
package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/bytesutil"
	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/errkind"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/mpcclient"
	"github.com/rebornbridge/relayer/internal/presignpool"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/treasury"
)

// PollSignatureTimeout bounds how long the orchestrator waits for the
// MPC service to complete a signature.
const PollSignatureTimeout = 120 * time.Second

// SignPendingEvent is the decoded payload of a coordination-chain
// SignPending event.
type SignPendingEvent struct {
	AttestationHash string `json:"attestationHash"`
	MessageHash     string `json:"messageHash"`
}

// Orchestrator implements eventpoller.Handler for the SignPending
// stream.
type Orchestrator struct {
	pool     *presignpool.PresignPool
	mpc      mpcclient.Client
	seq      *sequencer.Sequencer
	client   chainio.Client
	treasury *treasury.Treasury
	key      KeyMaterial
	log      log.Logger
}

// New builds an Orchestrator. treas may be nil, in which case
// request_sign and complete_seal are submitted directly without the
// withdraw→use→return discipline, the same as when the treasury is
// disabled daemon-wide.
func New(pool *presignpool.PresignPool, mpc mpcclient.Client, seq *sequencer.Sequencer, client chainio.Client, treas *treasury.Treasury, key KeyMaterial) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		mpc:      mpc,
		seq:      seq,
		client:   client,
		treasury: treas,
		key:      key,
		log:      rlog.New("signing"),
	}
}

// Handle implements eventpoller.Handler. Returning nil advances the
// SignPending stream's cursor past event; a non-nil return leaves the
// cursor in place so the event is redelivered next poll cycle.
func (o *Orchestrator) Handle(ctx context.Context, event chainio.Event) error {
	var payload SignPendingEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		o.log.Error("signing: dropping unparseable SignPending event", "txId", event.TxID, "err", err)
		metrics.SigningCompleted.WithLabelValues(errkind.ValidationFailure.String()).Inc()
		return nil
	}

	err := o.process(ctx, payload)
	if err == nil {
		metrics.SigningCompleted.WithLabelValues("success").Inc()
		return nil
	}

	kind := errkind.Classify(err)
	metrics.SigningCompleted.WithLabelValues(kind.String()).Inc()
	if errkind.AdvancesCursor(kind) || kind == errkind.ValidationFailure {
		o.log.Warn("signing: dropping non-retriable SignPending event", "txId", event.TxID, "err", err, "kind", kind.String())
		return nil
	}
	return err
}

// process runs the five remaining steps of for one decoded
// SignPending payload: prepare, submit request_sign, poll, mark
// consumed + replenish, submit complete_seal. The lease taken in step 1
// is released on every path that does not reach "mark consumed".
func (o *Orchestrator) process(ctx context.Context, payload SignPendingEvent) error {
	messageHash, err := bytesutil.ToBytes(payload.MessageHash)
	if err != nil {
		return errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("signing: decoding message hash: %w", err))
	}

	entry, err := o.pool.Lease(payload.AttestationHash)
	if err != nil {
		return errkind.Wrap(errkind.ResourceStarvation, fmt.Errorf("signing: leasing presign: %w", err))
	}

	signatureID, err := o.signAndSubmit(ctx, entry.PresignBlob, messageHash, payload.AttestationHash)
	if err != nil {
		if releaseErr := o.pool.Release(entry.ObjectID, payload.AttestationHash); releaseErr != nil {
			o.log.Error("signing: releasing lease after failed prepare/submit", "objectId", entry.ObjectID, "err", releaseErr)
		}
		return err
	}

	raw, err := o.mpc.PollSignature(ctx, signatureID, PollSignatureTimeout)
	if err != nil {
		if releaseErr := o.pool.Release(entry.ObjectID, payload.AttestationHash); releaseErr != nil {
			o.log.Error("signing: releasing lease after poll failure", "objectId", entry.ObjectID, "err", releaseErr)
		}
		return errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: polling signature %s: %w", signatureID, err))
	}

	if err := o.pool.MarkConsumed(entry.ObjectID, payload.AttestationHash); err != nil {
		return errkind.Wrap(errkind.Fatal, fmt.Errorf("signing: marking presign %s consumed: %w", entry.ObjectID, err))
	}
	go o.pool.Replenish(context.Background(), 1)

	var coins treasury.WithdrawnCoins
	if o.treasury != nil {
		var err error
		coins, err = o.treasury.Withdraw(ctx, treasury.CallFeeAmount, treasury.CallGasAmount)
		if err != nil {
			return errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: withdrawing fees for complete_seal: %w", err))
		}
		defer func() {
			if err := o.treasury.Return(ctx, coins, 0, 0); err != nil {
				o.log.Error("signing: returning withdrawn coins", "err", err)
			}
		}()
	}

	result, err := o.seq.Enqueue(ctx, "signing.completeSeal", func(ctx context.Context) (interface{}, error) {
		return o.client.Submit(ctx, chainio.Call{
			Module:   "signing",
			Function: "complete_seal",
			Args:     []interface{}{payload.AttestationHash, raw.Signature, coins.FeeCoinObjectID, coins.GasCoinObjectID},
		})
	})
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: submitting complete_seal: %w", err))
	}
	submitResult, _ := result.(chainio.SubmitResult)
	if submitResult.Aborted {
		return errkind.Wrap(errkind.NonRetriableOnChainAbort, fmt.Errorf("signing: complete_seal aborted: %s", submitResult.AbortCode))
	}
	return nil
}

// signAndSubmit prepares the centralized signature half and submits
// request_sign, returning the signatureId the completed poll will key
// off of.
func (o *Orchestrator) signAndSubmit(ctx context.Context, presignBlob, messageHash []byte, attestationHash string) (string, error) {
	prepared, err := o.mpc.PrepareCentralizedSignature(ctx, mpcclient.PrepareSignatureRequest{
		SecretKeyShare: o.key.SecretKeyShare,
		PublicOutput:   o.key.PublicOutput,
		PresignBlob:    presignBlob,
		MessageHash:    messageHash,
	})
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: preparing centralized signature: %w", err))
	}

	var coins treasury.WithdrawnCoins
	if o.treasury != nil {
		coins, err = o.treasury.Withdraw(ctx, treasury.CallFeeAmount, treasury.CallGasAmount)
		if err != nil {
			return "", errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: withdrawing fees for request_sign: %w", err))
		}
		defer func() {
			if err := o.treasury.Return(ctx, coins, 0, 0); err != nil {
				o.log.Error("signing: returning withdrawn coins", "err", err)
			}
		}()
	}

	result, err := o.seq.Enqueue(ctx, "signing.requestSign", func(ctx context.Context) (interface{}, error) {
		return o.client.Submit(ctx, chainio.Call{
			Module:   "signing",
			Function: "request_sign",
			Args:     []interface{}{attestationHash, prepared.CentralizedSigPart, coins.FeeCoinObjectID, coins.GasCoinObjectID},
		})
	})
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("signing: submitting request_sign: %w", err))
	}
	submitResult, _ := result.(chainio.SubmitResult)
	if submitResult.Aborted {
		return "", errkind.Wrap(errkind.NonRetriableOnChainAbort, fmt.Errorf("signing: request_sign aborted: %s", submitResult.AbortCode))
	}
	if prepared.SignatureID != "" {
		return prepared.SignatureID, nil
	}
	return submitResult.CreatedObjects["SigningRequest"], nil
}
