// Package sessionfsm drives one bridging session across every status it
// can hold, coordinating DepositVerifier, MetadataPipeline and the
// coordination-chain TxSequencer on the way to handing a signing job to
// the SigningOrchestrator. Every transition goes through
// Store.Transition; a guard failure is always treated as a lost race,
// never an error, the same contract miner/worker.go applies to
// commitNewWork's own state guard.
package sessionfsm

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/bytesutil"
	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/chains"
	"github.com/rebornbridge/relayer/internal/depositverifier"
	"github.com/rebornbridge/relayer/internal/errkind"
	"github.com/rebornbridge/relayer/internal/metadata"
	"github.com/rebornbridge/relayer/internal/mintclient"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/store"
)

// ErrWrongStatus marks a request made against a session that isn't in
// the status the requested operation expects, distinct from a malformed request (400) or an unknown
// session (404).
var ErrWrongStatus = errors.New("sessionfsm: session is not in the expected status for this operation")

// FSM owns the session lifecycle: the status transition table plus the
// side effects each edge performs.
type FSM struct {
	store      *store.Store
	chain      chainio.Client
	seq        *sequencer.Sequencer
	payment    mintclient.Client
	verifiers  *depositverifier.Registry
	pipeline   *metadata.Pipeline
	feeAddress string
	feeAmount  uint64
	log        log.Logger
}

// New builds an FSM. feeAddress/feeAmount are the payment terms every
// session's confirm-payment step checks a transfer against.
func New(st *store.Store, chain chainio.Client, seq *sequencer.Sequencer, payment mintclient.Client, verifiers *depositverifier.Registry, pipeline *metadata.Pipeline, feeAddress string, feeAmount uint64) *FSM {
	return &FSM{
		store:      st,
		chain:      chain,
		seq:        seq,
		payment:    payment,
		verifiers:  verifiers,
		pipeline:   pipeline,
		feeAddress: feeAddress,
		feeAmount:  feeAmount,
		log:        rlog.New("sessionfsm"),
	}
}

// StartSession creates a new session in awaiting_payment and returns the
// payment terms the caller must satisfy.
func (f *FSM) StartSession(receiverAddress, sourceChain string) (store.Session, string, uint64, error) {
	if _, ok := chains.Lookup(chains.Tag(sourceChain)); !ok {
		return store.Session{}, "", 0, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: unknown source chain %q", sourceChain))
	}
	id, err := newSessionID()
	if err != nil {
		return store.Session{}, "", 0, errkind.Wrap(errkind.Fatal, fmt.Errorf("sessionfsm: generating session id: %w", err))
	}
	sess, err := f.store.Create(store.CreateSessionParams{
		SessionID:       id,
		ReceiverAddress: receiverAddress,
		SourceChain:     sourceChain,
	})
	if err != nil {
		return store.Session{}, "", 0, errkind.Wrap(errkind.Fatal, fmt.Errorf("sessionfsm: creating session: %w", err))
	}
	return sess, f.feeAddress, f.feeAmount, nil
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ConfirmPayment verifies paymentTxId against the target chain, moves
// the session to payment_confirmed, then synchronously drives wallet
// creation through to waiting_deposit, since the API response itself
// carries depositWalletId/depositAddress.
func (f *FSM) ConfirmPayment(ctx context.Context, sessionID, paymentTxID string) (store.Session, error) {
	sess, err := f.store.Load(sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if sess.Status != store.StatusAwaitingPayment {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: session %s is not awaiting payment: %w", sessionID, ErrWrongStatus))
	}

	if err := f.verifyPayment(ctx, sess, paymentTxID); err != nil {
		return store.Session{}, err
	}

	ok, err := f.store.Transition(sessionID, store.StatusAwaitingPayment, store.StatusPaymentConfirmed, func(s *store.Session) {
		s.PaymentTxID = paymentTxID
	})
	if err != nil {
		if err == store.ErrDuplicatePayment {
			return store.Session{}, errkind.Wrap(errkind.PaymentUnverified, err)
		}
		return store.Session{}, errkind.Wrap(errkind.Fatal, err)
	}
	if !ok {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: lost the race transitioning session %s", sessionID))
	}

	return f.createWallet(ctx, sessionID)
}

// verifyPayment implements payment-verification guard:
// fetch the payment transaction, confirm it succeeded, and find a
// transfer matching the session's receiver, the daemon's fee address,
// and at least the configured fee amount.
func (f *FSM) verifyPayment(ctx context.Context, sess store.Session, paymentTxID string) error {
	info, err := f.payment.GetTransaction(ctx, paymentTxID)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("sessionfsm: fetching payment tx %s: %w", paymentTxID, err))
	}
	if !info.Succeeded {
		return errkind.Wrap(errkind.PaymentUnverified, fmt.Errorf("sessionfsm: payment tx %s did not succeed", paymentTxID))
	}
	for _, t := range info.Transfers {
		if t.Source == sess.ReceiverAddress && t.Destination == f.feeAddress && t.Amount >= f.feeAmount {
			return nil
		}
	}
	return errkind.Wrap(errkind.PaymentUnverified, fmt.Errorf("sessionfsm: no matching transfer found in tx %s", paymentTxID))
}

// createWallet drives payment_confirmed -> creating_wallet -> waiting_deposit:
// register a deposit wallet for the session on the coordination chain
// and read back its chain-canonical deposit address.
func (f *FSM) createWallet(ctx context.Context, sessionID string) (store.Session, error) {
	if ok, err := f.store.Transition(sessionID, store.StatusPaymentConfirmed, store.StatusCreatingWallet, nil); err != nil {
		return store.Session{}, errkind.Wrap(errkind.Fatal, err)
	} else if !ok {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: lost the race entering creating_wallet for %s", sessionID))
	}

	sess, err := f.store.Load(sessionID)
	if err != nil {
		return store.Session{}, err
	}
	info, ok := chains.Lookup(chains.Tag(sess.SourceChain))
	if !ok {
		f.failSession(sessionID, store.StatusCreatingWallet, fmt.Sprintf("unknown source chain %q", sess.SourceChain))
		return store.Session{}, errkind.Wrap(errkind.Fatal, fmt.Errorf("sessionfsm: unknown source chain %q", sess.SourceChain))
	}

	result, err := f.seq.Enqueue(ctx, "sessionfsm.createWallet", func(ctx context.Context) (interface{}, error) {
		return f.chain.Submit(ctx, chainio.Call{
			Module:   "wallet",
			Function: "create_deposit_wallet",
			Args:     []interface{}{sessionID, sess.SourceChain},
		})
	})
	if err != nil {
		f.failSession(sessionID, store.StatusCreatingWallet, err.Error())
		return store.Session{}, errkind.Wrap(errkind.TransientNetwork, err)
	}
	submitResult, _ := result.(chainio.SubmitResult)
	if submitResult.Aborted {
		f.failSession(sessionID, store.StatusCreatingWallet, submitResult.AbortCode)
		return store.Session{}, errkind.Wrap(errkind.NonRetriableOnChainAbort, fmt.Errorf("sessionfsm: create_deposit_wallet aborted: %s", submitResult.AbortCode))
	}
	walletID := submitResult.CreatedObjects["DepositWallet"]

	raw, err := f.chain.View(ctx, "wallet", "address", []interface{}{walletID})
	if err != nil {
		f.failSession(sessionID, store.StatusCreatingWallet, err.Error())
		return store.Session{}, errkind.Wrap(errkind.TransientNetwork, err)
	}
	var addr struct {
		Address string `json:"address"`
		Pubkey  string `json:"pubkey"`
	}
	if err := json.Unmarshal(raw, &addr); err != nil {
		f.failSession(sessionID, store.StatusCreatingWallet, err.Error())
		return store.Session{}, errkind.Wrap(errkind.Fatal, err)
	}
	addrBytes, err := bytesutil.ToBytes(addr.Address)
	if err != nil || len(addrBytes) != 32 {
		f.failSession(sessionID, store.StatusCreatingWallet, "wallet address: invalid 32-byte field")
		return store.Session{}, errkind.Wrap(errkind.Fatal, fmt.Errorf("sessionfsm: decoding wallet address: %w", err))
	}
	var raw32 [32]byte
	copy(raw32[:], addrBytes)
	depositAddress := chains.DecodeDepositAddress(info, raw32)

	pubkeyBytes, err := bytesutil.ToBytes(addr.Pubkey)
	if err != nil {
		f.failSession(sessionID, store.StatusCreatingWallet, "wallet pubkey: invalid encoding")
		return store.Session{}, errkind.Wrap(errkind.Fatal, fmt.Errorf("sessionfsm: decoding wallet pubkey: %w", err))
	}

	ok, err := f.store.Transition(sessionID, store.StatusCreatingWallet, store.StatusWaitingDeposit, func(s *store.Session) {
		s.DepositWalletID = walletID
		s.DepositAddress = depositAddress
		s.DepositPubkey = pubkeyBytes
	})
	if err != nil {
		return store.Session{}, errkind.Wrap(errkind.Fatal, err)
	}
	if !ok {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: lost the race entering waiting_deposit for %s", sessionID))
	}
	return f.store.Load(sessionID)
}

// ConfirmDeposit moves waiting_deposit -> verifying_deposit, binding the
// session's (nftContract, tokenId) and returning immediately; the
// remainder of the pipeline (verify deposit, upload metadata, submit
// create_seal) runs in runPipeline, launched by the caller as a
// goroutine.
func (f *FSM) ConfirmDeposit(sessionID, nftContract, tokenID string) (store.Session, error) {
	sess, err := f.store.Load(sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if sess.Status != store.StatusWaitingDeposit {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: session %s is not waiting for a deposit: %w", sessionID, ErrWrongStatus))
	}

	ok, err := f.store.Transition(sessionID, store.StatusWaitingDeposit, store.StatusVerifyingDeposit, func(s *store.Session) {
		s.NFTContract = nftContract
		s.TokenID = tokenID
	})
	if err != nil {
		if err == store.ErrDuplicateNFT {
			return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("%w: %s", ErrWrongStatus, err))
		}
		return store.Session{}, errkind.Wrap(errkind.Fatal, err)
	}
	if !ok {
		return store.Session{}, errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("sessionfsm: lost the race entering verifying_deposit for %s", sessionID))
	}
	return f.store.Load(sessionID)
}

// RunPipeline drives verifying_deposit all the way to signing (or
// error), meant to be launched with `go` right after ConfirmDeposit
// returns. ctx should be independent of the request context that
// started it, since the caller has already responded to the client.
func (f *FSM) RunPipeline(ctx context.Context, sessionID string) {
	sess, err := f.store.Load(sessionID)
	if err != nil {
		f.log.Error("sessionfsm: loading session for pipeline", "sessionId", sessionID, "err", err)
		return
	}

	result, err := f.verifiers.VerifyDeposit(ctx, chains.Tag(sess.SourceChain), sess.NFTContract, sess.TokenID, sess.DepositAddress)
	if err != nil || !result.Verified {
		reason := "deposit not verified"
		if err != nil {
			reason = err.Error()
		} else if result.Error != "" {
			reason = result.Error
		}
		f.failSession(sessionID, store.StatusVerifyingDeposit, reason)
		return
	}

	ok, err := f.store.Transition(sessionID, store.StatusVerifyingDeposit, store.StatusUploadingMetadata, func(s *store.Session) {
		s.TokenURI = result.TokenURI
		s.NFTName = result.Name
		s.CollectionName = result.CollectionName
	})
	if err != nil || !ok {
		f.log.Warn("sessionfsm: lost the race entering uploading_metadata", "sessionId", sessionID, "err", err)
		return
	}

	sess, err = f.store.Load(sessionID)
	if err != nil {
		f.log.Error("sessionfsm: reloading session", "sessionId", sessionID, "err", err)
		return
	}
	chainInfo, _ := chains.Lookup(chains.Tag(sess.SourceChain))

	targetURI, err := f.pipeline.BuildAndPublish(ctx, metadata.BuildParams{
		Source: metadata.SourceFields{
			TokenURI:       sess.TokenURI,
			Name:           sess.NFTName,
			CollectionName: sess.CollectionName,
		},
		ReceiverAddress: sess.ReceiverAddress,
		Provenance: metadata.Provenance{
			SourceChain:    sess.SourceChain,
			SourceChainID:  chainInfo.WireID,
			SourceContract: sess.NFTContract,
			SourceTokenID:  sess.TokenID,
			BridgeMethod:   "lock-and-mint",
			DepositAddress: hex.EncodeToString(sess.DepositAddress),
			BridgedAt:      sess.UpdatedAt,
		},
	})
	if err != nil {
		f.failSession(sessionID, store.StatusUploadingMetadata, err.Error())
		return
	}

	ok, err = f.store.Transition(sessionID, store.StatusUploadingMetadata, store.StatusCreatingSeal, func(s *store.Session) {
		s.TokenURI = targetURI
	})
	if err != nil || !ok {
		f.log.Warn("sessionfsm: lost the race entering creating_seal", "sessionId", sessionID, "err", err)
		return
	}

	f.submitCreateSeal(ctx, sessionID, targetURI, chainInfo.WireID)
}

// submitCreateSeal computes the stable message hash
// (messageHash = SHA256(tokenUri || tokenIdBytes || receiverBytes)),
// submits create_seal, and advances creating_seal -> signing.
func (f *FSM) submitCreateSeal(ctx context.Context, sessionID, targetURI string, sourceChainID uint16) {
	sess, err := f.store.Load(sessionID)
	if err != nil {
		f.log.Error("sessionfsm: reloading session before create_seal", "sessionId", sessionID, "err", err)
		return
	}

	tokenIDBytes := []byte(nil)
	if n, ok := new(big.Int).SetString(sess.TokenID, 10); ok {
		tokenIDBytes = n.Bytes()
	}
	messageHash := computeMessageHash(targetURI, tokenIDBytes, []byte(sess.ReceiverAddress))

	result, err := f.seq.Enqueue(ctx, "sessionfsm.createSeal", func(ctx context.Context) (interface{}, error) {
		return f.chain.Submit(ctx, chainio.Call{
			Module:   "signing",
			Function: "create_seal",
			Args: []interface{}{
				sessionID, sourceChainID, sess.NFTContract, sess.TokenID,
				targetURI, sess.ReceiverAddress, sess.CollectionName,
				hex.EncodeToString(messageHash[:]),
			},
		})
	})
	if err != nil {
		f.failSession(sessionID, store.StatusCreatingSeal, err.Error())
		return
	}
	submitResult, _ := result.(chainio.SubmitResult)
	if submitResult.Aborted {
		f.failSession(sessionID, store.StatusCreatingSeal, submitResult.AbortCode)
		return
	}

	if ok, err := f.store.Transition(sessionID, store.StatusCreatingSeal, store.StatusSigning, nil); err != nil || !ok {
		f.log.Warn("sessionfsm: lost the race entering signing", "sessionId", sessionID, "err", err)
	}
}

// computeMessageHash implements the stable hash construction both the
// create_seal submission and the MPC signing request must agree on:
// SHA256(tokenUri || tokenIdBytes || receiverBytes).
func computeMessageHash(tokenURI string, tokenIDBytes, receiverBytes []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(tokenURI))
	h.Write(tokenIDBytes)
	h.Write(receiverBytes)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// failSession transitions a session from expected into error, recording
// reason as ErrorMessage. Failing to win the race is logged, not
// retried: a concurrent transition already moved the session somewhere
// else.
func (f *FSM) failSession(sessionID string, expected store.Status, reason string) {
	ok, err := f.store.Transition(sessionID, expected, store.StatusError, func(s *store.Session) {
		s.ErrorMessage = reason
	})
	if err != nil {
		f.log.Error("sessionfsm: recording session failure", "sessionId", sessionID, "err", err)
		return
	}
	if !ok {
		f.log.Warn("sessionfsm: lost the race recording session failure", "sessionId", sessionID, "reason", reason)
	}
}
