// Package mint implements the final leg of a bridge session:
// decode a SealSigned event off the coordination chain, derive the
// target-chain program-owned accounts a mint_seal call touches, and
// submit the mint transaction with a fresh asset keypair on every retry
// attempt until it lands or the retry budget is exhausted.
package mint

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rebornbridge/relayer/internal/bytesutil"
	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/chains"
	"github.com/rebornbridge/relayer/internal/errkind"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/mintclient"
	"github.com/rebornbridge/relayer/internal/retry"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/store"
)

// Submitter implements eventpoller.Handler for the SealSigned stream.
type Submitter struct {
	client    mintclient.Client
	store     *store.Store
	programID []byte
	policy    retry.Policy
	log       log.Logger
}

// New builds a Submitter. programID is the target-chain program that
// owns every PDA this daemon derives.
func New(client mintclient.Client, st *store.Store, programID []byte, policy retry.Policy) *Submitter {
	return &Submitter{
		client:    client,
		store:     st,
		programID: programID,
		policy:    policy,
		log:       rlog.New("mint"),
	}
}

// Handle implements eventpoller.Handler.
func (s *Submitter) Handle(ctx context.Context, event chainio.Event) error {
	seal, err := DecodeProcessedSeal(event.Payload)
	if err != nil {
		s.log.Error("mint: dropping unparseable SealSigned event", "txId", event.TxID, "err", err)
		metrics.MintRetries.WithLabelValues(errkind.ValidationFailure.String()).Inc()
		return nil
	}

	err = s.process(ctx, seal)
	if err == nil {
		return nil
	}
	kind := errkind.Classify(err)
	if errkind.AdvancesCursor(kind) {
		s.log.Warn("mint: dropping non-retriable SealSigned event", "txId", event.TxID, "err", err, "kind", kind.String())
		return nil
	}
	return err
}

// process resolves the session the seal targets, builds the mint_seal
// instruction against its derived accounts, and submits it with the
// configured retry policy, generating a fresh asset keypair for every
// attempt. Success or exhaustion is recorded on the session.
func (s *Submitter) process(ctx context.Context, seal ProcessedSeal) error {
	chainInfo, ok := chains.ByWireID(seal.SourceChainID)
	if !ok {
		return errkind.Wrap(errkind.ValidationFailure, fmt.Errorf("mint: unknown source chain wire id %d", seal.SourceChainID))
	}
	nftContract := bytesutil.WithHexPrefix(seal.NFTContract)
	tokenID := new(big.Int).SetBytes(seal.TokenID).String()

	sess, err := s.store.LoadBySourceNFT(string(chainInfo.Tag), nftContract, tokenID)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, fmt.Errorf("mint: resolving session for %s/%s: %w", nftContract, tokenID, err))
	}

	collection := collectionAddress(s.programID, seal.SourceChainID, seal.NFTContract)
	collectionAssetPubkey, err := s.ensureCollectionInitialized(ctx, collection, seal)
	if err != nil {
		return err
	}

	var lastErr error
	retryErr := s.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			metrics.MintRetries.WithLabelValues("retry").Inc()
		}
		assetKeypair, err := newAssetKeypair()
		if err != nil {
			lastErr = errkind.Wrap(errkind.Fatal, fmt.Errorf("mint: generating asset keypair: %w", err))
			return lastErr
		}
		tx := s.buildTransaction(seal, collection, collectionAssetPubkey, assetKeypair)
		result, err := s.client.Submit(ctx, tx)
		if err != nil {
			lastErr = errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("mint: submitting mint_seal (attempt %d): %w", attempt, err))
			return lastErr
		}
		if _, txErr := s.store.Transition(sess.SessionID, store.StatusMinting, store.StatusComplete, func(sess *store.Session) {
			sess.MintedAssetAddress = bytesutil.WithHexPrefix(assetKeypair.PublicKey)
		}); txErr != nil {
			lastErr = errkind.Wrap(errkind.Fatal, fmt.Errorf("mint: recording completion for %s: %w", sess.SessionID, txErr))
			return lastErr
		}
		_ = result
		lastErr = nil
		return nil
	})

	if retryErr == nil {
		return nil
	}

	metrics.MintRetries.WithLabelValues("exhausted").Inc()
	if _, txErr := s.store.Transition(sess.SessionID, store.StatusMinting, store.StatusError, func(sess *store.Session) {
		sess.ErrorMessage = lastErr.Error()
	}); txErr != nil {
		s.log.Error("mint: recording exhaustion for session", "sessionId", sess.SessionID, "err", txErr)
	}
	if lastErr != nil {
		return lastErr
	}
	return errkind.Wrap(errkind.TransientNetwork, retryErr)
}

// ensureCollectionInitialized issues a one-time init call against the
// per-source-collection PDA the first time this daemon encounters a
// given (sourceChainId, nftContract) pair, generating a fresh collection
// asset keypair and co-signing with it so the program can record its
// address in the collection account. On every later mint of the same
// collection it reads that stored address back instead of minting a
// second collection asset.
func (s *Submitter) ensureCollectionInitialized(ctx context.Context, collection [32]byte, seal ProcessedSeal) ([]byte, error) {
	exists, err := s.client.AccountExists(ctx, collection[:])
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("mint: checking collection account: %w", err))
	}
	if exists {
		data, err := s.client.ReadAccount(ctx, collection[:])
		if err != nil {
			return nil, errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("mint: reading collection account: %w", err))
		}
		collectionAssetPubkey, err := DecodeCollectionAccount(data)
		if err != nil {
			return nil, errkind.Wrap(errkind.Fatal, fmt.Errorf("mint: decoding collection account %x: %w", collection, err))
		}
		return collectionAssetPubkey, nil
	}

	collectionAsset, err := newAssetKeypair()
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, fmt.Errorf("mint: generating collection asset keypair: %w", err))
	}

	mintAuthority := mintAuthorityAddress(s.programID, seal.SourceChainID, seal.NFTContract)
	tx := mintclient.Transaction{
		Instructions: []mintclient.Instruction{{
			ProgramID: s.programID,
			Accounts: []mintclient.AccountMeta{
				{Pubkey: collection[:], IsSigner: false, IsWritable: true},
				{Pubkey: mintAuthority[:], IsSigner: false, IsWritable: true},
				{Pubkey: collectionAsset.PublicKey, IsSigner: true, IsWritable: true},
			},
			Data: EncodeInitCollectionArgs(seal.SourceChainID, seal.NFTContract, seal.CollectionName, collectionAsset.PublicKey),
		}},
		Signers: []mintclient.Keypair{collectionAsset},
	}
	if _, err := s.client.Submit(ctx, tx); err != nil {
		return nil, errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("mint: initializing collection account: %w", err))
	}
	return collectionAsset.PublicKey, nil
}

// buildTransaction assembles the mint_seal instruction against every
// PDA names, the collection's persistent asset account, plus the
// freshly generated per-mint asset keypair as a co-signer.
func (s *Submitter) buildTransaction(seal ProcessedSeal, collection [32]byte, collectionAssetPubkey []byte, assetKeypair mintclient.Keypair) mintclient.Transaction {
	sigUsed := sigUsedAddress(s.programID, seal.Signature[:])
	provenance := provenanceAddress(s.programID, seal.SourceChainID, seal.NFTContract, seal.TokenID)
	mintAuthority := mintAuthorityAddress(s.programID, seal.SourceChainID, seal.NFTContract)
	mintConfig := mintConfigAddress(s.programID)

	return mintclient.Transaction{
		Instructions: []mintclient.Instruction{{
			ProgramID: s.programID,
			Accounts: []mintclient.AccountMeta{
				{Pubkey: sigUsed[:], IsSigner: false, IsWritable: true},
				{Pubkey: provenance[:], IsSigner: false, IsWritable: true},
				{Pubkey: collection[:], IsSigner: false, IsWritable: false},
				{Pubkey: collectionAssetPubkey, IsSigner: false, IsWritable: false},
				{Pubkey: mintAuthority[:], IsSigner: false, IsWritable: false},
				{Pubkey: mintConfig[:], IsSigner: false, IsWritable: false},
				{Pubkey: assetKeypair.PublicKey, IsSigner: true, IsWritable: true},
				{Pubkey: seal.Receiver[:], IsSigner: false, IsWritable: true},
			},
			Data: EncodeMintSealArgs(seal),
		}},
		Signers: []mintclient.Keypair{assetKeypair},
	}
}

func newAssetKeypair() (mintclient.Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return mintclient.Keypair{}, err
	}
	return mintclient.Keypair{PublicKey: pub, PrivateKey: priv}, nil
}
