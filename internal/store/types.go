// Package store is the single-writer-style embedded transactional store
// backing sessions, presigns, event cursors and sequence marks. It is
// backed by github.com/cockroachdb/pebble (already an indirect
// dependency via go-ethereum/coreth, promoted here to direct use as the
// chosen storage engine), with every guarded mutation serialized behind
// a single in-process mutex so that a "select-then-update" race is
// structurally impossible rather than merely unlikely.
package store

import "time"

// SchemaVersion is written on every session and presign record. Load
// does not inspect or upgrade it.
const SchemaVersion = 1

// Status is a SessionFSM state.
type Status string

const (
	StatusAwaitingPayment   Status = "awaiting_payment"
	StatusPaymentConfirmed  Status = "payment_confirmed"
	StatusCreatingWallet    Status = "creating_wallet"
	StatusWaitingDeposit    Status = "waiting_deposit"
	StatusVerifyingDeposit  Status = "verifying_deposit"
	StatusUploadingMetadata Status = "uploading_metadata"
	StatusCreatingSeal      Status = "creating_seal"
	StatusSigning           Status = "signing"
	StatusMinting           Status = "minting"
	StatusComplete          Status = "complete"
	StatusError             Status = "error"
)

// Terminal reports whether a session in this status will never
// transition again, the condition that ends a status stream.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// IntermediateStatuses are the non-terminal statuses eligible for
// expiry by expireStaleSessions.
var IntermediateStatuses = map[Status]bool{
	StatusAwaitingPayment:   true,
	StatusPaymentConfirmed:  true,
	StatusCreatingWallet:    true,
	StatusWaitingDeposit:    true,
	StatusVerifyingDeposit:  true,
	StatusUploadingMetadata: true,
	StatusCreatingSeal:      true,
	StatusSigning:           true,
	StatusMinting:           true,
}

// Session is one user bridging request.
type Session struct {
	SchemaVersion   int       `json:"schemaVersion"`
	SessionID       string    `json:"sessionId"` // 128-bit, hex-encoded
	ReceiverAddress string    `json:"receiverAddress"`
	SourceChain     string    `json:"sourceChain"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	PaymentTxID     string `json:"paymentTxId,omitempty"`
	DepositAddress  []byte `json:"depositAddress,omitempty"`
	DepositPubkey   []byte `json:"depositPubkey,omitempty"`
	DepositWalletID string `json:"depositWalletId,omitempty"`

	NFTContract    string `json:"nftContract,omitempty"`
	TokenID        string `json:"tokenId,omitempty"`
	TokenURI       string `json:"tokenUri,omitempty"`
	NFTName        string `json:"nftName,omitempty"`
	CollectionName string `json:"collectionName,omitempty"`

	MintedAssetAddress string `json:"mintedAssetAddress,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
}

// PresignEntry is one precomputed MPC presign.
type PresignEntry struct {
	SchemaVersion int          `json:"schemaVersion"`
	ObjectID      string       `json:"objectId"`
	PresignID     string       `json:"presignId"`
	PresignBlob   []byte       `json:"presignBlob"`
	Status        PresignState `json:"status"`
	LeasedAt      time.Time    `json:"leasedAt,omitempty"`
	LeasedFor     string       `json:"leasedFor,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// PresignState is the lease lifecycle of a PresignEntry.
type PresignState string

const (
	PresignAvailable PresignState = "available"
	PresignLeased    PresignState = "leased"
	PresignConsumed  PresignState = "consumed"
)

// EventCursor is the replay position for one event stream.
type EventCursor struct {
	StreamName string `json:"streamName"`
	TxID       string `json:"txId"`
	EventSeq   uint64 `json:"eventSeq"`
}

// SequenceMark is the last-processed external message sequence for one
// emitter key. Represented as a string since the source sequence may
// exceed 64 bits.
type SequenceMark struct {
	EmitterKey string `json:"emitterKey"`
	Sequence   string `json:"sequence"`
}

// PresignStats summarizes pool occupancy for the API and metrics.
type PresignStats struct {
	Available int
	Leased    int
	Consumed  int
	Total     int
}
