package mint

import (
	"encoding/json"
	"fmt"

	"github.com/rebornbridge/relayer/internal/bytesutil"
)

// ProcessedSeal is a SealSigned event decoded into the fields the mint
// submitter needs.
type ProcessedSeal struct {
	Signature      [64]byte
	SignerPubkey   [32]byte
	SourceChainID  uint16
	NFTContract    []byte
	TokenID        []byte
	TokenURI       string
	Receiver       [32]byte
	CollectionName string
	MessageHash    [32]byte
}

// sealWire is the on-the-wire shape of a SealSigned event payload:
// every byte field arrives as a hex or base64 string, normalized here
// through bytesutil.ToBytes.
type sealWire struct {
	Signature      string `json:"signature"`
	SignerPubkey   string `json:"signerPubkey"`
	SourceChainID  uint16 `json:"sourceChainId"`
	NFTContract    string `json:"nftContract"`
	TokenID        string `json:"tokenId"`
	TokenURI       string `json:"tokenUri"`
	Receiver       string `json:"receiver"`
	CollectionName string `json:"collectionName"`
	MessageHash    string `json:"messageHash"`
}

// DecodeProcessedSeal parses a SealSigned event's raw payload, enforcing
// the fixed lengths of signature (64), signerPubkey (32), receiver (32)
// and messageHash (32).
func DecodeProcessedSeal(raw json.RawMessage) (ProcessedSeal, error) {
	var w sealWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: decoding SealSigned payload: %w", err)
	}

	sig, err := bytesutil.ToBytes(w.Signature)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: signature: %w", err)
	}
	if len(sig) != 64 {
		return ProcessedSeal{}, fmt.Errorf("mint: signature must be 64 bytes, got %d", len(sig))
	}
	pubkey, err := bytesutil.ToBytes(w.SignerPubkey)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: signerPubkey: %w", err)
	}
	if len(pubkey) != 32 {
		return ProcessedSeal{}, fmt.Errorf("mint: signerPubkey must be 32 bytes, got %d", len(pubkey))
	}
	receiver, err := bytesutil.ToBytes(w.Receiver)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: receiver: %w", err)
	}
	if len(receiver) != 32 {
		return ProcessedSeal{}, fmt.Errorf("mint: receiver must be 32 bytes, got %d", len(receiver))
	}
	messageHash, err := bytesutil.ToBytes(w.MessageHash)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: messageHash: %w", err)
	}
	if len(messageHash) != 32 {
		return ProcessedSeal{}, fmt.Errorf("mint: messageHash must be 32 bytes, got %d", len(messageHash))
	}
	nftContract, err := bytesutil.ToBytes(w.NFTContract)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: nftContract: %w", err)
	}
	tokenID, err := bytesutil.ToBytes(w.TokenID)
	if err != nil {
		return ProcessedSeal{}, fmt.Errorf("mint: tokenId: %w", err)
	}

	seal := ProcessedSeal{
		SourceChainID:  w.SourceChainID,
		NFTContract:    nftContract,
		TokenID:        tokenID,
		TokenURI:       w.TokenURI,
		CollectionName: w.CollectionName,
	}
	copy(seal.Signature[:], sig)
	copy(seal.SignerPubkey[:], pubkey)
	copy(seal.Receiver[:], receiver)
	copy(seal.MessageHash[:], messageHash)
	return seal, nil
}
