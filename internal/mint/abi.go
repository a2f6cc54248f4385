package mint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// mintSealSelector is an 8-byte instruction discriminator, the same
// "global:<name>" hashing convention Anchor-style Solana programs use so
// a mis-decoded instruction fails fast on the selector rather than
// silently misreading the first length-prefixed field.
var mintSealSelector = func() [8]byte {
	sum := sha256.Sum256([]byte("global:mint_seal"))
	var sel [8]byte
	copy(sel[:], sum[:8])
	return sel
}()

// EncodeMintSealArgs builds the length-prefixed binary instruction data
// for one mint_seal call: selector, then every PDA-seed-derivable
// field in the order the PDAs above derive them, then the non-seed
// fields, with the signature blob and then the signer pubkey placed last
// so a reader can locate and validate every account-deriving field before
// touching the (much larger) signature bytes.
func EncodeMintSealArgs(seal ProcessedSeal) []byte {
	buf := new(bytes.Buffer)
	buf.Write(mintSealSelector[:])
	binary.Write(buf, binary.BigEndian, seal.SourceChainID)
	writeBytes(buf, seal.NFTContract)
	writeBytes(buf, seal.TokenID)
	writeString(buf, seal.TokenURI)
	buf.Write(seal.Receiver[:])
	writeString(buf, seal.CollectionName)
	buf.Write(seal.MessageHash[:])
	buf.Write(seal.Signature[:])
	buf.Write(seal.SignerPubkey[:])
	return buf.Bytes()
}

// initCollectionSelector is the instruction discriminator for the
// one-time per-source-collection account setup call.
var initCollectionSelector = func() [8]byte {
	sum := sha256.Sum256([]byte("global:init_collection"))
	var sel [8]byte
	copy(sel[:], sum[:8])
	return sel
}()

// EncodeInitCollectionArgs builds the instruction data for the
// init_collection call the submitter issues the first time it sees a
// (sourceChainId, nftContract) pair without a collection account yet.
// collectionAssetPubkey is the freshly generated collection asset
// keypair's public half, written into the account so later mints of the
// same collection can read it back instead of minting a second one.
func EncodeInitCollectionArgs(sourceChainID uint16, nftContract []byte, collectionName string, collectionAssetPubkey []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(initCollectionSelector[:])
	binary.Write(buf, binary.BigEndian, sourceChainID)
	writeBytes(buf, nftContract)
	writeString(buf, collectionName)
	buf.Write(collectionAssetPubkey)
	return buf.Bytes()
}

// collectionAssetPubkeySize is the length of the ed25519 public key the
// collection account stores, the same fixed size newAssetKeypair
// generates for every per-mint asset.
const collectionAssetPubkeySize = 32

// DecodeCollectionAccount extracts the collection asset address a
// previously initialized collection account stored, so
// ensureCollectionInitialized can reuse it on every mint after the
// first.
func DecodeCollectionAccount(data []byte) ([]byte, error) {
	if len(data) != collectionAssetPubkeySize {
		return nil, fmt.Errorf("mint: collection account data is %d bytes, want %d", len(data), collectionAssetPubkeySize)
	}
	out := make([]byte, collectionAssetPubkeySize)
	copy(out, data)
	return out, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}
