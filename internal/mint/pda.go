package mint

import (
	"crypto/sha256"
	"encoding/binary"
)

// Fixed seed literals for the program-owned accounts names.
const (
	seedSigUsed          = "sig_used"
	seedProvenance       = "provenance"
	seedRebornCollection = "reborn_collection"
	seedMintAuthority    = "mint_authority"
	seedMintConfig       = "mint_config"
)

// derive computes a deterministic program-owned address from a program
// id and an ordered list of seed components, the same shape as a
// Solana-style program-derived-address lookup without the off-curve bump
// search (the target chain here is a black box behind mintclient.Client;
// this daemon only needs the addresses to be deterministic and
// collision-resistant per seed tuple, not to match any specific curve
// check done on-chain).
func derive(programID []byte, parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	h.Write(programID)
	h.Write([]byte("ProgramDerivedAddress"))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func chainIDBE(id uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, id)
	return b
}

// sigUsedAddress derives the replay-guard account for one signature:
// seeds ["sig_used", sha256(signature)].
func sigUsedAddress(programID []byte, signature []byte) [32]byte {
	sigHash := sha256.Sum256(signature)
	return derive(programID, []byte(seedSigUsed), sigHash[:])
}

// provenanceAddress derives the per-NFT provenance record: seeds
// ["provenance", sourceChainIdBE, nftContract, tokenId].
func provenanceAddress(programID []byte, sourceChainID uint16, nftContract, tokenID []byte) [32]byte {
	return derive(programID, []byte(seedProvenance), chainIDBE(sourceChainID), nftContract, tokenID)
}

// collectionAddress derives the per-source-collection account: seeds
// ["reborn_collection", sourceChainIdBE, nftContract].
func collectionAddress(programID []byte, sourceChainID uint16, nftContract []byte) [32]byte {
	return derive(programID, []byte(seedRebornCollection), chainIDBE(sourceChainID), nftContract)
}

// mintAuthorityAddress derives the per-source-collection mint authority
// PDA: seeds ["mint_authority", sourceChainIdBE, nftContract].
func mintAuthorityAddress(programID []byte, sourceChainID uint16, nftContract []byte) [32]byte {
	return derive(programID, []byte(seedMintAuthority), chainIDBE(sourceChainID), nftContract)
}

// mintConfigAddress derives the single global config account: seeds
// ["mint_config"].
func mintConfigAddress(programID []byte) [32]byte {
	return derive(programID, []byte(seedMintConfig))
}
