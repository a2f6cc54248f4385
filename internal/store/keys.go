package store

// Key prefixes, one namespaced byte-table per record kind, in the style
// of go-ethereum's core/rawdb table prefixes (core/rawdb/schema.go): a
// short ASCII tag followed by the record's natural key, so a full
// keyspace scan groups records by kind without a separate index.
const (
	prefixSession          = "sess/"
	prefixSessionByDeposit = "sess-by-deposit/"
	prefixSessionByPayTx   = "sess-by-paytx/"
	prefixSessionByNFT     = "sess-by-nft/"
	prefixPresign          = "presign/"
	prefixCursor           = "cursor/"
	prefixSequence         = "seq/"
)

func sessionKey(id string) []byte {
	return append([]byte(prefixSession), id...)
}

func sessionByDepositKey(depositAddressHex string) []byte {
	return append([]byte(prefixSessionByDeposit), depositAddressHex...)
}

func sessionByPayTxKey(paymentTxID string) []byte {
	return append([]byte(prefixSessionByPayTx), paymentTxID...)
}

func sessionByNFTKey(sourceChain, nftContract, tokenID string) []byte {
	return []byte(prefixSessionByNFT + sourceChain + "/" + nftContract + "/" + tokenID)
}

func presignKey(objectID string) []byte {
	return append([]byte(prefixPresign), objectID...)
}

func cursorKey(streamName string) []byte {
	return append([]byte(prefixCursor), streamName...)
}

func sequenceKey(emitterKey string) []byte {
	return append([]byte(prefixSequence), emitterKey...)
}
