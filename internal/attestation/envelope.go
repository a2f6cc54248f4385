package attestation

import (
	"encoding/binary"
	"fmt"
)

const (
	envelopeVersionLen  = 1
	guardianSetIndexLen = 4
	sigCountLen         = 1
	sigEntryLen         = 66
	bodyHeaderLen       = 4 + 4 + 2 + 32 + 8 + 1 // timestamp+nonce+emitterChain+emitterAddress+sequence+consistencyLevel

	payloadDepositAddressOffset = 67
	payloadDepositAddressLen    = 32
	payloadChainIDOffset        = 1
	payloadChainIDLen           = 2
	payloadMinLen               = payloadDepositAddressOffset + payloadDepositAddressLen
)

// Payload is the result of decoding a signed attestation envelope down to
// the two fields the ingester needs: the source chain's wire
// id and the 32-byte deposit address it attests to.
type Payload struct {
	SourceChainWireID uint16
	DepositAddress32  [32]byte
	Raw               []byte // full payload section, forwarded on-chain as-is
}

// ParseEnvelope decodes a signed attestation envelope: a fixed header of
// version(1) + guardianSetIndex(4) + signatureCount(1) +
// signatureCount×66 bytes of signatures + a 51-byte body header,
// followed by the payload section this function returns.
func ParseEnvelope(raw []byte) (Payload, error) {
	minHeader := envelopeVersionLen + guardianSetIndexLen + sigCountLen
	if len(raw) < minHeader {
		return Payload{}, fmt.Errorf("attestation: envelope too short for header")
	}

	sigCount := int(raw[envelopeVersionLen+guardianSetIndexLen])
	pos := minHeader + sigCount*sigEntryLen
	if len(raw) < pos+bodyHeaderLen {
		return Payload{}, fmt.Errorf("attestation: envelope too short for body header")
	}
	pos += bodyHeaderLen

	payload := raw[pos:]
	if len(payload) < payloadMinLen {
		return Payload{}, fmt.Errorf("attestation: payload too short")
	}

	var depositAddress [32]byte
	copy(depositAddress[:], payload[payloadDepositAddressOffset:payloadDepositAddressOffset+payloadDepositAddressLen])

	chainID := binary.BigEndian.Uint16(payload[payloadChainIDOffset : payloadChainIDOffset+payloadChainIDLen])

	return Payload{
		SourceChainWireID: chainID,
		DepositAddress32:  depositAddress,
		Raw:               payload,
	}, nil
}
