package attestation

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildEnvelope assembles a synthetic envelope with zero signatures, for
// a deterministic, minimal fixture: version + guardianSetIndex(=0) +
// sigCount(=0) + bodyHeader(zeros) + payload.
func buildEnvelope(payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(1) // version
	var gsi [4]byte
	buf.Write(gsi[:])
	buf.WriteByte(0) // zero signatures
	buf.Write(make([]byte, bodyHeaderLen))
	buf.Write(payload)
	return buf.Bytes()
}

func buildPayload(chainID uint16, depositAddress [32]byte) []byte {
	payload := make([]byte, payloadMinLen+4) // pad a bit past the minimum
	binary.BigEndian.PutUint16(payload[payloadChainIDOffset:], chainID)
	copy(payload[payloadDepositAddressOffset:], depositAddress[:])
	return payload
}

func TestParseEnvelopeExtractsFields(t *testing.T) {
	var addr [32]byte
	for i := range addr {
		addr[i] = byte(i + 1)
	}
	payload := buildPayload(21, addr)
	envelope := buildEnvelope(payload)

	got, err := ParseEnvelope(envelope)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got.SourceChainWireID != 21 {
		t.Fatalf("got chain id %d", got.SourceChainWireID)
	}
	if got.DepositAddress32 != addr {
		t.Fatalf("got deposit address %x want %x", got.DepositAddress32, addr)
	}
}

func TestParseEnvelopeWithSignatures(t *testing.T) {
	var addr [32]byte
	addr[0] = 0xAB
	payload := buildPayload(2, addr)

	var buf bytes.Buffer
	buf.WriteByte(1)
	var gsi [4]byte
	buf.Write(gsi[:])
	buf.WriteByte(2) // two signatures
	buf.Write(make([]byte, 2*sigEntryLen))
	buf.Write(make([]byte, bodyHeaderLen))
	buf.Write(payload)

	got, err := ParseEnvelope(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got.SourceChainWireID != 2 {
		t.Fatalf("got %d", got.SourceChainWireID)
	}
	if got.DepositAddress32[0] != 0xAB {
		t.Fatalf("got %x", got.DepositAddress32)
	}
}

func TestParseEnvelopeRejectsTruncatedInput(t *testing.T) {
	if _, err := ParseEnvelope([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on truncated envelope")
	}
}

func TestParseEnvelopeRejectsShortPayload(t *testing.T) {
	envelope := buildEnvelope([]byte{0x01, 0x02})
	if _, err := ParseEnvelope(envelope); err == nil {
		t.Fatal("expected error on short payload")
	}
}
