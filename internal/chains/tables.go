// Package chains holds the explicit, static tables mapping a source-chain
// tag to its numeric wire id and its deposit-address encoding rule.
//
// Per design note: source-chain maps are explicit tables, not
// string matching spread through the code.
package chains

// Tag identifies a supported source chain by name.
type Tag string

const (
	Ethereum   Tag = "ethereum"
	EthereumSepolia Tag = "ethereum-sepolia"
	Polygon    Tag = "polygon"
	BSC        Tag = "bsc"
	Sui        Tag = "sui"
	Aptos      Tag = "aptos"
	Near       Tag = "near"
)

// Family groups chains that share an address-encoding rule and verifier
// implementation.
type Family string

const (
	FamilyEVM   Family = "evm"
	FamilySui   Family = "sui"
	FamilyAptos Family = "aptos"
	FamilyNear  Family = "near"
)

// AddressEncoding describes how a deposit address is represented on the
// wire for a given chain family.
type AddressEncoding struct {
	// ByteLength is the canonical length of the address, in bytes.
	ByteLength int
	// StripEVMPad is true for EVM-family chains where a 32-byte slot holds
	// a left-padded 20-byte address.
	StripEVMPad bool
}

// Info is the static, per-chain descriptor.
type Info struct {
	Tag      Tag
	Family   Family
	WireID   uint16
	Encoding AddressEncoding
}

// table is the single source of truth for chain metadata. Never derive this
// information by pattern-matching a chain name elsewhere in the codebase.
var table = map[Tag]Info{
	Ethereum: {
		Tag: Ethereum, Family: FamilyEVM, WireID: 2,
		Encoding: AddressEncoding{ByteLength: 20, StripEVMPad: true},
	},
	EthereumSepolia: {
		Tag: EthereumSepolia, Family: FamilyEVM, WireID: 10002,
		Encoding: AddressEncoding{ByteLength: 20, StripEVMPad: true},
	},
	Polygon: {
		Tag: Polygon, Family: FamilyEVM, WireID: 5,
		Encoding: AddressEncoding{ByteLength: 20, StripEVMPad: true},
	},
	BSC: {
		Tag: BSC, Family: FamilyEVM, WireID: 4,
		Encoding: AddressEncoding{ByteLength: 20, StripEVMPad: true},
	},
	Sui: {
		Tag: Sui, Family: FamilySui, WireID: 21,
		Encoding: AddressEncoding{ByteLength: 32, StripEVMPad: false},
	},
	Aptos: {
		Tag: Aptos, Family: FamilyAptos, WireID: 22,
		Encoding: AddressEncoding{ByteLength: 32, StripEVMPad: false},
	},
	Near: {
		Tag: Near, Family: FamilyNear, WireID: 15,
		Encoding: AddressEncoding{ByteLength: 32, StripEVMPad: false},
	},
}

// byWireID is derived once at init from table, never maintained by hand.
var byWireID = func() map[uint16]Info {
	m := make(map[uint16]Info, len(table))
	for _, info := range table {
		m[info.WireID] = info
	}
	return m
}()

// Lookup returns the static descriptor for a chain tag.
func Lookup(tag Tag) (Info, bool) {
	info, ok := table[tag]
	return info, ok
}

// ByWireID returns the static descriptor for a numeric wire chain id, as
// decoded from an attestation payload.
func ByWireID(id uint16) (Info, bool) {
	info, ok := byWireID[id]
	return info, ok
}

// DecodeDepositAddress extracts the canonical-length deposit address from a
// raw 32-byte attestation field, per the chain's encoding rule.
func DecodeDepositAddress(info Info, raw32 [32]byte) []byte {
	if info.Encoding.StripEVMPad {
		return append([]byte(nil), raw32[12:]...)
	}
	return append([]byte(nil), raw32[:]...)
}
