package depositverifier

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc721ABI = `[
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// EVMVerifier confirms NFT ownership on an EVM-family chain via
// eth_call against the standard ERC-721 ownerOf/tokenURI/name methods.
type EVMVerifier struct {
	client *ethclient.Client
	abi    abi.ABI
}

// NewEVMVerifier dials rpcURL and returns a ready EVMVerifier.
func NewEVMVerifier(rpcURL string) (*EVMVerifier, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("depositverifier: dialing %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("depositverifier: parsing erc721 abi: %w", err)
	}
	return &EVMVerifier{client: client, abi: parsed}, nil
}

// VerifyDeposit checks that depositAddress is the current owner of
// tokenID on nftContract, and reads back its tokenURI.
func (v *EVMVerifier) VerifyDeposit(ctx context.Context, nftContract, tokenID string, depositAddress []byte) (Result, error) {
	contract := common.HexToAddress(nftContract)
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return Result{Verified: false, Error: fmt.Sprintf("invalid tokenId %q", tokenID)}, nil
	}

	owner, err := v.call(ctx, contract, "ownerOf", id)
	if err != nil {
		return Result{Verified: false, Error: err.Error()}, nil
	}
	ownerAddr, ok := owner[0].(common.Address)
	if !ok {
		return Result{Verified: false, Error: "unexpected ownerOf return type"}, nil
	}
	if ownerAddr != common.BytesToAddress(depositAddress) {
		return Result{Verified: false, Error: "deposit address does not own this token"}, nil
	}

	tokenURI := ""
	if out, err := v.call(ctx, contract, "tokenURI", id); err == nil && len(out) > 0 {
		tokenURI, _ = out[0].(string)
	}
	name := ""
	if out, err := v.call(ctx, contract, "name"); err == nil && len(out) > 0 {
		name, _ = out[0].(string)
	}

	return Result{
		Verified:       true,
		TokenURI:       tokenURI,
		CollectionName: name,
	}, nil
}

func (v *EVMVerifier) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := v.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	out, err := v.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return v.abi.Unpack(method, out)
}
