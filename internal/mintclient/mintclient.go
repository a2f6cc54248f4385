// Package mintclient is the black-box boundary to the target chain: a
// Solana-style account-model chain where a transaction names a
// program, a list of accounts with signer/writable flags, and an
// opaque instruction data blob, rather than an EVM-style call. There is
// no off-the-shelf Solana SDK to build on, so like internal/chainio and
// internal/mpcclient this is a deliberate stdlib net/http JSON-RPC
// boundary.
package mintclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AccountMeta is one account reference in an Instruction.
type AccountMeta struct {
	Pubkey     []byte
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program call within a Transaction.
type Instruction struct {
	ProgramID []byte
	Accounts  []AccountMeta
	Data      []byte
}

// Keypair is a full ed25519 keypair used to co-sign a transaction: a
// fresh asset keypair is generated and co-signs every mint attempt.
type Keypair struct {
	PublicKey  []byte // 32 bytes
	PrivateKey []byte // 64 bytes
}

// Transaction is a single atomic target-chain transaction: one or more
// instructions plus any co-signing keypairs beyond the daemon's own fee
// payer.
type Transaction struct {
	Instructions []Instruction
	Signers      []Keypair
}

// SubmitResult is what a successful Submit returns.
type SubmitResult struct {
	Signature string
}

// TransferInstruction is one system-transfer leg of a confirmed
// transaction, as read back by GetTransaction.
type TransferInstruction struct {
	Source      string
	Destination string
	Amount      uint64
}

// TransactionInfo is the confirmed shape of a past transaction, the
// subset SessionFSM's payment verification needs.
type TransactionInfo struct {
	Succeeded bool
	Transfers []TransferInstruction
}

// Client is the target-chain RPC boundary every mint submission depends
// on through this interface, never a concrete type.
type Client interface {
	// Submit signs (with the daemon's fee payer plus tx.Signers) and
	// sends tx, blocking until the chain confirms or rejects it.
	// Implementations must not retry internally.
	Submit(ctx context.Context, tx Transaction) (SubmitResult, error)
	// AccountExists reports whether a program-owned account has already
	// been initialized on-chain.
	AccountExists(ctx context.Context, pubkey []byte) (bool, error)
	// ReadAccount returns the raw account data of an existing account.
	ReadAccount(ctx context.Context, pubkey []byte) ([]byte, error)
	// GetTransaction fetches a past transaction by id, decoded into its
	// system-transfer instructions, for payment verification.
	GetTransaction(ctx context.Context, txID string) (TransactionInfo, error)
}

// HTTPClient is the default Client, a thin JSON-RPC caller against the
// target chain's full node.
type HTTPClient struct {
	BaseURL string
	http    *http.Client
}

// NewHTTPClient builds an HTTPClient. httpClient may be nil, in which
// case a conservative default timeout is used.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{BaseURL: baseURL, http: httpClient}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mintclient: rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("mintclient: reading rpc response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("mintclient: decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("mintclient: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

type wireAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type wireInstruction struct {
	ProgramID string            `json:"programId"`
	Accounts  []wireAccountMeta `json:"accounts"`
	Data      []byte            `json:"data"`
}

func (c *HTTPClient) Submit(ctx context.Context, tx Transaction) (SubmitResult, error) {
	instructions := make([]wireInstruction, 0, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		accounts := make([]wireAccountMeta, 0, len(ix.Accounts))
		for _, a := range ix.Accounts {
			accounts = append(accounts, wireAccountMeta{
				Pubkey:     fmt.Sprintf("%x", a.Pubkey),
				IsSigner:   a.IsSigner,
				IsWritable: a.IsWritable,
			})
		}
		instructions = append(instructions, wireInstruction{
			ProgramID: fmt.Sprintf("%x", ix.ProgramID),
			Accounts:  accounts,
			Data:      ix.Data,
		})
	}
	signers := make([][]byte, 0, len(tx.Signers))
	for _, kp := range tx.Signers {
		signers = append(signers, kp.PrivateKey)
	}

	var result struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, "sendTransaction", []interface{}{instructions, signers}, &result); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Signature: result.Signature}, nil
}

func (c *HTTPClient) AccountExists(ctx context.Context, pubkey []byte) (bool, error) {
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := c.call(ctx, "getAccountInfo", []interface{}{fmt.Sprintf("%x", pubkey)}, &result); err != nil {
		return false, err
	}
	return result.Exists, nil
}

func (c *HTTPClient) ReadAccount(ctx context.Context, pubkey []byte) ([]byte, error) {
	var result struct {
		Data []byte `json:"data"`
	}
	if err := c.call(ctx, "getAccountInfo", []interface{}{fmt.Sprintf("%x", pubkey)}, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *HTTPClient) GetTransaction(ctx context.Context, txID string) (TransactionInfo, error) {
	var result struct {
		Succeeded bool `json:"succeeded"`
		Transfers []struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Amount      uint64 `json:"amount"`
		} `json:"transfers"`
	}
	if err := c.call(ctx, "getTransaction", []interface{}{txID}, &result); err != nil {
		return TransactionInfo{}, err
	}
	info := TransactionInfo{Succeeded: result.Succeeded}
	for _, t := range result.Transfers {
		info.Transfers = append(info.Transfers, TransferInstruction{
			Source:      t.Source,
			Destination: t.Destination,
			Amount:      t.Amount,
		})
	}
	return info, nil
}
