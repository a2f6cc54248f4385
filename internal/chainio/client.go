// Package chainio is the black-box boundary to the coordination chain:
// every mutating call funnels through Client.Submit, and every
// read-side poll funnels through Client.QueryEvents. No other package
// may hold an RPC handle to the coordination chain directly.
//
// The coordination chain here is a Sui-style Move-object chain: calls
// name a package, module and function and carry object-reference
// arguments rather than an EVM-style signed transaction with a nonce, so
// none of go-ethereum's EVM transaction-manager plumbing (nonce
// tracking, gas bidding, receipt polling) applies. The client is a
// plain JSON-RPC caller over net/http/encoding/json; there is no
// off-the-shelf Move/Sui RPC client to build on, so this package
// reaches for stdlib HTTP instead of a library client.
package chainio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Call names a mutating entry function to invoke on the coordination
// chain's deployed package, with its Move-call arguments.
type Call struct {
	Module   string
	Function string
	Args     []interface{}
}

// SubmitResult is what a successful mutating call returns: the
// transaction digest and any object ids it created, keyed by the Move
// type of the created object (e.g. "PresignCap", "SigningRequest").
type SubmitResult struct {
	TxDigest       string
	CreatedObjects map[string]string
	Aborted        bool
	AbortCode      string
}

// EventPage is one page of events of a given type, ordered ascending by
// the chain's own sequence, as returned by QueryEvents.
type EventPage struct {
	Events      []Event
	HasNextPage bool
	NextCursor  string
}

// Event is one coordination-chain event.
type Event struct {
	TxID      string
	EventSeq  uint64
	Type      string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Client is the coordination-chain RPC boundary every other component
// depends on through this interface, never through a concrete type, so
// tests can substitute a fake.
type Client interface {
	// Submit executes a single mutating call and blocks until the chain
	// reports the result. Implementations must not retry internally;
	// retry policy belongs to the caller.
	Submit(ctx context.Context, call Call) (SubmitResult, error)
	// QueryEvents returns up to limit events of eventType emitted after
	// afterCursor (exclusive), ordered ascending.
	QueryEvents(ctx context.Context, eventType, afterCursor string, limit int) (EventPage, error)
	// ObjectVersion returns the current sequence number of a shared
	// object. No component of the daemon calls it.
	ObjectVersion(ctx context.Context, objectID string) (uint64, error)
	// View executes a read-only Move call (a "dev inspect" in Sui terms)
	// and returns its raw JSON return value. Unlike Submit this never
	// goes through the sequencer: reads do not contend for shared-object
	// versioning.
	View(ctx context.Context, module, function string, args []interface{}) (json.RawMessage, error)
}

// HTTPClient is the default Client implementation, a thin JSON-RPC caller
// against the coordination chain's full node.
type HTTPClient struct {
	BaseURL   string
	PackageID string
	http      *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL. httpClient may be
// nil, in which case a client with a conservative request timeout is
// used, since a hung coordination-chain node must not hang the daemon
// forever.
func NewHTTPClient(baseURL, packageID string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{BaseURL: baseURL, PackageID: packageID, http: httpClient}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
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
		return fmt.Errorf("chainio: rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("chainio: reading rpc response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("chainio: decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// RPCError is a structured JSON-RPC error, preserved so the caller can
// tell a program-level abort (spec's NonRetriableOnChainAbort) apart from
// a transport failure.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chainio: rpc error %d: %s", e.Code, e.Message)
}

func (c *HTTPClient) Submit(ctx context.Context, call Call) (SubmitResult, error) {
	var result SubmitResult
	params := []interface{}{c.PackageID, call.Module, call.Function, call.Args}
	if err := c.call(ctx, "reborn_executeMoveCall", params, &result); err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

func (c *HTTPClient) QueryEvents(ctx context.Context, eventType, afterCursor string, limit int) (EventPage, error) {
	var page EventPage
	params := []interface{}{eventType, afterCursor, limit}
	if err := c.call(ctx, "reborn_queryEvents", params, &page); err != nil {
		return EventPage{}, err
	}
	return page, nil
}

func (c *HTTPClient) ObjectVersion(ctx context.Context, objectID string) (uint64, error) {
	var version uint64
	params := []interface{}{objectID}
	if err := c.call(ctx, "reborn_getObjectVersion", params, &version); err != nil {
		return 0, err
	}
	return version, nil
}

func (c *HTTPClient) View(ctx context.Context, module, function string, args []interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	params := []interface{}{c.PackageID, module, function, args}
	if err := c.call(ctx, "reborn_devInspect", params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
