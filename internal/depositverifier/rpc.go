package depositverifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// rpcVerifier is a thin JSON-RPC client shared by the non-EVM verifiers
// (Sui, NEAR, Aptos). None of these chains has an SDK anywhere in the
// example pack, so — same justification as internal/chainio and
// internal/mpcclient — a minimal stdlib net/http client stands in for
// one, scoped narrowly to the single read each family needs.
type rpcVerifier struct {
	baseURL string
	http    *http.Client
}

func newRPCVerifier(baseURL string) *rpcVerifier {
	return &rpcVerifier{baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second}}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *rpcVerifier) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// SuiVerifier confirms ownership by reading a Move object's owner and
// display fields.
type SuiVerifier struct{ *rpcVerifier }

// NewSuiVerifier builds a SuiVerifier against the given full-node RPC URL.
func NewSuiVerifier(rpcURL string) *SuiVerifier {
	return &SuiVerifier{newRPCVerifier(rpcURL)}
}

type suiObjectResponse struct {
	Data struct {
		Owner   json.RawMessage `json:"owner"`
		Display struct {
			Data struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				ImageURL    string `json:"image_url"`
			} `json:"data"`
		} `json:"display"`
	} `json:"data"`
}

// VerifyDeposit reads the Move object whose object id is tokenID and
// checks its owner field against depositAddress; nftContract is not used.
func (v *SuiVerifier) VerifyDeposit(ctx context.Context, nftContract, tokenID string, depositAddress []byte) (Result, error) {
	objectID := tokenID
	var obj suiObjectResponse
	if err := v.call(ctx, "sui_getObject", []interface{}{objectID, map[string]bool{"showOwner": true, "showDisplay": true}}, &obj); err != nil {
		return Result{Verified: false, Error: err.Error()}, nil
	}

	ownerHex := fmt.Sprintf("0x%x", depositAddress)
	if !bytes.Contains(obj.Data.Owner, []byte(ownerHex)) {
		return Result{Verified: false, Error: "deposit address does not own this object"}, nil
	}

	return Result{
		Verified:       true,
		Name:           obj.Data.Display.Data.Name,
		Description:    obj.Data.Display.Data.Description,
		ImageURL:       obj.Data.Display.Data.ImageURL,
		CollectionName: nftContract,
	}, nil
}

// NearVerifier confirms ownership via the nft_tokens_for_owner view method.
type NearVerifier struct{ *rpcVerifier }

// NewNearVerifier builds a NearVerifier against the given RPC URL.
func NewNearVerifier(rpcURL string) *NearVerifier {
	return &NearVerifier{newRPCVerifier(rpcURL)}
}

type nearToken struct {
	TokenID string `json:"token_id"`
	Metadata struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Media       string `json:"media"`
	} `json:"metadata"`
}

func (v *NearVerifier) VerifyDeposit(ctx context.Context, nftContract, tokenID string, depositAddress []byte) (Result, error) {
	args := map[string]interface{}{
		"account_id": string(depositAddress),
		"from_index": "0",
		"limit":      100,
	}
	var raw json.RawMessage
	if err := v.call(ctx, "query", []interface{}{map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   nftContract,
		"method_name":  "nft_tokens_for_owner",
		"args_base64":  encodeArgs(args),
	}}, &raw); err != nil {
		return Result{Verified: false, Error: err.Error()}, nil
	}

	var tokens []nearToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return Result{Verified: false, Error: fmt.Sprintf("decoding owned tokens: %v", err)}, nil
	}
	for _, tok := range tokens {
		if tok.TokenID == tokenID {
			return Result{
				Verified:       true,
				Name:           tok.Metadata.Title,
				Description:    tok.Metadata.Description,
				ImageURL:       tok.Metadata.Media,
				CollectionName: nftContract,
			}, nil
		}
	}
	return Result{Verified: false, Error: "token not found among owner's tokens"}, nil
}

// AptosVerifier confirms ownership of a token by reading its owning
// object's resource data.
type AptosVerifier struct{ *rpcVerifier }

// NewAptosVerifier builds an AptosVerifier against the given REST RPC URL.
func NewAptosVerifier(rpcURL string) *AptosVerifier {
	return &AptosVerifier{newRPCVerifier(rpcURL)}
}

type aptosTokenResource struct {
	Data struct {
		Owner string `json:"owner"`
		Token struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			URI         string `json:"uri"`
		} `json:"token_data"`
	} `json:"data"`
}

func (v *AptosVerifier) VerifyDeposit(ctx context.Context, nftContract, tokenID string, depositAddress []byte) (Result, error) {
	var res aptosTokenResource
	if err := v.call(ctx, "view_resource", []interface{}{nftContract, tokenID}, &res); err != nil {
		return Result{Verified: false, Error: err.Error()}, nil
	}

	expected := fmt.Sprintf("0x%x", depositAddress)
	if res.Data.Owner != expected {
		return Result{Verified: false, Error: "deposit address does not own this token"}, nil
	}

	return Result{
		Verified:       true,
		Name:           res.Data.Token.Name,
		Description:    res.Data.Token.Description,
		ImageURL:       res.Data.Token.URI,
		CollectionName: nftContract,
	}, nil
}

func encodeArgs(args map[string]interface{}) string {
	raw, _ := json.Marshal(args)
	return base64.StdEncoding.EncodeToString(raw)
}
