// Package mpcclient is the black-box boundary to the threshold-MPC
// signing service. Like internal/chainio, nothing in the MPC protocol
// has a ready-made Go SDK, so this is a second deliberate stdlib
// net/http boundary; concurrency control over it bounds outstanding
// requests with a golang.org/x/sync/semaphore rather than an unbounded
// goroutine-per-call fan-out.
package mpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquiringSlot is returned when the bounded concurrency limiter
// could not be acquired before ctx was cancelled.
var ErrAcquiringSlot = errors.New("mpcclient: error acquiring request slot")

// PrepareSignatureRequest is the input to prepareCentralizedSignature:
// the Ed25519/EdDSA/SHA-512 centralized-party half of a threshold
// signature.
type PrepareSignatureRequest struct {
	SecretKeyShare []byte
	PublicOutput   []byte
	PresignBlob    []byte
	MessageHash    []byte
}

// PrepareSignatureResult carries the centralized signature part and the
// signatureId the coordination chain's request_sign call will reference.
type PrepareSignatureResult struct {
	CentralizedSigPart []byte
	SignatureID        string
}

// RawSignature is a completed, full 64-byte EdDSA signature.
type RawSignature struct {
	Signature []byte
}

// PresignResult is a completed presign, ready to be added to the pool.
type PresignResult struct {
	PresignID   string
	PresignBlob []byte
}

// Client is the MPC service boundary. Every method blocks until the
// operation completes, fails, or its bounded timeout elapses; none retry
// internally, matching chainio.Client's contract.
type Client interface {
	PrepareCentralizedSignature(ctx context.Context, req PrepareSignatureRequest) (PrepareSignatureResult, error)
	PollSignature(ctx context.Context, signatureID string, timeout time.Duration) (RawSignature, error)
	PollPresign(ctx context.Context, capabilityObjectID string, timeout time.Duration) (PresignResult, error)
}

// HTTPClient is the default Client, a bounded-concurrency JSON/HTTP
// caller against the configured MPC service base URL.
type HTTPClient struct {
	BaseURL string
	Network string // "testnet" | "mainnet"
	http    *http.Client
	slots   *semaphore.Weighted

	pollInterval time.Duration
}

// NewHTTPClient builds an HTTPClient. maxConcurrent bounds outstanding
// requests to the MPC service, so a slow MPC service backs up the
// daemon's own request queue instead of spawning unbounded goroutines.
func NewHTTPClient(baseURL, network string, maxConcurrent int64, httpClient *http.Client) *HTTPClient {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		BaseURL:      baseURL,
		Network:      network,
		http:         httpClient,
		slots:        semaphore.NewWeighted(maxConcurrent),
		pollInterval: 2 * time.Second,
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return ErrAcquiringSlot
	}
	defer c.slots.Release(1)

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mpcclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mpcclient: reading %s response: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mpcclient: %s returned status %d: %s", path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *HTTPClient) PrepareCentralizedSignature(ctx context.Context, req PrepareSignatureRequest) (PrepareSignatureResult, error) {
	var result PrepareSignatureResult
	body := struct {
		Network        string `json:"network"`
		SecretKeyShare []byte `json:"secretKeyShare"`
		PublicOutput   []byte `json:"publicOutput"`
		PresignBlob    []byte `json:"presignBlob"`
		MessageHash    []byte `json:"messageHash"`
	}{c.Network, req.SecretKeyShare, req.PublicOutput, req.PresignBlob, req.MessageHash}
	if err := c.post(ctx, "/v1/prepare-centralized-signature", body, &result); err != nil {
		return PrepareSignatureResult{}, err
	}
	return result, nil
}

// pollUntil calls poll every c.pollInterval until it reports done=true,
// ctx is cancelled, or timeout elapses, whichever comes first.
func pollUntil[T any](ctx context.Context, interval, timeout time.Duration, poll func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		value, done, err := poll(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return value, nil
		}
		if time.Now().After(deadline) {
			return zero, fmt.Errorf("mpcclient: polling timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) PollSignature(ctx context.Context, signatureID string, timeout time.Duration) (RawSignature, error) {
	return pollUntil(ctx, c.pollInterval, timeout, func(ctx context.Context) (RawSignature, bool, error) {
		var resp struct {
			Status    string `json:"status"`
			Signature []byte `json:"signature"`
		}
		if err := c.post(ctx, "/v1/signatures/"+signatureID, nil, &resp); err != nil {
			return RawSignature{}, false, err
		}
		if resp.Status != "completed" {
			return RawSignature{}, false, nil
		}
		return RawSignature{Signature: resp.Signature}, true, nil
	})
}

func (c *HTTPClient) PollPresign(ctx context.Context, capabilityObjectID string, timeout time.Duration) (PresignResult, error) {
	return pollUntil(ctx, c.pollInterval, timeout, func(ctx context.Context) (PresignResult, bool, error) {
		var resp struct {
			Status      string `json:"status"`
			PresignID   string `json:"presignId"`
			PresignBlob []byte `json:"presignBlob"`
		}
		if err := c.post(ctx, "/v1/presigns/"+capabilityObjectID, nil, &resp); err != nil {
			return PresignResult{}, false, err
		}
		if resp.Status != "completed" {
			return PresignResult{}, false, nil
		}
		return PresignResult{PresignID: resp.PresignID, PresignBlob: resp.PresignBlob}, true, nil
	})
}
