package mpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPrepareCentralizedSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/prepare-centralized-signature" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"centralizedSigPart": []byte("partial-sig"),
			"signatureId":        "sig-123",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "testnet", 4, nil)
	result, err := c.PrepareCentralizedSignature(context.Background(), PrepareSignatureRequest{
		SecretKeyShare: []byte("share"),
		PublicOutput:   []byte("pub"),
		PresignBlob:    []byte("presign"),
		MessageHash:    []byte("hash"),
	})
	if err != nil {
		t.Fatalf("PrepareCentralizedSignature: %v", err)
	}
	if result.SignatureID != "sig-123" {
		t.Fatalf("got %+v", result)
	}
}

func TestPollSignatureCompletesAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := "pending"
		if n >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"signature": []byte("sig-bytes"),
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "testnet", 4, nil)
	c.pollInterval = time.Millisecond
	sig, err := c.PollSignature(context.Background(), "sig-123", time.Second)
	if err != nil {
		t.Fatalf("PollSignature: %v", err)
	}
	if string(sig.Signature) != "sig-bytes" {
		t.Fatalf("got %+v", sig)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestPollSignatureTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "pending"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "testnet", 4, nil)
	c.pollInterval = time.Millisecond
	_, err := c.PollSignature(context.Background(), "sig-123", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPollPresignCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "completed",
			"presignId":   "ps-1",
			"presignBlob": []byte("blob"),
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "testnet", 4, nil)
	c.pollInterval = time.Millisecond
	result, err := c.PollPresign(context.Background(), "cap-1", time.Second)
	if err != nil {
		t.Fatalf("PollPresign: %v", err)
	}
	if result.PresignID != "ps-1" || string(result.PresignBlob) != "blob" {
		t.Fatalf("got %+v", result)
	}
}

func TestHTTPErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "testnet", 4, nil)
	_, err := c.PrepareCentralizedSignature(context.Background(), PrepareSignatureRequest{})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}
