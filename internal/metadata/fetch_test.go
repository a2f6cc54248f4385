package metadata

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckURLRejectsNonHTTPScheme(t *testing.T) {
	if _, err := checkURL("ftp://example.com/file"); err == nil {
		t.Fatal("expected rejection of ftp scheme")
	}
}

func TestCheckURLRejectsLocalhost(t *testing.T) {
	if _, err := checkURL("http://localhost:8080/secrets"); err == nil {
		t.Fatal("expected rejection of localhost")
	}
}

func TestCheckURLRejectsPrivateIP(t *testing.T) {
	for _, raw := range []string{
		"http://10.0.0.5/x",
		"http://192.168.1.1/x",
		"http://172.16.0.1/x",
		"http://169.254.169.254/latest/meta-data",
		"http://127.0.0.1/x",
	} {
		if _, err := checkURL(raw); err == nil {
			t.Fatalf("expected rejection of %s", raw)
		}
	}
}

func TestCheckURLRejectsInternalAndLocalTLDs(t *testing.T) {
	if _, err := checkURL("http://service.internal/x"); err == nil {
		t.Fatal("expected rejection of .internal")
	}
	if _, err := checkURL("http://service.local/x"); err == nil {
		t.Fatal("expected rejection of .local")
	}
}

func TestCheckURLAllowsPublicHTTPS(t *testing.T) {
	if _, err := checkURL("https://example.com/metadata.json"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

// withLoopbackAllowed lets a test point at an httptest server (always
// bound to 127.0.0.1) without disabling the rest of the block list.
func withLoopbackAllowed(t *testing.T) {
	t.Helper()
	allowLoopbackInTests = true
	t.Cleanup(func() { allowLoopbackInTests = false })
}

func TestFetchImageEnforcesContentLengthCap(t *testing.T) {
	withLoopbackAllowed(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "99999999999")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, _, err := fetchImage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected rejection of oversized Content-Length")
	}
}

func TestFetchImageRejectsEmptyBody(t *testing.T) {
	withLoopbackAllowed(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, _, err := fetchImage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected rejection of empty body")
	}
}

func TestFetchImageRejectsOversizedActualBody(t *testing.T) {
	withLoopbackAllowed(t)
	big := bytes.Repeat([]byte{0xFF}, MaxImageBytes+1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	if _, _, err := fetchImage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected rejection of oversized actual body")
	}
}

func TestFetchImageSucceeds(t *testing.T) {
	withLoopbackAllowed(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	data, contentType, err := fetchImage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetchImage: %v", err)
	}
	if len(data) != 4 || contentType != "image/png" {
		t.Fatalf("got data=%v contentType=%q", data, contentType)
	}
}

func TestFetchClientDoesNotFollowRedirects(t *testing.T) {
	withLoopbackAllowed(t)
	targetHit := false
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetHit = true
		w.Write([]byte("should not be reached"))
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	if _, err := fetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetchJSON: %v", err)
	}
	if targetHit {
		t.Fatal("expected redirect target to never be reached")
	}
}
