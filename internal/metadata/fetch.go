// Package metadata fetches NFT metadata and images from a source URI,
// normalizes it to the target chain's schema, and optionally republishes
// it to content-addressed storage.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxImageBytes bounds both the Content-Length header and the actual
// bytes read for an image download.
const MaxImageBytes = 10 << 20

var blockedCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"192.168.0.0/16",
	"172.16.0.0/12",
	"169.254.0.0/16",
	"127.0.0.0/8",
)

// fetchClient is an http.Client configured for the SSRF block list: no
// redirect following, so a server can't bounce a request toward a
// private address after the initial URL passed the check.
var fetchClient = &http.Client{
	Timeout: 15 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// allowLoopbackInTests disables the loopback check only, so the
// package's own tests can point at httptest servers (which necessarily
// bind to 127.0.0.1). It is never set outside _test.go files and every
// other check in the block list stays active regardless.
var allowLoopbackInTests bool

// checkURL rejects a URL before any socket is opened: non-HTTP(S)
// schemes, loopback/localhost, private CIDR ranges, and the .internal/
// .local TLDs.
func checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("metadata: scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("metadata: url has no host")
	}
	if strings.EqualFold(host, "localhost") && !allowLoopbackInTests {
		return nil, fmt.Errorf("metadata: localhost is blocked")
	}
	if strings.HasSuffix(strings.ToLower(host), ".internal") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return nil, fmt.Errorf("metadata: %s is a blocked TLD", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() && allowLoopbackInTests {
			return u, nil
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return nil, fmt.Errorf("metadata: %s is a private address", host)
		}
		for _, blocked := range blockedCIDRs {
			if blocked.Contains(ip) {
				return nil, fmt.Errorf("metadata: %s is within a blocked range", host)
			}
		}
	}
	return u, nil
}

// fetchJSON fetches and returns the raw body at raw, enforcing the SSRF
// block list. Used for metadata JSON documents, which are expected to
// be small.
func fetchJSON(ctx context.Context, raw string) ([]byte, error) {
	u, err := checkURL(raw)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetching %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("metadata: %s returned status %d", u, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// fetchImage downloads the image at raw, enforcing both the
// Content-Length header and the actual byte count against
// MaxImageBytes, and rejecting an empty body.
func fetchImage(ctx context.Context, raw string) (data []byte, contentType string, err error) {
	u, err := checkURL(raw)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("metadata: fetching image %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("metadata: image %s returned status %d", u, resp.StatusCode)
	}
	if resp.ContentLength > MaxImageBytes {
		return nil, "", fmt.Errorf("metadata: image exceeds %d bytes (Content-Length=%d)", MaxImageBytes, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(body) > MaxImageBytes {
		return nil, "", fmt.Errorf("metadata: image exceeds %d bytes", MaxImageBytes)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("metadata: image body is empty")
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
