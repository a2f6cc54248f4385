package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rebornbridge/relayer/internal/blobstore"
)

type fakeUploader struct {
	calls []string // content types, in call order
}

func (f *fakeUploader) Upload(ctx context.Context, contentType string, data []byte) (string, error) {
	f.calls = append(f.calls, contentType)
	return "https://storage.example/" + contentType, nil
}

func TestBuildAndPublishUsesInlineFieldsWithoutFetching(t *testing.T) {
	p, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	url, err := p.BuildAndPublish(context.Background(), BuildParams{
		Source: SourceFields{
			Name:     "Direct NFT",
			ImageURL: "https://img.example/1.png",
			TokenURI: "https://source.example/meta.json",
		},
		ReceiverAddress: "receiver1",
		Provenance:      Provenance{SourceChain: "sui"},
	})
	if err != nil {
		t.Fatalf("BuildAndPublish: %v", err)
	}
	if url != "https://source.example/meta.json" {
		t.Fatalf("expected source tokenURI passthrough, got %q", url)
	}
}

func TestBuildAndPublishFetchesTokenURIAndUploads(t *testing.T) {
	withLoopbackAllowed(t)
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{1, 2, 3, 4})
	}))
	defer imgSrv.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":        "Fetched NFT",
			"description": "a fetched nft",
			"image":       imgSrv.URL,
		})
	}))
	defer srv.Close()

	uploader := &fakeUploader{}
	p, err := New(uploader, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	url, err := p.BuildAndPublish(context.Background(), BuildParams{
		Source:          SourceFields{TokenURI: srv.URL},
		ReceiverAddress: "receiver1",
		Provenance:      Provenance{SourceChain: "ethereum-sepolia"},
	})
	if err != nil {
		t.Fatalf("BuildAndPublish: %v", err)
	}
	if url == "" {
		t.Fatal("expected a non-empty published URL")
	}
	if len(uploader.calls) != 2 {
		t.Fatalf("expected image+document upload, got %d calls: %v", len(uploader.calls), uploader.calls)
	}
}

func TestBuildAndPublishCachesBySourceTokenURI(t *testing.T) {
	withLoopbackAllowed(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]interface{}{"name": "Cached NFT"})
	}))
	defer srv.Close()

	p, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.fetchSource(context.Background(), BuildParams{Source: SourceFields{TokenURI: srv.URL}}); err != nil {
			t.Fatalf("fetchSource: %v", err)
		}
	}
	if hits != 1 {
		t.Fatalf("expected a single fetch due to caching, got %d", hits)
	}
}

func TestExpandGatewaysPassesThroughHTTPURI(t *testing.T) {
	got := expandGateways("https://already.example/x", []string{"https://gw1.example"})
	if len(got) != 1 || got[0] != "https://already.example/x" {
		t.Fatalf("got %v", got)
	}
}

func TestExpandGatewaysSubstitutesContentAddressedScheme(t *testing.T) {
	got := expandGateways("ipfs://Qm123", []string{"https://gw1.example", "https://gw2.example/"})
	want := []string{"https://gw1.example/ipfs/Qm123", "https://gw2.example/ipfs/Qm123"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBuildAndPublishErrorsWithoutUploaderOrTokenURI(t *testing.T) {
	p, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.BuildAndPublish(context.Background(), BuildParams{
		Source:          SourceFields{Name: "No Image No URI"},
		ReceiverAddress: "receiver1",
	})
	if err == nil {
		t.Fatal("expected error when no uploader configured and no tokenURI to fall back to")
	}
}

var _ blobstore.Uploader = (*fakeUploader)(nil)
