package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/rebornbridge/relayer/internal/blobstore"
)

// TargetSymbol is the fixed symbol every bridged NFT's metadata carries.
const TargetSymbol = "REBORN"

// SourceFields carries whatever fields the deposit verifier already
// read directly from the source chain (used when the source chain
// exposes metadata inline rather than behind a tokenURI).
type SourceFields struct {
	TokenURI       string
	Name           string
	Description    string
	ImageURL       string
	CollectionName string
}

// Provenance records where a bridged NFT came from.
type Provenance struct {
	SourceChain    string    `json:"sourceChain"`
	SourceChainID  uint16    `json:"sourceChainId"`
	SourceContract string    `json:"sourceContract"`
	SourceTokenID  string    `json:"sourceTokenId"`
	BridgeMethod   string    `json:"bridgeMethod"`
	DepositAddress string    `json:"depositAddress"`
	BridgedAt      time.Time `json:"bridgedAt"`
}

// Creator is one entry of the normalized creators list.
type Creator struct {
	Address string `json:"address"`
	Share   int    `json:"share"`
}

// Properties is the normalized properties block.
type Properties struct {
	Category string              `json:"category"`
	Creators []Creator           `json:"creators"`
	Files    []map[string]string `json:"files,omitempty"`
}

// Attribute is one trait entry, passed through from the source document
// unchanged.
type Attribute map[string]interface{}

// Document is the normalized metadata document, matching the target
// chain's schema exactly.
type Document struct {
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	ExternalURL string      `json:"external_url,omitempty"`
	Properties  Properties  `json:"properties"`
	Provenance  Provenance  `json:"provenance"`
}

// BuildParams is everything needed to build one Document.
type BuildParams struct {
	Source          SourceFields
	ReceiverAddress string
	Provenance      Provenance
	GatewayURLs     []string // candidate gateway URL templates to try, in order
}

// sourceDocument is the subset of an arbitrary source metadata JSON
// document this pipeline understands.
type sourceDocument struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
	ExternalURL string      `json:"external_url"`
}

// Pipeline fetches, normalizes, and optionally republishes NFT metadata.
type Pipeline struct {
	uploader blobstore.Uploader // nil disables re-upload; source URI is returned as-is

	// cache holds fetched source documents (before normalization) keyed by source tokenURI,
	// since the same collection's metadata is frequently re-fetched
	// across bridging sessions.
	cache *lru.Cache
}

// New builds a Pipeline. uploader may be nil (no upload secret
// configured): in that case BuildAndPublish returns the source URI
// directly, step 3.
func New(uploader blobstore.Uploader, cacheSize int) (*Pipeline, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata: building cache: %w", err)
	}
	return &Pipeline{uploader: uploader, cache: cache}, nil
}

// BuildAndPublish runs the full pipeline: fetch source metadata (direct
// fields or tokenURI, trying gateway URLs in order), normalize, and
// either republish to content-addressed storage or return the source
// URI, per the configured upload secret.
func (p *Pipeline) BuildAndPublish(ctx context.Context, params BuildParams) (string, error) {
	doc, err := p.buildDocument(ctx, params)
	if err != nil {
		return "", err
	}

	if p.uploader == nil {
		if params.Source.TokenURI == "" {
			return "", fmt.Errorf("metadata: no upload secret configured and source has no tokenURI to fall back to")
		}
		return params.Source.TokenURI, nil
	}

	if doc.Image != "" {
		imgData, contentType, err := fetchImage(ctx, doc.Image)
		if err != nil {
			return "", fmt.Errorf("metadata: downloading image: %w", err)
		}
		imageURL, err := p.uploader.Upload(ctx, contentType, imgData)
		if err != nil {
			return "", fmt.Errorf("metadata: uploading image: %w", err)
		}
		doc.Image = imageURL
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("metadata: encoding document: %w", err)
	}
	metadataURL, err := p.uploader.Upload(ctx, "application/json", raw)
	if err != nil {
		return "", fmt.Errorf("metadata: uploading document: %w", err)
	}
	return metadataURL, nil
}

func (p *Pipeline) buildDocument(ctx context.Context, params BuildParams) (Document, error) {
	src, err := p.fetchSource(ctx, params)
	if err != nil {
		return Document{}, err
	}

	return Document{
		Name:        firstNonEmpty(src.Name, params.Source.Name),
		Symbol:      TargetSymbol,
		Description: firstNonEmpty(src.Description, params.Source.Description),
		Image:       firstNonEmpty(src.Image, params.Source.ImageURL),
		Attributes:  src.Attributes,
		ExternalURL: src.ExternalURL,
		Properties: Properties{
			Category: "image",
			Creators: []Creator{{Address: params.ReceiverAddress, Share: 100}},
		},
		Provenance: params.Provenance,
	}, nil
}

// fetchSource resolves the source metadata document: if the verifier
// already gave us fields directly, those are authoritative and no
// network fetch happens; otherwise it follows tokenURI, trying each
// configured gateway URL in turn until one succeeds.
func (p *Pipeline) fetchSource(ctx context.Context, params BuildParams) (sourceDocument, error) {
	if params.Source.Name != "" || params.Source.ImageURL != "" {
		return sourceDocument{
			Name:        params.Source.Name,
			Description: params.Source.Description,
			Image:       params.Source.ImageURL,
		}, nil
	}

	if params.Source.TokenURI == "" {
		return sourceDocument{}, fmt.Errorf("metadata: no inline fields and no tokenURI")
	}

	if cached, ok := p.cache.Get(params.Source.TokenURI); ok {
		return cached.(sourceDocument), nil
	}

	candidates := expandGateways(params.Source.TokenURI, params.GatewayURLs)
	var lastErr error
	for _, candidate := range candidates {
		raw, err := fetchJSON(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		var doc sourceDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			lastErr = fmt.Errorf("metadata: decoding %s: %w", candidate, err)
			continue
		}
		p.cache.Add(params.Source.TokenURI, doc)
		return doc, nil
	}
	return sourceDocument{}, fmt.Errorf("metadata: all gateway candidates failed, last error: %w", lastErr)
}

// expandGateways returns uri itself if it is already http(s), or
// substitutes each configured gateway base URL for a content-addressed
// scheme's prefix (e.g. "ipfs://CID" -> "<gateway>/ipfs/CID").
func expandGateways(uri string, gateways []string) []string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return []string{uri}
	}

	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return nil
	}

	out := make([]string, 0, len(gateways))
	for _, gw := range gateways {
		out = append(out, strings.TrimRight(gw, "/")+"/"+scheme+"/"+rest)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
