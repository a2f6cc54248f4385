// Package blobstore defines the content-addressed uploader boundary
// used by the metadata pipeline to publish NFT metadata
// JSON and images.
package blobstore

import "context"

// Uploader publishes a blob to a content-addressed store and returns a
// URL the target chain's consumers can dereference.
type Uploader interface {
	Upload(ctx context.Context, contentType string, data []byte) (url string, err error)
}
