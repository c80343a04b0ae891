// Package objstore provides media object storage. The production
// implementation is S3 (or any S3-compatible store such as MinIO); uploads
// are keyed PutObject calls, which makes retries natural upserts.
package objstore

import "context"

// Uploader stores a binary object under a deterministic key. Uploading the
// same key twice overwrites, so callers may retry freely.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}
