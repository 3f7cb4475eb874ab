// Package blob stores file content by content identifier.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// Object describes stored content.
type Object struct {
	CID      string
	Name     string
	MimeType string
	Size     int64
}

// Store persists file content and mints access URLs.
type Store interface {
	// Put uploads content and returns the stored object, including its
	// content identifier.
	Put(ctx context.Context, name, mimeType string, r io.Reader) (*Object, error)

	// AccessURL returns a time-limited URL for downloading the object.
	AccessURL(ctx context.Context, cid, name string, ttl time.Duration) (string, error)

	// Remove deletes the object behind a content identifier.
	Remove(ctx context.Context, cid string) error
}

// DefaultURLTTL is how long minted access URLs stay valid.
const DefaultURLTTL = 15 * time.Minute

// computeCID hashes content into its identifier, consuming the reader.
func computeCID(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
