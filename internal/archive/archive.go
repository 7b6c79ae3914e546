// Package archive stores raw fetched markup under content-addressed keys so an
// extraction can be replayed against exactly what was scraped.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/page-insights/internal/insights"
)

// ContentType is recorded on every archived object.
const ContentType = "text/html; charset=utf-8"

// Archiver writes page bodies to a BlobStore.
type Archiver struct {
	blobs  insights.BlobStore
	clock  insights.Clock
	prefix string
}

// New creates an Archiver. prefix defaults to "raw".
func New(blobs insights.BlobStore, clock insights.Clock, prefix string) *Archiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "raw"
	}
	return &Archiver{blobs: blobs, clock: clock, prefix: prefix}
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Key is <prefix>/<username>/<yyyy-mm-dd>/<sha256>.html.
func (a *Archiver) Key(username string, body []byte) string {
	day := a.clock.Now().UTC().Format("2006-01-02")
	return path.Join(a.prefix, username, day, Digest(body)+".html")
}

// Archive uploads body and returns the blob URI.
func (a *Archiver) Archive(ctx context.Context, username string, body []byte) (string, error) {
	key := a.Key(username, body)
	uri, err := a.blobs.PutObject(ctx, key, ContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return uri, nil
}
