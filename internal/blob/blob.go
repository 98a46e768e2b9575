// Package blob provides content-addressed object storage for raw document
// artifacts. One blob per document, keyed {publisher-slug}/{sourceId}; the
// key and the content hash are stored on the Document row.
//
// Two implementations: S3 for deployment and a filesystem store for
// development, selected by configuration at boot.
package blob

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"market-intel/internal/config"

	"github.com/rs/zerolog"
)

// Store is the narrow blob capability the lifecycle engine needs.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// New constructs the configured store.
func New(cfg config.StorageConfig, log zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(cfg, log)
	case "fs":
		return NewFSStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Key builds the canonical blob key for a document.
func Key(publisher, sourceID string) string {
	return Slug(publisher) + "/" + sanitize(sourceID)
}

// Slug lower-cases a publisher name and collapses everything non-
// alphanumeric to single dashes.
func Slug(publisher string) string {
	s := slugUnsafe.ReplaceAllString(strings.ToLower(publisher), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// sanitize keeps source ids path-safe by replacing "/", "\" and ".." with
// "_". Ids that differ only in those characters map to the same key.
func sanitize(sourceID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(sourceID)
}
