// Package objstore is the durable artifact store for generated content and
// audio. Keys are slash-separated, e.g. "<topic_id>/chapter_1_part2.mp3".
package objstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Get and Delete for a missing key.
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("object already exists")
)

// Store is a flat key/value blob store with prefix listing.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Create is Put that never replaces an existing object.
	Create(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key starting with prefix, sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// validKey rejects keys that could escape the store root.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("objstore: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("objstore: invalid key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("objstore: non-canonical key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("objstore: invalid key %q", key)
		}
	}
	return nil
}
