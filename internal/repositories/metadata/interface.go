// Package metadata is the key/value settings table of the local database.
// Folder overrides and other persisted preferences live here.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns the value of key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	// List returns every pair whose key starts with prefix ("" = all).
	List(ctx context.Context, prefix string) (map[string]string, error)
}
