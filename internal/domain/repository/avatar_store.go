package repository

import (
	"context"
	"io"
)

// AvatarStore persists avatar files addressed by logical keys.
type AvatarStore interface {
	// Put writes r under key. On error nothing is left under key.
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public address of key.
	URL(key string) string
}
