package store

import (
	"context"
	"errors"
)

// Document keys shared by every client context.
const (
	KeyDirectory = "directory"
	KeyLedger    = "attendance"
	KeyLocks     = "locks"
)

var ErrNotFound = errors.New("store: document not found")

// Change is delivered to watchers when a document was written by another
// origin. Value holds the new raw document, which may be empty or corrupt.
type Change struct {
	Key    string
	Origin string
	Value  []byte
}

// Backend is a raw key/value medium shared between client contexts.
type Backend interface {
	// Load returns ErrNotFound when the key has never been written.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save stores value and announces the change to watchers of other origins.
	Save(ctx context.Context, key, origin string, value []byte) error
	// Watch delivers changes written by origins other than origin until ctx
	// is cancelled, at which point the channel is closed.
	Watch(ctx context.Context, origin string) (<-chan Change, error)
	Ping(ctx context.Context) error
	Close() error
}
