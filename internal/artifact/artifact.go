// Package artifact stats and stores dated batch artifacts in S3 or on the local filesystem.
package artifact

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrNoCredentials = errors.New("artifact store credentials missing")
	ErrAccessDenied  = errors.New("artifact access denied")
	ErrUnavailable   = errors.New("artifact store unavailable")
)

// Info describes an observed artifact.
type Info struct {
	Location string
	Size     int64
}

// Store is a key-addressable artifact backend with head/get/put semantics.
type Store interface {
	// Stat reports existence and size of key.
	Stat(ctx context.Context, key string) (Info, error)
	// ReadPrefix returns at most n leading bytes of key.
	ReadPrefix(ctx context.Context, key string, n int64) ([]byte, error)
	// Put writes body under key and returns its location.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Location renders key as a URI or path without touching the backend.
	Location(key string) string
}
