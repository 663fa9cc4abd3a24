// Package storage defines the object storage interface consumed by the upload
// engine, plus an S3-backed implementation.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Head when the object doesn't exist at the given path.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the storage backend the engine writes chunk artifacts and
// final objects to. Paths are bucket-relative keys.
type ObjectStorage interface {
	// Put writes the object at path, overwriting any previous content.
	// Overwrite semantics make chunk retries idempotent.
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error

	// Get returns a reader for the object content. The caller must close it.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Head returns the stored object size, or ErrObjectNotFound.
	Head(ctx context.Context, path string) (int64, error)

	// Copy duplicates an object server-side without moving bytes through the client.
	Copy(ctx context.Context, srcPath, dstPath, contentType string) error

	// Delete removes the given objects. Missing paths are not an error.
	Delete(ctx context.Context, paths []string) error

	// PublicURL returns the URL the final object is served from.
	PublicURL(path string) string
}
