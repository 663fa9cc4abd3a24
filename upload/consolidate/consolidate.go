// Package consolidate merges a session's uploaded chunk artifacts into the
// single final stored object and cleans up afterwards.
package consolidate

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/streamvault/go-upload/storage"
	"github.com/streamvault/go-upload/upload/chunker"
	"github.com/streamvault/go-upload/upload/session"
)

const (
	numStorageRetries = 3
	storageRetryWait  = 5 * time.Second
)

// DefaultContentType is assigned when the file extension is unknown.
const DefaultContentType = "video/mp4"

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".flv":  "video/x-flv",
	".wmv":  "video/x-ms-wmv",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
}

// ContentTypeFor maps a filename to its canonical video MIME type.
func ContentTypeFor(filename string) string {
	if contentType, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return contentType
	}
	return DefaultContentType
}

// ConsolidationError reports a failed merge. The session is marked failed and
// chunk artifacts are retained for diagnosis.
type ConsolidationError struct {
	SessionID string
	Err       error
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("consolidate session %s: %s", e.SessionID, e.Err)
}

func (e *ConsolidationError) Unwrap() error {
	return e.Err
}

// Consolidator produces the final object from the ordered chunk artifacts.
type Consolidator struct {
	storage   storage.ObjectStorage
	store     session.Store
	logger    log.Logger
	retryWait time.Duration
}

// New ...
func New(objectStorage storage.ObjectStorage, store session.Store, logger log.Logger) *Consolidator {
	return &Consolidator{
		storage:   objectStorage,
		store:     store,
		logger:    logger,
		retryWait: storageRetryWait,
	}
}

// Merge writes the final object at basePath as the exact index-ordered
// concatenation of all chunk payloads, verifies its size, deletes the chunk
// artifacts and marks the session completed. It returns the public URL.
//
// On failure the session is marked failed and chunk artifacts are left in
// place so a later cleanup or inspection pass can get at them.
func (c *Consolidator) Merge(ctx context.Context, sess *session.Session, basePath string) (string, error) {
	if sess.UploadedChunks != sess.TotalChunks {
		return "", fmt.Errorf("session %s has %d of %d chunks uploaded, refusing to merge", sess.ID, sess.UploadedChunks, sess.TotalChunks)
	}

	contentType := ContentTypeFor(sess.Filename)
	start := time.Now()

	err := c.merge(ctx, sess, basePath, contentType)
	if err == nil {
		err = c.verifySize(ctx, basePath, sess.TotalSize)
	}
	if err != nil {
		// An interrupted merge is not a failed merge: pause and cancel own
		// the session transition, and the session stays resumable.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if statusErr := c.store.UpdateStatus(context.Background(), sess.ID, session.StatusFailed); statusErr != nil {
			c.logger.Warnf("mark session failed: %s", statusErr)
		}
		sess.Status = session.StatusFailed
		return "", &ConsolidationError{SessionID: sess.ID, Err: err}
	}

	c.logger.Donef("Merged %d chunks into %s in %s", sess.TotalChunks, basePath, time.Since(start).Round(time.Millisecond))

	// The merged object is durable at this point. Artifact cleanup is
	// best-effort and must not fail the upload.
	if err := c.CleanupArtifacts(ctx, basePath, sess.TotalChunks); err != nil {
		c.logger.Warnf("cleanup chunk artifacts: %s", err)
	}

	if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
		return "", fmt.Errorf("mark session completed: %w", err)
	}
	sess.Status = session.StatusCompleted

	return c.storage.PublicURL(basePath), nil
}

func (c *Consolidator) merge(ctx context.Context, sess *session.Session, basePath string, contentType string) error {
	if sess.TotalChunks == 1 {
		// Single chunk: a server-side copy is byte-identical to concatenation
		// and avoids moving the payload through the client again.
		return retry.Times(numStorageRetries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
			if err := c.storage.Copy(ctx, chunker.ArtifactPath(basePath, 0), basePath, contentType); err != nil {
				return fmt.Errorf("copy single chunk: %w", err), false
			}
			return nil, true
		})
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(c.streamChunks(ctx, pw, basePath, sess.TotalChunks))
	}()

	if err := c.storage.Put(ctx, basePath, pr, sess.TotalSize, contentType); err != nil {
		// Unblock the streaming goroutine if Put bailed first.
		_ = pr.CloseWithError(err)
		return fmt.Errorf("write merged object: %w", err)
	}

	return nil
}

// streamChunks copies every chunk artifact, in index order, into w.
func (c *Consolidator) streamChunks(ctx context.Context, w io.Writer, basePath string, totalChunks int) error {
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := c.storage.Get(ctx, chunker.ArtifactPath(basePath, i))
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", i, err)
		}

		_, err = io.Copy(w, body)
		if closeErr := body.Close(); closeErr != nil {
			c.logger.Warnf("close chunk %d reader: %s", i, closeErr)
		}
		if err != nil {
			return fmt.Errorf("stream chunk %d: %w", i, err)
		}
	}

	return nil
}

func (c *Consolidator) verifySize(ctx context.Context, basePath string, wantSize int64) error {
	return retry.Times(numStorageRetries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		size, err := c.storage.Head(ctx, basePath)
		if err != nil {
			return fmt.Errorf("head merged object: %w", err), false
		}
		if size != wantSize {
			return fmt.Errorf("merged object is %d bytes, expected %d", size, wantSize), true
		}
		return nil, true
	})
}

// CleanupArtifacts deletes the chunk artifacts of a session. It is driven by
// the consolidator on success and by explicit cancel/cleanup passes for
// abandoned sessions.
func (c *Consolidator) CleanupArtifacts(ctx context.Context, basePath string, totalChunks int) error {
	paths := make([]string, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		paths = append(paths, chunker.ArtifactPath(basePath, i))
	}

	return retry.Times(numStorageRetries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := c.storage.Delete(ctx, paths); err != nil {
			return fmt.Errorf("delete chunk artifacts: %w", err), false
		}
		return nil, true
	})
}
