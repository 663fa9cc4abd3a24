package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/bdragon300/tusgo"

	"github.com/streamvault/go-upload/storage"
	"github.com/streamvault/go-upload/upload/chunker"
	"github.com/streamvault/go-upload/upload/consolidate"
	"github.com/streamvault/go-upload/upload/session"
)

// Transport is the strategy used to move bytes to storage. The reference
// behavior picked one of three strategies per call site; here a single rule
// selects the variant for all callers.
type Transport string

// Transport variants.
const (
	// TransportDirect single-shot Put for payloads that fit in one chunk.
	TransportDirect Transport = "direct"
	// TransportChunked is the custom chunk-and-consolidate path.
	TransportChunked Transport = "chunked"
	// TransportResumable delegates resumption bookkeeping to a tus server.
	TransportResumable Transport = "resumable"
)

func (c *Controller) pickTransport(totalSize int64) Transport {
	if totalSize <= c.cfg.ChunkSize {
		return TransportDirect
	}
	if c.cfg.TusEndpoint != "" {
		return TransportResumable
	}
	return TransportChunked
}

// storageSink writes chunks to their artifact paths. Retried writes for the
// same index overwrite the same path, which is what makes retries idempotent.
type storageSink struct {
	storage  storage.ObjectStorage
	basePath string
}

func (s storageSink) PutChunk(ctx context.Context, index int, body io.Reader, size int64) error {
	return s.storage.Put(ctx, chunker.ArtifactPath(s.basePath, index), body, size, "application/octet-stream")
}

// runDirect uploads the whole file in one Put. Small enough payloads don't
// need chunk bookkeeping, and there is nothing to consolidate afterwards.
func (c *Controller) runDirect(ctx context.Context, sess *session.Session, basePath string, filePath string) (string, error) {
	if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusUploading); err != nil {
		return "", fmt.Errorf("mark session uploading: %w", err)
	}
	sess.Status = session.StatusUploading

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.logger.Warnf("close file: %s", err)
		}
	}()

	contentType := consolidate.ContentTypeFor(sess.Filename)
	if err := c.storage.Put(ctx, basePath, file, sess.TotalSize, contentType); err != nil {
		return "", fmt.Errorf("direct upload: %w", err)
	}

	if err := c.store.UpdateProgress(ctx, sess.ID, sess.TotalChunks); err != nil {
		return "", fmt.Errorf("persist progress: %w", err)
	}
	sess.UploadedChunks = sess.TotalChunks

	if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
		return "", fmt.Errorf("mark session completed: %w", err)
	}
	sess.Status = session.StatusCompleted

	return c.storage.PublicURL(basePath), nil
}

// runResumable streams the file to a tus server, which owns offset tracking
// and assembly. The session records status transitions; byte-level resume
// state lives on the server and is recovered with an offset sync.
func (c *Controller) runResumable(ctx context.Context, sess *session.Session, filePath string) (string, error) {
	baseURL, err := url.Parse(c.cfg.TusEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse tus endpoint: %w", err)
	}

	client := tusgo.NewClient(storage.NewHTTPClient(c.logger), baseURL)

	upload := tusgo.Upload{}
	c.mu.Lock()
	location := c.tusLocation
	c.mu.Unlock()

	if location == "" {
		if _, err := client.CreateUpload(&upload, sess.TotalSize, false, sess.Metadata); err != nil {
			return "", fmt.Errorf("create tus upload: %w", err)
		}
		c.mu.Lock()
		c.tusLocation = upload.Location
		c.mu.Unlock()
	} else {
		upload.Location = location
		upload.RemoteSize = sess.TotalSize
	}

	if sess.Status == session.StatusPending {
		if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusUploading); err != nil {
			return "", fmt.Errorf("mark session uploading: %w", err)
		}
		sess.Status = session.StatusUploading
	}

	stream := tusgo.NewUploadStream(client, &upload)
	if _, err := stream.Sync(); err != nil {
		return "", fmt.Errorf("sync tus offset: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.logger.Warnf("close file: %s", err)
		}
	}()

	if _, err := file.Seek(upload.RemoteOffset, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek to tus offset %d: %w", upload.RemoteOffset, err)
	}

	source := &progressReader{
		reader: file,
		ctx:    ctx,
		sent:   upload.RemoteOffset,
		total:  sess.TotalSize,
		onProgress: func(pct int) {
			c.mutateState(func(s *State) {
				s.Progress = capProgress(pct)
			})
		},
	}

	if _, err := io.Copy(stream, source); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tus transfer: %w", err)
	}

	if err := c.store.UpdateProgress(ctx, sess.ID, sess.TotalChunks); err != nil {
		return "", fmt.Errorf("persist progress: %w", err)
	}
	sess.UploadedChunks = sess.TotalChunks

	if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
		return "", fmt.Errorf("mark session completed: %w", err)
	}
	sess.Status = session.StatusCompleted

	return upload.Location, nil
}

// progressReader reports byte-based progress and honors context cancellation
// regardless of the downstream writer's own cancellation support.
type progressReader struct {
	reader     io.Reader
	ctx        context.Context
	sent       int64
	total      int64
	onProgress func(pct int)
}

func (r *progressReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.onProgress != nil {
			r.onProgress(int(r.sent * 100 / r.total))
		}
	}
	return n, err
}

func nowUnix() int64 {
	return time.Now().Unix()
}
