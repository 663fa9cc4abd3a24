package chunker

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/streamvault/go-upload/upload/session"
)

// MaxRetries is the attempt budget for a single chunk.
const MaxRetries = 3

// backoffSchedule holds the delay before each attempt.
var backoffSchedule = []time.Duration{0, time.Second, 2 * time.Second}

// ChunkUploadError is returned after all retries for one chunk are exhausted.
type ChunkUploadError struct {
	Index int
	Err   error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %s", e.Index, MaxRetries, e.Err)
}

func (e *ChunkUploadError) Unwrap() error {
	return e.Err
}

// ChunkSink receives one chunk of data. Implementations write the chunk to
// object storage at its artifact path. Writes must be idempotent per index.
type ChunkSink interface {
	PutChunk(ctx context.Context, index int, body io.Reader, size int64) error
}

// Progress is the per-chunk progress report emitted after each durably
// counted chunk. Percentage is byte-based.
type Progress struct {
	SessionID     string
	ChunkIndex    int
	TotalChunks   int
	UploadedBytes int64
	TotalBytes    int64
	Percentage    int
	// CurrentChunkProgress is the completion of the chunk just reported.
	// Chunks are atomic, so it is always 100 at emit time.
	CurrentChunkProgress int
}

// Engine uploads a session's chunks sequentially, starting from the
// session's persisted uploaded-chunk count. Chunks are atomic: a chunk is
// either fully counted as uploaded or not counted at all.
type Engine struct {
	store   session.Store
	logger  log.Logger
	stats   *Stats
	backoff []time.Duration

	// OnRetry, when set, is invoked after every failed attempt that will be
	// retried. Must be set before Run.
	OnRetry func(index int, attempt int)
}

// NewEngine ...
func NewEngine(store session.Store, logger log.Logger) *Engine {
	return &Engine{
		store:   store,
		logger:  logger,
		stats:   NewStats(),
		backoff: backoffSchedule,
	}
}

// Stats returns the transfer statistics collected so far.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Run drives the sequential chunk loop. sess is mutated in place as progress
// is persisted. onProgress may be nil.
//
// A context cancellation (pause or cancel by the caller) returns ctx.Err()
// without changing the session status. Retry exhaustion on one chunk marks
// the session failed and stops the loop; later chunks are never attempted.
func (e *Engine) Run(ctx context.Context, sess *session.Session, provider ChunkProvider, sink ChunkSink, onProgress func(Progress)) error {
	if provider.NumChunks() != sess.TotalChunks {
		return fmt.Errorf("chunk count mismatch: provider has %d chunks, session expects %d", provider.NumChunks(), sess.TotalChunks)
	}

	if sess.Status == session.StatusPending {
		if err := e.store.UpdateStatus(ctx, sess.ID, session.StatusUploading); err != nil {
			return fmt.Errorf("mark session uploading: %w", err)
		}
		sess.Status = session.StatusUploading
	}

	for i := sess.UploadedChunks; i < sess.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.uploadChunkWithRetry(ctx, sess, provider, sink, i); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			e.logger.Errorf("Chunk %d/%d failed permanently: %s", i+1, sess.TotalChunks, err)
			if statusErr := e.store.UpdateStatus(context.Background(), sess.ID, session.StatusFailed); statusErr != nil {
				e.logger.Warnf("mark session failed: %s", statusErr)
			}
			sess.Status = session.StatusFailed
			return &ChunkUploadError{Index: i, Err: err}
		}

		if err := e.store.UpdateProgress(ctx, sess.ID, i+1); err != nil {
			return fmt.Errorf("persist progress for chunk %d: %w", i, err)
		}
		sess.UploadedChunks = i + 1

		if onProgress != nil {
			onProgress(e.progressFor(sess, i))
		}
	}

	return nil
}

func (e *Engine) uploadChunkWithRetry(ctx context.Context, sess *session.Session, provider ChunkProvider, sink ChunkSink, index int) error {
	var uploadErr error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		if err := sleepBackoff(ctx, e.backoff[attempt]); err != nil {
			return err
		}

		e.logger.Debugf("Uploading chunk %d/%d (attempt %d/%d) [avg=%v]",
			index+1, sess.TotalChunks, attempt+1, MaxRetries, e.stats.Average().Round(time.Millisecond))

		start := time.Now()
		uploadErr = e.uploadChunk(ctx, provider, sink, index)
		if uploadErr == nil {
			e.stats.Update(time.Since(start))
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warnf("Chunk %d attempt %d failed: %s", index+1, attempt+1, uploadErr)
		if e.OnRetry != nil && attempt+1 < MaxRetries {
			e.OnRetry(index, attempt+1)
		}
	}

	return uploadErr
}

func (e *Engine) uploadChunk(ctx context.Context, provider ChunkProvider, sink ChunkSink, index int) error {
	body, err := provider.GetChunk(index)
	if err != nil {
		return fmt.Errorf("get chunk %d: %w", index, err)
	}

	if err := sink.PutChunk(ctx, index, body, provider.ChunkSize(index)); err != nil {
		return fmt.Errorf("put chunk %d: %w", index, err)
	}

	return nil
}

func (e *Engine) progressFor(sess *session.Session, index int) Progress {
	uploadedBytes := int64(sess.UploadedChunks) * sess.ChunkSize
	if uploadedBytes > sess.TotalSize {
		uploadedBytes = sess.TotalSize
	}

	pct := int(math.Round(float64(sess.UploadedChunks) * float64(sess.ChunkSize) / float64(sess.TotalSize) * 100))
	if pct > 100 {
		pct = 100
	}

	return Progress{
		SessionID:            sess.ID,
		ChunkIndex:           index,
		TotalChunks:          sess.TotalChunks,
		UploadedBytes:        uploadedBytes,
		TotalBytes:           sess.TotalSize,
		Percentage:           pct,
		CurrentChunkProgress: 100,
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
