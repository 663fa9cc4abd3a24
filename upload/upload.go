// Package upload implements the client-facing upload controller: a state
// machine over validation, session tracking, chunked transfer and
// consolidation, exposing start/pause/resume/cancel and one observable state.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/streamvault/go-upload/audit"
	"github.com/streamvault/go-upload/storage"
	"github.com/streamvault/go-upload/upload/chunker"
	"github.com/streamvault/go-upload/upload/consolidate"
	"github.com/streamvault/go-upload/upload/session"
	"github.com/streamvault/go-upload/upload/validation"
)

// DefaultChunkSize is used when the config doesn't set one.
const DefaultChunkSize = 5 * units.MiB

// Config ...
type Config struct {
	// OwnerID is the uploading principal; it prefixes every storage path.
	OwnerID string
	// ChunkSize is fixed per session at creation time.
	ChunkSize int64
	// AuditDir enables the persisted audit trail when non-empty.
	AuditDir string
	// TusEndpoint switches large transfers to the resumable protocol
	// transport when non-empty.
	TusEndpoint string
}

// Controller owns a single active transfer at a time. Multiple independent
// sessions need one Controller each; sessions never share a path namespace,
// so controllers don't coordinate.
type Controller struct {
	cfg          Config
	storage      storage.ObjectStorage
	store        session.Store
	engine       *chunker.Engine
	consolidator *consolidate.Consolidator
	logger       log.Logger

	mu          sync.Mutex
	state       State
	subscribers []func(State)
	sess        *session.Session
	basePath    string
	filePath    string
	journal     audit.Recorder
	cancelRun   context.CancelFunc
	cancelled   bool
	tusLocation string
}

// NewController ...
func NewController(cfg Config, objectStorage storage.ObjectStorage, store session.Store, logger log.Logger) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Controller{
		cfg:          cfg,
		storage:      objectStorage,
		store:        store,
		engine:       chunker.NewEngine(store, logger),
		consolidator: consolidate.New(objectStorage, store, logger),
		logger:       logger,
	}
}

// Start validates the file, creates a session and drives the transfer to the
// final URL. It blocks until the transfer completes, fails, or is paused or
// cancelled from another goroutine; a paused or cancelled transfer returns
// an empty URL and no error.
func (c *Controller) Start(ctx context.Context, filePath string, metadata map[string]string) (string, error) {
	c.mu.Lock()
	if c.state.IsUploading {
		c.mu.Unlock()
		return "", fmt.Errorf("another transfer is already in progress")
	}
	c.mu.Unlock()

	info, err := fileInfoFor(filePath)
	if err != nil {
		return "", err
	}

	if err := validation.Validate(info, validation.KindVideo); err != nil {
		c.mutateState(func(s *State) {
			*s = State{Err: err, CurrentFile: filepath.Base(filePath)}
		})
		return "", err
	}

	sess, err := c.store.Create(ctx, session.NewSessionParams{
		OwnerID:   c.cfg.OwnerID,
		Filename:  filepath.Base(filePath),
		TotalSize: info.Size,
		ChunkSize: c.cfg.ChunkSize,
		Metadata:  metadata,
	})
	if err != nil {
		return "", fmt.Errorf("create upload session: %w", err)
	}

	basePath := fmt.Sprintf("%s/%d_%s", c.cfg.OwnerID, sess.CreatedAt.Unix(), filepath.Base(filePath))

	c.mu.Lock()
	c.sess = sess
	c.basePath = basePath
	c.filePath = filePath
	c.cancelled = false
	c.tusLocation = ""
	c.journal = c.openJournal(sess.ID)
	c.mu.Unlock()

	c.record(audit.Event{Type: audit.EventSessionCreated, Message: fmt.Sprintf("%s (%s)", sess.Filename, units.HumanSize(float64(sess.TotalSize)))})
	c.mutateState(func(s *State) {
		*s = State{IsUploading: true, CurrentFile: sess.Filename, Session: sess}
	})

	c.logger.Infof("Uploading %s (%s, %d chunks)", sess.Filename, units.HumanSize(float64(sess.TotalSize)), sess.TotalChunks)

	return c.run(ctx)
}

// Pause aborts the in-flight chunk transfer. Durably counted progress is
// kept; Resume continues from it. Pausing is not an error state.
func (c *Controller) Pause() {
	c.mu.Lock()
	if !c.state.IsUploading || c.cancelRun == nil {
		c.mu.Unlock()
		return
	}
	cancel := c.cancelRun
	c.mu.Unlock()

	cancel()

	c.record(audit.Event{Type: audit.EventPaused})
	c.mutateState(func(s *State) {
		s.IsUploading = false
		s.IsPaused = true
		s.CanResume = true
	})
	c.logger.Infof("Upload paused")
}

// Resume re-enters the transfer of a paused session. The chunk loop
// naturally continues from the session's persisted uploaded-chunk count, so
// chunk indices already counted are never re-sent.
func (c *Controller) Resume(ctx context.Context) (string, error) {
	c.mu.Lock()
	if !c.state.CanResume || c.sess == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("no resumable transfer")
	}
	sessID := c.sess.ID
	c.mu.Unlock()

	sess, err := c.store.Get(ctx, sessID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return "", fmt.Errorf("session %s no longer exists", sessID)
	}
	if sess.Status.Terminal() {
		return "", fmt.Errorf("session %s is %s and can't be resumed", sessID, sess.Status)
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	c.record(audit.Event{Type: audit.EventResumed, ChunkIndex: sess.UploadedChunks})
	c.mutateState(func(s *State) {
		s.IsUploading = true
		s.IsPaused = false
		s.CanResume = false
		s.Session = sess
	})
	c.logger.Infof("Resuming upload of %s from chunk %d/%d", sess.Filename, sess.UploadedChunks, sess.TotalChunks)

	return c.run(ctx)
}

// Cancel aborts any in-flight transfer, marks the session cancelled and
// best-effort deletes the chunk artifacts written so far.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	c.cancelled = true
	cancel := c.cancelRun
	sess := c.sess
	basePath := c.basePath
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess == nil {
		return nil
	}

	if err := c.store.UpdateStatus(ctx, sess.ID, session.StatusCancelled); err != nil {
		return fmt.Errorf("mark session cancelled: %w", err)
	}
	sess.Status = session.StatusCancelled

	// The chunk in flight at cancel time may have landed; include it.
	written := sess.UploadedChunks + 1
	if written > sess.TotalChunks {
		written = sess.TotalChunks
	}
	if err := c.consolidator.CleanupArtifacts(ctx, basePath, written); err != nil {
		c.logger.Warnf("cleanup after cancel: %s", err)
	}

	c.record(audit.Event{Type: audit.EventCancelled})
	c.finalizeJournal()
	c.mutateState(func(s *State) {
		s.IsUploading = false
		s.IsPaused = false
		s.CanResume = false
		s.Session = sess
	})
	c.logger.Infof("Upload cancelled")

	return nil
}

// Reset clears the observable state back to idle. It never mutates a session
// that already reached a terminal state.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state.IsUploading {
		c.mu.Unlock()
		c.logger.Warnf("Reset ignored: a transfer is in progress")
		return
	}
	c.sess = nil
	c.basePath = ""
	c.filePath = ""
	c.journal = nil
	c.tusLocation = ""
	c.mu.Unlock()

	c.mutateState(func(s *State) {
		*s = State{}
	})
}

// UploadThumbnail is the single-shot image path: validated, not chunked, no
// session involved.
func (c *Controller) UploadThumbnail(ctx context.Context, filePath string) (string, error) {
	info, err := fileInfoFor(filePath)
	if err != nil {
		return "", err
	}

	if err := validation.Validate(info, validation.KindImage); err != nil {
		return "", err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open thumbnail: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.logger.Warnf("close thumbnail file: %s", err)
		}
	}()

	path := fmt.Sprintf("%s/thumbnails/%d_%s", c.cfg.OwnerID, nowUnix(), filepath.Base(filePath))
	if err := c.storage.Put(ctx, path, file, info.Size, info.MIMEType); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}

	return c.storage.PublicURL(path), nil
}

// run drives one attempt of the transfer through the selected transport and,
// for the chunked transport, consolidation.
func (c *Controller) run(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancelRun = cancel
	sess := c.sess
	basePath := c.basePath
	filePath := c.filePath
	c.mu.Unlock()

	var url string
	var err error
	switch c.pickTransport(sess.TotalSize) {
	case TransportDirect:
		url, err = c.runDirect(runCtx, sess, basePath, filePath)
	case TransportResumable:
		url, err = c.runResumable(runCtx, sess, filePath)
	default:
		url, err = c.runChunked(runCtx, sess, basePath, filePath)
	}

	c.mu.Lock()
	c.cancelRun = nil
	wasCancelled := c.cancelled
	c.mu.Unlock()

	if err == nil {
		c.record(audit.Event{Type: audit.EventConsolidated, Progress: 100})
		c.finalizeJournal()
		c.mutateState(func(s *State) {
			s.IsUploading = false
			s.Progress = 100
			s.Session = sess
		})
		c.logger.Donef("Upload of %s complete: %s", sess.Filename, url)
		return url, nil
	}

	if errors.Is(err, context.Canceled) {
		// Pause and Cancel set the observable state themselves; the
		// interrupted run has nothing more to report.
		if !wasCancelled {
			c.logger.Debugf("transfer interrupted by pause")
		}
		return "", nil
	}

	c.record(audit.Event{Type: audit.EventFailed, Message: err.Error()})
	c.finalizeJournal()
	c.mutateState(func(s *State) {
		s.IsUploading = false
		s.Err = err
		s.Session = sess
	})
	return "", err
}

func (c *Controller) runChunked(ctx context.Context, sess *session.Session, basePath string, filePath string) (string, error) {
	provider, err := chunker.NewFileChunkProvider(filePath, chunker.Plan{TotalSize: sess.TotalSize, ChunkSize: sess.ChunkSize})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			c.logger.Warnf("close chunk provider: %s", err)
		}
	}()

	sink := storageSink{storage: c.storage, basePath: basePath}
	c.engine.OnRetry = func(index int, attempt int) {
		c.record(audit.Event{Type: audit.EventChunkRetried, ChunkIndex: index, Message: fmt.Sprintf("attempt %d failed", attempt)})
	}
	err = c.engine.Run(ctx, sess, provider, sink, func(p chunker.Progress) {
		c.record(audit.Event{Type: audit.EventChunkUploaded, ChunkIndex: p.ChunkIndex, Progress: p.Percentage})
		c.mutateState(func(s *State) {
			// 100 is reserved for a successful consolidation.
			s.Progress = capProgress(p.Percentage)
			s.Session = sess
		})
	})
	if err != nil {
		return "", err
	}

	stats := c.engine.Stats()
	c.logger.Infof("Transferred %d chunks (avg %s per chunk), consolidating...",
		stats.FinishedCount(), stats.Average().Round(time.Millisecond))

	return c.consolidator.Merge(ctx, sess, basePath)
}

func (c *Controller) openJournal(sessionID string) audit.Recorder {
	if c.cfg.AuditDir == "" {
		return nil
	}
	journal, err := audit.Open(c.cfg.AuditDir, sessionID, c.logger)
	if err != nil {
		c.logger.Warnf("open audit journal: %s", err)
		return nil
	}
	return journal
}

func (c *Controller) record(event audit.Event) {
	c.mu.Lock()
	journal := c.journal
	c.mu.Unlock()

	if journal != nil {
		journal.Record(event)
	}
}

func (c *Controller) finalizeJournal() {
	c.mu.Lock()
	journal := c.journal
	c.mu.Unlock()

	if journal != nil {
		if err := journal.Finalize(); err != nil {
			c.logger.Warnf("finalize audit journal: %s", err)
		}
	}
}

func capProgress(pct int) int {
	if pct > 99 {
		return 99
	}
	return pct
}

func fileInfoFor(filePath string) (validation.FileInfo, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return validation.FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	mime, err := validation.Sniff(filePath)
	if err != nil {
		mime = ""
	}

	return validation.FileInfo{
		Name:     filepath.Base(filePath),
		Size:     stat.Size(),
		MIMEType: mime,
	}, nil
}
