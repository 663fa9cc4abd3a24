// Package audit persists the trail of a transfer: one JSON line per event,
// compressed once the session reaches a terminal state. Journal writes are
// best-effort and never fail an upload.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// Event types recorded in the journal.
const (
	EventSessionCreated = "session_created"
	EventChunkUploaded  = "chunk_uploaded"
	EventChunkRetried   = "chunk_retried"
	EventPaused         = "paused"
	EventResumed        = "resumed"
	EventCancelled      = "cancelled"
	EventConsolidated   = "consolidated"
	EventFailed         = "failed"
)

// Event is one line of the audit trail.
type Event struct {
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Recorder is the journal surface the upload controller depends on.
type Recorder interface {
	Record(event Event)
	Finalize() error
}

// Journal appends events to {dir}/{sessionID}.log. Finalize rewrites the
// journal as {sessionID}.log.zst and removes the plain file.
type Journal struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	sessionID string
	logger    log.Logger
}

// Open creates (or appends to) the journal of one session.
func Open(dir string, sessionID string, logger log.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	path := filepath.Join(dir, sessionID+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Journal{
		file:      file,
		path:      path,
		sessionID: sessionID,
		logger:    logger,
	}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// Record appends one event. Errors are logged, never returned: the journal
// must not interfere with the transfer it describes.
func (j *Journal) Record(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return
	}

	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = j.sessionID
	}

	if err := json.NewEncoder(j.file).Encode(event); err != nil {
		j.logger.Warnf("record audit event: %s", err)
	}
}

// Finalize closes the journal and replaces it with a zstd-compressed copy.
func (j *Journal) Finalize() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	j.file = nil

	if err := compressFile(j.path, j.path+".zst"); err != nil {
		return fmt.Errorf("compress journal: %w", err)
	}
	if err := os.Remove(j.path); err != nil {
		return fmt.Errorf("remove plain journal: %w", err)
	}

	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	writer, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return err
	}

	if _, err := io.Copy(writer, in); err != nil {
		_ = writer.Close()
		_ = out.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
