package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store backed by a process-local map. It backs tests and
// single-process deployments that don't need a shared metadata service.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
	}
}

// Create ...
func (s *MemoryStore) Create(ctx context.Context, params NewSessionParams) (*Session, error) {
	if params.TotalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive, got %d", params.TotalSize)
	}
	if params.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", params.ChunkSize)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		OwnerID:        params.OwnerID,
		Filename:       params.Filename,
		TotalSize:      params.TotalSize,
		ChunkSize:      params.ChunkSize,
		TotalChunks:    int((params.TotalSize + params.ChunkSize - 1) / params.ChunkSize),
		UploadedChunks: 0,
		Status:         StatusPending,
		Metadata:       params.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess

	return copySession(sess), nil
}

// UpdateProgress ...
func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, uploadedChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update progress: unknown session %s", id)
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("update progress: session %s is %s", id, sess.Status)
	}
	if uploadedChunks < sess.UploadedChunks {
		return fmt.Errorf("update progress: uploaded chunks may not decrease (%d -> %d)", sess.UploadedChunks, uploadedChunks)
	}
	if uploadedChunks > sess.TotalChunks {
		return fmt.Errorf("update progress: %d exceeds total chunks %d", uploadedChunks, sess.TotalChunks)
	}

	sess.UploadedChunks = uploadedChunks
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus ...
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update status: unknown session %s", id)
	}
	if sess.Status.Terminal() && status != sess.Status {
		return fmt.Errorf("update status: session %s is already %s", id, sess.Status)
	}

	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns (nil, nil) when the id is unknown.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func copySession(sess *Session) *Session {
	copied := *sess
	if sess.Metadata != nil {
		copied.Metadata = make(map[string]string, len(sess.Metadata))
		for k, v := range sess.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
