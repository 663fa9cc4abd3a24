// Package session holds the durable record of an upload attempt: its identity,
// chunk plan and progress. The engine drives it through the Store interface so
// the metadata backend stays swappable.
package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of an upload session.
type Status string

// Session statuses. Completed, Failed and Cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is the persisted record of one upload attempt.
// TotalChunks and ChunkSize never change after creation.
type Session struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Filename       string            `json:"filename"`
	TotalSize      int64             `json:"total_size"`
	ChunkSize      int64             `json:"chunk_size"`
	TotalChunks    int               `json:"total_chunks"`
	UploadedChunks int               `json:"uploaded_chunks"`
	Status         Status            `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewSessionParams ...
type NewSessionParams struct {
	OwnerID   string
	Filename  string
	TotalSize int64
	ChunkSize int64
	Metadata  map[string]string
}

// Store is the metadata backend for upload sessions.
//
// Get returns (nil, nil) for an unknown id: a missing session is a soft
// failure and every caller must nil-check the result.
type Store interface {
	Create(ctx context.Context, params NewSessionParams) (*Session, error)
	UpdateProgress(ctx context.Context, id string, uploadedChunks int) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Get(ctx context.Context, id string) (*Session, error)
}
