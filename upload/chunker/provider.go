package chunker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// ChunkProvider provides chunk data for upload.
// For retries, GetChunk may be called multiple times for the same index.
type ChunkProvider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// GetChunk returns a reader for the chunk at the given index.
	GetChunk(index int) (io.Reader, error)
}

// FileChunkProvider reads chunks from a file on disk according to a Plan.
// Safe for use across retries; each GetChunk reads the chunk into memory.
type FileChunkProvider struct {
	file *os.File
	plan Plan
	mu   sync.Mutex
}

// NewFileChunkProvider opens path and serves its chunks per plan.
func NewFileChunkProvider(path string, plan Plan) (*FileChunkProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FileChunkProvider{
		file: file,
		plan: plan,
	}, nil
}

// NumChunks ...
func (p *FileChunkProvider) NumChunks() int {
	return p.plan.NumChunks()
}

// ChunkSize ...
func (p *FileChunkProvider) ChunkSize(index int) int64 {
	return p.plan.SizeOf(index)
}

// GetChunk ...
func (p *FileChunkProvider) GetChunk(index int) (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= p.plan.NumChunks() {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.plan.NumChunks())
	}

	if _, err := p.file.Seek(p.plan.Offset(index), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d for chunk %d: %w", p.plan.Offset(index), index, err)
	}

	chunk := make([]byte, p.plan.SizeOf(index))
	n, err := io.ReadFull(p.file, chunk)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	if int64(n) != p.plan.SizeOf(index) {
		return nil, fmt.Errorf("short read for chunk %d: expected %d bytes, got %d", index, p.plan.SizeOf(index), n)
	}

	return bytes.NewReader(chunk), nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ByteSliceChunkProvider provides chunks from pre-loaded byte slices.
type ByteSliceChunkProvider struct {
	chunks [][]byte
}

// NewByteSliceChunkProvider ...
func NewByteSliceChunkProvider(chunks [][]byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{chunks: chunks}
}

// NumChunks ...
func (p *ByteSliceChunkProvider) NumChunks() int {
	return len(p.chunks)
}

// ChunkSize ...
func (p *ByteSliceChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.chunks) {
		return 0
	}
	return int64(len(p.chunks[index]))
}

// GetChunk ...
func (p *ByteSliceChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.chunks) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.chunks))
	}
	return bytes.NewReader(p.chunks[index]), nil
}
