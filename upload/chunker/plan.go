// Package chunker splits a source file into ordered chunks and drives their
// sequential upload, with bounded per-chunk retry. Resume correctness comes
// from starting the loop at the session's persisted uploaded-chunk count.
package chunker

import "fmt"

// Plan is the chunk layout of one file: fixed-size chunks with the final
// chunk holding the remainder.
type Plan struct {
	TotalSize int64
	ChunkSize int64
}

// NumChunks returns ceil(TotalSize / ChunkSize).
func (p Plan) NumChunks() int {
	return int((p.TotalSize + p.ChunkSize - 1) / p.ChunkSize)
}

// SizeOf returns the byte length of the chunk at the given index.
func (p Plan) SizeOf(index int) int64 {
	if index == p.NumChunks()-1 {
		return p.TotalSize - int64(index)*p.ChunkSize
	}
	return p.ChunkSize
}

// Offset returns the byte offset the chunk starts at.
func (p Plan) Offset(index int) int64 {
	return int64(index) * p.ChunkSize
}

// ArtifactPath returns the storage path of one chunk artifact.
func ArtifactPath(basePath string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", basePath, index)
}
