package chunker

import (
	"testing"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		totalSize  int64
		chunkSize  int64
		wantChunks int
		wantSizes  []int64
	}{
		{
			name:       "12 MiB file with 5 MiB chunks",
			totalSize:  12 * units.MiB,
			chunkSize:  5 * units.MiB,
			wantChunks: 3,
			wantSizes:  []int64{5 * units.MiB, 5 * units.MiB, 2 * units.MiB},
		},
		{
			name:       "exact multiple",
			totalSize:  10 * units.MiB,
			chunkSize:  5 * units.MiB,
			wantChunks: 2,
			wantSizes:  []int64{5 * units.MiB, 5 * units.MiB},
		},
		{
			name:       "smaller than one chunk",
			totalSize:  3,
			chunkSize:  10,
			wantChunks: 1,
			wantSizes:  []int64{3},
		},
		{
			name:       "single byte remainder",
			totalSize:  11,
			chunkSize:  5,
			wantChunks: 3,
			wantSizes:  []int64{5, 5, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan{TotalSize: tt.totalSize, ChunkSize: tt.chunkSize}
			assert.Equal(t, tt.wantChunks, plan.NumChunks())

			var sum int64
			for i := 0; i < plan.NumChunks(); i++ {
				assert.Equal(t, tt.wantSizes[i], plan.SizeOf(i), "chunk %d size", i)
				assert.Equal(t, int64(i)*tt.chunkSize, plan.Offset(i), "chunk %d offset", i)
				sum += plan.SizeOf(i)
			}
			assert.Equal(t, tt.totalSize, sum, "chunk sizes must sum to the total size")
		})
	}
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, "user-1/1700000000_clip.mp4_chunk_0", ArtifactPath("user-1/1700000000_clip.mp4", 0))
	assert.Equal(t, "user-1/1700000000_clip.mp4_chunk_12", ArtifactPath("user-1/1700000000_clip.mp4", 12))
}
