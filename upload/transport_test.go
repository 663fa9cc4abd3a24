package upload

import (
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"

	"github.com/streamvault/go-upload/upload/session"
)

func TestPickTransport(t *testing.T) {
	tests := []struct {
		name        string
		chunkSize   int64
		tusEndpoint string
		totalSize   int64
		want        Transport
	}{
		{
			name:      "fits in one chunk",
			chunkSize: 100,
			totalSize: 100,
			want:      TransportDirect,
		},
		{
			name:      "larger than one chunk",
			chunkSize: 100,
			totalSize: 101,
			want:      TransportChunked,
		},
		{
			name:        "tus endpoint configured",
			chunkSize:   100,
			tusEndpoint: "https://tus.example.com/files",
			totalSize:   101,
			want:        TransportResumable,
		},
		{
			name:        "tus endpoint does not apply to small payloads",
			chunkSize:   100,
			tusEndpoint: "https://tus.example.com/files",
			totalSize:   50,
			want:        TransportDirect,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := NewController(
				Config{OwnerID: "user-1", ChunkSize: tt.chunkSize, TusEndpoint: tt.tusEndpoint},
				newFakeStorage(),
				session.NewMemoryStore(),
				log.NewLogger(),
			)
			assert.Equal(t, tt.want, controller.pickTransport(tt.totalSize))
		})
	}
}
