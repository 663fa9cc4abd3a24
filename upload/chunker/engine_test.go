package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/go-upload/upload/session"
)

// fakeSink records chunk writes and can be programmed to fail.
type fakeSink struct {
	mu       sync.Mutex
	chunks   map[int][]byte
	puts     []int
	failures map[int]int // index -> number of attempts to fail
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		chunks:   map[int][]byte{},
		failures: map[int]int{},
	}
}

func (s *fakeSink) PutChunk(ctx context.Context, index int, body io.Reader, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.puts = append(s.puts, index)
	if s.failures[index] > 0 {
		s.failures[index]--
		return fmt.Errorf("synthetic failure for chunk %d", index)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.chunks[index] = data
	return nil
}

func newTestEngine(t *testing.T, store session.Store) *Engine {
	t.Helper()
	engine := NewEngine(store, log.NewLogger())
	engine.backoff = []time.Duration{0, 0, 0}
	return engine
}

func createSession(t *testing.T, store session.Store, totalSize, chunkSize int64) *session.Session {
	t.Helper()
	sess, err := store.Create(context.Background(), session.NewSessionParams{
		OwnerID:   "user-1",
		Filename:  "clip.mp4",
		TotalSize: totalSize,
		ChunkSize: chunkSize,
	})
	require.NoError(t, err)
	return sess
}

func chunksOf(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

func TestEngineRunUploadsAllChunksInOrder(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 11, 4)
	require.Equal(t, 3, sess.TotalChunks)

	data := []byte("hello_world")
	sink := newFakeSink()
	engine := newTestEngine(t, store)

	var progress []Progress
	err := engine.Run(context.Background(), sess, NewByteSliceChunkProvider(chunksOf(data, 4)), sink, func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, sink.puts)
	assert.Equal(t, 3, sess.UploadedChunks)
	assert.Equal(t, session.StatusUploading, sess.Status)

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.UploadedChunks)

	assert.Equal(t, int64(3), engine.Stats().FinishedCount())
	assert.GreaterOrEqual(t, engine.Stats().Average(), time.Duration(0))

	require.Len(t, progress, 3)
	last := 0
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.Percentage, last, "progress must not decrease")
		assert.Equal(t, 100, p.CurrentChunkProgress, "a counted chunk is always complete")
		last = p.Percentage
	}
	assert.Equal(t, 100, progress[2].Percentage)
}

func TestEngineRunResumesFromPersistedCount(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 50, 10)
	require.Equal(t, 5, sess.TotalChunks)

	require.NoError(t, store.UpdateStatus(context.Background(), sess.ID, session.StatusUploading))
	require.NoError(t, store.UpdateProgress(context.Background(), sess.ID, 2))
	sess.Status = session.StatusUploading
	sess.UploadedChunks = 2

	sink := newFakeSink()
	engine := newTestEngine(t, store)

	data := make([]byte, 50)
	err := engine.Run(context.Background(), sess, NewByteSliceChunkProvider(chunksOf(data, 10)), sink, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, sink.puts, "chunks below the persisted count must never be re-sent")
	assert.Equal(t, 5, sess.UploadedChunks)
}

func TestEngineRunRetriesThenSucceeds(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 30, 10)

	sink := newFakeSink()
	sink.failures[1] = 2 // chunk 1 fails twice, succeeds on the 3rd attempt

	engine := newTestEngine(t, store)
	var retries [][2]int
	engine.OnRetry = func(index, attempt int) {
		retries = append(retries, [2]int{index, attempt})
	}

	err := engine.Run(context.Background(), sess, NewByteSliceChunkProvider(chunksOf(make([]byte, 30), 10)), sink, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 1, 1, 2}, sink.puts)
	assert.Equal(t, [][2]int{{1, 1}, {1, 2}}, retries)
	assert.Equal(t, 3, sess.UploadedChunks)
	assert.NotEqual(t, session.StatusFailed, sess.Status)
}

func TestEngineRunFailsAfterRetriesExhausted(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 50, 10)

	sink := newFakeSink()
	sink.failures[3] = MaxRetries // chunk 3 never succeeds

	engine := newTestEngine(t, store)
	err := engine.Run(context.Background(), sess, NewByteSliceChunkProvider(chunksOf(make([]byte, 50), 10)), sink, nil)

	var chunkErr *ChunkUploadError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 3, chunkErr.Index)

	assert.Equal(t, []int{0, 1, 2, 3, 3, 3}, sink.puts, "no chunk after the failing index may be attempted")
	assert.Equal(t, 3, sess.UploadedChunks)
	assert.Equal(t, session.StatusFailed, sess.Status)

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, session.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.UploadedChunks, "durably counted chunks survive the failure")
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 30, 10)

	ctx, cancel := context.WithCancel(context.Background())

	sink := newFakeSink()
	engine := newTestEngine(t, store)

	cancelAfterFirst := func(p Progress) {
		if p.ChunkIndex == 0 {
			cancel()
		}
	}

	err := engine.Run(ctx, sess, NewByteSliceChunkProvider(chunksOf(make([]byte, 30), 10)), sink, cancelAfterFirst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, 1, sess.UploadedChunks)
	assert.NotEqual(t, session.StatusFailed, sess.Status, "cancellation is not a failure")
}

func TestEngineRunRejectsMismatchedProvider(t *testing.T) {
	store := session.NewMemoryStore()
	sess := createSession(t, store, 30, 10)

	engine := newTestEngine(t, store)
	err := engine.Run(context.Background(), sess, NewByteSliceChunkProvider([][]byte{{1}}), newFakeSink(), nil)
	assert.Error(t, err)
}
