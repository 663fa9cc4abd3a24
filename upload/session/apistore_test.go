package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPClient() *retryablehttp.Client {
	client := retryhttp.NewClient(log.NewLogger())
	client.RetryMax = 0
	return client
}

func TestAPIStoreCreate(t *testing.T) {
	var gotAuth, gotPath string
	var gotRequest createSessionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(Session{
			ID:          "sess-1",
			OwnerID:     gotRequest.OwnerID,
			Filename:    gotRequest.Filename,
			TotalSize:   gotRequest.TotalSize,
			ChunkSize:   gotRequest.ChunkSize,
			TotalChunks: 3,
			Status:      StatusPending,
		}))
	}))
	defer server.Close()

	store := NewAPIStore(newTestHTTPClient(), server.URL, "token-1", log.NewLogger())
	sess, err := store.Create(context.Background(), NewSessionParams{
		OwnerID:   "user-1",
		Filename:  "clip.mp4",
		TotalSize: 12,
		ChunkSize: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, "/upload-sessions", gotPath)
	assert.Equal(t, "user-1", gotRequest.OwnerID)
	assert.Equal(t, int64(12), gotRequest.TotalSize)

	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, 3, sess.TotalChunks)
	assert.Equal(t, StatusPending, sess.Status)
}

func TestAPIStoreCreateErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"file too large"}`))
	}))
	defer server.Close()

	store := NewAPIStore(newTestHTTPClient(), server.URL, "token-1", log.NewLogger())
	_, err := store.Create(context.Background(), NewSessionParams{TotalSize: 1, ChunkSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "file too large")
}

func TestAPIStoreGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := NewAPIStore(newTestHTTPClient(), server.URL, "token-1", log.NewLogger())
	sess, err := store.Get(context.Background(), "no-such-session")
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestAPIStoreGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-sessions/sess-1", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(Session{
			ID:             "sess-1",
			Status:         StatusUploading,
			TotalChunks:    5,
			UploadedChunks: 2,
		}))
	}))
	defer server.Close()

	store := NewAPIStore(newTestHTTPClient(), server.URL, "token-1", log.NewLogger())
	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, StatusUploading, sess.Status)
	assert.Equal(t, 2, sess.UploadedChunks)
}

func TestAPIStoreUpdateProgressAndStatus(t *testing.T) {
	type patchCall struct {
		path string
		body map[string]interface{}
	}
	var calls []patchCall

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, patchCall{path: r.URL.Path, body: body})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewAPIStore(newTestHTTPClient(), server.URL, "token-1", log.NewLogger())
	require.NoError(t, store.UpdateProgress(context.Background(), "sess-1", 4))
	require.NoError(t, store.UpdateStatus(context.Background(), "sess-1", StatusCompleted))

	require.Len(t, calls, 2)
	assert.Equal(t, "/upload-sessions/sess-1/progress", calls[0].path)
	assert.Equal(t, float64(4), calls[0].body["uploaded_chunks"])
	assert.Equal(t, "/upload-sessions/sess-1/status", calls[1].path)
	assert.Equal(t, "completed", calls[1].body["status"])
}
