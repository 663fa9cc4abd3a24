package upload

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/streamvault/go-upload/storage"
)

// fakeStorage is an in-memory ObjectStorage with hooks for failure injection
// and put gating.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string

	// putHook runs before a put is recorded. Returning an error fails the put.
	putHook func(ctx context.Context, path string) error
	// putErrFor fails puts for specific paths.
	putErrFor map[string]error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects:   map[string][]byte{},
		putErrFor: map[string]error{},
	}
}

func (s *fakeStorage) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if s.putHook != nil {
		if err := s.putHook(ctx, path); err != nil {
			return err
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, path)
	if err := s.putErrFor[path]; err != nil {
		return err
	}
	s.objects[path] = data
	return nil
}

func (s *fakeStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) Head(ctx context.Context, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	return int64(len(data)), nil
}

func (s *fakeStorage) Copy(ctx context.Context, srcPath, dstPath, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[srcPath]
	if !ok {
		return storage.ErrObjectNotFound
	}
	s.objects[dstPath] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStorage) Delete(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range paths {
		delete(s.objects, path)
	}
	return nil
}

func (s *fakeStorage) PublicURL(path string) string {
	return "https://cdn.test/" + path
}

func (s *fakeStorage) object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

func (s *fakeStorage) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeStorage) putCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.puts {
		if p == path {
			count++
		}
	}
	return count
}
