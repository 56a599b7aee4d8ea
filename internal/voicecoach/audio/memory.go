package audio

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. Used for local mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MemoryStore{bucket: bucket, objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) error {
	if path == "" {
		return fmt.Errorf("upload: empty path")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memoryObject{data: cp, contentType: contentType}
	return nil
}

func (m *MemoryStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("download %q: %w", path, ErrObjectNotFound)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *MemoryStore) Sign(_ context.Context, path string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("sign %q: %w", path, ErrObjectNotFound)
	}
	return fmt.Sprintf("memory://%s/%s", m.bucket, (&url.URL{Path: path}).EscapedPath()), nil
}

func (m *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok, nil
}

// ContentType reports the stored MIME type of path.
func (m *MemoryStore) ContentType(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[path].contentType
}

// Len is the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
