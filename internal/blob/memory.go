package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore is an in-memory blob store used in tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores content keyed by its hash.
func (s *MemoryStore) Put(_ context.Context, name, mimeType string, r io.Reader) (*Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	cid, size, err := computeCID(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.objects[cid] = data
	s.mu.Unlock()

	return &Object{CID: cid, Name: name, MimeType: mimeType, Size: size}, nil
}

// AccessURL returns a fake URL for the object.
func (s *MemoryStore) AccessURL(_ context.Context, cid, name string, _ time.Duration) (string, error) {
	s.mu.Lock()
	_, ok := s.objects[cid]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("object not found: %s", cid)
	}
	return "memory://" + cid + "/" + name, nil
}

// Remove deletes the object.
func (s *MemoryStore) Remove(_ context.Context, cid string) error {
	s.mu.Lock()
	delete(s.objects, cid)
	s.mu.Unlock()
	return nil
}

// Has reports whether the store holds an object for the CID. Test helper.
func (s *MemoryStore) Has(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[cid]
	return ok
}
