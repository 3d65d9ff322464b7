// Package space provides page storage and attribute indexing for the
// plug runtime. The runtime itself persists nothing; Store is the
// interface the space.* syscalls consume, and MemoryStore is the
// reference implementation used by tests and the development CLI.
package space

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrPageNotFound is returned when a page does not exist.
var ErrPageNotFound = errors.New("page not found")

// Meta describes a stored page.
type Meta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified int64  `json:"lastModified"` // Unix millis
	Perm     string `json:"perm"`         // "rw" or "ro"
}

// Store is the page storage interface consumed by the space syscalls.
type Store interface {
	// ReadPage returns the page text and metadata.
	ReadPage(name string) (string, Meta, error)

	// WritePage creates or replaces a page.
	WritePage(name, text string) (Meta, error)

	// DeletePage removes a page.
	DeletePage(name string) error

	// GetPageMeta returns metadata without reading the text.
	GetPageMeta(name string) (Meta, error)

	// ListPages returns metadata for all pages, sorted by name.
	ListPages() ([]Meta, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]memPage
}

type memPage struct {
	text     string
	modified time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: make(map[string]memPage)}
}

// ReadPage returns the page text and metadata.
func (s *MemoryStore) ReadPage(name string) (string, Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[name]
	if !ok {
		return "", Meta{}, fmt.Errorf("%w: %s", ErrPageNotFound, name)
	}
	return p.text, s.metaLocked(name, p), nil
}

// WritePage creates or replaces a page.
func (s *MemoryStore) WritePage(name, text string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := memPage{text: text, modified: time.Now()}
	s.pages[name] = p
	return s.metaLocked(name, p), nil
}

// DeletePage removes a page.
func (s *MemoryStore) DeletePage(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, name)
	}
	delete(s.pages, name)
	return nil
}

// GetPageMeta returns metadata without the text.
func (s *MemoryStore) GetPageMeta(name string) (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[name]
	if !ok {
		return Meta{}, fmt.Errorf("%w: %s", ErrPageNotFound, name)
	}
	return s.metaLocked(name, p), nil
}

// ListPages returns metadata for all pages, sorted by name.
func (s *MemoryStore) ListPages() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]Meta, 0, len(s.pages))
	for name, p := range s.pages {
		metas = append(metas, s.metaLocked(name, p))
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// metaLocked builds a Meta. Caller must hold at least the read lock.
func (s *MemoryStore) metaLocked(name string, p memPage) Meta {
	return Meta{
		Name:     name,
		Size:     int64(len(p.text)),
		Modified: p.modified.UnixMilli(),
		Perm:     "rw",
	}
}
