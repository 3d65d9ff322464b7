package space

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Index is a per-page key/value attribute index. Each page owns one
// JSON document; keys are gjson paths into that document. Plugs use it
// through the index.* syscalls to persist derived data (tags, links,
// item lists) between events.
type Index struct {
	mu   sync.RWMutex
	docs map[string]string // page name -> JSON document
}

// IndexEntry is one key/value pair returned by prefix queries.
type IndexEntry struct {
	Page  string `json:"page"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{docs: make(map[string]string)}
}

// Set stores a value under (page, key). The value must be
// JSON-serializable.
func (ix *Index) Set(page, key string, value any) error {
	if page == "" || key == "" {
		return fmt.Errorf("index: page and key are required")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	doc := ix.docs[page]
	if doc == "" {
		doc = "{}"
	}
	updated, err := sjson.Set(doc, escapePath(key), value)
	if err != nil {
		return fmt.Errorf("index: set %s/%s: %w", page, key, err)
	}
	ix.docs[page] = updated
	return nil
}

// Get returns the value stored under (page, key).
func (ix *Index) Get(page, key string) (any, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	doc, ok := ix.docs[page]
	if !ok {
		return nil, false
	}
	res := gjson.Get(doc, escapePath(key))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Delete removes the value stored under (page, key).
func (ix *Index) Delete(page, key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	doc, ok := ix.docs[page]
	if !ok {
		return nil
	}
	updated, err := sjson.Delete(doc, escapePath(key))
	if err != nil {
		return fmt.Errorf("index: delete %s/%s: %w", page, key, err)
	}
	ix.docs[page] = updated
	return nil
}

// ClearPage drops every entry for the page. Called when a page is
// deleted or about to be re-indexed.
func (ix *Index) ClearPage(page string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, page)
}

// QueryPrefix returns all entries whose key starts with prefix, across
// all pages, ordered by page then key.
func (ix *Index) QueryPrefix(prefix string) []IndexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var entries []IndexEntry
	for page, doc := range ix.docs {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			continue
		}
		for k := range m {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			res := gjson.Get(doc, escapePath(k))
			entries = append(entries, IndexEntry{Page: page, Key: k, Value: res.Value()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Page != entries[j].Page {
			return entries[i].Page < entries[j].Page
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// escapePath escapes gjson path metacharacters so that index keys are
// treated as flat document keys. Backslash goes first, so a key that
// already contains an escape sequence cannot alias the key it escapes.
func escapePath(key string) string {
	r := strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}
