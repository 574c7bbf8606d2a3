package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by updates that address a record that does not exist.
var ErrNotFound = errors.New("record not found")

// DocumentStore is a keyed store of JSON objects grouped into collections.
// Values round-trip through JSON, so numbers read back as float64.
type DocumentStore interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	// Set writes fields. With merge, nested objects are merged into the
	// stored document instead of replacing it.
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	// Add stores a new document under a generated id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
}

// MergeFields deep merges src into dst. Nested maps merge, everything else
// replaces.
func MergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if cur, ok := dst[k].(map[string]any); ok {
			dst[k] = MergeFields(cur, sub)
			continue
		}
		dst[k] = MergeFields(nil, sub)
	}
	return dst
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

func decodeFields(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

type docKey struct {
	collection string
	id         string
}

// MemoryDocumentStore keeps documents in process memory. Stored values are
// JSON-encoded so reads behave like the database-backed store.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[docKey][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[docKey][]byte)}
}

func (m *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	m.mu.RLock()
	b, ok := m.docs[docKey{collection, id}]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeFields(b)
}

func (m *MemoryDocumentStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey{collection, id}
	if merge {
		if b, ok := m.docs[key]; ok {
			cur, err := decodeFields(b)
			if err != nil {
				return err
			}
			fields = MergeFields(cur, normalized(fields))
		}
	}
	b, err := encodeFields(fields)
	if err != nil {
		return err
	}
	m.docs[key] = b
	return nil
}

func (m *MemoryDocumentStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := m.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Len counts the documents in collection.
func (m *MemoryDocumentStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.docs {
		if k.collection == collection {
			n++
		}
	}
	return n
}

// normalized converts typed nested maps to map[string]any via JSON so they
// merge like stored values.
func normalized(fields map[string]any) map[string]any {
	b, err := json.Marshal(fields)
	if err != nil {
		return fields
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return fields
	}
	return out
}
