package evidence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"nhaguard/internal/domain"
)

// ErrNotFound is returned by Get for an unknown evidence id. Callers are
// expected to log and continue with reduced evidence rather than abort.
var ErrNotFound = errors.New("evidence not found")

// Cache is the process-local evidence store. Records are addressed by an
// opaque id minted on Put; ids are unique for the process lifetime and
// content is immutable once stored. Append-mostly and safe for concurrent
// use across validation runs.
type Cache struct {
	mu      sync.RWMutex
	records map[string]domain.EvidenceRecord
}

func NewCache() *Cache {
	return &Cache{records: map[string]domain.EvidenceRecord{}}
}

// Put stores a record and returns its assigned id. The content slice is
// copied so later caller mutation cannot reach the stored record.
func (c *Cache) Put(rec domain.EvidenceRecord) string {
	rec.ID = uuid.New().String()
	rec.Content = append([]byte(nil), rec.Content...)
	c.mu.Lock()
	c.records[rec.ID] = rec
	c.mu.Unlock()
	return rec.ID
}

// Get returns the record for id. The returned content is a copy.
func (c *Cache) Get(id string) (domain.EvidenceRecord, error) {
	c.mu.RLock()
	rec, ok := c.records[id]
	c.mu.RUnlock()
	if !ok {
		return domain.EvidenceRecord{}, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	rec.Content = append([]byte(nil), rec.Content...)
	return rec, nil
}

// Len reports the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
