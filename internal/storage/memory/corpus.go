package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// Corpus holds inspiration records in insertion order.
type Corpus struct {
	mu      sync.RWMutex
	records []inspiration.InspirationRecord
}

// NewCorpus returns a Corpus seeded with records.
func NewCorpus(records ...inspiration.InspirationRecord) *Corpus {
	c := &Corpus{}
	c.Add(records...)
	return c
}

// Add appends records after any existing ones.
func (c *Corpus) Add(records ...inspiration.InspirationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
}

// Records returns a snapshot of the corpus. The slice is owned by the caller.
func (c *Corpus) Records(_ context.Context) ([]inspiration.InspirationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]inspiration.InspirationRecord, len(c.records))
	copy(out, c.records)
	return out, nil
}

// Len reports the number of records.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
