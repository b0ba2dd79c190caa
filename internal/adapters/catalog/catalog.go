// Package catalog looks up products by barcode and reports their packaging
// score.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/okian/greenpoints/internal/domain/model"
)

// Item is a catalog entry.
type Item = model.Item

// Static is an in-memory catalog, used in tests and offline runs.
type Static struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewStatic returns a catalog holding items keyed by reference.
func NewStatic(items ...Item) *Static {
	s := &Static{items: make(map[string]Item, len(items))}
	for _, it := range items {
		s.items[it.Reference] = it
	}
	return s
}

// Put adds or replaces an item.
func (s *Static) Put(it Item) {
	s.mu.Lock()
	s.items[it.Reference] = it
	s.mu.Unlock()
}

// Lookup returns the item for ref or ErrUnknownItem.
func (s *Static) Lookup(_ context.Context, ref string) (Item, error) {
	s.mu.RLock()
	it, ok := s.items[strings.TrimSpace(ref)]
	s.mu.RUnlock()
	if !ok {
		return Item{}, fmt.Errorf("%q: %w", ref, ErrUnknownItem)
	}
	return it, nil
}
