package storage

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/ruteri/soulkeeper/interfaces"
)

// MemoryIndex is a process-local AgentIndex.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string][]interfaces.IndexEntry
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string][]interfaces.IndexEntry)}
}

// Record appends entry for its agent unless the object is already indexed.
func (idx *MemoryIndex) Record(ctx context.Context, entry interfaces.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, existing := range idx.entries[entry.AgentID] {
		if existing.ObjectID == entry.ObjectID {
			return nil
		}
	}

	entry.Tags = maps.Clone(entry.Tags)
	idx.entries[entry.AgentID] = append(idx.entries[entry.AgentID], entry)
	return nil
}

// Latest returns up to limit object ids for agentID, newest first. Entries
// with equal timestamps are returned in reverse recording order.
// A non-positive limit returns every entry.
func (idx *MemoryIndex) Latest(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	entries := slices.Clone(idx.entries[agentID])
	idx.mu.RUnlock()

	slices.Reverse(entries)
	slices.SortStableFunc(entries, func(a, b interfaces.IndexEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	ids := make([]interfaces.ObjectID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ObjectID)
	}
	return ids, nil
}

// Close is a no-op.
func (idx *MemoryIndex) Close() error {
	return nil
}
