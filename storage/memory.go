package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/soulkeeper/interfaces"
)

// MemoryBackend keeps payloads in process memory. It is used for tests and
// local experiments; nothing survives a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[interfaces.ContentID][]byte
	name string
	log  *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	if log == nil {
		log = slog.Default()
	}
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		data: make(map[interfaces.ContentID][]byte),
		name: name,
		log:  log,
	}
}

// Fetch returns a copy of the stored payload.
func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.data[id]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

// Store keeps a copy of data under its content id.
func (b *MemoryBackend) Store(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	if err := ctx.Err(); err != nil {
		return id, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = append([]byte(nil), data...)

	b.log.Debug("Stored content in memory",
		slog.String("backend", b.name),
		slog.String("content_id", id.String()),
		slog.Int("size", len(data)))

	return id, nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}

// Len returns the number of stored payloads.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
