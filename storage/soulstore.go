package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
)

// Default upload tags, overridable per upload.
const (
	DefaultAppName  = "soulkeeper"
	DefaultProtocol = "soul-v1"
)

// BlobSoulStore implements interfaces.SoulStore on a content-addressed
// backend plus an agent index. Object ids are the hex SHA-256 of the payload,
// so re-uploading identical bytes yields the same id.
type BlobSoulStore struct {
	backend interfaces.StorageBackend
	index   interfaces.AgentIndex
	log     *slog.Logger
	now     func() time.Time
}

// NewBlobSoulStore creates a store. A nil index falls back to a MemoryIndex.
func NewBlobSoulStore(backend interfaces.StorageBackend, index interfaces.AgentIndex, log *slog.Logger) *BlobSoulStore {
	if log == nil {
		log = slog.Default()
	}
	if index == nil {
		index = NewMemoryIndex()
	}
	return &BlobSoulStore{
		backend: backend,
		index:   index,
		log:     log,
		now:     time.Now,
	}
}

// NewInMemorySoulStore returns a store backed entirely by process memory.
func NewInMemorySoulStore(log *slog.Logger) *BlobSoulStore {
	return NewBlobSoulStore(NewMemoryBackend("souls", log), NewMemoryIndex(), log)
}

// Upload stores data and records it under the Agent-Id tag, if present.
func (s *BlobSoulStore) Upload(ctx context.Context, data []byte, tags map[string]string) (interfaces.Receipt, error) {
	id, err := s.backend.Store(ctx, data)
	if err != nil {
		return interfaces.Receipt{}, fmt.Errorf("failed to store payload: %w", err)
	}

	allTags := map[string]string{
		interfaces.AppNameTag:  DefaultAppName,
		interfaces.ProtocolTag: DefaultProtocol,
	}
	maps.Copy(allTags, tags)

	receipt := interfaces.Receipt{
		ObjectID:    interfaces.ObjectID(id.String()),
		SizeBytes:   len(data),
		ContentHash: id.String(),
		Timestamp:   s.now().UTC(),
	}

	if agentID := allTags[interfaces.AgentIDTag]; agentID != "" {
		err := s.index.Record(ctx, interfaces.IndexEntry{
			AgentID:   agentID,
			ObjectID:  receipt.ObjectID,
			SizeBytes: receipt.SizeBytes,
			Tags:      allTags,
			CreatedAt: receipt.Timestamp,
		})
		if err != nil {
			return interfaces.Receipt{}, fmt.Errorf("failed to index upload: %w", err)
		}
	}

	s.log.Info("Uploaded soul payload",
		slog.String("object_id", receipt.ObjectID.String()),
		slog.String("agent_id", allTags[interfaces.AgentIDTag]),
		slog.Int("size", receipt.SizeBytes))

	return receipt, nil
}

// Download fetches the payload for id and checks it hashes to id.
func (s *BlobSoulStore) Download(ctx context.Context, id interfaces.ObjectID) ([]byte, error) {
	contentID, err := interfaces.NewContentIDFromHex(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id)
	}

	data, err := s.backend.Fetch(ctx, contentID)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payload: %w", err)
	}

	if !interfaces.ComputeID(data).Equal(contentID) {
		return nil, fmt.Errorf("payload for %s does not match its content hash", id)
	}
	return data, nil
}

// SearchByAgent returns up to limit object ids for agentID, newest first.
func (s *BlobSoulStore) SearchByAgent(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	return s.index.Latest(ctx, agentID, limit)
}

// Close releases the index.
func (s *BlobSoulStore) Close() error {
	return s.index.Close()
}
