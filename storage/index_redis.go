package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/soulkeeper/interfaces"
)

const (
	// Sorted set of object ids per agent, scored by upload time in microseconds
	agentUploadsKeyPrefix = "soul:agent:"
	// Hash with the entry details per object
	objectEntryKeyPrefix = "soul:object:"
)

// RedisIndex is an AgentIndex backed by Redis sorted sets, suitable for
// several gateway instances sharing one index.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// RedisIndexOption configures a RedisIndex.
type RedisIndexOption func(*RedisIndex)

// WithKeyPrefix namespaces every key written by the index.
func WithKeyPrefix(prefix string) RedisIndexOption {
	return func(idx *RedisIndex) {
		idx.prefix = prefix
	}
}

// NewRedisIndex wraps an existing client. Closing the index closes the client.
func NewRedisIndex(client *redis.Client, opts ...RedisIndexOption) *RedisIndex {
	idx := &RedisIndex{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(idx)
		}
	}
	return idx
}

// OpenRedisIndex connects to the Redis server at url (redis://host:port/db)
// and checks the connection.
func OpenRedisIndex(ctx context.Context, url string, opts ...RedisIndexOption) (*RedisIndex, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisIndex(client, opts...), nil
}

// Record adds the object to the agent's sorted set. The first recording of
// an object keeps its score.
func (idx *RedisIndex) Record(ctx context.Context, entry interfaces.IndexEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = idx.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, idx.agentKey(entry.AgentID), redis.Z{
			Score:  float64(createdAt.UnixMicro()),
			Member: string(entry.ObjectID),
		})
		pipe.HSet(ctx, idx.objectKey(entry.ObjectID),
			"agent_id", entry.AgentID,
			"size_bytes", strconv.Itoa(entry.SizeBytes),
			"tags", string(tags),
			"created_at", createdAt.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record index entry: %w", err)
	}
	return nil
}

// Latest returns up to limit object ids for agentID, newest first.
// A non-positive limit returns every entry.
func (idx *RedisIndex) Latest(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	members, err := idx.client.ZRevRange(ctx, idx.agentKey(agentID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	ids := make([]interfaces.ObjectID, 0, len(members))
	for _, m := range members {
		ids = append(ids, interfaces.ObjectID(m))
	}
	return ids, nil
}

// Close closes the underlying client.
func (idx *RedisIndex) Close() error {
	return idx.client.Close()
}

func (idx *RedisIndex) agentKey(agentID string) string {
	return idx.prefix + agentUploadsKeyPrefix + agentID
}

func (idx *RedisIndex) objectKey(id interfaces.ObjectID) string {
	return idx.prefix + objectEntryKeyPrefix + string(id)
}
