package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ruteri/soulkeeper/interfaces"
)

// OpenIndex creates an AgentIndex from a URI:
//
//   - memory:// - process-local, lost on restart
//   - sqlite:///var/lib/soulkeeper/index.db - SQLite file (sqlite://:memory: for tests)
//   - redis://host:6379/0 - Redis sorted sets, ?prefix= namespaces the keys
func OpenIndex(ctx context.Context, uri string) (interfaces.AgentIndex, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryIndex(), nil
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in sqlite URI %s", interfaces.ErrInvalidLocationURI, uri)
		}
		return NewSQLiteIndex(path)
	case "redis", "rediss":
		prefix := u.Query().Get("prefix")
		q := u.Query()
		q.Del("prefix")
		u.RawQuery = q.Encode()
		return OpenRedisIndex(ctx, u.String(), WithKeyPrefix(prefix))
	default:
		return nil, fmt.Errorf("%w: unsupported index scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}
