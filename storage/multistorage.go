package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
)

// MultiStorageBackend replicates payloads to several backends and reads them
// back from whichever backend has them.
//
// Store writes to all available backends concurrently and succeeds when at
// least one write succeeds. Fetch tries backends in order and returns the
// first payload whose content id matches the request.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the payload from the first backend that has it.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0
	contentIDStr := id.String()[:16]

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Fetch(ctx, id)
		if err == nil {
			if !interfaces.ComputeID(data).Equal(id) {
				// A backend returned bytes that do not hash to the id: skip it
				m.log.Warn("Backend returned mismatched content",
					slog.String("backend_name", backend.Name()),
					slog.String("content_id", contentIDStr))
				errs = append(errs, fmt.Errorf("%s: content hash mismatch", backend.Name()))
				continue
			}

			m.log.Debug("Fetched content",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", contentIDStr),
			"err", err)
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All backends failed to fetch content",
		slog.String("content_id", contentIDStr),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, contentIDStr, errors.Join(errs...))
}

// Store writes data to every available backend concurrently.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)

	var (
		mu        sync.Mutex
		errs      []error
		succeeded []string
	)

	// One failed replica must not cancel the others.
	var wg sync.WaitGroup
	for _, backend := range m.backends {
		wg.Go(func() {
			if !backend.Available(ctx) {
				m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
				mu.Unlock()
				return
			}

			stored, err := backend.Store(ctx, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
				m.log.Warn("Failed to store to backend",
					slog.String("backend_name", backend.Name()),
					"err", err)
				return
			}
			if !stored.Equal(id) {
				m.log.Warn("Inconsistent hashes from backends",
					slog.String("backend_name", backend.Name()),
					slog.String("expected_id", id.String()),
					slog.String("actual_id", stored.String()))
				errs = append(errs, fmt.Errorf("%s: inconsistent content id", backend.Name()))
				return
			}
			succeeded = append(succeeded, backend.Name())
		})
	}
	wg.Wait()

	if len(succeeded) == 0 {
		m.log.Error("All backends failed to store data",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return id, fmt.Errorf("%w: all backends failed to store data: %v", interfaces.ErrBackendUnavailable, errors.Join(errs...))
	}

	m.log.Info("Stored content",
		slog.String("content_id", id.String()),
		slog.Int("replicas", len(succeeded)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

// Available checks if any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined URI listing every backend.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
