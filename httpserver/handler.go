package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/metrics"
	"github.com/ruteri/soulkeeper/storage"
)

const (
	// DefaultSearchLimit applies when a search request carries no limit.
	DefaultSearchLimit = 10
	// MaxSearchLimit caps the limit query parameter.
	MaxSearchLimit = 1000
)

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler serves the soul gateway API on top of a SoulStore. The gateway only
// moves encrypted payloads; it never holds soul keys.
type Handler struct {
	store   interfaces.SoulStore
	limiter *ClientLimiter
	metrics *metrics.GatewayMetrics
	log     *slog.Logger
	now     func() time.Time
}

// NewHandler creates a gateway handler. limiter and m may be nil.
func NewHandler(store interfaces.SoulStore, limiter *ClientLimiter, m *metrics.GatewayMetrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:   store,
		limiter: limiter,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// HandleUpload stores an encrypted soul payload.
//
// URL format: POST /api/v1/souls
// Headers: X-Soul-Tag-<Name>: <value> for each upload tag, e.g. X-Soul-Tag-Agent-Id.
// Request body: the encoded payload, at most storage.MaxPayloadSize bytes.
//
// Response: 201 with the JSON receipt.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "upload"

	if !h.limiter.Allow(clientKey(r), h.now()) {
		h.metrics.IncRateLimited()
		h.fail(w, op, &RequestError{StatusCode: http.StatusTooManyRequests, Err: errors.New("upload rate limit exceeded")})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, storage.MaxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, op, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("payload too large")})
			return
		}
		h.fail(w, op, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("failed to read request body")})
		return
	}
	if len(data) == 0 {
		h.fail(w, op, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("empty payload")})
		return
	}

	tags := tagsFromHeader(r.Header)
	receipt, err := h.store.Upload(r.Context(), data, tags)
	if err != nil {
		h.log.Error("Failed to store payload", "err", err, slog.Int("size", len(data)))
		h.fail(w, op, &RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("failed to store payload")})
		return
	}

	h.log.Info("Stored soul payload",
		slog.String("object_id", receipt.ObjectID.String()),
		slog.String("agent_id", tags[interfaces.AgentIDTag]),
		slog.Int("size", receipt.SizeBytes))
	h.metrics.ObservePayload("upload", len(data))
	h.writeJSON(w, op, http.StatusCreated, receipt)
}

// HandleDownload returns a stored payload.
//
// URL format: GET /api/v1/souls/{id}
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	const op = "download"

	id := interfaces.ObjectID(chi.URLParam(r, "id"))
	if id == "" {
		h.fail(w, op, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("missing object id in URL")})
		return
	}

	data, err := h.store.Download(r.Context(), id)
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		h.fail(w, op, &RequestError{StatusCode: http.StatusNotFound, Err: err})
		return
	}
	if err != nil {
		h.log.Error("Failed to fetch payload", "err", err, slog.String("object_id", id.String()))
		h.fail(w, op, &RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("failed to fetch payload")})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("Failed to write payload", "err", err, slog.String("object_id", id.String()))
	}
	h.metrics.ObservePayload("download", len(data))
	h.metrics.ObserveRequest(op, http.StatusOK)
}

// HandleSearch lists the objects stored for an agent, newest first.
//
// URL format: GET /api/v1/agents/{agent}/souls?limit=N
//
// Response: JSON storage.SearchResponse.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	const op = "search"

	agentID := chi.URLParam(r, "agent")
	if agentID == "" {
		h.fail(w, op, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("missing agent id in URL")})
		return
	}

	limit := DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.fail(w, op, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("limit must be a positive integer")})
			return
		}
		limit = min(parsed, MaxSearchLimit)
	}

	ids, err := h.store.SearchByAgent(r.Context(), agentID, limit)
	if err != nil {
		h.log.Error("Search failed", "err", err, slog.String("agent_id", agentID))
		h.fail(w, op, &RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("search failed")})
		return
	}
	if ids == nil {
		ids = []interfaces.ObjectID{}
	}

	h.writeJSON(w, op, http.StatusOK, storage.SearchResponse{AgentID: agentID, ObjectIDs: ids})
}

// tagsFromHeader collects X-Soul-Tag-* headers. Go canonicalizes header
// names, so X-Soul-Tag-agent-id arrives as the Agent-Id tag.
func tagsFromHeader(header http.Header) map[string]string {
	tags := make(map[string]string)
	for name, values := range header {
		tag, ok := strings.CutPrefix(name, storage.TagHeaderPrefix)
		if !ok || tag == "" || len(values) == 0 {
			continue
		}
		tags[tag] = values[0]
	}
	return tags
}

func (h *Handler) writeJSON(w http.ResponseWriter, op string, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
	h.metrics.ObserveRequest(op, status)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err *RequestError) {
	http.Error(w, err.Error(), err.StatusCode)
	h.metrics.ObserveRequest(op, err.StatusCode)
}
