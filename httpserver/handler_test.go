package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/metrics"
	"github.com/ruteri/soulkeeper/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSoulStore implements interfaces.SoulStore for testing
type MockSoulStore struct {
	mock.Mock
}

func (m *MockSoulStore) Upload(ctx context.Context, data []byte, tags map[string]string) (interfaces.Receipt, error) {
	args := m.Called(ctx, data, tags)
	return args.Get(0).(interfaces.Receipt), args.Error(1)
}

func (m *MockSoulStore) Download(ctx context.Context, id interfaces.ObjectID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSoulStore) SearchByAgent(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	args := m.Called(ctx, agentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ObjectID), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(h *Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Post(storage.SoulsPath, h.HandleUpload)
	mux.Get(storage.SoulsPath+"/{id}", h.HandleDownload)
	mux.Get(storage.AgentsPath+"/{agent}/souls", h.HandleSearch)
	return mux
}

func serve(router http.Handler, req *http.Request) *http.Response {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result()
}

func TestHandleUpload(t *testing.T) {
	store := storage.NewInMemorySoulStore(testLogger())
	m := metrics.NewGatewayMetrics(prometheus.NewRegistry(), "test")
	router := newTestRouter(NewHandler(store, nil, m, testLogger()))

	payload := []byte("opaque encrypted payload")
	req := httptest.NewRequest(http.MethodPost, storage.SoulsPath, bytes.NewReader(payload))
	req.Header.Set("X-Soul-Tag-agent-id", "agent-7")
	req.Header.Set(storage.TagHeaderPrefix+"Model", "m-1")

	resp := serve(router, req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var receipt interfaces.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.Equal(t, interfaces.ObjectID(interfaces.ComputeID(payload).String()), receipt.ObjectID)
	assert.Equal(t, len(payload), receipt.SizeBytes)

	ids, err := store.SearchByAgent(context.Background(), "agent-7", 10)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ObjectID{receipt.ObjectID}, ids)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("upload", "201")))
}

func TestHandleUpload_Tags(t *testing.T) {
	store := new(MockSoulStore)
	store.On("Upload", mock.Anything, []byte("x"), map[string]string{
		interfaces.AgentIDTag: "agent-7",
		"Soul-Version":        "3",
	}).Return(interfaces.Receipt{ObjectID: "abc", SizeBytes: 1}, nil)

	req := httptest.NewRequest(http.MethodPost, storage.SoulsPath, strings.NewReader("x"))
	req.Header.Set("X-Soul-Tag-Agent-Id", "agent-7")
	req.Header.Set("X-Soul-Tag-Soul-Version", "3")
	req.Header.Set("X-Unrelated", "ignored")

	resp := serve(newTestRouter(NewHandler(store, nil, nil, testLogger())), req)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	store.AssertExpectations(t)
}

func TestHandleUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       io.Reader
		storeErr   error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "empty payload",
			body:       http.NoBody,
			wantStatus: http.StatusBadRequest,
			wantBody:   "empty payload",
		},
		{
			name:       "payload too large",
			body:       bytes.NewReader(make([]byte, storage.MaxPayloadSize+1)),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   "payload too large",
		},
		{
			name:       "store failure",
			body:       strings.NewReader("payload"),
			storeErr:   errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "failed to store payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockSoulStore)
			if tt.storeErr != nil {
				store.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.Receipt{}, tt.storeErr)
			}

			req := httptest.NewRequest(http.MethodPost, storage.SoulsPath, tt.body)
			resp := serve(newTestRouter(NewHandler(store, nil, nil, testLogger())), req)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), tt.wantBody)
			assert.NotContains(t, string(body), "disk full")
			store.AssertExpectations(t)
		})
	}
}

func TestHandleUpload_RateLimited(t *testing.T) {
	store := storage.NewInMemorySoulStore(testLogger())
	m := metrics.NewGatewayMetrics(prometheus.NewRegistry(), "test")
	h := NewHandler(store, NewClientLimiter(1, 2, time.Minute), m, testLogger())
	now := time.Unix(1700000000, 0)
	h.now = func() time.Time { return now }
	router := newTestRouter(h)

	upload := func(remote, body string) int {
		req := httptest.NewRequest(http.MethodPost, storage.SoulsPath, strings.NewReader(body))
		req.RemoteAddr = remote
		resp := serve(router, req)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, upload("10.0.0.1:1000", "a"))
	assert.Equal(t, http.StatusCreated, upload("10.0.0.1:1001", "b"))
	assert.Equal(t, http.StatusTooManyRequests, upload("10.0.0.1:1002", "c"))
	assert.Equal(t, http.StatusCreated, upload("10.0.0.2:1000", "d"), "other clients keep their own budget")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusCreated, upload("10.0.0.1:1003", "e"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("upload", "429")))
}

func TestHandleDownload(t *testing.T) {
	store := storage.NewInMemorySoulStore(testLogger())
	payload := []byte("stored payload")
	receipt, err := store.Upload(context.Background(), payload, nil)
	require.NoError(t, err)

	router := newTestRouter(NewHandler(store, nil, nil, testLogger()))

	t.Run("found", func(t *testing.T) {
		resp := serve(router, httptest.NewRequest(http.MethodGet, storage.SoulsPath+"/"+receipt.ObjectID.String(), nil))
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("unknown id", func(t *testing.T) {
		id := interfaces.ComputeID([]byte("never stored")).String()
		resp := serve(router, httptest.NewRequest(http.MethodGet, storage.SoulsPath+"/"+id, nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed id", func(t *testing.T) {
		resp := serve(router, httptest.NewRequest(http.MethodGet, storage.SoulsPath+"/not-hex", nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("store failure", func(t *testing.T) {
		failing := new(MockSoulStore)
		failing.On("Download", mock.Anything, interfaces.ObjectID("abc")).Return(nil, errors.New("backend offline"))
		resp := serve(newTestRouter(NewHandler(failing, nil, nil, testLogger())),
			httptest.NewRequest(http.MethodGet, storage.SoulsPath+"/abc", nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		failing.AssertExpectations(t)
	})
}

func TestHandleSearch(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantStatus int
	}{
		{name: "default limit", query: "", wantLimit: DefaultSearchLimit, wantStatus: http.StatusOK},
		{name: "explicit limit", query: "?limit=3", wantLimit: 3, wantStatus: http.StatusOK},
		{name: "limit is capped", query: "?limit=1000000", wantLimit: MaxSearchLimit, wantStatus: http.StatusOK},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "non-numeric limit", query: "?limit=all", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockSoulStore)
			ids := []interfaces.ObjectID{"newest", "older"}
			if tt.wantStatus == http.StatusOK {
				store.On("SearchByAgent", mock.Anything, "agent-7", tt.wantLimit).Return(ids, nil)
			}

			req := httptest.NewRequest(http.MethodGet, storage.AgentsPath+"/agent-7/souls"+tt.query, nil)
			resp := serve(newTestRouter(NewHandler(store, nil, nil, testLogger())), req)
			defer resp.Body.Close()

			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusOK {
				var result storage.SearchResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
				assert.Equal(t, "agent-7", result.AgentID)
				assert.Equal(t, ids, result.ObjectIDs)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestHandleSearch_UnknownAgent(t *testing.T) {
	router := newTestRouter(NewHandler(storage.NewInMemorySoulStore(testLogger()), nil, nil, testLogger()))

	resp := serve(router, httptest.NewRequest(http.MethodGet, storage.AgentsPath+"/ghost/souls", nil))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"agent_id":"ghost","object_ids":[]}`, string(body))
}

func TestTagsFromHeader(t *testing.T) {
	header := http.Header{}
	header.Set("X-Soul-Tag-Agent-Id", "agent-1")
	header.Set("x-soul-tag-app-name", "soulkeeper")
	header.Set("X-Soul-Tag-", "empty name")
	header.Set("Content-Type", "application/octet-stream")

	assert.Equal(t, map[string]string{
		"Agent-Id": "agent-1",
		"App-Name": "soulkeeper",
	}, tagsFromHeader(header))
}
