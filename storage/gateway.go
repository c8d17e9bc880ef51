package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
)

// Gateway wire conventions, shared with the gateway server.
const (
	// TagHeaderPrefix carries upload tags as headers: X-Soul-Tag-Agent-Id: agent-1.
	// Tag names travel in canonical header form.
	TagHeaderPrefix = "X-Soul-Tag-"

	SoulsPath  = "/api/v1/souls"
	AgentsPath = "/api/v1/agents"

	// MaxPayloadSize bounds a single uploaded payload.
	MaxPayloadSize = 16 * 1024 * 1024
)

// SearchResponse is the body returned by the agent search endpoint.
type SearchResponse struct {
	AgentID   string                `json:"agent_id"`
	ObjectIDs []interfaces.ObjectID `json:"object_ids"`
}

// GatewayStore implements interfaces.SoulStore against a soul gateway over HTTP.
type GatewayStore struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewGatewayStore creates a client for the gateway at baseURL
// (e.g. "http://localhost:8080"). The timeout defaults to 30 seconds.
func NewGatewayStore(baseURL string, log *slog.Logger, timeout ...time.Duration) *GatewayStore {
	if log == nil {
		log = slog.Default()
	}

	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &GatewayStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
		log: log,
	}
}

// Upload posts data to the gateway.
func (c *GatewayStore) Upload(ctx context.Context, data []byte, tags map[string]string) (interfaces.Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SoulsPath, bytes.NewReader(data))
	if err != nil {
		return interfaces.Receipt{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range tags {
		req.Header.Set(TagHeaderPrefix+k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return interfaces.Receipt{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return interfaces.Receipt{}, responseError("upload", resp)
	}

	var receipt interfaces.Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return interfaces.Receipt{}, fmt.Errorf("failed to parse upload response: %w", err)
	}

	c.log.Debug("Uploaded payload to gateway",
		slog.String("object_id", receipt.ObjectID.String()),
		slog.Int("size", receipt.SizeBytes))

	return receipt, nil
}

// Download fetches the payload for id from the gateway.
func (c *GatewayStore) Download(ctx context.Context, id interfaces.ObjectID) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s/%s", c.baseURL, SoulsPath, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("download", resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read download response: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("download of %s exceeds %d bytes", id, MaxPayloadSize)
	}
	return data, nil
}

// SearchByAgent lists up to limit object ids for agentID, newest first.
func (c *GatewayStore) SearchByAgent(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	endpoint := fmt.Sprintf("%s%s/%s/souls?limit=%s", c.baseURL, AgentsPath, url.PathEscape(agentID), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("search", resp)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return result.ObjectIDs, nil
}

func responseError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s failed with code %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
