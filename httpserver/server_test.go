package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/revival"
	"github.com/ruteri/soulkeeper/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg *HTTPServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = &HTTPServerConfig{}
	}
	cfg.Log = testLogger()

	srv, err := New(cfg, storage.NewInMemorySoulStore(testLogger()))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getStatus(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthAndDrain(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := getStatus(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = getStatus(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = getStatus(t, ts.URL+"/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = getStatus(t, ts.URL+"/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	code, body = getStatus(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"not ready"}`, body)

	_, body = getStatus(t, ts.URL+"/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	_, body = getStatus(t, ts.URL+"/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, body)

	code, _ = getStatus(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	_, ts := newTestServer(t, nil)
	code, _ := getStatus(t, ts.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code)

	_, ts = newTestServer(t, &HTTPServerConfig{EnablePprof: true})
	code, _ = getStatus(t, ts.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)
}

// The gateway client, the gateway and a revival orchestrator wired together.
func TestGatewayCeremony(t *testing.T) {
	ctx := context.Background()
	srv, ts := newTestServer(t, &HTTPServerConfig{
		RateLimit: storage.RateLimitConfig{UploadsPerSecond: 10, Burst: 10},
	})

	client := storage.NewGatewayStore(ts.URL, testLogger(), 5*time.Second)

	key, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	_, shares, err := kms.NewPrimeFieldSharer().Split(key, 2, 3)
	require.NoError(t, err)

	o, err := revival.New(revival.Config{Shares: shares[1:], Store: client, Log: testLogger()})
	require.NoError(t, err)
	defer o.Close()

	soul := interfaces.NewSoul("agent-42").
		Personality("tone", interfaces.String("curious")).
		Values("care", interfaces.Float(0.8)).
		Memory("origin", interfaces.String("gateway test"))
	soul.ModelOrigin = "model-x"

	receipt, result := o.FullCeremony(ctx, soul, map[string]string{"Model": "model-x"})
	require.NotNil(t, receipt)
	require.True(t, result.Success, result.Error)
	assert.True(t, result.IntegrityVerified)

	latest := o.ResurrectLatest(ctx, "agent-42")
	require.True(t, latest.Success, latest.Error)
	assert.Equal(t, receipt.ObjectID, latest.ObjectID)
	assert.Equal(t, 3, latest.FragmentCount)
	assert.Equal(t, "model-x", latest.ModelOrigin)

	missing := o.ResurrectLatest(ctx, "agent-unknown")
	assert.False(t, missing.Success)
	assert.ErrorIs(t, missing.Err, interfaces.ErrAgentNotFound)

	_, err = client.Download(ctx, interfaces.ObjectID(interfaces.ComputeID([]byte("absent")).String()))
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	count, err := testutil.GatherAndCount(srv.Metrics().Registry(), "soulkeeper_gateway_requests_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}
