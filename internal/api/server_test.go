package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(Config{Version: "9.9.9"}, testDeps(t, false, nil, ""))
	ts := startServer(t, s)

	status, body := getJSON(t, ts, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "9.9.9", body["version"])

	stamp, ok := body["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, stamp)
	assert.NoError(t, err)
}

func TestReadyEndpointReportsAuth(t *testing.T) {
	s := NewServer(Config{}, testDeps(t, false, nil, "secret"))
	ts := startServer(t, s)

	status, body := getJSON(t, ts, "/ready", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, true, body["authEnabled"])
	assert.Equal(t, "X-API-Key", body["authHeader"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	s := NewServer(Config{}, testDeps(t, false, nil, "secret"))
	ts := startServer(t, s)

	// No credentials: scrape endpoints are always exempt.
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestAuthGuardsTransportEndpoints(t *testing.T) {
	s := NewServer(Config{PingInterval: time.Hour}, testDeps(t, false, nil, "secret"))
	ts := startServer(t, s)

	resp, err := ts.Client().Get(ts.URL + "/sse")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	status, body := postJSON(t, ts, "/messages/some-session", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", body["error"])

	// Reindex stays guarded while data protection is on.
	status, _ = postJSON(t, ts, "/force-reindex", ``, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// faiss_data_secure is off in these settings, so index stats stay open.
	status, _ = getJSON(t, ts, "/faiss-data", nil)
	assert.Equal(t, http.StatusOK, status)

	// With credentials the stream opens.
	br, closeStream := openStream(t, ts, map[string]string{"X-API-Key": "secret"})
	defer closeStream()
	event, data := readFrame(t, br)
	assert.Equal(t, "endpoint", event)
	assert.True(t, strings.HasPrefix(data, "/messages/"), data)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	s := NewServer(Config{PingInterval: time.Hour}, testDeps(t, false, nil, ""))
	ts := startServer(t, s)

	br, closeStream := openStream(t, ts, nil)
	defer closeStream()
	event, _ := readFrame(t, br)
	require.Equal(t, "endpoint", event)
	require.Equal(t, 1, s.Sessions().Count())

	require.NoError(t, s.Shutdown(context.Background()))

	_, err := br.ReadString('\n')
	require.Error(t, err, "stream should end once the server shuts down")
	assert.Equal(t, 0, s.Sessions().Count())
}
