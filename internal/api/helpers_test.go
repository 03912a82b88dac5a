package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/developer-mesh/hubspot-mcp/internal/auth"
	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	"github.com/developer-mesh/hubspot-mcp/internal/mcp"
	"github.com/developer-mesh/hubspot-mcp/internal/tools"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// fakeSource serves canned entities per kind. Kinds listed in fail error out
// on iteration.
type fakeSource struct {
	entities map[models.EntityKind][]models.Entity
	fail     map[models.EntityKind]error
}

func (f *fakeSource) IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error) {
	if err := f.fail[kind]; err != nil {
		return 0, err
	}
	n := 0
	for _, e := range f.entities[kind] {
		if maxEntities > 0 && n == maxEntities {
			break
		}
		if err := fn(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// flatEmbedder returns the same unit direction for every text; the admin
// endpoints only care about counts, not similarity.
type flatEmbedder struct{}

func (flatEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0.5, 0.25, 0.125}
	}
	return out, nil
}

func (flatEmbedder) Dimension() int    { return 4 }
func (flatEmbedder) ModelName() string { return "stub-embedder" }

func entity(kind models.EntityKind, id string, props map[string]string) models.Entity {
	return models.Entity{ID: id, Kind: kind, Properties: props}
}

func contactEntity(id, first, last string) models.Entity {
	return entity(models.KindContact, id, map[string]string{
		"firstname": first,
		"lastname":  last,
		"email":     strings.ToLower(first) + "@example.com",
	})
}

func companyEntity(id, name string) models.Entity {
	return entity(models.KindCompany, id, map[string]string{"name": name, "domain": "example.com"})
}

func dealEntity(id, name string) models.Entity {
	return entity(models.KindDeal, id, map[string]string{"dealname": name, "amount": "5000"})
}

func listTool() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "echo_tool",
		Description: "Echoes the message argument.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
			var p struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			return &tools.Result{
				Markdown: "✅ **Echo**\n\n" + p.Message,
				JSON:     "```json\n{\"message\": \"" + p.Message + "\"}\n```",
			}, nil
		},
	}
}

// notifyTool signals hit each time it runs; hit must be buffered.
func notifyTool(hit chan<- struct{}) tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "ping_tool",
		Description: "Returns a fixed payload.",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
			if hit != nil {
				hit <- struct{}{}
			}
			return &tools.Result{Markdown: "pong", JSON: "```json\n{}\n```"}, nil
		},
	}
}

// testDeps wires a full dependency set around fakes. authKey "" leaves the
// transport open; embeddings follow the enabled flag.
func testDeps(t *testing.T, enabled bool, src *fakeSource, authKey string, extra ...tools.ToolDefinition) Deps {
	t.Helper()
	if src == nil {
		src = &fakeSource{}
	}

	store, err := cache.New(16, time.Minute, nil, nil)
	require.NoError(t, err)

	reg := tools.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(listTool()))
	for _, def := range extra {
		require.NoError(t, reg.Register(def))
	}

	var emb embedding.Embedder
	if enabled {
		emb = flatEmbedder{}
	}
	mgr := embedding.NewManager(src, emb, embedding.ManagerConfig{Enabled: enabled}, nil, nil)

	am := auth.NewMiddleware(auth.Settings{Key: authKey, Header: "X-API-Key"}, nil)

	return Deps{
		Dispatcher: mcp.NewDispatcher(reg, 5*time.Second, nil, nil),
		Manager:    mgr,
		Cache:      store,
		Auth:       am,
	}
}

// startServer serves the router over httptest and tears the transport down
// in an order that lets every SSE handler exit.
func startServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown(context.Background()))
		ts.Close()
	})
	return ts
}

// openStream subscribes to /sse and returns a reader over the event stream.
func openStream(t *testing.T, ts *httptest.Server, headers map[string]string) (*bufio.Reader, func()) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return bufio.NewReader(resp.Body), func() { _ = resp.Body.Close() }
}

// readFrame returns the next SSE frame. Keep-alive comments come back with
// the event name "comment".
func readFrame(t *testing.T, br *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ": "):
			return "comment", strings.TrimPrefix(line, ": ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func getJSON(t *testing.T, ts *httptest.Server, path string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, ts *httptest.Server, path, payload string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}
