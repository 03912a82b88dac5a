package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Embedder turns texts into vectors. Implementations must be safe for
// concurrent use; the manager embeds batches from several goroutines.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the vector width, or 0 before the first call.
	Dimension() int
	// ModelName identifies the embedding model for stats output.
	ModelName() string
}

const (
	// DefaultModel is used when the configuration names no embedding model.
	DefaultModel = "text-embedding-3-small"

	defaultRequestTimeout = 30 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// Endpoint is the API base URL, e.g. "https://api.openai.com/v1".
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// OpenAIProvider calls the /embeddings route of an OpenAI-compatible API.
// Transient failures are retried with exponential backoff; the vector
// dimension is learned from the first successful response.
type OpenAIProvider struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     observability.Logger

	dimension atomic.Int32
}

// NewOpenAIProvider builds a provider for the configured endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger observability.Logger) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &OpenAIProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// EmbedBatch embeds all texts in one API call, retrying transient failures
// with exponential backoff. Client-side failures (4xx other than 429) abort
// immediately.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.RandomizationFactor = 0.5
	b.Multiplier = 1.5
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	var vectors [][]float32
	operation := func() error {
		out, err := p.embedOnce(ctx, texts)
		if err != nil {
			if pkgerrors.IsTransient(err) {
				p.logger.Debug("Retrying embedding batch", map[string]interface{}{
					"texts": len(texts),
					"error": err.Error(),
				})
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *OpenAIProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pkgerrors.FromContext(ctx, err)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.KindTransient, "embedding endpoint unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindTransient, "read embedding response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, embeddingStatusError(resp.StatusCode, body)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "parse embedding response")
	}
	if len(decoded.Data) != len(texts) {
		return nil, pkgerrors.Newf(pkgerrors.KindInternal,
			"embedding endpoint returned %d vectors for %d texts", len(decoded.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, pkgerrors.Newf(pkgerrors.KindInternal, "embedding index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	for i, vec := range out {
		if len(vec) == 0 {
			return nil, pkgerrors.Newf(pkgerrors.KindInternal, "missing embedding for text %d", i)
		}
	}

	p.dimension.Store(int32(len(out[0])))
	return out, nil
}

func embeddingStatusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.Newf(pkgerrors.KindAuth, "embedding endpoint rejected credentials (status %d)", status)
	case status == http.StatusTooManyRequests:
		return pkgerrors.Newf(pkgerrors.KindTransient, "embedding endpoint rate limited (status %d)", status)
	case status >= 500:
		return pkgerrors.Newf(pkgerrors.KindTransient, "embedding endpoint failed (status %d)", status)
	default:
		return pkgerrors.New(pkgerrors.KindClient,
			fmt.Sprintf("embedding request rejected (status %d): %s", status, detail))
	}
}

// Dimension reports the width learned from the first successful response.
func (p *OpenAIProvider) Dimension() int {
	return int(p.dimension.Load())
}

// ModelName returns the configured embedding model.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}
