// Package hubspot implements the typed HTTP client for the HubSpot CRM v3
// API: paginated listings, filtered search, property schemas, and the two
// deal write operations. The client classifies failures but never retries;
// retry policy belongs to callers.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

const defaultBaseURL = "https://api.hubapi.com"

// Config carries the client settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is the HubSpot CRM API client. Safe for concurrent use; the only
// shared mutable state is the pooled http.Client and the circuit breaker,
// both concurrency-safe.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *metrics.Metrics
}

// NewClient validates the configuration and builds a client. A missing API
// key is a configuration error: every CRM request carries it as a bearer
// token.
func NewClient(cfg Config, logger observability.Logger, m *metrics.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.KindConfig, "hubspot api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hubspot-api",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transient failures (network trouble, 5xx, rate limiting)
		// count against the breaker. Upstream 4xx responses are answers.
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
		metrics: m,
	}, nil
}

// APIKey returns the configured bearer token. The cache layer folds it into
// keys so results never leak across tenants.
func (c *Client) APIKey() string {
	return c.apiKey
}

// List fetches one page of records. limit is clamped to MaxPageSize and must
// be positive. When properties is empty the kind's curated default subset is
// requested.
func (c *Client) List(ctx context.Context, kind models.EntityKind, limit int, after string, properties []string) (*models.Page, error) {
	if !kind.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "unknown entity kind %q", kind)
	}
	if limit < 1 {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "limit must be at least 1, got %d", limit)
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if len(properties) == 0 {
		properties = DefaultProperties(kind)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("properties", strings.Join(properties, ","))
	query.Set("archived", "false")
	if after != "" {
		query.Set("after", after)
	}

	body, err := c.do(ctx, "list", http.MethodGet, "/crm/v3/objects/"+objectPath(kind), query, nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode list response")
	}
	entities, err := parseEntities(kind, resp.Results)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode list record")
	}

	page := &models.Page{Entities: entities}
	if resp.Paging != nil && resp.Paging.Next != nil {
		page.NextCursor = resp.Paging.Next.After
	}
	return page, nil
}

// Search posts an AND-of-terms filter expression. Filter keys choose their
// predicate by field class: equals for identifier-like fields, contains_token
// for text-like fields. An empty filter set is valid and returns a page.
func (c *Client) Search(ctx context.Context, kind models.EntityKind, filters map[string]string, limit int) ([]models.Entity, error) {
	if !kind.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "unknown entity kind %q", kind)
	}
	if limit < 1 {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "limit must be at least 1, got %d", limit)
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	req := searchRequest{
		FilterGroups: []filterGroup{},
		Properties:   DefaultProperties(kind),
		Limit:        limit,
	}
	if len(filters) > 0 {
		group := filterGroup{Filters: make([]filter, 0, len(filters))}
		for _, field := range sortedKeys(filters) {
			value := filters[field]
			if value == "" {
				continue
			}
			group.Filters = append(group.Filters, filter{
				PropertyName: propertyNameFor(field),
				Operator:     operatorFor(field),
				Value:        value,
			})
		}
		if len(group.Filters) > 0 {
			req.FilterGroups = append(req.FilterGroups, group)
		}
	}

	body, err := c.do(ctx, "search", http.MethodPost, "/crm/v3/objects/"+objectPath(kind)+"/search", nil, req)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode search response")
	}
	entities, err := parseEntities(kind, resp.Results)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode search record")
	}
	return entities, nil
}

// ListProperties fetches the full property schema for a kind.
func (c *Client) ListProperties(ctx context.Context, kind models.EntityKind) ([]models.PropertyDescriptor, error) {
	if !kind.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "unknown entity kind %q", kind)
	}

	body, err := c.do(ctx, "properties", http.MethodGet, "/crm/v3/properties/"+objectPath(kind), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp propertiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode properties response")
	}

	descriptors := make([]models.PropertyDescriptor, 0, len(resp.Results))
	for _, raw := range resp.Results {
		var descriptor models.PropertyDescriptor
		if err := json.Unmarshal(raw, &descriptor); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode property descriptor")
		}
		descriptor.Raw = raw
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// CreateDeal creates a deal from the given properties.
func (c *Client) CreateDeal(ctx context.Context, properties map[string]string) (*models.Entity, error) {
	if len(properties) == 0 {
		return nil, pkgerrors.New(pkgerrors.KindClient, "at least one property required")
	}

	body, err := c.do(ctx, "create_deal", http.MethodPost, "/crm/v3/objects/deals", nil, writeRequest{Properties: properties})
	if err != nil {
		return nil, err
	}
	entity, err := parseEntity(models.KindDeal, body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode created deal")
	}
	return &entity, nil
}

// UpdateDeal patches the named properties of an existing deal.
func (c *Client) UpdateDeal(ctx context.Context, id string, properties map[string]string) (*models.Entity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.KindClient, "deal id is required")
	}
	if len(properties) == 0 {
		return nil, pkgerrors.New(pkgerrors.KindClient, "at least one property required")
	}

	body, err := c.do(ctx, "update_deal", http.MethodPatch, "/crm/v3/objects/deals/"+url.PathEscape(id), nil, writeRequest{Properties: properties})
	if err != nil {
		return nil, err
	}
	entity, err := parseEntity(models.KindDeal, body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "decode updated deal")
	}
	return &entity, nil
}

// GetDealByName searches deals by name and post-filters for an exact match.
// Returns (nil, nil) when no deal matches exactly.
func (c *Client) GetDealByName(ctx context.Context, name string) (*models.Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.New(pkgerrors.KindClient, "deal name is required")
	}

	entities, err := c.Search(ctx, models.KindDeal, map[string]string{"dealname": name}, MaxPageSize)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		if entities[i].Properties["dealname"] == name {
			return &entities[i], nil
		}
	}
	return nil, nil
}

// IterateAll walks pagination cursors, invoking fn for every record, until
// pages are exhausted, maxEntities is reached, or fn returns an error. A
// maxEntities of zero or less means no cap; DefaultMaxEntities is the
// conventional cap for callers without an explicit budget. Returns the
// number of records delivered to fn.
func (c *Client) IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error) {
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	count := 0
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return count, pkgerrors.FromContext(ctx, err)
		}

		page, err := c.List(ctx, kind, pageSize, after, properties)
		if err != nil {
			return count, err
		}
		if len(page.Entities) == 0 {
			return count, nil
		}
		for _, entity := range page.Entities {
			if maxEntities > 0 && count >= maxEntities {
				return count, nil
			}
			if err := fn(entity); err != nil {
				return count, err
			}
			count++
		}
		if maxEntities > 0 && count >= maxEntities {
			return count, nil
		}
		if page.NextCursor == "" {
			return count, nil
		}
		after = page.NextCursor
	}
}

// do executes one CRM round trip through the circuit breaker and maps the
// outcome onto the error taxonomy.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body interface{}) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "encode request body")
		}
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// The caller's context takes precedence over transport trouble.
			if ctx.Err() != nil {
				return nil, pkgerrors.FromContext(ctx, err)
			}
			return nil, pkgerrors.Wrapf(err, pkgerrors.KindTransient, "%s: request failed", op)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.KindTransient, "%s: read response", op)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.metrics.RecordCRMRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))
			return data, nil
		}
		c.metrics.RecordCRMRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))
		return nil, c.mapStatus(op, resp.StatusCode, resp.Header, data)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.metrics.RecordCRMRequest(op, "breaker_open", time.Since(start))
			return nil, pkgerrors.Wrapf(err, pkgerrors.KindTransient, "%s: circuit open", op)
		}
		c.logger.Debug("CRM request failed", map[string]interface{}{
			"operation":   op,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	c.logger.Debug("CRM request completed", map[string]interface{}{
		"operation":   op,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result.([]byte), nil
}

// mapStatus converts a non-2xx CRM response into a classified error.
func (c *Client) mapStatus(op string, status int, header http.Header, body []byte) *pkgerrors.Error {
	excerpt := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.Newf(pkgerrors.KindAuth, "%s: credentials rejected (%d): %s", op, status, excerpt)
	case status == http.StatusTooManyRequests:
		return pkgerrors.Newf(pkgerrors.KindTransient, "%s: rate limited: %s", op, excerpt).
			WithRetryAfter(parseRetryAfter(header.Get("Retry-After")))
	case status >= 500:
		return pkgerrors.Newf(pkgerrors.KindTransient, "%s: upstream failure (%d): %s", op, status, excerpt)
	default:
		return pkgerrors.Newf(pkgerrors.KindClient, "%s: request rejected (%d): %s", op, status, excerpt).
			WithDetails(truncate(string(body), 512))
	}
}

// errorMessage pulls the message field out of a CRM error body, falling back
// to a truncated raw excerpt.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
