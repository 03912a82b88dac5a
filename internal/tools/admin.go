package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	"github.com/developer-mesh/hubspot-mcp/internal/format"
	"github.com/developer-mesh/hubspot-mcp/internal/hubspot"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// bulkLoadPageSize is the CRM page size used by the bulk loader.
const bulkLoadPageSize = 100

// AdminTool exposes the operational tools: embedding index lifecycle, index
// browsing, bulk loading records into the cache, and cache management.
type AdminTool struct {
	crm     CRM
	cache   *cache.Cache
	manager *embedding.Manager
	logger  observability.Logger
}

// NewAdminTool builds the admin provider.
func NewAdminTool(crm CRM, c *cache.Cache, manager *embedding.Manager, logger observability.Logger) *AdminTool {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &AdminTool{crm: crm, cache: c, manager: manager, logger: logger.WithPrefix("admin")}
}

// GetDefinitions returns the administrative tool definitions.
func (t *AdminTool) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "manage_hubspot_embeddings",
			Description: "Inspect, build, rebuild, or clear the semantic search indices",
			InputSchema: schemaObject(map[string]interface{}{
				"action":       schemaEnum("Lifecycle operation", "info", "build", "rebuild", "clear"),
				"entity_types": schemaEntityTypes(),
				"index_type":   schemaEnum("Index structure; auto-selected when omitted", "flat", "partitioned"),
			}, "action"),
			Handler: t.handleEmbeddings,
		},
		{
			Name:        "browse_hubspot_indexed_data",
			Description: "Browse or search the records held in the semantic search indices",
			InputSchema: schemaObject(map[string]interface{}{
				"action":          schemaEnum("Browse operation", "list", "stats", "search"),
				"entity_type":     schemaEnum("Restrict to one kind", "contacts", "companies", "deals", "engagements"),
				"offset":          schemaInt("Number of entries to skip", 0),
				"limit":           schemaLimit(),
				"search_text":     schemaString("Substring to look for in indexed texts (action=search)"),
				"include_content": schemaBool("Include the full serialized text of each entry"),
			}, "action"),
			Handler: t.handleBrowse,
		},
		{
			Name:        "load_hubspot_entities_to_cache",
			Description: "Bulk-load records of one kind, with every property, into the cache",
			InputSchema: schemaObject(map[string]interface{}{
				"entity_type":      schemaEnum("Kind to load", "contacts", "companies", "deals", "engagements"),
				"build_embeddings": schemaBool("Rebuild the kind's semantic index from the loaded records"),
				"max_entities":     schemaInt("Cap on records to load; 0 means no cap (default 10000)", 0),
			}, "entity_type"),
			Handler: t.handleBulkLoad,
		},
		{
			Name:        "manage_hubspot_cache",
			Description: "Inspect or clear the shared result cache",
			InputSchema: schemaObject(map[string]interface{}{
				"action": schemaEnum("Cache operation", "info", "clear"),
			}, "action"),
			Handler: t.handleCache,
		},
	}
}

// embeddingsDisabled is the error every embedding-touching action returns
// when the feature is off.
func embeddingsDisabled() error {
	return pkgerrors.New(pkgerrors.KindDisabled, "embeddings are disabled").
		WithUserMarkdown(format.ErrorMessage("Embeddings Disabled",
			"Embedding features are disabled by configuration. Enable embeddings_enabled and configure an embedding provider."))
}

func (t *AdminTool) handleEmbeddings(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		Action      string   `json:"action"`
		EntityTypes []string `json:"entity_types"`
		IndexType   string   `json:"index_type"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if !t.manager.Enabled() {
		return nil, embeddingsDisabled()
	}
	kinds, err := parseKindList(params.EntityTypes)
	if err != nil {
		return nil, err
	}
	algorithm, ok := embedding.ParseAlgorithm(params.IndexType)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindClient, "unknown index type %q", params.IndexType)
	}

	switch params.Action {
	case "info":
		stats := t.manager.Stats()
		return &Result{
			Markdown: renderEmbeddingStats(stats),
			JSON:     format.JSONBlock(stats),
		}, nil
	case "build":
		report, err := t.manager.Build(ctx, embedding.BuildOptions{Kinds: kinds, Algorithm: algorithm})
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown: renderBuildReport("Embedding Build Report", report),
			JSON:     format.JSONBlock(report),
		}, nil
	case "rebuild":
		report, err := t.manager.Rebuild(ctx, kinds)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown: renderBuildReport("Embedding Rebuild Report", report),
			JSON:     format.JSONBlock(report),
		}, nil
	default: // clear, per the schema enum
		cleared := t.manager.Clear(kinds)
		names := kindNames(kinds)
		return &Result{
			Markdown: fmt.Sprintf("🧹 **Embeddings Cleared**\n\nRemoved %d indexed records.", cleared),
			JSON: format.JSONBlock(map[string]interface{}{
				"cleared":     cleared,
				"entityTypes": names,
			}),
		}, nil
	}
}

func (t *AdminTool) handleBrowse(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		Action         string `json:"action"`
		EntityType     string `json:"entity_type"`
		Offset         int    `json:"offset"`
		Limit          int    `json:"limit"`
		SearchText     string `json:"search_text"`
		IncludeContent bool   `json:"include_content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if !t.manager.Enabled() {
		return nil, embeddingsDisabled()
	}

	var kind models.EntityKind
	if params.EntityType != "" {
		parsed, err := parseKindName(params.EntityType)
		if err != nil {
			return nil, err
		}
		kind = parsed
	}

	switch params.Action {
	case "stats":
		stats := t.manager.Stats()
		return &Result{
			Markdown: renderEmbeddingStats(stats),
			JSON:     format.JSONBlock(stats),
		}, nil
	case "search":
		if strings.TrimSpace(params.SearchText) == "" {
			return nil, pkgerrors.New(pkgerrors.KindClient, `search_text is required for action "search"`)
		}
	}

	page, err := t.manager.Browse(ctx, embedding.BrowseOptions{
		Kind:           kind,
		Offset:         params.Offset,
		Limit:          params.Limit,
		TextFilter:     params.SearchText,
		IncludeContent: params.IncludeContent,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Markdown: renderBrowsePage(page, params.SearchText),
		JSON:     format.JSONBlock(page),
	}, nil
}

func (t *AdminTool) handleBulkLoad(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		EntityType      string `json:"entity_type"`
		BuildEmbeddings bool   `json:"build_embeddings"`
		MaxEntities     *int   `json:"max_entities"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	kind, err := parseKindName(params.EntityType)
	if err != nil {
		return nil, err
	}
	maxEntities := hubspot.DefaultMaxEntities
	if params.MaxEntities != nil {
		maxEntities = *params.MaxEntities
	}

	descriptors, err := t.crm.ListProperties(ctx, kind)
	if err != nil {
		return nil, err
	}
	properties := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		properties = append(properties, d.Name)
	}

	var entities []models.Entity
	count, err := t.crm.IterateAll(ctx, kind, bulkLoadPageSize, maxEntities, properties, func(e models.Entity) error {
		entities = append(entities, e)
		if t.cache != nil {
			t.cache.Set(EntityCacheKey(t.crm.APIKey(), kind, e.ID), e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Bulk load finished", map[string]interface{}{
		"kind":       string(kind),
		"loaded":     count,
		"properties": len(properties),
	})

	embeddingsNote := "disabled"
	var buildResult *embedding.KindBuildResult
	switch {
	case params.BuildEmbeddings && t.manager.Enabled():
		result, err := t.manager.BuildFromEntities(ctx, kind, entities, embedding.AlgorithmAuto)
		if err != nil {
			return nil, err
		}
		buildResult = &result
		embeddingsNote = fmt.Sprintf("index rebuilt (%d indexed, %s)", result.Count, result.Status)
	case params.BuildEmbeddings:
		embeddingsNote = "disabled; index build skipped"
	case t.manager.Enabled():
		t.manager.MarkStale(kind)
		embeddingsNote = "not rebuilt; any existing index was marked stale"
	}

	markdown := fmt.Sprintf("📦 **Entities Loaded to Cache**\n\nLoaded %d %s records with %d properties each.\nEmbeddings: %s.",
		count, string(kind), len(properties), embeddingsNote)
	return &Result{
		Markdown: markdown,
		JSON: format.JSONBlock(map[string]interface{}{
			"entityType":      string(kind),
			"loaded":          count,
			"properties":      len(properties),
			"buildEmbeddings": params.BuildEmbeddings,
			"embeddings":      buildResult,
		}),
	}, nil
}

func (t *AdminTool) handleCache(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if t.cache == nil {
		return nil, pkgerrors.New(pkgerrors.KindInternal, "result cache is not configured")
	}

	if params.Action == "clear" {
		res := t.cache.Clear()
		return &Result{
			Markdown: fmt.Sprintf("🧹 **Cache Cleared**\n\nRemoved %d entries (capacity %d, TTL %d seconds).",
				res.Cleared, res.Capacity, res.TTLSeconds),
			JSON: format.JSONBlock(res),
		}, nil
	}

	info := t.cache.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "🗃️ **Cache Status**\n\nEntries: %d / %d\nTTL: %d seconds", info.Size, info.Capacity, info.TTLSeconds)
	if len(info.SampleKeys) > 0 {
		b.WriteString("\n\nSample keys:")
		for _, key := range info.SampleKeys {
			b.WriteString("\n- `")
			b.WriteString(key)
			b.WriteString("`")
		}
	}
	return &Result{Markdown: b.String(), JSON: format.JSONBlock(info)}, nil
}

func kindNames(kinds []models.EntityKind) []string {
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return names
}

// renderEmbeddingStats is the shared rendering of manager statistics, used by
// both manage_hubspot_embeddings(info) and browse(stats).
func renderEmbeddingStats(stats *embedding.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧠 **Embedding Index Status**\n\nStatus: %s\nIndexed records: %d", stats.Status, stats.TotalCount)
	if stats.ModelName != "" {
		fmt.Fprintf(&b, "\nModel: %s", stats.ModelName)
	}
	if stats.Dimension > 0 {
		fmt.Fprintf(&b, "\nDimension: %d", stats.Dimension)
	}
	b.WriteString("\n")
	for _, kind := range models.AllKinds() {
		ks, ok := stats.PerKind[string(kind)]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %d records (%s", string(kind), ks.Count, ks.Status)
		if ks.Algorithm != "" {
			fmt.Fprintf(&b, ", %s", ks.Algorithm)
		}
		b.WriteString(")")
	}
	return b.String()
}

func renderBuildReport(title string, report *embedding.BuildReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧠 **%s**\n\nIndexed %d records (dimension %d, model %s).\n",
		title, report.TotalIndexed, report.Dimension, report.ModelName)
	for _, kind := range models.AllKinds() {
		result, ok := report.Results[string(kind)]
		if !ok {
			continue
		}
		if result.Error != "" {
			fmt.Fprintf(&b, "\n- %s: build failed after %d ms (%s): %s",
				string(kind), result.DurationMs, result.Status, result.Error)
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %d indexed in %d ms (%s", string(kind), result.Count, result.DurationMs, result.Status)
		if result.Algorithm != "" {
			fmt.Fprintf(&b, ", %s", result.Algorithm)
		}
		b.WriteString(")")
	}
	return b.String()
}

func renderBrowsePage(page *embedding.BrowsePage, searchText string) string {
	var b strings.Builder
	if searchText != "" {
		fmt.Fprintf(&b, "📇 **Indexed Records Matching %q** (showing %d of %d)", searchText, len(page.Entries), page.Total)
	} else {
		fmt.Fprintf(&b, "📇 **Indexed Records** (showing %d of %d)", len(page.Entries), page.Total)
	}
	fmt.Fprintf(&b, "\n\nOffset: %d, limit: %d", page.Offset, page.Limit)
	if len(page.Entries) == 0 {
		b.WriteString("\n\nNo matching records.")
	}
	for i, entry := range page.Entries {
		fmt.Fprintf(&b, "\n\n%d. [%s] %s", page.Offset+i+1, entry.Kind, entry.ID)
		if entry.Snippet != "" {
			fmt.Fprintf(&b, "\n   %s", entry.Snippet)
		}
	}
	return b.String()
}
