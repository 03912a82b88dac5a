package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	"github.com/developer-mesh/hubspot-mcp/internal/format"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// defaultSemanticWeight balances the vector score against the structured
// API rank in hybrid mode.
const defaultSemanticWeight = 0.7

// SemanticTool exposes semantic_search_hubspot: vector search over the
// embedding indices, optionally blended with a structured CRM search derived
// from the query text.
type SemanticTool struct {
	crm     CRM
	manager *embedding.Manager
	logger  observability.Logger
}

// NewSemanticTool builds the semantic search provider.
func NewSemanticTool(crm CRM, manager *embedding.Manager, logger observability.Logger) *SemanticTool {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &SemanticTool{crm: crm, manager: manager, logger: logger.WithPrefix("semantic")}
}

// GetDefinitions returns the semantic search tool definition.
func (t *SemanticTool) GetDefinitions() []ToolDefinition {
	querySchema := schemaString("Natural-language search query")
	querySchema["minLength"] = 1
	return []ToolDefinition{
		{
			Name:        "semantic_search_hubspot",
			Description: "Search CRM records by meaning, structured filters, or both",
			InputSchema: schemaObject(map[string]interface{}{
				"query":           querySchema,
				"entity_types":    schemaEntityTypes(),
				"limit":           schemaLimit(),
				"search_mode":     schemaEnum("Search strategy; auto picks semantic when an index is ready", "semantic", "hybrid", "auto"),
				"semantic_weight": schemaFraction("Weight of the vector score in hybrid merging (default 0.7)"),
				"threshold":       schemaFraction("Minimum vector similarity score (default 0)"),
			}, "query"),
			Handler: t.handleSearch,
		},
	}
}

type semanticParams struct {
	Query          string   `json:"query"`
	EntityTypes    []string `json:"entity_types"`
	Limit          int      `json:"limit"`
	SearchMode     string   `json:"search_mode"`
	SemanticWeight *float64 `json:"semantic_weight"`
	Threshold      *float64 `json:"threshold"`
}

func (t *SemanticTool) handleSearch(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params semanticParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	kinds, err := parseKindList(params.EntityTypes)
	if err != nil {
		return nil, err
	}
	if kinds == nil {
		kinds = models.AllKinds()
	}
	k := params.Limit
	if k <= 0 {
		k = defaultListLimit
	}
	weight := defaultSemanticWeight
	if params.SemanticWeight != nil {
		weight = *params.SemanticWeight
	}
	minScore := 0.0
	if params.Threshold != nil {
		minScore = *params.Threshold
	}

	mode := params.SearchMode
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		mode, err = t.pickMode(kinds, params.Query)
		if err != nil {
			return nil, err
		}
	}

	switch mode {
	case "semantic":
		return t.semanticSearch(ctx, params.Query, kinds, k, minScore)
	default:
		return t.hybridSearch(ctx, params.Query, kinds, k, minScore, weight)
	}
}

// pickMode resolves auto mode: semantic when any requested kind has a ready
// index, hybrid when the query yields structured filters, otherwise there is
// nothing to search with.
func (t *SemanticTool) pickMode(kinds []models.EntityKind, query string) (string, error) {
	ready := make(map[models.EntityKind]bool)
	for _, kind := range t.manager.ReadyKinds() {
		ready[kind] = true
	}
	for _, kind := range kinds {
		if ready[kind] {
			return "semantic", nil
		}
	}
	predicates := extractPredicates(query)
	for _, kind := range kinds {
		if len(predicates.filtersFor(kind)) > 0 {
			return "hybrid", nil
		}
	}
	return "", pkgerrors.New(pkgerrors.KindClient,
		"no search strategy: no embedding index is ready and the query yields no structured filters").
		WithUserMarkdown(format.ErrorMessage("No Search Strategy",
			"No embedding index is ready and the query contains no usable filter terms. Build embeddings first or include quoted phrases or keywords."))
}

func (t *SemanticTool) semanticSearch(ctx context.Context, query string, kinds []models.EntityKind, k int, minScore float64) (*Result, error) {
	res, err := t.manager.Search(ctx, query, kinds, k, minScore)
	if err != nil {
		return nil, err
	}
	return &Result{
		Markdown: renderSemanticHits("semantic", query, res.Hits, res.SkippedKinds),
		JSON: format.JSONBlock(map[string]interface{}{
			"query":        query,
			"mode":         "semantic",
			"results":      res.Hits,
			"skippedKinds": res.SkippedKinds,
		}),
	}, nil
}

// hybridEntry is one merged hybrid result. Exactly one of the two partial
// scores may be zero when the record appeared on only one side.
type hybridEntry struct {
	ID          string            `json:"id"`
	Kind        models.EntityKind `json:"kind"`
	Score       float64           `json:"score"`
	VectorScore float64           `json:"vectorScore,omitempty"`
	APIRank     float64           `json:"apiRank,omitempty"`
	Snippet     string            `json:"snippet,omitempty"`
	Name        string            `json:"name,omitempty"`
}

func (t *SemanticTool) hybridSearch(ctx context.Context, query string, kinds []models.EntityKind, k int, minScore, weight float64) (*Result, error) {
	predicates := extractPredicates(query)

	var (
		hits        []embedding.SearchHit
		skipped     []string
		apiEntities []models.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if t.manager == nil || !t.manager.Enabled() {
			return nil
		}
		res, err := t.manager.Search(gctx, query, kinds, k, minScore)
		if err != nil {
			// Missing indices leave the vector side empty; hybrid still has
			// the structured side to answer with.
			if pkgerrors.KindOf(err) == pkgerrors.KindNotReady {
				return nil
			}
			return err
		}
		hits = res.Hits
		skipped = res.SkippedKinds
		return nil
	})
	g.Go(func() error {
		for _, kind := range kinds {
			filters := predicates.filtersFor(kind)
			if len(filters) == 0 {
				continue
			}
			entities, err := t.crm.Search(gctx, kind, filters, k)
			if err != nil {
				return err
			}
			apiEntities = append(apiEntities, entities...)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := mergeHybrid(hits, apiEntities, weight, k)
	return &Result{
		Markdown: renderHybridEntries(query, entries, skipped),
		JSON: format.JSONBlock(map[string]interface{}{
			"query":        query,
			"mode":         "hybrid",
			"results":      entries,
			"skippedKinds": skipped,
		}),
	}, nil
}

// mergeHybrid folds the two result sides into one ranked list. The API side
// contributes 1 - rank/len as its score component, so the first structured
// hit counts fully and later ones decay linearly.
func mergeHybrid(hits []embedding.SearchHit, apiEntities []models.Entity, weight float64, k int) []hybridEntry {
	merged := make(map[string]*hybridEntry, len(hits)+len(apiEntities))
	order := make([]string, 0, len(hits)+len(apiEntities))

	for _, h := range hits {
		key := string(h.Kind) + "/" + h.ID
		merged[key] = &hybridEntry{
			ID:          h.ID,
			Kind:        h.Kind,
			VectorScore: h.Score,
			Snippet:     h.Snippet,
		}
		order = append(order, key)
	}
	for rank, e := range apiEntities {
		key := string(e.Kind) + "/" + e.ID
		apiRank := 1 - float64(rank)/float64(len(apiEntities))
		entry, ok := merged[key]
		if !ok {
			entry = &hybridEntry{ID: e.ID, Kind: e.Kind}
			merged[key] = entry
			order = append(order, key)
		}
		if entry.APIRank == 0 {
			entry.APIRank = apiRank
		}
		if entry.Name == "" {
			entry.Name = format.DisplayName(e)
		}
	}

	entries := make([]hybridEntry, 0, len(order))
	for _, key := range order {
		entry := merged[key]
		entry.Score = weight*entry.VectorScore + (1-weight)*entry.APIRank
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ri, rj := entries[i].Kind.MergeRank(), entries[j].Kind.MergeRank()
		if ri != rj {
			return ri < rj
		}
		return entries[i].ID < entries[j].ID
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

func renderSemanticHits(mode, query string, hits []embedding.SearchHit, skipped []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Semantic Search Results** (%d found)\n\nQuery: %s\nMode: %s", len(hits), query, mode)
	if len(hits) == 0 {
		b.WriteString("\n\nNo matching records.")
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "\n\n%d. %s **%s %s** (score: %.3f)", i+1, format.Emoji(h.Kind), format.KindTitle(h.Kind), h.ID, h.Score)
		if h.Snippet != "" {
			fmt.Fprintf(&b, "\n   %s", h.Snippet)
		}
	}
	appendSkipped(&b, skipped)
	return b.String()
}

func renderHybridEntries(query string, entries []hybridEntry, skipped []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Hybrid Search Results** (%d found)\n\nQuery: %s\nMode: hybrid", len(entries), query)
	if len(entries) == 0 {
		b.WriteString("\n\nNo matching records.")
	}
	for i, e := range entries {
		fmt.Fprintf(&b, "\n\n%d. %s **%s %s** (score: %.3f)", i+1, format.Emoji(e.Kind), format.KindTitle(e.Kind), e.ID, e.Score)
		switch {
		case e.Snippet != "":
			fmt.Fprintf(&b, "\n   %s", e.Snippet)
		case e.Name != "":
			fmt.Fprintf(&b, "\n   %s", e.Name)
		}
	}
	appendSkipped(&b, skipped)
	return b.String()
}

func appendSkipped(b *strings.Builder, skipped []string) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\nSkipped kinds (no ready index): %s", strings.Join(skipped, ", "))
}
