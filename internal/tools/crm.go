package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/format"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// defaultListLimit is the page size used when a list or search tool is called
// without a limit argument.
const defaultListLimit = 10

// CRM is the slice of the HubSpot client the tool providers consume. The
// concrete client lives in internal/hubspot; tests substitute a fake.
type CRM interface {
	APIKey() string
	List(ctx context.Context, kind models.EntityKind, limit int, after string, properties []string) (*models.Page, error)
	Search(ctx context.Context, kind models.EntityKind, filters map[string]string, limit int) ([]models.Entity, error)
	ListProperties(ctx context.Context, kind models.EntityKind) ([]models.PropertyDescriptor, error)
	CreateDeal(ctx context.Context, properties map[string]string) (*models.Entity, error)
	UpdateDeal(ctx context.Context, id string, properties map[string]string) (*models.Entity, error)
	GetDealByName(ctx context.Context, name string) (*models.Entity, error)
	IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error)
}

// crmOps bundles the dependencies and the read handlers shared by the
// per-kind providers. Read results are cached whole: the Markdown and JSON
// renderings are pure functions of the records, so caching the finished
// *Result skips both the CRM round trip and the formatter.
type crmOps struct {
	crm    CRM
	cache  *cache.Cache
	logger observability.Logger
}

func newCRMOps(crm CRM, c *cache.Cache, logger observability.Logger) crmOps {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return crmOps{crm: crm, cache: c, logger: logger.WithPrefix("tools")}
}

// cached runs loader through the shared result cache, keyed by tool name,
// canonicalized arguments, and the API key. A nil cache runs the loader
// directly.
func (o *crmOps) cached(ctx context.Context, tool string, args json.RawMessage, loader func(ctx context.Context) (*Result, error)) (*Result, error) {
	if o.cache == nil {
		return loader(ctx)
	}
	key := cache.Key(tool, args, o.crm.APIKey())
	value, err := o.cache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, error) {
		return loader(ctx)
	})
	if err != nil {
		return nil, err
	}
	result, ok := value.(*Result)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindInternal, "unexpected cache payload for %s", tool)
	}
	return result, nil
}

// EntityCacheKey is the cache key of one bulk-loaded record, partitioned by
// API key like every other entry.
func EntityCacheKey(apiKey string, kind models.EntityKind, id string) string {
	args, _ := json.Marshal(map[string]string{"id": id})
	return cache.Key("entity/"+string(kind), args, apiKey)
}

// parseKindName resolves one entity_type argument.
func parseKindName(name string) (models.EntityKind, error) {
	kind, ok := models.ParseEntityKind(name)
	if !ok {
		return "", pkgerrors.Newf(pkgerrors.KindClient, "unknown entity type %q", name)
	}
	return kind, nil
}

// parseKindList resolves an entity_types argument, deduplicated and ordered
// by kind merge order so downstream output is deterministic. An empty list
// returns nil, meaning every kind.
func parseKindList(names []string) ([]models.EntityKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	requested := make(map[models.EntityKind]bool, len(names))
	for _, name := range names {
		kind, err := parseKindName(name)
		if err != nil {
			return nil, err
		}
		requested[kind] = true
	}
	kinds := make([]models.EntityKind, 0, len(requested))
	for _, kind := range models.AllKinds() {
		if requested[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

type pageParams struct {
	Limit int    `json:"limit"`
	After string `json:"after"`
}

// listPage serves the list_hubspot_* tools: one CRM page rendered as a list.
func (o *crmOps) listPage(ctx context.Context, tool string, kind models.EntityKind, args json.RawMessage) (*Result, error) {
	var params pageParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if params.Limit == 0 {
		params.Limit = defaultListLimit
	}

	return o.cached(ctx, tool, args, func(ctx context.Context) (*Result, error) {
		page, err := o.crm.List(ctx, kind, params.Limit, params.After, nil)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown: format.EntityList(kind, page.Entities, page.NextCursor),
			JSON:     format.EntityJSON(page.Entities),
		}, nil
	})
}

// propertySchema serves the get_hubspot_*_properties tools.
func (o *crmOps) propertySchema(ctx context.Context, tool string, kind models.EntityKind, args json.RawMessage) (*Result, error) {
	return o.cached(ctx, tool, args, func(ctx context.Context) (*Result, error) {
		descriptors, err := o.crm.ListProperties(ctx, kind)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown: format.Properties(kind, descriptors),
			JSON:     format.DescriptorJSON(descriptors),
		}, nil
	})
}

type searchParams struct {
	Limit   int               `json:"limit"`
	Filters map[string]string `json:"filters"`
}

// searchEntities serves the search_hubspot_* tools. An empty filter set is
// valid and returns an unfiltered page.
func (o *crmOps) searchEntities(ctx context.Context, tool string, kind models.EntityKind, args json.RawMessage) (*Result, error) {
	var params searchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if params.Limit == 0 {
		params.Limit = defaultListLimit
	}

	return o.cached(ctx, tool, args, func(ctx context.Context) (*Result, error) {
		entities, err := o.crm.Search(ctx, kind, params.Filters, params.Limit)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown: format.EntityList(kind, entities, ""),
			JSON:     format.EntityJSON(entities),
		}, nil
	})
}
