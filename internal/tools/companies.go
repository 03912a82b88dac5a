package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// CompaniesTool exposes the company listing, schema, and search tools.
type CompaniesTool struct {
	ops crmOps
}

// NewCompaniesTool builds the companies provider.
func NewCompaniesTool(crm CRM, c *cache.Cache, logger observability.Logger) *CompaniesTool {
	return &CompaniesTool{ops: newCRMOps(crm, c, logger)}
}

// GetDefinitions returns the company tool definitions.
func (t *CompaniesTool) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_hubspot_companies",
			Description: "List HubSpot companies, one page at a time",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"after": schemaString("Pagination cursor from a previous page"),
			}),
			Handler: t.handleList,
		},
		{
			Name:        "get_hubspot_company_properties",
			Description: "Get the full company property schema",
			InputSchema: schemaObject(map[string]interface{}{}),
			Handler:     t.handleProperties,
		},
		{
			Name:        "search_hubspot_companies",
			Description: "Search HubSpot companies by name, domain, industry, or country",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"filters": schemaFilters(map[string]string{
					"name":     "Company name (token match)",
					"domain":   "Web domain (token match)",
					"industry": "Industry label (token match)",
					"country":  "Country (token match)",
				}),
			}),
			Handler: t.handleSearch,
		},
	}
}

func (t *CompaniesTool) handleList(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.listPage(ctx, "list_hubspot_companies", models.KindCompany, args)
}

func (t *CompaniesTool) handleProperties(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.propertySchema(ctx, "get_hubspot_company_properties", models.KindCompany, args)
}

func (t *CompaniesTool) handleSearch(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.searchEntities(ctx, "search_hubspot_companies", models.KindCompany, args)
}
