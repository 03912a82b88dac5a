package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// ContactsTool exposes the contact listing, schema, and search tools.
type ContactsTool struct {
	ops crmOps
}

// NewContactsTool builds the contacts provider.
func NewContactsTool(crm CRM, c *cache.Cache, logger observability.Logger) *ContactsTool {
	return &ContactsTool{ops: newCRMOps(crm, c, logger)}
}

// GetDefinitions returns the contact tool definitions.
func (t *ContactsTool) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_hubspot_contacts",
			Description: "List HubSpot contacts, one page at a time",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"after": schemaString("Pagination cursor from a previous page"),
			}),
			Handler: t.handleList,
		},
		{
			Name:        "get_hubspot_contact_properties",
			Description: "Get the full contact property schema",
			InputSchema: schemaObject(map[string]interface{}{}),
			Handler:     t.handleProperties,
		},
		{
			Name:        "search_hubspot_contacts",
			Description: "Search HubSpot contacts by email, first name, last name, or company",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"filters": schemaFilters(map[string]string{
					"email":     "Email address (token match)",
					"firstname": "First name (token match)",
					"lastname":  "Last name (token match)",
					"company":   "Company name (token match)",
				}),
			}),
			Handler: t.handleSearch,
		},
	}
}

func (t *ContactsTool) handleList(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.listPage(ctx, "list_hubspot_contacts", models.KindContact, args)
}

func (t *ContactsTool) handleProperties(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.propertySchema(ctx, "get_hubspot_contact_properties", models.KindContact, args)
}

func (t *ContactsTool) handleSearch(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.searchEntities(ctx, "search_hubspot_contacts", models.KindContact, args)
}
