package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// EngagementsTool exposes the engagement listing tool. Engagements have no
// property-schema or structured-search tool; semantic search covers them.
type EngagementsTool struct {
	ops crmOps
}

// NewEngagementsTool builds the engagements provider.
func NewEngagementsTool(crm CRM, c *cache.Cache, logger observability.Logger) *EngagementsTool {
	return &EngagementsTool{ops: newCRMOps(crm, c, logger)}
}

// GetDefinitions returns the engagement tool definitions.
func (t *EngagementsTool) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_hubspot_engagements",
			Description: "List HubSpot engagements (calls, emails, meetings, notes), one page at a time",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"after": schemaString("Pagination cursor from a previous page"),
			}),
			Handler: t.handleList,
		},
	}
}

func (t *EngagementsTool) handleList(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.listPage(ctx, "list_hubspot_engagements", models.KindEngagement, args)
}
