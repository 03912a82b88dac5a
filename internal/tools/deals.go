package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/format"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// DealsTool exposes the deal tools: listing, schema, search, exact-name
// lookup, and the two write operations.
type DealsTool struct {
	ops crmOps
}

// NewDealsTool builds the deals provider.
func NewDealsTool(crm CRM, c *cache.Cache, logger observability.Logger) *DealsTool {
	return &DealsTool{ops: newCRMOps(crm, c, logger)}
}

// GetDefinitions returns the deal tool definitions.
func (t *DealsTool) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_hubspot_deals",
			Description: "List HubSpot deals, one page at a time",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"after": schemaString("Pagination cursor from a previous page"),
			}),
			Handler: t.handleList,
		},
		{
			Name:        "get_hubspot_deal_properties",
			Description: "Get the full deal property schema",
			InputSchema: schemaObject(map[string]interface{}{}),
			Handler:     t.handleProperties,
		},
		{
			Name:        "search_hubspot_deals",
			Description: "Search HubSpot deals by name, owner, stage, or pipeline",
			InputSchema: schemaObject(map[string]interface{}{
				"limit": schemaLimit(),
				"filters": schemaFilters(map[string]string{
					"dealname":  "Deal name (token match)",
					"owner_id":  "Owner id (exact match)",
					"dealstage": "Deal stage (exact match)",
					"pipeline":  "Pipeline id (exact match)",
				}),
			}),
			Handler: t.handleSearch,
		},
		{
			Name:        "get_deal_by_name",
			Description: "Find a deal whose name matches exactly",
			InputSchema: schemaObject(map[string]interface{}{
				"deal_name": schemaString("Exact deal name to look up"),
			}, "deal_name"),
			Handler: t.handleGetByName,
		},
		{
			Name:        "create_deal",
			Description: "Create a new HubSpot deal",
			InputSchema: schemaObject(map[string]interface{}{
				"dealname":         schemaString("Deal name"),
				"amount":           schemaString("Deal amount, numeric string"),
				"dealstage":        schemaString("Stage id"),
				"pipeline":         schemaString("Pipeline id"),
				"closedate":        schemaString("Close date, ISO 8601"),
				"hubspot_owner_id": schemaString("Owner id"),
				"description":      schemaString("Free-text description"),
			}, "dealname"),
			Handler: t.handleCreate,
		},
		{
			Name:        "update_deal",
			Description: "Update properties of an existing HubSpot deal",
			InputSchema: schemaObject(map[string]interface{}{
				"deal_id": schemaString("Id of the deal to update"),
				"properties": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
					"description":          "Property name to new value",
				},
			}, "deal_id", "properties"),
			Handler: t.handleUpdate,
		},
	}
}

func (t *DealsTool) handleList(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.listPage(ctx, "list_hubspot_deals", models.KindDeal, args)
}

func (t *DealsTool) handleProperties(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.propertySchema(ctx, "get_hubspot_deal_properties", models.KindDeal, args)
}

func (t *DealsTool) handleSearch(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.ops.searchEntities(ctx, "search_hubspot_deals", models.KindDeal, args)
}

func (t *DealsTool) handleGetByName(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		DealName string `json:"deal_name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}

	return t.ops.cached(ctx, "get_deal_by_name", args, func(ctx context.Context) (*Result, error) {
		entity, err := t.ops.crm.GetDealByName(ctx, params.DealName)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			return nil, pkgerrors.Newf(pkgerrors.KindNotFound, "no deal named %q", params.DealName).
				WithUserMarkdown(format.NotFound("Deal", fmt.Sprintf("No deal matches the exact name %q.", params.DealName)))
		}
		return &Result{
			Markdown: format.SingleEntity(models.KindDeal, "Deal Found", *entity),
			JSON:     format.SingleEntityJSON(*entity),
		}, nil
	})
}

func (t *DealsTool) handleCreate(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		DealName       string `json:"dealname"`
		Amount         string `json:"amount"`
		DealStage      string `json:"dealstage"`
		Pipeline       string `json:"pipeline"`
		CloseDate      string `json:"closedate"`
		HubspotOwnerID string `json:"hubspot_owner_id"`
		Description    string `json:"description"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}

	properties := map[string]string{"dealname": params.DealName}
	for name, value := range map[string]string{
		"amount":           params.Amount,
		"dealstage":        params.DealStage,
		"pipeline":         params.Pipeline,
		"closedate":        params.CloseDate,
		"hubspot_owner_id": params.HubspotOwnerID,
		"description":      params.Description,
	} {
		if value != "" {
			properties[name] = value
		}
	}

	entity, err := t.ops.crm.CreateDeal(ctx, properties)
	if err != nil {
		return nil, err
	}
	t.ops.logger.Info("Deal created", map[string]interface{}{"deal_id": entity.ID})
	return &Result{
		Markdown: format.SingleEntity(models.KindDeal, "Deal Created", *entity),
		JSON:     format.SingleEntityJSON(*entity),
	}, nil
}

func (t *DealsTool) handleUpdate(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		DealID     string            `json:"deal_id"`
		Properties map[string]string `json:"properties"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindClient, "decode arguments")
	}
	if len(params.Properties) == 0 {
		return nil, pkgerrors.New(pkgerrors.KindClient, "at least one property required").
			WithUserMarkdown(format.ErrorMessage("Update Rejected", "update_deal needs at least one property to change."))
	}

	entity, err := t.ops.crm.UpdateDeal(ctx, params.DealID, params.Properties)
	if err != nil {
		return nil, err
	}
	t.ops.logger.Info("Deal updated", map[string]interface{}{
		"deal_id":    entity.ID,
		"properties": len(params.Properties),
	})
	return &Result{
		Markdown: format.SingleEntity(models.KindDeal, "Deal Updated", *entity),
		JSON:     format.SingleEntityJSON(*entity),
	}, nil
}
