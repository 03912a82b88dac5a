package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

func newCRMRegistry(t *testing.T, fake *fakeCRM) *Registry {
	t.Helper()
	c, err := cache.New(32, time.Minute, nil, nil)
	require.NoError(t, err)
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.RegisterProvider(NewContactsTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewCompaniesTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewDealsTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewEngagementsTool(fake, c, nil)))
	return reg
}

func TestFullToolInventory(t *testing.T) {
	fake := &fakeCRM{}
	c, err := cache.New(8, time.Minute, nil, nil)
	require.NoError(t, err)
	manager := embedding.NewManager(fake, nil, embedding.ManagerConfig{}, nil, nil)

	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.RegisterProvider(NewContactsTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewCompaniesTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewDealsTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewEngagementsTool(fake, c, nil)))
	require.NoError(t, reg.RegisterProvider(NewSemanticTool(fake, manager, nil)))
	require.NoError(t, reg.RegisterProvider(NewAdminTool(fake, c, manager, nil)))

	want := []string{
		"browse_hubspot_indexed_data",
		"create_deal",
		"get_deal_by_name",
		"get_hubspot_company_properties",
		"get_hubspot_contact_properties",
		"get_hubspot_deal_properties",
		"list_hubspot_companies",
		"list_hubspot_contacts",
		"list_hubspot_deals",
		"list_hubspot_engagements",
		"load_hubspot_entities_to_cache",
		"manage_hubspot_cache",
		"manage_hubspot_embeddings",
		"search_hubspot_companies",
		"search_hubspot_contacts",
		"search_hubspot_deals",
		"semantic_search_hubspot",
		"update_deal",
	}
	descriptors := reg.Descriptors()
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	assert.Equal(t, want, names)
	assert.Equal(t, 18, reg.Count())
}

func TestListDealsRendersPage(t *testing.T) {
	fake := &fakeCRM{
		listFn: func(kind models.EntityKind, limit int, after string) (*models.Page, error) {
			return &models.Page{
				Entities: []models.Entity{dealEntity("789012", "Premium Contract 2024", map[string]string{
					"amount":    "45000",
					"dealstage": "proposal",
				})},
				NextCursor: "cursor-2",
			}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "list_hubspot_deals", json.RawMessage(`{"limit": 5}`))
	require.NoError(t, err)

	assert.Equal(t, 5, fake.lastListLimit)
	assert.Contains(t, res.Markdown, "💰 **Deals** (1 found)")
	assert.Contains(t, res.Markdown, "**Premium Contract 2024**")
	assert.Contains(t, res.Markdown, "Amount: €45,000.00")
	assert.Contains(t, res.Markdown, "Stage: proposal")
	assert.Contains(t, res.Markdown, "ID: 789012")
	assert.Contains(t, res.Markdown, "Next page cursor: `cursor-2`")
	assert.Contains(t, res.JSON, "```json")
	assert.Contains(t, res.JSON, `"dealname": "Premium Contract 2024"`)
}

func TestListDealsDefaultLimit(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "list_hubspot_deals", nil)
	require.NoError(t, err)

	assert.Equal(t, defaultListLimit, fake.lastListLimit)
	assert.Contains(t, res.Markdown, "💰 **Deals** (0 found)")
	assert.Contains(t, res.Markdown, "No matching records.")
}

func TestListResultsCachedAcrossCalls(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)
	ctx := context.Background()

	first, err := reg.Execute(ctx, "list_hubspot_deals", json.RawMessage(`{"limit": 5, "after": "a"}`))
	require.NoError(t, err)
	// Same arguments with reordered members must hit the same cache entry.
	second, err := reg.Execute(ctx, "list_hubspot_deals", json.RawMessage(`{"after": "a", "limit": 5}`))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.listCalls)
	assert.Equal(t, first, second)
}

func TestCachePartitionedByAPIKey(t *testing.T) {
	c, err := cache.New(32, time.Minute, nil, nil)
	require.NoError(t, err)

	fakeA := &fakeCRM{apiKey: "key-a"}
	fakeB := &fakeCRM{apiKey: "key-b"}
	regA := NewRegistry(nil, nil)
	require.NoError(t, regA.RegisterProvider(NewDealsTool(fakeA, c, nil)))
	regB := NewRegistry(nil, nil)
	require.NoError(t, regB.RegisterProvider(NewDealsTool(fakeB, c, nil)))

	ctx := context.Background()
	_, err = regA.Execute(ctx, "list_hubspot_deals", nil)
	require.NoError(t, err)
	_, err = regB.Execute(ctx, "list_hubspot_deals", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fakeA.listCalls)
	assert.Equal(t, 1, fakeB.listCalls)
}

func TestSearchDealsPassesFilters(t *testing.T) {
	fake := &fakeCRM{
		searchFn: func(kind models.EntityKind, filters map[string]string, limit int) ([]models.Entity, error) {
			return []models.Entity{dealEntity("1", "Premium Contract 2024", nil)}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "search_hubspot_deals",
		json.RawMessage(`{"filters": {"dealname": "Premium", "dealstage": "proposal"}, "limit": 3}`))
	require.NoError(t, err)

	assert.Equal(t, models.KindDeal, fake.lastSearchKind)
	assert.Equal(t, map[string]string{"dealname": "Premium", "dealstage": "proposal"}, fake.lastFilters)
	assert.Contains(t, res.Markdown, "💰 **Deals** (1 found)")
}

func TestSearchDealsRejectsUnknownFilter(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)

	_, err := reg.Execute(context.Background(), "search_hubspot_deals",
		json.RawMessage(`{"filters": {"bogus": "x"}}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindClient, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "bogus")
	assert.Zero(t, fake.searchCalls)
}

func TestSearchDealsEmptyFiltersValid(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "search_hubspot_deals", json.RawMessage(`{"filters": {}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.searchCalls)
	assert.Contains(t, res.Markdown, "💰 **Deals** (0 found)")
}

func TestGetDealProperties(t *testing.T) {
	fake := &fakeCRM{
		propertiesFn: func(kind models.EntityKind) ([]models.PropertyDescriptor, error) {
			return []models.PropertyDescriptor{
				{Name: "amount", Label: "Amount", Type: "number", GroupName: "dealinformation"},
				{
					Name: "dealstage", Label: "Deal Stage", Type: "enumeration", FieldType: "select",
					GroupName: "dealinformation",
					Options:   []models.PropertyOption{{Label: "Proposal", Value: "proposal"}},
				},
			}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "get_hubspot_deal_properties", nil)
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "🔧 **Deal Properties** (2 found)")
	assert.Contains(t, res.Markdown, "### dealinformation")
	assert.Contains(t, res.Markdown, "- **Amount** (`amount`, number)")
	assert.Contains(t, res.Markdown, "enumeration/select")
	assert.Contains(t, res.Markdown, "Options: Proposal")
}

func TestGetDealByNameFoundAndCached(t *testing.T) {
	fake := &fakeCRM{
		getByNameFn: func(name string) (*models.Entity, error) {
			if name == "Premium Contract 2024" {
				e := dealEntity("789012", "Premium Contract 2024", map[string]string{"dealstage": "proposal"})
				return &e, nil
			}
			return nil, nil
		},
	}
	reg := newCRMRegistry(t, fake)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "get_deal_by_name", json.RawMessage(`{"deal_name": "Premium Contract 2024"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "💰 **Deal Found**")
	assert.Contains(t, res.Markdown, "**Premium Contract 2024**")

	_, err = reg.Execute(ctx, "get_deal_by_name", json.RawMessage(`{"deal_name": "Premium Contract 2024"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.getByNameCalls)
}

func TestGetDealByNameNotFound(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)
	ctx := context.Background()

	_, err := reg.Execute(ctx, "get_deal_by_name", json.RawMessage(`{"deal_name": "Missing Deal"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindNotFound, pkgerrors.KindOf(err))
	assert.Contains(t, pkgerrors.UserMarkdownOf(err), "❌ **Deal Not Found**")
	assert.Contains(t, pkgerrors.UserMarkdownOf(err), "Missing Deal")

	// Failures never enter the cache: the second call reaches the CRM again.
	_, err = reg.Execute(ctx, "get_deal_by_name", json.RawMessage(`{"deal_name": "Missing Deal"}`))
	require.Error(t, err)
	assert.Equal(t, 2, fake.getByNameCalls)

	_, err = reg.Execute(ctx, "get_deal_by_name", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal_name is required")
}

func TestCreateDealBuildsPropertyMap(t *testing.T) {
	var got map[string]string
	fake := &fakeCRM{
		createFn: func(properties map[string]string) (*models.Entity, error) {
			got = properties
			return &models.Entity{ID: "900001", Kind: models.KindDeal, Properties: properties}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "create_deal",
		json.RawMessage(`{"dealname": "Q3 Renewal", "amount": "1200", "description": ""}`))
	require.NoError(t, err)

	// Empty optional fields never reach the CRM payload.
	assert.Equal(t, map[string]string{"dealname": "Q3 Renewal", "amount": "1200"}, got)
	assert.Contains(t, res.Markdown, "💰 **Deal Created**")
	assert.Contains(t, res.Markdown, "Amount: €1,200.00")
	assert.Contains(t, res.Markdown, "ID: 900001")
}

func TestCreateDealRequiresName(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)

	_, err := reg.Execute(context.Background(), "create_deal", json.RawMessage(`{"amount": "5"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindClient, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "dealname is required")
}

func TestUpdateDeal(t *testing.T) {
	var gotID string
	var gotProps map[string]string
	fake := &fakeCRM{
		updateFn: func(id string, properties map[string]string) (*models.Entity, error) {
			gotID, gotProps = id, properties
			return &models.Entity{ID: id, Kind: models.KindDeal, Properties: map[string]string{
				"dealname":  "Premium Contract 2024",
				"dealstage": "closedwon",
			}}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "update_deal",
		json.RawMessage(`{"deal_id": "789012", "properties": {"dealstage": "closedwon"}}`))
	require.NoError(t, err)

	assert.Equal(t, "789012", gotID)
	assert.Equal(t, map[string]string{"dealstage": "closedwon"}, gotProps)
	assert.Contains(t, res.Markdown, "💰 **Deal Updated**")
	assert.Contains(t, res.Markdown, "Stage: closedwon")
}

func TestUpdateDealRejectsEmptyProperties(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)
	ctx := context.Background()

	_, err := reg.Execute(ctx, "update_deal", json.RawMessage(`{"deal_id": "789012", "properties": {}}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindClient, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "at least one property")
	assert.Contains(t, pkgerrors.UserMarkdownOf(err), "❌ **Update Rejected**")

	_, err = reg.Execute(ctx, "update_deal", json.RawMessage(`{"deal_id": "789012"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "properties is required")
}

func TestContactAndCompanySearchFilters(t *testing.T) {
	fake := &fakeCRM{}
	reg := newCRMRegistry(t, fake)
	ctx := context.Background()

	_, err := reg.Execute(ctx, "search_hubspot_contacts", json.RawMessage(`{"filters": {"email": "jane@corp.io"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.KindContact, fake.lastSearchKind)
	assert.Equal(t, map[string]string{"email": "jane@corp.io"}, fake.lastFilters)

	_, err = reg.Execute(ctx, "search_hubspot_companies", json.RawMessage(`{"filters": {"domain": "corp.io"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.KindCompany, fake.lastSearchKind)

	// Contact filter fields are not part of the company schema.
	_, err = reg.Execute(ctx, "search_hubspot_companies", json.RawMessage(`{"filters": {"email": "jane@corp.io"}}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindClient, pkgerrors.KindOf(err))
}

func TestListEngagements(t *testing.T) {
	fake := &fakeCRM{
		listFn: func(kind models.EntityKind, limit int, after string) (*models.Page, error) {
			assert.Equal(t, models.KindEngagement, kind)
			return &models.Page{Entities: []models.Entity{{
				ID:   "55",
				Kind: models.KindEngagement,
				Properties: map[string]string{
					"subject":        "Kickoff call",
					"engagementType": "CALL",
				},
			}}}, nil
		},
	}
	reg := newCRMRegistry(t, fake)

	res, err := reg.Execute(context.Background(), "list_hubspot_engagements", json.RawMessage(`{"limit": 2}`))
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "📞 **Engagements** (1 found)")
	assert.Contains(t, res.Markdown, "**Kickoff call**")
	assert.Contains(t, res.Markdown, "Type: CALL")
}
