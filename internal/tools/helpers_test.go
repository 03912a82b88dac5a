package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCRM implements the CRM interface with programmable behavior. Call
// counters let tests assert how often the cache let a loader through.
type fakeCRM struct {
	apiKey string

	listCalls       int
	searchCalls     int
	propertiesCalls int
	getByNameCalls  int

	lastListLimit   int
	lastListAfter   string
	lastSearchKind  models.EntityKind
	lastFilters     map[string]string
	lastIterateMax  int
	lastIterateProp []string

	listFn       func(kind models.EntityKind, limit int, after string) (*models.Page, error)
	searchFn     func(kind models.EntityKind, filters map[string]string, limit int) ([]models.Entity, error)
	propertiesFn func(kind models.EntityKind) ([]models.PropertyDescriptor, error)
	createFn     func(properties map[string]string) (*models.Entity, error)
	updateFn     func(id string, properties map[string]string) (*models.Entity, error)
	getByNameFn  func(name string) (*models.Entity, error)
	iterateFn    func(kind models.EntityKind, fn func(models.Entity) error) (int, error)
}

func (f *fakeCRM) APIKey() string {
	if f.apiKey == "" {
		return "test-key"
	}
	return f.apiKey
}

func (f *fakeCRM) List(ctx context.Context, kind models.EntityKind, limit int, after string, properties []string) (*models.Page, error) {
	f.listCalls++
	f.lastListLimit = limit
	f.lastListAfter = after
	if f.listFn != nil {
		return f.listFn(kind, limit, after)
	}
	return &models.Page{}, nil
}

func (f *fakeCRM) Search(ctx context.Context, kind models.EntityKind, filters map[string]string, limit int) ([]models.Entity, error) {
	f.searchCalls++
	f.lastSearchKind = kind
	f.lastFilters = filters
	if f.searchFn != nil {
		return f.searchFn(kind, filters, limit)
	}
	return nil, nil
}

func (f *fakeCRM) ListProperties(ctx context.Context, kind models.EntityKind) ([]models.PropertyDescriptor, error) {
	f.propertiesCalls++
	if f.propertiesFn != nil {
		return f.propertiesFn(kind)
	}
	return nil, nil
}

func (f *fakeCRM) CreateDeal(ctx context.Context, properties map[string]string) (*models.Entity, error) {
	if f.createFn != nil {
		return f.createFn(properties)
	}
	return &models.Entity{ID: "created", Kind: models.KindDeal, Properties: properties}, nil
}

func (f *fakeCRM) UpdateDeal(ctx context.Context, id string, properties map[string]string) (*models.Entity, error) {
	if f.updateFn != nil {
		return f.updateFn(id, properties)
	}
	return &models.Entity{ID: id, Kind: models.KindDeal, Properties: properties}, nil
}

func (f *fakeCRM) GetDealByName(ctx context.Context, name string) (*models.Entity, error) {
	f.getByNameCalls++
	if f.getByNameFn != nil {
		return f.getByNameFn(name)
	}
	return nil, nil
}

func (f *fakeCRM) IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error) {
	f.lastIterateMax = maxEntities
	f.lastIterateProp = properties
	if f.iterateFn != nil {
		return f.iterateFn(kind, fn)
	}
	return 0, nil
}

// stubEmbedder maps keyword hits onto fixed axes so similarity is
// predictable without a provider.
type stubEmbedder struct{}

var stubAxes = []string{"enterprise", "renewal", "trial", "smb"}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(stubAxes)+1)
		lower := strings.ToLower(text)
		for axis, word := range stubAxes {
			if strings.Contains(lower, word) {
				vec[axis] = 1
			}
		}
		vec[len(stubAxes)] = 0.1
		out[i] = vec
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return len(stubAxes) + 1 }
func (stubEmbedder) ModelName() string { return "stub-embedder" }

// dealEntity builds a deal record with raw bytes, the shape the CRM client
// produces.
func dealEntity(id, name string, extra map[string]string) models.Entity {
	props := map[string]string{"dealname": name}
	for k, v := range extra {
		props[k] = v
	}
	raw, _ := json.Marshal(map[string]interface{}{"id": id, "properties": props})
	return models.Entity{ID: id, Kind: models.KindDeal, Properties: props, Raw: raw}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return data
}

func rawArgs(format string, args ...interface{}) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(format, args...))
}
