package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// keywordEmbedder maps texts onto fixed feature axes so similarities are
// predictable: one axis per keyword plus a small bias axis.
type keywordEmbedder struct {
	keywords []string
	batches  atomic.Int32
	failNext atomic.Bool
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"enterprise", "renewal", "trial", "smb"}}
}

func (f *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failNext.CompareAndSwap(true, false) {
		return nil, pkgerrors.New(pkgerrors.KindTransient, "embedder unavailable")
	}
	f.batches.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(f.keywords)+1)
		lower := strings.ToLower(text)
		for k, keyword := range f.keywords {
			if strings.Contains(lower, keyword) {
				vec[k] = 1
			}
		}
		vec[len(f.keywords)] = 0.1
		out[i] = vec
	}
	return out, nil
}

func (f *keywordEmbedder) Dimension() int    { return len(f.keywords) + 1 }
func (f *keywordEmbedder) ModelName() string { return "keyword-test" }

type fixtureSource struct {
	entities map[models.EntityKind][]models.Entity
	err      error
	calls    atomic.Int32
}

func (f *fixtureSource) IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	entities := f.entities[kind]
	if maxEntities > 0 && len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	for _, e := range entities {
		if err := fn(e); err != nil {
			return 0, err
		}
	}
	return len(entities), nil
}

func dealFixture(id, name string) models.Entity {
	return models.Entity{
		ID:         id,
		Kind:       models.KindDeal,
		Properties: map[string]string{"dealname": name},
	}
}

func newTestManager(t *testing.T, source *fixtureSource, embedder Embedder) *Manager {
	t.Helper()
	return NewManager(source, embedder, ManagerConfig{Enabled: true}, observability.NewNoopLogger(), nil)
}

func TestManager_BuildAndSearch(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {
			dealFixture("1", "Enterprise Renewal"),
			dealFixture("2", "SMB Trial"),
		},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	report, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalIndexed)
	assert.Equal(t, "keyword-test", report.ModelName)
	require.Contains(t, report.Results, "deal")
	assert.Equal(t, string(StatusReady), report.Results["deal"].Status)
	assert.Equal(t, string(AlgorithmFlat), report.Results["deal"].Algorithm)

	result, err := m.Search(context.Background(), "enterprise contract", []models.EntityKind{models.KindDeal}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1, "only the matching deal clears the threshold")
	assert.Equal(t, "1", result.Hits[0].ID)
	assert.Equal(t, models.KindDeal, result.Hits[0].Kind)
	assert.Greater(t, result.Hits[0].Score, 0.5)
	assert.Contains(t, result.Hits[0].Snippet, "Enterprise Renewal")
}

func TestManager_SearchBeforeBuildFails(t *testing.T) {
	m := newTestManager(t, &fixtureSource{}, newKeywordEmbedder())

	_, err := m.Search(context.Background(), "anything", nil, 10, 0)

	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
}

func TestManager_SearchSkipsUnreadyKinds(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	result, err := m.Search(context.Background(), "enterprise", nil, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.ElementsMatch(t, []string{"contact", "company", "engagement"}, result.SkippedKinds)
}

func TestManager_SearchEmptyQuery(t *testing.T) {
	m := newTestManager(t, &fixtureSource{}, newKeywordEmbedder())

	_, err := m.Search(context.Background(), "   ", nil, 10, 0)

	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindClient, pkgerrors.KindOf(err))
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(&fixtureSource{}, newKeywordEmbedder(), ManagerConfig{Enabled: false}, observability.NewNoopLogger(), nil)

	assert.False(t, m.Enabled())
	_, err := m.Build(context.Background(), BuildOptions{})
	assert.Equal(t, pkgerrors.KindDisabled, pkgerrors.KindOf(err))
	_, err = m.Search(context.Background(), "q", nil, 5, 0)
	assert.Equal(t, pkgerrors.KindDisabled, pkgerrors.KindOf(err))
	_, err = m.Browse(context.Background(), BrowseOptions{})
	assert.Equal(t, pkgerrors.KindDisabled, pkgerrors.KindOf(err))
}

func TestManager_NilEmbedderIsDisabled(t *testing.T) {
	m := NewManager(&fixtureSource{}, nil, ManagerConfig{Enabled: true}, observability.NewNoopLogger(), nil)

	assert.False(t, m.Enabled())
	stats := m.Stats()
	assert.False(t, stats.Enabled)
	assert.Equal(t, string(StatusEmpty), stats.Status)
}

func TestManager_ClearResetsToEmpty(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	cleared := m.Clear([]models.EntityKind{models.KindDeal})
	assert.Equal(t, 1, cleared)

	stats := m.Stats()
	assert.Equal(t, string(StatusEmpty), stats.Status)
	assert.Equal(t, 0, stats.TotalCount)
	assert.Equal(t, string(StatusEmpty), stats.PerKind["deal"].Status)

	_, err = m.Search(context.Background(), "enterprise", []models.EntityKind{models.KindDeal}, 5, 0)
	assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
}

func TestManager_FailedRebuildMarksStale(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	embedder := newKeywordEmbedder()
	m := newTestManager(t, source, embedder)

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	embedder.failNext.Store(true)
	report, err := m.Rebuild(context.Background(), []models.EntityKind{models.KindDeal})
	require.NoError(t, err, "per-kind failures are reported, not returned")
	assert.NotEmpty(t, report.Results["deal"].Error)
	assert.Equal(t, string(StatusStale), report.Results["deal"].Status)

	_, err = m.Search(context.Background(), "enterprise", []models.EntityKind{models.KindDeal}, 5, 0)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "rebuild required")
}

func TestManager_FailedFirstBuildStaysEmpty(t *testing.T) {
	source := &fixtureSource{err: pkgerrors.New(pkgerrors.KindTransient, "CRM down")}
	m := newTestManager(t, source, newKeywordEmbedder())

	report, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)
	assert.Equal(t, string(StatusEmpty), report.Results["deal"].Status)
	assert.NotEmpty(t, report.Results["deal"].Error)

	stats := m.Stats()
	assert.Equal(t, string(StatusEmpty), stats.PerKind["deal"].Status)
}

func TestManager_MarkStale(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	m.MarkStale(models.KindDeal)

	stats := m.Stats()
	assert.Equal(t, string(StatusStale), stats.PerKind["deal"].Status)
	_, err = m.Search(context.Background(), "enterprise", []models.EntityKind{models.KindDeal}, 5, 0)
	assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
}

func TestManager_RebuildRestoresSearch(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)
	m.MarkStale(models.KindDeal)

	report, err := m.Rebuild(context.Background(), []models.EntityKind{models.KindDeal})
	require.NoError(t, err)
	assert.Equal(t, string(StatusReady), report.Results["deal"].Status)

	result, err := m.Search(context.Background(), "enterprise", []models.EntityKind{models.KindDeal}, 5, 0)
	require.NoError(t, err)
	assert.Len(t, result.Hits, 1)
}

func TestManager_BuildRespectsLimit(t *testing.T) {
	var deals []models.Entity
	for i := 0; i < 25; i++ {
		deals = append(deals, dealFixture(fmt.Sprintf("%d", i), fmt.Sprintf("Deal %d", i)))
	}
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{models.KindDeal: deals}}
	m := newTestManager(t, source, newKeywordEmbedder())

	report, err := m.Build(context.Background(), BuildOptions{
		Kinds: []models.EntityKind{models.KindDeal},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Results["deal"].Count)
}

func TestManager_CrossKindMergeOrdering(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("deal-1", "Enterprise Renewal")},
		models.KindCompany: {{
			ID:         "co-1",
			Kind:       models.KindCompany,
			Properties: map[string]string{"name": "Enterprise Renewal"},
		}},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{
		Kinds: []models.EntityKind{models.KindCompany, models.KindDeal},
	})
	require.NoError(t, err)

	result, err := m.Search(context.Background(), "enterprise renewal",
		[]models.EntityKind{models.KindDeal, models.KindCompany}, 10, 0)
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	// Equal scores: company sorts before deal in the kind merge order.
	assert.Equal(t, models.KindCompany, result.Hits[0].Kind)
	assert.Equal(t, models.KindDeal, result.Hits[1].Kind)
	assert.InDelta(t, result.Hits[0].Score, result.Hits[1].Score, 1e-6)
}

func TestManager_Browse(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {
			dealFixture("1", "Enterprise Renewal"),
			dealFixture("2", "SMB Trial"),
			dealFixture("3", "Enterprise Expansion"),
		},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	page, err := m.Browse(context.Background(), BrowseOptions{Kind: models.KindDeal})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, "1", page.Entries[0].ID)
	assert.Empty(t, page.Entries[0].Text, "content withheld unless requested")

	page, err = m.Browse(context.Background(), BrowseOptions{Kind: models.KindDeal, Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "2", page.Entries[0].ID)

	page, err = m.Browse(context.Background(), BrowseOptions{Kind: models.KindDeal, IncludeContent: true})
	require.NoError(t, err)
	assert.Contains(t, page.Entries[0].Text, "dealname: Enterprise Renewal")
}

func TestManager_BrowseTextFilter(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {
			dealFixture("1", "Enterprise Renewal"),
			dealFixture("2", "SMB Trial"),
		},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	page, err := m.Browse(context.Background(), BrowseOptions{Kind: models.KindDeal, TextFilter: "ENTERPRISE"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "1", page.Entries[0].ID)
	assert.Contains(t, page.Entries[0].Snippet, "Enterprise")
}

func TestManager_BrowseUnbuiltKindFails(t *testing.T) {
	m := newTestManager(t, &fixtureSource{}, newKeywordEmbedder())

	_, err := m.Browse(context.Background(), BrowseOptions{Kind: models.KindContact})

	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
}

func TestManager_Stats(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	stats := m.Stats()
	assert.Equal(t, string(StatusEmpty), stats.Status)
	assert.Len(t, stats.PerKind, 4)

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	stats = m.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, string(StatusReady), stats.Status)
	assert.Equal(t, 1, stats.TotalCount)
	assert.Equal(t, "keyword-test", stats.ModelName)
	assert.Equal(t, 5, stats.Dimension)
	assert.Equal(t, string(AlgorithmFlat), stats.IndexKind)

	deal := stats.PerKind["deal"]
	assert.Equal(t, 1, deal.Count)
	assert.Equal(t, string(StatusReady), deal.Status)
	require.NotNil(t, deal.BuiltAt)
	assert.False(t, deal.BuiltAt.IsZero())
}

func TestManager_BuildTwiceIsIdempotent(t *testing.T) {
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{
		models.KindDeal: {dealFixture("1", "Enterprise Renewal")},
	}}
	m := newTestManager(t, source, newKeywordEmbedder())

	for i := 0; i < 2; i++ {
		report, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.TotalIndexed)
	}

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalCount)
	assert.Equal(t, string(StatusReady), stats.PerKind["deal"].Status)
}

func TestManager_SearchDuringConcurrentRebuild(t *testing.T) {
	var deals []models.Entity
	for i := 0; i < 50; i++ {
		deals = append(deals, dealFixture(fmt.Sprintf("%d", i), "Enterprise Renewal"))
	}
	source := &fixtureSource{entities: map[models.EntityKind][]models.Entity{models.KindDeal: deals}}
	m := newTestManager(t, source, newKeywordEmbedder())

	_, err := m.Build(context.Background(), BuildOptions{Kinds: []models.EntityKind{models.KindDeal}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _ = m.Rebuild(context.Background(), []models.EntityKind{models.KindDeal})
		}
	}()

	// Readers must always see either a complete index or a clean NotReady.
	for i := 0; i < 100; i++ {
		result, err := m.Search(context.Background(), "enterprise", []models.EntityKind{models.KindDeal}, 5, 0)
		if err != nil {
			assert.Equal(t, pkgerrors.KindNotReady, pkgerrors.KindOf(err))
			continue
		}
		assert.LessOrEqual(t, len(result.Hits), 5)
	}
	<-done
}
