// Package embedding maintains per-kind vector indices over textual
// serializations of CRM records and answers semantic queries against them.
// Indices live purely in memory and follow a read-copy-update discipline:
// builds assemble a complete snapshot off to the side and swap it in with a
// single atomic store, so searches never observe a half-built index.
package embedding

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Status describes one kind's index lifecycle state.
type Status string

const (
	// StatusEmpty means no index has been built.
	StatusEmpty Status = "empty"
	// StatusBuilding means a build is replacing the index right now.
	StatusBuilding Status = "building"
	// StatusReady means the index answers queries.
	StatusReady Status = "ready"
	// StatusStale means the index no longer matches the loaded records and
	// must be rebuilt before it answers queries again.
	StatusStale Status = "stale"
)

const (
	// DefaultBuildLimit caps how many records a build pulls per kind when
	// the caller does not say otherwise.
	DefaultBuildLimit = 1000

	// DefaultBrowseLimit pages the browse facet.
	DefaultBrowseLimit = 20
	maxBrowseLimit     = 100

	embedBatchSize     = 100
	embedConcurrency   = 4
	snippetContext     = 40
	searchSnippetWidth = 120
)

// EntitySource pulls records from the CRM page by page. Satisfied by the
// CRM client; tests substitute a fixture.
type EntitySource interface {
	IterateAll(ctx context.Context, kind models.EntityKind, pageSize, maxEntities int, properties []string, fn func(models.Entity) error) (int, error)
}

// SearchHit is one semantic search result.
type SearchHit struct {
	ID      string            `json:"id"`
	Kind    models.EntityKind `json:"kind"`
	Score   float64           `json:"score"`
	Snippet string            `json:"snippet"`
}

// SearchResult carries the merged hits plus the kinds that were requested
// but had no queryable index.
type SearchResult struct {
	Hits         []SearchHit
	SkippedKinds []string
}

// BrowseOptions selects a window of indexed entries.
type BrowseOptions struct {
	// Kind restricts browsing to one kind; empty browses every ready kind.
	Kind           models.EntityKind
	Offset         int
	Limit          int
	TextFilter     string
	IncludeContent bool
}

// BrowseEntry is one indexed record as seen by the browse facet.
type BrowseEntry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Snippet  string `json:"snippet,omitempty"`
	Text     string `json:"text,omitempty"`
}

// BrowsePage is a cursorless offset/limit window over indexed entries.
type BrowsePage struct {
	Entries []BrowseEntry `json:"entries"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
}

// BuildOptions configures a build pass.
type BuildOptions struct {
	// Kinds lists the kinds to build; empty means every kind.
	Kinds []models.EntityKind
	// Limit caps records pulled per kind; non-positive uses DefaultBuildLimit.
	Limit int
	// Algorithm forces flat or partitioned; empty lets the size decide.
	Algorithm IndexAlgorithm
}

// KindBuildResult reports one kind's outcome within a build pass.
type KindBuildResult struct {
	Count      int    `json:"count"`
	Status     string `json:"status"`
	Algorithm  string `json:"algorithm,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// BuildReport summarizes a build pass across kinds.
type BuildReport struct {
	Results      map[string]KindBuildResult `json:"results"`
	TotalIndexed int                        `json:"totalIndexed"`
	Dimension    int                        `json:"dimension"`
	ModelName    string                     `json:"modelName"`
}

// KindStats is the per-kind slice of Stats.
type KindStats struct {
	Count     int        `json:"count"`
	Status    string     `json:"status"`
	BuiltAt   *time.Time `json:"builtAt,omitempty"`
	Algorithm string     `json:"algorithm,omitempty"`
}

// Stats describes every index the manager holds.
type Stats struct {
	Status     string               `json:"status"`
	Enabled    bool                 `json:"enabled"`
	PerKind    map[string]KindStats `json:"perKind"`
	TotalCount int                  `json:"totalCount"`
	Dimension  int                  `json:"dimension"`
	IndexKind  string               `json:"indexKind"`
	ModelName  string               `json:"modelName"`
}

// kindState tracks one kind's lifecycle. The snapshot pointer is atomic so
// queries read it without holding the manager lock; everything else is
// guarded by Manager.mu.
type kindState struct {
	status  Status
	builtAt time.Time
	snap    atomic.Pointer[snapshot]

	// trained keeps the coarse quantizer from the first partitioned build
	// so rebuilds retain their cell layout.
	trained *coarseQuantizer

	// lastLimit and lastAlgorithm remember the build configuration that
	// rebuild replays.
	lastLimit     int
	lastAlgorithm IndexAlgorithm
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Enabled gates every embedding feature. A manager with no embedder is
	// disabled regardless.
	Enabled bool
	// DefaultLimit overrides DefaultBuildLimit when positive.
	DefaultLimit int
}

// Manager owns the per-kind indices.
type Manager struct {
	source   EntitySource
	embedder Embedder
	logger   observability.Logger
	metrics  *metrics.Metrics

	enabled      bool
	defaultLimit int
	sem          *semaphore.Weighted

	mu     sync.Mutex
	states map[models.EntityKind]*kindState
}

// NewManager wires the manager to its record source and embedder.
func NewManager(source EntitySource, embedder Embedder, cfg ManagerConfig, logger observability.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = DefaultBuildLimit
	}
	return &Manager{
		source:       source,
		embedder:     embedder,
		logger:       logger.WithPrefix("embeddings"),
		metrics:      m,
		enabled:      cfg.Enabled && embedder != nil,
		defaultLimit: limit,
		sem:          semaphore.NewWeighted(embedConcurrency),
		states:       make(map[models.EntityKind]*kindState),
	}
}

// Enabled reports whether embedding features are available.
func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) disabledErr() error {
	return pkgerrors.New(pkgerrors.KindDisabled,
		"semantic search is disabled: set embeddings_enabled and configure an embedding endpoint")
}

// state returns the tracked state for a kind, creating it on first use.
// Callers must hold m.mu.
func (m *Manager) state(kind models.EntityKind) *kindState {
	st, ok := m.states[kind]
	if !ok {
		st = &kindState{status: StatusEmpty}
		m.states[kind] = st
	}
	return st
}

// Build indexes the requested kinds from the CRM. Kinds fail independently:
// one kind's error is recorded in the report and the pass moves on, unless
// the context itself has ended.
func (m *Manager) Build(ctx context.Context, opts BuildOptions) (*BuildReport, error) {
	if !m.enabled {
		return nil, m.disabledErr()
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = m.defaultLimit
	}

	report := &BuildReport{Results: make(map[string]KindBuildResult, len(kinds))}
	for _, kind := range kinds {
		result := m.buildKind(ctx, kind, limit, opts.Algorithm, nil, false)
		report.Results[string(kind)] = result
		report.TotalIndexed += result.Count
		if result.Error != "" && ctx.Err() != nil {
			m.fillReportMeta(report)
			return report, pkgerrors.FromContext(ctx, ctx.Err())
		}
	}
	m.fillReportMeta(report)
	return report, nil
}

// Rebuild clears and rebuilds each kind with the configuration of its
// previous build.
func (m *Manager) Rebuild(ctx context.Context, kinds []models.EntityKind) (*BuildReport, error) {
	if !m.enabled {
		return nil, m.disabledErr()
	}
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}

	report := &BuildReport{Results: make(map[string]KindBuildResult, len(kinds))}
	for _, kind := range kinds {
		m.mu.Lock()
		st := m.state(kind)
		limit := st.lastLimit
		algorithm := st.lastAlgorithm
		trained := st.trained
		hadIndex := st.snap.Load() != nil || st.status == StatusStale
		m.mu.Unlock()
		if limit <= 0 {
			limit = m.defaultLimit
		}

		m.clearKind(kind, false)
		result := m.buildKind(ctx, kind, limit, algorithm, trained, hadIndex)
		report.Results[string(kind)] = result
		report.TotalIndexed += result.Count
		if result.Error != "" && ctx.Err() != nil {
			m.fillReportMeta(report)
			return report, pkgerrors.FromContext(ctx, ctx.Err())
		}
	}
	m.fillReportMeta(report)
	return report, nil
}

func (m *Manager) fillReportMeta(report *BuildReport) {
	report.Dimension = m.embedder.Dimension()
	report.ModelName = m.embedder.ModelName()
}

// buildKind runs one kind's build pipeline: pull records, serialize, embed,
// assemble a snapshot, swap it in. rebuiltIndex marks kinds that carried an
// index before a rebuild cleared them, so a failure lands on stale.
func (m *Manager) buildKind(ctx context.Context, kind models.EntityKind, limit int, algorithm IndexAlgorithm, trained *coarseQuantizer, rebuiltIndex bool) KindBuildResult {
	start := time.Now()

	m.mu.Lock()
	st := m.state(kind)
	if st.status == StatusBuilding {
		m.mu.Unlock()
		return KindBuildResult{
			Status: string(StatusBuilding),
			Error:  "a build for this kind is already in progress",
		}
	}
	hadIndex := rebuiltIndex || st.snap.Load() != nil || st.status == StatusStale
	st.status = StatusBuilding
	if trained == nil {
		trained = st.trained
	}
	m.mu.Unlock()

	entities := make([]models.Entity, 0, limit)
	_, err := m.source.IterateAll(ctx, kind, 100, limit, nil, func(e models.Entity) error {
		entities = append(entities, e)
		return nil
	})
	if err != nil {
		return m.failBuild(kind, hadIndex, start, err)
	}

	result, _ := m.buildFromRecords(ctx, kind, entities, limit, algorithm, trained, hadIndex, start)
	return result
}

// BuildFromEntities indexes records the caller already holds, e.g. after a
// bulk load with full properties.
func (m *Manager) BuildFromEntities(ctx context.Context, kind models.EntityKind, entities []models.Entity, algorithm IndexAlgorithm) (KindBuildResult, error) {
	if !m.enabled {
		return KindBuildResult{}, m.disabledErr()
	}
	start := time.Now()

	m.mu.Lock()
	st := m.state(kind)
	if st.status == StatusBuilding {
		m.mu.Unlock()
		return KindBuildResult{}, pkgerrors.New(pkgerrors.KindTransient,
			"a build for this kind is already in progress")
	}
	hadIndex := st.snap.Load() != nil || st.status == StatusStale
	trained := st.trained
	st.status = StatusBuilding
	m.mu.Unlock()

	return m.buildFromRecords(ctx, kind, entities, len(entities), algorithm, trained, hadIndex, start)
}

func (m *Manager) buildFromRecords(ctx context.Context, kind models.EntityKind, entities []models.Entity, limit int, algorithm IndexAlgorithm, trained *coarseQuantizer, hadIndex bool, start time.Time) (KindBuildResult, error) {
	texts := make([]string, len(entities))
	indexed := make([]IndexedText, len(entities))
	for i, e := range entities {
		texts[i] = EntityText(e)
		indexed[i] = IndexedText{ID: e.ID, Kind: kind, Text: texts[i]}
	}

	vectors, err := m.embedTexts(ctx, texts)
	if err != nil {
		return m.failBuild(kind, hadIndex, start, err), err
	}

	resolved := chooseAlgorithm(algorithm, len(vectors))
	var snap *snapshot
	if len(vectors) > 0 {
		snap = newSnapshot(vectors, indexed, resolved, trained)
	}

	m.mu.Lock()
	st := m.state(kind)
	if snap != nil {
		st.snap.Store(snap)
		st.status = StatusReady
		st.builtAt = snap.builtAt
		if resolved == AlgorithmPartitioned {
			st.trained = snap.coarse
		}
	} else {
		st.snap.Store(nil)
		st.status = StatusEmpty
		st.builtAt = time.Time{}
	}
	st.lastLimit = limit
	st.lastAlgorithm = algorithm
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetIndexedEntities(string(kind), len(entities))
	}
	m.logger.Info("Index built", map[string]interface{}{
		"kind":      string(kind),
		"count":     len(entities),
		"algorithm": string(resolved),
		"duration":  time.Since(start).String(),
	})

	status := StatusReady
	if snap == nil {
		status = StatusEmpty
	}
	return KindBuildResult{
		Count:      len(entities),
		Status:     string(status),
		Algorithm:  string(resolved),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (m *Manager) failBuild(kind models.EntityKind, hadIndex bool, start time.Time, err error) KindBuildResult {
	status := StatusEmpty
	if hadIndex {
		status = StatusStale
	}
	m.mu.Lock()
	st := m.state(kind)
	st.status = status
	m.mu.Unlock()

	m.logger.Warn("Index build failed", map[string]interface{}{
		"kind":   string(kind),
		"status": string(status),
		"error":  err.Error(),
	})
	return KindBuildResult{
		Status:     string(status),
		DurationMs: time.Since(start).Milliseconds(),
		Error:      err.Error(),
	}
}

// embedTexts embeds texts in fixed-size batches with bounded concurrency,
// keeping results in input order.
func (m *Manager) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for offset := 0; offset < len(texts); offset += embedBatchSize {
		offset := offset
		end := offset + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			if err := m.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer m.sem.Release(1)

			batch, err := m.embedder.EmbedBatch(gctx, texts[offset:end])
			if m.metrics != nil {
				m.metrics.RecordEmbeddingBatch(err)
			}
			if err != nil {
				return err
			}
			if len(batch) != end-offset {
				return pkgerrors.Newf(pkgerrors.KindInternal,
					"embedder returned %d vectors for %d texts", len(batch), end-offset)
			}
			for i, vec := range batch {
				vectors[offset+i] = normalizeL2(vec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// MarkStale flags a ready index whose source records changed underneath it,
// e.g. after a bulk reload that skipped the rebuild.
func (m *Manager) MarkStale(kind models.EntityKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(kind)
	if st.status == StatusReady {
		st.status = StatusStale
	}
}

// Clear drops the indices for the given kinds (all kinds when empty) and
// returns how many indexed entries were released.
func (m *Manager) Clear(kinds []models.EntityKind) int {
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}
	cleared := 0
	for _, kind := range kinds {
		cleared += m.clearKind(kind, true)
	}
	return cleared
}

// clearKind resets one kind to empty. dropTrained also forgets the coarse
// quantizer; rebuilds keep it so the cell layout survives.
func (m *Manager) clearKind(kind models.EntityKind, dropTrained bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(kind)
	count := 0
	if snap := st.snap.Load(); snap != nil {
		count = len(snap.entries)
	}
	st.snap.Store(nil)
	st.status = StatusEmpty
	st.builtAt = time.Time{}
	if dropTrained {
		st.trained = nil
	}
	if m.metrics != nil {
		m.metrics.SetIndexedEntities(string(kind), 0)
	}
	return count
}

// readySnapshot returns the queryable snapshot for a kind, or the status
// explaining why there is none.
func (m *Manager) readySnapshot(kind models.EntityKind) (*snapshot, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[kind]
	if !ok {
		return nil, StatusEmpty
	}
	if st.status != StatusReady {
		return nil, st.status
	}
	return st.snap.Load(), StatusReady
}

// Search embeds the query and runs it against every requested kind that has
// a ready index. Kinds without one are listed in SkippedKinds; if no kind is
// queryable the call fails with KindNotReady.
func (m *Manager) Search(ctx context.Context, query string, kinds []models.EntityKind, k int, minScore float64) (*SearchResult, error) {
	if !m.enabled {
		return nil, m.disabledErr()
	}
	if strings.TrimSpace(query) == "" {
		return nil, pkgerrors.New(pkgerrors.KindClient, "query must not be empty")
	}
	if k <= 0 {
		k = 10
	}
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}

	type target struct {
		kind models.EntityKind
		snap *snapshot
	}
	var targets []target
	var skipped []string
	sawStale := false
	for _, kind := range kinds {
		snap, status := m.readySnapshot(kind)
		if snap == nil {
			skipped = append(skipped, string(kind))
			if status == StatusStale {
				sawStale = true
			}
			continue
		}
		targets = append(targets, target{kind: kind, snap: snap})
	}
	if len(targets) == 0 {
		if sawStale {
			return nil, pkgerrors.New(pkgerrors.KindNotReady,
				"embedding index is stale; rebuild required")
		}
		return nil, pkgerrors.New(pkgerrors.KindNotReady,
			"no embedding index is ready; build embeddings first")
	}

	queryVectors, err := m.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(queryVectors) != 1 {
		return nil, pkgerrors.Newf(pkgerrors.KindInternal,
			"embedder returned %d vectors for one query", len(queryVectors))
	}
	queryVec := normalizeL2(queryVectors[0])

	var hits []SearchHit
	for _, tgt := range targets {
		for _, scored := range tgt.snap.search(queryVec, k, minScore) {
			entry := tgt.snap.entries[scored.position]
			hits = append(hits, SearchHit{
				ID:      entry.ID,
				Kind:    entry.Kind,
				Score:   scored.score,
				Snippet: searchSnippet(entry.Text),
			})
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return &SearchResult{Hits: hits, SkippedKinds: skipped}, nil
}

// sortHits orders by descending score, breaking ties by kind merge order and
// then by id so results are stable.
func sortHits(hits []SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ri, rj := hits[i].Kind.MergeRank(), hits[j].Kind.MergeRank()
		if ri != rj {
			return ri < rj
		}
		return hits[i].ID < hits[j].ID
	})
}

// searchSnippet flattens a serialized record into one preview line.
func searchSnippet(text string) string {
	flat := strings.ReplaceAll(text, "\n", "; ")
	runes := []rune(flat)
	if len(runes) <= searchSnippetWidth {
		return flat
	}
	return string(runes[:searchSnippetWidth]) + "…"
}

// Browse pages through indexed entries. With a text filter only entries
// containing the filter (case-insensitive) are returned, each with a snippet
// around the first match.
func (m *Manager) Browse(ctx context.Context, opts BrowseOptions) (*BrowsePage, error) {
	if !m.enabled {
		return nil, m.disabledErr()
	}
	if opts.Offset < 0 {
		return nil, pkgerrors.New(pkgerrors.KindClient, "offset must not be negative")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBrowseLimit
	}
	if limit > maxBrowseLimit {
		limit = maxBrowseLimit
	}

	kinds := models.AllKinds()
	if opts.Kind != "" {
		kinds = []models.EntityKind{opts.Kind}
	}

	var snaps []*snapshot
	for _, kind := range kinds {
		snap, status := m.readySnapshot(kind)
		if snap == nil {
			if opts.Kind != "" {
				if status == StatusStale {
					return nil, pkgerrors.Newf(pkgerrors.KindNotReady,
						"index for %s is stale; rebuild required", kind)
				}
				return nil, pkgerrors.Newf(pkgerrors.KindNotReady,
					"no index built for %s", kind)
			}
			continue
		}
		snaps = append(snaps, snap)
	}

	filter := strings.ToLower(opts.TextFilter)
	page := &BrowsePage{Offset: opts.Offset, Limit: limit, Entries: []BrowseEntry{}}
	for _, snap := range snaps {
		for position, entry := range snap.entries {
			if err := ctx.Err(); err != nil {
				return nil, pkgerrors.FromContext(ctx, err)
			}
			snippet := ""
			if filter != "" {
				at := strings.Index(strings.ToLower(entry.Text), filter)
				if at < 0 {
					continue
				}
				snippet = contextSnippet(entry.Text, at, len(opts.TextFilter))
			}
			page.Total++
			if page.Total <= opts.Offset || len(page.Entries) >= limit {
				continue
			}
			be := BrowseEntry{
				ID:       entry.ID,
				Kind:     string(entry.Kind),
				Position: position,
				Snippet:  snippet,
			}
			if opts.IncludeContent {
				be.Text = entry.Text
			}
			page.Entries = append(page.Entries, be)
		}
	}
	return page, nil
}

// contextSnippet cuts ±snippetContext characters around a match, eliding
// with … where the text continues. Offsets are byte positions; case folding
// of non-ASCII text can shift them slightly, so bounds are clamped.
func contextSnippet(text string, matchStart, matchLen int) string {
	if matchStart > len(text) {
		matchStart = len(text)
	}
	matchEnd := matchStart + matchLen
	if matchEnd > len(text) {
		matchEnd = len(text)
	}

	runes := []rune(text)
	runeStart := len([]rune(text[:matchStart]))
	runeEnd := runeStart + len([]rune(text[matchStart:matchEnd]))

	from := runeStart - snippetContext
	if from < 0 {
		from = 0
	}
	to := runeEnd + snippetContext
	if to > len(runes) {
		to = len(runes)
	}
	snippet := strings.ReplaceAll(string(runes[from:to]), "\n", "; ")
	if from > 0 {
		snippet = "…" + snippet
	}
	if to < len(runes) {
		snippet += "…"
	}
	return snippet
}

// Stats reports every kind's index state. It works even when embeddings are
// disabled so operational endpoints always have something to show.
func (m *Manager) Stats() *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{
		Enabled:   m.enabled,
		PerKind:   make(map[string]KindStats, len(models.AllKinds())),
		IndexKind: string(AlgorithmFlat),
	}
	if m.embedder != nil {
		stats.Dimension = m.embedder.Dimension()
		stats.ModelName = m.embedder.ModelName()
	}

	largest := 0
	anyBuilding, anyReady, anyStale := false, false, false
	for _, kind := range models.AllKinds() {
		ks := KindStats{Status: string(StatusEmpty)}
		if st, ok := m.states[kind]; ok {
			ks.Status = string(st.status)
			if snap := st.snap.Load(); snap != nil {
				ks.Count = len(snap.entries)
				ks.Algorithm = string(snap.algorithm)
				if ks.Count > largest {
					largest = ks.Count
					stats.IndexKind = string(snap.algorithm)
				}
			}
			if !st.builtAt.IsZero() {
				builtAt := st.builtAt
				ks.BuiltAt = &builtAt
			}
			switch st.status {
			case StatusBuilding:
				anyBuilding = true
			case StatusReady:
				anyReady = true
			case StatusStale:
				anyStale = true
			}
		}
		stats.PerKind[string(kind)] = ks
		stats.TotalCount += ks.Count
	}

	switch {
	case anyBuilding:
		stats.Status = string(StatusBuilding)
	case anyReady:
		stats.Status = string(StatusReady)
	case anyStale:
		stats.Status = string(StatusStale)
	default:
		stats.Status = string(StatusEmpty)
	}
	return stats
}

// ReadyKinds lists the kinds whose indices currently answer queries.
func (m *Manager) ReadyKinds() []models.EntityKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []models.EntityKind
	for _, kind := range models.AllKinds() {
		if st, ok := m.states[kind]; ok && st.status == StatusReady {
			ready = append(ready, kind)
		}
	}
	return ready
}

// String renders a status for log lines.
func (s Status) String() string {
	return string(s)
}
