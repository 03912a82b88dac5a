package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

// reindexKinds are the CRM record types rebuilt by /force-reindex.
// Engagements are excluded: they are indexed on demand, not bulk-loaded.
var reindexKinds = []models.EntityKind{models.KindContact, models.KindCompany, models.KindDeal}

// handleFaissData reports per-kind index status. It answers even when
// embeddings are disabled so operators can see the disabled state.
func (s *Server) handleFaissData(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Manager.Stats())
}

// handleForceReindex clears the result cache and rebuilds the contact,
// company and deal indices from the CRM. The response narrates each step so
// the caller can see partial failures without digging through logs.
func (s *Server) handleForceReindex(c *gin.Context) {
	start := time.Now()
	progress := make([]string, 0, len(reindexKinds)+3)

	cleared := s.deps.Cache.Clear()
	progress = append(progress, fmt.Sprintf("Cleared %d cache entries", cleared.Cleared))

	entityTypes := make([]string, len(reindexKinds))
	for i, kind := range reindexKinds {
		entityTypes[i] = string(kind)
	}

	successful := 0
	total := 0
	report, err := s.deps.Manager.Build(c.Request.Context(), embedding.BuildOptions{Kinds: reindexKinds})
	switch {
	case err != nil && pkgerrors.KindOf(err) == pkgerrors.KindDisabled:
		progress = append(progress, "Embeddings are disabled; skipped index rebuild")
	case err != nil:
		progress = append(progress, "Index rebuild aborted: "+err.Error())
	default:
		for _, kind := range reindexKinds {
			res := report.Results[string(kind)]
			if res.Error != "" {
				progress = append(progress, fmt.Sprintf("%s: build failed: %s", kind, res.Error))
				continue
			}
			successful++
			progress = append(progress, fmt.Sprintf("%s: indexed %d records in %dms (%s)",
				kind, res.Count, res.DurationMs, res.Algorithm))
		}
		total = report.TotalIndexed
	}
	progress = append(progress, fmt.Sprintf("Completed in %dms", time.Since(start).Milliseconds()))

	s.logger.Info("Force reindex finished", map[string]interface{}{
		"cleared_cache":     cleared.Cleared,
		"successful_kinds":  successful,
		"entities_loaded":   total,
		"total_duration_ms": time.Since(start).Milliseconds(),
	})

	c.JSON(http.StatusOK, gin.H{
		"clearedCache":          cleared.Cleared,
		"entityTypes":           entityTypes,
		"successfulEntityTypes": successful,
		"totalEntitiesLoaded":   total,
		"progressLog":           progress,
		"finalStats":            s.deps.Manager.Stats(),
	})
}
