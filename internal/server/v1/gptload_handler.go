package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/pkg/api"
	"go.uber.org/zap"
)

const statusCacheKey = "gptload:status"

// HandleGPTLoadStatus checks gpt-load health and counts its groups. The answer is cached for
// the configured TTL; an unreachable gpt-load is reported, not raised.
//
// GET /api/gptload/status
func (h *Handler) HandleGPTLoadStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var cached api.GPTLoadStatusResponse
	if h.statusTTL > 0 {
		if err := h.cache.Get(ctx, statusCacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	resp := api.GPTLoadStatusResponse{URL: h.gptURL, CheckedAt: h.now().UTC()}
	if err := h.gptload.Health(ctx); err != nil {
		resp.Error = err.Error()
	} else if groups, err := h.gptload.ListGroups(ctx); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Healthy = true
		resp.Groups = len(groups)
		for _, g := range groups {
			if g.IsAggregate() {
				resp.Aggregate++
			} else {
				resp.Standard++
			}
		}
	}

	if h.statusTTL > 0 {
		if err := h.cache.Set(ctx, statusCacheKey, resp, h.statusTTL); err != nil {
			h.logger.Warn("failed to cache gpt-load status", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListGroups returns the groups recorded by the last sync.
//
// GET /api/gptload/groups
func (h *Handler) HandleListGroups(c *gin.Context) {
	groups, err := h.repo.Groups().List(c.Request.Context())
	if err != nil {
		storeError(c, "groups", err)
		return
	}

	out := make([]api.GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroup(g))
	}
	c.JSON(http.StatusOK, out)
}
