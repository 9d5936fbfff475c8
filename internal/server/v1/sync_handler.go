package v1

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/syncer"
	"github.com/nulzo/gptload-sync/internal/uniapi"
	"github.com/nulzo/gptload-sync/pkg/api"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HandleSync runs a full sync and answers with its final record. A run that ends
// failed is still a 200; only a rejected run is an error.
//
// POST /api/config/sync
func (h *Handler) HandleSync(c *gin.Context) {
	opts, ok := runOptions(c)
	if !ok {
		return
	}

	rec, err := h.sync.Run(c.Request.Context(), opts)
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSyncRecord(*rec, h.now()))
}

// POST /api/config/sync/:id/retry
func (h *Handler) HandleRetrySync(c *gin.Context) {
	opts, ok := runOptions(c)
	if !ok {
		return
	}

	rec, err := h.sync.Retry(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSyncRecord(*rec, h.now()))
}

// HandlePlan computes the changes a sync would make without applying them.
//
// POST /api/config/plan
func (h *Handler) HandlePlan(c *gin.Context) {
	dry, err := h.sync.Plan(c.Request.Context())
	if err != nil {
		if errors.Is(err, planner.ErrNameCollision) {
			_ = c.Error(api.Conflict(err.Error()))
			return
		}
		_ = c.Error(api.BadGateway("failed to compute sync plan", err))
		return
	}

	c.JSON(http.StatusOK, api.PlanResponse{
		Summary: dry.Desired.Summary(),
		Empty:   dry.Plan.IsEmpty(),
		Counts:  dry.Plan.Counts(),
		Plan:    dry.Plan,
	})
}

// GET /api/config/sync/status
func (h *Handler) HandleSyncStatus(c *gin.Context) {
	st := h.sync.Current()
	if st == nil {
		c.JSON(http.StatusOK, api.SyncStatusResponse{InProgress: false})
		return
	}

	started := st.StartedAt
	c.JSON(http.StatusOK, api.SyncStatusResponse{
		InProgress:     true,
		SyncID:         st.ID,
		Status:         string(st.Status),
		StartedAt:      &started,
		ElapsedSeconds: st.Elapsed.Seconds(),
	})
}

// GET /api/config/sync/history?limit=&offset=
func (h *Handler) HandleSyncHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		_ = c.Error(api.BadRequest(fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		_ = c.Error(api.BadRequest("offset must be a non-negative integer"))
		return
	}

	records, err := h.sync.History(c.Request.Context(), limit, offset)
	if err != nil {
		storeError(c, "sync records", err)
		return
	}

	now := h.now()
	out := make([]api.SyncRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toSyncRecord(r, now))
	}
	c.JSON(http.StatusOK, api.HistoryResponse{Records: out, Limit: limit, Offset: offset})
}

// GET /api/config/sync/:id
func (h *Handler) HandleGetSync(c *gin.Context) {
	rec, err := h.sync.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSyncRecord(*rec, h.now()))
}

// HandleUniAPIConfig renders the uni-api document from the tracked groups. With
// ?download=true it is served as an attachment.
//
// GET /api/config/uni-api/yaml
func (h *Handler) HandleUniAPIConfig(c *gin.Context) {
	data, err := h.sync.UniAPIConfig(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, uniapi.ErrNoAuthKey):
			_ = c.Error(api.Conflict("gpt-load auth key is not configured"))
		case errors.Is(err, uniapi.ErrInvalid):
			_ = c.Error(api.Conflict(err.Error()))
		default:
			_ = c.Error(api.Internal("failed to generate uni-api configuration", err))
		}
		return
	}

	if c.Query("download") == "true" {
		c.Header("Content-Disposition", `attachment; filename="api.yaml"`)
	}
	c.Data(http.StatusOK, "text/yaml; charset=utf-8", data)
}

func runOptions(c *gin.Context) (syncer.RunOptions, bool) {
	var req api.SyncRequest
	if c.Request.ContentLength > 0 {
		if !bind(c, &req) {
			return syncer.RunOptions{}, false
		}
	}
	return syncer.RunOptions{ExportPath: req.ExportPath}, true
}

func syncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		_ = c.Error(api.Conflict("a sync is already in progress"))
	case errors.Is(err, syncer.ErrNotFound):
		_ = c.Error(api.NotFound("sync record not found"))
	case errors.Is(err, syncer.ErrNotFailed):
		_ = c.Error(api.Conflict("only failed syncs can be retried"))
	default:
		_ = c.Error(api.Internal("sync could not be started", err))
	}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

