package v1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/nulzo/gptload-sync/pkg/api"
	"go.uber.org/zap"
)

// GET /api/providers
func (h *Handler) HandleListProviders(c *gin.Context) {
	ctx := c.Request.Context()
	providers, err := h.repo.Providers().List(ctx)
	if err != nil {
		storeError(c, "providers", err)
		return
	}

	out := make([]api.ProviderResponse, 0, len(providers))
	for _, p := range providers {
		models, err := h.repo.Providers().ListModels(ctx, p.ID, false)
		if err != nil {
			storeError(c, "models", err)
			return
		}
		out = append(out, toProvider(p, len(models)))
	}
	c.JSON(http.StatusOK, out)
}

// HandleCreateProvider registers a provider together with its initial models.
//
// POST /api/providers
func (h *Handler) HandleCreateProvider(c *gin.Context) {
	var req api.CreateProviderRequest
	if !bind(c, &req) {
		return
	}

	p := &model.Provider{
		Name:        req.Name,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		ChannelType: req.ChannelType,
	}
	var models []model.Model
	err := h.repo.WithTx(c.Request.Context(), func(tx store.Repository) error {
		if err := tx.Providers().Create(c.Request.Context(), p); err != nil {
			return err
		}
		var err error
		models, err = tx.Providers().UpsertModels(c.Request.Context(), p.ID, req.Models)
		return err
	})
	if err != nil {
		storeError(c, "provider", err)
		return
	}

	h.logger.Info("provider created", zap.String("provider", p.Name), zap.Int("models", len(models)))
	c.JSON(http.StatusCreated, toProvider(*p, len(models)))
}

// GET /api/providers/:id
func (h *Handler) HandleGetProvider(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.repo.Providers().Get(ctx, c.Param("id"))
	if err != nil {
		storeError(c, "provider", err)
		return
	}
	models, err := h.repo.Providers().ListModels(ctx, p.ID, false)
	if err != nil {
		storeError(c, "models", err)
		return
	}
	c.JSON(http.StatusOK, toProvider(*p, len(models)))
}

// HandleUpdateProvider edits a provider in place, keeping its models and renames.
//
// PUT /api/providers/:id
func (h *Handler) HandleUpdateProvider(c *gin.Context) {
	var req api.UpdateProviderRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var p *model.Provider
	var count int
	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		if p, err = tx.Providers().Get(ctx, c.Param("id")); err != nil {
			return err
		}
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.BaseURL != nil {
			p.BaseURL = *req.BaseURL
		}
		if req.APIKey != nil {
			p.APIKey = *req.APIKey
		}
		if req.ChannelType != nil {
			p.ChannelType = *req.ChannelType
		}
		if err := tx.Providers().Update(ctx, p); err != nil {
			return err
		}
		models, err := tx.Providers().ListModels(ctx, p.ID, false)
		count = len(models)
		return err
	})
	if err != nil {
		storeError(c, "provider", err)
		return
	}

	h.logger.Info("provider updated", zap.String("provider", p.Name), zap.Bool("key_changed", req.APIKey != nil))
	c.JSON(http.StatusOK, toProvider(*p, count))
}

// DELETE /api/providers/:id
func (h *Handler) HandleDeleteProvider(c *gin.Context) {
	if err := h.repo.Providers().Delete(c.Request.Context(), c.Param("id")); err != nil {
		storeError(c, "provider", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListModels lists a provider's models; ?include_inactive=true adds deactivated ones.
//
// GET /api/providers/:id/models
func (h *Handler) HandleListModels(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.repo.Providers().Get(ctx, id); err != nil {
		storeError(c, "provider", err)
		return
	}

	models, err := h.repo.Providers().ListModels(ctx, id, c.Query("include_inactive") == "true")
	if err != nil {
		storeError(c, "models", err)
		return
	}
	c.JSON(http.StatusOK, toModels(models))
}

// HandleReplaceModels makes the body the provider's active model list.
//
// PUT /api/providers/:id/models
func (h *Handler) HandleReplaceModels(c *gin.Context) {
	var req api.ReplaceModelsRequest
	if !bind(c, &req) {
		return
	}

	var models []model.Model
	err := h.repo.WithTx(c.Request.Context(), func(tx store.Repository) error {
		var err error
		models, err = tx.Providers().UpsertModels(c.Request.Context(), c.Param("id"), req.Models)
		return err
	})
	if err != nil {
		storeError(c, "provider", err)
		return
	}
	c.JSON(http.StatusOK, toModels(models))
}

// PUT /api/models/:id/normalize
func (h *Handler) HandleNormalizeModel(c *gin.Context) {
	var req api.NormalizeModelRequest
	if !bind(c, &req) {
		return
	}

	m, err := h.repo.Providers().Normalize(c.Request.Context(), c.Param("id"), req.NormalizedName)
	if err != nil {
		storeError(c, "model", err)
		return
	}
	c.JSON(http.StatusOK, toModel(*m))
}

// POST /api/models/:id/reset
func (h *Handler) HandleResetModel(c *gin.Context) {
	m, err := h.repo.Providers().ResetName(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, "model", err)
		return
	}
	c.JSON(http.StatusOK, toModel(*m))
}

// DELETE /api/models/:id
func (h *Handler) HandleDeleteModel(c *gin.Context) {
	if err := h.repo.Providers().DeleteModel(c.Request.Context(), c.Param("id")); err != nil {
		storeError(c, "model", err)
		return
	}
	c.Status(http.StatusNoContent)
}

var errForeignModel = errors.New("model belongs to another provider")

// HandleBatchNormalize renames every listed model or none of them.
//
// PUT /api/models/batch-normalize
func (h *Handler) HandleBatchNormalize(c *gin.Context) {
	var req api.BatchNormalizeRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		for _, u := range req.Updates {
			if _, err := tx.Providers().Normalize(ctx, u.ModelID, u.NormalizedName); err != nil {
				return fmt.Errorf("model %s: %w", u.ModelID, err)
			}
		}
		return nil
	})
	if err != nil {
		storeError(c, "model", err)
		return
	}
	c.JSON(http.StatusOK, api.BatchNormalizeResponse{UpdatedCount: len(req.Updates)})
}

// HandleBulkDeleteModels deactivates the listed models in one transaction. Unknown ids
// are skipped.
//
// POST /api/models/bulk-delete
func (h *Handler) HandleBulkDeleteModels(c *gin.Context) {
	var req api.BulkDeleteModelsRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var resp api.BulkDeleteModelsResponse
	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		providers := tx.Providers()
		if req.ProviderID != "" {
			if _, err := providers.Get(ctx, req.ProviderID); err != nil {
				return err
			}
		}

		ids := make([]string, 0, len(req.ModelIDs))
		for _, id := range req.ModelIDs {
			m, err := providers.GetModel(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if req.ProviderID != "" && m.ProviderID != req.ProviderID {
				return fmt.Errorf("%w: model %s", errForeignModel, id)
			}
			ids = append(ids, id)
		}

		if req.ProviderID != "" {
			active, err := providers.ListModels(ctx, req.ProviderID, false)
			if err != nil {
				return err
			}
			if len(active) > 0 && len(ids) >= len(active) {
				resp.Warning = fmt.Sprintf("deleting all %d active models of provider %s", len(active), req.ProviderID)
			}
		}

		n, err := providers.DeactivateModels(ctx, ids)
		resp.DeletedCount = n
		return err
	})
	switch {
	case errors.Is(err, errForeignModel):
		_ = c.Error(api.BadRequest(err.Error()))
		return
	case err != nil:
		storeError(c, "provider", err)
		return
	}

	if resp.Warning != "" {
		h.logger.Warn("bulk delete empties provider", zap.String("provider", req.ProviderID))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleNormalizedNames lists effective model names with how many providers offer them.
//
// GET /api/models/normalized-names
func (h *Handler) HandleNormalizedNames(c *gin.Context) {
	names, err := h.repo.Providers().NormalizedNames(c.Request.Context())
	if err != nil {
		storeError(c, "models", err)
		return
	}

	out := make([]api.NormalizedNameResponse, 0, len(names))
	for _, n := range names {
		out = append(out, api.NormalizedNameResponse{Name: n.Name, ProviderCount: n.ProviderCount, ModelCount: n.ModelCount})
	}
	c.JSON(http.StatusOK, out)
}
