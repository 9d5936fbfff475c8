package v1

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/server/validator"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/cache"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/nulzo/gptload-sync/internal/syncer"
	"github.com/nulzo/gptload-sync/pkg/api"
	"go.uber.org/zap"
)

// SyncService is the part of the coordinator the HTTP layer drives.
type SyncService interface {
	Run(ctx context.Context, opts syncer.RunOptions) (*model.SyncRecord, error)
	Retry(ctx context.Context, id string, opts syncer.RunOptions) (*model.SyncRecord, error)
	Plan(ctx context.Context) (*syncer.DryRun, error)
	Current() *syncer.Status
	History(ctx context.Context, limit, offset int) ([]model.SyncRecord, error)
	Get(ctx context.Context, id string) (*model.SyncRecord, error)
	UniAPIConfig(ctx context.Context) ([]byte, error)
}

type Handler struct {
	repo      store.Repository
	sync      SyncService
	gptload   gptload.API
	gptURL    string
	cache     cache.CacheService
	statusTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Store      store.Repository
	Sync       SyncService
	GPTLoad    gptload.API
	GPTLoadURL string
	Cache      cache.CacheService
	StatusTTL  time.Duration
	Logger     *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Cache == nil {
		d.Cache = cache.NewMemoryCache()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		repo:      d.Store,
		sync:      d.Sync,
		gptload:   d.GPTLoad,
		gptURL:    d.GPTLoadURL,
		cache:     d.Cache,
		statusTTL: d.StatusTTL,
		logger:    d.Logger.With(zap.String("component", "api")),
		now:       time.Now,
	}
}

// bind decodes and validates the JSON body, attaching a problem on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return false
	}
	return true
}

// storeError maps repository errors onto problems.
func storeError(c *gin.Context, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		_ = c.Error(api.NotFound(what + " not found"))
	case errors.Is(err, store.ErrConflict):
		_ = c.Error(api.Conflict(what + " already exists"))
	default:
		_ = c.Error(api.Internal("failed to access "+what, err))
	}
}
