package store

import (
	"context"
	"errors"

	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/store/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)

// Repository is the main contract for the data layer.
type Repository interface {
	Providers() ProviderRepository
	Groups() GroupRepository
	SyncRecords() SyncRecordRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type ProviderRepository interface {
	Create(ctx context.Context, p *model.Provider) error
	Get(ctx context.Context, id string) (*model.Provider, error)
	GetByName(ctx context.Context, name string) (*model.Provider, error)
	List(ctx context.Context) ([]model.Provider, error)
	// Update writes name, base URL, key and channel type of an existing provider.
	Update(ctx context.Context, p *model.Provider) error
	// Delete removes a provider and, through the foreign key, its models.
	Delete(ctx context.Context, id string) error

	ListModels(ctx context.Context, providerID string, includeInactive bool) ([]model.Model, error)
	// UpsertModels makes names the active model list of the provider. Existing rows keep
	// their normalized names; models missing from names are deactivated, not deleted.
	UpsertModels(ctx context.Context, providerID string, names []string) ([]model.Model, error)
	GetModel(ctx context.Context, modelID string) (*model.Model, error)
	Normalize(ctx context.Context, modelID, normalizedName string) (*model.Model, error)
	ResetName(ctx context.Context, modelID string) (*model.Model, error)
	DeleteModel(ctx context.Context, modelID string) error
	// DeactivateModels marks the given models inactive and returns how many rows changed.
	DeactivateModels(ctx context.Context, modelIDs []string) (int, error)
	// NormalizedNames lists effective names of active models, most widely offered first.
	NormalizedNames(ctx context.Context) ([]model.NameUsage, error)

	// Catalog returns every provider with at least one active model, plus the rename map.
	Catalog(ctx context.Context) ([]planner.Provider, planner.Renames, error)
}

type GroupRepository interface {
	List(ctx context.Context) ([]model.GroupRecord, error)
	// ReplaceAll swaps the tracked groups for records in a single transaction.
	ReplaceAll(ctx context.Context, records []model.GroupRecord) error
}

type SyncRecordRepository interface {
	Create(ctx context.Context, rec *model.SyncRecord) error
	Update(ctx context.Context, rec *model.SyncRecord) error
	Get(ctx context.Context, id string) (*model.SyncRecord, error)
	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]model.SyncRecord, error)
	// Latest returns the most recently started record.
	Latest(ctx context.Context) (*model.SyncRecord, error)
}
