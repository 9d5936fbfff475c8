package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
	inTx     bool
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
		inTx:     true,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Providers() store.ProviderRepository {
	return &providerRepo{db: r.executor}
}

func (r *SqliteRepository) Groups() store.GroupRepository {
	return &groupRepo{repo: r}
}

func (r *SqliteRepository) SyncRecords() store.SyncRecordRepository {
	return &syncRecordRepo{db: r.executor}
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type providerRepo struct {
	db DB
}

func (r *providerRepo) Create(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ChannelType == "" {
		p.ChannelType = planner.DefaultChannelType
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	query := `
	INSERT INTO providers (id, name, base_url, api_key, channel_type, created_at, updated_at)
	VALUES (:id, :name, :base_url, :api_key, :channel_type, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return mapErr(err)
}

func (r *providerRepo) Get(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM providers WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *providerRepo) GetByName(ctx context.Context, name string) (*model.Provider, error) {
	var p model.Provider
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM providers WHERE name = ?`, name); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *providerRepo) List(ctx context.Context) ([]model.Provider, error) {
	providers := []model.Provider{}
	err := r.db.SelectContext(ctx, &providers, `SELECT * FROM providers ORDER BY created_at, name`)
	return providers, err
}

func (r *providerRepo) Update(ctx context.Context, p *model.Provider) error {
	if p.ChannelType == "" {
		p.ChannelType = planner.DefaultChannelType
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE providers SET
		name = :name,
		base_url = :base_url,
		api_key = :api_key,
		channel_type = :channel_type,
		updated_at = :updated_at
	WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return mapErr(err)
	}
	return expectAffected(res)
}

func (r *providerRepo) Delete(ctx context.Context, id string) error {
	// explicit so the cascade does not depend on the foreign_keys pragma
	if _, err := r.db.ExecContext(ctx, `DELETE FROM models WHERE provider_id = ?`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *providerRepo) ListModels(ctx context.Context, providerID string, includeInactive bool) ([]model.Model, error) {
	query := `SELECT * FROM models WHERE provider_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY rowid`

	models := []model.Model{}
	err := r.db.SelectContext(ctx, &models, query, providerID)
	return models, err
}

func (r *providerRepo) UpsertModels(ctx context.Context, providerID string, names []string) ([]model.Model, error) {
	if _, err := r.Get(ctx, providerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// mark everything inactive, the loop below re-enables what is still offered
	if _, err := r.db.ExecContext(ctx,
		`UPDATE models SET is_active = 0, updated_at = ? WHERE provider_id = ?`, now, providerID); err != nil {
		return nil, err
	}

	query := `
	INSERT INTO models (id, provider_id, original_name, is_active, created_at, updated_at)
	VALUES (?, ?, ?, 1, ?, ?)
	ON CONFLICT(provider_id, original_name) DO UPDATE SET
		is_active = 1,
		updated_at = excluded.updated_at`

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), providerID, name, now, now); err != nil {
			return nil, err
		}
	}

	return r.ListModels(ctx, providerID, false)
}

func (r *providerRepo) GetModel(ctx context.Context, modelID string) (*model.Model, error) {
	var m model.Model
	if err := r.db.GetContext(ctx, &m, `SELECT * FROM models WHERE id = ?`, modelID); err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (r *providerRepo) Normalize(ctx context.Context, modelID, normalizedName string) (*model.Model, error) {
	return r.setName(ctx, modelID, sql.NullString{String: normalizedName, Valid: normalizedName != ""})
}

func (r *providerRepo) ResetName(ctx context.Context, modelID string) (*model.Model, error) {
	return r.setName(ctx, modelID, sql.NullString{})
}

func (r *providerRepo) setName(ctx context.Context, modelID string, name sql.NullString) (*model.Model, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE models SET normalized_name = ?, updated_at = ? WHERE id = ?`, name, time.Now().UTC(), modelID)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return r.GetModel(ctx, modelID)
}

func (r *providerRepo) DeleteModel(ctx context.Context, modelID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, modelID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *providerRepo) DeactivateModels(ctx context.Context, modelIDs []string) (int, error) {
	if len(modelIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`UPDATE models SET is_active = 0, updated_at = ? WHERE is_active = 1 AND id IN (?)`,
		time.Now().UTC(), modelIDs)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *providerRepo) NormalizedNames(ctx context.Context) ([]model.NameUsage, error) {
	query := `
	SELECT
		COALESCE(NULLIF(normalized_name, ''), original_name) AS name,
		COUNT(DISTINCT provider_id) AS provider_count,
		COUNT(*) AS model_count
	FROM models
	WHERE is_active = 1
	GROUP BY 1
	ORDER BY provider_count DESC, name ASC`

	names := []model.NameUsage{}
	err := r.db.SelectContext(ctx, &names, query)
	return names, err
}

func (r *providerRepo) Catalog(ctx context.Context) ([]planner.Provider, planner.Renames, error) {
	providers, err := r.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	var catalog []planner.Provider
	renames := make(planner.Renames)
	for _, p := range providers {
		models, err := r.ListModels(ctx, p.ID, false)
		if err != nil {
			return nil, nil, fmt.Errorf("list models of %s: %w", p.Name, err)
		}
		if len(models) == 0 {
			continue
		}

		entry := planner.Provider{
			Name:        p.Name,
			BaseURL:     p.BaseURL,
			Credential:  p.APIKey,
			ChannelType: p.ChannelType,
			Models:      make([]string, 0, len(models)),
		}
		for _, m := range models {
			entry.Models = append(entry.Models, m.OriginalName)
			if m.NormalizedName.Valid && m.NormalizedName.String != "" && m.NormalizedName.String != m.OriginalName {
				if renames[p.Name] == nil {
					renames[p.Name] = make(map[string]string)
				}
				renames[p.Name][m.OriginalName] = m.NormalizedName.String
			}
		}
		catalog = append(catalog, entry)
	}
	return catalog, renames, nil
}

type groupRepo struct {
	repo *SqliteRepository
}

func (r *groupRepo) List(ctx context.Context) ([]model.GroupRecord, error) {
	records := []model.GroupRecord{}
	err := r.repo.executor.SelectContext(ctx, &records, `SELECT * FROM gptload_groups ORDER BY name`)
	return records, err
}

func (r *groupRepo) ReplaceAll(ctx context.Context, records []model.GroupRecord) error {
	return r.repo.WithTx(ctx, func(repo store.Repository) error {
		db := repo.(*SqliteRepository).executor
		if _, err := db.ExecContext(ctx, `DELETE FROM gptload_groups`); err != nil {
			return err
		}

		query := `
		INSERT INTO gptload_groups (
			remote_id, name, group_type, provider_name, normalized_model,
			channel_type, last_sync_at, config_hash, credential_hash
		) VALUES (
			:remote_id, :name, :group_type, :provider_name, :normalized_model,
			:channel_type, :last_sync_at, :config_hash, :credential_hash
		)`
		for i := range records {
			if _, err := db.NamedExecContext(ctx, query, &records[i]); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

type syncRecordRepo struct {
	db DB
}

func (r *syncRecordRepo) Create(ctx context.Context, rec *model.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ErrorsJSON == "" {
		rec.ErrorsJSON = "[]"
	}
	query := `
	INSERT INTO sync_records (id, status, started_at, completed_at, error_message, changes_summary, errors_json)
	VALUES (:id, :status, :started_at, :completed_at, :error_message, :changes_summary, :errors_json)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return mapErr(err)
}

func (r *syncRecordRepo) Update(ctx context.Context, rec *model.SyncRecord) error {
	if rec.ErrorsJSON == "" {
		rec.ErrorsJSON = "[]"
	}
	query := `
	UPDATE sync_records SET
		status = :status,
		completed_at = :completed_at,
		error_message = :error_message,
		changes_summary = :changes_summary,
		errors_json = :errors_json
	WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *syncRecordRepo) Get(ctx context.Context, id string) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	if err := r.db.GetContext(ctx, &rec, `SELECT * FROM sync_records WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (r *syncRecordRepo) List(ctx context.Context, limit, offset int) ([]model.SyncRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	records := []model.SyncRecord{}
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM sync_records ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	return records, err
}

func (r *syncRecordRepo) Latest(ctx context.Context) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM sync_records ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}
