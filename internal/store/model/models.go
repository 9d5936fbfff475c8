package model

import (
	"database/sql"
	"time"
)

const (
	GroupTypeStandard  = "standard"
	GroupTypeAggregate = "aggregate"
)

// SyncStatus is the lifecycle state of a sync run: pending -> in_progress -> success | failed.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

// Provider is an upstream LLM service whose models are published through gpt-load.
type Provider struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	BaseURL     string    `db:"base_url" json:"base_url"`
	APIKey      string    `db:"api_key" json:"-"` // stored as given, never returned
	ChannelType string    `db:"channel_type" json:"channel_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Model is one model offered by a provider, optionally renamed to a normalized name.
type Model struct {
	ID             string         `db:"id" json:"id"`
	ProviderID     string         `db:"provider_id" json:"provider_id"`
	OriginalName   string         `db:"original_name" json:"original_name"`
	NormalizedName sql.NullString `db:"normalized_name" json:"-"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// EffectiveName is the normalized name when set, the original name otherwise.
func (m Model) EffectiveName() string {
	if m.NormalizedName.Valid && m.NormalizedName.String != "" {
		return m.NormalizedName.String
	}
	return m.OriginalName
}

// NameUsage counts how widely an effective model name is offered across active models.
type NameUsage struct {
	Name          string `db:"name" json:"name"`
	ProviderCount int    `db:"provider_count" json:"provider_count"`
	ModelCount    int    `db:"model_count" json:"model_count"`
}

// GroupRecord mirrors one gpt-load group as of the end of the last sync run.
type GroupRecord struct {
	ID              int64          `db:"id" json:"id"`
	RemoteID        int            `db:"remote_id" json:"remote_id"`
	Name            string         `db:"name" json:"name"`
	GroupType       string         `db:"group_type" json:"group_type"`
	ProviderName    sql.NullString `db:"provider_name" json:"-"`
	NormalizedModel sql.NullString `db:"normalized_model" json:"-"`
	ChannelType     string         `db:"channel_type" json:"channel_type"`
	LastSyncAt      time.Time      `db:"last_sync_at" json:"last_sync_at"`
	ConfigHash      string         `db:"config_hash" json:"config_hash"`
	// CredentialHash fingerprints the key last pushed to the group; empty when unknown.
	CredentialHash string `db:"credential_hash" json:"-"`
}

// SyncRecord is the persisted outcome of one sync run.
type SyncRecord struct {
	ID             string         `db:"id" json:"id"`
	Status         SyncStatus     `db:"status" json:"status"`
	StartedAt      time.Time      `db:"started_at" json:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at" json:"-"`
	ErrorMessage   sql.NullString `db:"error_message" json:"-"`
	ChangesSummary sql.NullString `db:"changes_summary" json:"-"`
	ErrorsJSON     string         `db:"errors_json" json:"-"` // JSON array of per-operation errors
}

// Duration is the elapsed run time, measured up to now while the run is unfinished.
func (r SyncRecord) Duration(now time.Time) time.Duration {
	if r.CompletedAt.Valid {
		return r.CompletedAt.Time.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
