package api

import "time"

type ProviderResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	BaseURL     string    `json:"base_url"`
	ChannelType string    `json:"channel_type"`
	ModelCount  int       `json:"model_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ModelResponse struct {
	ID             string  `json:"id"`
	ProviderID     string  `json:"provider_id"`
	OriginalName   string  `json:"original_name"`
	NormalizedName *string `json:"normalized_name"`
	EffectiveName  string  `json:"effective_name"`
	IsActive       bool    `json:"is_active"`
}

type SyncRecordResponse struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at"`
	DurationMillis int64            `json:"duration_ms"`
	ChangesSummary *string          `json:"changes_summary"`
	ErrorMessage   *string          `json:"error_message"`
	Errors         []OperationError `json:"errors"`
}

type OperationError struct {
	Step  int    `json:"step"`
	Op    string `json:"op"`
	Group string `json:"group"`
	Error string `json:"error"`
}

type SyncStatusResponse struct {
	InProgress     bool       `json:"in_progress"`
	SyncID         string     `json:"sync_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
}

type HistoryResponse struct {
	Records []SyncRecordResponse `json:"records"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// PlanResponse is a dry-run result.
type PlanResponse struct {
	Summary string         `json:"summary"`
	Empty   bool           `json:"empty"`
	Counts  map[string]int `json:"counts"`
	Plan    interface{}    `json:"plan"`
}

type GroupResponse struct {
	ID              int64     `json:"id"`
	RemoteID        int       `json:"remote_id"`
	Name            string    `json:"name"`
	GroupType       string    `json:"group_type"`
	ProviderName    *string   `json:"provider_name"`
	NormalizedModel *string   `json:"normalized_model"`
	ChannelType     string    `json:"channel_type"`
	LastSyncAt      time.Time `json:"last_sync_at"`
	ConfigHash      string    `json:"config_hash"`
}

type GPTLoadStatusResponse struct {
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Groups    int       `json:"groups"`
	Standard  int       `json:"standard_groups"`
	Aggregate int       `json:"aggregate_groups"`
	CheckedAt time.Time `json:"checked_at"`
}

type BatchNormalizeResponse struct {
	UpdatedCount int `json:"updated_count"`
}

type BulkDeleteModelsResponse struct {
	DeletedCount int    `json:"deleted_count"`
	Warning      string `json:"warning,omitempty"`
}

type NormalizedNameResponse struct {
	Name          string `json:"name"`
	ProviderCount int    `json:"provider_count"`
	ModelCount    int    `json:"model_count"`
}
