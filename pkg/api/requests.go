package api

// CreateProviderRequest registers a provider and, optionally, its initial model list.
type CreateProviderRequest struct {
	Name        string   `json:"name" binding:"required,trimmed,max=100"`
	BaseURL     string   `json:"base_url" binding:"required,url"`
	APIKey      string   `json:"api_key" binding:"required"`
	ChannelType string   `json:"channel_type" binding:"omitempty,oneof=openai anthropic gemini"`
	Models      []string `json:"models" binding:"omitempty,dive,required"`
}

type ReplaceModelsRequest struct {
	Models []string `json:"models" binding:"required,dive,required"`
}

type NormalizeModelRequest struct {
	NormalizedName string `json:"normalized_name" binding:"required,trimmed,max=200"`
}

type SyncRequest struct {
	// ExportPath overrides the configured uni-api export path for this run.
	ExportPath string `json:"export_path"`
}

// UpdateProviderRequest edits a provider. Omitted fields keep their current value.
type UpdateProviderRequest struct {
	Name        *string `json:"name" binding:"omitnil,min=1,trimmed,max=100"`
	BaseURL     *string `json:"base_url" binding:"omitnil,url"`
	APIKey      *string `json:"api_key" binding:"omitnil,min=1"`
	ChannelType *string `json:"channel_type" binding:"omitnil,oneof=openai anthropic gemini"`
}

type ModelRename struct {
	ModelID        string `json:"model_id" binding:"required"`
	NormalizedName string `json:"normalized_name" binding:"required,trimmed,max=200"`
}

// BatchNormalizeRequest renames several models in one transaction.
type BatchNormalizeRequest struct {
	Updates []ModelRename `json:"updates" binding:"required,min=1,dive"`
}

// BulkDeleteModelsRequest deactivates several models at once. When ProviderID is set,
// every model must belong to that provider.
type BulkDeleteModelsRequest struct {
	ModelIDs   []string `json:"model_ids" binding:"required,min=1,dive,required"`
	ProviderID string   `json:"provider_id"`
}
