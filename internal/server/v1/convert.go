package v1

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/nulzo/gptload-sync/pkg/api"
)

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toProvider(p model.Provider, modelCount int) api.ProviderResponse {
	return api.ProviderResponse{
		ID:          p.ID,
		Name:        p.Name,
		BaseURL:     p.BaseURL,
		ChannelType: p.ChannelType,
		ModelCount:  modelCount,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toModel(m model.Model) api.ModelResponse {
	return api.ModelResponse{
		ID:             m.ID,
		ProviderID:     m.ProviderID,
		OriginalName:   m.OriginalName,
		NormalizedName: nullString(m.NormalizedName),
		EffectiveName:  m.EffectiveName(),
		IsActive:       m.IsActive,
	}
}

func toModels(models []model.Model) []api.ModelResponse {
	out := make([]api.ModelResponse, 0, len(models))
	for _, m := range models {
		out = append(out, toModel(m))
	}
	return out
}

func toSyncRecord(r model.SyncRecord, now time.Time) api.SyncRecordResponse {
	resp := api.SyncRecordResponse{
		ID:             r.ID,
		Status:         string(r.Status),
		StartedAt:      r.StartedAt,
		DurationMillis: r.Duration(now).Milliseconds(),
		ChangesSummary: nullString(r.ChangesSummary),
		ErrorMessage:   nullString(r.ErrorMessage),
		Errors:         []api.OperationError{},
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		resp.CompletedAt = &t
	}
	if r.ErrorsJSON != "" {
		_ = json.Unmarshal([]byte(r.ErrorsJSON), &resp.Errors)
	}
	return resp
}

func toGroup(g model.GroupRecord) api.GroupResponse {
	return api.GroupResponse{
		ID:              g.ID,
		RemoteID:        g.RemoteID,
		Name:            g.Name,
		GroupType:       g.GroupType,
		ProviderName:    nullString(g.ProviderName),
		NormalizedModel: nullString(g.NormalizedModel),
		ChannelType:     g.ChannelType,
		LastSyncAt:      g.LastSyncAt,
		ConfigHash:      g.ConfigHash,
	}
}
