package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/config"
	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/gptload/gptloadtest"
	"github.com/nulzo/gptload-sync/internal/metrics"
	"github.com/nulzo/gptload-sync/internal/reconcile"
	"github.com/nulzo/gptload-sync/internal/retry"
	"github.com/nulzo/gptload-sync/internal/server/v1"
	"github.com/nulzo/gptload-sync/internal/store/sqlite"
	"github.com/nulzo/gptload-sync/internal/syncer"
	"github.com/nulzo/gptload-sync/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	handler http.Handler
	fake    *gptloadtest.Server
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, apiKeys ...string) *testServer {
	t.Helper()
	fake := gptloadtest.Start("admin")
	t.Cleanup(fake.Close)

	repo, err := sqlite.NewSQLiteStorage("file:"+filepath.Join(t.TempDir(), "api.db")+"?_foreign_keys=on", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	collector := metrics.NewCollector()
	client := gptload.NewClient(fake.URL(), "admin", time.Second, zap.NewNop(),
		gptload.WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
		gptload.WithObserver(collector.ObserveRemote))
	reader := gptload.NewReader(client, nil)
	executor := reconcile.NewExecutor(client, reader, repo.Groups(), reconcile.Options{}, nil)
	coord := syncer.NewCoordinator(syncer.Deps{
		Store:    repo,
		Reader:   reader,
		Executor: executor,
		Metrics:  collector,
	}, syncer.Config{GPTLoadURL: fake.URL(), AuthKey: "admin"})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:       "test",
			APIKeys:   apiKeys,
			RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		},
	}
	srv := New(cfg, zap.NewNop(), v1.Deps{
		Store:      repo,
		Sync:       coord,
		GPTLoad:    client,
		GPTLoadURL: fake.URL(),
		StatusTTL:  time.Minute,
	}, collector.Handler())

	return &testServer{handler: srv.Handler(), fake: fake, metrics: collector}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createProvider(t *testing.T, name string, models ...string) api.ProviderResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/providers", api.CreateProviderRequest{
		Name:    name,
		BaseURL: "https://" + name + ".example/v1",
		APIKey:  "sk-" + name,
		Models:  models,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[api.ProviderResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"gptload-sync"}`, w.Body.String())
}

func TestAuth_ProtectsAPIOnly(t *testing.T) {
	s := newTestServer(t, "secret")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	w := s.do(t, http.MethodGet, "/api/providers", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProviders_CRUD(t *testing.T) {
	s := newTestServer(t)

	created := s.createProvider(t, "alpha", "m1", "m2")
	assert.Equal(t, "alpha", created.Name)
	assert.Equal(t, "openai", created.ChannelType)
	assert.Equal(t, 2, created.ModelCount)

	w := s.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]api.ProviderResponse](t, w)
	require.Len(t, list, 1)
	assert.NotContains(t, w.Body.String(), "sk-alpha", "api keys are never returned")

	w = s.do(t, http.MethodGet, "/api/providers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[api.ProviderResponse](t, w).ModelCount)

	w = s.do(t, http.MethodDelete, "/api/providers/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/providers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviders_DuplicateNameConflicts(t *testing.T) {
	s := newTestServer(t)
	s.createProvider(t, "alpha", "m1")

	w := s.do(t, http.MethodPost, "/api/providers", api.CreateProviderRequest{
		Name: "alpha", BaseURL: "https://other.example", APIKey: "sk",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestProviders_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/providers", map[string]any{
		"name":         " padded ",
		"base_url":     "not a url",
		"api_key":      "sk",
		"channel_type": "carrier-pigeon",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	fields, ok := body["errors"].(map[string]any)
	require.True(t, ok, w.Body.String())
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "base_url")
	assert.Contains(t, fields, "channel_type")
}

func TestModels_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	p := s.createProvider(t, "alpha", "gpt-4-turbo", "claude")

	w := s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	models := decode[[]api.ModelResponse](t, w)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4-turbo", models[0].OriginalName)
	assert.Nil(t, models[0].NormalizedName)

	w = s.do(t, http.MethodPut, "/api/models/"+models[0].ID+"/normalize", api.NormalizeModelRequest{NormalizedName: "gpt-4"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-4", decode[api.ModelResponse](t, w).EffectiveName)

	w = s.do(t, http.MethodPost, "/api/models/"+models[0].ID+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	reset := decode[api.ModelResponse](t, w)
	assert.Nil(t, reset.NormalizedName)
	assert.Equal(t, "gpt-4-turbo", reset.EffectiveName)

	// replacing the list deactivates claude
	w = s.do(t, http.MethodPut, "/api/providers/"+p.ID+"/models", api.ReplaceModelsRequest{Models: []string{"gpt-4-turbo", "gemini"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil)
	assert.Len(t, decode[[]api.ModelResponse](t, w), 2)
	w = s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models?include_inactive=true", nil)
	assert.Len(t, decode[[]api.ModelResponse](t, w), 3)

	w = s.do(t, http.MethodDelete, "/api/models/"+models[1].ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/api/models/"+models[1].ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviders_UpdateFlowsToGPTLoad(t *testing.T) {
	s := newTestServer(t)
	p := s.createProvider(t, "A", "m1-latest")

	models := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil))
	w := s.do(t, http.MethodPut, "/api/models/"+models[0].ID+"/normalize", api.NormalizeModelRequest{NormalizedName: "m1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/config/sync", nil).Code)

	w = s.do(t, http.MethodPut, "/api/providers/"+p.ID, map[string]any{
		"base_url": "https://a2.example/v1",
		"api_key":  "sk-rotated",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[api.ProviderResponse](t, w)
	assert.Equal(t, "A", updated.Name)
	assert.Equal(t, "https://a2.example/v1", updated.BaseURL)
	assert.Equal(t, 1, updated.ModelCount)

	plan := decode[api.PlanResponse](t, s.do(t, http.MethodPost, "/api/config/plan", nil))
	assert.Equal(t, 1, plan.Counts["to_update_standard"])
	assert.Equal(t, 0, plan.Counts["to_create_standard"], "renames survive the update")

	w = s.do(t, http.MethodPost, "/api/config/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[api.SyncRecordResponse](t, w)
	require.NotNil(t, rec.ChangesSummary)
	assert.Contains(t, *rec.ChangesSummary, "0 created, 1 updated, 0 deleted")

	g, ok := s.fake.Group("a-0-no-aggregate-models")
	require.True(t, ok)
	assert.Equal(t, "https://a2.example/v1", g.Upstreams[0].URL)
	assert.Equal(t, map[string]string{"m1": "m1-latest"}, g.Redirects)
	assert.Contains(t, s.fake.Keys(g.ID), "sk-rotated")

	assert.True(t, decode[api.PlanResponse](t, s.do(t, http.MethodPost, "/api/config/plan", nil)).Empty)
}

func TestProviders_UpdateErrors(t *testing.T) {
	s := newTestServer(t)
	p := s.createProvider(t, "A", "m1")
	s.createProvider(t, "B", "m2")

	w := s.do(t, http.MethodPut, "/api/providers/missing", map[string]any{"api_key": "sk"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/providers/"+p.ID, map[string]any{"name": "B"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, "/api/providers/"+p.ID, map[string]any{"name": "", "base_url": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields, ok := decode[map[string]any](t, w)["errors"].(map[string]any)
	require.True(t, ok, w.Body.String())
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "base_url")

	got := decode[api.ProviderResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID, nil))
	assert.Equal(t, "A", got.Name)
}

func TestModels_BatchNormalizeIsAtomic(t *testing.T) {
	s := newTestServer(t)
	p := s.createProvider(t, "A", "m1", "m2")
	models := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil))

	w := s.do(t, http.MethodPut, "/api/models/batch-normalize", api.BatchNormalizeRequest{Updates: []api.ModelRename{
		{ModelID: models[0].ID, NormalizedName: "first"},
		{ModelID: "missing", NormalizedName: "second"},
	}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	after := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil))
	assert.Nil(t, after[0].NormalizedName, "nothing applied when one update fails")

	w = s.do(t, http.MethodPut, "/api/models/batch-normalize", api.BatchNormalizeRequest{Updates: []api.ModelRename{
		{ModelID: models[0].ID, NormalizedName: "shared"},
		{ModelID: models[1].ID, NormalizedName: "shared"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[api.BatchNormalizeResponse](t, w).UpdatedCount)

	w = s.do(t, http.MethodPut, "/api/models/batch-normalize", map[string]any{"updates": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModels_BulkDelete(t *testing.T) {
	s := newTestServer(t)
	p := s.createProvider(t, "A", "m1", "m2")
	q := s.createProvider(t, "B", "m3")
	pm := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models", nil))
	qm := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+q.ID+"/models", nil))

	w := s.do(t, http.MethodPost, "/api/models/bulk-delete", api.BulkDeleteModelsRequest{
		ModelIDs: []string{pm[0].ID, qm[0].ID}, ProviderID: p.ID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/models/bulk-delete", api.BulkDeleteModelsRequest{
		ModelIDs: []string{pm[0].ID, pm[1].ID}, ProviderID: p.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.BulkDeleteModelsResponse](t, w)
	assert.Equal(t, 2, resp.DeletedCount)
	assert.Contains(t, resp.Warning, "all 2 active models")

	w = s.do(t, http.MethodPost, "/api/models/bulk-delete", api.BulkDeleteModelsRequest{
		ModelIDs: []string{qm[0].ID, "missing"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[api.BulkDeleteModelsResponse](t, w)
	assert.Equal(t, 1, resp.DeletedCount)
	assert.Empty(t, resp.Warning)

	all := decode[[]api.ModelResponse](t, s.do(t, http.MethodGet, "/api/providers/"+p.ID+"/models?include_inactive=true", nil))
	require.Len(t, all, 2)
	assert.False(t, all[0].IsActive)
}

func TestModels_NormalizedNames(t *testing.T) {
	s := newTestServer(t)
	s.createProvider(t, "A", "m1", "solo")
	s.createProvider(t, "B", "m1")

	w := s.do(t, http.MethodGet, "/api/models/normalized-names", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []api.NormalizedNameResponse{
		{Name: "m1", ProviderCount: 2, ModelCount: 2},
		{Name: "solo", ProviderCount: 1, ModelCount: 1},
	}, decode[[]api.NormalizedNameResponse](t, w))
}

func TestModels_UnknownProvider(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/providers/nope/models", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPut, "/api/providers/nope/models", api.ReplaceModelsRequest{Models: []string{"x"}}).Code)
}

func TestSync_EndToEnd(t *testing.T) {
	s := newTestServer(t)
	s.createProvider(t, "A", "m1", "m2")
	s.createProvider(t, "B", "m1")

	w := s.do(t, http.MethodPost, "/api/config/plan", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[api.PlanResponse](t, w)
	assert.False(t, plan.Empty)
	assert.Equal(t, 3, plan.Counts["to_create_standard"])
	assert.Equal(t, 1, plan.Counts["to_create_aggregate"])
	assert.Empty(t, s.fake.Groups(), "planning mutates nothing")

	w = s.do(t, http.MethodPost, "/api/config/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[api.SyncRecordResponse](t, w)
	assert.Equal(t, "success", rec.Status)
	require.NotNil(t, rec.ChangesSummary)
	assert.Equal(t, "gpt-load: 4 created, 0 updated, 0 deleted; uni-api: 2 provider entries generated", *rec.ChangesSummary)
	assert.NotNil(t, rec.CompletedAt)
	assert.Empty(t, rec.Errors)
	assert.Len(t, s.fake.Groups(), 4)

	w = s.do(t, http.MethodGet, "/api/config/sync/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.ID, decode[api.SyncRecordResponse](t, w).ID)

	w = s.do(t, http.MethodGet, "/api/config/sync/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[api.HistoryResponse](t, w)
	require.Len(t, history.Records, 1)
	assert.Equal(t, 20, history.Limit)

	w = s.do(t, http.MethodPost, "/api/config/plan", nil)
	assert.True(t, decode[api.PlanResponse](t, w).Empty)

	w = s.do(t, http.MethodGet, "/api/gptload/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]api.GroupResponse](t, w), 4)

	w = s.do(t, http.MethodGet, "/api/config/uni-api/yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/yaml"))
	assert.Contains(t, w.Body.String(), "/proxy/aggregate-m1")
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	w = s.do(t, http.MethodGet, "/api/config/uni-api/yaml?download=true", nil)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gptload_sync_sync_runs_total{status="success"} 1`)
}

func TestSync_StatusAndErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/config/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"in_progress":false}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/config/sync/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/config/sync/missing/retry", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/config/sync/history?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/config/sync/history?offset=-1", nil).Code)

	w = s.do(t, http.MethodPost, "/api/config/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[api.SyncRecordResponse](t, w)

	w = s.do(t, http.MethodPost, "/api/config/sync/"+rec.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "successful runs cannot be retried")
}

func TestSync_FailedRunIsReportedAndRetryable(t *testing.T) {
	s := newTestServer(t)
	s.createProvider(t, "A", "m1")
	s.fake.FailNext("list", "", 1)

	w := s.do(t, http.MethodPost, "/api/config/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[api.SyncRecordResponse](t, w)
	assert.Equal(t, "failed", rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "read gpt-load state")

	w = s.do(t, http.MethodPost, "/api/config/sync/"+rec.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	retried := decode[api.SyncRecordResponse](t, w)
	assert.NotEqual(t, rec.ID, retried.ID)
	assert.Equal(t, "success", retried.Status)
}

func TestPlan_NameCollisionConflicts(t *testing.T) {
	s := newTestServer(t)
	s.createProvider(t, "Foo-Bar", "a")
	s.createProvider(t, "foo-bar", "b")

	w := s.do(t, http.MethodPost, "/api/config/plan", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGPTLoadStatus_IsCached(t *testing.T) {
	s := newTestServer(t)
	s.fake.Seed(gptload.Group{Name: "existing", GroupType: "standard"})

	w := s.do(t, http.MethodGet, "/api/gptload/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[api.GPTLoadStatusResponse](t, w)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.Groups)
	assert.Equal(t, 1, status.Standard)

	s.fake.Seed(gptload.Group{Name: "another", GroupType: "standard"})
	w = s.do(t, http.MethodGet, "/api/gptload/status", nil)
	assert.Equal(t, 1, decode[api.GPTLoadStatusResponse](t, w).Groups, "served from cache")
}

func TestGPTLoadStatus_Unreachable(t *testing.T) {
	s := newTestServer(t)
	s.fake.Close()

	w := s.do(t, http.MethodGet, "/api/gptload/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[api.GPTLoadStatusResponse](t, w)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)
}
