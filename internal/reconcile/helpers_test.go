package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/gptload/gptloadtest"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/retry"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memTracked struct {
	mu      sync.Mutex
	records []model.GroupRecord
	calls   int
}

func (m *memTracked) ReplaceAll(_ context.Context, records []model.GroupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.calls++
	return nil
}

type harness struct {
	fake     *gptloadtest.Server
	client   *gptload.Client
	reader   *gptload.Reader
	tracked  *memTracked
	executor *Executor
}

func newHarness(t *testing.T, strategy string) *harness {
	t.Helper()
	fake := gptloadtest.Start("admin")
	t.Cleanup(fake.Close)

	client := gptload.NewClient(fake.URL(), "admin", time.Second, zap.NewNop(),
		gptload.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	reader := gptload.NewReader(client, nil)
	tracked := &memTracked{}

	return &harness{
		fake:     fake,
		client:   client,
		reader:   reader,
		tracked:  tracked,
		executor: NewExecutor(client, reader, tracked, Options{Strategy: strategy}, nil),
	}
}

func (h *harness) snapshot(t *testing.T) *gptload.Snapshot {
	t.Helper()
	snap, err := h.reader.Fetch(context.Background())
	require.NoError(t, err)
	return snap
}

// sync plans and applies one catalog, returning the plan and the report.
func (h *harness) sync(t *testing.T, providers []planner.Provider, renames planner.Renames) (*Plan, *Report) {
	t.Helper()
	desired, err := planner.Desired(providers, renames)
	require.NoError(t, err)
	snap := h.snapshot(t)
	plan := Diff(snap, desired)
	return plan, h.executor.Apply(context.Background(), plan, snap, desired)
}

func (h *harness) rediff(t *testing.T, providers []planner.Provider, renames planner.Renames) *Plan {
	t.Helper()
	desired, err := planner.Desired(providers, renames)
	require.NoError(t, err)
	return Diff(h.snapshot(t), desired)
}

func scenarioCatalog() []planner.Provider {
	return []planner.Provider{
		{Name: "A", BaseURL: "https://a.example/v1", Credential: "sk-a", ChannelType: "openai", Models: []string{"m1", "m2"}},
		{Name: "B", BaseURL: "https://b.example/v1", Credential: "sk-b", ChannelType: "openai", Models: []string{"m1"}},
	}
}

func groupNames(groups []gptload.Group) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}
