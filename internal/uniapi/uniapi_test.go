package uniapi

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func record(name, groupType, normalized string) model.GroupRecord {
	return model.GroupRecord{
		Name:            name,
		GroupType:       groupType,
		NormalizedModel: sql.NullString{String: normalized, Valid: normalized != ""},
	}
}

func sampleGroups() []model.GroupRecord {
	return []model.GroupRecord{
		record("a-0-no-aggregate-models", model.GroupTypeStandard, ""),
		record("a-1-m1", model.GroupTypeStandard, "m1"),
		record("aggregate-m1", model.GroupTypeAggregate, "m1"),
		record("b-1-m1", model.GroupTypeStandard, "m1"),
		record("c-1-m9", model.GroupTypeStandard, "m9"),
	}
}

func TestGenerate_OrdersAndFilters(t *testing.T) {
	doc, err := Generate(sampleGroups(), "http://gptload:3001/", "sk-load")
	require.NoError(t, err)

	var names []string
	for _, p := range doc.Providers {
		names = append(names, p.Provider)
	}
	assert.Equal(t, []string{"aggregate-m1", "a-0-no-aggregate-models", "c-1-m9"}, names)

	first := doc.Providers[0]
	assert.Equal(t, "http://gptload:3001/proxy/aggregate-m1", first.BaseURL)
	assert.Equal(t, "sk-load", first.API)
	assert.Empty(t, first.Model)

	require.Len(t, doc.APIKeys, 1)
	assert.Equal(t, []string{"all"}, doc.APIKeys[0].Model)
	assert.Equal(t, "999999/min", doc.Preferences.RateLimit)
}

func TestGenerate_RequiresAuthKey(t *testing.T) {
	_, err := Generate(sampleGroups(), "http://gptload:3001", "")
	assert.ErrorIs(t, err, ErrNoAuthKey)
}

func TestGenerate_InvalidBaseURL(t *testing.T) {
	_, err := Generate(sampleGroups(), "gptload:3001", "sk-load")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestGenerate_NoGroups(t *testing.T) {
	doc, err := Generate(nil, "http://gptload:3001", "sk-load")
	require.NoError(t, err)
	assert.Empty(t, doc.Providers)
}

func TestMarshal_Layout(t *testing.T) {
	doc, err := Generate(sampleGroups()[:1], "https://gptload.example", "sk-load")
	require.NoError(t, err)

	out, err := doc.Marshal()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Contains(t, parsed, "providers")
	assert.Contains(t, parsed, "api_keys")
	assert.Contains(t, parsed, "preferences")
	assert.Contains(t, string(out), "model: []")
}

func TestExport_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "api.yaml")
	require.NoError(t, Export(path, []byte("providers: []\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "providers: []\n", string(data))
}
