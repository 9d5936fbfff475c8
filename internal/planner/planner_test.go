package planner

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OpenAI", "openai"},
		{"gpt-4.1-mini", "gpt-4-1-mini"},
		{"  My Provider!! ", "my-provider"},
		{"a---b", "a-b"},
		{"--lead-and-trail--", "lead-and-trail"},
		{"under_score", "under_score"},
		{"模型", "model"},
		{"", "model"},
		{"...", "model"},
		{"deepseek/DeepSeek-R1", "deepseek-deepseek-r1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_TruncatesWithoutTrailingDash(t *testing.T) {
	// position 100 lands right after a dash
	in := strings.Repeat("a", 99) + "-bbbb"
	out := Sanitize(in)

	assert.Equal(t, strings.Repeat("a", 99), out)
	assert.LessOrEqual(t, len(out), MaxNameLength)
}

var sanitizedPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9\-_]{0,99}$`)

func TestProperty_Sanitize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.String().Draw(rt, "name")
		out := Sanitize(in)

		assert.Regexp(rt, sanitizedPattern, out)
		assert.False(rt, strings.HasSuffix(out, "-"))
		assert.NotContains(rt, out, "--")
		assert.Equal(rt, out, Sanitize(out), "sanitize must be idempotent")
	})
}

func TestSplit_CrossProviderDuplicate(t *testing.T) {
	providers := []Provider{
		{Name: "A", BaseURL: "https://a.example", ChannelType: "openai", Models: []string{"m1", "m2"}},
		{Name: "B", BaseURL: "https://b.example", ChannelType: "openai", Models: []string{"m1"}},
	}

	groups, aggs := Split(providers, nil)

	require.Len(t, groups, 3)
	assert.Equal(t, "a-0-no-aggregate-models", groups[0].GroupName)
	assert.Equal(t, map[string]string{"m2": "m2"}, groups[0].Redirects)
	assert.Equal(t, "a-1-m1", groups[1].GroupName)
	assert.Equal(t, map[string]string{"m1": "m1"}, groups[1].Redirects)
	assert.Equal(t, "b-1-m1", groups[2].GroupName)
	assert.Equal(t, map[string]string{"m1": "m1"}, groups[2].Redirects)

	assert.Equal(t, Aggregations{"m1": {"a-1-m1", "b-1-m1"}}, aggs)
}

func TestSplit_RenamesCreateDuplicates(t *testing.T) {
	providers := []Provider{
		{Name: "alpha", Models: []string{"gpt-4-turbo-preview", "claude"}},
		{Name: "beta", Models: []string{"gpt-4"}},
	}
	renames := Renames{"alpha": {"gpt-4-turbo-preview": "gpt-4"}}

	groups, aggs := Split(providers, renames)

	require.Len(t, groups, 3)
	assert.Equal(t, "alpha-0-no-aggregate-models", groups[0].GroupName)
	assert.Equal(t, "alpha-1-gpt-4", groups[1].GroupName)
	assert.Equal(t, map[string]string{"gpt-4": "gpt-4-turbo-preview"}, groups[1].Redirects)
	assert.Equal(t, "beta-1-gpt-4", groups[2].GroupName)
	assert.Equal(t, []string{"alpha-1-gpt-4", "beta-1-gpt-4"}, aggs["gpt-4"])
}

func TestSplit_SameProviderDuplicateIsTwoSources(t *testing.T) {
	providers := []Provider{
		{Name: "solo", Models: []string{"deepseek-v3", "DeepSeek-V3-0324"}},
	}
	renames := Renames{"solo": {"DeepSeek-V3-0324": "deepseek-v3"}}

	groups, aggs := Split(providers, renames)

	require.Len(t, groups, 2, "no bundle group when every model is duplicated")
	assert.Equal(t, "solo-1-deepseek-v3", groups[0].GroupName)
	assert.Equal(t, "deepseek-v3", groups[0].Redirects["deepseek-v3"])
	assert.Equal(t, "solo-2-deepseek-v3", groups[1].GroupName)
	assert.Equal(t, "DeepSeek-V3-0324", groups[1].Redirects["deepseek-v3"])
	assert.Equal(t, []string{"solo-1-deepseek-v3", "solo-2-deepseek-v3"}, aggs["deepseek-v3"])
}

func TestSplit_CounterSpansDistinctDuplicates(t *testing.T) {
	providers := []Provider{
		{Name: "p", Models: []string{"x", "y", "z"}},
		{Name: "q", Models: []string{"x", "y"}},
	}

	groups, _ := Split(providers, nil)

	var names []string
	for _, g := range groups {
		names = append(names, g.GroupName)
	}
	assert.Equal(t, []string{
		"p-0-no-aggregate-models", "p-1-x", "p-2-y",
		"q-1-x", "q-2-y",
	}, names)
}

func TestSplit_ProviderWithoutModels(t *testing.T) {
	groups, aggs := Split([]Provider{{Name: "empty"}}, nil)

	assert.Empty(t, groups)
	assert.Empty(t, aggs)
}

func TestDesired_BuildsSortedAggregates(t *testing.T) {
	providers := []Provider{
		{Name: "A", ChannelType: "anthropic", Models: []string{"m1", "m2"}},
		{Name: "B", ChannelType: "openai", Models: []string{"m1"}},
	}

	desired, err := Desired(providers, nil)
	require.NoError(t, err)

	require.Len(t, desired.Aggregates, 1)
	agg := desired.Aggregates[0]
	assert.Equal(t, "aggregate-m1", agg.GroupName)
	assert.Equal(t, "m1", agg.Model)
	assert.Equal(t, []string{"a-1-m1", "b-1-m1"}, agg.Members)
	assert.Equal(t, "anthropic", agg.ChannelType, "channel type follows the first member")

	assert.Equal(t, map[string][]string{"a-1-m1": {"aggregate-m1"}, "b-1-m1": {"aggregate-m1"}}, desired.ParentAggregates())
	assert.Equal(t, 2, desired.ModelExposure()["m1"])
}

func TestDesired_NameCollision(t *testing.T) {
	providers := []Provider{
		{Name: "Foo Bar", Models: []string{"a"}},
		{Name: "foo-bar", Models: []string{"b"}},
	}

	_, err := Desired(providers, nil)
	assert.ErrorIs(t, err, ErrNameCollision)
}

func TestDesired_AggregateCollision(t *testing.T) {
	providers := []Provider{
		{Name: "p", Models: []string{"gpt.4", "gpt-4"}},
		{Name: "q", Models: []string{"gpt.4", "gpt-4"}},
	}

	_, err := Desired(providers, nil)
	assert.ErrorIs(t, err, ErrNameCollision)
}

func catalogGen() *rapid.Generator[[]Provider] {
	return rapid.Custom(func(rt *rapid.T) []Provider {
		n := rapid.IntRange(0, 5).Draw(rt, "providers")
		providers := make([]Provider, 0, n)
		for i := 0; i < n; i++ {
			models := rapid.SliceOfDistinct(
				rapid.SampledFrom([]string{"m1", "m2", "m3", "m4", "m5", "m6"}),
				func(s string) string { return s },
			).Draw(rt, fmt.Sprintf("models-%d", i))
			providers = append(providers, Provider{Name: fmt.Sprintf("prov%d", i), Models: models})
		}
		return providers
	})
}

func TestProperty_PartitionAndAggregation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		providers := catalogGen().Draw(rt, "catalog")
		groups, aggs := Split(providers, nil)

		// every (provider, model) appears in exactly one group
		sources := make(map[string]int)
		for _, p := range providers {
			for _, m := range p.Models {
				count := 0
				for _, g := range groups {
					if g.Provider == p.Name && g.Redirects[m] == m {
						count++
					}
				}
				assert.Equal(rt, 1, count, "provider %s model %s", p.Name, m)
				sources[m]++
			}
		}

		// aggregation exists iff two or more sources
		for m, n := range sources {
			members, ok := aggs[m]
			if n >= 2 {
				require.True(rt, ok, "model %s has %d sources", m, n)
				assert.Len(rt, members, n)
			} else {
				assert.False(rt, ok, "model %s has a single source", m)
			}
		}

		// split groups are globally unique and non-empty
		seen := make(map[string]bool)
		for _, g := range groups {
			assert.False(rt, seen[g.GroupName], "duplicate group %s", g.GroupName)
			seen[g.GroupName] = true
			assert.NotEmpty(rt, g.Redirects)
		}
	})
}
