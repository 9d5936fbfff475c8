// Package planner computes the gpt-load groups a provider catalog should be deployed as.
//
// Every model is assigned to exactly one standard group. Models that are offered by a
// single source are bundled into one group per provider; models offered by two or more
// sources get one single-model group per source, and an aggregate group load balances
// across those.
package planner

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNameCollision is returned when two desired groups sanitize to the same name.
var ErrNameCollision = errors.New("group name collision")

// Split partitions the catalog into standard groups and computes the aggregation map.
func Split(providers []Provider, renames Renames) ([]SplitGroup, Aggregations) {
	sources := make(map[string][]ModelSource)
	for _, p := range providers {
		for _, original := range p.Models {
			name := renames.EffectiveName(p.Name, original)
			sources[name] = append(sources[name], ModelSource{Provider: p.Name, Original: original})
		}
	}

	duplicates := make(map[string]bool)
	for name, s := range sources {
		if len(s) > 1 {
			duplicates[name] = true
		}
	}

	var groups []SplitGroup
	for _, p := range providers {
		groups = append(groups, splitProvider(p, renames, duplicates)...)
	}

	aggregations := make(Aggregations, len(duplicates))
	for name := range duplicates {
		aggregations[name] = membersFor(name, sources[name], groups)
	}

	return groups, aggregations
}

func splitProvider(p Provider, renames Renames, duplicates map[string]bool) []SplitGroup {
	if len(p.Models) == 0 {
		return nil
	}

	prefix := Sanitize(p.Name)
	bundle := make(map[string]string)

	// duplicate models in first-seen order, each with its physical instances
	var dupOrder []string
	dupInstances := make(map[string][]string)

	for _, original := range p.Models {
		name := renames.EffectiveName(p.Name, original)
		if !duplicates[name] {
			bundle[name] = original
			continue
		}
		if _, seen := dupInstances[name]; !seen {
			dupOrder = append(dupOrder, name)
		}
		dupInstances[name] = append(dupInstances[name], original)
	}

	var groups []SplitGroup
	if len(bundle) > 0 {
		groups = append(groups, newSplitGroup(p, prefix+"-"+noAggregateSuffix, bundle))
	}

	k := 0
	for _, name := range dupOrder {
		for _, original := range dupInstances[name] {
			k++
			groupName := fmt.Sprintf("%s-%d-%s", prefix, k, Sanitize(name))
			groups = append(groups, newSplitGroup(p, groupName, map[string]string{name: original}))
		}
	}
	return groups
}

func newSplitGroup(p Provider, name string, redirects map[string]string) SplitGroup {
	if len(name) > MaxNameLength {
		name = Sanitize(name)
	}
	return SplitGroup{
		GroupName:   name,
		Provider:    p.Name,
		BaseURL:     p.BaseURL,
		Credential:  p.Credential,
		ChannelType: p.ChannelType,
		Redirects:   redirects,
	}
}

// membersFor finds, for each source of a model, the group holding that exact instance.
func membersFor(model string, sources []ModelSource, groups []SplitGroup) []string {
	var members []string
	seen := make(map[string]bool)

	for _, src := range sources {
		for _, g := range groups {
			if g.Provider != src.Provider || seen[g.GroupName] {
				continue
			}
			if original, ok := g.Redirects[model]; ok && original == src.Original {
				members = append(members, g.GroupName)
				seen[g.GroupName] = true
				break
			}
		}
	}
	return members
}

// Aggregate builds the aggregate group for a model; channelType falls back to the default.
func Aggregate(model string, members []string, channelType string) AggregateGroup {
	if channelType == "" {
		channelType = DefaultChannelType
	}
	return AggregateGroup{
		GroupName:   AggregateName(model),
		Model:       model,
		Members:     append([]string(nil), members...),
		ChannelType: channelType,
	}
}

// Desired runs a full planning pass and returns the desired state, sorted by group name.
func Desired(providers []Provider, renames Renames) (*DesiredState, error) {
	groups, aggregations := Split(providers, renames)

	byName := make(map[string]SplitGroup, len(groups))
	for _, g := range groups {
		if existing, ok := byName[g.GroupName]; ok {
			return nil, fmt.Errorf("%w: %q produced by providers %q and %q",
				ErrNameCollision, g.GroupName, existing.Provider, g.Provider)
		}
		byName[g.GroupName] = g
	}

	aggregates := make([]AggregateGroup, 0, len(aggregations))
	aggNames := make(map[string]string, len(aggregations))
	for _, model := range aggregations.Models() {
		members := aggregations[model]
		channelType := ""
		if len(members) > 0 {
			channelType = byName[members[0]].ChannelType
		}
		agg := Aggregate(model, members, channelType)

		if _, clash := byName[agg.GroupName]; clash {
			return nil, fmt.Errorf("%w: aggregate %q for model %q matches a standard group",
				ErrNameCollision, agg.GroupName, model)
		}
		if other, clash := aggNames[agg.GroupName]; clash {
			return nil, fmt.Errorf("%w: aggregate %q produced by models %q and %q",
				ErrNameCollision, agg.GroupName, other, model)
		}
		aggNames[agg.GroupName] = model
		aggregates = append(aggregates, agg)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupName < groups[j].GroupName })
	sort.Slice(aggregates, func(i, j int) bool { return aggregates[i].GroupName < aggregates[j].GroupName })

	return &DesiredState{
		Standard:     groups,
		Aggregates:   aggregates,
		Aggregations: aggregations,
	}, nil
}

// Summary is a compact one-line description of a desired state.
func (d *DesiredState) Summary() string {
	return fmt.Sprintf("%d standard groups, %d aggregate groups", len(d.Standard), len(d.Aggregates))
}
