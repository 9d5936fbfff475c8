package reconcile

import (
	"fmt"
	"sort"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
)

// Diff compares a remote snapshot with the desired state using the default upstream weight.
func Diff(existing *gptload.Snapshot, desired *planner.DesiredState) *Plan {
	return DiffWeighted(existing, desired, gptload.DefaultWeight)
}

// DiffWeighted compares a remote snapshot with the desired state without tracked
// state, so credentials are not compared.
func DiffWeighted(existing *gptload.Snapshot, desired *planner.DesiredState, upstreamWeight int) *Plan {
	return DiffTracked(existing, desired, upstreamWeight, nil)
}

// DiffTracked compares a remote snapshot with the desired state. Keys cannot be read
// back from gpt-load, so a standard group's credential is compared against the
// fingerprint tracked for it; a nil tracked skips that comparison. The result is
// deterministic: the same inputs always produce an identical plan.
func DiffTracked(existing *gptload.Snapshot, desired *planner.DesiredState, upstreamWeight int, tracked *Tracked) *Plan {
	plan := newPlan()
	if desired == nil {
		desired = &planner.DesiredState{}
	}

	existingStd := existing.Standard()
	existingAgg := existing.Aggregates()
	desiredStd := desired.StandardByName()
	desiredAgg := desired.AggregateByName()

	for _, name := range sortedKeys(desiredStd) {
		want := desiredStd[name]
		have, ok := existingStd[name]
		if !ok {
			plan.CreateStandard = append(plan.CreateStandard, want)
			continue
		}
		change := diffStandard(have, want, upstreamWeight)
		if tracked != nil && want.Credential != "" && tracked.Credentials[name] != CredentialHash(want.Credential) {
			change.Credential = true
		}
		if !change.IsEmpty() {
			plan.UpdateStandard = append(plan.UpdateStandard, StandardUpdate{Group: want, RemoteID: have.ID, Change: change})
		}
	}
	for _, name := range sortedKeys(existingStd) {
		if _, ok := desiredStd[name]; !ok {
			plan.DeleteStandard = append(plan.DeleteStandard, name)
		}
	}

	for _, name := range sortedKeys(desiredAgg) {
		want := desiredAgg[name]
		have, ok := existingAgg[name]
		if !ok {
			plan.CreateAggregate = append(plan.CreateAggregate, want)
			continue
		}
		if change := diffMembers(have.MemberNames(), want.Members); !change.IsEmpty() {
			plan.UpdateAggregate = append(plan.UpdateAggregate, AggregateUpdate{Group: want, RemoteID: have.ID, Change: change})
		}
	}

	// An aggregate is only desired with two or more members, so an existing aggregate
	// whose model is still exposed by exactly one group has shrunk to a single member.
	exposure := desired.ModelExposure()
	for _, name := range sortedKeys(existingAgg) {
		if _, ok := desiredAgg[name]; ok {
			continue
		}
		if exposedBy(exposure, name, aggregateModel(existingAgg[name], existingStd, tracked)) == 1 {
			plan.OrphanedAggregates = append(plan.OrphanedAggregates, name)
		} else {
			plan.DeleteAggregate = append(plan.DeleteAggregate, name)
		}
	}

	return plan
}

// aggregateModel resolves the normalized model an existing aggregate balances: the
// tracked model first, then the single model its members redirect. Empty when unknown.
func aggregateModel(agg gptload.Group, standard map[string]gptload.Group, tracked *Tracked) string {
	if tracked != nil {
		if m, ok := tracked.Models[agg.Name]; ok && m != "" {
			return m
		}
	}
	for _, member := range agg.MemberNames() {
		g, ok := standard[member]
		if !ok || len(g.Redirects) != 1 {
			continue
		}
		for m := range g.Redirects {
			if planner.AggregateName(m) == agg.Name {
				return m
			}
		}
	}
	return ""
}

func exposedBy(exposure map[string]int, aggregate, model string) int {
	if model != "" {
		return exposure[model]
	}
	n := 0
	for m, count := range exposure {
		if planner.AggregateName(m) == aggregate {
			n += count
		}
	}
	return n
}

func diffStandard(have gptload.Group, want planner.SplitGroup, upstreamWeight int) StandardGroupChange {
	change := StandardGroupChange{
		AddedModels:   []string{},
		RemovedModels: []string{},
		ChangedModels: []ModelChange{},
	}

	for _, model := range want.Models() {
		original, ok := have.Redirects[model]
		switch {
		case !ok:
			change.AddedModels = append(change.AddedModels, model)
		case original != want.Redirects[model]:
			change.ChangedModels = append(change.ChangedModels, ModelChange{Model: model, From: original, To: want.Redirects[model]})
		}
	}
	for _, model := range sortedKeys(have.Redirects) {
		if _, ok := want.Redirects[model]; !ok {
			change.RemovedModels = append(change.RemovedModels, model)
		}
	}

	wantChannel := want.ChannelType
	if wantChannel == "" {
		wantChannel = planner.DefaultChannelType
	}
	if have.ChannelType != wantChannel {
		change.ChannelType = &ChannelTypeChange{From: have.ChannelType, To: wantChannel}
	}

	haveUps := normalizeUpstreams(have.Upstreams)
	wantUps := normalizeUpstreams(gptload.StandardUpstreams(want.BaseURL, upstreamWeight))
	if !sameUpstreams(haveUps, wantUps) {
		change.Upstream = &UpstreamChange{From: haveUps, To: wantUps}
	}
	return change
}

func diffMembers(have, want []string) AggregateGroupChange {
	change := AggregateGroupChange{AddedMembers: []string{}, RemovedMembers: []string{}}
	haveSet := toSet(have)
	wantSet := toSet(want)

	for _, m := range sortedKeys(wantSet) {
		if !haveSet[m] {
			change.AddedMembers = append(change.AddedMembers, m)
		}
	}
	for _, m := range sortedKeys(haveSet) {
		if !wantSet[m] {
			change.RemovedMembers = append(change.RemovedMembers, m)
		}
	}
	return change
}

// normalizeUpstreams strips trailing slashes, drops exact duplicates and sorts, so the
// comparison is order independent.
func normalizeUpstreams(ups []gptload.Upstream) []gptload.Upstream {
	seen := make(map[string]bool, len(ups))
	out := make([]gptload.Upstream, 0, len(ups))
	for _, u := range ups {
		n := gptload.Upstream{URL: u.NormalizedURL(), Weight: u.Weight}
		key := fmt.Sprintf("%s|%d", n.URL, n.Weight)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].Weight < out[j].Weight
	})
	return out
}

func sameUpstreams(a, b []gptload.Upstream) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
