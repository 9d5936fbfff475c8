package planner

import "sort"

const (
	// DefaultChannelType is used for aggregate groups whose members carry no channel type.
	DefaultChannelType = "openai"

	aggregatePrefix   = "aggregate-"
	noAggregateSuffix = "0-no-aggregate-models"
)

// Provider is one catalog entry: a provider and its active models, in catalog order.
type Provider struct {
	Name        string
	BaseURL     string
	Credential  string
	ChannelType string
	Models      []string
}

// Renames maps provider name -> original model name -> normalized model name.
type Renames map[string]map[string]string

// EffectiveName returns the normalized name of a provider's model, or the original name
// when no rename rule exists.
func (r Renames) EffectiveName(provider, original string) string {
	if byModel, ok := r[provider]; ok {
		if normalized, ok := byModel[original]; ok && normalized != "" {
			return normalized
		}
	}
	return original
}

// ModelSource is a single contribution to a normalized model name.
type ModelSource struct {
	Provider string
	Original string
}

// SplitGroup is a desired standard group exposing a disjoint subset of one provider's models.
type SplitGroup struct {
	GroupName   string            `json:"group_name"`
	Provider    string            `json:"provider_name"`
	BaseURL     string            `json:"base_url"`
	Credential  string            `json:"-"`
	ChannelType string            `json:"channel_type"`
	Redirects   map[string]string `json:"model_redirect_rules"` // normalized -> original
}

// Models returns the normalized model names exposed by the group, sorted.
func (g SplitGroup) Models() []string {
	models := make([]string, 0, len(g.Redirects))
	for m := range g.Redirects {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Aggregations maps a normalized model name to the ordered SplitGroup names offering it.
// An entry exists only for models with at least two sources.
type Aggregations map[string][]string

// Models returns the aggregated model names, sorted.
func (a Aggregations) Models() []string {
	models := make([]string, 0, len(a))
	for m := range a {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// AggregateGroup is a desired load-balancing group for one normalized model.
type AggregateGroup struct {
	GroupName   string   `json:"group_name"`
	Model       string   `json:"model_name"`
	Members     []string `json:"sub_group_names"`
	ChannelType string   `json:"channel_type"`
}

// AggregateName returns the aggregate group name for a normalized model.
func AggregateName(model string) string {
	return aggregatePrefix + Sanitize(model)
}

// DesiredState is the complete set of groups one planning pass wants to exist remotely.
type DesiredState struct {
	Standard     []SplitGroup
	Aggregates   []AggregateGroup
	Aggregations Aggregations
}

// StandardByName indexes the desired standard groups by name.
func (d *DesiredState) StandardByName() map[string]SplitGroup {
	out := make(map[string]SplitGroup, len(d.Standard))
	for _, g := range d.Standard {
		out[g.GroupName] = g
	}
	return out
}

// AggregateByName indexes the desired aggregate groups by name.
func (d *DesiredState) AggregateByName() map[string]AggregateGroup {
	out := make(map[string]AggregateGroup, len(d.Aggregates))
	for _, g := range d.Aggregates {
		out[g.GroupName] = g
	}
	return out
}

// ModelExposure counts, per normalized model, how many desired standard groups expose it.
func (d *DesiredState) ModelExposure() map[string]int {
	out := make(map[string]int)
	for _, g := range d.Standard {
		for m := range g.Redirects {
			out[m]++
		}
	}
	return out
}

// ParentAggregates returns, for each desired standard group, the desired aggregates it belongs to.
func (d *DesiredState) ParentAggregates() map[string][]string {
	out := make(map[string][]string)
	for _, agg := range d.Aggregates {
		for _, member := range agg.Members {
			out[member] = append(out[member], agg.GroupName)
		}
	}
	return out
}
