// Package reconcile diffs the remote gpt-load state against a desired state and
// applies the resulting plan.
package reconcile

import (
	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
)

// ModelChange is a redirect rule whose target original name changed.
type ModelChange struct {
	Model string `json:"model"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type ChannelTypeChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UpstreamChange carries the normalized upstream lists on both sides.
type UpstreamChange struct {
	From []gptload.Upstream `json:"from"`
	To   []gptload.Upstream `json:"to"`
}

// StandardGroupChange describes every field that differs on a standard group.
type StandardGroupChange struct {
	AddedModels   []string           `json:"added_models"`
	RemovedModels []string           `json:"removed_models"`
	ChangedModels []ModelChange      `json:"changed_models"`
	ChannelType   *ChannelTypeChange `json:"channel_type_change,omitempty"`
	Upstream      *UpstreamChange    `json:"upstream_change,omitempty"`
	// Credential is set when the provider key differs from the one last pushed.
	Credential bool `json:"credential_changed,omitempty"`
}

func (c StandardGroupChange) IsEmpty() bool {
	return len(c.AddedModels) == 0 && len(c.RemovedModels) == 0 && len(c.ChangedModels) == 0 &&
		c.ChannelType == nil && c.Upstream == nil && !c.Credential
}

// AggregateGroupChange is the membership delta of an aggregate group.
type AggregateGroupChange struct {
	AddedMembers   []string `json:"added_members"`
	RemovedMembers []string `json:"removed_members"`
}

func (c AggregateGroupChange) IsEmpty() bool {
	return len(c.AddedMembers) == 0 && len(c.RemovedMembers) == 0
}

type StandardUpdate struct {
	Group    planner.SplitGroup  `json:"group"`
	RemoteID int                 `json:"remote_id"`
	Change   StandardGroupChange `json:"change"`
}

type AggregateUpdate struct {
	Group    planner.AggregateGroup `json:"group"`
	RemoteID int                    `json:"remote_id"`
	Change   AggregateGroupChange   `json:"change"`
}

// Plan is the full set of remote mutations that turns the existing state into the
// desired one. Every list is sorted by group name.
type Plan struct {
	CreateStandard     []planner.SplitGroup     `json:"to_create_standard"`
	UpdateStandard     []StandardUpdate         `json:"to_update_standard"`
	DeleteStandard     []string                 `json:"to_delete_standard"`
	CreateAggregate    []planner.AggregateGroup `json:"to_create_aggregate"`
	UpdateAggregate    []AggregateUpdate        `json:"to_update_aggregate"`
	DeleteAggregate    []string                 `json:"to_delete_aggregate"`
	OrphanedAggregates []string                 `json:"orphaned_aggregates"`
}

func newPlan() *Plan {
	return &Plan{
		CreateStandard:     []planner.SplitGroup{},
		UpdateStandard:     []StandardUpdate{},
		DeleteStandard:     []string{},
		CreateAggregate:    []planner.AggregateGroup{},
		UpdateAggregate:    []AggregateUpdate{},
		DeleteAggregate:    []string{},
		OrphanedAggregates: []string{},
	}
}

// IsEmpty reports whether applying the plan would change nothing.
func (p *Plan) IsEmpty() bool {
	return len(p.CreateStandard) == 0 && len(p.UpdateStandard) == 0 && len(p.DeleteStandard) == 0 &&
		len(p.CreateAggregate) == 0 && len(p.UpdateAggregate) == 0 && len(p.DeleteAggregate) == 0 &&
		len(p.OrphanedAggregates) == 0
}

// Counts returns the size of every plan list keyed by its JSON name.
func (p *Plan) Counts() map[string]int {
	return map[string]int{
		"to_create_standard":  len(p.CreateStandard),
		"to_update_standard":  len(p.UpdateStandard),
		"to_delete_standard":  len(p.DeleteStandard),
		"to_create_aggregate": len(p.CreateAggregate),
		"to_update_aggregate": len(p.UpdateAggregate),
		"to_delete_aggregate": len(p.DeleteAggregate),
		"orphaned_aggregates": len(p.OrphanedAggregates),
	}
}
