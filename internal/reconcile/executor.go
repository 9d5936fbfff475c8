package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"go.uber.org/zap"
)

const (
	StrategyIncremental = "incremental"
	StrategyRecreate    = "recreate"
)

var errUnknownGroup = errors.New("group has no known remote id")

// SnapshotReader re-reads the remote state after a run.
type SnapshotReader interface {
	Fetch(ctx context.Context) (*gptload.Snapshot, error)
}

// TrackedStore persists the tracked group records.
type TrackedStore interface {
	ReplaceAll(ctx context.Context, records []model.GroupRecord) error
}

type Options struct {
	// Strategy is StrategyIncremental or StrategyRecreate.
	Strategy       string
	UpstreamWeight int
	SubGroupWeight int
}

type Executor struct {
	api     gptload.API
	reader  SnapshotReader
	tracked TrackedStore
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewExecutor(api gptload.API, reader SnapshotReader, tracked TrackedStore, opts Options, logger *zap.Logger) *Executor {
	if opts.Strategy == "" {
		opts.Strategy = StrategyIncremental
	}
	if opts.UpstreamWeight <= 0 {
		opts.UpstreamWeight = gptload.DefaultWeight
	}
	if opts.SubGroupWeight <= 0 {
		opts.SubGroupWeight = gptload.DefaultWeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		api:     api,
		reader:  reader,
		tracked: tracked,
		opts:    opts,
		logger:  logger.With(zap.String("component", "executor")),
		now:     time.Now,
	}
}

// run is the live view of the remote state while a plan is applied. Every successful
// mutation updates it so later steps see earlier outcomes.
type run struct {
	*Executor
	ctx     context.Context
	desired *planner.DesiredState
	report  *Report

	ids        map[string]int
	aggregates map[string]bool
	members    map[string]map[string]int // aggregate -> member name -> member id
	// keyless holds standard groups whose desired key may not be on gpt-load
	keyless map[string]bool
}

// Apply executes plan against the remote service in the fixed step order and then
// persists the re-read remote state. Individual failures are collected in the report.
func (e *Executor) Apply(ctx context.Context, plan *Plan, snapshot *gptload.Snapshot, desired *planner.DesiredState) *Report {
	r := &run{
		Executor:   e,
		ctx:        ctx,
		desired:    desired,
		report:     newReport(),
		ids:        snapshot.IDs(),
		aggregates: make(map[string]bool),
		members:    make(map[string]map[string]int),
		keyless:    make(map[string]bool),
	}
	for name, g := range snapshot.Aggregates() {
		r.aggregates[name] = true
		r.members[name] = make(map[string]int, len(g.SubGroups))
		for _, s := range g.SubGroups {
			r.members[name][s.Name] = s.ID
		}
	}

	r.dissolveAggregates(plan)
	r.updateStandard(plan)
	if e.opts.Strategy == StrategyIncremental {
		r.patchAggregates(plan)
	}
	r.createStandard(plan)
	r.deleteStandard(plan)
	r.createAggregates()
	r.persist()

	e.logger.Info("plan applied",
		zap.Int("created", len(r.report.Created)),
		zap.Int("updated", len(r.report.Updated)),
		zap.Int("deleted", len(r.report.Deleted)),
		zap.Int("errors", len(r.report.Errors)))
	return r.report
}

// step 1
func (r *run) dissolveAggregates(plan *Plan) {
	for _, name := range plan.OrphanedAggregates {
		r.deleteAggregate(1, name)
	}
	for _, name := range plan.DeleteAggregate {
		r.deleteAggregate(1, name)
	}
}

// step 2
func (r *run) updateStandard(plan *Plan) {
	if r.opts.Strategy == StrategyRecreate {
		for _, u := range plan.UpdateAggregate {
			r.deleteAggregate(2, u.Group.GroupName)
		}
	}

	for _, u := range plan.UpdateStandard {
		req := gptload.StandardGroupRequest(u.Group, r.opts.UpstreamWeight)
		if err := r.api.UpdateGroup(r.ctx, u.RemoteID, req); err != nil {
			r.report.fail(2, "update_group", u.Group.GroupName, err)
			if u.Change.Credential {
				r.keyless[u.Group.GroupName] = true
			}
			continue
		}
		if u.Change.Credential {
			if err := r.api.AddKeys(r.ctx, u.RemoteID, []string{u.Group.Credential}); err != nil {
				r.report.fail(2, "add_keys", u.Group.GroupName, err)
				r.keyless[u.Group.GroupName] = true
				continue
			}
		}
		r.report.Updated = append(r.report.Updated, u.Group.GroupName)
		r.logger.Info("updated standard group",
			zap.String("group", u.Group.GroupName),
			zap.Strings("added", u.Change.AddedModels),
			zap.Strings("removed", u.Change.RemovedModels))
	}
}

// step 3
func (r *run) patchAggregates(plan *Plan) {
	for _, u := range plan.UpdateAggregate {
		name := u.Group.GroupName
		aggID, ok := r.ids[name]
		if !ok || !r.aggregates[name] {
			r.report.fail(3, "patch_aggregate", name, errUnknownGroup)
			continue
		}

		failed := false
		for _, member := range u.Change.RemovedMembers {
			subID, linked := r.members[name][member]
			if !linked {
				continue
			}
			if err := r.api.RemoveSubGroup(r.ctx, aggID, subID); err != nil {
				r.report.fail(3, "remove_sub_group", name+"/"+member, err)
				failed = true
				continue
			}
			delete(r.members[name], member)
		}

		var links []gptload.SubGroupWeight
		var linkedNames []string
		for _, member := range u.Change.AddedMembers {
			if id, exists := r.ids[member]; exists {
				links = append(links, gptload.SubGroupWeight{GroupID: id, Weight: r.opts.SubGroupWeight})
				linkedNames = append(linkedNames, member)
			}
		}
		if len(links) > 0 {
			if err := r.api.AddSubGroups(r.ctx, aggID, links); err != nil {
				r.report.fail(3, "add_sub_groups", name, err)
				failed = true
			} else {
				for i, member := range linkedNames {
					r.members[name][member] = links[i].GroupID
				}
			}
		}

		if !failed {
			r.report.Updated = append(r.report.Updated, name)
		}
	}
}

// step 4
func (r *run) createStandard(plan *Plan) {
	parents := r.desired.ParentAggregates()

	for _, g := range plan.CreateStandard {
		id, ok := r.create(4, gptload.StandardGroupRequest(g, r.opts.UpstreamWeight))
		if !ok {
			continue
		}
		r.ids[g.GroupName] = id

		if g.Credential != "" {
			if err := r.api.AddKeys(r.ctx, id, []string{g.Credential}); err != nil {
				r.report.fail(4, "add_keys", g.GroupName, err)
				r.rollback(g.GroupName, id)
				continue
			}
		}
		r.report.Created = append(r.report.Created, g.GroupName)

		for _, agg := range parents[g.GroupName] {
			if !r.aggregates[agg] {
				continue // created with full membership in step 6
			}
			link := []gptload.SubGroupWeight{{GroupID: id, Weight: r.opts.SubGroupWeight}}
			if err := r.api.AddSubGroups(r.ctx, r.ids[agg], link); err != nil {
				r.report.fail(4, "add_sub_groups", agg+"/"+g.GroupName, err)
				continue
			}
			r.members[agg][g.GroupName] = id
		}
	}
}

// step 5
func (r *run) deleteStandard(plan *Plan) {
	for _, name := range plan.DeleteStandard {
		id, ok := r.ids[name]
		if !ok {
			r.report.fail(5, "delete_group", name, errUnknownGroup)
			continue
		}

		for _, agg := range r.parentsOf(name) {
			if err := r.api.RemoveSubGroup(r.ctx, r.ids[agg], id); err != nil {
				r.report.fail(5, "remove_sub_group", agg+"/"+name, err)
				continue
			}
			delete(r.members[agg], name)
			// a single remaining member is dissolved as an orphan on the next run
			if len(r.members[agg]) == 0 {
				r.deleteAggregate(5, agg)
			}
		}

		if err := r.api.DeleteGroup(r.ctx, id); err != nil {
			r.report.fail(5, "delete_group", name, err)
			continue
		}
		delete(r.ids, name)
		r.report.Deleted = append(r.report.Deleted, name)
	}
}

// step 6
func (r *run) createAggregates() {
	for _, agg := range r.desired.Aggregates {
		if r.aggregates[agg.GroupName] {
			continue
		}

		var links []gptload.SubGroupWeight
		var names []string
		for _, member := range agg.Members {
			if id, ok := r.ids[member]; ok {
				links = append(links, gptload.SubGroupWeight{GroupID: id, Weight: r.opts.SubGroupWeight})
				names = append(names, member)
			}
		}
		if len(links) < 2 {
			r.report.fail(6, "create_group", agg.GroupName,
				fmt.Errorf("only %d of %d members exist remotely", len(links), len(agg.Members)))
			continue
		}

		aggID, ok := r.create(6, gptload.AggregateGroupRequest(agg))
		if !ok {
			continue
		}
		r.ids[agg.GroupName] = aggID
		r.aggregates[agg.GroupName] = true
		r.members[agg.GroupName] = make(map[string]int, len(links))
		r.report.Created = append(r.report.Created, agg.GroupName)

		if err := r.api.AddSubGroups(r.ctx, aggID, links); err != nil {
			r.report.fail(6, "add_sub_groups", agg.GroupName, err)
			continue
		}
		for i, member := range names {
			r.members[agg.GroupName][member] = links[i].GroupID
		}
	}
}

// create issues a create call. A conflict means the group already exists, usually
// because an earlier attempt succeeded and its answer was lost; the group is then
// adopted by name from a fresh listing.
func (r *run) create(step int, req gptload.GroupRequest) (int, bool) {
	id, err := r.api.CreateGroup(r.ctx, req)
	if err == nil {
		return id, true
	}
	if gptload.IsConflict(err) {
		if id, found := r.lookup(req.Name, req.GroupType); found {
			r.logger.Warn("adopted existing group after create conflict",
				zap.String("group", req.Name), zap.Int("id", id), zap.Int("step", step))
			return id, true
		}
	}
	r.report.fail(step, "create_group", req.Name, err)
	return 0, false
}

func (r *run) lookup(name, groupType string) (int, bool) {
	groups, err := r.api.ListGroups(r.ctx)
	if err != nil {
		return 0, false
	}
	for _, g := range groups {
		if g.Name == name && g.GroupType == groupType {
			return g.ID, true
		}
	}
	return 0, false
}

// rollback deletes a group created in this run whose key could not be added, so the
// next run creates it again. A failed rollback leaves it marked keyless.
func (r *run) rollback(name string, id int) {
	if err := r.api.DeleteGroup(r.ctx, id); err != nil {
		r.report.fail(4, "delete_group", name, err)
		r.keyless[name] = true
		return
	}
	delete(r.ids, name)
	r.logger.Warn("rolled back group without key", zap.String("group", name))
}

// step 7
func (r *run) persist() {
	if r.tracked == nil || r.reader == nil {
		return
	}
	snap, err := r.reader.Fetch(r.ctx)
	if err != nil {
		r.report.fail(7, "fetch", "", err)
		return
	}
	records := Records(snap, r.desired, r.now())
	for i := range records {
		if r.keyless[records[i].Name] {
			records[i].CredentialHash = ""
		}
	}
	if err := r.tracked.ReplaceAll(r.ctx, records); err != nil {
		r.report.fail(7, "replace_tracked", "", err)
	}
}

func (r *run) deleteAggregate(step int, name string) {
	id, ok := r.ids[name]
	if !ok || !r.aggregates[name] {
		r.report.fail(step, "delete_group", name, errUnknownGroup)
		return
	}
	if err := r.api.DeleteGroup(r.ctx, id); err != nil {
		r.report.fail(step, "delete_group", name, err)
		return
	}
	delete(r.ids, name)
	delete(r.aggregates, name)
	delete(r.members, name)
	r.report.Deleted = append(r.report.Deleted, name)
	r.logger.Info("deleted aggregate group", zap.String("group", name), zap.Int("step", step))
}

func (r *run) parentsOf(member string) []string {
	var out []string
	for agg, members := range r.members {
		if _, ok := members[member]; ok && r.aggregates[agg] {
			out = append(out, agg)
		}
	}
	sort.Strings(out)
	return out
}
