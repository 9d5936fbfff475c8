package gptload

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Reader builds snapshots of the remote group state.
type Reader struct {
	api    API
	logger *zap.Logger
}

func NewReader(api API, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{api: api, logger: logger}
}

// Fetch lists every group, then loads the membership of each aggregate. Any failure
// aborts the fetch: no partial snapshot is returned.
func (r *Reader) Fetch(ctx context.Context) (*Snapshot, error) {
	groups, err := r.api.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	names := make(map[int]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}

	for i := range groups {
		if !groups[i].IsAggregate() {
			continue
		}
		subs, err := r.api.GetSubGroups(ctx, groups[i].ID)
		if err != nil {
			return nil, fmt.Errorf("sub-groups of %q: %w", groups[i].Name, err)
		}
		for j := range subs {
			if subs[j].Name == "" {
				subs[j].Name = names[subs[j].ID]
			}
		}
		sort.Slice(subs, func(a, b int) bool { return subs[a].Name < subs[b].Name })
		groups[i].SubGroups = subs
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].Name < groups[b].Name })

	r.logger.Debug("fetched remote snapshot", zap.Int("groups", len(groups)))
	return &Snapshot{Groups: groups}, nil
}
