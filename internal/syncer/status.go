package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/reconcile"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/model"
)

// Status describes the active run.
type Status struct {
	ID        string           `json:"sync_id"`
	Status    model.SyncStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"-"`
}

// Current returns the active run, or nil when idle.
func (c *Coordinator) Current() *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	return &Status{
		ID:        c.current.ID,
		Status:    c.current.Status,
		StartedAt: c.current.StartedAt,
		Elapsed:   c.now().Sub(c.current.StartedAt),
	}
}

// InProgress reports whether a run holds the guard.
func (c *Coordinator) InProgress() bool {
	return len(c.guard) > 0
}

func (c *Coordinator) History(ctx context.Context, limit, offset int) ([]model.SyncRecord, error) {
	return c.store.SyncRecords().List(ctx, limit, offset)
}

func (c *Coordinator) Get(ctx context.Context, id string) (*model.SyncRecord, error) {
	rec, err := c.store.SyncRecords().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Retry starts a fresh run on behalf of a failed record.
func (c *Coordinator) Retry(ctx context.Context, id string, opts RunOptions) (*model.SyncRecord, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.SyncFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFailed, id, rec.Status)
	}
	return c.Run(ctx, opts)
}

// DryRun is the result of planning without applying.
type DryRun struct {
	Desired *planner.DesiredState
	Plan    *reconcile.Plan
}

// Plan computes what a run would change. It takes no guard and mutates nothing.
func (c *Coordinator) Plan(ctx context.Context) (*DryRun, error) {
	desired, _, plan, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return &DryRun{Desired: desired, Plan: plan}, nil
}

// Snapshot reads the live gpt-load state.
func (c *Coordinator) Snapshot(ctx context.Context) (*gptload.Snapshot, error) {
	return c.reader.Fetch(ctx)
}
