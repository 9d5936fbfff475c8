// Package syncer runs one reconciliation pass at a time and keeps its lifecycle records.
package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/platform/otel"
	"github.com/nulzo/gptload-sync/internal/reconcile"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/nulzo/gptload-sync/internal/uniapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrSyncInProgress is returned when a run is requested while another one is active.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotFound       = errors.New("sync record not found")
	// ErrNotFailed is returned when retrying a record that did not fail.
	ErrNotFailed = errors.New("sync record is not in failed status")
)

// Applier executes a reconciliation plan.
type Applier interface {
	Apply(ctx context.Context, plan *reconcile.Plan, snapshot *gptload.Snapshot, desired *planner.DesiredState) *reconcile.Report
}

type Metrics interface {
	SyncStarted()
	SyncFinished(status string, d time.Duration)
	RecordPlan(counts map[string]int)
}

type noopMetrics struct{}

func (noopMetrics) SyncStarted()                       {}
func (noopMetrics) SyncFinished(string, time.Duration) {}
func (noopMetrics) RecordPlan(map[string]int)          {}

type Config struct {
	GPTLoadURL     string
	AuthKey        string
	ExportPath     string
	UpstreamWeight int
}

type Deps struct {
	Store    store.Repository
	Reader   reconcile.SnapshotReader
	Executor Applier
	Metrics  Metrics
	Logger   *zap.Logger
}

// RunOptions tune a single run.
type RunOptions struct {
	// ExportPath overrides the configured uni-api export path when set.
	ExportPath string
}

// Coordinator owns the single-flight guard and the active run. It is safe for
// concurrent use.
type Coordinator struct {
	store    store.Repository
	reader   reconcile.SnapshotReader
	executor Applier
	metrics  Metrics
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	guard chan struct{}

	mu      sync.RWMutex
	current *model.SyncRecord
}

func NewCoordinator(d Deps, cfg Config) *Coordinator {
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if cfg.UpstreamWeight <= 0 {
		cfg.UpstreamWeight = gptload.DefaultWeight
	}
	return &Coordinator{
		store:    d.Store,
		reader:   d.Reader,
		executor: d.Executor,
		metrics:  d.Metrics,
		cfg:      cfg,
		logger:   d.Logger.With(zap.String("component", "syncer")),
		tracer:   otel.Tracer("syncer"),
		now:      func() time.Time { return time.Now().UTC() },
		guard:    make(chan struct{}, 1),
	}
}

// Run performs one full sync. The returned record carries the terminal status; err is
// non-nil only when the run could not be started or recorded.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*model.SyncRecord, error) {
	select {
	case c.guard <- struct{}{}:
	default:
		return nil, ErrSyncInProgress
	}
	defer func() { <-c.guard }()

	rec := &model.SyncRecord{Status: model.SyncPending, StartedAt: c.now()}
	if err := c.store.SyncRecords().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create sync record: %w", err)
	}

	rec.Status = model.SyncInProgress
	if err := c.store.SyncRecords().Update(ctx, rec); err != nil {
		c.abandon(rec, err)
		return nil, fmt.Errorf("start sync record: %w", err)
	}
	c.setCurrent(rec)
	defer c.setCurrent(nil)

	c.metrics.SyncStarted()
	log := c.logger.With(zap.String("sync_id", rec.ID))
	log.Info("sync started")

	ctx, span := c.tracer.Start(ctx, "sync.run", trace.WithAttributes(attribute.String("sync.id", rec.ID)))
	defer span.End()

	outcome := c.execute(ctx, log, opts)

	rec.CompletedAt = sql.NullTime{Time: c.now(), Valid: true}
	rec.ErrorsJSON = encodeErrors(outcome.errors)
	if outcome.err != nil {
		rec.Status = model.SyncFailed
		rec.ErrorMessage = sql.NullString{String: outcome.err.Error(), Valid: true}
		span.RecordError(outcome.err)
		span.SetStatus(codes.Error, outcome.err.Error())
		log.Error("sync failed", zap.Error(outcome.err))
	} else {
		rec.Status = model.SyncSuccess
		log.Info("sync completed", zap.String("summary", outcome.summary), zap.Int("errors", len(outcome.errors)))
	}
	if outcome.summary != "" {
		rec.ChangesSummary = sql.NullString{String: outcome.summary, Valid: true}
	}

	c.metrics.SyncFinished(string(rec.Status), rec.Duration(c.now()))

	// the caller's context may already be done; the terminal state must still land
	if err := c.store.SyncRecords().Update(context.WithoutCancel(ctx), rec); err != nil {
		return rec, fmt.Errorf("finish sync record: %w", err)
	}
	return rec, nil
}

// abandon marks a record that could not be started as failed so it does not linger
// as pending.
func (c *Coordinator) abandon(rec *model.SyncRecord, cause error) {
	rec.Status = model.SyncFailed
	rec.CompletedAt = sql.NullTime{Time: c.now(), Valid: true}
	rec.ErrorMessage = sql.NullString{String: "could not start run: " + cause.Error(), Valid: true}
	if err := c.store.SyncRecords().Update(context.Background(), rec); err != nil {
		c.logger.Error("failed to mark unstarted sync record", zap.String("sync_id", rec.ID), zap.Error(err))
	}
}

type outcome struct {
	summary string
	errors  []reconcile.OpError
	err     error
}

func (c *Coordinator) execute(ctx context.Context, log *zap.Logger, opts RunOptions) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("sync panicked", zap.Any("panic", r), zap.Stack("stack"))
			out.err = fmt.Errorf("internal error: %v", r)
		}
	}()

	desired, snapshot, plan, err := c.prepare(ctx)
	if err != nil {
		return outcome{err: err}
	}
	c.metrics.RecordPlan(plan.Counts())

	applyCtx, span := c.tracer.Start(ctx, "sync.apply")
	report := c.executor.Apply(applyCtx, plan, snapshot, desired)
	span.SetAttributes(
		attribute.Int("sync.created", len(report.Created)),
		attribute.Int("sync.updated", len(report.Updated)),
		attribute.Int("sync.deleted", len(report.Deleted)),
		attribute.Int("sync.errors", len(report.Errors)),
	)
	span.End()

	out.errors = report.Errors
	for _, e := range report.Errors {
		log.Warn("remote operation failed", zap.Int("step", e.Step), zap.String("op", e.Op),
			zap.String("group", e.Group), zap.Error(e.Err))
	}

	// nothing was applied and everything attempted failed
	if len(report.Errors) > 0 && len(report.Created)+len(report.Updated)+len(report.Deleted) == 0 {
		out.err = fmt.Errorf("gpt-load configuration failed: %s", strings.Join(report.Messages(), "; "))
		return out
	}

	doc, err := c.generateUniAPI(ctx, opts)
	if err != nil {
		out.err = err
		return out
	}

	out.summary = summarize(report, len(doc.Providers))
	return out
}

// prepare runs planner, remote read and diff. Any failure aborts the run before mutation.
func (c *Coordinator) prepare(ctx context.Context) (*planner.DesiredState, *gptload.Snapshot, *reconcile.Plan, error) {
	ctx, span := c.tracer.Start(ctx, "sync.plan")
	defer span.End()

	providers, renames, err := c.store.Providers().Catalog(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load catalog: %w", err)
	}

	desired, err := planner.Desired(providers, renames)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("plan groups: %w", err)
	}

	snapshot, err := c.reader.Fetch(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read gpt-load state: %w", err)
	}

	tracked, err := c.store.Groups().List(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list tracked groups: %w", err)
	}

	plan := reconcile.DiffTracked(snapshot, desired, c.cfg.UpstreamWeight, reconcile.TrackedFrom(tracked))
	span.SetAttributes(attribute.Int("sync.providers", len(providers)), attribute.Bool("sync.plan_empty", plan.IsEmpty()))

	return desired, snapshot, plan, nil
}

func (c *Coordinator) generateUniAPI(ctx context.Context, opts RunOptions) (*uniapi.Document, error) {
	doc, data, err := c.renderUniAPI(ctx)
	if err != nil {
		return nil, err
	}

	path := opts.ExportPath
	if path == "" {
		path = c.cfg.ExportPath
	}
	if path != "" {
		if err := uniapi.Export(path, data); err != nil {
			return nil, err
		}
		c.logger.Info("exported uni-api config", zap.String("path", path), zap.Int("providers", len(doc.Providers)))
	}
	return doc, nil
}

func (c *Coordinator) renderUniAPI(ctx context.Context) (*uniapi.Document, []byte, error) {
	groups, err := c.store.Groups().List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list tracked groups: %w", err)
	}
	doc, err := uniapi.Generate(groups, c.cfg.GPTLoadURL, c.cfg.AuthKey)
	if err != nil {
		return nil, nil, fmt.Errorf("generate uni-api config: %w", err)
	}
	data, err := doc.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("render uni-api config: %w", err)
	}
	return doc, data, nil
}

// UniAPIConfig renders the uni-api routing file from the tracked groups.
func (c *Coordinator) UniAPIConfig(ctx context.Context) ([]byte, error) {
	_, data, err := c.renderUniAPI(ctx)
	return data, err
}

func summarize(r *reconcile.Report, providers int) string {
	parts := []string{
		fmt.Sprintf("gpt-load: %d created, %d updated, %d deleted", len(r.Created), len(r.Updated), len(r.Deleted)),
	}
	if n := len(r.Errors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d errors encountered", n))
	}
	parts = append(parts, fmt.Sprintf("uni-api: %d provider entries generated", providers))
	return strings.Join(parts, "; ")
}

func encodeErrors(errs []reconcile.OpError) string {
	if len(errs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func (c *Coordinator) setCurrent(rec *model.SyncRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec == nil {
		c.current = nil
		return
	}
	cp := *rec
	c.current = &cp
}
