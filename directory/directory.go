// Package directory is the veteran resource directory service: it owns the
// database, the connector registry, the ETL pipeline, the maintenance jobs
// and the scheduler that drives them, and exposes them to the admin HTTP
// routes, the MCP tools and the CLI.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GGPrompts/vibe4vets-sub003/audit"
	"github.com/GGPrompts/vibe4vets-sub003/connector"
	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/etl"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/jobs"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/linkcheck"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/scheduler"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
	"github.com/GGPrompts/vibe4vets-sub003/embed"
	"github.com/GGPrompts/vibe4vets-sub003/idgen"
	"github.com/GGPrompts/vibe4vets-sub003/kit"
)

// Service is the directory orchestrator. Create with New, call Start to
// begin scheduled runs and Close on shutdown.
type Service struct {
	cfg       *Config
	db        *sql.DB
	ownsDB    bool
	store     *store.Store
	registry  *connector.Registry
	embedder  *embed.Lazy // nil when no endpoint is configured
	scheduler *scheduler.Scheduler
	audit     *audit.SQLiteLogger
	endpoints endpoints
	logger    *slog.Logger
	now       func() time.Time
}

type options struct {
	db           *sql.DB
	connectors   []connector.Connector
	now          func() time.Time
	newID        idgen.Generator
	urlValidator func(string) error
}

// Option customises New.
type Option func(*options)

// WithDB uses an already-open database instead of Config.DatabasePath. The
// caller keeps ownership.
func WithDB(db *sql.DB) Option { return func(o *options) { o.db = db } }

// WithConnectors registers connectors in addition to those in Config.
func WithConnectors(cs ...connector.Connector) Option {
	return func(o *options) { o.connectors = append(o.connectors, cs...) }
}

// WithClock overrides the time source for scoring, storage and scheduling.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithIDGenerator overrides row ID generation.
func WithIDGenerator(g idgen.Generator) Option { return func(o *options) { o.newID = g } }

// WithURLValidator overrides link checker URL validation (default:
// safeurl.Check). Tests against loopback servers need safeurl.AllowAll.
func WithURLValidator(fn func(string) error) Option {
	return func(o *options) { o.urlValidator = fn }
}

// New wires the service. Schedules are validated here; an invalid cron
// expression returns ErrInvalidSchedule.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := options{now: time.Now, newID: idgen.Default}
	for _, opt := range opts {
		opt(&o)
	}

	svc := &Service{cfg: cfg, logger: logger, now: o.now}
	if err := svc.openStore(o); err != nil {
		return nil, err
	}
	svc.audit = audit.NewSQLiteLogger(svc.db,
		audit.WithIDGenerator(o.newID), audit.WithClock(o.now), audit.WithLogger(logger))
	if err := svc.audit.Init(); err != nil {
		svc.closeDB()
		return nil, err
	}

	registry, err := svc.buildRegistry(o.connectors)
	if err != nil {
		svc.closeDB()
		return nil, err
	}
	svc.registry = registry

	var embedder embed.Embedder
	if cfg.Embed.Enabled() {
		ec := cfg.Embed
		ec.Logger = logger
		svc.embedder = embed.NewLazy(ec)
		embedder = svc.embedder
	}

	pipeline := etl.New(svc.store, etl.Config{Embedder: embedder, Logger: logger, Now: o.now})

	lc := cfg.LinkCheck
	lc.Logger = logger
	if o.urlValidator != nil {
		lc.URLValidator = o.urlValidator
	}
	checker := linkcheck.New(lc)

	svc.scheduler = scheduler.New(scheduler.Config{
		CheckInterval: cfg.Scheduler.CheckInterval,
		HistorySize:   cfg.Scheduler.HistorySize,
		Now:           o.now,
		NewID:         idgen.Prefixed("run_", o.newID),
	}, logger)

	all := []struct {
		job  jobs.Job
		cron string
	}{
		{&jobs.Refresh{
			Pipeline:         pipeline,
			Registry:         registry,
			Store:            svc.store,
			FailingThreshold: cfg.FailingThreshold,
			Logger:           logger,
		}, cfg.Scheduler.RefreshSchedule},
		{&jobs.Freshness{Store: svc.store, Now: o.now}, cfg.Scheduler.FreshnessSchedule},
		{&jobs.LinkCheck{Checker: checker, Store: svc.store}, cfg.Scheduler.LinkCheckerSchedule},
		{&jobs.Cleanup{Store: svc.store, Audit: svc.audit, Retention: cfg.Retention, Now: o.now}, cfg.Scheduler.CleanupSchedule},
	}
	for _, j := range all {
		if err := svc.scheduler.Register(j.job); err != nil {
			svc.closeDB()
			return nil, err
		}
		if err := svc.scheduler.AddSchedule(j.job.Name(), j.cron); err != nil {
			svc.closeDB()
			return nil, fmt.Errorf("schedule %s: %w", j.job.Name(), err)
		}
	}

	svc.endpoints = svc.buildEndpoints()

	logger.Info("directory: ready",
		"connectors", len(registry.Names()),
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"embeddings", cfg.Embed.Enabled())
	return svc, nil
}

func (svc *Service) openStore(o options) error {
	db := o.db
	if db == nil {
		var err error
		db, err = dbopen.Open(svc.cfg.DatabasePath, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		svc.ownsDB = true
	}
	svc.db = db
	if err := store.ApplySchema(db); err != nil {
		svc.closeDB()
		return fmt.Errorf("apply schema: %w", err)
	}
	st := store.NewStore(db)
	st.NewID = o.newID
	st.Now = o.now
	svc.store = st
	return nil
}

func (svc *Service) buildRegistry(extra []connector.Connector) (*connector.Registry, error) {
	reg, err := connector.NewRegistry()
	if err != nil {
		return nil, err
	}
	for i, cc := range svc.cfg.Connectors {
		c, err := buildConnector(cc)
		if err != nil {
			return nil, fmt.Errorf("%w: connectors[%d]: %v", ErrInvalidInput, i, err)
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%w: connectors[%d]: %v", ErrInvalidInput, i, err)
		}
	}
	for _, c := range extra {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return reg, nil
}

func (svc *Service) closeDB() {
	if svc.audit != nil {
		svc.audit.Close()
	}
	if svc.ownsDB && svc.db != nil {
		svc.db.Close()
	}
}

// Start begins scheduled runs when the scheduler is enabled. Non-blocking.
func (svc *Service) Start(ctx context.Context) {
	if !svc.cfg.Scheduler.Enabled {
		svc.logger.Info("directory: scheduler disabled")
		return
	}
	svc.scheduler.Start(ctx)
}

// Close stops the scheduler, waits for in-flight runs, flushes the audit
// log and releases the connectors and the database.
func (svc *Service) Close() error {
	svc.scheduler.Stop()
	svc.audit.Close()
	err := svc.registry.Close()
	if svc.ownsDB {
		err = errors.Join(err, svc.db.Close())
	}
	svc.logger.Info("directory: closed")
	return err
}

// --- Jobs ---

// RunJob triggers a job without waiting. The channel yields the result.
func (svc *Service) RunJob(ctx context.Context, name string, params JobParams) (<-chan *JobResult, error) {
	return svc.scheduler.RunJob(ctx, name, params)
}

// RunJobWait triggers a job and waits for its result or ctx.
func (svc *Service) RunJobWait(ctx context.Context, name string, params JobParams) (*JobResult, error) {
	ch, err := svc.scheduler.RunJob(ctx, name, params)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// History returns up to limit job results, newest first.
func (svc *Service) History(limit int) []*JobResult { return svc.scheduler.GetHistory(limit) }

// ScheduledJobs lists the registered jobs with their schedules.
func (svc *Service) ScheduledJobs() []ScheduledJob { return svc.scheduler.GetScheduledJobs() }

// IsRunning reports whether scheduled runs are active.
func (svc *Service) IsRunning() bool { return svc.scheduler.IsRunning() }

// Status returns the admin overview.
func (svc *Service) Status(ctx context.Context) (*Status, error) {
	stats, err := svc.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		SchedulerRunning: svc.scheduler.IsRunning(),
		Stats:            stats,
		Jobs:             svc.scheduler.GetScheduledJobs(),
		Connectors:       svc.registry.Names(),
	}
	if svc.embedder != nil {
		st.EmbedderLoaded = svc.embedder.Loaded()
	}
	return st, nil
}

// --- Resources ---

// ListResources returns resources ordered by trust score, highest first.
func (svc *Service) ListResources(ctx context.Context, f ResourceFilter) ([]*Resource, error) {
	switch f.Status {
	case "", StatusActive, StatusNeedsReview, StatusInactive:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, f.Status)
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidInput)
	}
	return svc.store.ListResources(ctx, f)
}

// GetResource returns one resource or ErrNotFound.
func (svc *Service) GetResource(ctx context.Context, id string) (*Resource, error) {
	r, err := svc.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	return r, nil
}

// MarkVerified records a manual verification: last_verified is now and
// freshness returns to its ceiling.
func (svc *Service) MarkVerified(ctx context.Context, id string) (*Resource, error) {
	v := trust.MarkVerified(svc.now())
	ok, err := svc.store.MarkVerified(ctx, id, v.At.UnixMilli(), v.Freshness)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	svc.logger.Info("directory: resource verified", "resource_id", id)
	return svc.GetResource(ctx, id)
}

// ChangeLog returns a resource's field history, oldest first.
func (svc *Service) ChangeLog(ctx context.Context, id string) ([]*ChangeLogEntry, error) {
	if _, err := svc.GetResource(ctx, id); err != nil {
		return nil, err
	}
	return svc.store.ChangeLog(ctx, id)
}

// LinkChecks returns a resource's recent link checks, newest first.
func (svc *Service) LinkChecks(ctx context.Context, id string, limit int) ([]*LinkCheck, error) {
	if limit <= 0 {
		limit = 20
	}
	return svc.store.LinkChecks(ctx, id, limit)
}

// --- Reviews and sources ---

// ListReviews returns queued risky-field changes. An empty status means
// pending.
func (svc *Service) ListReviews(ctx context.Context, status string, limit int) ([]*ReviewItem, error) {
	switch status {
	case "":
		status = store.ReviewPending
	case store.ReviewPending, store.ReviewApproved, store.ReviewRejected:
	default:
		return nil, fmt.Errorf("%w: review status %q", ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = 50
	}
	return svc.store.ListReviews(ctx, status, limit)
}

// ResolveReview approves (applies) or rejects a queued change.
func (svc *Service) ResolveReview(ctx context.Context, id string, approve bool) (*ReviewItem, error) {
	err := svc.store.ResolveReview(ctx, id, approve)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
	case errors.Is(err, store.ErrReviewClosed):
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, err
	}
	svc.logger.Info("directory: review resolved", "review_id", id, "approved", approve)
	return svc.store.GetReview(ctx, id)
}

// ListSources returns every registered source with its health.
func (svc *Service) ListSources(ctx context.Context) ([]*Source, error) {
	return svc.store.ListSources(ctx)
}

// Stats returns aggregate counters.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) { return svc.store.Stats(ctx) }

// Connectors returns registered connector names in registration order.
func (svc *Service) Connectors() []string { return svc.registry.Names() }

// AuditLog returns recorded admin actions, newest first.
func (svc *Service) AuditLog(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	if f.Limit > 500 {
		f.Limit = 500
	}
	return svc.audit.Query(ctx, f)
}

// --- Audited endpoints ---

// endpoints are the mutating operations shared by the HTTP routes and the
// MCP tools. Each call is logged and written to the audit log.
type endpoints struct {
	runJob  kit.Endpoint
	verify  kit.Endpoint
	resolve kit.Endpoint
}

type runJobRequest struct {
	Name   string    `json:"name"`
	Params JobParams `json:"params,omitempty"`
	Wait   bool      `json:"wait"`
}

type idRequest struct {
	ID string `json:"id"`
}

type resolveRequest struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
}

func (svc *Service) buildEndpoints() endpoints {
	mw := func(action string) kit.Middleware {
		return kit.Chain(kit.Logging(svc.logger, action), audit.Middleware(svc.audit, action))
	}
	return endpoints{
		runJob: mw("run_job")(func(ctx context.Context, r any) (any, error) {
			req := r.(*runJobRequest)
			if req.Name == "" {
				return nil, fmt.Errorf("%w: job name is required", ErrInvalidInput)
			}
			if req.Wait {
				return svc.RunJobWait(ctx, req.Name, req.Params)
			}
			if _, err := svc.RunJob(ctx, req.Name, req.Params); err != nil {
				return nil, err
			}
			return map[string]string{"job": req.Name, "status": "accepted"}, nil
		}),
		verify: mw("mark_verified")(func(ctx context.Context, r any) (any, error) {
			return svc.MarkVerified(ctx, r.(*idRequest).ID)
		}),
		resolve: mw("resolve_review")(func(ctx context.Context, r any) (any, error) {
			req := r.(*resolveRequest)
			return svc.ResolveReview(ctx, req.ID, req.Approve)
		}),
	}
}
