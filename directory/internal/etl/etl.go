// Package etl runs connectors through normalize, dedup, score, enrich and
// load.
//
// Stages run in order over the whole batch. Record processing is sequential
// and keeps connector input order, which the first-seen-wins dedup relies
// on. A single record or connector failure becomes an Error in the Result;
// Run itself never fails.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/classify"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/dedup"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/loader"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/normalize"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
	"github.com/GGPrompts/vibe4vets-sub003/embed"
)

// Stage names recorded in Error.Stage.
const (
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageEnrich    = "enrich"
	StageLoad      = "load"
)

// Stats are per-run counters. They reconcile:
//
//	Extracted >= Normalized + NormalizedFailed
//	Normalized - Deduplicated = records scored and loaded
//	Created + Updated + Skipped + Failed = records loaded
type Stats struct {
	Extracted        int `json:"extracted"`
	Normalized       int `json:"normalized"`
	NormalizedFailed int `json:"normalized_failed"`
	Deduplicated     int `json:"deduplicated"`
	Enriched         int `json:"enriched"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Skipped          int `json:"skipped"`
	Failed           int `json:"failed"`
}

// Loaded is the number of records that reached the loader.
func (s Stats) Loaded() int { return s.Created + s.Updated + s.Skipped + s.Failed }

// Error is one stage failure.
type Error struct {
	Stage         string            `json:"stage"`
	Message       string            `json:"message"`
	ResourceTitle string            `json:"resource_title,omitempty"`
	SourceURL     string            `json:"source_url,omitempty"`
	Connector     string            `json:"connector,omitempty"`
	Category      classify.Category `json:"category"`
	Retriable     bool              `json:"retriable"`
}

// ConnectorOutcome summarizes one connector's part in a run. RefreshJob
// derives source health from it.
type ConnectorOutcome struct {
	Name      string            `json:"name"`
	SourceID  string            `json:"source_id,omitempty"`
	Extracted int               `json:"extracted"`
	Error     string            `json:"error,omitempty"`
	Category  classify.Category `json:"category,omitempty"`

	// LoadRetriable counts this connector's records that failed to load
	// with a retriable error.
	LoadRetriable int `json:"load_retriable,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether extraction failed.
func (o *ConnectorOutcome) Failed() bool { return o.Err != nil }

// Result is the outcome of one pipeline run.
type Result struct {
	Success     bool               `json:"success"`
	DryRun      bool               `json:"dry_run"`
	Stats       Stats              `json:"stats"`
	Errors      []Error            `json:"errors,omitempty"`
	Connectors  []ConnectorOutcome `json:"connectors"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Duration is the wall-clock length of the run.
func (r *Result) Duration() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

// Config configures a Pipeline.
type Config struct {
	// Embedder enables the enrichment stage. Nil skips it.
	Embedder embed.Embedder
	Logger   *slog.Logger
	Now      func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Pipeline runs ETL batches against one store.
type Pipeline struct {
	store    *store.Store
	norm     *normalize.Normalizer
	embedder embed.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline.
func New(s *store.Store, cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		store:    s,
		norm:     normalize.New(),
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Run executes the pipeline and commits each loaded record.
func (p *Pipeline) Run(ctx context.Context, conns []connector.Connector) *Result {
	return p.run(ctx, conns, false)
}

// DryRun executes every stage but rolls back every load and leaves source
// rows untouched.
func (p *Pipeline) DryRun(ctx context.Context, conns []connector.Connector) *Result {
	return p.run(ctx, conns, true)
}

// item is a normalized record with its origin.
type item struct {
	res  *normalize.Resource
	conn int // index into Result.Connectors
}

func (p *Pipeline) run(ctx context.Context, conns []connector.Connector, dryRun bool) *Result {
	result := &Result{DryRun: dryRun, StartedAt: p.now(), Connectors: make([]ConnectorOutcome, len(conns))}
	health := make([]string, len(conns))

	var items []item
	for i, c := range conns {
		meta := c.Metadata()
		out := &result.Connectors[i]
		out.Name = meta.Name
		health[i] = p.registerSource(ctx, meta, out, dryRun)

		cands, err := extract(ctx, c)
		if err != nil {
			out.Err = err
			out.Error = err.Error()
			out.Category = classify.Of(err)
			result.Errors = append(result.Errors, Error{
				Stage:     StageExtract,
				Message:   err.Error(),
				Connector: meta.Name,
				SourceURL: meta.URL,
				Category:  out.Category,
				Retriable: out.Category.Retriable(),
			})
			p.logger.Warn("etl: connector failed", "connector", meta.Name, "category", out.Category, "error", err)
			continue
		}
		out.Extracted = len(cands)
		result.Stats.Extracted += len(cands)

		for _, cand := range cands {
			r, err := p.norm.Normalize(cand, meta)
			if err != nil {
				result.Stats.NormalizedFailed++
				result.Errors = append(result.Errors, Error{
					Stage:         StageNormalize,
					Message:       err.Error(),
					ResourceTitle: cand.Title,
					SourceURL:     cand.SourceURL,
					Connector:     meta.Name,
					Category:      classify.Parse,
				})
				continue
			}
			result.Stats.Normalized++
			items = append(items, item{res: r, conn: i})
		}
	}

	origin := make(map[*normalize.Resource]int, len(items))
	all := make([]*normalize.Resource, len(items))
	for i, it := range items {
		all[i] = it.res
		origin[it.res] = it.conn
	}
	deduped := dedup.Dedupe(all)
	result.Stats.Deduplicated = deduped.Removed()
	survivors := deduped.Unique

	for _, r := range survivors {
		r.ReliabilityScore = trust.Reliability(r.SourceTier, health[origin[r]])
	}

	if p.embedder != nil && len(survivors) > 0 {
		p.enrich(ctx, survivors, result)
	}

	ld := loader.New(p.store, loader.Config{DryRun: dryRun, Logger: p.logger})
	for _, r := range survivors {
		out := &result.Connectors[origin[r]]
		lr := ld.Load(ctx, r, out.SourceID)
		switch lr.Action {
		case loader.Created:
			result.Stats.Created++
		case loader.Updated:
			result.Stats.Updated++
		case loader.Skipped:
			result.Stats.Skipped++
		default:
			result.Stats.Failed++
			cat := classify.Unknown
			if lr.Retriable {
				cat = classify.Transient
				out.LoadRetriable++
			}
			result.Errors = append(result.Errors, Error{
				Stage:         StageLoad,
				Message:       lr.Error,
				ResourceTitle: r.Title,
				SourceURL:     r.SourceURL,
				Connector:     out.Name,
				Category:      cat,
				Retriable:     lr.Retriable,
			})
		}
	}

	result.Success = !allFailed(result.Connectors)
	result.CompletedAt = p.now()
	p.logger.Info("etl: run complete",
		"dry_run", dryRun,
		"connectors", len(conns),
		"extracted", result.Stats.Extracted,
		"created", result.Stats.Created,
		"updated", result.Stats.Updated,
		"skipped", result.Stats.Skipped,
		"failed", result.Stats.Failed,
		"errors", len(result.Errors),
		"duration", result.Duration())
	return result
}

// registerSource upserts the connector's source row and returns its health.
// A dry run only reads.
func (p *Pipeline) registerSource(ctx context.Context, meta connector.Metadata, out *ConnectorOutcome, dryRun bool) string {
	var (
		src *store.Source
		err error
	)
	if dryRun {
		src, err = p.store.GetSourceByName(ctx, meta.Name)
	} else {
		src, err = p.store.UpsertSource(ctx, &store.Source{
			Name:         meta.Name,
			URL:          meta.URL,
			Tier:         meta.Tier,
			Frequency:    meta.Frequency,
			RequiresAuth: meta.RequiresAuth,
		})
	}
	if err != nil {
		p.logger.Warn("etl: source registration failed", "connector", meta.Name, "error", err)
		return ""
	}
	if src == nil {
		return ""
	}
	out.SourceID = src.ID
	return src.HealthStatus
}

// extract runs a connector, converting a panic into an error so one
// connector can never take down the run.
func extract(ctx context.Context, c connector.Connector) (cands []connector.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			cands, err = nil, fmt.Errorf("connector panic: %v", p)
		}
	}()
	return c.Run(ctx)
}

// enrich embeds survivors in one batch, falling back to one call per
// record when the batch fails so a single bad text only loses itself.
func (p *Pipeline) enrich(ctx context.Context, survivors []*normalize.Resource, result *Result) {
	texts := make([]string, len(survivors))
	for i, r := range survivors {
		texts[i] = embedText(r)
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(survivors) {
		for i, r := range survivors {
			r.Embedding = vecs[i]
			result.Stats.Enriched++
		}
		return
	}
	if err != nil {
		p.logger.Warn("etl: batch embedding failed, retrying per record", "error", err)
	}

	for i, r := range survivors {
		vec, err := p.embedder.Embed(ctx, texts[i])
		if err != nil {
			cat := classify.Of(err)
			result.Errors = append(result.Errors, Error{
				Stage:         StageEnrich,
				Message:       err.Error(),
				ResourceTitle: r.Title,
				SourceURL:     r.SourceURL,
				Connector:     r.SourceName,
				Category:      cat,
				Retriable:     cat.Retriable(),
			})
			continue
		}
		r.Embedding = vec
		result.Stats.Enriched++
	}
}

func embedText(r *normalize.Resource) string {
	return r.Title + "\n" + r.OrgName + "\n" + r.Description
}

func allFailed(outs []ConnectorOutcome) bool {
	if len(outs) == 0 {
		return false
	}
	for i := range outs {
		if !outs[i].Failed() {
			return false
		}
	}
	return true
}
