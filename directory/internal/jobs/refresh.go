package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/classify"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/etl"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
)

// RefreshName is the refresh job's registry name.
const RefreshName = "refresh"

// DefaultFailingThreshold is the consecutive failure count that turns a
// degraded source into a failing one.
const DefaultFailingThreshold = 3

// Refresh runs connectors through the ETL pipeline and updates source
// health from each connector's outcome.
//
// Params: "connectors" (names; default all), "dry_run" (bool).
type Refresh struct {
	Pipeline         *etl.Pipeline
	Registry         *connector.Registry
	Store            *store.Store
	FailingThreshold int
	Logger           *slog.Logger
}

func (j *Refresh) Name() string { return RefreshName }

func (j *Refresh) Description() string {
	return "Fetch every connector, normalize, dedupe, score and load resources"
}

func (j *Refresh) Execute(ctx context.Context, params Params) (Outcome, error) {
	conns, err := j.Registry.Select(params.Strings("connectors"))
	if err != nil {
		return Outcome{}, err
	}

	var res *etl.Result
	dryRun := params.Bool("dry_run")
	if dryRun {
		res = j.Pipeline.DryRun(ctx, conns)
	} else {
		res = j.Pipeline.Run(ctx, conns)
		j.updateHealth(ctx, res)
	}

	s := res.Stats
	out := Outcome{
		Message: fmt.Sprintf("%d connectors: extracted %d, created %d, updated %d, skipped %d, failed %d, %d errors",
			len(conns), s.Extracted, s.Created, s.Updated, s.Skipped, s.Failed, len(res.Errors)),
		Data: res,
	}
	if dryRun {
		out.Message = "dry run: " + out.Message
	}
	if !res.Success {
		return out, errors.New("every connector failed to extract")
	}
	return out, nil
}

func (j *Refresh) updateHealth(ctx context.Context, res *etl.Result) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := j.FailingThreshold
	if threshold <= 0 {
		threshold = DefaultFailingThreshold
	}

	for i := range res.Connectors {
		out := &res.Connectors[i]
		if out.SourceID == "" {
			continue
		}
		src, err := j.Store.GetSource(ctx, out.SourceID)
		if err != nil || src == nil {
			logger.Warn("refresh: source lookup failed", "connector", out.Name, "error", err)
			continue
		}

		health, count, lastErr, ok := NextHealth(src, out, threshold)
		if err := j.Store.RecordSourceRun(ctx, src.ID, health, count, lastErr, ok); err != nil {
			logger.Warn("refresh: record source run failed", "connector", out.Name, "error", err)
			continue
		}
		if health != src.HealthStatus {
			logger.Info("refresh: source health changed",
				"connector", out.Name, "from", src.HealthStatus, "to", health, "error_count", count)
		}
	}
}

// NextHealth derives a source's health after one run.
//
//   - extract succeeded: healthy and error count reset, or degraded when
//     some records failed to load with a retriable error.
//   - auth or parse failure: failing immediately.
//   - any other failure: degraded, failing once the count reaches threshold.
func NextHealth(src *store.Source, out *etl.ConnectorOutcome, threshold int) (health string, errorCount int, lastError string, success bool) {
	if !out.Failed() {
		if out.LoadRetriable > 0 {
			return store.HealthDegraded, src.ErrorCount,
				fmt.Sprintf("%d records failed to load with retriable errors", out.LoadRetriable), true
		}
		return store.HealthHealthy, 0, "", true
	}

	count := src.ErrorCount + 1
	switch {
	case out.Category == classify.AuthFailure || out.Category == classify.Parse:
		return store.HealthFailing, count, out.Error, false
	case count >= threshold:
		return store.HealthFailing, count, out.Error, false
	default:
		return store.HealthDegraded, count, out.Error, false
	}
}
