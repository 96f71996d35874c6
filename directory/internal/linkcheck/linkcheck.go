// Package linkcheck checks resource URLs and scores their link health.
//
// Checks fan out with a bounded number in flight (errgroup limit) behind a
// shared rate limiter. Each check has its own timeout and is never retried
// inline; a transient failure leaves the stored score unchanged until the
// next scheduled run. Results are written to storage in batches.
package linkcheck

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/safeurl"
	"github.com/GGPrompts/vibe4vets-sub003/softnotfound"
)

// ScoreDead is the link health of a 404 or 410.
const ScoreDead = 0.0

// Config configures a Checker.
type Config struct {
	// Concurrency is the maximum number of checks in flight. Default: 10.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Timeout bounds one check, redirects included. Default: 15s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RatePerSec caps outbound requests across all workers. Default: 5.
	RatePerSec float64 `json:"rate_per_sec" yaml:"rate_per_sec"`

	// BatchSize is the number of results per storage write. Default: 50.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Limit is the number of targets per run. Default: 500.
	Limit int `json:"limit" yaml:"limit"`

	MaxBytes  int64  `json:"max_bytes" yaml:"max_bytes"`   // Default: 2MB.
	UserAgent string `json:"user_agent" yaml:"user_agent"` // Default: vetdir-linkcheck/1.0.

	// URLValidator rejects unsafe targets before and during redirects.
	// Default: safeurl.Check.
	URLValidator func(string) error `json:"-" yaml:"-"`
	Client       *http.Client       `json:"-" yaml:"-"`
	Logger       *slog.Logger       `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Limit <= 0 {
		c.Limit = 500
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "vetdir-linkcheck/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = safeurl.Check
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Checker checks URLs.
type Checker struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Checker.
func New(cfg Config) *Checker {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		validate := cfg.URLValidator
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		}
	}
	return &Checker{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Concurrency),
	}
}

// Check checks one URL. It never returns an error: failures are carried in
// the LinkCheck. A nil Score means the check could not decide.
func (c *Checker) Check(ctx context.Context, target store.LinkTarget) *store.LinkCheck {
	out := &store.LinkCheck{ResourceID: target.ResourceID, URL: target.URL}

	u, err := url.Parse(target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		out.Error = "invalid url"
		out.Reason = "invalid url"
		out.Score = score(ScoreDead)
		out.Dead = true
		return out
	}
	if err := c.cfg.URLValidator(target.URL); err != nil {
		out.Error = err.Error()
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.FinalURL = resp.Request.URL.String()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		out.Reason = fmt.Sprintf("http %d", resp.StatusCode)
		out.Score = score(ScoreDead)
		out.Dead = true
		return out
	case resp.StatusCode >= 400:
		// 5xx, 429 and bot walls say nothing about the page itself.
		out.Error = fmt.Sprintf("http %d", resp.StatusCode)
		return out
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		out.Score = score(softnotfound.ScoreClean)
		return out
	}

	body, err := safeurl.ReadLimited(resp.Body, c.cfg.MaxBytes)
	if err != nil && len(body) == 0 {
		out.Error = err.Error()
		return out
	}

	if ref := metaRefresh(body, resp.Request.URL); ref != "" {
		out.FinalURL = ref
	}

	det, err := softnotfound.DetectHTML(body, target.URL, out.FinalURL)
	if err != nil {
		out.Error = fmt.Sprintf("parse html: %v", err)
		return out
	}
	out.IsSoft404 = det.IsSoft404
	out.Reason = det.Reason
	out.Score = score(det.Score)
	return out
}

// Report summarizes one Run.
type Report struct {
	Targets int `json:"targets"`
	Healthy int `json:"healthy"`
	Soft404 int `json:"soft_404"`
	Dead    int `json:"dead"`
	Errors  int `json:"errors"`
	Batches int `json:"batches"`
}

// Run checks the least recently checked targets in s and records results
// in batches. It returns an error only when targets cannot be listed or a
// batch cannot be written.
func (c *Checker) Run(ctx context.Context, s *store.Store) (*Report, error) {
	targets, err := s.LinkTargets(ctx, c.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("list link targets: %w", err)
	}
	report := &Report{Targets: len(targets)}
	if len(targets) == 0 {
		return report, nil
	}

	results := make(chan *store.LinkCheck, c.cfg.BatchSize)
	var (
		writeErr error
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch := make([]*store.LinkCheck, 0, c.cfg.BatchSize)
		flush := func() {
			if len(batch) == 0 || writeErr != nil {
				batch = batch[:0]
				return
			}
			if err := s.RecordLinkChecks(ctx, batch); err != nil {
				writeErr = err
				c.cfg.Logger.Error("linkcheck: batch write failed", "size", len(batch), "error", err)
			} else {
				report.Batches++
			}
			batch = make([]*store.LinkCheck, 0, c.cfg.BatchSize)
		}
		for res := range results {
			tally(report, res)
			batch = append(batch, res)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		}
		flush()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			results <- c.Check(gctx, t)
			return nil
		})
	}
	checkErr := g.Wait()
	close(results)
	wg.Wait()

	c.cfg.Logger.Info("linkcheck: run complete",
		"targets", report.Targets, "healthy", report.Healthy, "soft_404", report.Soft404,
		"dead", report.Dead, "errors", report.Errors, "batches", report.Batches)

	if writeErr != nil {
		return report, writeErr
	}
	if checkErr != nil {
		return report, fmt.Errorf("link check interrupted: %w", checkErr)
	}
	return report, nil
}

func tally(r *Report, c *store.LinkCheck) {
	switch {
	case c.Dead:
		r.Dead++
	case c.IsSoft404:
		r.Soft404++
	case c.Score == nil:
		r.Errors++
	default:
		r.Healthy++
	}
}

// metaRefresh returns the absolute target of a <meta http-equiv="refresh">
// tag, or "" when the page has none.
func metaRefresh(body []byte, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var target string
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, m *goquery.Selection) bool {
		if !strings.EqualFold(m.AttrOr("http-equiv", ""), "refresh") {
			return true
		}
		if t := refreshTarget(m.AttrOr("content", "")); t != "" {
			if ref, err := base.Parse(t); err == nil {
				target = ref.String()
			}
		}
		return false
	})
	return target
}

// refreshTarget extracts the URL from a meta refresh value like
// "0; url=/home".
func refreshTarget(content string) string {
	_, after, ok := strings.Cut(strings.ToLower(content), "url=")
	if !ok {
		return ""
	}
	// Preserve the original case of the URL.
	idx := len(content) - len(after)
	return strings.Trim(strings.TrimSpace(content[idx:]), `'"`)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func score(v float64) *float64 { return &v }
