// Package httpjson implements a connector for JSON APIs (government open
// data portals, partner feeds).
//
// It supports ${ENV_VAR} expansion in headers, dot-notation result paths
// for nested arrays, and a field map from Candidate JSON names to upstream
// keys. Every request carries a finite timeout; failures are never retried
// here.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

// Config describes how to call and map a JSON API.
type Config struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Tier         int    `yaml:"tier"`
	Frequency    string `yaml:"frequency"`
	RequiresAuth bool   `yaml:"requires_auth"`

	Method     string            `yaml:"method"`      // default GET
	Headers    map[string]string `yaml:"headers"`     // ${ENV_VAR} expanded
	ResultPath string            `yaml:"result_path"` // "data.results"; empty means root array
	// Fields maps Candidate JSON names to upstream keys, e.g.
	// {"title": "program_name", "source_url": "link"}. Unmapped names are
	// read from the same-named upstream key.
	Fields map[string]string `yaml:"fields"`

	Timeout  time.Duration `yaml:"timeout"`   // default 30s
	MaxBytes int64         `yaml:"max_bytes"` // default 10MB

	Client *http.Client     `yaml:"-"`
	Logger *slog.Logger     `yaml:"-"`
	Now    func() time.Time `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Frequency == "" {
		c.Frequency = "daily"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Connector fetches one JSON endpoint per run.
type Connector struct {
	cfg Config
}

// New returns a JSON API connector.
func New(cfg Config) (*Connector, error) {
	cfg.defaults()
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("httpjson: name and url are required")
	}
	return &Connector{cfg: cfg}, nil
}

func (c *Connector) Metadata() connector.Metadata {
	return connector.Metadata{
		Name:         c.cfg.Name,
		URL:          c.cfg.URL,
		Tier:         c.cfg.Tier,
		Frequency:    c.cfg.Frequency,
		RequiresAuth: c.cfg.RequiresAuth,
	}
}

func (c *Connector) Close() error {
	c.cfg.Client.CloseIdleConnections()
	return nil
}

// Run performs the request and maps every object at ResultPath to a Candidate.
func (c *Connector) Run(ctx context.Context) ([]connector.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpjson %s: new request: %w", c.cfg.Name, err)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, os.Expand(v, os.Getenv))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpjson %s: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("httpjson %s: %w: %w", c.cfg.Name, connector.ErrAuth,
			&connector.HTTPError{URL: c.cfg.URL, StatusCode: resp.StatusCode})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &connector.HTTPError{URL: c.cfg.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("httpjson %s: read body: %w", c.cfg.Name, err)
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, &connector.ParseError{Source: c.cfg.URL, Err: err}
	}
	items, err := walkPath(root, c.cfg.ResultPath)
	if err != nil {
		return nil, &connector.ParseError{Source: c.cfg.URL, Err: err}
	}

	now := c.cfg.Now().UTC()
	out := make([]connector.Candidate, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			c.cfg.Logger.Warn("httpjson: skipping non-object item", "connector", c.cfg.Name, "index", i)
			continue
		}
		cand, err := mapCandidate(obj, c.cfg.Fields)
		if err != nil {
			return nil, &connector.ParseError{Source: c.cfg.URL, Err: fmt.Errorf("item %d: %w", i, err)}
		}
		if cand.FetchedAt.IsZero() {
			cand.FetchedAt = now
		}
		out = append(out, cand)
	}
	return out, nil
}

// mapCandidate renames upstream keys per fields, then decodes through the
// Candidate JSON tags. The untouched object is kept as RawData.
func mapCandidate(obj map[string]any, fields map[string]string) (connector.Candidate, error) {
	renamed := make(map[string]any, len(obj))
	for k, v := range obj {
		renamed[k] = v
	}
	for dst, src := range fields {
		if v, ok := obj[src]; ok {
			renamed[dst] = v
		}
	}
	delete(renamed, "raw_data")

	buf, err := json.Marshal(renamed)
	if err != nil {
		return connector.Candidate{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	var cand connector.Candidate
	if err := dec.Decode(&cand); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return connector.Candidate{}, fmt.Errorf("field %s: want %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return connector.Candidate{}, err
	}
	cand.RawData = obj
	return cand, nil
}

// walkPath follows a dot-notation path to an array.
func walkPath(v any, path string) ([]any, error) {
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, v)
			}
			if v, ok = obj[part]; !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("result path %q is not an array", path)
	}
	return arr, nil
}
