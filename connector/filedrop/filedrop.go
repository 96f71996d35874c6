// Package filedrop implements a connector that reads candidate lists
// dropped into a directory by partners or manual curation.
//
// Each *.json, *.yaml or *.yml file holds either a bare list of candidates
// or an object with a "resources" list. Files are read in name order so
// dedup (first-seen-wins) is stable across runs.
package filedrop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

// Config configures a file-drop connector.
type Config struct {
	Name      string `yaml:"name"`
	Dir       string `yaml:"dir"`
	URL       string `yaml:"url"`
	Tier      int    `yaml:"tier"`
	Frequency string `yaml:"frequency"`

	// MaxFileBytes caps a single file. Default: 16MB.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	Logger *slog.Logger     `yaml:"-"`
	Now    func() time.Time `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Tier == 0 {
		c.Tier = connector.TierCommunity
	}
	if c.Frequency == "" {
		c.Frequency = "daily"
	}
	if c.URL == "" {
		c.URL = "file://" + filepath.ToSlash(c.Dir)
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 16 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Connector reads candidates from Config.Dir.
type Connector struct {
	cfg Config
}

// New returns a file-drop connector.
func New(cfg Config) (*Connector, error) {
	cfg.defaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("filedrop: name is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("filedrop %s: dir is required", cfg.Name)
	}
	return &Connector{cfg: cfg}, nil
}

func (c *Connector) Metadata() connector.Metadata {
	return connector.Metadata{
		Name:      c.cfg.Name,
		URL:       c.cfg.URL,
		Tier:      c.cfg.Tier,
		Frequency: c.cfg.Frequency,
	}
}

func (c *Connector) Close() error { return nil }

// Run reads every supported file in the directory. A malformed file fails
// the whole run with a *connector.ParseError.
func (c *Connector) Run(ctx context.Context) ([]connector.Candidate, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("filedrop %s: read dir: %w", c.cfg.Name, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []connector.Candidate
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cands, err := c.readFile(filepath.Join(c.cfg.Dir, name))
		if err != nil {
			return nil, err
		}
		c.cfg.Logger.Debug("filedrop: file read", "connector", c.cfg.Name, "file", name, "candidates", len(cands))
		out = append(out, cands...)
	}
	return out, nil
}

func (c *Connector) readFile(path string) ([]connector.Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("filedrop %s: stat: %w", c.cfg.Name, err)
	}
	if info.Size() > c.cfg.MaxFileBytes {
		return nil, &connector.ParseError{
			Source: path,
			Err:    fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), c.cfg.MaxFileBytes),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filedrop %s: read: %w", c.cfg.Name, err)
	}

	cands, err := decode(path, data)
	if err != nil {
		return nil, &connector.ParseError{Source: path, Err: err}
	}

	now := c.cfg.Now().UTC()
	for i := range cands {
		if cands[i].FetchedAt.IsZero() {
			cands[i].FetchedAt = now
		}
	}
	return cands, nil
}

type envelope struct {
	Resources []connector.Candidate `json:"resources" yaml:"resources"`
}

func decode(path string, data []byte) ([]connector.Candidate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if trimmed[0] == '[' {
			var list []connector.Candidate
			err := json.Unmarshal(trimmed, &list)
			return list, err
		}
		var env envelope
		err := json.Unmarshal(trimmed, &env)
		return env.Resources, err
	default:
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []connector.Candidate
			err := node.Decode(&list)
			return list, err
		}
		var env envelope
		err := node.Decode(&env)
		return env.Resources, err
	}
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
