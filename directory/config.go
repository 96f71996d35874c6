package directory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
	"github.com/GGPrompts/vibe4vets-sub003/connector/filedrop"
	"github.com/GGPrompts/vibe4vets-sub003/connector/httpjson"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/jobs"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/linkcheck"
	"github.com/GGPrompts/vibe4vets-sub003/embed"
)

// Default cron schedules.
const (
	DefaultRefreshSchedule     = "0 3 * * *"
	DefaultFreshnessSchedule   = "0 4 * * *"
	DefaultLinkCheckerSchedule = "0 5 * * 0"
	DefaultCleanupSchedule     = "30 5 * * *"
)

// Config configures the directory service.
type Config struct {
	// DatabasePath is the SQLite file. Default: data/directory.db.
	DatabasePath string `yaml:"database_path"`

	// HTTPAddr is the admin API listen address. Default: :8080.
	HTTPAddr string `yaml:"http_addr"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	// FailingThreshold is the consecutive failure count that marks a source
	// failing. Default: 3.
	FailingThreshold int `yaml:"failing_threshold"`

	Retention  jobs.Retention    `yaml:"retention"`
	LinkCheck  linkcheck.Config  `yaml:"link_check"`
	Embed      embed.Config      `yaml:"embed"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// SchedulerConfig holds the cron schedules. Each is exactly five fields.
type SchedulerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	RefreshSchedule     string        `yaml:"refresh_schedule"`
	FreshnessSchedule   string        `yaml:"freshness_schedule"`
	LinkCheckerSchedule string        `yaml:"link_checker_schedule"`
	CleanupSchedule     string        `yaml:"cleanup_schedule"`
	CheckInterval       time.Duration `yaml:"check_interval"` // Default: 1s.
	HistorySize         int           `yaml:"history_size"`   // Default: 100.
}

// ConnectorConfig declares one connector. Type selects which block is read.
type ConnectorConfig struct {
	Type   string          `yaml:"type"` // filedrop | httpjson | static
	File   filedrop.Config `yaml:"file"`
	HTTP   httpjson.Config `yaml:"http"`
	Static StaticConfig    `yaml:"static"`
}

// StaticConfig is an inline candidate list, for small curated sources.
type StaticConfig struct {
	Name       string                `yaml:"name"`
	URL        string                `yaml:"url"`
	Tier       int                   `yaml:"tier"`
	Candidates []connector.Candidate `yaml:"candidates"`
}

func (c *Config) defaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "data/directory.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Scheduler.RefreshSchedule == "" {
		c.Scheduler.RefreshSchedule = DefaultRefreshSchedule
	}
	if c.Scheduler.FreshnessSchedule == "" {
		c.Scheduler.FreshnessSchedule = DefaultFreshnessSchedule
	}
	if c.Scheduler.LinkCheckerSchedule == "" {
		c.Scheduler.LinkCheckerSchedule = DefaultLinkCheckerSchedule
	}
	if c.Scheduler.CleanupSchedule == "" {
		c.Scheduler.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = time.Second
	}
	if c.Scheduler.HistorySize <= 0 {
		c.Scheduler.HistorySize = 100
	}
	if c.FailingThreshold <= 0 {
		c.FailingThreshold = jobs.DefaultFailingThreshold
	}
	c.Retention.Defaults()
}

// DefaultConfig returns a config with every default applied and the
// scheduler enabled.
func DefaultConfig() *Config {
	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	cfg.defaults()
	return cfg
}

// LoadConfig reads an optional YAML file over DefaultConfig, then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", ErrInvalidInput, path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"REFRESH_SCHEDULE":      &c.Scheduler.RefreshSchedule,
		"FRESHNESS_SCHEDULE":    &c.Scheduler.FreshnessSchedule,
		"LINK_CHECKER_SCHEDULE": &c.Scheduler.LinkCheckerSchedule,
		"CLEANUP_SCHEDULE":      &c.Scheduler.CleanupSchedule,
		"DATABASE_PATH":         &c.DatabasePath,
		"EMBED_ENDPOINT":        &c.Embed.Endpoint,
		"EMBED_MODEL":           &c.Embed.Model,
		"HTTP_ADDR":             &c.HTTPAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("SCHEDULER_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: SCHEDULER_ENABLED=%q", ErrInvalidInput, v)
		}
		c.Scheduler.Enabled = b
	}
	return nil
}

// buildConnector turns one config entry into a Connector.
func buildConnector(cc ConnectorConfig) (connector.Connector, error) {
	switch strings.ToLower(cc.Type) {
	case "filedrop":
		return filedrop.New(cc.File)
	case "httpjson":
		return httpjson.New(cc.HTTP)
	case "static":
		if cc.Static.Name == "" {
			return nil, errors.New("static connector: name is required")
		}
		tier := cc.Static.Tier
		if tier == 0 {
			tier = connector.TierCommunity
		}
		return connector.NewStatic(connector.Metadata{
			Name: cc.Static.Name,
			URL:  cc.Static.URL,
			Tier: tier,
		}, cc.Static.Candidates...), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", cc.Type)
	}
}
