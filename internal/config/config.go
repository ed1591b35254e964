// Package config loads the upgradectl TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// EnvDatabaseDSN overrides [Database.DSN].
const EnvDatabaseDSN = "UPGRADECTL_DB_DSN"

// Workflow engines.
const (
	EngineSync        = "sync"
	EngineGoWorkflows = "go-workflows"
	EngineDBOS        = "dbos"
)

// Config is the resolved configuration.
type Config struct {
	Database Database
	Workflow Workflow
	Upgrade  Upgrade
	Log      Log
	Metrics  Metrics
}

type Database struct {
	DSN string
}

type Workflow struct {
	Engine          string
	Timeout         time.Duration
	GoWorkflowsDSN  string
	DBOSDatabaseURL string
}

type Upgrade struct {
	SystemUser string
	// MergeLabelKinds lists the asset kinds whose labels are merged on
	// ingestion instead of replaced.
	MergeLabelKinds []domain.AssetKind
	// ContentRoot is the directory upgrade record paths resolve against.
	ContentRoot   string
	DefaultSource string
}

type Log struct {
	Level  string
	Format string
}

type Metrics struct {
	// Addr serves /metrics when non-empty.
	Addr string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: Database{DSN: "upgradectl.db"},
		Workflow: Workflow{Engine: EngineSync, Timeout: 2 * time.Minute},
		Upgrade: Upgrade{
			SystemUser:      "system",
			MergeLabelKinds: []domain.AssetKind{domain.KindComponentAPITargetMapper},
			ContentRoot:     ".",
			DefaultSource:   "local",
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// fileConfig mirrors the TOML layout.
type fileConfig struct {
	Database struct {
		DSN string `toml:"dsn"`
	} `toml:"database"`
	Workflow struct {
		Engine          string `toml:"engine"`
		Timeout         string `toml:"timeout"`
		GoWorkflowsDSN  string `toml:"go_workflows_dsn"`
		DBOSDatabaseURL string `toml:"dbos_database_url"`
	} `toml:"workflow"`
	Upgrade struct {
		SystemUser      string   `toml:"system_user"`
		MergeLabelKinds []string `toml:"merge_label_kinds"`
		ContentRoot     string   `toml:"content_root"`
		DefaultSource   string   `toml:"default_source"`
	} `toml:"upgrade"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads path over the defaults. An empty path loads the defaults
// only. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := overlay(&cfg, raw, meta); err != nil {
			return Config{}, err
		}
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("database", "dsn") {
		cfg.Database.DSN = strings.TrimSpace(raw.Database.DSN)
	}
	if meta.IsDefined("workflow", "engine") {
		cfg.Workflow.Engine = strings.TrimSpace(raw.Workflow.Engine)
	}
	if meta.IsDefined("workflow", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Workflow.Timeout))
		if err != nil {
			return fmt.Errorf("load config: workflow.timeout: %w", err)
		}
		cfg.Workflow.Timeout = d
	}
	if meta.IsDefined("workflow", "go_workflows_dsn") {
		cfg.Workflow.GoWorkflowsDSN = strings.TrimSpace(raw.Workflow.GoWorkflowsDSN)
	}
	if meta.IsDefined("workflow", "dbos_database_url") {
		cfg.Workflow.DBOSDatabaseURL = strings.TrimSpace(raw.Workflow.DBOSDatabaseURL)
	}
	if meta.IsDefined("upgrade", "system_user") {
		cfg.Upgrade.SystemUser = strings.TrimSpace(raw.Upgrade.SystemUser)
	}
	if meta.IsDefined("upgrade", "merge_label_kinds") {
		cfg.Upgrade.MergeLabelKinds = nil
		for _, k := range raw.Upgrade.MergeLabelKinds {
			cfg.Upgrade.MergeLabelKinds = append(cfg.Upgrade.MergeLabelKinds, domain.AssetKind(strings.TrimSpace(k)))
		}
	}
	if meta.IsDefined("upgrade", "content_root") {
		cfg.Upgrade.ContentRoot = strings.TrimSpace(raw.Upgrade.ContentRoot)
	}
	if meta.IsDefined("upgrade", "default_source") {
		cfg.Upgrade.DefaultSource = strings.TrimSpace(raw.Upgrade.DefaultSource)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	return nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", domain.ErrInvalidArgument)
	}
	switch c.Workflow.Engine {
	case EngineSync:
	case EngineGoWorkflows:
		if c.Workflow.GoWorkflowsDSN == "" {
			return fmt.Errorf("%w: workflow.go_workflows_dsn is required for the %s engine", domain.ErrInvalidArgument, EngineGoWorkflows)
		}
	case EngineDBOS:
		if c.Workflow.DBOSDatabaseURL == "" {
			return fmt.Errorf("%w: workflow.dbos_database_url is required for the %s engine", domain.ErrInvalidArgument, EngineDBOS)
		}
	default:
		return fmt.Errorf("%w: unknown workflow.engine %q", domain.ErrInvalidArgument, c.Workflow.Engine)
	}
	if c.Workflow.Timeout <= 0 {
		return fmt.Errorf("%w: workflow.timeout must be positive", domain.ErrInvalidArgument)
	}
	if c.Upgrade.SystemUser == "" {
		return fmt.Errorf("%w: upgrade.system_user is required", domain.ErrInvalidArgument)
	}
	switch c.Upgrade.DefaultSource {
	case "local", "file":
	default:
		return fmt.Errorf("%w: unknown upgrade.default_source %q", domain.ErrInvalidArgument, c.Upgrade.DefaultSource)
	}
	return nil
}

// MergeLabels returns MergeLabelKinds as a set.
func (u Upgrade) MergeLabels() map[domain.AssetKind]bool {
	out := make(map[domain.AssetKind]bool, len(u.MergeLabelKinds))
	for _, k := range u.MergeLabelKinds {
		out[k] = true
	}
	return out
}
