// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/ibdissect/internal/capture"
	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/reassembly"
)

// Config represents the top-level configuration.
// Maps to the `ibdissect:` root key in YAML.
type Config struct {
	Dissector  ib.Config         `mapstructure:"dissector"`
	Heuristics []string          `mapstructure:"heuristics"` // registered heuristic names in try order; empty = all
	Reassembly reassembly.Config `mapstructure:"reassembly"`
	Capture    capture.Config    `mapstructure:"capture"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Reporter   ReporterConfig    `mapstructure:"reporter"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Log        log.LoggerConfig  `mapstructure:"log"`
}

// ─── Pipeline ───

// PipelineConfig sizes the capture → dissect → report chain.
type PipelineConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // capture time between reassembly sweeps
}

// ─── Reporter ───

// ReporterConfig selects the reporter plugin and its batching.
type ReporterConfig struct {
	Type             string         `mapstructure:"type"`     // console | kafka
	Fallback         string         `mapstructure:"fallback"` // optional, used when Type fails a batch
	BatchSize        int            `mapstructure:"batch_size"`
	BatchTimeout     time.Duration  `mapstructure:"batch_timeout"`
	FlushOnMalformed bool           `mapstructure:"flush_on_malformed"`
	Console          map[string]any `mapstructure:"console"`
	Kafka            map[string]any `mapstructure:"kafka"`
}

// PluginConfig returns the plugin-specific section for a reporter type.
func (rc *ReporterConfig) PluginConfig(name string) map[string]any {
	switch name {
	case "console":
		return rc.Console
	case "kafka":
		return rc.Kafka
	}
	return nil
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ibdissect: ...`.
type configRoot struct {
	IBDissect Config `mapstructure:"ibdissect"`
}

// Load loads configuration from file. An empty path yields the defaults with
// environment overrides applied.
// Env vars use the IBDISSECT_ prefix (e.g., IBDISSECT_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `ibdissect.` key prefix maps to `IBDISSECT_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.IBDissect

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "ibdissect." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Dissector defaults
	v.SetDefault("ibdissect.dissector.rroce_udp_port", ib.DefaultRRoCEUDPPort)
	v.SetDefault("ibdissect.dissector.try_heuristic_first", true)
	v.SetDefault("ibdissect.dissector.reassemble_send", true)

	// Reassembly defaults
	v.SetDefault("ibdissect.reassembly.max_fragments", 64)
	v.SetDefault("ibdissect.reassembly.max_message_size", 1<<20)
	v.SetDefault("ibdissect.reassembly.timeout", "60s")

	// Capture and pipeline defaults
	v.SetDefault("ibdissect.capture.start_kind", "auto")
	v.SetDefault("ibdissect.pipeline.buffer_size", 1024)
	v.SetDefault("ibdissect.pipeline.sweep_interval", "10s")

	// Reporter defaults
	v.SetDefault("ibdissect.reporter.type", "console")
	v.SetDefault("ibdissect.reporter.batch_size", 100)
	v.SetDefault("ibdissect.reporter.batch_timeout", "50ms")
	v.SetDefault("ibdissect.reporter.flush_on_malformed", false)

	// Metrics defaults
	v.SetDefault("ibdissect.metrics.enabled", false)
	v.SetDefault("ibdissect.metrics.listen", ":9091")
	v.SetDefault("ibdissect.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("ibdissect.log.level", "info")
	v.SetDefault("ibdissect.log.pattern", log.DefaultPattern)
	v.SetDefault("ibdissect.log.time", log.DefaultTime)
	v.SetDefault("ibdissect.log.console", true)
	v.SetDefault("ibdissect.log.file.max_size_mb", 100)
	v.SetDefault("ibdissect.log.file.max_backups", 5)
	v.SetDefault("ibdissect.log.file.max_age_days", 30)
	v.SetDefault("ibdissect.log.file.compress", true)
}

// ValidateAndApplyDefaults validates configuration and fills the values
// derived from other sections.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}

	// ── Dissector ──
	if cfg.Dissector.RRoCEUDPPort == 0 {
		return fmt.Errorf("%w: dissector.rroce_udp_port must be non-zero", core.ErrConfigInvalid)
	}
	cfg.Capture.RRoCEUDPPort = cfg.Dissector.RRoCEUDPPort

	// ── Capture ──
	switch cfg.Capture.StartKind {
	case "", "auto":
		cfg.Capture.StartKind = "auto"
	default:
		if _, ok := core.ParseStartKind(cfg.Capture.StartKind); !ok {
			return fmt.Errorf("%w: invalid capture.start_kind: %s (must be auto/link/global/transport)",
				core.ErrConfigInvalid, cfg.Capture.StartKind)
		}
	}

	// ── Reassembly ──
	if cfg.Reassembly.MaxFragments < 0 || cfg.Reassembly.MaxMessageSize < 0 || cfg.Reassembly.Timeout < 0 {
		return fmt.Errorf("%w: reassembly limits must not be negative", core.ErrConfigInvalid)
	}

	// ── Reporter ──
	if cfg.Reporter.Type == "" {
		return fmt.Errorf("%w: reporter.type is required", core.ErrConfigInvalid)
	}
	if cfg.Reporter.Fallback == cfg.Reporter.Type {
		return fmt.Errorf("%w: reporter.fallback must differ from reporter.type", core.ErrConfigInvalid)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}
