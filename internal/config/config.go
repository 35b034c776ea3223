// Package config provides unified configuration loading for contagion.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nvandessel/contagion/internal/diagnostics"
	"github.com/nvandessel/contagion/internal/field"
	"github.com/nvandessel/contagion/internal/mutation"
	"github.com/nvandessel/contagion/internal/nexus"
	"github.com/nvandessel/contagion/internal/propagation"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONTAGION_"

// Config contains all contagion configuration settings.
type Config struct {
	// Field sizes and tunes the shared grid.
	Field FieldConfig `json:"field" yaml:"field" envPrefix:"FIELD_"`

	// Scheduler tunes the tick loop and per-session queues.
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" envPrefix:"SCHEDULER_"`

	// Vectors tunes vector selection.
	Vectors VectorsConfig `json:"vectors" yaml:"vectors" envPrefix:"VECTORS_"`

	// Mutation tunes effect scheduling.
	Mutation MutationConfig `json:"mutation" yaml:"mutation" envPrefix:"MUTATION_"`

	// Diagnostics tunes the periodic health check.
	Diagnostics DiagnosticsConfig `json:"diagnostics" yaml:"diagnostics" envPrefix:"DIAGNOSTICS_"`

	// Journal configures the dispatch journal.
	Journal JournalConfig `json:"journal" yaml:"journal" envPrefix:"JOURNAL_"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`

	// Seed seeds every random source. Zero picks a time-based seed.
	Seed int64 `json:"seed" yaml:"seed" env:"SEED"`
}

// FieldConfig mirrors field.Config.
type FieldConfig struct {
	Resolution         int     `json:"resolution" yaml:"resolution" env:"RESOLUTION"`
	DecayConstant      float64 `json:"decay_constant" yaml:"decay_constant" env:"DECAY_CONSTANT"`
	Amplification      float64 `json:"amplification" yaml:"amplification" env:"AMPLIFICATION"`
	SampleStride       int     `json:"sample_stride" yaml:"sample_stride" env:"SAMPLE_STRIDE"`
	DecayDistanceK     float64 `json:"decay_distance_k" yaml:"decay_distance_k" env:"DECAY_DISTANCE_K"`
	BreathingAmplitude float64 `json:"breathing_amplitude" yaml:"breathing_amplitude" env:"BREATHING_AMPLITUDE"`
	BreathingPeriod    int     `json:"breathing_period" yaml:"breathing_period" env:"BREATHING_PERIOD"`
}

// SchedulerConfig mirrors nexus.Config.
type SchedulerConfig struct {
	TickInterval        time.Duration `json:"tick_interval" yaml:"tick_interval" env:"TICK_INTERVAL"`
	QueueCapacity       int           `json:"queue_capacity" yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	QueueCap            int           `json:"queue_cap" yaml:"queue_cap" env:"QUEUE_CAP"`
	HighWaterMark       int           `json:"high_water_mark" yaml:"high_water_mark" env:"HIGH_WATER_MARK"`
	StabilizeAfterTicks int           `json:"stabilize_after_ticks" yaml:"stabilize_after_ticks" env:"STABILIZE_AFTER_TICKS"`
	DropFraction        float64       `json:"drop_fraction" yaml:"drop_fraction" env:"DROP_FRACTION"`
	SaturationDecay     float64       `json:"saturation_decay" yaml:"saturation_decay" env:"SATURATION_DECAY"`
}

// VectorsConfig tunes vector selection and threshold widening.
type VectorsConfig struct {
	// Epsilon is the probability of exploring the top three instead of the best.
	Epsilon float64 `json:"epsilon" yaml:"epsilon" env:"EPSILON"`

	// WidenBy is how far activation thresholds drop while integrity is low.
	WidenBy float64 `json:"widen_by" yaml:"widen_by" env:"WIDEN_BY"`
}

// MutationConfig mirrors mutation.Config.
type MutationConfig struct {
	MaxJitter    time.Duration `json:"max_jitter" yaml:"max_jitter" env:"MAX_JITTER"`
	MinMagnitude float64       `json:"min_magnitude" yaml:"min_magnitude" env:"MIN_MAGNITUDE"`
}

// DiagnosticsConfig mirrors diagnostics.Config, minus the widening offset.
type DiagnosticsConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval" env:"INTERVAL"`
	DriftThreshold time.Duration `json:"drift_threshold" yaml:"drift_threshold" env:"DRIFT_THRESHOLD"`
	IntegrityLow   float64       `json:"integrity_low" yaml:"integrity_low" env:"INTEGRITY_LOW"`
	IntegrityHigh  float64       `json:"integrity_high" yaml:"integrity_high" env:"INTEGRITY_HIGH"`
}

// JournalConfig configures the dispatch journal.
type JournalConfig struct {
	// Enabled turns on the SQLite journal.
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Path is the journal database. Empty means ~/.contagion/journal.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
}

// LoggingConfig configures contagion's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to ~/.contagion/decisions.jsonl.
	Level string `json:"level" yaml:"level" env:"LEVEL"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	fc := field.DefaultConfig()
	sc := nexus.DefaultConfig()
	mc := mutation.DefaultConfig()
	dc := diagnostics.DefaultConfig()
	return &Config{
		Field: FieldConfig{
			Resolution:         fc.Resolution,
			DecayConstant:      fc.DecayConstant,
			Amplification:      fc.Amplification,
			SampleStride:       fc.SampleStride,
			DecayDistanceK:     fc.DistanceDecay,
			BreathingAmplitude: fc.BreathingAmplitude,
			BreathingPeriod:    fc.BreathingPeriod,
		},
		Scheduler: SchedulerConfig{
			TickInterval:        sc.TickInterval,
			QueueCapacity:       sc.QueueCapacity,
			QueueCap:            sc.QueueCap,
			HighWaterMark:       sc.HighWaterMark,
			StabilizeAfterTicks: sc.StabilizeAfterTicks,
			DropFraction:        sc.DropFraction,
			SaturationDecay:     sc.SaturationDecay,
		},
		Vectors: VectorsConfig{
			Epsilon: propagation.DefaultOptions().Epsilon,
			WidenBy: dc.WidenBy,
		},
		Mutation: MutationConfig{
			MaxJitter:    mc.MaxJitter,
			MinMagnitude: mc.MinMagnitude,
		},
		Diagnostics: DiagnosticsConfig{
			Interval:       dc.Interval,
			DriftThreshold: dc.DriftThreshold,
			IntegrityLow:   dc.IntegrityLow,
			IntegrityHigh:  dc.IntegrityHigh,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.contagion/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".contagion", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.contagion/config.yaml -> environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			fileCfg, loadErr := LoadFromFile(path)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			cfg = fileCfg
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CONTAGION_* environment variables. Unset
// variables leave the current values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	f := c.Field
	if f.Resolution < 1 || f.Resolution > field.MaxResolution {
		return fmt.Errorf("field.resolution must be in [1, %d], got %d", field.MaxResolution, f.Resolution)
	}
	if f.DecayConstant < 0 || f.DecayConstant >= 1 {
		return fmt.Errorf("field.decay_constant must be in [0, 1), got %f", f.DecayConstant)
	}
	if f.Amplification <= 0 {
		return fmt.Errorf("field.amplification must be positive, got %f", f.Amplification)
	}
	if f.SampleStride < 1 {
		return fmt.Errorf("field.sample_stride must be at least 1, got %d", f.SampleStride)
	}
	if f.DecayDistanceK < 0 {
		return fmt.Errorf("field.decay_distance_k must be non-negative, got %f", f.DecayDistanceK)
	}
	if f.BreathingAmplitude < 0 || f.BreathingAmplitude > field.MaxBreathingAmplitude {
		return fmt.Errorf("field.breathing_amplitude must be in [0, %.2f], got %f", field.MaxBreathingAmplitude, f.BreathingAmplitude)
	}
	if f.BreathingPeriod < 1 {
		return fmt.Errorf("field.breathing_period must be at least 1, got %d", f.BreathingPeriod)
	}

	s := c.Scheduler
	if s.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %v", s.TickInterval)
	}
	if s.QueueCapacity < 1 {
		return fmt.Errorf("scheduler.queue_capacity must be at least 1, got %d", s.QueueCapacity)
	}
	if s.QueueCap < 1 || s.QueueCap > s.QueueCapacity {
		return fmt.Errorf("scheduler.queue_cap must be in [1, queue_capacity=%d], got %d", s.QueueCapacity, s.QueueCap)
	}
	if s.HighWaterMark < 0 {
		return fmt.Errorf("scheduler.high_water_mark must be non-negative, got %d", s.HighWaterMark)
	}
	if s.StabilizeAfterTicks < 0 {
		return fmt.Errorf("scheduler.stabilize_after_ticks must be non-negative, got %d", s.StabilizeAfterTicks)
	}
	if s.DropFraction <= 0 || s.DropFraction > 1 {
		return fmt.Errorf("scheduler.drop_fraction must be in (0, 1], got %f", s.DropFraction)
	}
	if s.SaturationDecay < 0 || s.SaturationDecay > 1 {
		return fmt.Errorf("scheduler.saturation_decay must be in [0, 1], got %f", s.SaturationDecay)
	}

	if c.Vectors.Epsilon < 0 || c.Vectors.Epsilon > 1 {
		return fmt.Errorf("vectors.epsilon must be between 0 and 1, got %f", c.Vectors.Epsilon)
	}
	if c.Vectors.WidenBy < 0 || c.Vectors.WidenBy > 1 {
		return fmt.Errorf("vectors.widen_by must be between 0 and 1, got %f", c.Vectors.WidenBy)
	}

	if c.Mutation.MaxJitter < 0 {
		return fmt.Errorf("mutation.max_jitter must be non-negative, got %v", c.Mutation.MaxJitter)
	}
	if c.Mutation.MinMagnitude < 0 || c.Mutation.MinMagnitude > 1 {
		return fmt.Errorf("mutation.min_magnitude must be between 0 and 1, got %f", c.Mutation.MinMagnitude)
	}

	d := c.Diagnostics
	if d.Interval < 0 {
		return fmt.Errorf("diagnostics.interval must be non-negative, got %v", d.Interval)
	}
	if d.DriftThreshold < 0 {
		return fmt.Errorf("diagnostics.drift_threshold must be non-negative, got %v", d.DriftThreshold)
	}
	if d.IntegrityLow < 0 || d.IntegrityHigh > 1 || d.IntegrityLow > d.IntegrityHigh {
		return fmt.Errorf("diagnostics integrity band must satisfy 0 <= integrity_low <= integrity_high <= 1, got [%f, %f]",
			d.IntegrityLow, d.IntegrityHigh)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Options converts the configuration into engine options. Clock, logger,
// decision logger and journal are left for the caller.
func (c *Config) Options() propagation.Options {
	opts := propagation.DefaultOptions()
	opts.Field = field.Config{
		Resolution:         c.Field.Resolution,
		DecayConstant:      c.Field.DecayConstant,
		Amplification:      c.Field.Amplification,
		SampleStride:       c.Field.SampleStride,
		DistanceDecay:      c.Field.DecayDistanceK,
		BreathingAmplitude: c.Field.BreathingAmplitude,
		BreathingPeriod:    c.Field.BreathingPeriod,
	}
	opts.Scheduler = nexus.Config{
		TickInterval:        c.Scheduler.TickInterval,
		QueueCapacity:       c.Scheduler.QueueCapacity,
		QueueCap:            c.Scheduler.QueueCap,
		HighWaterMark:       c.Scheduler.HighWaterMark,
		StabilizeAfterTicks: c.Scheduler.StabilizeAfterTicks,
		DropFraction:        c.Scheduler.DropFraction,
		SaturationDecay:     c.Scheduler.SaturationDecay,
	}
	opts.Mutation = mutation.Config{
		MaxJitter:    c.Mutation.MaxJitter,
		MinMagnitude: c.Mutation.MinMagnitude,
	}
	opts.Diagnostics = diagnostics.Config{
		Interval:       c.Diagnostics.Interval,
		DriftThreshold: c.Diagnostics.DriftThreshold,
		IntegrityLow:   c.Diagnostics.IntegrityLow,
		IntegrityHigh:  c.Diagnostics.IntegrityHigh,
		WidenBy:        c.Vectors.WidenBy,
	}
	opts.Epsilon = c.Vectors.Epsilon
	opts.Seed = c.Seed
	return opts
}
