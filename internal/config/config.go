// Package config loads the run configuration used by the born-tnt CLI and
// turns it into born optimizers and learning rate schedules.
//
// Configuration comes from a YAML file, overridden by BORN_TNT_* environment
// variables (nested keys joined by "_", e.g. BORN_TNT_OPTIMIZER_LR).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/born-tnt/internal/autounit"
	"github.com/born-ml/born-tnt/internal/device"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "BORN_TNT"

// Optimizer selects and tunes a born optimizer.
type Optimizer struct {
	// Name is "sgd" or "adam".
	Name     string     `mapstructure:"name" yaml:"name"`
	LR       float32    `mapstructure:"lr" yaml:"lr"`
	Momentum float32    `mapstructure:"momentum" yaml:"momentum,omitempty"`
	Betas    [2]float32 `mapstructure:"betas" yaml:"betas,omitempty,flow"`
	Eps      float32    `mapstructure:"eps" yaml:"eps,omitempty"`
}

// Scheduler selects a learning rate schedule.
type Scheduler struct {
	// Name is "none", "step", "exponential", "cosine" or "warmup".
	Name        string  `mapstructure:"name" yaml:"name"`
	StepSize    int     `mapstructure:"step_size" yaml:"step_size,omitempty"`
	Gamma       float64 `mapstructure:"gamma" yaml:"gamma,omitempty"`
	TMax        int     `mapstructure:"t_max" yaml:"t_max,omitempty"`
	EtaMin      float64 `mapstructure:"eta_min" yaml:"eta_min,omitempty"`
	WarmupSteps int     `mapstructure:"warmup_steps" yaml:"warmup_steps,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	Optimizer      Optimizer `mapstructure:"optimizer" yaml:"optimizer"`
	Scheduler      Scheduler `mapstructure:"scheduler" yaml:"scheduler"`
	StepLRInterval string    `mapstructure:"step_lr_interval" yaml:"step_lr_interval"`
	Device         string    `mapstructure:"device" yaml:"device,omitempty"`

	LogFrequencySteps    int `mapstructure:"log_frequency_steps" yaml:"log_frequency_steps"`
	MaxEpochs            int `mapstructure:"max_epochs" yaml:"max_epochs"`
	MaxSteps             int `mapstructure:"max_steps" yaml:"max_steps,omitempty"`
	MaxStepsPerEpoch     int `mapstructure:"max_steps_per_epoch" yaml:"max_steps_per_epoch,omitempty"`
	EvaluateEveryNEpochs int `mapstructure:"evaluate_every_n_epochs" yaml:"evaluate_every_n_epochs,omitempty"`

	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Optimizer:         Optimizer{Name: "sgd", LR: 0.01},
		Scheduler:         Scheduler{Name: "none"},
		StepLRInterval:    string(autounit.IntervalEpoch),
		LogFrequencySteps: 10,
		MaxEpochs:         20,
		BatchSize:         16,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("optimizer.name", d.Optimizer.Name)
	v.SetDefault("optimizer.lr", d.Optimizer.LR)
	v.SetDefault("optimizer.momentum", d.Optimizer.Momentum)
	v.SetDefault("optimizer.eps", d.Optimizer.Eps)
	v.SetDefault("scheduler.name", d.Scheduler.Name)
	v.SetDefault("scheduler.step_size", 0)
	v.SetDefault("scheduler.gamma", 0.0)
	v.SetDefault("scheduler.t_max", 0)
	v.SetDefault("scheduler.eta_min", 0.0)
	v.SetDefault("scheduler.warmup_steps", 0)
	v.SetDefault("step_lr_interval", d.StepLRInterval)
	v.SetDefault("device", "")
	v.SetDefault("log_frequency_steps", d.LogFrequencySteps)
	v.SetDefault("max_epochs", d.MaxEpochs)
	v.SetDefault("max_steps", 0)
	v.SetDefault("max_steps_per_epoch", 0)
	v.SetDefault("evaluate_every_n_epochs", 0)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("metrics_addr", "")
}

// Load reads path (YAML) on top of the defaults and applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dump encodes cfg as YAML.
func Dump(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return out, nil
}

// Validate checks the configuration for values the run cannot use.
func (c *Config) Validate() error {
	var errs []error

	switch c.Optimizer.Name {
	case "sgd", "adam":
	default:
		errs = append(errs, fmt.Errorf("optimizer.name must be sgd or adam, got %q", c.Optimizer.Name))
	}
	if c.Optimizer.LR <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.lr must be > 0, got %g", c.Optimizer.LR))
	}
	if c.Optimizer.Momentum < 0 || c.Optimizer.Momentum >= 1 {
		errs = append(errs, fmt.Errorf("optimizer.momentum must be in [0, 1), got %g", c.Optimizer.Momentum))
	}

	switch c.Scheduler.Name {
	case "", "none", "step", "exponential", "cosine", "warmup":
	default:
		errs = append(errs, fmt.Errorf("scheduler.name %q is not supported", c.Scheduler.Name))
	}

	if _, err := autounit.ParseInterval(c.StepLRInterval); err != nil {
		errs = append(errs, fmt.Errorf("step_lr_interval: %w", err))
	}
	if _, err := device.Parse(c.Device); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	if c.LogFrequencySteps <= 0 {
		errs = append(errs, fmt.Errorf("log_frequency_steps must be > 0, got %d", c.LogFrequencySteps))
	}
	if c.MaxEpochs < 0 || c.MaxSteps < 0 || c.MaxStepsPerEpoch < 0 || c.EvaluateEveryNEpochs < 0 {
		errs = append(errs, errors.New("max_epochs, max_steps, max_steps_per_epoch and evaluate_every_n_epochs must be >= 0"))
	}
	if c.MaxEpochs == 0 && c.MaxSteps == 0 {
		errs = append(errs, errors.New("one of max_epochs or max_steps must be set"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
