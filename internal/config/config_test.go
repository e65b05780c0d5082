package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
optimizer:
  name: adam
  lr: 0.003
  betas: [0.8, 0.99]
scheduler:
  name: cosine
  t_max: 50
  eta_min: 0.0001
step_lr_interval: step
device: cpu
log_frequency_steps: 5
max_epochs: 3
batch_size: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "adam", cfg.Optimizer.Name)
	assert.InDelta(t, 0.003, cfg.Optimizer.LR, 1e-9)
	assert.Equal(t, [2]float32{0.8, 0.99}, cfg.Optimizer.Betas)
	assert.Equal(t, Scheduler{Name: "cosine", TMax: 50, EtaMin: 0.0001}, cfg.Scheduler)
	assert.Equal(t, "step", cfg.StepLRInterval)
	assert.Equal(t, 5, cfg.LogFrequencySteps)
	assert.Equal(t, 3, cfg.MaxEpochs)
	assert.Equal(t, 8, cfg.BatchSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "optimizer:\n  name: sgd\n  lr: 0.1\n")
	t.Setenv("BORN_TNT_OPTIMIZER_LR", "0.5")
	t.Setenv("BORN_TNT_MAX_EPOCHS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Optimizer.LR, 1e-9)
	assert.Equal(t, 7, cfg.MaxEpochs)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read")

	path := writeConfig(t, "optimizer:\n  name: lbfgs\n  lr: 0\nlog_frequency_steps: 0\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "optimizer.name must be sgd or adam")
	assert.ErrorContains(t, err, "optimizer.lr must be > 0")
	assert.ErrorContains(t, err, "log_frequency_steps must be > 0")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"momentum out of range", func(c *Config) { c.Optimizer.Momentum = 1 }, "momentum"},
		{"unknown scheduler", func(c *Config) { c.Scheduler.Name = "plateau" }, "plateau"},
		{"bad interval", func(c *Config) { c.StepLRInterval = "batch" }, "step_lr_interval"},
		{"bad device", func(c *Config) { c.Device = "tpu" }, "device"},
		{"no limits", func(c *Config) { c.MaxEpochs = 0 }, "max_epochs or max_steps"},
		{"negative limit", func(c *Config) { c.MaxSteps = -1 }, ">= 0"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestDump_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = Scheduler{Name: "step", StepSize: 2, Gamma: 0.5}

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "step_size: 2")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg, back)
}

func TestBuildOptimizer(t *testing.T) {
	backend := autodiff.New(cpu.New())
	params := nn.NewLinear(2, 1, backend).Parameters()

	opt, err := BuildOptimizer(Optimizer{Name: "sgd", LR: 0.2, Momentum: 0.9}, params, backend)
	require.NoError(t, err)
	assert.IsType(t, &optim.SGD[*autodiff.Backend[*cpu.Backend]]{}, opt)
	assert.InDelta(t, 0.2, opt.GetLR(), 1e-6)

	opt, err = BuildOptimizer(Optimizer{Name: "adam", LR: 0.001}, params, backend)
	require.NoError(t, err)
	assert.IsType(t, &optim.Adam[*autodiff.Backend[*cpu.Backend]]{}, opt)

	_, err = BuildOptimizer(Optimizer{Name: "rmsprop"}, params, backend)
	assert.Error(t, err)
}

func TestBuildScheduler(t *testing.T) {
	backend := autodiff.New(cpu.New())
	params := nn.NewLinear(2, 1, backend).Parameters()
	opt, err := BuildOptimizer(Optimizer{Name: "sgd", LR: 1}, params, backend)
	require.NoError(t, err)

	s, err := BuildScheduler(Scheduler{Name: "none"}, opt)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = BuildScheduler(Scheduler{Name: "step", StepSize: 1, Gamma: 0.5}, opt)
	require.NoError(t, err)
	s.Step()
	assert.InDelta(t, 0.5, opt.GetLR(), 1e-6)

	_, err = BuildScheduler(Scheduler{Name: "warmup"}, opt)
	assert.ErrorContains(t, err, "warmup steps must be > 0")

	_, err = BuildScheduler(Scheduler{Name: "onecycle"}, opt)
	assert.Error(t, err)
}
