package autounit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/device"
	"github.com/born-ml/born-tnt/internal/state"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

type batch struct {
	x, y *tensor.Tensor[float32, testBackend]
}

type logCall struct {
	step     int
	interval Interval
}

// regression fits y = 2x + 1 with a single linear layer.
type regression struct {
	model *nn.Linear[testBackend]

	lossErr   error
	panicLoss bool
	constLoss bool

	updates   int
	lastLoss  float32
	outputs   []any
	logged    []logCall
	updateErr error
}

func (r *regression) ComputeLoss(_ context.Context, _ *state.State, b batch) (*tensor.Tensor[float32, testBackend], any, error) {
	if r.lossErr != nil {
		return nil, nil, r.lossErr
	}
	if r.panicLoss {
		panic("shape mismatch")
	}
	if r.constLoss {
		return tensor.Ones[float32](tensor.Shape{1}, b.x.Backend()), nil, nil
	}
	pred := r.model.Forward(b.x)
	diff := pred.Sub(b.y)
	return diff.Mul(diff), pred, nil
}

func (r *regression) UpdateMetrics(_ context.Context, _ *state.State, _ batch, loss *tensor.Tensor[float32, testBackend], outputs any) error {
	r.updates++
	r.lastLoss = scalar(loss)
	r.outputs = append(r.outputs, outputs)
	return r.updateErr
}

func (r *regression) LogMetrics(_ context.Context, _ *state.State, step int, interval Interval) error {
	r.logged = append(r.logged, logCall{step: step, interval: interval})
	return nil
}

// lossOnly implements LossComputer and nothing else.
type lossOnly struct {
	model *nn.Linear[testBackend]
}

func (l lossOnly) ComputeLoss(_ context.Context, _ *state.State, b batch) (*tensor.Tensor[float32, testBackend], any, error) {
	diff := l.model.Forward(b.x).Sub(b.y)
	return diff.Mul(diff), nil, nil
}

type countingOptimizer struct {
	lr        float32
	steps     int
	zeroGrads int
	lastGrads map[*tensor.RawTensor]*tensor.RawTensor
}

func (o *countingOptimizer) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	o.steps++
	o.lastGrads = grads
}

func (o *countingOptimizer) ZeroGrad()      { o.zeroGrads++ }
func (o *countingOptimizer) GetLR() float32 { return o.lr }

type countingScheduler struct {
	steps int
}

func (s *countingScheduler) Step()           { s.steps++ }
func (s *countingScheduler) LastLR() float32 { return 0 }
func (s *countingScheduler) Count() int      { return s.steps }

func newBatch(t *testing.T, backend testBackend) batch {
	t.Helper()
	x, err := tensor.FromSlice([]float32{0, 1, 2, 3}, tensor.Shape{4, 1}, backend)
	require.NoError(t, err)
	y, err := tensor.FromSlice([]float32{1, 3, 5, 7}, tensor.Shape{4, 1}, backend)
	require.NoError(t, err)
	return batch{x: x, y: y}
}

func trainState() *state.State {
	return state.New(state.EntryPointTrain, &state.PhaseState{}, nil)
}

func newRegression(backend testBackend) *regression {
	return &regression{model: nn.NewLinear(1, 1, backend)}
}

func TestNew_Validation(t *testing.T) {
	t.Setenv(device.EnvVar, "cpu")
	backend := autodiff.New(cpu.New())
	module := newRegression(backend)
	opt := &countingOptimizer{}

	tests := []struct {
		name   string
		module LossComputer[batch, testBackend]
		cfg    Config
		errMsg string
	}{
		{
			name:   "nil module",
			cfg:    Config{Optimizer: opt, LogFrequencySteps: 1},
			errMsg: "loss computer is nil",
		},
		{
			name:   "nil optimizer",
			module: module,
			cfg:    Config{LogFrequencySteps: 1},
			errMsg: "optimizer is nil",
		},
		{
			name:   "zero log frequency",
			module: module,
			cfg:    Config{Optimizer: opt},
			errMsg: "log frequency steps must be > 0",
		},
		{
			name:   "bad interval",
			module: module,
			cfg:    Config{Optimizer: opt, LogFrequencySteps: 1, StepLRInterval: "batch"},
			errMsg: "unknown interval",
		},
		{
			name:   "device mismatch",
			module: module,
			cfg:    Config{Optimizer: opt, LogFrequencySteps: 1, Device: "webgpu"},
			errMsg: "does not match backend device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := New(backend, tt.module, tt.cfg)
			assert.ErrorContains(t, err, tt.errMsg)
			assert.Nil(t, u)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv(device.EnvVar, "cpu")
	backend := autodiff.New(cpu.New())
	opt := &countingOptimizer{}

	u, err := New[batch](backend, newRegression(backend), Config{Optimizer: opt, LogFrequencySteps: 10})
	require.NoError(t, err)

	assert.Equal(t, IntervalEpoch, u.StepLRInterval())
	assert.Equal(t, tensor.CPU, u.Device())
	assert.Equal(t, 10, u.LogFrequencySteps())
	assert.Same(t, opt, u.Optimizer())
	assert.Nil(t, u.LRScheduler())
}

func TestTrainStep_StepsOptimizerOnce(t *testing.T) {
	backend := autodiff.New(cpu.New())
	module := newRegression(backend)
	opt := &countingOptimizer{}

	u, err := New[batch](backend, module, Config{Optimizer: opt, LogFrequencySteps: 100})
	require.NoError(t, err)

	s := trainState()
	out, err := u.TrainStep(context.Background(), s, newBatch(t, backend))
	require.NoError(t, err)

	assert.Equal(t, 1, opt.steps)
	assert.Equal(t, 1, opt.zeroGrads)
	for _, p := range module.model.Parameters() {
		assert.NotNil(t, opt.lastGrads[p.Tensor().Raw()], "no gradient for %s", p.Name())
	}
	assert.Equal(t, 1, module.updates)
	assert.InDelta(t, module.lastLoss, out.Loss, 1e-6)
	assert.NotNil(t, out.Outputs)
	assert.Equal(t, 0, backend.Tape().NumOps(), "tape should be cleared after the step")
	assert.False(t, backend.Tape().IsRecording())
}

func TestTrainStep_SchedulerInterval(t *testing.T) {
	tests := []struct {
		interval       Interval
		afterSteps     int
		afterEpochEnds int
	}{
		{interval: IntervalStep, afterSteps: 3, afterEpochEnds: 3},
		{interval: IntervalEpoch, afterSteps: 0, afterEpochEnds: 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			backend := autodiff.New(cpu.New())
			sched := &countingScheduler{}
			u, err := New[batch](backend, newRegression(backend), Config{
				Optimizer:         &countingOptimizer{},
				LRScheduler:       sched,
				StepLRInterval:    tt.interval,
				LogFrequencySteps: 1,
			})
			require.NoError(t, err)

			ctx := context.Background()
			s := trainState()
			for range 3 {
				_, err := u.TrainStep(ctx, s, newBatch(t, backend))
				require.NoError(t, err)
				s.TrainState.Progress.IncrementStep()
			}
			assert.Equal(t, tt.afterSteps, sched.steps)

			require.NoError(t, u.OnTrainEpochEnd(ctx, s))
			assert.Equal(t, tt.afterEpochEnds, sched.steps)
		})
	}
}

func TestTrainStep_LogFrequency(t *testing.T) {
	backend := autodiff.New(cpu.New())
	module := newRegression(backend)
	u, err := New[batch](backend, module, Config{Optimizer: &countingOptimizer{}, LogFrequencySteps: 2})
	require.NoError(t, err)

	ctx := context.Background()
	s := trainState()
	for range 5 {
		_, err := u.TrainStep(ctx, s, newBatch(t, backend))
		require.NoError(t, err)
		s.TrainState.Progress.IncrementStep()
	}
	require.NoError(t, u.OnTrainEpochEnd(ctx, s))

	want := []logCall{
		{step: 1, interval: IntervalStep},
		{step: 3, interval: IntervalStep},
		{step: 5, interval: IntervalEpoch},
	}
	assert.Equal(t, want, module.logged)
}

func TestTrainStep_OptionalHooks(t *testing.T) {
	backend := autodiff.New(cpu.New())
	opt := &countingOptimizer{}
	u, err := New[batch](backend, lossOnly{model: nn.NewLinear(1, 1, backend)}, Config{Optimizer: opt, LogFrequencySteps: 1})
	require.NoError(t, err)

	ctx := context.Background()
	s := trainState()
	_, err = u.TrainStep(ctx, s, newBatch(t, backend))
	require.NoError(t, err)
	assert.NoError(t, u.OnTrainEpochEnd(ctx, s))
	assert.Equal(t, 1, opt.steps)
}

func TestTrainStep_Errors(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	t.Run("no train state", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		u, err := New[batch](backend, newRegression(backend), Config{Optimizer: &countingOptimizer{}, LogFrequencySteps: 1})
		require.NoError(t, err)

		_, err = u.TrainStep(ctx, state.New(state.EntryPointEvaluate, nil, &state.PhaseState{}), newBatch(t, backend))
		assert.ErrorIs(t, err, ErrNoTrainState)
		assert.ErrorIs(t, u.OnTrainEpochEnd(ctx, &state.State{}), ErrNoTrainState)
	})

	t.Run("compute loss error", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		module := newRegression(backend)
		module.lossErr = errBoom
		opt := &countingOptimizer{}
		u, err := New[batch](backend, module, Config{Optimizer: opt, LogFrequencySteps: 1})
		require.NoError(t, err)

		_, err = u.TrainStep(ctx, trainState(), newBatch(t, backend))
		assert.ErrorIs(t, err, errBoom)
		assert.Zero(t, opt.steps)
	})

	t.Run("panic in forward", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		module := newRegression(backend)
		module.panicLoss = true
		u, err := New[batch](backend, module, Config{Optimizer: &countingOptimizer{}, LogFrequencySteps: 1})
		require.NoError(t, err)

		_, err = u.TrainStep(ctx, trainState(), newBatch(t, backend))
		assert.ErrorContains(t, err, "panic: shape mismatch")
		assert.False(t, backend.Tape().IsRecording())
	})

	t.Run("loss without graph", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		module := newRegression(backend)
		module.constLoss = true
		u, err := New[batch](backend, module, Config{Optimizer: &countingOptimizer{}, LogFrequencySteps: 1})
		require.NoError(t, err)

		_, err = u.TrainStep(ctx, trainState(), newBatch(t, backend))
		assert.ErrorIs(t, err, ErrNoGradientGraph)
	})

	t.Run("update metrics error", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		module := newRegression(backend)
		module.updateErr = errBoom
		opt := &countingOptimizer{}
		u, err := New[batch](backend, module, Config{Optimizer: opt, LogFrequencySteps: 1})
		require.NoError(t, err)

		_, err = u.TrainStep(ctx, trainState(), newBatch(t, backend))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, opt.steps, "the optimizer step happens before metrics")
	})

	t.Run("canceled context", func(t *testing.T) {
		backend := autodiff.New(cpu.New())
		u, err := New[batch](backend, newRegression(backend), Config{Optimizer: &countingOptimizer{}, LogFrequencySteps: 1})
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = u.TrainStep(cctx, trainState(), newBatch(t, backend))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTrainStep_ReducesLoss(t *testing.T) {
	backend := autodiff.New(cpu.New())
	module := newRegression(backend)
	sgd := optim.NewSGD(module.model.Parameters(), optim.SGDConfig{LR: 0.01}, backend)

	u, err := New[batch](backend, module, Config{Optimizer: sgd, LogFrequencySteps: 50})
	require.NoError(t, err)

	ctx := context.Background()
	s := trainState()
	data := newBatch(t, backend)

	first, err := u.TrainStep(ctx, s, data)
	require.NoError(t, err)
	s.TrainState.Progress.IncrementStep()

	var last float32
	for range 200 {
		out, err := u.TrainStep(ctx, s, data)
		require.NoError(t, err)
		s.TrainState.Progress.IncrementStep()
		last = out.Loss
	}

	assert.Less(t, last, first.Loss)
	assert.Len(t, module.logged, 4)
}

func TestEvalStep(t *testing.T) {
	backend := autodiff.New(cpu.New())
	module := newRegression(backend)
	opt := &countingOptimizer{}
	u, err := New[batch](backend, module, Config{Optimizer: opt, LogFrequencySteps: 1})
	require.NoError(t, err)

	ctx := context.Background()
	s := state.New(state.EntryPointEvaluate, nil, &state.PhaseState{})

	backend.Tape().StartRecording()
	out, err := u.EvalStep(ctx, s, newBatch(t, backend))
	require.NoError(t, err)

	assert.Zero(t, opt.steps)
	assert.Equal(t, 1, module.updates)
	assert.Greater(t, out.Loss, float32(0))
	assert.Equal(t, 0, backend.Tape().NumOps(), "eval must not record operations")
	assert.True(t, backend.Tape().IsRecording(), "recording state should be restored")

	require.NoError(t, u.OnEvalEpochEnd(ctx, s))
	assert.Equal(t, []logCall{{step: 0, interval: IntervalEpoch}}, module.logged)

	_, err = u.EvalStep(ctx, trainState(), newBatch(t, backend))
	assert.ErrorIs(t, err, ErrNoEvalState)
}

func TestParseInterval(t *testing.T) {
	got, err := ParseInterval("")
	require.NoError(t, err)
	assert.Equal(t, IntervalEpoch, got)

	got, err = ParseInterval("step")
	require.NoError(t, err)
	assert.Equal(t, IntervalStep, got)

	_, err = ParseInterval("minute")
	assert.Error(t, err)
}
