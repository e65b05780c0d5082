package autounit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/device"
	"github.com/born-ml/born-tnt/internal/lrscheduler"
	"github.com/born-ml/born-tnt/internal/state"
	"github.com/born-ml/born-tnt/internal/unit"
)

var (
	// ErrNoTrainState is returned by train hooks when the state has no train phase.
	ErrNoTrainState = errors.New("autounit: state has no train phase")
	// ErrNoEvalState is returned by eval hooks when the state has no eval phase.
	ErrNoEvalState = errors.New("autounit: state has no eval phase")
	// ErrNoGradientGraph is returned when ComputeLoss recorded no operations,
	// usually because the loss does not depend on any parameter.
	ErrNoGradientGraph = errors.New("autounit: loss has no recorded operations to differentiate")
)

// Config holds the collaborators and knobs of an AutoTrainUnit.
type Config struct {
	// Optimizer updates the parameters after every backward pass. Required.
	Optimizer optim.Optimizer

	// LRScheduler is stepped every step or every epoch, see StepLRInterval.
	// Optional.
	LRScheduler lrscheduler.Scheduler

	// StepLRInterval selects when LRScheduler is stepped (default: epoch).
	StepLRInterval Interval

	// Device is the device batches are moved to ("cpu", "webgpu").
	// Empty means BORN_DEVICE, falling back to the backend's device.
	Device string

	// LogFrequencySteps is how often, in parameter updates, MetricsLogger
	// is called. Required, must be > 0.
	LogFrequencySteps int

	// Logger receives debug output for every step (default: no-op).
	Logger *zap.Logger
}

// AutoTrainUnit runs forward, loss, backward, optimizer step and learning
// rate scheduling for the user. It implements unit.TrainUnit and
// unit.EvalUnit.
//
// Users who override OnTrainEpochEnd in an embedding type must call the
// embedded method, or the epoch-interval scheduler and logging will not run.
type AutoTrainUnit[D any, B Backend] struct {
	unit.TrainHooks
	unit.EvalHooks

	backend B
	loss    LossComputer[D, B]
	updater MetricsUpdater[D, B]
	metrics MetricsLogger

	optimizer optim.Optimizer
	scheduler lrscheduler.Scheduler
	interval  Interval
	device    tensor.Device
	logEvery  int
	logger    *zap.Logger
}

// New creates an AutoTrainUnit running module's ComputeLoss on backend.
//
// module may also implement MetricsUpdater and MetricsLogger.
func New[D any, B Backend](backend B, module LossComputer[D, B], cfg Config) (*AutoTrainUnit[D, B], error) {
	if module == nil {
		return nil, errors.New("autounit: loss computer is nil")
	}
	if cfg.Optimizer == nil {
		return nil, errors.New("autounit: optimizer is nil")
	}
	if cfg.LogFrequencySteps <= 0 {
		return nil, fmt.Errorf("autounit: log frequency steps must be > 0, got %d", cfg.LogFrequencySteps)
	}
	interval, err := ParseInterval(string(cfg.StepLRInterval))
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dev, err := resolveDevice(cfg.Device, backend.Device(), logger)
	if err != nil {
		return nil, err
	}

	u := &AutoTrainUnit[D, B]{
		backend:   backend,
		loss:      module,
		optimizer: cfg.Optimizer,
		scheduler: cfg.LRScheduler,
		interval:  interval,
		device:    dev,
		logEvery:  cfg.LogFrequencySteps,
		logger:    logger,
	}
	if m, ok := module.(MetricsUpdater[D, B]); ok {
		u.updater = m
	}
	if m, ok := module.(MetricsLogger); ok {
		u.metrics = m
	}
	return u, nil
}

func resolveDevice(name string, backendDev tensor.Device, logger *zap.Logger) (tensor.Device, error) {
	if name != "" {
		dev, err := device.Parse(name)
		if err != nil {
			return dev, err
		}
		if dev != backendDev {
			return dev, fmt.Errorf("autounit: device %s does not match backend device %s", dev, backendDev)
		}
		return dev, nil
	}

	dev, err := device.FromEnv()
	if err != nil {
		return dev, err
	}
	if dev != backendDev {
		logger.Warn("environment device differs from backend, using backend device",
			zap.Stringer("env", dev), zap.Stringer("backend", backendDev))
		return backendDev, nil
	}
	return dev, nil
}

// Optimizer returns the optimizer stepped by the unit.
func (u *AutoTrainUnit[D, B]) Optimizer() optim.Optimizer { return u.optimizer }

// LRScheduler returns the scheduler, or nil.
func (u *AutoTrainUnit[D, B]) LRScheduler() lrscheduler.Scheduler { return u.scheduler }

// StepLRInterval returns when the scheduler is stepped.
func (u *AutoTrainUnit[D, B]) StepLRInterval() Interval { return u.interval }

// Device returns the device batches are moved to.
func (u *AutoTrainUnit[D, B]) Device() tensor.Device { return u.device }

// LogFrequencySteps returns the step-interval logging cadence.
func (u *AutoTrainUnit[D, B]) LogFrequencySteps() int { return u.logEvery }

// TrainStep runs one optimization step on data.
func (u *AutoTrainUnit[D, B]) TrainStep(ctx context.Context, s *state.State, data D) (unit.StepOutput, error) {
	if s == nil || s.TrainState == nil {
		return unit.StepOutput{}, ErrNoTrainState
	}
	if err := ctx.Err(); err != nil {
		return unit.StepOutput{}, err
	}

	data, err := device.CopyToDevice(data, u.device)
	if err != nil {
		return unit.StepOutput{}, err
	}

	tape := u.backend.GetTape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	loss, outputs, err := u.computeLoss(ctx, s, data)
	if err != nil {
		return unit.StepOutput{}, err
	}

	grads, err := u.backward(loss)
	if err != nil {
		return unit.StepOutput{}, err
	}
	tape.StopRecording()

	err = guard("optimizer step", func() error {
		u.optimizer.Step(grads)
		u.optimizer.ZeroGrad()
		return nil
	})
	if err != nil {
		return unit.StepOutput{}, err
	}

	if u.scheduler != nil && u.interval == IntervalStep {
		u.scheduler.Step()
	}

	out := unit.StepOutput{Loss: scalar(loss), Outputs: outputs}

	if err := u.updateMetrics(ctx, s, data, loss, outputs); err != nil {
		return out, err
	}

	step := s.TrainState.Progress.NumStepsCompleted
	u.logger.Debug("train step",
		zap.Int("step", step),
		zap.Float32("loss", out.Loss),
		zap.Float32("lr", u.optimizer.GetLR()))

	if (step+1)%u.logEvery == 0 {
		if err := u.logMetrics(ctx, s, step, IntervalStep); err != nil {
			return out, err
		}
	}
	return out, nil
}

// OnTrainEpochEnd steps an epoch-interval scheduler and logs metrics.
func (u *AutoTrainUnit[D, B]) OnTrainEpochEnd(ctx context.Context, s *state.State) error {
	if s == nil || s.TrainState == nil {
		return ErrNoTrainState
	}
	if u.scheduler != nil && u.interval == IntervalEpoch {
		u.scheduler.Step()
		u.logger.Debug("lr scheduler stepped", zap.Float32("lr", u.scheduler.LastLR()))
	}
	return u.logMetrics(ctx, s, s.TrainState.Progress.NumStepsCompleted, IntervalEpoch)
}

// EvalStep computes the loss on data without recording gradients or
// touching the optimizer, then updates metrics.
func (u *AutoTrainUnit[D, B]) EvalStep(ctx context.Context, s *state.State, data D) (unit.StepOutput, error) {
	if s == nil || s.EvalState == nil {
		return unit.StepOutput{}, ErrNoEvalState
	}
	if err := ctx.Err(); err != nil {
		return unit.StepOutput{}, err
	}

	data, err := device.CopyToDevice(data, u.device)
	if err != nil {
		return unit.StepOutput{}, err
	}

	tape := u.backend.GetTape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	loss, outputs, err := u.computeLoss(ctx, s, data)
	if err != nil {
		return unit.StepOutput{}, err
	}

	out := unit.StepOutput{Loss: scalar(loss), Outputs: outputs}
	if err := u.updateMetrics(ctx, s, data, loss, outputs); err != nil {
		return out, err
	}
	u.logger.Debug("eval step",
		zap.Int("step", s.EvalState.Progress.NumStepsCompleted),
		zap.Float32("loss", out.Loss))
	return out, nil
}

// OnEvalEpochEnd logs metrics for the finished eval pass.
func (u *AutoTrainUnit[D, B]) OnEvalEpochEnd(ctx context.Context, s *state.State) error {
	if s == nil || s.EvalState == nil {
		return ErrNoEvalState
	}
	return u.logMetrics(ctx, s, s.EvalState.Progress.NumStepsCompleted, IntervalEpoch)
}

func (u *AutoTrainUnit[D, B]) computeLoss(ctx context.Context, s *state.State, data D) (*tensor.Tensor[float32, B], any, error) {
	var (
		loss    *tensor.Tensor[float32, B]
		outputs any
	)
	err := guard("compute loss", func() error {
		var err error
		loss, outputs, err = u.loss.ComputeLoss(ctx, s, data)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if loss == nil {
		return nil, nil, errors.New("autounit: compute loss returned a nil loss")
	}
	return loss, outputs, nil
}

func (u *AutoTrainUnit[D, B]) backward(loss *tensor.Tensor[float32, B]) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	if u.backend.GetTape().NumOps() == 0 {
		return nil, ErrNoGradientGraph
	}
	var grads map[*tensor.RawTensor]*tensor.RawTensor
	err := guard("backward", func() error {
		grads = autodiff.Backward(loss, u.backend)
		return nil
	})
	return grads, err
}

func (u *AutoTrainUnit[D, B]) updateMetrics(ctx context.Context, s *state.State, data D, loss *tensor.Tensor[float32, B], outputs any) error {
	if u.updater == nil {
		return nil
	}
	if err := u.updater.UpdateMetrics(ctx, s, data, loss, outputs); err != nil {
		return fmt.Errorf("autounit: update metrics: %w", err)
	}
	return nil
}

func (u *AutoTrainUnit[D, B]) logMetrics(ctx context.Context, s *state.State, step int, interval Interval) error {
	if u.metrics == nil {
		return nil
	}
	if err := u.metrics.LogMetrics(ctx, s, step, interval); err != nil {
		return fmt.Errorf("autounit: log metrics (%s): %w", interval, err)
	}
	return nil
}

// guard runs fn and turns a panic from the numerical backend into an error.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("autounit: %s: panic: %v", op, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("autounit: %s: %w", op, err)
	}
	return nil
}

// scalar reduces a loss tensor to its mean value.
func scalar[B Backend](loss *tensor.Tensor[float32, B]) float32 {
	data := loss.Data()
	if len(data) == 0 {
		return 0
	}
	var sum float32
	for _, v := range data {
		sum += v
	}
	return sum / float32(len(data))
}
