package autounit

import (
	"context"
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/state"
)

// Backend is a born backend that records operations on a gradient tape,
// such as *autodiff.Backend[*cpu.Backend].
type Backend interface {
	tensor.Backend
	GetTape() *autodiff.GradientTape
}

// Interval says whether something happens every step or every epoch.
type Interval string

// Supported intervals.
const (
	IntervalStep  Interval = "step"
	IntervalEpoch Interval = "epoch"
)

// ParseInterval validates an interval name. The empty string means epoch.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case "", IntervalEpoch:
		return IntervalEpoch, nil
	case IntervalStep:
		return IntervalStep, nil
	default:
		return "", fmt.Errorf("autounit: unknown interval %q (want step or epoch)", s)
	}
}

// LossComputer is the one hook every AutoTrainUnit user must provide.
//
// ComputeLoss runs the forward pass for a batch and returns the loss along
// with the model outputs. It is called with gradient recording enabled
// during training and disabled during evaluation. A non-scalar loss is
// reduced by summation in the backward pass.
type LossComputer[D any, B Backend] interface {
	ComputeLoss(ctx context.Context, s *state.State, data D) (loss *tensor.Tensor[float32, B], outputs any, err error)
}

// MetricsUpdater is an optional hook called after every step with the
// batch, the loss and the outputs returned by ComputeLoss.
type MetricsUpdater[D any, B Backend] interface {
	UpdateMetrics(ctx context.Context, s *state.State, data D, loss *tensor.Tensor[float32, B], outputs any) error
}

// MetricsLogger is an optional hook called every LogFrequencySteps steps
// with IntervalStep, and at the end of every epoch with IntervalEpoch.
//
// step is the number of parameter updates completed before the current
// step, so with a frequency of N the hook fires at steps N-1, 2N-1, ...
type MetricsLogger interface {
	LogMetrics(ctx context.Context, s *state.State, step int, interval Interval) error
}
