// Package unit defines the interfaces the runner drives.
//
// A unit owns the model, optimizer and metrics of a run. The runner owns
// the loop: it pulls batches, calls the step method, advances progress
// and fires the lifecycle hooks around epochs.
//
// Embed TrainHooks or EvalHooks to get no-op lifecycle hooks and only
// implement the step:
//
//	type myUnit struct {
//	    unit.TrainHooks
//	}
//
//	func (u *myUnit) TrainStep(ctx context.Context, s *state.State, batch Batch) (unit.StepOutput, error) {
//	    ...
//	}
package unit

import (
	"context"

	"github.com/born-ml/born-tnt/internal/state"
)

// StepOutput is the result of one train or eval step.
type StepOutput struct {
	// Loss is the scalar loss of the step (mean over elements for
	// non-scalar loss tensors).
	Loss float32
	// Outputs is whatever the loss callback returned alongside the loss,
	// usually the model predictions.
	Outputs any
}

// TrainUnit is driven by runner.Train and runner.Fit.
type TrainUnit[D any] interface {
	OnTrainStart(ctx context.Context, s *state.State) error
	OnTrainEpochStart(ctx context.Context, s *state.State) error
	TrainStep(ctx context.Context, s *state.State, data D) (StepOutput, error)
	OnTrainEpochEnd(ctx context.Context, s *state.State) error
	OnTrainEnd(ctx context.Context, s *state.State) error
}

// EvalUnit is driven by runner.Evaluate and runner.Fit.
type EvalUnit[D any] interface {
	OnEvalStart(ctx context.Context, s *state.State) error
	OnEvalEpochStart(ctx context.Context, s *state.State) error
	EvalStep(ctx context.Context, s *state.State, data D) (StepOutput, error)
	OnEvalEpochEnd(ctx context.Context, s *state.State) error
	OnEvalEnd(ctx context.Context, s *state.State) error
}

// TrainEvalUnit can be passed to runner.Fit.
type TrainEvalUnit[D any] interface {
	TrainUnit[D]
	EvalUnit[D]
}

// TrainHooks implements every TrainUnit hook except TrainStep as a no-op.
type TrainHooks struct{}

// OnTrainStart is a no-op.
func (TrainHooks) OnTrainStart(context.Context, *state.State) error { return nil }

// OnTrainEpochStart is a no-op.
func (TrainHooks) OnTrainEpochStart(context.Context, *state.State) error { return nil }

// OnTrainEpochEnd is a no-op.
func (TrainHooks) OnTrainEpochEnd(context.Context, *state.State) error { return nil }

// OnTrainEnd is a no-op.
func (TrainHooks) OnTrainEnd(context.Context, *state.State) error { return nil }

// EvalHooks implements every EvalUnit hook except EvalStep as a no-op.
type EvalHooks struct{}

// OnEvalStart is a no-op.
func (EvalHooks) OnEvalStart(context.Context, *state.State) error { return nil }

// OnEvalEpochStart is a no-op.
func (EvalHooks) OnEvalEpochStart(context.Context, *state.State) error { return nil }

// OnEvalEpochEnd is a no-op.
func (EvalHooks) OnEvalEpochEnd(context.Context, *state.State) error { return nil }

// OnEvalEnd is a no-op.
func (EvalHooks) OnEvalEnd(context.Context, *state.State) error { return nil }
