// Package runner drives units through epochs and steps.
//
// Train, Evaluate and Fit create a state.State, call the unit's lifecycle
// hooks in order and advance progress after every step:
//
//	OnTrainStart
//	  OnTrainEpochStart
//	    TrainStep, Progress.IncrementStep   (per batch)
//	  OnTrainEpochEnd, Progress.IncrementEpoch
//	OnTrainEnd
//
// Evaluation follows the same shape with the eval hooks.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/born-tnt/internal/state"
	"github.com/born-ml/born-tnt/internal/unit"
)

// ErrEmptyLoader is returned when a loader yields no batch for an epoch.
var ErrEmptyLoader = errors.New("runner: data loader yielded no batches")

// TrainOptions bounds a training run. At least one of MaxEpochs and
// MaxSteps must be set.
type TrainOptions struct {
	MaxEpochs        int
	MaxSteps         int
	MaxStepsPerEpoch int
	Logger           *zap.Logger
}

func (o TrainOptions) validate() error {
	if o.MaxEpochs < 0 || o.MaxSteps < 0 || o.MaxStepsPerEpoch < 0 {
		return fmt.Errorf("runner: limits must be >= 0, got epochs=%d steps=%d steps_per_epoch=%d",
			o.MaxEpochs, o.MaxSteps, o.MaxStepsPerEpoch)
	}
	if o.MaxEpochs == 0 && o.MaxSteps == 0 {
		return errors.New("runner: one of max epochs or max steps must be set")
	}
	return nil
}

// EvalOptions bounds an evaluation pass. Zero MaxSteps means the whole loader.
type EvalOptions struct {
	MaxSteps int
	Logger   *zap.Logger
}

// FitOptions bounds a fit run.
type FitOptions struct {
	TrainOptions

	// EvalMaxStepsPerEpoch limits each evaluation pass. Zero means the whole loader.
	EvalMaxStepsPerEpoch int
	// EvaluateEveryNEpochs runs evaluation after every N train epochs (default 1).
	EvaluateEveryNEpochs int
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Train runs u over loader until the options' limits are reached, Stop is
// called on the state, or ctx is done. The returned state is valid even
// when an error is returned.
func Train[D any](ctx context.Context, u unit.TrainUnit[D], loader DataLoader[D], opts TrainOptions) (*state.State, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := state.New(state.EntryPointTrain, &state.PhaseState{
		MaxEpochs:        opts.MaxEpochs,
		MaxSteps:         opts.MaxSteps,
		MaxStepsPerEpoch: opts.MaxStepsPerEpoch,
	}, nil)

	r := &loop[D]{log: loggerOrNop(opts.Logger)}
	return s, r.train(ctx, s, u, loader, nil)
}

// Evaluate runs one pass of u over loader.
func Evaluate[D any](ctx context.Context, u unit.EvalUnit[D], loader DataLoader[D], opts EvalOptions) (*state.State, error) {
	if opts.MaxSteps < 0 {
		return nil, fmt.Errorf("runner: max steps must be >= 0, got %d", opts.MaxSteps)
	}
	s := state.New(state.EntryPointEvaluate, nil, &state.PhaseState{
		MaxEpochs:        1,
		MaxStepsPerEpoch: opts.MaxSteps,
	})

	r := &loop[D]{log: loggerOrNop(opts.Logger)}
	return s, r.evaluate(ctx, s, u, loader)
}

// Fit interleaves training with evaluation passes.
func Fit[D any](ctx context.Context, u unit.TrainEvalUnit[D], trainLoader, evalLoader DataLoader[D], opts FitOptions) (*state.State, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.EvalMaxStepsPerEpoch < 0 || opts.EvaluateEveryNEpochs < 0 {
		return nil, fmt.Errorf("runner: eval limits must be >= 0, got steps=%d every=%d",
			opts.EvalMaxStepsPerEpoch, opts.EvaluateEveryNEpochs)
	}
	every := opts.EvaluateEveryNEpochs
	if every == 0 {
		every = 1
	}

	s := state.New(state.EntryPointFit,
		&state.PhaseState{
			MaxEpochs:        opts.MaxEpochs,
			MaxSteps:         opts.MaxSteps,
			MaxStepsPerEpoch: opts.MaxStepsPerEpoch,
		},
		&state.PhaseState{
			MaxStepsPerEpoch: opts.EvalMaxStepsPerEpoch,
		})

	r := &loop[D]{log: loggerOrNop(opts.Logger)}
	afterEpoch := func() error {
		if s.TrainState.Progress.NumEpochsCompleted%every != 0 {
			return nil
		}
		err := r.evaluate(ctx, s, u, evalLoader)
		s.ActivePhase = state.PhaseTrain
		return err
	}
	return s, r.train(ctx, s, u, trainLoader, afterEpoch)
}

type loop[D any] struct {
	log *zap.Logger
}

func (r *loop[D]) train(ctx context.Context, s *state.State, u unit.TrainUnit[D], loader DataLoader[D], afterEpoch func() error) error {
	ts := s.TrainState
	s.ActivePhase = state.PhaseTrain

	if err := u.OnTrainStart(ctx, s); err != nil {
		return fmt.Errorf("runner: on train start: %w", err)
	}

	for !ts.Done() && !s.ShouldStop() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.OnTrainEpochStart(ctx, s); err != nil {
			return fmt.Errorf("runner: on train epoch start: %w", err)
		}

		steps, err := r.runEpoch(ctx, s, ts, loader, u.TrainStep)
		if err != nil {
			return err
		}
		if steps == 0 {
			return ErrEmptyLoader
		}

		if err := u.OnTrainEpochEnd(ctx, s); err != nil {
			return fmt.Errorf("runner: on train epoch end: %w", err)
		}
		ts.Progress.IncrementEpoch()
		r.log.Info("train epoch finished",
			zap.Int("epoch", ts.Progress.NumEpochsCompleted),
			zap.Int("steps", ts.Progress.NumStepsCompleted))

		if afterEpoch != nil && !s.ShouldStop() {
			if err := afterEpoch(); err != nil {
				return err
			}
		}
	}

	if err := u.OnTrainEnd(ctx, s); err != nil {
		return fmt.Errorf("runner: on train end: %w", err)
	}
	return nil
}

func (r *loop[D]) evaluate(ctx context.Context, s *state.State, u unit.EvalUnit[D], loader DataLoader[D]) error {
	es := s.EvalState
	s.ActivePhase = state.PhaseEvaluate

	if err := u.OnEvalStart(ctx, s); err != nil {
		return fmt.Errorf("runner: on eval start: %w", err)
	}
	if err := u.OnEvalEpochStart(ctx, s); err != nil {
		return fmt.Errorf("runner: on eval epoch start: %w", err)
	}

	steps, err := r.runEpoch(ctx, s, es, loader, u.EvalStep)
	if err != nil {
		return err
	}
	if steps == 0 {
		return ErrEmptyLoader
	}

	if err := u.OnEvalEpochEnd(ctx, s); err != nil {
		return fmt.Errorf("runner: on eval epoch end: %w", err)
	}
	es.Progress.IncrementEpoch()
	r.log.Info("eval pass finished",
		zap.Int("pass", es.Progress.NumEpochsCompleted),
		zap.Int("steps", steps))

	if err := u.OnEvalEnd(ctx, s); err != nil {
		return fmt.Errorf("runner: on eval end: %w", err)
	}
	return nil
}

type stepFunc[D any] func(ctx context.Context, s *state.State, data D) (unit.StepOutput, error)

// runEpoch feeds loader into step until the loader is drained or a limit hits.
func (r *loop[D]) runEpoch(ctx context.Context, s *state.State, ps *state.PhaseState, loader DataLoader[D], step stepFunc[D]) (int, error) {
	steps := 0
	for data, err := range loader.Batches(ctx) {
		if err != nil {
			return steps, fmt.Errorf("runner: load batch: %w", err)
		}
		out, err := step(ctx, s, data)
		if err != nil {
			return steps, fmt.Errorf("runner: %s step %d: %w", s.ActivePhase, ps.Progress.NumStepsCompleted, err)
		}
		ps.StepOutput = out
		ps.Progress.IncrementStep()
		steps++

		if ps.EpochDone() || s.ShouldStop() {
			break
		}
	}
	return steps, nil
}
