// Package state tracks where a training or evaluation run currently is.
//
// A State is created by the runner for every entry point (Train, Evaluate,
// Fit) and handed to each unit hook. Units read progress from it; only the
// runner advances it.
package state

import "sync/atomic"

// EntryPoint identifies which runner function created the State.
type EntryPoint string

// Supported entry points.
const (
	EntryPointTrain    EntryPoint = "train"
	EntryPointEvaluate EntryPoint = "evaluate"
	EntryPointFit      EntryPoint = "fit"
)

// ActivePhase identifies the loop currently being driven.
type ActivePhase string

// Supported phases.
const (
	PhaseTrain    ActivePhase = "train"
	PhaseEvaluate ActivePhase = "evaluate"
)

// PhaseState holds the limits and progress of one phase (train or eval).
type PhaseState struct {
	Progress Progress

	// MaxEpochs stops the phase after this many epochs. Zero means unbounded.
	MaxEpochs int
	// MaxSteps stops the phase after this many steps in total. Zero means unbounded.
	MaxSteps int
	// MaxStepsPerEpoch ends an epoch early. Zero means the loader decides.
	MaxStepsPerEpoch int

	// StepOutput is whatever the last step returned.
	StepOutput any
}

// Done reports whether the phase has reached MaxEpochs or MaxSteps.
func (p *PhaseState) Done() bool {
	if p.MaxEpochs > 0 && p.Progress.NumEpochsCompleted >= p.MaxEpochs {
		return true
	}
	return p.MaxSteps > 0 && p.Progress.NumStepsCompleted >= p.MaxSteps
}

// EpochDone reports whether the current epoch has reached MaxStepsPerEpoch
// or the phase has reached MaxSteps.
func (p *PhaseState) EpochDone() bool {
	if p.MaxStepsPerEpoch > 0 && p.Progress.NumStepsCompletedInEpoch >= p.MaxStepsPerEpoch {
		return true
	}
	return p.MaxSteps > 0 && p.Progress.NumStepsCompleted >= p.MaxSteps
}

// State is shared between the runner and the unit for the duration of a run.
type State struct {
	EntryPoint  EntryPoint
	ActivePhase ActivePhase

	// TrainState is nil when the run has no train phase.
	TrainState *PhaseState
	// EvalState is nil when the run has no eval phase.
	EvalState *PhaseState

	stop atomic.Bool
}

// New creates a State for the given entry point.
func New(entry EntryPoint, train, eval *PhaseState) *State {
	return &State{
		EntryPoint: entry,
		TrainState: train,
		EvalState:  eval,
	}
}

// Stop asks the runner to finish after the current step.
//
// Safe to call from any goroutine.
func (s *State) Stop() {
	s.stop.Store(true)
}

// ShouldStop reports whether Stop has been called.
func (s *State) ShouldStop() bool {
	return s.stop.Load()
}
