// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tnt

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/born-ml/born-tnt/internal/autounit"
	"github.com/born-ml/born-tnt/internal/lrscheduler"
	"github.com/born-ml/born-tnt/internal/metrics"
	"github.com/born-ml/born-tnt/internal/runner"
	"github.com/born-ml/born-tnt/internal/state"
	"github.com/born-ml/born-tnt/internal/unit"
)

// State

// State is shared between the runner and the unit for the duration of a run.
type State = state.State

// PhaseState holds the limits and progress of one phase.
type PhaseState = state.PhaseState

// Progress counts completed epochs and steps.
type Progress = state.Progress

// EntryPoint identifies which runner function created the State.
type EntryPoint = state.EntryPoint

// ActivePhase identifies the loop currently being driven.
type ActivePhase = state.ActivePhase

// Units

// StepOutput is the result of one step.
type StepOutput = unit.StepOutput

// TrainUnit is driven by Train and Fit.
type TrainUnit[D any] = unit.TrainUnit[D]

// EvalUnit is driven by Evaluate and Fit.
type EvalUnit[D any] = unit.EvalUnit[D]

// TrainEvalUnit can be passed to Fit.
type TrainEvalUnit[D any] = unit.TrainEvalUnit[D]

// TrainHooks provides no-op train lifecycle hooks for embedding.
type TrainHooks = unit.TrainHooks

// EvalHooks provides no-op eval lifecycle hooks for embedding.
type EvalHooks = unit.EvalHooks

// AutoTrainUnit

// Backend is a born backend recording on a gradient tape.
type Backend = autounit.Backend

// Interval says whether something happens every step or every epoch.
type Interval = autounit.Interval

// Intervals.
const (
	IntervalStep  = autounit.IntervalStep
	IntervalEpoch = autounit.IntervalEpoch
)

// AutoConfig configures an AutoTrainUnit.
type AutoConfig = autounit.Config

// AutoTrainUnit automates forward, backward, optimizer and scheduler steps.
type AutoTrainUnit[D any, B Backend] = autounit.AutoTrainUnit[D, B]

// LossComputer is the required user hook of an AutoTrainUnit.
type LossComputer[D any, B Backend] = autounit.LossComputer[D, B]

// MetricsUpdater is the optional per-step metrics hook.
type MetricsUpdater[D any, B Backend] = autounit.MetricsUpdater[D, B]

// MetricsLogger is the optional metrics logging hook.
type MetricsLogger = autounit.MetricsLogger

// NewAutoTrainUnit creates an AutoTrainUnit running module on backend.
func NewAutoTrainUnit[D any, B Backend](backend B, module LossComputer[D, B], cfg AutoConfig) (*AutoTrainUnit[D, B], error) {
	return autounit.New(backend, module, cfg)
}

// Runner

// DataLoader yields the batches of one epoch.
type DataLoader[D any] = runner.DataLoader[D]

// SliceLoader serves batches from memory.
type SliceLoader[D any] = runner.SliceLoader[D]

// LoaderFunc adapts a function to DataLoader.
type LoaderFunc[D any] = runner.LoaderFunc[D]

// TrainOptions bounds a training run.
type TrainOptions = runner.TrainOptions

// EvalOptions bounds an evaluation pass.
type EvalOptions = runner.EvalOptions

// FitOptions bounds a fit run.
type FitOptions = runner.FitOptions

// Train runs u over loader.
func Train[D any](ctx context.Context, u TrainUnit[D], loader DataLoader[D], opts TrainOptions) (*State, error) {
	return runner.Train(ctx, u, loader, opts)
}

// Evaluate runs one pass of u over loader.
func Evaluate[D any](ctx context.Context, u EvalUnit[D], loader DataLoader[D], opts EvalOptions) (*State, error) {
	return runner.Evaluate(ctx, u, loader, opts)
}

// Fit interleaves training with evaluation passes.
func Fit[D any](ctx context.Context, u TrainEvalUnit[D], trainLoader, evalLoader DataLoader[D], opts FitOptions) (*State, error) {
	return runner.Fit(ctx, u, trainLoader, evalLoader, opts)
}

// Learning rate schedules

// Scheduler is stepped by the unit once per step or epoch.
type Scheduler = lrscheduler.Scheduler

// Schedule is the closed-form Scheduler returned by the constructors below.
type Schedule = lrscheduler.Schedule

// Tunable is an optimizer whose learning rate can be changed.
type Tunable = lrscheduler.Tunable

// NewStepLR decays the learning rate by gamma every stepSize steps.
func NewStepLR(opt Tunable, stepSize int, gamma float64) (*Schedule, error) {
	return lrscheduler.NewStepLR(opt, stepSize, gamma)
}

// NewExponentialLR decays the learning rate by gamma every step.
func NewExponentialLR(opt Tunable, gamma float64) (*Schedule, error) {
	return lrscheduler.NewExponentialLR(opt, gamma)
}

// NewCosineAnnealingLR anneals the learning rate to etaMin over tMax steps.
func NewCosineAnnealingLR(opt Tunable, tMax int, etaMin float64) (*Schedule, error) {
	return lrscheduler.NewCosineAnnealingLR(opt, tMax, etaMin)
}

// NewLinearWarmupLR ramps the learning rate up over warmupSteps steps.
func NewLinearWarmupLR(opt Tunable, warmupSteps int) (*Schedule, error) {
	return lrscheduler.NewLinearWarmupLR(opt, warmupSteps)
}

// NewLambdaLR scales the base learning rate by fn(n).
func NewLambdaLR(opt Tunable, fn func(n int) float64) (*Schedule, error) {
	return lrscheduler.NewLambdaLR(opt, fn)
}

// Metrics

// Tracker averages step losses and reports them to sinks.
type Tracker[D any, B Backend] = metrics.Tracker[D, B]

// Report is handed to sinks on every LogMetrics call.
type Report = metrics.Report

// Sink receives reports.
type Sink = metrics.Sink

// NewTracker creates a Tracker. lr may be nil.
func NewTracker[D any, B Backend](lr func() float32, sinks ...Sink) *Tracker[D, B] {
	return metrics.NewTracker[D, B](lr, sinks...)
}

// NewPromSink registers Prometheus collectors with reg.
func NewPromSink(reg prometheus.Registerer) (*metrics.PromSink, error) {
	return metrics.NewPromSink(reg)
}

// NewZapSink writes reports to logger.
func NewZapSink(logger *zap.Logger) *metrics.ZapSink {
	return metrics.NewZapSink(logger)
}
