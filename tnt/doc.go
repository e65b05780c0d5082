// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tnt provides training loops for Born models.
//
// # Overview
//
// This package contains:
//   - Units: TrainUnit, EvalUnit and the AutoTrainUnit convenience
//   - Runner: Train, Evaluate, Fit
//   - State: run State, PhaseState, Progress
//   - Schedulers: StepLR, ExponentialLR, CosineAnnealingLR, LinearWarmupLR, LambdaLR
//   - Metrics: Tracker with Prometheus and zap sinks
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/born/autodiff"
//	    "github.com/born-ml/born/backend/cpu"
//	    "github.com/born-ml/born/nn"
//	    "github.com/born-ml/born/optim"
//	    "github.com/born-ml/born-tnt/tnt"
//	)
//
//	type Backend = *autodiff.Backend[*cpu.Backend]
//
//	type model struct {
//	    net *nn.Linear[Backend]
//	}
//
//	func (m *model) ComputeLoss(ctx context.Context, s *tnt.State, b Batch) (*tensor.Tensor[float32, Backend], any, error) {
//	    pred := m.net.Forward(b.X)
//	    diff := pred.Sub(b.Y)
//	    return diff.Mul(diff), pred, nil
//	}
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    m := &model{net: nn.NewLinear(3, 1, backend)}
//	    opt := optim.NewSGD(m.net.Parameters(), optim.SGDConfig{LR: 0.01}, backend)
//	    sched, _ := tnt.NewStepLR(opt, 10, 0.5)
//
//	    unit, err := tnt.NewAutoTrainUnit[Batch](backend, m, tnt.AutoConfig{
//	        Optimizer:         opt,
//	        LRScheduler:       sched,
//	        LogFrequencySteps: 100,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    _, err = tnt.Train[Batch](ctx, unit, tnt.SliceLoader[Batch](batches), tnt.TrainOptions{MaxEpochs: 10})
//	}
//
// # Metric Hooks
//
// The value passed to NewAutoTrainUnit may also implement UpdateMetrics
// and LogMetrics. Embedding a *Tracker provides both.
package tnt
