// Package lrscheduler adjusts the learning rate of a born optimizer over time.
//
// Every schedule is a closed-form function of the optimizer's base learning
// rate (read once at construction) and the number of Step calls so far, so
// schedules never accumulate rounding drift:
//
//	sgd := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.1}, backend)
//	sched, err := lrscheduler.NewStepLR(sgd, 30, 0.1)
//	...
//	for epoch := range epochs {
//	    train(...)
//	    sched.Step()
//	}
//
// The learning rate for count 0 is applied to the optimizer at construction.
package lrscheduler

import (
	"errors"
	"fmt"
	"math"
)

// Tunable is an optimizer whose learning rate can be changed.
//
// born's *optim.SGD and *optim.Adam implement it.
type Tunable interface {
	GetLR() float32
	SetLR(lr float32)
}

// Scheduler is stepped by the training unit, once per step or per epoch.
type Scheduler interface {
	// Step advances the schedule by one and updates the optimizer.
	Step()
	// LastLR returns the learning rate most recently applied.
	LastLR() float32
	// Count returns how many times Step has been called.
	Count() int
}

// ErrNilOptimizer is returned when a schedule is built without an optimizer.
var ErrNilOptimizer = errors.New("lrscheduler: optimizer is nil")

// Schedule is a Scheduler driven by a closed-form learning rate function.
type Schedule struct {
	name   string
	opt    Tunable
	baseLR float64
	count  int
	last   float32
	lrAt   func(base float64, n int) float64
}

var _ Scheduler = (*Schedule)(nil)

func newSchedule(name string, opt Tunable, lrAt func(base float64, n int) float64) (*Schedule, error) {
	if opt == nil {
		return nil, ErrNilOptimizer
	}
	s := &Schedule{
		name:   name,
		opt:    opt,
		baseLR: float64(opt.GetLR()),
		lrAt:   lrAt,
	}
	s.apply()
	return s, nil
}

// Step advances the schedule and sets the new learning rate on the optimizer.
func (s *Schedule) Step() {
	s.count++
	s.apply()
}

func (s *Schedule) apply() {
	s.last = float32(s.lrAt(s.baseLR, s.count))
	s.opt.SetLR(s.last)
}

// LastLR returns the learning rate most recently applied.
func (s *Schedule) LastLR() float32 {
	return s.last
}

// Count returns how many times Step has been called.
func (s *Schedule) Count() int {
	return s.count
}

// BaseLR returns the optimizer learning rate captured at construction.
func (s *Schedule) BaseLR() float32 {
	return float32(s.baseLR)
}

// String returns the schedule name and position, e.g. "step(count=3, lr=0.001)".
func (s *Schedule) String() string {
	return fmt.Sprintf("%s(count=%d, lr=%g)", s.name, s.count, s.last)
}

// NewStepLR decays the learning rate by gamma every stepSize steps.
//
//	lr = base * gamma^floor(n/stepSize)
func NewStepLR(opt Tunable, stepSize int, gamma float64) (*Schedule, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("lrscheduler: step size must be > 0, got %d", stepSize)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("lrscheduler: gamma must be > 0, got %g", gamma)
	}
	return newSchedule("step", opt, func(base float64, n int) float64 {
		return base * math.Pow(gamma, float64(n/stepSize))
	})
}

// NewExponentialLR decays the learning rate by gamma every step.
//
//	lr = base * gamma^n
func NewExponentialLR(opt Tunable, gamma float64) (*Schedule, error) {
	if gamma <= 0 {
		return nil, fmt.Errorf("lrscheduler: gamma must be > 0, got %g", gamma)
	}
	return newSchedule("exponential", opt, func(base float64, n int) float64 {
		return base * math.Pow(gamma, float64(n))
	})
}

// NewCosineAnnealingLR anneals the learning rate from base to etaMin over
// tMax steps following half a cosine period. Past tMax the curve continues
// periodically.
//
//	lr = etaMin + (base - etaMin) * (1 + cos(pi * n / tMax)) / 2
func NewCosineAnnealingLR(opt Tunable, tMax int, etaMin float64) (*Schedule, error) {
	if tMax <= 0 {
		return nil, fmt.Errorf("lrscheduler: t_max must be > 0, got %d", tMax)
	}
	if etaMin < 0 {
		return nil, fmt.Errorf("lrscheduler: eta_min must be >= 0, got %g", etaMin)
	}
	return newSchedule("cosine", opt, func(base float64, n int) float64 {
		return etaMin + (base-etaMin)*(1+math.Cos(math.Pi*float64(n)/float64(tMax)))/2
	})
}

// NewLinearWarmupLR ramps the learning rate linearly up to base over
// warmupSteps steps and holds it there afterwards.
//
//	lr = base * min(1, (n + 1) / warmupSteps)
func NewLinearWarmupLR(opt Tunable, warmupSteps int) (*Schedule, error) {
	if warmupSteps <= 0 {
		return nil, fmt.Errorf("lrscheduler: warmup steps must be > 0, got %d", warmupSteps)
	}
	return newSchedule("warmup", opt, func(base float64, n int) float64 {
		return base * math.Min(1, float64(n+1)/float64(warmupSteps))
	})
}

// NewLambdaLR scales the base learning rate by fn(n).
func NewLambdaLR(opt Tunable, fn func(n int) float64) (*Schedule, error) {
	if fn == nil {
		return nil, errors.New("lrscheduler: lambda is nil")
	}
	return newSchedule("lambda", opt, func(base float64, n int) float64 {
		return base * fn(n)
	})
}
