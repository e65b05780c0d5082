package config

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/lrscheduler"
)

// TunableOptimizer is a born optimizer whose learning rate can be scheduled.
type TunableOptimizer interface {
	optim.Optimizer
	lrscheduler.Tunable
}

// BuildOptimizer creates the configured born optimizer over params.
func BuildOptimizer[B tensor.Backend](c Optimizer, params []*nn.Parameter[B], backend B) (TunableOptimizer, error) {
	switch c.Name {
	case "sgd":
		return optim.NewSGD(params, optim.SGDConfig{LR: c.LR, Momentum: c.Momentum}, backend), nil
	case "adam":
		return optim.NewAdam(params, optim.AdamConfig{LR: c.LR, Betas: c.Betas, Eps: c.Eps}, backend), nil
	default:
		return nil, fmt.Errorf("config: unknown optimizer %q", c.Name)
	}
}

// BuildScheduler creates the configured schedule for opt. It returns a nil
// Scheduler for "none".
func BuildScheduler(c Scheduler, opt lrscheduler.Tunable) (lrscheduler.Scheduler, error) {
	var (
		s   *lrscheduler.Schedule
		err error
	)
	switch c.Name {
	case "", "none":
		return nil, nil
	case "step":
		s, err = lrscheduler.NewStepLR(opt, c.StepSize, c.Gamma)
	case "exponential":
		s, err = lrscheduler.NewExponentialLR(opt, c.Gamma)
	case "cosine":
		s, err = lrscheduler.NewCosineAnnealingLR(opt, c.TMax, c.EtaMin)
	case "warmup":
		s, err = lrscheduler.NewLinearWarmupLR(opt, c.WarmupSteps)
	default:
		return nil, fmt.Errorf("config: unknown scheduler %q", c.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("config: scheduler %s: %w", c.Name, err)
	}
	return s, nil
}
