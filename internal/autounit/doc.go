// Package autounit automates the stochastic gradient descent step for
// born models.
//
// An AutoTrainUnit runs the standard train step on behalf of the user:
//
//  1. move the batch to the unit's device
//  2. forward pass and loss (the user's ComputeLoss)
//  3. backward pass on born's gradient tape
//  4. optimizer step, then zero the gradients
//  5. step the learning rate scheduler (when stepping per step)
//  6. update metrics, and log them every LogFrequencySteps steps
//
// Users provide a value implementing LossComputer. If the same value also
// implements MetricsUpdater or MetricsLogger, those hooks are called too;
// otherwise they are no-ops.
//
//	type regression struct {
//	    model *nn.Linear[*autodiff.Backend[*cpu.Backend]]
//	}
//
//	func (r *regression) ComputeLoss(ctx context.Context, s *state.State, b Batch) (*tensor.Tensor[float32, B], any, error) {
//	    pred := r.model.Forward(b.X)
//	    diff := pred.Sub(b.Y)
//	    return diff.Mul(diff), pred, nil
//	}
//
//	u, err := autounit.New(backend, &regression{model}, autounit.Config{
//	    Optimizer:         optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.01}, backend),
//	    LogFrequencySteps: 100,
//	})
//
// For anything the automated step cannot express (several optimizers,
// gradient accumulation, custom backward), implement unit.TrainUnit directly.
package autounit
