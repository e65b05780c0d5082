package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/metrics"
	"github.com/born-ml/born-tnt/internal/state"
)

// Backend is the autodiff-enabled CPU backend used by the CLI.
type Backend = *autodiff.Backend[*cpu.Backend]

// numFeatures is the input width of the synthetic regression task.
const numFeatures = 3

// trueWeights and trueBias generate the synthetic targets.
var (
	trueWeights = [numFeatures]float32{3, -2, 0.5}
	trueBias    = float32(1)
)

// Batch is one mini-batch of inputs [batch, numFeatures] and targets [batch, 1].
type Batch struct {
	X *tensor.Tensor[float32, Backend]
	Y *tensor.Tensor[float32, Backend]
}

// Regression is a single linear layer trained with squared error.
//
// The embedded Tracker provides UpdateMetrics and LogMetrics.
type Regression struct {
	*metrics.Tracker[Batch, Backend]

	net *nn.Linear[Backend]
}

// NewRegression creates the model. The tracker is attached once the
// optimizer exists, see main.
func NewRegression(backend Backend) *Regression {
	return &Regression{net: nn.NewLinear(numFeatures, 1, backend)}
}

// Parameters returns the trainable parameters.
func (r *Regression) Parameters() []*nn.Parameter[Backend] {
	return r.net.Parameters()
}

// ComputeLoss returns the per-sample squared error and the predictions.
func (r *Regression) ComputeLoss(_ context.Context, _ *state.State, b Batch) (*tensor.Tensor[float32, Backend], any, error) {
	pred := r.net.Forward(b.X)
	diff := pred.Sub(b.Y)
	return diff.Mul(diff), pred, nil
}

// makeBatches generates n noisy samples of y = w·x + b split into batches.
func makeBatches(rng *rand.Rand, n, batchSize int, backend Backend) ([]Batch, error) {
	if n <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("samples and batch size must be > 0, got %d and %d", n, batchSize)
	}

	batches := make([]Batch, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		size := min(batchSize, n-start)
		xs := make([]float32, size*numFeatures)
		ys := make([]float32, size)
		for i := range size {
			y := trueBias
			for j := range numFeatures {
				x := float32(rng.NormFloat64())
				xs[i*numFeatures+j] = x
				y += trueWeights[j] * x
			}
			ys[i] = y + float32(rng.NormFloat64())*0.05
		}

		x, err := tensor.FromSlice(xs, tensor.Shape{size, numFeatures}, backend)
		if err != nil {
			return nil, err
		}
		y, err := tensor.FromSlice(ys, tensor.Shape{size, 1}, backend)
		if err != nil {
			return nil, err
		}
		batches = append(batches, Batch{X: x, Y: y})
	}
	return batches, nil
}
