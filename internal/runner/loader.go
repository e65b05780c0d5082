package runner

import (
	"context"
	"iter"
)

// DataLoader yields the batches of one epoch. Batches is called once per
// epoch and must start from the beginning every time.
//
// A non-nil error ends the epoch and the run.
type DataLoader[D any] interface {
	Batches(ctx context.Context) iter.Seq2[D, error]
}

// SliceLoader serves batches from memory, in order.
type SliceLoader[D any] []D

// Batches yields every element of the slice, stopping early if ctx is done.
func (l SliceLoader[D]) Batches(ctx context.Context) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		for _, b := range l {
			if err := ctx.Err(); err != nil {
				var zero D
				yield(zero, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// LoaderFunc adapts a function to DataLoader.
type LoaderFunc[D any] func(ctx context.Context) iter.Seq2[D, error]

// Batches calls f.
func (f LoaderFunc[D]) Batches(ctx context.Context) iter.Seq2[D, error] {
	return f(ctx)
}
