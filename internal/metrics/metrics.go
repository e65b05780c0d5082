// Package metrics provides ready-made UpdateMetrics and LogMetrics hooks
// for autounit users.
//
// Embed a *Tracker in the value passed to autounit.New and the unit will
// feed it every step loss and ask it to report on the configured cadence:
//
//	type model struct {
//	    *metrics.Tracker[Batch, Backend]
//	    net *nn.Linear[Backend]
//	}
//
//	prom, _ := metrics.NewPromSink(prometheus.DefaultRegisterer)
//	m := &model{Tracker: metrics.NewTracker[Batch, Backend](opt.GetLR, prom, metrics.NewZapSink(logger))}
package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-tnt/internal/autounit"
	"github.com/born-ml/born-tnt/internal/state"
)

// Meter keeps a running mean.
type Meter struct {
	sum   float64
	count int
}

// Add records one value.
func (m *Meter) Add(v float64) {
	m.sum += v
	m.count++
}

// Mean returns the mean of recorded values, or 0 when empty.
func (m *Meter) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns how many values were recorded.
func (m *Meter) Count() int {
	return m.count
}

// Reset forgets all values.
func (m *Meter) Reset() {
	*m = Meter{}
}

// Report is what a Tracker hands to its sinks on every LogMetrics call.
type Report struct {
	Phase    state.ActivePhase
	Interval autounit.Interval
	// Step is the step count passed to LogMetrics.
	Step int
	// Epoch is the number of completed epochs of the active phase.
	Epoch int
	// Loss is the mean loss over the Steps steps since the previous report.
	Loss  float64
	Steps int
	// LR is the optimizer learning rate, zero for evaluation reports.
	LR float32
}

// Sink receives reports.
type Sink interface {
	Emit(ctx context.Context, r Report) error
}

// Tracker averages step losses per phase and reports them to sinks.
//
// It is safe for concurrent use, although units call it from a single
// goroutine.
type Tracker[D any, B autounit.Backend] struct {
	mu     sync.Mutex
	meters map[state.ActivePhase]*Meter
	lr     func() float32
	sinks  []Sink
}

// NewTracker creates a Tracker. lr may be nil.
func NewTracker[D any, B autounit.Backend](lr func() float32, sinks ...Sink) *Tracker[D, B] {
	return &Tracker[D, B]{
		meters: make(map[state.ActivePhase]*Meter),
		lr:     lr,
		sinks:  sinks,
	}
}

// UpdateMetrics records the mean of loss for the active phase.
func (t *Tracker[D, B]) UpdateMetrics(_ context.Context, s *state.State, _ D, loss *tensor.Tensor[float32, B], _ any) error {
	data := loss.Data()
	if len(data) == 0 {
		return errors.New("metrics: empty loss tensor")
	}
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.meter(phaseOf(s)).Add(sum / float64(len(data)))
	return nil
}

// LogMetrics emits the running mean to every sink and resets it.
func (t *Tracker[D, B]) LogMetrics(ctx context.Context, s *state.State, step int, interval autounit.Interval) error {
	phase := phaseOf(s)

	t.mu.Lock()
	m := t.meter(phase)
	r := Report{
		Phase:    phase,
		Interval: interval,
		Step:     step,
		Loss:     m.Mean(),
		Steps:    m.Count(),
	}
	m.Reset()
	t.mu.Unlock()

	if ps := phaseState(s, phase); ps != nil {
		r.Epoch = ps.Progress.NumEpochsCompleted
	}
	if t.lr != nil && phase == state.PhaseTrain {
		r.LR = t.lr()
	}

	var errs []error
	for _, sink := range t.sinks {
		if err := sink.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mean returns the running mean of the given phase without resetting it.
func (t *Tracker[D, B]) Mean(phase state.ActivePhase) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meter(phase).Mean()
}

func (t *Tracker[D, B]) meter(phase state.ActivePhase) *Meter {
	m, ok := t.meters[phase]
	if !ok {
		m = &Meter{}
		t.meters[phase] = m
	}
	return m
}

func phaseOf(s *state.State) state.ActivePhase {
	if s == nil || s.ActivePhase == "" {
		return state.PhaseTrain
	}
	return s.ActivePhase
}

func phaseState(s *state.State, phase state.ActivePhase) *state.PhaseState {
	if s == nil {
		return nil
	}
	if phase == state.PhaseEvaluate {
		return s.EvalState
	}
	return s.TrainState
}
