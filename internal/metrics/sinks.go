package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PromSink exports reports as Prometheus metrics.
type PromSink struct {
	loss  *prometheus.GaugeVec
	steps *prometheus.CounterVec
	epoch *prometheus.GaugeVec
	lr    prometheus.Gauge
}

// NewPromSink creates the collectors and registers them with reg.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	p := &PromSink{
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "born_tnt",
			Name:      "loss",
			Help:      "Mean loss since the previous report.",
		}, []string{"phase", "interval"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "born_tnt",
			Name:      "steps_total",
			Help:      "Steps completed.",
		}, []string{"phase"}),
		epoch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "born_tnt",
			Name:      "epochs_completed",
			Help:      "Epochs completed.",
		}, []string{"phase"}),
		lr: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "born_tnt",
			Name:      "learning_rate",
			Help:      "Current optimizer learning rate.",
		}),
	}
	for _, c := range []prometheus.Collector{p.loss, p.steps, p.epoch, p.lr} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return p, nil
}

// Emit updates the collectors from r.
func (p *PromSink) Emit(_ context.Context, r Report) error {
	phase := string(r.Phase)
	if r.Steps > 0 {
		p.loss.WithLabelValues(phase, string(r.Interval)).Set(r.Loss)
		p.steps.WithLabelValues(phase).Add(float64(r.Steps))
	}
	p.epoch.WithLabelValues(phase).Set(float64(r.Epoch))
	if r.LR > 0 {
		p.lr.Set(float64(r.LR))
	}
	return nil
}

// ZapSink writes reports as structured log entries.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink writing to logger at info level.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Emit logs r.
func (z *ZapSink) Emit(_ context.Context, r Report) error {
	fields := []zap.Field{
		zap.String("phase", string(r.Phase)),
		zap.String("interval", string(r.Interval)),
		zap.Int("step", r.Step),
		zap.Int("epoch", r.Epoch),
		zap.Float64("loss", r.Loss),
		zap.Int("steps", r.Steps),
	}
	if r.LR > 0 {
		fields = append(fields, zap.Float32("lr", r.LR))
	}
	z.logger.Info("metrics", fields...)
	return nil
}
