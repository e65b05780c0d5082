// Package main provides the born-tnt CLI.
//
// It trains a linear regression on synthetic data with an AutoTrainUnit,
// evaluating after every epoch. Use it to try optimizer and scheduler
// settings:
//
//	born-tnt --config run.yaml
//	born-tnt --print-config > run.yaml
//	BORN_TNT_OPTIMIZER_LR=0.05 born-tnt
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"

	"github.com/born-ml/born-tnt/internal/autounit"
	"github.com/born-ml/born-tnt/internal/config"
	"github.com/born-ml/born-tnt/internal/metrics"
	"github.com/born-ml/born-tnt/internal/runner"
)

const version = "v0.1.0-dev"

type options struct {
	configPath  string
	printConfig bool
	samples     int
	seed        uint64
	verbose     bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("born-tnt %s\n", version)
		return
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "born-tnt:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("born-tnt", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML run configuration")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.IntVar(&o.samples, "samples", 1024, "number of synthetic training samples")
	fs.Uint64Var(&o.seed, "seed", 1, "random seed for the synthetic data")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log every step")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.samples <= 0 {
		return o, fmt.Errorf("--samples must be > 0, got %d", o.samples)
	}
	return o, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backend := autodiff.New(cpu.New())
	model := NewRegression(backend)

	opt, err := config.BuildOptimizer(cfg.Optimizer, model.Parameters(), backend)
	if err != nil {
		return err
	}
	sched, err := config.BuildScheduler(cfg.Scheduler, opt)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	prom, err := metrics.NewPromSink(reg)
	if err != nil {
		return err
	}
	model.Tracker = metrics.NewTracker[Batch, Backend](opt.GetLR, prom, metrics.NewZapSink(logger))

	trainUnit, err := autounit.New[Batch](backend, model, autounit.Config{
		Optimizer:         opt,
		LRScheduler:       sched,
		StepLRInterval:    autounit.Interval(cfg.StepLRInterval),
		Device:            cfg.Device,
		LogFrequencySteps: cfg.LogFrequencySteps,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	trainBatches, err := makeBatches(rng, opts.samples, cfg.BatchSize, backend)
	if err != nil {
		return err
	}
	evalBatches, err := makeBatches(rng, max(opts.samples/4, 1), cfg.BatchSize, backend)
	if err != nil {
		return err
	}

	logger.Info("starting fit",
		zap.String("optimizer", cfg.Optimizer.Name),
		zap.Float32("lr", opt.GetLR()),
		zap.String("scheduler", cfg.Scheduler.Name),
		zap.Int("train_batches", len(trainBatches)),
		zap.Int("eval_batches", len(evalBatches)))

	s, err := runner.Fit[Batch](ctx, trainUnit, runner.SliceLoader[Batch](trainBatches), runner.SliceLoader[Batch](evalBatches), runner.FitOptions{
		TrainOptions: runner.TrainOptions{
			MaxEpochs:        cfg.MaxEpochs,
			MaxSteps:         cfg.MaxSteps,
			MaxStepsPerEpoch: cfg.MaxStepsPerEpoch,
			Logger:           logger,
		},
		EvaluateEveryNEpochs: cfg.EvaluateEveryNEpochs,
	})
	if err != nil {
		return err
	}

	w := model.net.Weight().Tensor().Data()
	logger.Info("fit finished",
		zap.Int("epochs", s.TrainState.Progress.NumEpochsCompleted),
		zap.Int("steps", s.TrainState.Progress.NumStepsCompleted),
		zap.Float32s("weights", w),
		zap.Float32s("true_weights", trueWeights[:]))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
