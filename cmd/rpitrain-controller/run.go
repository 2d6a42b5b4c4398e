package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/cmd/rpitrain-controller/interactive"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/config"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/layout"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/observability"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/registry"
)

func loadConfig(f flags) (*config.ControllerConfig, error) {
	cfg, err := config.LoadController(f.config)
	if err != nil {
		return nil, err
	}
	if f.layout != "" {
		cfg.Layout = f.layout
	}
	if f.protocolLog != "" {
		cfg.ProtocolLog = f.protocolLog
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}

func run(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	lay, err := layout.Load(cfg.Layout)
	if err != nil {
		return err
	}

	var console *interactive.Controller
	var logOpts []observability.Option
	if f.interactive {
		// Created first so log output goes through the prompt.
		console, err = interactive.New()
		if err != nil {
			return err
		}
		logOpts = append(logOpts, observability.WithConsole(console.Stdout()))
	}

	logger, restoreLogger, err := observability.SetupLogger(cfg.Log, logOpts...)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer restoreLogger()
	defer func() { _ = logger.Sync() }()

	trace, err := observability.OpenTrace(cfg.ProtocolLog, logger)
	if err != nil {
		return fmt.Errorf("open protocol log: %w", err)
	}
	defer func() {
		if dropped := trace.Dropped(); dropped > 0 {
			logger.Warn("Protocol log dropped events", zap.Int("count", dropped))
		}
		if err := trace.Close(); err != nil {
			logger.Warn("Protocol log close failed", zap.Error(err))
		}
	}()

	reg, err := registry.New(cfg.Registry(), logger, trace)
	if err != nil {
		return err
	}
	reg.OnStateChange(func(ep address.Endpoint, oldState, newState connection.State) {
		switch newState {
		case connection.StateConnected:
			logger.Info("Peripheral connected", zap.Stringer("endpoint", ep))
		case connection.StateBackoff:
			if oldState == connection.StateConnected {
				logger.Warn("Peripheral lost", zap.Stringer("endpoint", ep))
			}
		}
	})

	onSensor := func(name string, grounded bool) {
		logger.Info("Sensor changed", zap.String("sensor", name), zap.Bool("grounded", grounded))
	}
	if console != nil {
		console.SetRegistry(reg)
		onSensor = console.SensorChanged
	}

	bound, err := lay.Bind(reg, onSensor, logger)
	if err != nil {
		shutdown(reg, cfg, logger)
		return err
	}
	logger.Info("Layout bound",
		zap.String("file", cfg.Layout),
		zap.Int("turnouts", len(lay.Turnouts)),
		zap.Int("sensors", len(lay.Sensors)),
		zap.Int("signals", len(lay.Signals)),
		zap.Int("devices", len(reg.Sessions())),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if console != nil {
		console.Attach(bound)
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdown(reg, cfg, logger)
	return nil
}

func shutdown(reg *registry.Registry, cfg *config.ControllerConfig, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
}
