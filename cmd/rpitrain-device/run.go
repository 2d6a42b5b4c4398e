package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/cmd/rpitrain-device/interactive"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/agent"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/config"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/hardware"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/observability"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
)

func loadConfig(f flags) (*config.DeviceConfig, error) {
	cfg, err := config.LoadDevice(f.config)
	if err != nil {
		return nil, err
	}
	if f.listen != "" {
		cfg.Listen = f.listen
		cfg.Controller = ""
	}
	if f.protocolLog != "" {
		cfg.ProtocolLog = f.protocolLog
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.simulate {
		cfg.Hardware.Driver = config.DriverSim
	}
	return cfg, nil
}

// openDriver returns the configured driver and, for the sim driver, the
// simulator itself. The rpio driver gains signal lamps when enabled.
func openDriver(cfg config.HardwareConfig) (agent.Driver, *hardware.Sim, error) {
	switch cfg.Driver {
	case config.DriverRPIO:
		d, err := hardware.OpenRPIO(cfg.Servos, cfg.PWM)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Signals.Enabled {
			return hardware.Pi{RPIO: d, MCP: hardware.NewMCP(uint8(cfg.Signals.Bus))}, nil, nil
		}
		return d, nil, nil
	default:
		sim := hardware.NewSim(cfg.Channels)
		return sim, sim, nil
	}
}

// openConnector returns the listener or dialer the session connects with.
func openConnector(cfg *config.DeviceConfig) (transport.Connector, io.Closer, error) {
	if cfg.Controller != "" {
		return transport.NewDialer(cfg.Controller, cfg.Session.ConnectTimeout), nil, nil
	}
	ln, err := transport.Listen(cfg.Listen)
	if err != nil {
		return nil, nil, err
	}
	return ln, ln, nil
}

func run(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	driver, sim, err := openDriver(cfg.Hardware)
	if err != nil {
		return fmt.Errorf("open %s driver: %w", cfg.Hardware.Driver, err)
	}
	if c, ok := driver.(io.Closer); ok {
		defer c.Close()
	}

	var console *interactive.Device
	var logOpts []observability.Option
	if f.interactive {
		console, err = interactive.New(sim)
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
	defer trace.Close()

	connector, closer, err := openConnector(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	a, err := agent.New(driver, connector, cfg.Agent(), logger, trace)
	if err != nil {
		return err
	}
	a.Session().OnStateChange(func(oldState, newState connection.State) {
		switch newState {
		case connection.StateConnected:
			logger.Info("Controller connected", zap.String("via", connector.String()))
		case connection.StateBackoff:
			if oldState == connection.StateConnected {
				logger.Warn("Controller lost", zap.String("via", connector.String()))
			}
		}
	})

	logger.Info("Device started",
		zap.String("driver", cfg.Hardware.Driver),
		zap.String("connector", connector.String()),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("signals", cfg.Hardware.Driver == config.DriverSim || cfg.Hardware.Signals.Enabled),
	)
	a.Start()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if console != nil {
		console.SetAgent(a)
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	a.Stop()
	return nil
}
