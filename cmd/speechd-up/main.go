package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/speechd-up/internal/bridge"
	"github.com/loqalabs/speechd-up/internal/bus"
	"github.com/loqalabs/speechd-up/internal/config"
	"github.com/loqalabs/speechd-up/internal/device"
	"github.com/loqalabs/speechd-up/internal/eventstore"
	"github.com/loqalabs/speechd-up/internal/logging"
	"github.com/loqalabs/speechd-up/internal/natsserver"
	"github.com/loqalabs/speechd-up/internal/pidfile"
	"github.com/loqalabs/speechd-up/internal/recode"
	"github.com/loqalabs/speechd-up/internal/runtime"
	"github.com/loqalabs/speechd-up/internal/speakup"
	"github.com/loqalabs/speechd-up/internal/tts"
)

var version = "0.1.0-dev"

type flags struct {
	configPath  string
	showVersion bool
	device      string
	coding      string
	logLevel    string
	logFile     string
	probe       bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	flag.StringVar(&f.device, "device", "", "Softsynth device path")
	flag.StringVar(&f.coding, "coding", "", "Character set of text read from the device")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug|info|warn|error or 1..5)")
	flag.StringVar(&f.logFile, "log-file", "", "Log file path (default stderr)")
	flag.BoolVar(&f.probe, "probe", false, "Log decoded actions without a speech service")
	flag.Parse()

	if f.showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "speechd-up:", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "speechd-up:", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("speechd-up exited with error", slog.String("error", err.Error()))
		_ = closer.Close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
	_ = closer.Close()
}

// loadConfig layers command-line flags over the file and environment.
func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Read(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.device != "" {
		cfg.Device.Path = f.device
	}
	if f.coding != "" {
		cfg.Device.Coding = f.coding
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFile != "" {
		cfg.Log.File = f.logFile
	}
	if f.probe {
		cfg.Device.Probe = true
	}
	return cfg, config.Validate(cfg)
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting speechd-up", slog.String("version", version), slog.String("device", cfg.Device.Path))

	pid, err := pidfile.Acquire(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer pid.Release()

	if err := speakup.InitTables(cfg.Speakup, logger); err != nil {
		logger.Warn("failed to initialize speakup tables", slog.String("error", err.Error()))
	}

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Error("runtime shutdown error", slog.String("error", err.Error()))
		}
	}()

	rec, err := recode.New(cfg.Device.Coding)
	if err != nil {
		return fmt.Errorf("initialize recoder: %w", err)
	}

	dev, err := device.Open(cfg.Device.Path, cfg.Device.ChunkSize, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctrl, err := device.NewControl()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	metrics, err := bridge.NewMetrics()
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	marks := bridge.NewMarkForwarder(dev, cfg.Backend.MarkQueue, metrics, logger)
	defer marks.Close()

	backendName, backend, closeBus, err := openBackend(ctx, cfg, marks.Handler(), logger)
	if err != nil {
		return err
	}
	defer closeBus()
	defer backend.Close()

	journal, err := eventstore.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer journal.Close()

	b, err := bridge.New(ctx, bridge.Options{
		Device:      dev,
		Control:     ctrl,
		Recoder:     rec,
		Backend:     backend,
		BackendName: backendName,
		InlineMarks: cfg.Backend.InlineMarks,
		Journal:     journal,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	stopSignals := forwardSignals(ctrl, logger)
	defer stopSignals()

	rt.SetReady(true)
	return b.Run(ctx)
}

// openBackend connects the configured synthesis backend. Probe mode always
// uses the logging mock. The returned func tears down any bus resources.
func openBackend(ctx context.Context, cfg config.Config, onMark tts.MarkHandler, logger *slog.Logger) (string, tts.Backend, func(), error) {
	mode := cfg.Backend.Mode
	if cfg.Device.Probe {
		mode = "mock"
		logger.Info("probe mode, synthesis calls are only logged")
	}
	opts := tts.Options{
		Mode: mode,
		SSIP: tts.SSIPOptions{
			Address:    cfg.Backend.Address,
			ClientName: cfg.Backend.ClientName,
			Language:   cfg.Speakup.Language,
		},
		Command:       cfg.Backend.Command,
		Timeout:       time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond,
		SubjectPrefix: cfg.Backend.SubjectPrefix,
	}

	cleanup := func() {}
	if mode == "nats" {
		srv, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return "", nil, nil, err
		}
		busCfg := cfg.Bus
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, cfg.RuntimeName, busCfg, logger)
		if err != nil {
			srv.Shutdown()
			return "", nil, nil, err
		}
		opts.Bus = client
		cleanup = func() {
			client.Close()
			srv.Shutdown()
		}
	}

	backend, err := tts.Open(ctx, opts, onMark, logger)
	if err != nil {
		cleanup()
		return "", nil, nil, fmt.Errorf("open %s backend: %w", mode, err)
	}
	return mode, backend, cleanup, nil
}

// forwardSignals turns SIGHUP into a backend reset and SIGINT or SIGTERM into
// a terminate request, both delivered through the control pipe.
func forwardSignals(ctrl *device.Control, logger *slog.Logger) func() {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				cmd := device.CommandTerminate
				if sig == syscall.SIGHUP {
					cmd = device.CommandReset
				}
				logger.Info("signal received", slog.String("signal", sig.String()), slog.String("command", cmd.String()))
				if err := ctrl.Send(cmd); err != nil {
					logger.Error("failed to deliver control command", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
