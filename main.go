package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pulse/cmd"
	"pulse/internal/config"
	"pulse/internal/engine"
	applog "pulse/internal/log"
	"pulse/internal/pipeline"
	"pulse/internal/record"
	"pulse/internal/sonify"
	"pulse/internal/source"
	"pulse/internal/transport"
	"pulse/internal/transport/udp"
	"pulse/internal/tui"
	"pulse/pkg/build"
)

const logFile = "pulse.log"

// main is the entry point for the pulse monitor.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase:
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Execute one-off commands if requested
//   - Open the source and the outputs
//
// 2. Run Phase:
//   - Tick the engine at the render rate
//   - Show the monitor, or block until a signal in headless mode
//
// 3. Shutdown Phase:
//   - Stop the engine and publishers
//   - Finish the recording and release devices
func main() {
	if err := run(); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run() error {
	// ==================== STARTUP PHASE ====================

	// Development builds carry no ldflags and keep the defaults.
	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	if opts.Command == cmd.CommandVersion {
		fmt.Println(build.GetBuildFlags())
		return nil
	}

	cfg := opts.Config
	setLogLevel(cfg)

	if opts.Command == cmd.CommandList {
		return listDevices(opts.Interactive)
	}

	// The monitor owns the terminal, so logs go to a file while it runs.
	if opts.TUIMode {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		applog.SetOutput(f)
		defer applog.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, closers, err := startEngine(opts)
	if err != nil {
		return err
	}

	// ==================== RUN PHASE ====================

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	if opts.TUIMode {
		if err := tui.RunMonitor(eng); err != nil {
			applog.Errorf("Monitor: %v", err)
		}
		stop()
	} else {
		applog.Infof("Running headless, session %s. Press Ctrl+C to stop.", eng.Session())
	}
	err = <-runErr

	// ==================== SHUTDOWN PHASE ====================

	var errs []error
	if err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	// Publishers read from the engine, stop them first.
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	errs = append(errs, eng.Close())
	if cfg.Sonify.Enabled {
		errs = append(errs, sonify.Terminate())
	}
	if opts.OutputFile != "" {
		fmt.Printf("\nRecording saved to: %s\n", opts.OutputFile)
	}
	return errors.Join(errs...)
}

func setLogLevel(cfg *config.Config) {
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	} else {
		applog.Warnf("Config: unknown log level '%s'", cfg.LogLevel)
	}
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}
}

// listDevices handles the one-off list command, which needs PortAudio but
// not the engine.
func listDevices(interactive bool) error {
	if err := sonify.Initialize(); err != nil {
		return err
	}
	defer sonify.Terminate()

	if interactive {
		id, err := tui.ChooseOutputDevice()
		if err != nil {
			return err
		}
		fmt.Printf("Selected output device: %d\n", id)
		return nil
	}
	devices, err := sonify.GetDevices()
	if err != nil {
		return err
	}
	sonify.ListDevices(os.Stdout, devices)
	return nil
}

// startEngine opens the source, the outputs and the engine. The returned
// closers stop the publishers that hold a reference to the engine.
func startEngine(opts *cmd.Options) (*engine.Engine, []func() error, error) {
	cfg := opts.Config

	srcOpts, err := cfg.SourceOptions()
	if err != nil {
		return nil, nil, err
	}
	pipe, err := pipeline.New(cfg.PipelineConfig())
	if err != nil {
		return nil, nil, err
	}

	var (
		engineOpts []engine.Option
		multi      transport.Multi
		ws         *transport.WebSocketTransport
		nt         *transport.NATSTransport
		closers    []func() error
	)
	// fail releases what was opened so far.
	fail := func(err error) (*engine.Engine, []func() error, error) {
		multi.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, nil, err
	}

	if cfg.Transport.LogEvery > 0 {
		multi = append(multi, transport.NewLoggingTransport(cfg.Transport.LogEvery))
	}
	if cfg.Transport.WebSocketEnabled {
		ws = transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress, cfg.Transport.WebSocketPath,
			cfg.Transport.WebSocketInterval)
		if err := ws.Start(); err != nil {
			return fail(err)
		}
		multi = append(multi, ws)
	}
	if cfg.Transport.NATSEnabled {
		nc, err := source.ConnectNATS(cfg.Transport.NATSURL, "pulse")
		if err != nil {
			return fail(err)
		}
		if nt, err = transport.NewNATSTransport(nc, cfg.Transport.NATSSubject); err != nil {
			nc.Close()
			return fail(err)
		}
		multi = append(multi, nt)
	}
	if len(multi) > 0 {
		engineOpts = append(engineOpts, engine.WithTransport(multi))
	}

	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return fail(fmt.Errorf("failed to create recording directory: %w", err))
		}
		rec, err := record.New(int(cfg.Pipeline.SampleRate), cfg.Recording.Scale)
		if err != nil {
			return fail(err)
		}
		if err := rec.Start(opts.OutputFile); err != nil {
			return fail(err)
		}
		closers = append(closers, rec.Close)
		engineOpts = append(engineOpts, engine.WithRecorder(rec))
	}

	if cfg.Sonify.Enabled {
		if err := sonify.Initialize(); err != nil {
			return fail(err)
		}
		closers = append(closers, sonify.Terminate)
		tone, err := sonify.NewTone(cfg.Sonify.OutputDevice, cfg.Sonify.SampleRate, cfg.Sonify.FramesPerBuffer)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, tone.Close)
		if err := tone.Start(); err != nil {
			return fail(err)
		}
		tone.SetEnabled(true)
		engineOpts = append(engineOpts, engine.WithTone(tone))
	}

	src, err := source.Open(srcOpts)
	if err != nil {
		return fail(err)
	}
	eng, err := engine.New(cfg.EngineConfig(), pipe, src, engineOpts...)
	if err != nil {
		src.Close()
		return fail(err)
	}
	// The engine owns the transports, the recorder and the tone from here on.
	closers = nil

	if ws != nil {
		ws.OnCommand(eng.Apply)
	}
	if nt != nil {
		if err := nt.OnCommand(eng.Apply); err != nil {
			applog.Warnf("NATS: commands disabled: %v", err)
		}
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			eng.Close()
			return nil, nil, err
		}
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, eng)
		if err != nil {
			sender.Close()
			eng.Close()
			return nil, nil, err
		}
		pub.Start()
		closers = append(closers, sender.Close, pub.Close)
	}

	applog.Infof("Engine: session %s, source %s, %.0f Hz render rate",
		eng.Session(), srcOpts.Kind, cfg.Source.RenderRate)
	return eng, closers, nil
}
