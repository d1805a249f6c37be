package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"sensorgames/internal/audio"
	"sensorgames/internal/game"
	"sensorgames/internal/sensor"
)

func printVersion() {
	fmt.Printf("sensorgames v%s\n", version)
	fmt.Println("Timed motion and audio mini-games driven by live sensor streams")
}

func printUsage(fs *flag.FlagSet) {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sensorgames [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fs.PrintDefaults()
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  SENSORGAMES_LOG_LEVEL, SENSORGAMES_HTTP_LISTEN, SENSORGAMES_IPC_SOCKET,")
	fmt.Println("  SENSORGAMES_MOTION_DEVICE, SENSORGAMES_AUDIO_FILE")
	fmt.Println("  Precedence: defaults < config file < environment < flags")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - evdev motion input requires read access to the device (add user to 'input' group)")
	fmt.Println("  - audio capture uses arecord unless audio.file or -audio-file is set")
	fmt.Println()
}

// loadConfig resolves defaults, the optional config file, the environment,
// and flags, in that order. Only flags set on the command line override.
func loadConfig(args []string, environ []string) (Config, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	def := DefaultConfig()
	var (
		configPath      = fs.String("config", "", "Path to YAML config file")
		motionSource    = fs.String("motion-source", def.Motion.Source, "Motion input: evdev|udp")
		motionDevice    = fs.String("motion-device", def.Motion.Device, "Linux input event device of the accelerometer")
		motionUDPListen = fs.String("motion-udp-listen", def.Motion.UDPListen, "UDP address for networked sensors")
		motionThreshold = fs.Float64("motion-threshold", def.Motion.Threshold, "Shake threshold (summed per-axis delta, m/s²)")
		audioFile       = fs.String("audio-file", "", "Play this WAV file instead of capturing the microphone")
		ipcSocketPath   = fs.String("ipc-socket", def.IPC.SocketPath, "Unix domain socket path for IPC")
		httpListen      = fs.String("http-listen", def.HTTP.Listen, "HTTP listen address for /ws and /api")
		logLevelStr     = fs.String("log-level", def.Logging.Level, "Log level: error, warn, info, debug")
		showVersion     = fs.Bool("version", false, "Print version and exit")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}
	if *showVersion {
		printVersion()
		return Config{}, true, nil
	}

	var overrides FlagOverrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "motion-source":
			overrides.MotionSource = motionSource
		case "motion-device":
			overrides.MotionDevice = motionDevice
		case "motion-udp-listen":
			overrides.MotionUDPListen = motionUDPListen
		case "motion-threshold":
			overrides.MotionThreshold = motionThreshold
		case "audio-file":
			overrides.AudioFile = audioFile
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "http-listen":
			overrides.HTTPListen = httpListen
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(*configPath); err != nil {
			return Config{}, false, err
		}
	}

	envOverrides, err := ParseEnvOverrides(environ)
	if err != nil {
		return Config{}, false, err
	}
	envOverrides.Apply(&cfg)
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, false, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, false, nil
}

func newMotionSource(cfg Config, logger *slog.Logger) game.Source[game.MotionSample] {
	if cfg.Motion.Source == motionSourceUDP {
		return sensor.NewUDPSource(cfg.Motion.UDPListen, logger)
	}
	return sensor.NewEvdevSource(sensor.EvdevConfig{
		Path:  ExpandPath(cfg.Motion.Device),
		Scale: cfg.Motion.Scale,
	}, logger)
}

func main() {
	cfg, exit, err := loadConfig(os.Args[1:], os.Environ())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if exit {
		return
	}

	logger, err := newLogger(os.Stdout, cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("sensorgames exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	audioSrc, err := audio.NewSource(cfg.ToAudioSourceConfig(), logger.With("component", "audio"))
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}
	motionSrc := newMotionSource(cfg, logger.With("component", "motion"))

	broadcasts := make(chan StateBroadcast, broadcastQueueSize)
	sink := newBroadcastSink(broadcasts, logger)

	d := NewDaemon(logger.With("component", "daemon"), eventQueueSize)
	opts := game.Options{Logger: logger}
	d.AddMotion(game.NewMotionGame(cfg.ToMotionConfig(), cfg.Motion.Ranks), motionSrc, sink, opts)
	d.AddAudio(game.NewAudioGame(cfg.Audio.Ranks), audioSrc, sink, opts)

	ws := NewServer(logger.With("component", "ws"), d, ServerConfig{})

	logger.Info("starting sensorgames",
		"version", version,
		"motion_source", cfg.Motion.Source,
		"motion_device", cfg.Motion.Device,
		"audio_file", cfg.Audio.File,
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ws.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, ws.Hub(), broadcasts, metricCoalesceWindow, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, d, logger.With("component", "ipc"))
	})
	g.Go(func() error {
		return runHTTPServer(gctx, cfg.HTTP.Listen, newHTTPHandler(d, ws, logger), nil, logger.With("component", "http"))
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
