package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/classifier"
	"github.com/thyrook/boardsight/internal/config"
	"github.com/thyrook/boardsight/internal/decision"
	"github.com/thyrook/boardsight/internal/engine"
	"github.com/thyrook/boardsight/internal/iface"
	"github.com/thyrook/boardsight/internal/overlay"
	"github.com/thyrook/boardsight/internal/position"
	"github.com/thyrook/boardsight/internal/remote"
	"github.com/thyrook/boardsight/internal/storage"
	"github.com/thyrook/boardsight/internal/vision"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file (JSON or YAML)")
	imagePath := flag.String("image", "", "Analyze an image file instead of the screen")
	videoPath := flag.String("video", "", "Analyze frames of a recorded video instead of the screen")
	videoStep := flag.Int("step", 30, "Frames to advance per cycle in video mode")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	strength := flag.String("strength", "", "Strength: preset name, 1-6 or an elo")
	mode := flag.String("mode", "", "Initial orientation mode: auto, white or black")
	listen := flag.String("listen", "", "Websocket listen address, overrides the config")
	interval := flag.Duration("interval", -1, "Repeat cycles at this interval, overrides the config")
	quiet := flag.Bool("quiet", false, "Print one line per cycle")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	cfg.ApplyEnv()
	if *listen != "" {
		cfg.Remote.Listen = *listen
	}
	if *interval >= 0 {
		cfg.Loop.IntervalMs = int(interval.Milliseconds())
	}
	if *quiet {
		cfg.Interface.Quiet = true
	}
	if *verbose {
		cfg.Interface.LogLevel = "debug"
	}
	if *mode != "" {
		cfg.Orientation.Mode = *mode
	}
	if *strength != "" {
		cfg.Engine.Preset = *strength
		cfg.Engine.Elo = 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := iface.NewLogger(cfg.Interface.LogPath, cfg.Interface.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, source{image: *imagePath, video: *videoPath, step: *videoStep}, *once, logger)
	stop()
	closeLog()
	os.Exit(code)
}

type source struct {
	image string
	video string
	step  int
}

func run(ctx context.Context, cfg *config.Config, src source, once bool, logger *zap.Logger) int {
	console := iface.NewConsole(os.Stdout, cfg.Interface.Quiet)
	console.PrintBanner(cfg.Version)

	vcfg := cfg.Vision()

	capture, closeSource, err := openSource(vcfg, src)
	if err != nil {
		console.PrintStatus(err.Error(), "error")
		return 1
	}
	defer closeSource()

	patches, closeClassifier, err := classifier.New(cfg.ClassifierOptions(), logger.Named("classifier"))
	if err != nil {
		console.PrintStatus(fmt.Sprintf("Failed to load classifier: %v", err), "error")
		return 1
	}
	defer closeClassifier()

	var cache engine.Cache
	if cfg.Cache.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rdb, err := storage.Dial(dialCtx, cfg.Cache.RedisAddr)
		cancel()
		if err != nil {
			logger.Warn("Analysis cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer rdb.Close()
			cache = storage.NewAnalysisCache(rdb, cfg.CacheTTL())
		}
	}

	analyzer := engine.NewClient(
		engine.ProcessFactory(cfg.Engine.Path, cfg.Engine.Args, logger.Named("uci")),
		cfg.EngineClient(), cache, logger.Named("engine"))
	defer analyzer.Close()

	st, err := cfg.Strength()
	if err != nil {
		console.PrintStatus(err.Error(), "error")
		return 2
	}
	initialMode, _ := board.ParseOverrideMode(cfg.Orientation.Mode)

	comps := decision.Components{
		Source:    capture,
		Locator:   vision.NewLocalizer(vcfg, logger.Named("localizer")),
		Sampler:   vision.NewSampler(vcfg, patches, logger.Named("sampler")),
		Encoder:   &position.Encoder{SwapColorsOnFlip: cfg.Position.SwapColorsOnFlip},
		Analyzer:  analyzer,
		Reporters: []decision.Reporter{console},
	}
	if cfg.Interface.AnnotateDir != "" {
		comps.Annotator = overlay.NewAnnotator(cfg.Interface.AnnotateDir, logger.Named("overlay"))
	}

	opts := decision.DefaultOptions()
	opts.MinMargin = cfg.Orientation.MinMargin
	opts.CaptureRetries = cfg.Loop.CaptureRetries
	opts.HistorySize = cfg.Loop.HistorySize
	opts.Interval = cfg.Interval()

	commands := make(chan decision.Command, 8)

	var server *remote.Server
	if cfg.Remote.Listen != "" && !once {
		server = remote.NewServer(commands, nil, logger.Named("remote"))
		comps.Reporters = append(comps.Reporters, server)
	}

	ctl := decision.NewController(comps, decision.SessionState{Mode: initialMode, Strength: st}, opts, logger)
	defer func() { console.PrintStatistics(ctl.GetStatistics()) }()

	if once {
		rep := ctl.RunCycle(ctx)
		if !rep.OK() {
			return 1
		}
		return 0
	}

	if server != nil {
		server.SetHistory(ctl.History())
		go func() {
			if err := server.ListenAndServe(ctx, cfg.Remote.Listen); err != nil {
				logger.Error("Websocket server stopped", zap.Error(err))
			}
		}()
		console.PrintStatus("Accepting commands on ws://"+cfg.Remote.Listen+"/ws", "info")
	}

	go func() {
		err := iface.ReadCommands(ctx, os.Stdin, commands, func(err error) {
			console.PrintStatus(err.Error(), "warning")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Console input stopped", zap.Error(err))
		}
		// Without a terminal a timed loop keeps running until interrupted.
		if err == nil && opts.Interval <= 0 {
			select {
			case commands <- decision.Command{Action: decision.ActionQuit}:
			case <-ctx.Done():
			}
		}
	}()

	console.PrintStatus(fmt.Sprintf("Ready. Strength %s, orientation %s. Press Enter to analyze.", st, initialMode), "success")

	if err := ctl.Run(ctx, commands); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Analysis loop stopped", zap.Error(err))
		return 1
	}
	return 0
}

func openSource(vcfg *vision.Config, src source) (decision.Source, func() error, error) {
	switch {
	case src.image != "":
		return vision.NewFileSource(src.image), func() error { return nil }, nil
	case src.video != "":
		vs, err := vision.NewVideoSource(src.video, src.step)
		if err != nil {
			return nil, nil, err
		}
		return vs, vs.Close, nil
	default:
		return vision.NewScreenSource(vcfg.CaptureRegion, vcfg.Display), func() error { return nil }, nil
	}
}
