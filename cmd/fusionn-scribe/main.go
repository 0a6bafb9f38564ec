package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fusionn-scribe/internal/bus"
	"github.com/fusionn-scribe/internal/client/apprise"
	"github.com/fusionn-scribe/internal/config"
	"github.com/fusionn-scribe/internal/executor"
	"github.com/fusionn-scribe/internal/fileops"
	"github.com/fusionn-scribe/internal/service/pipeline"
	"github.com/fusionn-scribe/internal/session"
	"github.com/fusionn-scribe/internal/version"
	"github.com/fusionn-scribe/pkg/logger"
)

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	started := session.SystemClock.Now()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	if len(args) != 2 {
		fmt.Fprintln(stderr, "usage: fusionn-scribe <input_audio_file> <output_text_file>")
		return exitFailure
	}
	inputPath, outputPath := args[0], args[1]

	version.PrintBanner(nil)

	if info, err := os.Stat(inputPath); err != nil || info.IsDir() {
		logger.Errorf("❌ Input file not found: %s", inputPath)
		return exitFailure
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath != "" {
		logger.Infof("📁 Loading config: %s", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorf("❌ Config error: %v", err)
		return exitFailure
	}
	// Budget counts from process start.
	guard := session.NewGuardAt(session.SystemClock, started, cfg.SessionBudget())

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := fileops.EnsureDir(dir); err != nil {
			logger.Errorf("❌ Output directory: %v", err)
			return exitFailure
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publishers []pipeline.Publisher
	if cfg.Apprise.Enabled {
		publishers = append(publishers, apprise.NewClient(cfg.Apprise))
		logger.Infof("🔔 Notifications: enabled (key=%s)", cfg.Apprise.Key)
	} else {
		logger.Info("🔔 Notifications: disabled")
	}
	if cfg.Events.NATSURL != "" {
		nc, err := bus.Connect(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			logger.Warnf("⚠️ Events disabled: %v", err)
		} else {
			defer nc.Close()
			publishers = append(publishers, nc)
			logger.Infof("📡 Events: %s (subject %s.*)", cfg.Events.NATSURL, cfg.Events.Subject)
		}
	}

	logger.Infof("📂 Data directory: %s", cfg.Storage.BaseDir)
	logger.Infof("🎤 Whisper: %s (model: %s, language: %s)", cfg.Whisper.Provider, cfg.Whisper.Model, languageLabel(cfg.Whisper.Language))
	logger.Infof("✂️ Segment length: %s", cfg.SegmentDuration())
	logger.Infof("⏰ Session budget: %s", cfg.SessionBudget())
	if cfg.Whisper.RateLimitRPM > 0 {
		logger.Infof("🚦 Rate limit: %d RPM", cfg.Whisper.RateLimitRPM)
	}

	ffmpeg := executor.NewFFmpeg(cfg.FFmpeg)
	svc := pipeline.New(pipeline.Options{
		BaseDir:              cfg.Storage.BaseDir,
		SegmentDuration:      cfg.SegmentDuration(),
		Language:             cfg.Whisper.Language,
		MaxFailures:          cfg.Pipeline.MaxFailures,
		CleanupIntermediates: cfg.Storage.CleanupIntermediates,
	}, ffmpeg, ffmpeg, executor.NewWhisper(cfg.Whisper), publishers...)

	res, err := svc.Run(ctx, guard, inputPath, outputPath)
	if err != nil {
		if errors.Is(err, pipeline.ErrRetryLimit) {
			logger.Errorf("❌ %v", err)
		} else {
			logger.Errorf("❌ Transcription failed: %v", err)
		}
		return exitFailure
	}

	switch res.Outcome {
	case pipeline.OutcomeSuspended:
		logger.Infof("⏸️ Suspended at %s (%d/%d segments)", res.Stage, res.Completed, res.Total)
	case pipeline.OutcomeAlreadyCompleted:
		logger.Infof("✅ Nothing to do, %s is up to date", res.OutputPath)
	default:
		logger.Infof("👋 Done: %s", res.OutputPath)
	}
	return exitOK
}

func languageLabel(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}
