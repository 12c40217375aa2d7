// Command voicewire is the main entry point for the voicewire voice bridge
// daemon.
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
	"time"

	"github.com/voicewirehq/voicewire/internal/app"
	"github.com/voicewirehq/voicewire/internal/config"
	"github.com/voicewirehq/voicewire/pkg/device/portaudio"
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicewire.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	providerName := flag.String("provider", "", "override the configured transport provider (gemini-live, loopback)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voicewire", version)
		return 0
	}

	configSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSet = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	usingDefaults := false
	cfg, err := config.Load(*configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !configSet:
		// Nothing at the default location; the built-in defaults stand.
		cfg = config.Default()
		usingDefaults = true
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "voicewire: config file %q not found; copy configs/voicewire.example.yaml to get started\n", *configPath)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		return 1
	}

	// ── Flag overrides ─────────────────────────────────────────────────────────
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}
	if *providerName != "" {
		cfg.Provider.Name = *providerName
	}

	// ── Logger ─────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicewire starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	if usingDefaults {
		slog.Info("no config file found, using built-in defaults", "path", *configPath)
	}

	// ── Audio backend ──────────────────────────────────────────────────────────
	dev := portaudio.New()
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogLevelVar(levelVar),
		app.WithVersion(version),
	}
	if !usingDefaults {
		opts = append(opts, app.WithConfigFile(*configPath))
	}

	application, err := app.New(ctx, cfg, &app.Providers{Device: dev}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicewire startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name+" / "+cfg.Provider.Model)
	printRow("Voice", cfg.Session.Voice)
	printRow("Capture", fmt.Sprintf("%d Hz, %d samples", cfg.Audio.CaptureRate, cfg.Audio.ChunkSamples))
	printRow("Playback", fmt.Sprintf("%d Hz", cfg.Audio.PlaybackRate))
	printRow("Queue", fmt.Sprintf("%d chunks (%s)", cfg.Outbound.QueueSize, cfg.Outbound.Overflow))
	printRow("Reconnect", reconnectSummary(cfg.Reconnect))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func reconnectSummary(rc config.ReconnectConfig) string {
	if !rc.Enabled {
		return "(disabled)"
	}
	if rc.MaxAttempts == 0 {
		return "on, unlimited"
	}
	return fmt.Sprintf("on, max %d", rc.MaxAttempts)
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar is handed to the
// app so a reloaded log_level takes effect without restarting.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
