package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/go-scripts/rayback/internal/config"
	"github.com/go-scripts/rayback/internal/fetch"
	"github.com/go-scripts/rayback/pkg/mirror"
)

const defaultConfigFile = "rayback.yaml"

// CLIFlags holds the command line. Zero values leave the configuration
// file or the built-in default in place.
type CLIFlags struct {
	URL    string `arg:"" help:"URL prefix of the site to mirror, e.g. https://example.com/"`
	OutDir string `help:"Directory to write the mirror into" short:"o" required:""`

	ConfigFile          string  `help:"Path to configuration file" name:"config" default:"rayback.yaml"`
	Pages               int     `help:"Number of index pages to query" short:"p"`
	PageConcurrency     int     `help:"Number of index pages queried at once"`
	DownloadConcurrency int     `help:"Number of concurrent downloads" short:"c"`
	Rate                float64 `help:"Maximum requests per second, 0 for unlimited"`
	Retries             int     `help:"Retry attempts for failed requests" default:"-1"`
	UserAgent           string  `help:"User-Agent header sent with every request"`
	Quiet               bool    `help:"Only log warnings and errors, no progress display" short:"q"`
	Debug               bool    `help:"Enable debug logging"`
}

// loadConfig reads the configuration file and applies the flags over it.
// The default file may be absent; an explicitly named one may not.
func (f *CLIFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(f.ConfigFile, f.ConfigFile == defaultConfigFile)
	if err != nil {
		return cfg, err
	}

	if f.Pages != 0 {
		cfg.Pages = f.Pages
	}
	if f.PageConcurrency != 0 {
		cfg.PageConcurrency = f.PageConcurrency
	}
	if f.DownloadConcurrency != 0 {
		cfg.DownloadConcurrency = f.DownloadConcurrency
	}
	if f.Rate != 0 {
		cfg.HTTP.RequestsPerSecond = f.Rate
	}
	if f.Retries >= 0 {
		cfg.HTTP.Retry.Attempts = f.Retries
	}
	if f.UserAgent != "" {
		cfg.HTTP.UserAgent = f.UserAgent
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (f *CLIFlags) mirrorOptions(cfg config.Config, progress io.Writer) mirror.Options {
	if f.Quiet {
		progress = nil
	}
	return mirror.Options{
		SiteURL:             f.URL,
		OutDir:              f.OutDir,
		Pages:               cfg.Pages,
		PageConcurrency:     cfg.PageConcurrency,
		DownloadConcurrency: cfg.DownloadConcurrency,
		CDXEndpoint:         cfg.CDXEndpoint,
		ArchiveURL:          cfg.ArchiveURL,
		HTTP: fetch.Options{
			Timeout:           cfg.HTTP.Timeout,
			UserAgent:         cfg.HTTP.UserAgent,
			RetryAttempts:     cfg.HTTP.Retry.Attempts,
			RetryBackoff:      cfg.HTTP.Retry.Backoff,
			RetryMaxBackoff:   cfg.HTTP.Retry.MaxBackoff,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		},
		Progress: progress,
	}
}

func setupLogging(flags CLIFlags) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)
	switch {
	case flags.Debug:
		log.SetLevel(log.DebugLevel)
	case flags.Quiet:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func run(ctx context.Context, flags CLIFlags) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}

	m, err := mirror.New(flags.mirrorOptions(cfg, os.Stderr))
	if err != nil {
		return err
	}

	log.Info("Mirroring site", "url", flags.URL, "output", flags.OutDir)
	return m.Run(ctx)
}

func main() {
	var flags CLIFlags

	kong.Parse(&flags,
		kong.Name("rayback"),
		kong.Description("Download the latest archived copy of every file of a website from the Wayback Machine."),
		kong.UsageOnError(),
	)

	setupLogging(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Interrupted, run again to resume")
		}
		log.Error("Mirror failed", "error", err)
		stop()
		os.Exit(1)
	}
}
