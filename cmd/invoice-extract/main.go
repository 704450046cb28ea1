package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/invoice-extract/internal/console"
	"github.com/zombor/invoice-extract/internal/extraction"
	"github.com/zombor/invoice-extract/internal/upload"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Optional .env next to the binary's working directory
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	fs := ff.NewFlagSet("invoice-extract")
	var (
		serverURL   = fs.StringLong("server", "http://localhost:8000", "Extraction server base URL")
		timeout     = fs.DurationLong("timeout", extraction.DefaultRequestTimeout, "Upload timeout")
		notice      = fs.DurationLong("notice", extraction.DefaultNoticeDuration, "How long the timeout notice stays up")
		normalize   = fs.BoolLong("normalize", "Convert PDF, HEIC, JPEG and GIF files to PNG before upload")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_           = fs.StringLong("config", "", "Config file path (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_EXTRACT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs, "invoice-extract [FLAGS] <file> [<file>...]"))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	client, err := extraction.NewClient(*serverURL)
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}

	ui := console.NewWithResolver(os.Stdout, os.Stderr, client.ResolveImageURL)
	controller := extraction.NewControllerWithTimings(client, ui, *timeout, *notice)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := fs.GetArgs()
	if len(paths) == 0 {
		// Nothing selected; let the controller tell the user
		paths = []string{""}
	}

	slog.Debug("Extracting invoices", "server", *serverURL, "files", len(paths), "timeout", *timeout)

	failed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			slog.Info("Interrupted, skipping remaining files")
			break
		}
		if err := submitFile(ctx, controller, ui, path, *normalize); err != nil {
			failed++
		}
	}

	if failed > 0 {
		slog.Debug("Finished with failures", "failed", failed, "total", len(paths))
		stop()
		os.Exit(1)
	}
}

// submitFile loads, optionally normalizes, and submits a single file
func submitFile(ctx context.Context, controller *extraction.Controller, ui *console.UI, path string, normalize bool) error {
	if path != "" {
		ui.SetFile(filepath.Base(path))
	}

	file, err := upload.Load(path)
	if err != nil {
		slog.Error("Failed to load file", "path", path, "error", err)
		ui.NotifyError(err.Error())
		return err
	}

	if normalize {
		normalized, converted, err := upload.Normalize(file)
		if err != nil {
			slog.Error("Failed to normalize file", "path", path, "error", err)
			ui.NotifyError(err.Error())
			return err
		}
		if converted {
			slog.Debug("Converted file to PNG", "path", path, "size", len(normalized.Data))
		}
		file = normalized
	}

	return controller.Submit(ctx, file)
}
