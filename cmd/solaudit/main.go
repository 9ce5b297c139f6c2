// # cmd/solaudit/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

var (
	configPath = flag.String("config", "./solaudit.toml", "Path to config file")
	reportDir  = flag.String("out", "", "Report output directory (overrides config)")
	sarif      = flag.Bool("sarif", false, "Also write a SARIF export")
	patchMode  = flag.Bool("patch", false, "Author and validate patches for PROVEN/LIKELY findings")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "1.0.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("solaudit v%s\n", VERSION)
		os.Exit(0)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: solaudit [flags] <checkout-path>")
		os.Exit(1)
	}
	checkout := flag.Arg(0)

	// Load config. A missing default config file falls back to built-in
	// defaults; an explicitly named file must exist.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath == "./solaudit.toml" && os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	config.ApplyEnvOverrides(cfg)
	if *reportDir != "" {
		cfg.Report.Dir = *reportDir
	}
	if *sarif {
		cfg.Report.SARIF = true
	}
	if *patchMode {
		cfg.Patch.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "solaudit", cfg.Observability.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	if cfg.Observability.Enabled {
		obs := startObservability(cfg.Observability.Port)
		defer obs.Stop(context.Background())
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	res, err := app.Run(ctx, checkout)
	if err != nil {
		slog.Error("audit failed", "error", err)
		os.Exit(1)
	}

	written, err := app.WriteReports(res)
	if err != nil {
		slog.Error("failed to write reports", "error", err)
		os.Exit(1)
	}
	for _, path := range written {
		slog.Info("wrote report artifact", "path", path)
	}

	fmt.Print(formatRunSummary(res))
}
