// # cmd/solaudit/app.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/report"
)

type App struct {
	Config *config.Config
	Engine *pipeline.Engine

	cache *llm.Cache
}

// NewApp wires the engine from config and environment credentials. Without
// provider credentials the run still works on deterministic evidence alone;
// confirmation and patching are disabled with a warning.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	creds := config.LoadCredentials()
	var client *llm.Client
	if creds.HasAny() {
		if cfg.Cache.Enabled {
			cache, err := llm.OpenCache(ctx, cfg.Cache.Dir)
			if err != nil {
				slog.Warn("llm cache unavailable, continuing without it", "dir", cfg.Cache.Dir, "error", err)
			} else {
				app.cache = cache
			}
		}
		var err error
		client, err = llm.New(cfg.LLM, creds, app.cache)
		if err != nil {
			return nil, err
		}
		slog.Info("reasoning service configured", "provider", client.ProviderName(), "model", cfg.LLM.Model)
	} else {
		slog.Warn("no provider credentials in environment, confirmation and patching disabled")
	}

	app.Engine = pipeline.New(cfg, pipeline.Options{
		Client:   client,
		Progress: logProgress,
	})
	return app, nil
}

func (a *App) Run(ctx context.Context, checkout string) (*pipeline.Result, error) {
	return a.Engine.Run(ctx, checkout)
}

func (a *App) WriteReports(res *pipeline.Result) ([]string, error) {
	return report.WriteFiles(res, a.Config.Report, VERSION)
}

func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Debug("closing llm cache", "error", err)
		}
	}
}

func logProgress(stage string, percent int, message string) {
	slog.Info("progress", "stage", stage, "percent", percent, "detail", message)
}

func formatRunSummary(res *pipeline.Result) string {
	var b strings.Builder

	b.WriteString("Audit Summary\n")
	b.WriteString("=============\n")
	b.WriteString(fmt.Sprintf("Program: %s (%s)\n", res.Program.Name, res.Program.Framework))
	b.WriteString(fmt.Sprintf("Files: %d  Instructions: %d  Sinks: %d\n",
		res.Program.Files, res.Program.Instructions, res.Program.Sinks))
	b.WriteString(fmt.Sprintf("Candidates: %d\n", len(res.Candidates)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Findings (%d)\n", len(res.Findings)))
	for _, status := range []confirm.FindingStatus{
		confirm.StatusProven, confirm.StatusLikely, confirm.StatusNeedsHuman, confirm.StatusRejected,
	} {
		if n := res.Metrics.StatusCounts[status]; n > 0 {
			b.WriteString(fmt.Sprintf("- %s: %d\n", status, n))
		}
	}
	b.WriteString("\n")

	if len(res.PatchResults) > 0 {
		b.WriteString("Patches\n")
		statuses := make([]string, 0, len(res.Metrics.PatchCounts))
		for status := range res.Metrics.PatchCounts {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			b.WriteString(fmt.Sprintf("- %s: %d\n", status, res.Metrics.PatchCounts[patch.Status(status)]))
		}
		b.WriteString("\n")
	}

	if len(res.Warnings) > 0 {
		b.WriteString(fmt.Sprintf("Warnings: %d (see report for details)\n", len(res.Warnings)))
	}
	b.WriteString(fmt.Sprintf("Completed in %.1fs (run %s)\n", res.Metrics.TotalSeconds, res.RunID))
	return b.String()
}
