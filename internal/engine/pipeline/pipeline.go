// # internal/engine/pipeline/pipeline.go
// One audit run end to end: parse, candidate generation, confirmation,
// finding assembly, patching. Dataflow is strictly forward and the patch
// stage is the only one that mutates the checkout; everything before it
// treats the tree as read-only.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/errors"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/progress"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

// Options carries a run's optional collaborators.
type Options struct {
	// Client talks to the reasoning service. nil disables confirmation and
	// patching; the run still completes on deterministic evidence alone.
	Client *llm.Client
	// Progress receives stage-boundary callbacks. nil is fine.
	Progress progress.Func
	// PoCs maps candidate ids to externally executed proof-of-concept
	// results. The engine never runs an exploit itself.
	PoCs map[string]*confirm.PoCResult
}

type Engine struct {
	cfg      *config.Config
	client   *llm.Client
	progress progress.Func
	pocs     map[string]*confirm.PoCResult
}

func New(cfg *config.Config, opts Options) *Engine {
	return &Engine{
		cfg:      cfg,
		client:   opts.Client,
		progress: opts.Progress,
		pocs:     opts.PoCs,
	}
}

// Run audits the program under checkout. Only structural failures abort: an
// unusable grammar, a tree with zero source files, or cancellation. Service
// failures degrade the affected stage and the run keeps going.
func (e *Engine) Run(ctx context.Context, checkout string) (*Result, error) {
	ctx, span := observability.Tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	started := time.Now()
	res := &Result{
		RunID:     uuid.NewString(),
		Checkout:  checkout,
		StartedAt: started.UTC(),
		Metrics:   Metrics{StageSeconds: make(map[string]float64)},
	}

	var prog *parser.ParsedProgram
	err := e.stage(ctx, progress.StageParse, res, func(ctx context.Context) error {
		p, err := parser.New(parser.DiscoverOptions{
			ExcludeDirs:  e.cfg.Scan.ExcludeDirs,
			ExcludeFiles: e.cfg.Scan.ExcludeFiles,
			MaxFileSize:  e.cfg.Scan.MaxFileSize,
		}, e.cfg.Scan.Workers)
		if err != nil {
			return err
		}
		prog, err = p.ParseProgram(ctx, checkout)
		return err
	})
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxOperation, "parse")
	}
	if len(prog.Files) == 0 {
		return nil, errors.AddContext(
			errors.New(errors.CodeNoSources, "no source files under checkout"),
			errors.CtxPath, checkout)
	}
	res.Program = summarize(prog)
	res.Warnings = append(res.Warnings, prog.Diagnostics...)
	res.Metrics.FilesParsed = len(prog.Files)
	res.Metrics.Sinks = len(prog.Sinks)
	e.report(progress.StageParse, fmt.Sprintf("parsed %d files, %d sinks", len(prog.Files), len(prog.Sinks)))

	err = e.stage(ctx, progress.StageCandidates, res, func(context.Context) error {
		res.Candidates = candidates.New().Generate(prog)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Metrics.Candidates = len(res.Candidates)
	e.report(progress.StageCandidates, fmt.Sprintf("%d candidates", len(res.Candidates)))

	var confs map[string]*confirm.Confirmation
	err = e.stage(ctx, progress.StageConfirm, res, func(ctx context.Context) error {
		e.report(progress.StageSelect, fmt.Sprintf("triaging %d candidates", len(res.Candidates)))
		var loop *confirm.Loop
		if e.client != nil {
			loop = confirm.NewLoop(e.client, e.cfg.LLM)
		}
		confs = loop.Run(ctx, prog, res.Candidates)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Metrics.Confirmations = len(confs)
	e.report(progress.StageConfirm, fmt.Sprintf("%d confirmations", len(confs)))

	err = e.stage(ctx, progress.StageAssemble, res, func(context.Context) error {
		res.Findings = confirm.Assemble(res.Candidates, confs, e.pocs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Metrics.StatusCounts = statusCounts(res.Findings)
	e.report(progress.StageAssemble, fmt.Sprintf("%d findings", len(res.Findings)))

	err = e.stage(ctx, progress.StagePatch, res, func(ctx context.Context) error {
		var patcher *patch.Pipeline
		if e.client != nil {
			patcher = patch.NewPipeline(e.client, e.cfg.Patch, e.patchModel())
		}
		res.PatchResults = patcher.Run(ctx, checkout, res.Findings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Metrics.PatchCounts = patchCounts(res.PatchResults)
	for _, pr := range res.PatchResults {
		if pr.Status == patch.StatusNeedsHuman && pr.Validation != nil && pr.Validation.Err != "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("patch %s needs human review: %s", pr.FindingID, util.Truncate(pr.Validation.Err, 200)))
		}
	}
	e.report(progress.StagePatch, fmt.Sprintf("%d patches validated", res.Metrics.PatchCounts[patch.StatusValidated]))

	res.Metrics.TotalSeconds = time.Since(started).Seconds()
	return res, nil
}

// stage wraps one pipeline stage with a cancellation check, a span, and a
// duration metric under the stage's progress name.
func (e *Engine) stage(ctx context.Context, name string, res *Result, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := observability.Tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	seconds := time.Since(start).Seconds()
	res.Metrics.StageSeconds[name] = seconds
	observability.StageDuration.WithLabelValues(name).Observe(seconds)
	return err
}

func (e *Engine) report(stage, message string) {
	progress.Report(e.progress, stage, message)
}

// patchModel prefers the dedicated patch model when configured.
func (e *Engine) patchModel() string {
	if e.cfg.LLM.PatchModel != "" {
		return e.cfg.LLM.PatchModel
	}
	return e.cfg.LLM.Model
}

func summarize(prog *parser.ParsedProgram) ProgramSummary {
	return ProgramSummary{
		Name:           prog.Name,
		ProgramID:      prog.ProgramID,
		Framework:      string(prog.Framework),
		Files:          len(prog.Files),
		Instructions:   len(prog.Instructions),
		Accounts:       len(prog.Accounts),
		Sinks:          len(prog.Sinks),
		CPICalls:       len(prog.CPICalls),
		PDADerivations: len(prog.PDADerivations),
	}
}

func statusCounts(findings []confirm.Finding) map[confirm.FindingStatus]int {
	if len(findings) == 0 {
		return nil
	}
	counts := make(map[confirm.FindingStatus]int)
	for _, f := range findings {
		counts[f.Status]++
	}
	return counts
}

func patchCounts(results []patch.Result) map[patch.Status]int {
	if len(results) == 0 {
		return nil
	}
	counts := make(map[patch.Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
