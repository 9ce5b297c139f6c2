// # internal/engine/patch/pipeline.go
// The patch pipeline walks the patchable findings sequentially against one
// working checkout. Validated patches stay applied so later findings are
// patched against the already-fixed tree; failed attempts always leave the
// checkout exactly as they found it.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

// maxPatchFindings bounds how many findings get patch attempts in one run.
const maxPatchFindings = 10

type Pipeline struct {
	client completer
	cfg    config.Patch
	model  string
}

func NewPipeline(client completer, cfg config.Patch, model string) *Pipeline {
	return &Pipeline{client: client, cfg: cfg, model: model}
}

// Run returns one result per finding, in input order. Findings outside the
// patchable subset (not PROVEN or LIKELY, beyond the per-run cap, or after
// cancellation) are skipped, never guessed at.
func (p *Pipeline) Run(ctx context.Context, checkout string, findings []confirm.Finding) []Result {
	enabled := p != nil && p.client != nil && p.cfg.Enabled
	if enabled && !IsGitAvailable() {
		slog.Warn("git not found in PATH, skipping patch pipeline")
		enabled = false
	}

	results := make([]Result, 0, len(findings))
	patched := 0
	for _, f := range findings {
		patchable := enabled &&
			ctx.Err() == nil &&
			patched < maxPatchFindings &&
			(f.Status == confirm.StatusProven || f.Status == confirm.StatusLikely)
		if !patchable {
			results = append(results, Result{FindingID: f.ID, Status: StatusSkipped})
			continue
		}
		patched++
		results = append(results, p.patchOne(ctx, checkout, f))
	}
	return results
}

// patchOne runs the author-validate chain: propose, gate, and on a gate
// failure revert and retry once with the error text fed back. Authoring
// failures consume the attempt too; a chain where no attempt produced a
// usable structured patch terminates as failed.
func (p *Pipeline) patchOne(ctx context.Context, checkout string, f confirm.Finding) Result {
	start := time.Now()
	res := Result{FindingID: f.ID, Status: StatusFailed}
	aut := &author{client: p.client, model: p.model}

	feedback := ""
	var lastOutcome *ValidationOutcome
	for attempt := 0; attempt < 2; attempt++ {
		res.Attempts = attempt + 1

		prop, err := aut.propose(ctx, checkout, f, feedback)
		if err != nil {
			slog.Warn("patch authoring failed", "finding", f.ID, "attempt", attempt+1, "error", err)
			continue
		}
		res.Patches = prop.Patches
		res.TestPatches = prop.TestPatches
		res.Rationale = prop.Rationale
		res.RiskNotes = prop.RiskNotes

		outcome := p.validate(ctx, checkout, prop)
		lastOutcome = outcome
		if outcome.ok() {
			res.Status = StatusValidated
			break
		}
		slog.Warn("patch validation failed", "finding", f.ID, "attempt", attempt+1, "error", outcome.Err)
		feedback = outcome.Err
	}

	res.Validation = lastOutcome
	if res.Status != StatusValidated && lastOutcome != nil {
		res.Status = StatusNeedsHuman
	}
	res.Duration = time.Since(start)
	observability.PatchAttemptsTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}

// validate runs the gate ladder over all of the proposal's diffs, code and
// test patches alike. Any hard failure restores every touched file from the
// pre-apply snapshot and reports empty AppliedFiles.
func (p *Pipeline) validate(ctx context.Context, checkout string, prop *proposal) *ValidationOutcome {
	start := time.Now()
	defer func() {
		observability.PatchValidationDuration.Observe(time.Since(start).Seconds())
	}()

	outcome := &ValidationOutcome{}
	ap := &applier{checkout: checkout}
	all := append(append([]Diff{}, prop.Patches...), prop.TestPatches...)

	scratchDir, scratchPaths, err := writeScratch(all)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	defer os.RemoveAll(scratchDir)

	// Dry-run every diff before anything mutates.
	relaxed := make([]bool, len(all))
	for i, scratch := range scratchPaths {
		r, err := ap.checkApply(scratch)
		if err != nil {
			outcome.Err = fmt.Sprintf("apply check failed for %s: %v", all[i].File, err)
			return outcome
		}
		relaxed[i] = r
	}

	snap, err := ap.snapshot(all)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	rollback := func(stage string) {
		if rerr := ap.restore(snap); rerr != nil {
			slog.Error("rollback left the checkout dirty", "stage", stage, "error", rerr)
		}
		outcome.AppliedFiles = nil
	}

	// Real apply, tracking touched files.
	applied := make(map[string]bool)
	for i, scratch := range scratchPaths {
		if err := ap.apply(scratch, relaxed[i]); err != nil {
			rollback("apply")
			outcome.Err = fmt.Sprintf("apply failed for %s: %v", all[i].File, err)
			return outcome
		}
		files, err := diffFiles(all[i])
		if err != nil {
			rollback("apply")
			outcome.Err = err.Error()
			return outcome
		}
		for _, rel := range files {
			if !applied[rel] {
				applied[rel] = true
				outcome.AppliedFiles = append(outcome.AppliedFiles, rel)
			}
		}
	}

	// Build gate. A missing manifest or toolchain skips with a warning
	// rather than condemning every patch in a bare environment.
	name, args, found := buildCommand(checkout)
	switch {
	case !found:
		slog.Warn("no recognizable build manifest, skipping build gate", "checkout", checkout)
	case !toolAvailable(name):
		slog.Warn("build tool not in PATH, skipping build gate", "tool", name)
	default:
		outcome.BuildRan = true
		out, err := runCommand(ctx, checkout, p.cfg.BuildTimeout, name, args...)
		outcome.BuildOutput = out
		if err != nil {
			rollback("build")
			outcome.Err = fmt.Sprintf("build failed: %v: %s", err, util.Truncate(out, feedbackCharBudget))
			return outcome
		}
		outcome.BuildOK = true
	}

	// Tests are best-effort: failures are recorded, never reverted.
	if p.cfg.RunTests {
		if name, args, found := testCommand(checkout); found && toolAvailable(name) {
			outcome.TestRan = true
			out, err := runCommand(ctx, checkout, p.cfg.TestTimeout, name, args...)
			outcome.TestOutput = out
			outcome.TestOK = err == nil
			if err != nil {
				slog.Warn("post-patch tests failed", "finding_patch", true, "error", err)
			}
		}
	}

	return outcome
}
