// # internal/report/summary.go
package report

import (
	"fmt"
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

// Per-field budgets for the bounded summary. The full report in markdown.go
// carries the untruncated text.
const (
	summaryTitleChars  = 120
	summaryImpactChars = 240
	summaryErrChars    = 160
)

var statusTiers = []confirm.FindingStatus{
	confirm.StatusProven,
	confirm.StatusLikely,
	confirm.StatusNeedsHuman,
	confirm.StatusRejected,
}

var patchStatuses = []patch.Status{
	patch.StatusValidated,
	patch.StatusNeedsHuman,
	patch.StatusFailed,
	patch.StatusSkipped,
}

// Summary renders the size-bounded digest of a run: top-N findings with
// fixed per-field character budgets, patch outcomes, and a hard cap on the
// whole document. It is safe to store in a constrained row or post as a
// comment; the unbounded rendering belongs in blob storage.
func Summary(res *pipeline.Result, cfg config.Report) string {
	limit := cfg.SummaryMaxChars
	if limit <= 0 {
		limit = 4000
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Audit summary: %s\n\n", nonEmpty(res.Program.Name, "unknown program"))
	fmt.Fprintf(&b, "run: %s\n", res.RunID)
	fmt.Fprintf(&b, "target: framework=%s files=%d instructions=%d sinks=%d\n",
		nonEmpty(res.Program.Framework, "unknown"),
		res.Program.Files, res.Program.Instructions, res.Program.Sinks)
	fmt.Fprintf(&b, "pipeline: candidates=%d confirmations=%d findings=%d\n",
		len(res.Candidates), res.Metrics.Confirmations, len(res.Findings))

	counts := tierCounts(res.Findings)
	parts := make([]string, 0, len(statusTiers))
	for _, tier := range statusTiers {
		parts = append(parts, fmt.Sprintf("%s=%d", tier, counts[tier]))
	}
	fmt.Fprintf(&b, "status: %s\n", strings.Join(parts, " "))

	if n := topN(len(res.Findings), cfg.SummaryFindings); n > 0 {
		fmt.Fprintf(&b, "\n## Top findings (%d of %d)\n", n, len(res.Findings))
		for i, f := range res.Findings[:n] {
			fmt.Fprintf(&b, "%d. [%s/%s] %s at %s:%d (confidence %.2f)\n",
				i+1, f.Status, f.Severity,
				util.Truncate(findingTitle(f), summaryTitleChars),
				f.Candidate.Ref.File, f.Candidate.Ref.StartLine, f.Confidence)
			if f.Confirmation != nil && f.Confirmation.Impact != "" {
				fmt.Fprintf(&b, "   impact: %s\n", util.Truncate(f.Confirmation.Impact, summaryImpactChars))
			}
		}
	}

	if len(res.PatchResults) > 0 {
		b.WriteString("\n## Patches\n")
		pcounts := make(map[patch.Status]int, len(patchStatuses))
		for _, pr := range res.PatchResults {
			pcounts[pr.Status]++
		}
		pparts := make([]string, 0, len(patchStatuses))
		for _, st := range patchStatuses {
			pparts = append(pparts, fmt.Sprintf("%s=%d", st, pcounts[st]))
		}
		b.WriteString(strings.Join(pparts, " ") + "\n")
		for _, pr := range res.PatchResults {
			if pr.Status == patch.StatusNeedsHuman && pr.Validation != nil && pr.Validation.Err != "" {
				fmt.Fprintf(&b, "- %s: %s\n", pr.FindingID, util.Truncate(pr.Validation.Err, summaryErrChars))
			}
		}
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintf(&b, "\nwarnings: %d\n", len(res.Warnings))
	}
	return util.Truncate(b.String(), limit)
}

func tierCounts(findings []confirm.Finding) map[confirm.FindingStatus]int {
	counts := make(map[confirm.FindingStatus]int, len(statusTiers))
	for _, f := range findings {
		counts[f.Status]++
	}
	return counts
}

func topN(total, want int) int {
	if want <= 0 || want > total {
		return total
	}
	return want
}
