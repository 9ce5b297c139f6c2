// # internal/report/markdown.go
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
)

type MarkdownReportOptions struct {
	ProjectName         string
	Version             string
	GeneratedAt         time.Time
	Verbosity           string
	TableOfContents     bool
	CollapsibleSections bool
}

// MarkdownGenerator renders the unbounded full report. Nothing here is
// truncated; callers that need a size cap use Summary instead.
type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(res *pipeline.Result, opts MarkdownReportOptions) (string, error) {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	verbosity := normalizeReportVerbosity(opts.Verbosity)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Security Audit Report\n")
	b.WriteString("program: " + nonEmpty(opts.ProjectName, nonEmpty(res.Program.Name, "unknown")) + "\n")
	b.WriteString("run: " + nonEmpty(res.RunID, "unknown") + "\n")
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(opts.Version, "unknown") + "\n")
	b.WriteString("---\n\n")

	b.WriteString("# Security Audit Report\n\n")
	if opts.TableOfContents {
		b.WriteString("## Table of Contents\n")
		b.WriteString("- [Executive Summary](#executive-summary)\n")
		b.WriteString("- [Findings](#findings)\n")
		b.WriteString("- [Patches](#patches)\n")
		b.WriteString("- [Candidates](#candidates)\n")
		b.WriteString("- [Warnings](#warnings)\n")
		b.WriteString("\n")
	}

	counts := tierCounts(res.Findings)
	validated := 0
	for _, pr := range res.PatchResults {
		if pr.Status == patch.StatusValidated {
			validated++
		}
	}
	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Framework | %s |\n", nonEmpty(res.Program.Framework, "unknown")))
	b.WriteString(fmt.Sprintf("| Files Parsed | %d |\n", res.Program.Files))
	b.WriteString(fmt.Sprintf("| Instructions | %d |\n", res.Program.Instructions))
	b.WriteString(fmt.Sprintf("| Security Sinks | %d |\n", res.Program.Sinks))
	b.WriteString(fmt.Sprintf("| Candidates | %d |\n", len(res.Candidates)))
	b.WriteString(fmt.Sprintf("| Findings | %d |\n", len(res.Findings)))
	for _, tier := range statusTiers {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", tier, counts[tier]))
	}
	b.WriteString(fmt.Sprintf("| Patches Validated | %d |\n", validated))
	b.WriteString(fmt.Sprintf("| Duration | %.1fs |\n\n", res.Metrics.TotalSeconds))

	m.writeFindings(&b, res.Findings, opts.CollapsibleSections, verbosity)
	m.writePatches(&b, res.PatchResults, opts.CollapsibleSections, verbosity)
	m.writeCandidates(&b, res.Candidates, opts.CollapsibleSections)
	m.writeWarnings(&b, res.Warnings)

	return b.String(), nil
}

func (m *MarkdownGenerator) writeFindings(b *strings.Builder, findings []confirm.Finding, collapsible bool, verbosity string) {
	b.WriteString("## Findings\n")
	if len(findings) == 0 {
		b.WriteString("No findings to report.\n\n")
		return
	}
	rows := make([]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, fmt.Sprintf(
			"| `%s` | %s | %s | %.2f | `%s` | `%s:%d` |\n",
			f.ID,
			f.Status,
			severityBadge(f.Severity),
			f.Confidence,
			f.Candidate.Class,
			f.Candidate.Ref.File,
			f.Candidate.Ref.StartLine,
		))
	}
	m.writeTableWithCollapse(
		b,
		"Finding overview",
		collapsible,
		len(rows) > 10,
		[]string{"| ID | Status | Severity | Confidence | Class | Location |\n", "| --- | --- | --- | --- | --- | --- |\n"},
		rows,
	)
	if verbosity == "summary" {
		return
	}
	for _, f := range findings {
		if f.Status == confirm.StatusRejected {
			continue
		}
		m.writeFindingDetail(b, f, collapsible)
	}
}

func (m *MarkdownGenerator) writeFindingDetail(b *strings.Builder, f confirm.Finding, collapsible bool) {
	b.WriteString(fmt.Sprintf("### %s: %s\n\n", f.ID, findingTitle(f)))
	b.WriteString(fmt.Sprintf("**%s** | %s | confidence %.2f | `%s:%d`",
		f.Status, severityBadge(f.Severity), f.Confidence, f.Candidate.Ref.File, f.Candidate.Ref.StartLine))
	if f.Candidate.Instruction != "" {
		b.WriteString(fmt.Sprintf(" | instruction `%s`", f.Candidate.Instruction))
	}
	b.WriteString("\n\n")

	if f.Candidate.Reasoning != "" {
		b.WriteString(f.Candidate.Reasoning + "\n\n")
	}
	if c := f.Confirmation; c != nil {
		if c.Impact != "" {
			b.WriteString("**Impact.** " + c.Impact + "\n\n")
		}
		if c.Exploitability != "" && c.Exploitability != confirm.ExploitUnknown {
			b.WriteString(fmt.Sprintf("Exploitability: %s.\n\n", c.Exploitability))
		}
		if len(c.FixSteps) > 0 {
			b.WriteString("Suggested fix:\n")
			for i, step := range c.FixSteps {
				b.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
			}
			b.WriteString("\n")
		}
		if len(c.ProofPlan) > 0 {
			b.WriteString("Proof plan:\n")
			for i, step := range c.ProofPlan {
				b.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
			}
			b.WriteString("\n")
		}
		if c.Reasoning != "" {
			m.writeCollapsedText(b, "Reviewer reasoning", c.Reasoning, collapsible)
		}
	}
	if f.PoC != nil && f.PoC.Status == confirm.PoCProven {
		b.WriteString(fmt.Sprintf("Proof of concept: `%s` passed.\n\n", nonEmpty(f.PoC.TestPath, "exploit test")))
	}
	if f.Candidate.Excerpt != "" {
		b.WriteString("```rust\n")
		b.WriteString(strings.TrimRight(f.Candidate.Excerpt, "\n"))
		b.WriteString("\n```\n\n")
	}
	if len(f.Candidate.Accounts) > 0 {
		b.WriteString("Accounts in scope:\n")
		for _, ac := range f.Candidate.Accounts {
			b.WriteString(accountLine(ac) + "\n")
		}
		b.WriteString("\n")
	}
}

func (m *MarkdownGenerator) writePatches(b *strings.Builder, results []patch.Result, collapsible bool, verbosity string) {
	b.WriteString("## Patches\n")
	attempted := make([]patch.Result, 0, len(results))
	for _, pr := range results {
		if pr.Status != patch.StatusSkipped {
			attempted = append(attempted, pr)
		}
	}
	if len(attempted) == 0 {
		b.WriteString("No patches were attempted.\n\n")
		return
	}
	rows := make([]string, 0, len(attempted))
	for _, pr := range attempted {
		applied := 0
		if pr.Validation != nil {
			applied = len(pr.Validation.AppliedFiles)
		}
		rows = append(rows, fmt.Sprintf(
			"| `%s` | %s | %d | %d | %s |\n",
			pr.FindingID, pr.Status, pr.Attempts, applied, pr.Duration.Round(time.Millisecond),
		))
	}
	m.writeTableWithCollapse(
		b,
		"Patch overview",
		collapsible,
		len(rows) > 10,
		[]string{"| Finding | Status | Attempts | Applied Files | Duration |\n", "| --- | --- | --- | --- | --- |\n"},
		rows,
	)
	if verbosity == "summary" {
		return
	}
	for _, pr := range attempted {
		if len(pr.Patches) == 0 && len(pr.TestPatches) == 0 {
			continue
		}
		m.writePatchDetail(b, pr, collapsible)
	}
}

func (m *MarkdownGenerator) writePatchDetail(b *strings.Builder, pr patch.Result, collapsible bool) {
	b.WriteString(fmt.Sprintf("### Patch for %s\n\n", pr.FindingID))
	if pr.Rationale != "" {
		b.WriteString(pr.Rationale + "\n\n")
	}
	if pr.RiskNotes != "" {
		b.WriteString("Risk notes: " + pr.RiskNotes + "\n\n")
	}
	for _, d := range append(append([]patch.Diff(nil), pr.Patches...), pr.TestPatches...) {
		b.WriteString("```diff\n")
		b.WriteString(strings.TrimRight(d.Unified, "\n"))
		b.WriteString("\n```\n\n")
	}
	if v := pr.Validation; v != nil {
		if v.Err != "" {
			b.WriteString("Validation failed: " + v.Err + "\n\n")
		}
		if v.BuildRan && v.BuildOutput != "" {
			m.writeCollapsedText(b, "Build output", v.BuildOutput, collapsible)
		}
		if v.TestRan && v.TestOutput != "" {
			m.writeCollapsedText(b, "Test output", v.TestOutput, collapsible)
		}
	}
}

func (m *MarkdownGenerator) writeCandidates(b *strings.Builder, cands []candidates.VulnCandidate, collapsible bool) {
	b.WriteString("## Candidates\n")
	if len(cands) == 0 {
		b.WriteString("No candidates were generated.\n\n")
		return
	}
	rows := make([]string, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, fmt.Sprintf(
			"| `%s` | `%s` | %s | %.2f | `%s` | `%s:%d` |\n",
			c.ID, c.Class, severityBadge(c.Severity), c.Confidence,
			nonEmpty(c.Instruction, "-"), c.Ref.File, c.Ref.StartLine,
		))
	}
	m.writeTableWithCollapse(
		b,
		"Candidate details",
		collapsible,
		len(rows) > 10,
		[]string{"| ID | Class | Severity | Confidence | Instruction | Location |\n", "| --- | --- | --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeWarnings(b *strings.Builder, warnings []string) {
	b.WriteString("## Warnings\n")
	if len(warnings) == 0 {
		b.WriteString("No warnings were recorded.\n\n")
		return
	}
	for _, w := range warnings {
		b.WriteString("- " + w + "\n")
	}
	b.WriteString("\n")
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func (m *MarkdownGenerator) writeCollapsedText(b *strings.Builder, summary, text string, collapsible bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if collapsible && strings.Count(text, "\n") > 6 {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
		b.WriteString("```\n" + text + "\n```\n\n")
		b.WriteString("</details>\n\n")
		return
	}
	b.WriteString(summary + ":\n\n```\n" + text + "\n```\n\n")
}

func accountLine(ac candidates.AccountContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- `%s` (%s)", ac.Name, ac.Wrapper)
	if len(ac.Constraints) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ac.Constraints, ", "))
	}
	if ac.IsSigner {
		b.WriteString(" signer")
	}
	if ac.IsMut {
		b.WriteString(" mut")
	}
	if ac.DocChecked {
		b.WriteString(" /// CHECK")
	}
	return b.String()
}

func severityBadge(s candidates.Severity) string {
	switch s {
	case candidates.SeverityCritical:
		return "🔴 CRITICAL"
	case candidates.SeverityHigh:
		return "🟠 HIGH"
	case candidates.SeverityMedium:
		return "🟡 MEDIUM"
	case candidates.SeverityLow:
		return "🔵 LOW"
	default:
		return "⚪ " + string(s)
	}
}

func normalizeReportVerbosity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return "summary"
	case "detailed":
		return "detailed"
	default:
		return "standard"
	}
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
