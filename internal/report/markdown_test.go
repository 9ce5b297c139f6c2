// # internal/report/markdown_test.go
package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
)

func sampleResult() *pipeline.Result {
	proven := confirm.Finding{
		ID: "find-001",
		Candidate: candidates.VulnCandidate{
			ID:          "cand-001",
			Class:       candidates.ClassMissingSigner,
			Severity:    candidates.SeverityCritical,
			Confidence:  0.85,
			Instruction: "withdraw",
			Ref:         parser.SourceRef{File: "programs/vault/src/lib.rs", StartLine: 36, EndLine: 48},
			Accounts: []candidates.AccountContext{
				{Name: "authority", Wrapper: "UncheckedAccount"},
				{Name: "vault", Wrapper: "Account<'info, Vault>", Constraints: []string{"seeds = [b\"vault\"]", "bump"}, IsMut: true},
			},
			Reasoning: "withdraw moves lamports but no account in its context is required to sign",
			Excerpt:   "let vault = &mut ctx.accounts.vault;\nvault.balance -= amount;",
		},
		Confirmation: &confirm.Confirmation{
			CandidateID:    "cand-001",
			Verdict:        confirm.VerdictConfirmed,
			Title:          "Unsigned withdraw drains the vault",
			Impact:         "Any wallet can drain the vault because the authority never signs.",
			Exploitability: confirm.ExploitEasy,
			ProofPlan:      []string{"call withdraw from a fresh keypair"},
			FixSteps:       []string{"declare authority as Signer<'info>", "add has_one = authority to vault"},
			Confidence:     92,
			Status:         confirm.CallSuccess,
			Reasoning:      "The context struct has no Signer and the handler never checks is_signer.",
		},
		PoC:        &confirm.PoCResult{Status: confirm.PoCProven, TestPath: "tests/exploit_withdraw.ts"},
		Status:     confirm.StatusProven,
		Severity:   candidates.SeverityCritical,
		Confidence: 0.95,
	}
	needsHuman := confirm.Finding{
		ID: "find-002",
		Candidate: candidates.VulnCandidate{
			ID:          "cand-002",
			Class:       candidates.ClassUncheckedArithmetic,
			Severity:    candidates.SeverityMedium,
			Confidence:  0.6,
			Instruction: "deposit",
			Ref:         parser.SourceRef{File: "programs/vault/src/lib.rs", StartLine: 22, EndLine: 22},
			Reasoning:   "deposit adds to the stored balance without checked_add",
		},
		Status:     confirm.StatusNeedsHuman,
		Severity:   candidates.SeverityMedium,
		Confidence: 0.36,
	}
	rejected := confirm.Finding{
		ID: "find-003",
		Candidate: candidates.VulnCandidate{
			ID:          "cand-003",
			Class:       candidates.ClassReinitialization,
			Severity:    candidates.SeverityLow,
			Confidence:  0.3,
			Instruction: "initialize",
			Ref:         parser.SourceRef{File: "programs/vault/src/lib.rs", StartLine: 10, EndLine: 10},
			Reasoning:   "init guard not visible at the call site",
		},
		Confirmation: &confirm.Confirmation{
			CandidateID: "cand-003",
			Verdict:     confirm.VerdictRejected,
			Confidence:  15,
			Status:      confirm.CallSuccess,
		},
		Status:     confirm.StatusRejected,
		Severity:   candidates.SeverityLow,
		Confidence: 0.06,
	}

	return &pipeline.Result{
		RunID:    "run-0001",
		Checkout: "/tmp/checkout",
		Program: pipeline.ProgramSummary{
			Name:         "vault",
			Framework:    "anchor",
			Files:        2,
			Instructions: 5,
			Accounts:     3,
			Sinks:        4,
		},
		Candidates: []candidates.VulnCandidate{proven.Candidate, needsHuman.Candidate, rejected.Candidate},
		Findings:   []confirm.Finding{proven, needsHuman, rejected},
		PatchResults: []patch.Result{
			{
				FindingID: "find-001",
				Status:    patch.StatusValidated,
				Patches:   []patch.Diff{{File: "programs/vault/src/lib.rs", Unified: "--- a/programs/vault/src/lib.rs\n+++ b/programs/vault/src/lib.rs\n@@ -36,1 +36,1 @@\n-    let vault = &mut ctx.accounts.vault;\n+    let vault = &mut ctx.accounts.vault; // signer checked\n"}},
				Rationale: "require the authority signature before mutating the balance",
				RiskNotes: "verify no client relies on unsigned withdraw",
				Validation: &patch.ValidationOutcome{
					AppliedFiles: []string{"programs/vault/src/lib.rs"},
					BuildRan:     true,
					BuildOK:      true,
				},
				Attempts: 1,
				Duration: 1200 * time.Millisecond,
			},
			{
				FindingID: "find-002",
				Status:    patch.StatusNeedsHuman,
				Patches:   []patch.Diff{{File: "programs/vault/src/lib.rs", Unified: "--- a/programs/vault/src/lib.rs\n+++ b/programs/vault/src/lib.rs\n@@ -22,1 +22,1 @@\n-    vault.balance += amount;\n+    vault.balance = vault.balance.checked_add(amount).unwrap();\n"}},
				Validation: &patch.ValidationOutcome{
					BuildRan: true,
					Err:      "build failed: error[E0308]: mismatched types",
				},
				Attempts: 2,
				Duration: 3 * time.Second,
			},
			{FindingID: "find-003", Status: patch.StatusSkipped},
		},
		Metrics: pipeline.Metrics{
			FilesParsed:   2,
			Sinks:         4,
			Candidates:    3,
			Confirmations: 2,
			TotalSeconds:  4.2,
		},
		Warnings: []string{"confirmation batch 2 fell back to rank order"},
	}
}

func TestMarkdownGenerator_RendersFindingDetails(t *testing.T) {
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(sampleResult(), MarkdownReportOptions{
		Version:             "1.0.0",
		TableOfContents:     true,
		CollapsibleSections: true,
	})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	for _, want := range []string{
		"# Security Audit Report",
		"program: vault",
		"- [Findings](#findings)",
		"| Framework | anchor |",
		"| PROVEN | 1 |",
		"| Patches Validated | 1 |",
		"### find-001: Unsigned withdraw drains the vault",
		"**Impact.** Any wallet can drain the vault because the authority never signs.",
		"Exploitability: easy.",
		"1. declare authority as Signer<'info>",
		"Proof of concept: `tests/exploit_withdraw.ts` passed.",
		"```rust",
		"- `vault` (Account<'info, Vault>) [seeds = [b\"vault\"], bump] mut",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestMarkdownGenerator_SkipsDetailForRejectedFindings(t *testing.T) {
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(sampleResult(), MarkdownReportOptions{})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	if !strings.Contains(out, "| `find-003` |") {
		t.Error("expected rejected finding in the overview table")
	}
	if strings.Contains(out, "### find-003") {
		t.Error("expected no detail section for a rejected finding")
	}
}

func TestMarkdownGenerator_RendersPatchDiffsAndFailures(t *testing.T) {
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(sampleResult(), MarkdownReportOptions{})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	for _, want := range []string{
		"### Patch for find-001",
		"```diff",
		"Risk notes: verify no client relies on unsigned withdraw",
		"### Patch for find-002",
		"Validation failed: build failed: error[E0308]: mismatched types",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(out, "### Patch for find-003") {
		t.Error("expected no detail section for a skipped patch")
	}
}

func TestMarkdownGenerator_SummaryVerbosityOmitsDetails(t *testing.T) {
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(sampleResult(), MarkdownReportOptions{Verbosity: "summary"})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	if !strings.Contains(out, "| `find-001` |") {
		t.Error("expected finding overview table in summary verbosity")
	}
	if strings.Contains(out, "### find-001") {
		t.Error("expected no finding detail in summary verbosity")
	}
	if strings.Contains(out, "```diff") {
		t.Error("expected no diffs in summary verbosity")
	}
}

func TestMarkdownGenerator_EmptyRunUsesPlaceholders(t *testing.T) {
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(&pipeline.Result{}, MarkdownReportOptions{TableOfContents: true})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	for _, want := range []string{
		"program: unknown",
		"No findings to report.",
		"No patches were attempted.",
		"No candidates were generated.",
		"No warnings were recorded.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestMarkdownGenerator_CollapsesLargeCandidateTable(t *testing.T) {
	res := sampleResult()
	res.Candidates = nil
	for i := 0; i < 12; i++ {
		res.Candidates = append(res.Candidates, candidates.VulnCandidate{
			ID:       fmt.Sprintf("cand-%03d", i+1),
			Class:    candidates.ClassMissingSigner,
			Severity: candidates.SeverityHigh,
			Ref:      parser.SourceRef{File: "src/lib.rs", StartLine: i + 1},
		})
	}
	gen := NewMarkdownGenerator()
	out, err := gen.Generate(res, MarkdownReportOptions{CollapsibleSections: true})
	if err != nil {
		t.Fatalf("generate markdown: %v", err)
	}
	if !strings.Contains(out, "<summary>Candidate details</summary>") {
		t.Error("expected candidate table to collapse past ten rows")
	}
}
