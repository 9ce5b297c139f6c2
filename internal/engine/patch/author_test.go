// # internal/engine/patch/author_test.go
package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
)

func patchJSON(t *testing.T, diffs ...Diff) string {
	t.Helper()
	type wireDiff struct {
		File      string `json:"file"`
		Diff      string `json:"diff"`
		Rationale string `json:"rationale,omitempty"`
	}
	reply := struct {
		Patches   []wireDiff `json:"patches"`
		Rationale string     `json:"rationale"`
		RiskNotes string     `json:"risk_notes"`
	}{Rationale: "replace unchecked subtraction", RiskNotes: "panics on underflow instead of wrapping"}
	for _, d := range diffs {
		reply.Patches = append(reply.Patches, wireDiff{File: d.File, Diff: d.Unified, Rationale: d.Rationale})
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestParsePatchReply(t *testing.T) {
	raw := patchJSON(t, Diff{File: "src/lib.rs", Unified: checkedMathDiff, Rationale: "checked math"})

	prop, err := parsePatchReply(raw)
	if err != nil {
		t.Fatalf("parsePatchReply: %v", err)
	}
	if len(prop.Patches) != 1 {
		t.Fatalf("len(Patches) = %d, want 1", len(prop.Patches))
	}
	p := prop.Patches[0]
	if p.File != "src/lib.rs" || p.Rationale != "checked math" {
		t.Fatalf("patch = %+v", p)
	}
	if !strings.HasSuffix(p.Unified, "\n") {
		t.Fatal("unified diff must keep its trailing newline")
	}
	if prop.Rationale != "replace unchecked subtraction" {
		t.Fatalf("Rationale = %q", prop.Rationale)
	}
	if prop.RiskNotes == "" {
		t.Fatal("RiskNotes should survive parsing")
	}
}

func TestParsePatchReplyAcceptsFencedJSON(t *testing.T) {
	raw := "Here is the fix.\n```json\n" + patchJSON(t, Diff{File: "src/lib.rs", Unified: checkedMathDiff}) + "\n```\n"
	prop, err := parsePatchReply(raw)
	if err != nil {
		t.Fatalf("parsePatchReply: %v", err)
	}
	if len(prop.Patches) != 1 {
		t.Fatalf("len(Patches) = %d, want 1", len(prop.Patches))
	}
}

func TestParsePatchReplyRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no patches", `{"patches":[],"rationale":"nothing to do"}`},
		{"empty diff", `{"patches":[{"file":"src/lib.rs","diff":""}]}`},
		{"not a diff", `{"patches":[{"file":"src/lib.rs","diff":"please change line 3"}]}`},
		{"no json", "I could not produce a patch for this finding."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parsePatchReply(tc.raw); err == nil {
				t.Fatalf("expected an error for %q", tc.raw)
			}
		})
	}
}

func TestToDiffAddsTrailingNewline(t *testing.T) {
	d, err := toDiff(diffReply{File: "src/lib.rs", Diff: strings.TrimRight(checkedMathDiff, "\n")})
	if err != nil {
		t.Fatalf("toDiff: %v", err)
	}
	if !strings.HasSuffix(d.Unified, "\n") {
		t.Fatal("toDiff should restore the trailing newline")
	}
}

func promptFinding() confirm.Finding {
	return confirm.Finding{
		ID:         "find-007",
		Status:     confirm.StatusProven,
		Severity:   candidates.SeverityHigh,
		Confidence: 0.95,
		Candidate: candidates.VulnCandidate{
			ID:          "cand-007",
			Class:       candidates.ClassUncheckedArithmetic,
			Severity:    candidates.SeverityHigh,
			Confidence:  0.8,
			Instruction: "withdraw",
			Ref:         parser.SourceRef{File: "src/lib.rs", StartLine: 3, EndLine: 3},
			Reasoning:   "subtraction without checked math",
			Accounts: []candidates.AccountContext{
				{Name: "vault", Wrapper: "Account<'info, Vault>", Constraints: []string{"has_one = authority", "mut"}},
			},
		},
		Confirmation: &confirm.Confirmation{
			CandidateID: "cand-007",
			Verdict:     confirm.VerdictConfirmed,
			Title:       "Vault balance underflow",
			Impact:      "attacker drains the vault by withdrawing more than the balance",
			FixSteps:    []string{"use checked_sub", "return an error on underflow"},
			Confidence:  90,
			Status:      confirm.CallSuccess,
		},
	}
}

func TestBuildPatchPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte(vaultSource), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := buildPatchPrompt(dir, promptFinding(), "")

	for _, want := range []string{
		"## Finding",
		"class: unchecked_arithmetic",
		"instruction: withdraw",
		"location: src/lib.rs:3",
		"title: Vault balance underflow",
		"confirmed fix steps:",
		"- use checked_sub",
		"- vault (Account<'info, Vault>) [has_one = authority, mut]",
		"## Source src/lib.rs",
		"    3 |     let remaining = balance - amount;",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "## Previous attempt failed validation") {
		t.Fatal("first attempt must not carry a feedback section")
	}
}

func TestBuildPatchPromptFeedbackAndHypothesis(t *testing.T) {
	f := promptFinding()
	f.Confirmation = nil

	prompt := buildPatchPrompt(t.TempDir(), f, "build failed: exit status 1: error[E0308]")

	if !strings.Contains(prompt, "hypothesis: subtraction without checked math") {
		t.Errorf("unconfirmed finding should fall back to the candidate reasoning:\n%s", prompt)
	}
	if !strings.Contains(prompt, "## Previous attempt failed validation") ||
		!strings.Contains(prompt, "error[E0308]") {
		t.Errorf("retry prompt should quote the previous validation error:\n%s", prompt)
	}
	if strings.Contains(prompt, "## Source") {
		t.Error("missing source file should drop the source section, not fail")
	}
}

func TestSourceWindow(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 1; i <= 200; i++ {
		fmt.Fprintf(&b, "line %03d\n", i)
	}
	if err := os.WriteFile(filepath.Join(dir, "big.rs"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	window := sourceWindow(dir, "big.rs", 100, 100)
	lines := strings.Split(strings.TrimRight(window, "\n"), "\n")
	if lines[0] != "   60 | line 060" {
		t.Fatalf("first window line = %q", lines[0])
	}
	if last := lines[len(lines)-1]; last != "  140 | line 140" {
		t.Fatalf("last window line = %q", last)
	}

	window = sourceWindow(dir, "big.rs", 2, 2)
	if !strings.HasPrefix(window, "    1 | line 001") {
		t.Fatalf("window near the top should clamp to line 1, got %q", window)
	}

	if got := sourceWindow(dir, "missing.rs", 1, 1); got != "" {
		t.Fatalf("missing file should yield an empty window, got %q", got)
	}
}
