// # internal/report/legacy.go
package report

import (
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
)

// LegacyFinding is the flat shape the first-generation reporting layer
// consumes. New collaborators should read pipeline.Result directly; this
// projection exists so downstream tooling keeps working during the
// migration.
type LegacyFinding struct {
	ID         string  `json:"id"`
	Class      string  `json:"class"`
	Severity   string  `json:"severity"`
	Title      string  `json:"title"`
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

// ToLegacyFindings flattens findings into the legacy shape, preserving the
// merged ordering.
func ToLegacyFindings(findings []confirm.Finding) []LegacyFinding {
	if len(findings) == 0 {
		return nil
	}
	out := make([]LegacyFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, LegacyFinding{
			ID:         f.ID,
			Class:      string(f.Candidate.Class),
			Severity:   string(f.Severity),
			Title:      findingTitle(f),
			File:       f.Candidate.Ref.File,
			Line:       f.Candidate.Ref.StartLine,
			Confidence: f.Confidence,
			Status:     string(f.Status),
		})
	}
	return out
}

// findingTitle prefers the confirmed title and falls back to a readable
// rendering of the deterministic hypothesis.
func findingTitle(f confirm.Finding) string {
	if f.Confirmation != nil && f.Confirmation.Title != "" {
		return f.Confirmation.Title
	}
	subject := f.Candidate.Instruction
	if subject == "" {
		subject = f.Candidate.Ref.File
	}
	class := strings.ReplaceAll(string(f.Candidate.Class), "_", " ")
	if subject == "" {
		return class
	}
	return class + " in " + subject
}
