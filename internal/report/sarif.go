// # internal/report/sarif.go
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
)

const sarifInformationURI = "https://github.com/grkhmz23/solaudit-agent-sub000"

// SARIF converts a run into a SARIF 2.1.0 report for code-scanning UIs.
// Rejected findings stay in the JSON result but are omitted here so they
// never surface as open alerts.
func SARIF(res *pipeline.Result) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI("solaudit", sarifInformationURI)
	for _, f := range res.Findings {
		if f.Status == confirm.StatusRejected {
			continue
		}
		level := toSarifLevel(f.Severity)
		rule := run.AddRule(string(f.Candidate.Class)).
			WithDescription(strings.ReplaceAll(string(f.Candidate.Class), "_", " ")).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{
				Level: level,
			})

		region := sarif.NewRegion().WithStartLine(f.Candidate.Ref.StartLine)
		if f.Candidate.Ref.EndLine > f.Candidate.Ref.StartLine {
			region = region.WithEndLine(f.Candidate.Ref.EndLine)
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.Candidate.Ref.File)).
				WithRegion(region),
		)

		message := fmt.Sprintf("%s (%s, confidence %.2f)", findingTitle(f), f.Status, f.Confidence)
		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(message)).
			WithLevel(level).
			WithLocations([]*sarif.Location{location})
		run.AddResult(result)
	}
	report.AddRun(run)
	return report, nil
}

// WriteSARIF renders the SARIF report to path.
func WriteSARIF(res *pipeline.Result, path string) error {
	report, err := SARIF(res)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	defer func() { _ = file.Close() }()
	return report.PrettyWrite(file)
}

func toSarifLevel(severity candidates.Severity) string {
	switch severity {
	case candidates.SeverityCritical, candidates.SeverityHigh:
		return "error"
	case candidates.SeverityMedium:
		return "warning"
	case candidates.SeverityLow, candidates.SeverityInfo:
		return "note"
	default:
		return "none"
	}
}
