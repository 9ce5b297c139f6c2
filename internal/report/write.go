// # internal/report/write.go
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/pipeline"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

// Artifact names under the report directory.
const (
	SummaryFile = "summary.md"
	ReportFile  = "report.md"
	ResultFile  = "result.json"
	SARIFFile   = "findings.sarif"
)

// WriteFiles renders every configured artifact for a completed run and
// returns the paths written. The JSON result is the canonical record; the
// markdown files are projections of it.
func WriteFiles(res *pipeline.Result, cfg config.Report, version string) ([]string, error) {
	written := make([]string, 0, 4)

	path := filepath.Join(cfg.Dir, SummaryFile)
	if err := util.WriteFileWithDirs(path, []byte(Summary(res, cfg)), 0o644); err != nil {
		return written, fmt.Errorf("write summary: %w", err)
	}
	written = append(written, path)

	full, err := NewMarkdownGenerator().Generate(res, MarkdownReportOptions{
		ProjectName:         res.Program.Name,
		Version:             version,
		TableOfContents:     true,
		CollapsibleSections: true,
	})
	if err != nil {
		return written, err
	}
	path = filepath.Join(cfg.Dir, ReportFile)
	if err := util.WriteFileWithDirs(path, []byte(full), 0o644); err != nil {
		return written, fmt.Errorf("write report: %w", err)
	}
	written = append(written, path)

	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return written, fmt.Errorf("encode result: %w", err)
	}
	path = filepath.Join(cfg.Dir, ResultFile)
	if err := util.WriteFileWithDirs(path, raw, 0o644); err != nil {
		return written, fmt.Errorf("write result: %w", err)
	}
	written = append(written, path)

	if cfg.SARIF {
		path = filepath.Join(cfg.Dir, SARIFFile)
		if err := WriteSARIF(res, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
