// # internal/engine/pipeline/types.go
package pipeline

import (
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/confirm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/patch"
)

// ProgramSummary is the compact projection of the parsed program carried in
// the run result. The full model stays inside the run.
type ProgramSummary struct {
	Name           string `json:"name"`
	ProgramID      string `json:"program_id,omitempty"`
	Framework      string `json:"framework"`
	Files          int    `json:"files"`
	Instructions   int    `json:"instructions"`
	Accounts       int    `json:"accounts"`
	Sinks          int    `json:"sinks"`
	CPICalls       int    `json:"cpi_calls"`
	PDADerivations int    `json:"pda_derivations"`
}

// Metrics aggregates the per-run counters and timings collaborators read.
type Metrics struct {
	FilesParsed   int                           `json:"files_parsed"`
	Sinks         int                           `json:"sinks"`
	Candidates    int                           `json:"candidates"`
	Confirmations int                           `json:"confirmations"`
	StatusCounts  map[confirm.FindingStatus]int `json:"status_counts,omitempty"`
	PatchCounts   map[patch.Status]int          `json:"patch_counts,omitempty"`
	StageSeconds  map[string]float64            `json:"stage_seconds"`
	TotalSeconds  float64                       `json:"total_seconds"`
}

// Result is the structured outcome of one audit run.
type Result struct {
	RunID        string                     `json:"run_id"`
	Checkout     string                     `json:"checkout"`
	StartedAt    time.Time                  `json:"started_at"`
	Program      ProgramSummary             `json:"program"`
	Candidates   []candidates.VulnCandidate `json:"candidates"`
	Findings     []confirm.Finding          `json:"findings"`
	PatchResults []patch.Result             `json:"patch_results,omitempty"`
	Metrics      Metrics                    `json:"metrics"`
	Warnings     []string                   `json:"warnings,omitempty"`
}
