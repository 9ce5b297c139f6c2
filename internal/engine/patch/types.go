// # internal/engine/patch/types.go
package patch

import (
	"time"
)

// Status is the terminal state of one patching attempt chain.
type Status string

const (
	// StatusValidated means every gate passed in the attempt that produced
	// the result. The patch is left applied in the checkout.
	StatusValidated Status = "validated"
	// StatusNeedsHuman means both attempts failed validation; the checkout
	// was reverted and the last gate error is preserved.
	StatusNeedsHuman Status = "needs_human"
	// StatusFailed means the service never returned a usable structured
	// patch, so no gate ever ran to completion.
	StatusFailed Status = "failed"
	// StatusSkipped means the finding was not in the patchable subset.
	StatusSkipped Status = "skipped"
)

// Diff is one unified diff targeting a single file.
type Diff struct {
	File      string `json:"file"`
	Unified   string `json:"diff"`
	Rationale string `json:"rationale,omitempty"`
}

// ValidationOutcome records what the gates observed during the attempt that
// terminated the chain.
type ValidationOutcome struct {
	AppliedFiles []string `json:"applied_files,omitempty"`
	BuildRan     bool     `json:"build_ran"`
	BuildOK      bool     `json:"build_ok"`
	BuildOutput  string   `json:"build_output,omitempty"`
	TestRan      bool     `json:"test_ran"`
	TestOK       bool     `json:"test_ok"`
	TestOutput   string   `json:"test_output,omitempty"`
	Err          string   `json:"error,omitempty"`
}

// ok reports whether the attempt counts as validated: applied cleanly and
// the build gate either passed or was legitimately skipped. Tests are
// best-effort and never gate.
func (v *ValidationOutcome) ok() bool {
	if v == nil || v.Err != "" || len(v.AppliedFiles) == 0 {
		return false
	}
	return !v.BuildRan || v.BuildOK
}

// Result is the per-finding patch outcome.
type Result struct {
	FindingID   string             `json:"finding_id"`
	Status      Status             `json:"status"`
	Patches     []Diff             `json:"patches,omitempty"`
	TestPatches []Diff             `json:"test_patches,omitempty"`
	Rationale   string             `json:"rationale,omitempty"`
	RiskNotes   string             `json:"risk_notes,omitempty"`
	Validation  *ValidationOutcome `json:"validation,omitempty"`
	Attempts    int                `json:"attempts"`
	Duration    time.Duration      `json:"duration"`
}
