// # internal/engine/confirm/types.go
package confirm

import (
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
)

// Verdict is the reasoning service's judgement on one candidate.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictRejected  Verdict = "rejected"
	VerdictUncertain Verdict = "uncertain"
)

// CallStatus records how the confirmation for a candidate was obtained.
// Failed confirmations still carry a synthesized uncertain verdict; the
// pipeline never loses a candidate to a service failure.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallFailed  CallStatus = "failed"
	CallSkipped CallStatus = "skipped"
)

// Exploitability grades how hard the confirmed issue is to exploit.
type Exploitability string

const (
	ExploitEasy     Exploitability = "easy"
	ExploitModerate Exploitability = "moderate"
	ExploitHard     Exploitability = "hard"
	ExploitUnknown  Exploitability = "unknown"
)

// Confirmation is the structured result of one deep investigation.
// Confidence is the service's own 0-100 estimate, distinct from the
// candidate's deterministic confidence.
type Confirmation struct {
	CandidateID    string         `json:"candidate_id"`
	Verdict        Verdict        `json:"verdict"`
	Title          string         `json:"title,omitempty"`
	Impact         string         `json:"impact,omitempty"`
	Exploitability Exploitability `json:"exploitability,omitempty"`
	ProofPlan      []string       `json:"proof_plan,omitempty"`
	FixSteps       []string       `json:"fix_steps,omitempty"`
	Confidence     int            `json:"confidence"`
	Status         CallStatus     `json:"status"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// FindingStatus is the final disposition tier after the merge.
type FindingStatus string

const (
	StatusProven     FindingStatus = "PROVEN"
	StatusLikely     FindingStatus = "LIKELY"
	StatusNeedsHuman FindingStatus = "NEEDS_HUMAN"
	StatusRejected   FindingStatus = "REJECTED"
)

var statusPriority = map[FindingStatus]int{
	StatusProven:     0,
	StatusLikely:     1,
	StatusNeedsHuman: 2,
	StatusRejected:   3,
}

// Priority orders statuses for report sorting; lower sorts first.
func (s FindingStatus) Priority() int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return len(statusPriority)
}

// PoCStatus is the outcome of an externally executed proof of concept.
type PoCStatus string

const (
	PoCProven  PoCStatus = "proven"
	PoCFailed  PoCStatus = "failed"
	PoCSkipped PoCStatus = "skipped"
)

// PoCResult is supplied by a collaborator that runs exploit tests. The
// engine itself never executes one.
type PoCResult struct {
	Status   PoCStatus `json:"status"`
	TestPath string    `json:"test_path,omitempty"`
	Output   string    `json:"output,omitempty"`
}

// Finding is a candidate after the confirmation and PoC merge.
type Finding struct {
	ID           string                   `json:"id"`
	Candidate    candidates.VulnCandidate `json:"candidate"`
	Confirmation *Confirmation            `json:"confirmation,omitempty"`
	PoC          *PoCResult               `json:"poc,omitempty"`
	Status       FindingStatus            `json:"status"`
	Severity     candidates.Severity      `json:"severity"`
	Confidence   float64                  `json:"confidence"`
}

// Weight is the intra-status ordering score.
func (f Finding) Weight() float64 {
	return float64(f.Severity.Weight()) * f.Confidence
}

// findingID derives the finding id from the candidate id so the two stay
// correlatable in logs and reports.
func findingID(candidateID string) string {
	if suffix, ok := strings.CutPrefix(candidateID, "cand-"); ok {
		return "find-" + suffix
	}
	return "find-" + candidateID
}
