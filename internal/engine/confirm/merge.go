// # internal/engine/confirm/merge.go
// Finding assembly under the fixed merge policy. The decision table is the
// contract between the deterministic generator and the probabilistic
// confirmation: every row is exact, so identical inputs always produce
// identical findings.
package confirm

import (
	"math"
	"sort"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

// Assemble merges every candidate with its confirmation and optional PoC
// result. Candidates missing from both maps flow through the no-confirmation
// defaults, so nothing is ever silently dropped. Output is sorted by status
// priority, then severity weight times confidence.
func Assemble(cands []candidates.VulnCandidate, confs map[string]*Confirmation, pocs map[string]*PoCResult) []Finding {
	findings := make([]Finding, 0, len(cands))
	for _, c := range cands {
		findings = append(findings, mergeOne(c, confs[c.ID], pocs[c.ID]))
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Status.Priority() != findings[j].Status.Priority() {
			return findings[i].Status.Priority() < findings[j].Status.Priority()
		}
		return findings[i].Weight() > findings[j].Weight()
	})

	for _, f := range findings {
		observability.FindingsTotal.WithLabelValues(string(f.Status)).Inc()
	}
	return findings
}

// mergeOne applies the decision table. A proven PoC outranks any
// confirmation verdict; a rejected verdict outranks deterministic defaults.
func mergeOne(c candidates.VulnCandidate, conf *Confirmation, poc *PoCResult) Finding {
	f := Finding{
		ID:           findingID(c.ID),
		Candidate:    c,
		Confirmation: conf,
		PoC:          poc,
		Severity:     c.Severity,
	}
	det := c.Confidence

	switch {
	case poc != nil && poc.Status == PoCProven:
		f.Status = StatusProven
		f.Confidence = math.Max(0.95, blendedConfidence(det, conf))
	case conf != nil && conf.Verdict == VerdictConfirmed:
		f.Status = StatusLikely
		f.Confidence = 0.4*det + 0.6*float64(conf.Confidence)/100
	case conf != nil && conf.Verdict == VerdictRejected:
		f.Status = StatusRejected
		f.Confidence = 0.2 * det
	case conf != nil:
		f.Status = StatusNeedsHuman
		f.Confidence = 0.6 * det
	case c.Severity == candidates.SeverityCritical && det >= 0.8:
		f.Status = StatusLikely
		f.Confidence = det
	case det >= 0.5:
		f.Status = StatusNeedsHuman
		f.Confidence = det
	default:
		f.Status = StatusRejected
		f.Confidence = det
	}

	// Exploitability adjusts severity only on a live confirmed verdict.
	if conf != nil && conf.Verdict == VerdictConfirmed {
		switch {
		case conf.Confidence > 80 && conf.Exploitability == ExploitEasy:
			f.Severity = candidates.SeverityCritical
		case f.Severity == candidates.SeverityCritical && conf.Confidence < 40:
			f.Severity = candidates.SeverityHigh
		}
	}
	return f
}

// blendedConfidence mirrors the confirmed-row formula so a proven PoC keeps
// whichever is higher: its 0.95 floor or the blend.
func blendedConfidence(det float64, conf *Confirmation) float64 {
	if conf != nil && conf.Verdict == VerdictConfirmed {
		return 0.4*det + 0.6*float64(conf.Confidence)/100
	}
	return det
}
