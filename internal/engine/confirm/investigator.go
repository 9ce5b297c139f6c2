// # internal/engine/confirm/investigator.go
// Stage B of the confirmation loop: one deep investigation per selected
// candidate under a bounded worker pool. Workers share only the indexed
// results slice, each writing a unique index.
package confirm

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
)

type investigationReply struct {
	Verdict        string   `json:"verdict"`
	Title          string   `json:"title"`
	Impact         string   `json:"impact"`
	Exploitability string   `json:"exploitability"`
	ProofPlan      []string `json:"proof_plan"`
	FixSteps       []string `json:"fix_steps"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

// investigate runs the selected candidates through the reasoning service.
// A failed or unparseable call yields the synthesized fallback confirmation,
// never a hole in the results.
func investigate(ctx context.Context, client completer, selected []candidates.VulnCandidate, prog *parser.ParsedProgram, workers int) []*Confirmation {
	if len(selected) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 3
	}
	if workers > len(selected) {
		workers = len(selected)
	}

	results := make([]*Confirmation, len(selected))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = investigateOne(ctx, client, selected[idx], prog)
			}
		}()
	}
	for idx := range selected {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return results
}

func investigateOne(ctx context.Context, client completer, c candidates.VulnCandidate, prog *parser.ParsedProgram) *Confirmation {
	raw, err := client.Complete(ctx, llm.Request{
		System: investigationSystem,
		User:   buildInvestigationPrompt(c, prog),
	})
	if err != nil {
		slog.Warn("investigation call failed, synthesizing uncertain verdict",
			"candidate", c.ID, "error", err)
		return fallbackConfirmation(c, "confirmation call failed: "+err.Error())
	}
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		slog.Warn("investigation reply unparseable, synthesizing uncertain verdict", "candidate", c.ID)
		return fallbackConfirmation(c, "confirmation reply was not parseable JSON")
	}
	var reply investigationReply
	if err := json.Unmarshal(obj, &reply); err != nil {
		return fallbackConfirmation(c, "confirmation reply schema mismatch: "+err.Error())
	}
	return normalizeReply(c, reply)
}

// normalizeReply coerces loosely structured model output into the typed
// confirmation: verdicts outside the vocabulary become uncertain, fractional
// confidences scale to 0-100, and everything clamps into range.
func normalizeReply(c candidates.VulnCandidate, reply investigationReply) *Confirmation {
	verdict := Verdict(strings.ToLower(strings.TrimSpace(reply.Verdict)))
	switch verdict {
	case VerdictConfirmed, VerdictRejected, VerdictUncertain:
	default:
		verdict = VerdictUncertain
	}

	conf := reply.Confidence
	if conf > 0 && conf <= 1 {
		conf *= 100
	}
	conf = math.Min(math.Max(conf, 0), 100)

	exploit := Exploitability(strings.ToLower(strings.TrimSpace(reply.Exploitability)))
	switch exploit {
	case ExploitEasy, ExploitModerate, ExploitHard:
	default:
		exploit = ExploitUnknown
	}

	return &Confirmation{
		CandidateID:    c.ID,
		Verdict:        verdict,
		Title:          strings.TrimSpace(reply.Title),
		Impact:         strings.TrimSpace(reply.Impact),
		Exploitability: exploit,
		ProofPlan:      reply.ProofPlan,
		FixSteps:       reply.FixSteps,
		Confidence:     int(math.Round(conf)),
		Status:         CallSuccess,
		Reasoning:      strings.TrimSpace(reply.Reasoning),
	}
}

// fallbackConfirmation keeps a candidate alive across a dead service:
// uncertain at half the deterministic confidence, flagged as failed so
// reports can show why.
func fallbackConfirmation(c candidates.VulnCandidate, reason string) *Confirmation {
	return &Confirmation{
		CandidateID: c.ID,
		Verdict:     VerdictUncertain,
		Confidence:  int(math.Round(50 * c.Confidence)),
		Status:      CallFailed,
		Reasoning:   reason,
	}
}
