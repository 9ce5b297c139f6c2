// # internal/engine/confirm/loop.go
package confirm

import (
	"context"
	"log/slog"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
)

// completer is the slice of the llm client the loop depends on.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Loop drives both confirmation stages against one reasoning service.
type Loop struct {
	client completer
	cfg    config.LLM
}

func NewLoop(client completer, cfg config.LLM) *Loop {
	return &Loop{client: client, cfg: cfg}
}

// Run selects candidates worth a deep dive and investigates each one,
// returning confirmations keyed by candidate id. It never returns an error:
// a nil loop, a nil client, or a dead service all degrade to fewer or
// synthesized confirmations, and the merge step still produces findings.
func (l *Loop) Run(ctx context.Context, prog *parser.ParsedProgram, cands []candidates.VulnCandidate) map[string]*Confirmation {
	if l == nil || l.client == nil {
		slog.Info("confirmation loop disabled, findings keep deterministic defaults")
		return nil
	}
	if len(cands) == 0 {
		return nil
	}

	selected := selectCandidates(ctx, l.client, cands, l.cfg)
	slog.Info("confirmation selection complete",
		"candidates", len(cands), "selected", len(selected), "budget", l.cfg.Budget)

	results := investigate(ctx, l.client, selected, prog, l.cfg.Concurrency)

	out := make(map[string]*Confirmation, len(results))
	for _, conf := range results {
		if conf != nil {
			out[conf.CandidateID] = conf
		}
	}
	return out
}
