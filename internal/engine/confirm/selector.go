// # internal/engine/confirm/selector.go
// Stage A of the confirmation loop: cut the ranked candidate list down to
// the deep-dive budget. The pool is split into small batches because one
// prompt cannot reliably rank a long unordered list. Every service failure
// degrades to the deterministic ranking, so selection quality never depends
// solely on service availability.
package confirm

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

type selectionReply struct {
	Selected []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"selected"`
}

// selectCandidates returns at most cfg.Budget candidates. cands must already
// be in generator rank order; the result preserves that order.
func selectCandidates(ctx context.Context, client completer, cands []candidates.VulnCandidate, cfg config.LLM) []candidates.VulnCandidate {
	pool := cands
	if cfg.SelectionPool > 0 && len(pool) > cfg.SelectionPool {
		pool = pool[:cfg.SelectionPool]
	}
	budget := cfg.Budget
	if budget <= 0 || len(pool) <= budget {
		observability.CandidatesSelected.Set(float64(len(pool)))
		return pool
	}

	selected := make(map[string]bool)
	for _, batch := range chunkCandidates(pool, cfg.SelectionBatch) {
		target := batchTarget(len(batch), len(pool), budget, cfg.SelectionHeadroom)
		for _, id := range selectBatch(ctx, client, batch, target) {
			selected[id] = true
		}
	}

	merged := mergeSelection(pool, selected, budget)
	observability.CandidatesSelected.Set(float64(len(merged)))
	return merged
}

// selectBatch asks the service for the ids worth investigating. Call
// failures, unparseable replies, and hallucinated ids all degrade to the top
// of the batch's deterministic ranking.
func selectBatch(ctx context.Context, client completer, batch []candidates.VulnCandidate, target int) []string {
	raw, err := client.Complete(ctx, llm.Request{
		System: selectionSystem,
		User:   buildSelectionPrompt(batch, target),
	})
	if err != nil {
		slog.Warn("selection batch call failed, keeping deterministic ranking",
			"batch_size", len(batch), "error", err)
		return topIDs(batch, target)
	}
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		slog.Warn("selection reply unparseable, keeping deterministic ranking", "batch_size", len(batch))
		return topIDs(batch, target)
	}
	var reply selectionReply
	if err := json.Unmarshal(obj, &reply); err != nil {
		slog.Warn("selection reply schema mismatch, keeping deterministic ranking", "error", err)
		return topIDs(batch, target)
	}

	valid := make(map[string]bool, len(batch))
	for _, c := range batch {
		valid[c.ID] = true
	}
	ids := make([]string, 0, target)
	for _, s := range reply.Selected {
		if valid[s.ID] && len(ids) < target {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return topIDs(batch, target)
	}
	return ids
}

func topIDs(batch []candidates.VulnCandidate, target int) []string {
	if target > len(batch) {
		target = len(batch)
	}
	ids := make([]string, 0, target)
	for _, c := range batch[:target] {
		ids = append(ids, c.ID)
	}
	return ids
}

func chunkCandidates(pool []candidates.VulnCandidate, size int) [][]candidates.VulnCandidate {
	if size <= 0 {
		size = 15
	}
	var chunks [][]candidates.VulnCandidate
	for start := 0; start < len(pool); start += size {
		end := start + size
		if end > len(pool) {
			end = len(pool)
		}
		chunks = append(chunks, pool[start:end])
	}
	return chunks
}

// batchTarget scales the deep-dive budget by the batch's share of the pool,
// with headroom so the merge step has surplus to truncate deterministically.
// Clamped to [1, len(batch)].
func batchTarget(batchLen, poolLen, budget int, headroom float64) int {
	if batchLen == 0 || poolLen == 0 {
		return 0
	}
	share := float64(batchLen) / float64(poolLen)
	target := int(math.Round(float64(budget) * share * headroom))
	if target < 1 {
		target = 1
	}
	if target > batchLen {
		target = batchLen
	}
	return target
}

// mergeSelection applies the budget to the union of the batch selections:
// over budget truncates by (severity weight, confidence), under budget
// backfills from the highest-ranked leftovers. The result keeps pool rank
// order either way.
func mergeSelection(pool []candidates.VulnCandidate, selected map[string]bool, budget int) []candidates.VulnCandidate {
	final := make(map[string]bool, budget)
	count := 0
	for _, c := range pool {
		if selected[c.ID] {
			final[c.ID] = true
			count++
		}
	}

	switch {
	case count > budget:
		ranked := make([]candidates.VulnCandidate, 0, count)
		for _, c := range pool {
			if final[c.ID] {
				ranked = append(ranked, c)
			}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Severity.Weight() != ranked[j].Severity.Weight() {
				return ranked[i].Severity.Weight() > ranked[j].Severity.Weight()
			}
			return ranked[i].Confidence > ranked[j].Confidence
		})
		final = make(map[string]bool, budget)
		for _, c := range ranked[:budget] {
			final[c.ID] = true
		}
	case count < budget:
		for _, c := range pool {
			if count >= budget {
				break
			}
			if !final[c.ID] {
				final[c.ID] = true
				count++
			}
		}
	}

	out := make([]candidates.VulnCandidate, 0, budget)
	for _, c := range pool {
		if final[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
