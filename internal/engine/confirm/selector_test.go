package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/candidates"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/llm"
)

// stubCompleter records every request and answers via handler.
type stubCompleter struct {
	mu      sync.Mutex
	calls   []llm.Request
	handler func(req llm.Request) (string, error)
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.handler(req)
}

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// rankedPool builds n candidates in strictly descending confidence so pool
// index equals rank.
func rankedPool(n int) []candidates.VulnCandidate {
	pool := make([]candidates.VulnCandidate, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, makeCand(
			fmt.Sprintf("cand-%03d", i),
			candidates.ClassUncheckedAccount,
			candidates.SeverityHigh,
			0.9-float64(i)*0.01,
		))
	}
	return pool
}

func selectionJSON(ids ...string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"id":%q,"reason":"worth a look"}`, id))
	}
	return `{"selected":[` + strings.Join(parts, ",") + `]}`
}

func testLLMConfig() config.LLM {
	return config.LLM{
		SelectionPool:     40,
		SelectionBatch:    15,
		SelectionHeadroom: 1.5,
		Budget:            10,
		Concurrency:       3,
	}
}

func TestBatchTarget(t *testing.T) {
	tests := []struct {
		batchLen, poolLen, budget int
		headroom                  float64
		want                      int
	}{
		{15, 40, 10, 1.5, 6},  // round(10 * 15/40 * 1.5) = round(5.625)
		{10, 40, 10, 1.5, 4},  // round(3.75)
		{40, 40, 10, 1.5, 15}, // round(15), within batch
		{1, 40, 10, 1.5, 1},   // round(0.375) clamps up to 1
		{15, 15, 10, 1.5, 15}, // round(15) clamps down to batch size
		{0, 40, 10, 1.5, 0},
	}
	for _, tc := range tests {
		got := batchTarget(tc.batchLen, tc.poolLen, tc.budget, tc.headroom)
		if got != tc.want {
			t.Errorf("batchTarget(%d, %d, %d, %.1f) = %d, want %d",
				tc.batchLen, tc.poolLen, tc.budget, tc.headroom, got, tc.want)
		}
	}
}

func TestChunkCandidates(t *testing.T) {
	pool := rankedPool(40)
	chunks := chunkCandidates(pool, 15)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	sizes := []int{len(chunks[0]), len(chunks[1]), len(chunks[2])}
	if sizes[0] != 15 || sizes[1] != 15 || sizes[2] != 10 {
		t.Errorf("chunk sizes = %v, want [15 15 10]", sizes)
	}
	if chunks[2][9].ID != pool[39].ID {
		t.Errorf("last chunk last entry = %s, want %s", chunks[2][9].ID, pool[39].ID)
	}

	if got := len(chunkCandidates(pool, 0)); got != 3 {
		t.Errorf("zero size fell back to %d chunks, want 3 (default 15)", got)
	}
}

func TestSelectCandidatesUnderBudgetSkipsService(t *testing.T) {
	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return "", errors.New("must not be called")
	}}
	pool := rankedPool(5)

	got := selectCandidates(context.Background(), stub, pool, testLLMConfig())
	if len(got) != 5 {
		t.Fatalf("got %d candidates, want all 5", len(got))
	}
	if stub.callCount() != 0 {
		t.Errorf("service called %d times, want 0", stub.callCount())
	}
}

func TestSelectCandidatesTruncatesOverBudget(t *testing.T) {
	// Two batches of 10. Each batch target is round(3 * 0.5 * 1.5) = 2, so
	// the stub's extra ids are capped and the merged set is four: cand-000,
	// cand-002, cand-010, cand-012. Budget 3 truncates by confidence.
	pool := rankedPool(20)
	cfg := testLLMConfig()
	cfg.SelectionBatch = 10
	cfg.Budget = 3

	stub := &stubCompleter{handler: func(req llm.Request) (string, error) {
		if strings.Contains(req.User, "cand-000") {
			return selectionJSON("cand-000", "cand-002", "cand-004", "cand-006"), nil
		}
		return selectionJSON("cand-010", "cand-012", "cand-014", "cand-016"), nil
	}}

	got := selectCandidates(context.Background(), stub, pool, cfg)
	if len(got) != 3 {
		t.Fatalf("got %d selected, want 3", len(got))
	}
	wantIDs := []string{"cand-000", "cand-002", "cand-010"}
	for i, want := range wantIDs {
		if got[i].ID != want {
			t.Errorf("selected[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestSelectCandidatesBackfillsUnderBudget(t *testing.T) {
	pool := rankedPool(20)
	cfg := testLLMConfig()
	cfg.SelectionBatch = 20
	cfg.Budget = 3

	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return selectionJSON("cand-007"), nil
	}}

	got := selectCandidates(context.Background(), stub, pool, cfg)
	if len(got) != 3 {
		t.Fatalf("got %d selected, want 3", len(got))
	}
	wantIDs := []string{"cand-000", "cand-001", "cand-007"}
	for i, want := range wantIDs {
		if got[i].ID != want {
			t.Errorf("selected[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestSelectCandidatesFailOpen(t *testing.T) {
	pool := rankedPool(20)
	cfg := testLLMConfig()
	cfg.Budget = 5

	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return "", errors.New("service down")
	}}

	got := selectCandidates(context.Background(), stub, pool, cfg)
	if len(got) != 5 {
		t.Fatalf("got %d selected, want budget 5", len(got))
	}
	for i, c := range got {
		if c.ID != pool[i].ID {
			t.Errorf("selected[%d] = %s, want deterministic top %s", i, c.ID, pool[i].ID)
		}
	}
}

func TestSelectBatchRejectsHallucinatedIDs(t *testing.T) {
	pool := rankedPool(6)
	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return selectionJSON("cand-999", "not-an-id"), nil
	}}

	ids := selectBatch(context.Background(), stub, pool, 2)
	want := []string{"cand-000", "cand-001"}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestSelectBatchUnparseableReply(t *testing.T) {
	pool := rankedPool(4)
	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return "I would pick the first two, they look dangerous.", nil
	}}

	ids := selectBatch(context.Background(), stub, pool, 2)
	if len(ids) != 2 || ids[0] != "cand-000" || ids[1] != "cand-001" {
		t.Errorf("ids = %v, want deterministic top 2", ids)
	}
}

func TestSelectBatchCapsAtTarget(t *testing.T) {
	pool := rankedPool(6)
	stub := &stubCompleter{handler: func(llm.Request) (string, error) {
		return selectionJSON("cand-000", "cand-001", "cand-002", "cand-003", "cand-004"), nil
	}}

	ids := selectBatch(context.Background(), stub, pool, 3)
	if len(ids) != 3 {
		t.Errorf("got %d ids, want target cap 3", len(ids))
	}
}
