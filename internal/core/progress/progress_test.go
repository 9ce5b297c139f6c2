package progress

import "testing"

func TestReport(t *testing.T) {
	var gotStage string
	var gotPercent int
	fn := Func(func(stage string, percent int, message string) {
		gotStage = stage
		gotPercent = percent
	})

	Report(fn, StageConfirm, "confirming 8 candidates")
	if gotStage != StageConfirm {
		t.Errorf("expected stage %s, got %s", StageConfirm, gotStage)
	}
	if gotPercent != 58 {
		t.Errorf("expected percent 58, got %d", gotPercent)
	}
}

func TestReportNilCallback(t *testing.T) {
	// Must not panic.
	Report(nil, StageParse, "ignored")
}

func TestPercentUnknownStage(t *testing.T) {
	if Percent("nope") != 0 {
		t.Errorf("expected 0 for unknown stage, got %d", Percent("nope"))
	}
}

func TestStageOrdering(t *testing.T) {
	order := []string{
		StageParse, StageCandidates, StageSelect, StageConfirm,
		StageAssemble, StagePatch, StageReport, StageDone,
	}
	prev := -1
	for _, stage := range order {
		pct := Percent(stage)
		if pct <= prev {
			t.Errorf("stage %s percent %d does not advance past %d", stage, pct, prev)
		}
		prev = pct
	}
}
