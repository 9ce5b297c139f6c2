// Package progress reports coarse pipeline progress to an optional callback.
package progress

// Stage names are stable identifiers consumed by callers (CLI spinner,
// worker heartbeats). Percents are anchors, not measurements.
const (
	StageParse      = "parse"
	StageCandidates = "candidates"
	StageSelect     = "select"
	StageConfirm    = "confirm"
	StageAssemble   = "assemble"
	StagePatch      = "patch"
	StageReport     = "report"
	StageDone       = "done"
)

var stagePercent = map[string]int{
	StageParse:      15,
	StageCandidates: 35,
	StageSelect:     45,
	StageConfirm:    58,
	StageAssemble:   70,
	StagePatch:      78,
	StageReport:     92,
	StageDone:       100,
}

// Func receives stage transitions. Implementations must be fast and must not
// panic; the pipeline calls them inline.
type Func func(stage string, percent int, message string)

// Report invokes fn if non-nil, resolving the stage's percent anchor.
// Unknown stages report percent 0.
func Report(fn Func, stage, message string) {
	if fn == nil {
		return
	}
	fn(stage, stagePercent[stage], message)
}

// Percent returns the anchor for a stage, 0 if unknown.
func Percent(stage string) int {
	return stagePercent[stage]
}
