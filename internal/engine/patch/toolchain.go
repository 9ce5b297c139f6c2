// # internal/engine/patch/toolchain.go
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/util"
)

const outputCharBudget = 4000

// buildCommand picks the build for the checkout layout: anchor build when an
// Anchor.toml is present, cargo build for a bare Cargo workspace. ok=false
// means no recognizable build manifest.
func buildCommand(checkout string) (string, []string, bool) {
	if fileExists(filepath.Join(checkout, "Anchor.toml")) {
		return "anchor", []string{"build"}, true
	}
	if fileExists(filepath.Join(checkout, "Cargo.toml")) {
		return "cargo", []string{"build"}, true
	}
	return "", nil, false
}

// testCommand mirrors buildCommand for the best-effort test gate.
func testCommand(checkout string) (string, []string, bool) {
	if fileExists(filepath.Join(checkout, "Anchor.toml")) {
		return "anchor", []string{"test", "--skip-deploy"}, true
	}
	if fileExists(filepath.Join(checkout, "Cargo.toml")) {
		return "cargo", []string{"test"}, true
	}
	return "", nil, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func toolAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// runCommand executes name in dir under a hard timeout and returns combined
// output, truncated so a verbose compiler cannot flood result records.
func runCommand(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	text := util.Truncate(string(out), outputCharBudget)

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return text, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		return text, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return text, nil
}
