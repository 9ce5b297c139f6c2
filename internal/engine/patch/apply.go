// # internal/engine/patch/apply.go
// Working-tree mutation for one validation attempt: scratch diff files,
// dry-run checks, real application, and byte-identical rollback from an
// in-memory snapshot taken before anything is touched.
package patch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// IsGitAvailable reports whether the `git` binary is accessible via PATH.
// The apply gates cannot run without it.
func IsGitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

type applier struct {
	checkout string
}

type fileSnapshot struct {
	data []byte
	mode os.FileMode
}

// diffFiles lists the checkout-relative paths a unified diff touches.
func diffFiles(d Diff) ([]string, error) {
	fds, err := godiff.ParseMultiFileDiff([]byte(d.Unified))
	if err != nil {
		return nil, fmt.Errorf("parse diff for %q: %w", d.File, err)
	}
	var files []string
	for _, fd := range fds {
		name := stripDiffPrefix(fd.NewName)
		if name == "" || name == "/dev/null" {
			name = stripDiffPrefix(fd.OrigName)
		}
		if name != "" && name != "/dev/null" {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("diff for %q names no files", d.File)
	}
	return files, nil
}

func stripDiffPrefix(name string) string {
	if rest, ok := strings.CutPrefix(name, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "b/"); ok {
		return rest
	}
	return name
}

// snapshot captures the current bytes and mode of every file the diffs
// touch. Files the diffs would create map to nil, so restore removes them.
func (ap *applier) snapshot(diffs []Diff) (map[string]*fileSnapshot, error) {
	snap := make(map[string]*fileSnapshot)
	for _, d := range diffs {
		files, err := diffFiles(d)
		if err != nil {
			return nil, err
		}
		for _, rel := range files {
			if _, seen := snap[rel]; seen {
				continue
			}
			path := filepath.Join(ap.checkout, filepath.FromSlash(rel))
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					snap[rel] = nil
					continue
				}
				return nil, fmt.Errorf("snapshot %s: %w", rel, err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", rel, err)
			}
			snap[rel] = &fileSnapshot{data: data, mode: info.Mode().Perm()}
		}
	}
	return snap, nil
}

// restore puts every snapshotted file back byte-for-byte and removes files
// that did not exist before the attempt.
func (ap *applier) restore(snap map[string]*fileSnapshot) error {
	var firstErr error
	for rel, s := range snap {
		path := filepath.Join(ap.checkout, filepath.FromSlash(rel))
		var err error
		if s == nil {
			err = os.Remove(path)
			if os.IsNotExist(err) {
				err = nil
			}
		} else {
			err = os.WriteFile(path, s.data, s.mode)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	return firstErr
}

// checkApply dry-runs the scratch diff, strict first, then with whitespace
// relaxed. It reports whether the relaxed mode is needed; the real apply
// must use the same mode.
func (ap *applier) checkApply(scratch string) (bool, error) {
	_, strictErr := ap.git("apply", "--check", scratch)
	if strictErr == nil {
		return false, nil
	}
	if _, err := ap.git("apply", "--check", "--ignore-whitespace", scratch); err == nil {
		return true, nil
	}
	return false, strictErr
}

func (ap *applier) apply(scratch string, relaxed bool) error {
	args := []string{"apply"}
	if relaxed {
		args = append(args, "--ignore-whitespace")
	}
	args = append(args, scratch)
	_, err := ap.git(args...)
	return err
}

func (ap *applier) git(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", ap.checkout}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// writeScratch writes each diff to its own file under a fresh temp dir.
// Callers own removal of the returned dir.
func writeScratch(diffs []Diff) (string, []string, error) {
	dir, err := os.MkdirTemp("", "solaudit-patch-*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	paths := make([]string, 0, len(diffs))
	for i, d := range diffs {
		path := filepath.Join(dir, fmt.Sprintf("patch-%02d.diff", i))
		if err := os.WriteFile(path, []byte(d.Unified), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("write scratch diff: %w", err)
		}
		paths = append(paths, path)
	}
	return dir, paths, nil
}
