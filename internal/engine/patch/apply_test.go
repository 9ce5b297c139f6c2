// # internal/engine/patch/apply_test.go
package patch

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const vaultSource = `fn withdraw(amount: u64) {
    let balance = 100;
    let remaining = balance - amount;
    emit(remaining);
}
`

const checkedMathDiff = `--- a/src/lib.rs
+++ b/src/lib.rs
@@ -1,5 +1,5 @@
 fn withdraw(amount: u64) {
     let balance = 100;
-    let remaining = balance - amount;
+    let remaining = balance.checked_sub(amount).unwrap();
     emit(remaining);
 }
`

// saturatingMathDiff rewrites the same line as checkedMathDiff, so it can
// only apply while that line is still in its original form.
const saturatingMathDiff = `--- a/src/lib.rs
+++ b/src/lib.rs
@@ -1,5 +1,5 @@
 fn withdraw(amount: u64) {
     let balance = 100;
-    let remaining = balance - amount;
+    let remaining = balance.saturating_sub(amount);
     emit(remaining);
 }
`

const newFileDiff = `--- /dev/null
+++ b/src/guard.rs
@@ -0,0 +1,2 @@
+fn guard() {
+}
`

// initCheckout lays out files under a fresh git work tree.
func initCheckout(t *testing.T, files map[string]string) string {
	t.Helper()
	if !IsGitAvailable() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	if out, err := exec.Command("git", "-C", dir, "init", "-q").CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDiffFiles(t *testing.T) {
	multi := `--- a/src/a.rs
+++ b/src/a.rs
@@ -1,1 +1,1 @@
-old
+new
--- a/src/b.rs
+++ b/src/b.rs
@@ -1,1 +1,1 @@
-old
+new
`
	files, err := diffFiles(Diff{File: "src/a.rs", Unified: multi})
	if err != nil {
		t.Fatalf("diffFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "src/a.rs" || files[1] != "src/b.rs" {
		t.Fatalf("files = %v, want [src/a.rs src/b.rs]", files)
	}

	files, err = diffFiles(Diff{File: "src/guard.rs", Unified: newFileDiff})
	if err != nil {
		t.Fatalf("diffFiles new file: %v", err)
	}
	if len(files) != 1 || files[0] != "src/guard.rs" {
		t.Fatalf("new-file diff files = %v, want [src/guard.rs]", files)
	}

	if _, err := diffFiles(Diff{File: "x", Unified: "not a diff at all"}); err == nil {
		t.Fatal("expected an error for unparseable diff text")
	}
}

func TestStripDiffPrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a/src/lib.rs", "src/lib.rs"},
		{"b/src/lib.rs", "src/lib.rs"},
		{"/dev/null", "/dev/null"},
		{"plain.rs", "plain.rs"},
	}
	for _, tc := range cases {
		if got := stripDiffPrefix(tc.in); got != tc.want {
			t.Errorf("stripDiffPrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnapshotRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "src", "lib.rs")
	if err := os.MkdirAll(filepath.Dir(libPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(libPath, []byte(vaultSource), 0o644); err != nil {
		t.Fatal(err)
	}

	ap := &applier{checkout: dir}
	snap, err := ap.snapshot([]Diff{
		{File: "src/lib.rs", Unified: checkedMathDiff},
		{File: "src/guard.rs", Unified: newFileDiff},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap["src/lib.rs"] == nil {
		t.Fatal("existing file should have a snapshot entry")
	}
	if snap["src/guard.rs"] != nil {
		t.Fatal("not-yet-existing file should snapshot as nil")
	}

	// Mutate the tree the way a bad apply would.
	if err := os.WriteFile(libPath, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	guardPath := filepath.Join(dir, "src", "guard.rs")
	if err := os.WriteFile(guardPath, []byte("fn guard() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ap.restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(libPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != vaultSource {
		t.Fatalf("restored content = %q, want original source", got)
	}
	if _, err := os.Stat(guardPath); !os.IsNotExist(err) {
		t.Fatalf("created file should be removed on restore, stat err = %v", err)
	}
}

func TestApplyAndConflictRollback(t *testing.T) {
	dir := initCheckout(t, map[string]string{"src/lib.rs": vaultSource})
	ap := &applier{checkout: dir}

	diffs := []Diff{
		{File: "src/lib.rs", Unified: checkedMathDiff},
		{File: "src/lib.rs", Unified: saturatingMathDiff},
	}
	scratchDir, scratchPaths, err := writeScratch(diffs)
	if err != nil {
		t.Fatalf("writeScratch: %v", err)
	}
	defer os.RemoveAll(scratchDir)

	// Both dry-run cleanly against the pristine tree.
	for i, scratch := range scratchPaths {
		relaxed, err := ap.checkApply(scratch)
		if err != nil {
			t.Fatalf("checkApply %d: %v", i, err)
		}
		if relaxed {
			t.Fatalf("checkApply %d needed whitespace relaxation", i)
		}
	}

	snap, err := ap.snapshot(diffs)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := ap.apply(scratchPaths[0], false); err != nil {
		t.Fatalf("apply first diff: %v", err)
	}
	if err := ap.apply(scratchPaths[1], false); err == nil {
		t.Fatal("second diff rewrites the same line and must fail to apply")
	}
	if err := ap.restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "src", "lib.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != vaultSource {
		t.Fatalf("checkout differs from pre-apply state:\n%s", got)
	}
}

func TestCheckApplyWhitespaceFallback(t *testing.T) {
	dir := initCheckout(t, map[string]string{"src/lib.rs": vaultSource})
	ap := &applier{checkout: dir}

	// Context indented with a tab where the file uses spaces.
	shifted := strings.ReplaceAll(checkedMathDiff, "     let balance = 100;", " \tlet balance = 100;")
	scratchDir, scratchPaths, err := writeScratch([]Diff{{File: "src/lib.rs", Unified: shifted}})
	if err != nil {
		t.Fatalf("writeScratch: %v", err)
	}
	defer os.RemoveAll(scratchDir)

	relaxed, err := ap.checkApply(scratchPaths[0])
	if err != nil {
		t.Fatalf("checkApply: %v", err)
	}
	if !relaxed {
		t.Fatal("whitespace-shifted context should require the relaxed mode")
	}
	if err := ap.apply(scratchPaths[0], true); err != nil {
		t.Fatalf("relaxed apply: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "src", "lib.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "checked_sub") {
		t.Fatalf("fix not present after relaxed apply:\n%s", got)
	}
}

func TestCheckApplyRejectsMismatchedContext(t *testing.T) {
	dir := initCheckout(t, map[string]string{"src/lib.rs": "fn other() {}\n"})
	ap := &applier{checkout: dir}

	scratchDir, scratchPaths, err := writeScratch([]Diff{{File: "src/lib.rs", Unified: checkedMathDiff}})
	if err != nil {
		t.Fatalf("writeScratch: %v", err)
	}
	defer os.RemoveAll(scratchDir)

	if _, err := ap.checkApply(scratchPaths[0]); err == nil {
		t.Fatal("diff context absent from the file should fail both check modes")
	}
}

func TestWriteScratch(t *testing.T) {
	dir, paths, err := writeScratch([]Diff{
		{File: "src/a.rs", Unified: checkedMathDiff},
		{File: "src/guard.rs", Unified: newFileDiff},
	})
	if err != nil {
		t.Fatalf("writeScratch: %v", err)
	}
	defer os.RemoveAll(dir)

	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}
	if filepath.Base(paths[0]) != "patch-00.diff" || filepath.Base(paths[1]) != "patch-01.diff" {
		t.Fatalf("scratch names = %v", paths)
	}
	data, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != newFileDiff {
		t.Fatalf("scratch content mismatch:\n%s", data)
	}
}
