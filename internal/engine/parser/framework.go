// # internal/engine/parser/framework.go
package parser

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// cargoManifest is the subset of Cargo.toml the framework detector reads.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies map[string]any `toml:"dependencies"`
}

// DetectFramework inspects the manifests under root and classifies the
// program. Anchor wins over native when both markers are present, since an
// anchor-lang dependency implies the Anchor runtime even if solana-program
// is also pulled in. The second return value is the manifest package name,
// used as the program name when no #[program] module exists.
func DetectFramework(root string) (Framework, string) {
	fw := FrameworkUnknown
	name := ""

	if fileExists(filepath.Join(root, "Anchor.toml")) {
		fw = FrameworkAnchor
	}

	for _, manifestPath := range findCargoManifests(root) {
		var m cargoManifest
		if _, err := toml.DecodeFile(manifestPath, &m); err != nil {
			slog.Debug("unreadable Cargo manifest", "path", manifestPath, "error", err)
			continue
		}
		if name == "" {
			name = m.Package.Name
		}
		if _, ok := m.Dependencies["anchor-lang"]; ok {
			fw = FrameworkAnchor
			if m.Package.Name != "" {
				name = m.Package.Name
			}
			break
		}
		if _, ok := m.Dependencies["solana-program"]; ok && fw == FrameworkUnknown {
			fw = FrameworkNative
		}
	}
	return fw, name
}

// findCargoManifests collects every Cargo.toml under root, skipping build
// output. Workspace manifests sort before member manifests because the walk
// is depth-ordered, so member package names override the empty workspace
// entry.
func findCargoManifests(root string) []string {
	var manifests []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case "target", "node_modules", ".git", ".anchor":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == "Cargo.toml" {
			manifests = append(manifests, path)
		}
		return nil
	})
	sort.Strings(manifests)
	return manifests
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
