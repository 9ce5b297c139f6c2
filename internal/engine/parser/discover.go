// # internal/engine/parser/discover.go
package parser

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

// DiscoverOptions carries the scan filters applied while walking a program
// tree. Patterns are globs matched against path base names.
type DiscoverOptions struct {
	ExcludeDirs  []string
	ExcludeFiles []string
	// MaxFileSize skips source files larger than this many bytes. Zero
	// disables the ceiling.
	MaxFileSize int64
}

// DiscoverSources walks root and returns the source files matching the
// supported extensions, in lexical order.
func DiscoverSources(root string, extensions []string, opts DiscoverOptions) ([]string, error) {
	dirGlobs, err := compileGlobs(opts.ExcludeDirs, "exclude dir")
	if err != nil {
		return nil, err
	}
	fileGlobs, err := compileGlobs(opts.ExcludeFiles, "exclude file")
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[ext] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		base := filepath.Base(path)
		if d.IsDir() {
			for _, g := range dirGlobs {
				if g.Match(base) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !extSet[filepath.Ext(path)] {
			return nil
		}
		for _, g := range fileGlobs {
			if g.Match(base) {
				return nil
			}
		}

		if opts.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() > opts.MaxFileSize {
				slog.Warn("skipping oversized source file",
					"path", path, "size", info.Size(), "limit", opts.MaxFileSize)
				observability.FilesSkippedTotal.WithLabelValues("too_large").Inc()
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func compileGlobs(patterns []string, kind string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
