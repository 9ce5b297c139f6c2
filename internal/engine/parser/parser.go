// # internal/engine/parser/parser.go
package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/errors"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

const maxParseWorkers = 8

// Parser turns a Solana program tree into a ParsedProgram. Files parse
// independently on a worker pool; only the final resolution pass is serial.
type Parser struct {
	loader    *GrammarLoader
	pool      *ParserPool
	extractor *RustExtractor
	opts      DiscoverOptions
	workers   int
}

// New builds a Parser. workers <= 0 sizes the pool to the available cores.
func New(opts DiscoverOptions, workers int) (*Parser, error) {
	loader := NewGrammarLoader()
	lang, err := loader.Language("rust")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeGrammar, "rust grammar unavailable")
	}
	return &Parser{
		loader:    loader,
		pool:      NewParserPool(lang),
		extractor: NewRustExtractor(),
		opts:      opts,
		workers:   workers,
	}, nil
}

// ParseProgram discovers, parses, and resolves every source file under root.
// A tree with no sources yields an empty ParsedProgram, not an error; the
// caller decides whether an empty program is worth continuing with. Per-file
// failures become diagnostics.
func (p *Parser) ParseProgram(ctx context.Context, root string) (*ParsedProgram, error) {
	start := time.Now()

	paths, err := DiscoverSources(root, p.loader.SupportedExtensions(), p.opts)
	if err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeInternal, "source discovery failed"),
			errors.CtxPath, root)
	}
	framework, manifestName := DetectFramework(root)
	if len(paths) == 0 {
		return &ParsedProgram{Name: manifestName, Framework: framework}, nil
	}

	models := make([]*FileModel, len(paths))
	var mu sync.Mutex
	var diags []string

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.workerCount(len(paths)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				model, err := p.parseFile(root, paths[idx])
				if err != nil {
					observability.FilesSkippedTotal.WithLabelValues("parse_error").Inc()
					mu.Lock()
					diags = append(diags, fmt.Sprintf("%s: %v", paths[idx], err))
					mu.Unlock()
					continue
				}
				models[idx] = model
			}
		}()
	}

dispatch:
	for i := range paths {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog := resolveProgram(models, framework, manifestName)
	prog.Diagnostics = append(prog.Diagnostics, diags...)

	observability.ParsingDuration.WithLabelValues(string(prog.Framework)).
		Observe(time.Since(start).Seconds())
	observability.SinksDetected.Set(float64(len(prog.Sinks)))
	return prog, nil
}

func (p *Parser) workerCount(jobs int) int {
	workers := p.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > maxParseWorkers {
		workers = maxParseWorkers
	}
	if workers > jobs {
		workers = jobs
	}
	return workers
}

// parseFile reads and parses a single source file. The stored path is
// root-relative so sink ids and fingerprints stay stable across checkouts.
func (p *Parser) parseFile(root, path string) (*FileModel, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	sp := p.pool.Get()
	defer p.pool.Put(sp)
	tree := sp.Parse(content, nil)
	if tree == nil {
		return nil, errors.AddContext(
			errors.New(errors.CodeGrammar, "tree-sitter produced no tree"),
			errors.CtxPath, rel)
	}
	defer tree.Close()

	model := p.extractor.Extract(tree.RootNode(), content, rel)
	observability.FilesParsedTotal.Inc()
	return model, nil
}
