// # internal/engine/parser/loader.go
package parser

import (
	"fmt"
	"sort"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
)

// LanguageSpec describes a source language the audit engine can parse.
// Solana programs are Rust, so the registry carries a single entry; the
// shape stays table-driven so another grammar can slot in later.
type LanguageSpec struct {
	ID         string
	Extensions []string
	Filenames  []string
}

type GrammarLoader struct {
	languages map[string]*sitter.Language
	registry  map[string]LanguageSpec
}

func NewGrammarLoader() *GrammarLoader {
	gl := &GrammarLoader{
		languages: make(map[string]*sitter.Language),
		registry:  make(map[string]LanguageSpec),
	}
	gl.registry["rust"] = LanguageSpec{
		ID:         "rust",
		Extensions: []string{".rs"},
	}
	gl.languages["rust"] = sitter.NewLanguage(tree_sitter_rust.Language())
	return gl
}

// Language returns the grammar for the given registry ID.
func (gl *GrammarLoader) Language(id string) (*sitter.Language, error) {
	lang, ok := gl.languages[id]
	if !ok {
		return nil, fmt.Errorf("language %q is not registered", id)
	}
	return lang, nil
}

func (gl *GrammarLoader) SupportedExtensions() []string {
	set := make(map[string]bool)
	for _, spec := range gl.registry {
		for _, ext := range spec.Extensions {
			set[ext] = true
		}
	}
	extensions := make([]string, 0, len(set))
	for ext := range set {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return extensions
}
