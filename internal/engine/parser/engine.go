package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// NodeHandler processes a node for the extractor.
// Returns true if the handler has processed children and the walker should stop.
type NodeHandler func(ctx *ExtractionContext, node *sitter.Node) bool

// ExtractionContext carries shared state/helpers used by all handlers.
type ExtractionContext struct {
	Source            []byte
	File              *FileModel
	ProcessedChildren bool // If true, the walker will skip this node's children
}

func (c *ExtractionContext) ResetProcessedChildren() {
	c.ProcessedChildren = false
}

// ExtractorEngine walks the syntax tree and dispatches node handlers by kind.
type ExtractorEngine struct {
	handlers map[string]NodeHandler
}

func NewExtractorEngine(handlers map[string]NodeHandler) *ExtractorEngine {
	return &ExtractorEngine{handlers: handlers}
}

func (e *ExtractorEngine) Walk(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil {
		return
	}

	ctx.ResetProcessedChildren()
	stop := false
	if handler, ok := e.handlers[node.Kind()]; ok {
		stop = handler(ctx, node)
	}

	if !stop && !ctx.ProcessedChildren {
		for i := uint(0); i < node.ChildCount(); i++ {
			e.Walk(ctx, node.Child(i))
		}
	}
}

func (c *ExtractionContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.Source[node.StartByte():node.EndByte()])
}

// Ref returns the 1-based inclusive line span of a node.
func (c *ExtractionContext) Ref(node *sitter.Node) SourceRef {
	return SourceRef{
		File:      c.File.Path,
		StartLine: int(node.StartPosition().Row) + 1,
		EndLine:   int(node.EndPosition().Row) + 1,
	}
}

// ChildText returns the text of the named grammar field, or "" when absent.
func (c *ExtractionContext) ChildText(node *sitter.Node, field string) string {
	if node == nil {
		return ""
	}
	return c.Text(node.ChildByFieldName(field))
}

// attribute is one #[...] annotation split into its path and raw argument
// text (parentheses stripped, "" when absent).
type attribute struct {
	Name string
	Args string
}

// Attributes collects the attribute_item siblings immediately preceding node.
// The grammar attaches attributes as prior siblings of the item they
// annotate, both at item level and inside field declaration lists.
func (c *ExtractionContext) Attributes(node *sitter.Node) []attribute {
	var attrs []attribute
	for prev := node.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		kind := prev.Kind()
		if kind == "line_comment" || kind == "block_comment" {
			continue
		}
		if kind != "attribute_item" {
			break
		}
		if attr, ok := c.parseAttribute(prev); ok {
			// Prepend to keep source order.
			attrs = append([]attribute{attr}, attrs...)
		}
	}
	return attrs
}

func (c *ExtractionContext) parseAttribute(item *sitter.Node) (attribute, bool) {
	var inner *sitter.Node
	for i := uint(0); i < item.NamedChildCount(); i++ {
		child := item.NamedChild(i)
		if child.Kind() == "attribute" {
			inner = child
			break
		}
	}
	if inner == nil {
		return attribute{}, false
	}

	text := c.Text(inner)
	name := text
	args := ""
	if open := strings.IndexByte(text, '('); open != -1 {
		name = strings.TrimSpace(text[:open])
		args = strings.TrimSpace(text[open:])
		args = strings.TrimPrefix(args, "(")
		args = strings.TrimSuffix(args, ")")
	}
	return attribute{Name: name, Args: args}, true
}

// DocComment returns the /// lines preceding node, joined. Attribute items
// between the docs and the node are skipped; docs and attributes interleave
// freely above struct fields.
func (c *ExtractionContext) DocComment(node *sitter.Node) string {
	var lines []string
	for prev := node.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		kind := prev.Kind()
		if kind == "attribute_item" {
			continue
		}
		if kind != "line_comment" {
			break
		}
		text := c.Text(prev)
		if !strings.HasPrefix(text, "///") {
			break
		}
		lines = append([]string{strings.TrimSpace(strings.TrimPrefix(text, "///"))}, lines...)
	}
	return strings.Join(lines, "\n")
}

func hasAttribute(attrs []attribute, name string) bool {
	for _, a := range attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

func attributeArgs(attrs []attribute, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Args, true
		}
	}
	return "", false
}
