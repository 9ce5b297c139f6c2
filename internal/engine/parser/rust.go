// # internal/engine/parser/rust.go
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/tree-sitter/go-tree-sitter"
)

const (
	maxBodyLines     = 60
	sinkExcerptLines = 8
)

// RustExtractor builds a FileModel from a parsed Rust source tree. It
// understands both Anchor programs (#[program] modules, #[derive(Accounts)]
// contexts) and native programs (entrypoint! plus process_* handlers).
type RustExtractor struct{}

func NewRustExtractor() *RustExtractor {
	return &RustExtractor{}
}

// Extract walks the tree and returns the per-file model. State that spans
// handlers (instruction indices, local account bindings) lives in a walk
// struct created per call, so one extractor is safe across worker goroutines.
func (re *RustExtractor) Extract(root *sitter.Node, source []byte, path string) *FileModel {
	file := &FileModel{
		Path:  path,
		Lines: countLines(source),
		Hash:  hashBytes(source),
	}
	w := &rustWalk{
		instrIndex: make(map[string]int),
		bindings:   make(map[string]map[string]string),
	}
	ctx := &ExtractionContext{Source: source, File: file}
	engine := NewExtractorEngine(map[string]NodeHandler{
		"use_declaration":          w.useDecl,
		"mod_item":                 w.modItem,
		"struct_item":              w.structItem,
		"function_item":            w.functionItem,
		"call_expression":          w.callExpr,
		"macro_invocation":         w.macroInvocation,
		"enum_item":                w.enumItem,
		"const_item":               w.constItem,
		"let_declaration":          w.letDecl,
		"assignment_expression":    w.assignment,
		"compound_assignment_expr": w.assignment,
	})
	engine.Walk(ctx, root)
	return file
}

type rustWalk struct {
	instrIndex map[string]int
	// bindings maps instruction -> local variable -> ctx.accounts field, so
	// `let vault = &mut ctx.accounts.vault; vault.x = y` still counts as a
	// state write on the vault account.
	bindings map[string]map[string]string
}

func (w *rustWalk) useDecl(ctx *ExtractionContext, node *sitter.Node) bool {
	text := ctx.Text(node)
	if strings.Contains(text, "anchor_lang") || strings.Contains(text, "anchor_spl") {
		ctx.File.UsesAnchor = true
	}
	ctx.ProcessedChildren = true
	return true
}

func (w *rustWalk) modItem(ctx *ExtractionContext, node *sitter.Node) bool {
	if hasAttribute(ctx.Attributes(node), "program") {
		ctx.File.ProgramModule = ctx.ChildText(node, "name")
	}
	return false
}

func (w *rustWalk) structItem(ctx *ExtractionContext, node *sitter.Node) bool {
	attrs := ctx.Attributes(node)
	derive, _ := attributeArgs(attrs, "derive")
	if !strings.Contains(derive, "Accounts") {
		// State structs carry no instruction wiring of their own.
		ctx.ProcessedChildren = true
		return true
	}
	acct := AccountStruct{
		Name: ctx.ChildText(node, "name"),
		Ref:  ctx.Ref(node),
	}
	if body := node.ChildByFieldName("body"); body != nil {
		for i := uint(0); i < body.NamedChildCount(); i++ {
			fieldNode := body.NamedChild(i)
			if fieldNode.Kind() != "field_declaration" {
				continue
			}
			field := w.accountField(ctx, fieldNode)
			for _, c := range field.Constraints {
				switch c.Kind {
				case ConstraintInit:
					acct.HasInit = true
				case ConstraintClose:
					acct.HasClose = true
				}
			}
			acct.Fields = append(acct.Fields, field)
		}
	}
	ctx.File.Accounts = append(ctx.File.Accounts, acct)
	ctx.ProcessedChildren = true
	return true
}

func (w *rustWalk) accountField(ctx *ExtractionContext, node *sitter.Node) AccountField {
	rawType := ctx.ChildText(node, "type")
	wrapper, inner := resolveWrapper(rawType)
	field := AccountField{
		Name:      ctx.ChildText(node, "name"),
		RawType:   rawType,
		Wrapper:   wrapper,
		InnerType: inner,
		Ref:       ctx.Ref(node),
	}
	if args, ok := attributeArgs(ctx.Attributes(node), "account"); ok && args != "" {
		field.Constraints = ParseConstraints(args)
	}
	field.IsSigner = wrapper == WrapperSigner
	for _, c := range field.Constraints {
		switch c.Kind {
		case ConstraintSigner:
			field.IsSigner = true
		case ConstraintMut, ConstraintInit:
			field.IsMut = true
		}
	}
	if doc := ctx.DocComment(node); strings.Contains(doc, "CHECK") {
		field.DocChecked = true
	}
	return field
}

func (w *rustWalk) functionItem(ctx *ExtractionContext, node *sitter.Node) bool {
	name := ctx.ChildText(node, "name")
	if name == "" {
		return false
	}
	params, ctxType := w.parameters(ctx, node)
	isInstruction := false
	switch {
	case ctxType != "" && insideProgramModule(ctx, node):
		isInstruction = true
	case strings.HasPrefix(name, "process_"):
		isInstruction = true
	}
	if !isInstruction {
		return false
	}
	instr := Instruction{
		Name:    name,
		Ref:     ctx.Ref(node),
		Context: ctxType,
		Params:  params,
	}
	if body := node.ChildByFieldName("body"); body != nil {
		instr.Body = excerptLines(ctx.Text(body), maxBodyLines)
	}
	w.instrIndex[name] = len(ctx.File.Instructions)
	ctx.File.Instructions = append(ctx.File.Instructions, instr)
	return false
}

func (w *rustWalk) parameters(ctx *ExtractionContext, fn *sitter.Node) ([]Param, string) {
	paramsNode := fn.ChildByFieldName("parameters")
	if paramsNode == nil {
		return nil, ""
	}
	var out []Param
	ctxType := ""
	for i := uint(0); i < paramsNode.NamedChildCount(); i++ {
		p := paramsNode.NamedChild(i)
		if p.Kind() != "parameter" {
			continue
		}
		typeText := ctx.ChildText(p, "type")
		if t := contextTypeName(typeText); t != "" {
			ctxType = t
			continue
		}
		out = append(out, Param{Name: ctx.ChildText(p, "pattern"), Type: typeText})
	}
	return out, ctxType
}

func (w *rustWalk) callExpr(ctx *ExtractionContext, node *sitter.Node) bool {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return false
	}
	callee := ctx.Text(fnNode)
	if callee == "" {
		return false
	}
	instr := enclosingFunction(ctx, node)
	callText := ctx.Text(node)

	w.recordCall(ctx, instr, callee)

	if kind, ok := classifySinkCall(callee); ok {
		w.addSink(ctx, kind, node, instr, callText, referencedAccounts(callText))
	}
	if kind, ok := classifyCPICall(callee); ok {
		argsText := ctx.ChildText(node, "arguments")
		ctx.File.CPICalls = append(ctx.File.CPICalls, CPICall{
			Ref:         ctx.Ref(node),
			Instruction: instr,
			Kind:        kind,
			Target:      cpiTarget(argsText),
			Excerpt:     excerptLines(callText, sinkExcerptLines),
		})
	}
	if bump, ok := classifyPDACall(callee); ok {
		argsText := ctx.ChildText(node, "arguments")
		ctx.File.PDAs = append(ctx.File.PDAs, PDADerivation{
			Ref:         ctx.Ref(node),
			Instruction: instr,
			Seeds:       seedExprsFromArgs(argsText),
			Bump:        bump,
			Origin:      PDAInline,
		})
	}
	return false
}

func (w *rustWalk) recordCall(ctx *ExtractionContext, instr, callee string) {
	if instr == "" {
		return
	}
	idx, ok := w.instrIndex[instr]
	if !ok {
		return
	}
	base := callee
	if i := strings.LastIndex(base, "::"); i != -1 {
		base = base[i+2:]
	}
	if i := strings.LastIndex(base, "."); i != -1 {
		base = base[i+1:]
	}
	for _, c := range ctx.File.Instructions[idx].Calls {
		if c == base {
			return
		}
	}
	ctx.File.Instructions[idx].Calls = append(ctx.File.Instructions[idx].Calls, base)
}

func (w *rustWalk) addSink(ctx *ExtractionContext, kind SinkKind, node *sitter.Node, instr, text string, accounts []string) {
	ctx.File.Sinks = append(ctx.File.Sinks, Sink{
		Kind:        kind,
		Ref:         ctx.Ref(node),
		Instruction: instr,
		Accounts:    accounts,
		Excerpt:     excerptLines(text, sinkExcerptLines),
	})
}

func (w *rustWalk) macroInvocation(ctx *ExtractionContext, node *sitter.Node) bool {
	name := ctx.ChildText(node, "macro")
	if i := strings.LastIndex(name, "::"); i != -1 {
		name = name[i+2:]
	}
	args := macroArgs(ctx, node)
	switch name {
	case "declare_id":
		ctx.File.ProgramID = strings.Trim(args, `"`)
	case "entrypoint":
		ctx.File.HasEntrypoint = true
	}
	if notableMacros[name] {
		ctx.File.Macros = append(ctx.File.Macros, MacroInvocation{
			Name:        name,
			Args:        args,
			Instruction: enclosingFunction(ctx, node),
			Ref:         ctx.Ref(node),
		})
	}
	ctx.ProcessedChildren = true
	return true
}

func (w *rustWalk) enumItem(ctx *ExtractionContext, node *sitter.Node) bool {
	se := StateEnum{
		Name:        ctx.ChildText(node, "name"),
		IsErrorCode: hasAttribute(ctx.Attributes(node), "error_code"),
		Ref:         ctx.Ref(node),
	}
	if body := node.ChildByFieldName("body"); body != nil {
		for i := uint(0); i < body.NamedChildCount(); i++ {
			v := body.NamedChild(i)
			if v.Kind() == "enum_variant" {
				se.Variants = append(se.Variants, ctx.ChildText(v, "name"))
			}
		}
	}
	ctx.File.Enums = append(ctx.File.Enums, se)
	ctx.ProcessedChildren = true
	return true
}

func (w *rustWalk) constItem(ctx *ExtractionContext, node *sitter.Node) bool {
	if enclosingFunction(ctx, node) != "" {
		return false
	}
	ctx.File.Consts = append(ctx.File.Consts, Constant{
		Name:  ctx.ChildText(node, "name"),
		Type:  ctx.ChildText(node, "type"),
		Value: ctx.ChildText(node, "value"),
		Ref:   ctx.Ref(node),
	})
	ctx.ProcessedChildren = true
	return true
}

var (
	bindingPattern    = regexp.MustCompile(`^&?\s*(?:mut\s+)?ctx\.accounts\.([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	oracleReadPattern = regexp.MustCompile(`\.(price|price_feed)\b`)
)

func (w *rustWalk) letDecl(ctx *ExtractionContext, node *sitter.Node) bool {
	valueNode := node.ChildByFieldName("value")
	if valueNode == nil {
		return false
	}
	instr := enclosingFunction(ctx, node)
	pattern := ctx.ChildText(node, "pattern")
	valueText := ctx.Text(valueNode)

	if instr != "" && pattern != "" {
		if m := bindingPattern.FindStringSubmatch(valueText); m != nil {
			if w.bindings[instr] == nil {
				w.bindings[instr] = make(map[string]string)
			}
			w.bindings[instr][strings.TrimPrefix(pattern, "mut ")] = m[1]
		}
	}

	if seeds := seedArrayLiteral(valueText); seeds != nil {
		bump := BumpMissing
		for _, s := range seeds {
			if strings.Contains(s, "bump") {
				bump = BumpUnchecked
				break
			}
		}
		ctx.File.PDAs = append(ctx.File.PDAs, PDADerivation{
			Ref:         ctx.Ref(node),
			Instruction: instr,
			Seeds:       seeds,
			Bump:        bump,
			Origin:      PDAInline,
		})
	}

	if instr != "" && oracleReadPattern.MatchString(valueText) {
		text := ctx.Text(node)
		w.addSink(ctx, SinkOracleRead, node, instr, text, referencedAccounts(text))
	}
	return false
}

func (w *rustWalk) assignment(ctx *ExtractionContext, node *sitter.Node) bool {
	leftNode := node.ChildByFieldName("left")
	if leftNode == nil {
		return false
	}
	instr := enclosingFunction(ctx, node)
	if instr == "" {
		return false
	}
	left := ctx.Text(leftNode)
	text := ctx.Text(node)
	accounts := referencedAccounts(text)
	if target := w.assignedAccount(instr, left); target != "" && !containsString(accounts, target) {
		accounts = append([]string{target}, accounts...)
	}

	switch {
	case strings.Contains(left, "lamports"):
		w.addSink(ctx, SinkLamportTransfer, node, instr, text, accounts)
	case strings.HasSuffix(left, ".authority"):
		w.addSink(ctx, SinkAuthorityUpdate, node, instr, text, accounts)
	default:
		if w.assignedAccount(instr, left) != "" {
			w.addSink(ctx, SinkStateWrite, node, instr, text, accounts)
		}
	}
	return false
}

// assignedAccount resolves the account written by an assignment target,
// following local bindings of the form `let state = &mut ctx.accounts.x`.
func (w *rustWalk) assignedAccount(instr, left string) string {
	if rest, ok := strings.CutPrefix(left, "ctx.accounts."); ok {
		if i := strings.IndexByte(rest, '.'); i != -1 {
			rest = rest[:i]
		}
		return rest
	}
	i := strings.IndexByte(left, '.')
	if i == -1 {
		return ""
	}
	root := strings.TrimPrefix(left[:i], "*")
	return w.bindings[instr][root]
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// insideProgramModule reports whether node sits under the #[program] module
// recorded for this file. The module handler runs before its children, so
// ProgramModule is set by the time instruction functions are visited.
func insideProgramModule(ctx *ExtractionContext, node *sitter.Node) bool {
	if ctx.File.ProgramModule == "" {
		return false
	}
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "mod_item" && ctx.ChildText(p, "name") == ctx.File.ProgramModule {
			return true
		}
	}
	return false
}

func enclosingFunction(ctx *ExtractionContext, node *sitter.Node) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "function_item" {
			return ctx.ChildText(p, "name")
		}
	}
	return ""
}

// contextTypeName pulls the accounts struct name out of a Context<T>
// parameter type, tolerating lifetimes: Context<'info, Withdraw<'info>>
// resolves to Withdraw.
func contextTypeName(typeText string) string {
	t := strings.TrimSpace(typeText)
	if !strings.HasPrefix(t, "Context<") || !strings.HasSuffix(t, ">") {
		return ""
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(t, "Context<"), ">")
	parts := splitTopLevel(inner)
	if len(parts) == 0 {
		return ""
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	if i := strings.IndexByte(last, '<'); i != -1 {
		last = last[:i]
	}
	return strings.TrimSpace(last)
}

// resolveWrapper classifies an account field type. Box wrappers unwrap
// first, then the base generic name decides the wrapper kind and the first
// non-lifetime type argument becomes the inner type.
func resolveWrapper(rawType string) (AccountWrapper, string) {
	t := strings.TrimSpace(rawType)
	for strings.HasPrefix(t, "Box<") && strings.HasSuffix(t, ">") {
		t = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t, "Box<"), ">"))
	}
	base := t
	inner := ""
	if i := strings.IndexByte(t, '<'); i != -1 && strings.HasSuffix(t, ">") {
		base = t[:i]
		for _, part := range splitTopLevel(strings.TrimSuffix(t[i+1:], ">")) {
			part = strings.TrimSpace(part)
			if part == "" || strings.HasPrefix(part, "'") {
				continue
			}
			inner = part
			break
		}
		if j := strings.IndexByte(inner, '<'); j != -1 {
			inner = inner[:j]
		}
	}
	switch base {
	case "Account":
		return WrapperAccount, inner
	case "Signer":
		return WrapperSigner, ""
	case "UncheckedAccount":
		return WrapperUnchecked, ""
	case "AccountInfo":
		return WrapperAccountInfo, ""
	case "Program":
		return WrapperProgram, inner
	case "SystemAccount":
		return WrapperSystemAccount, ""
	case "Sysvar":
		return WrapperSysvar, inner
	case "AccountLoader":
		return WrapperLoader, inner
	case "InterfaceAccount", "Interface":
		return WrapperInterface, inner
	}
	return WrapperUnknown, ""
}

func macroArgs(ctx *ExtractionContext, node *sitter.Node) string {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() != "token_tree" {
			continue
		}
		text := strings.TrimSpace(ctx.Text(child))
		if len(text) >= 2 {
			text = text[1 : len(text)-1]
		}
		return strings.TrimSpace(text)
	}
	return ""
}

// cpiTarget guesses the program (or first account) a CPI is aimed at from
// the call arguments.
func cpiTarget(argsText string) string {
	if refs := referencedAccounts(argsText); len(refs) > 0 {
		return refs[0]
	}
	return ""
}

// seedExprsFromArgs extracts seed expressions from a find_program_address
// style argument list, whose first argument is the seeds slice.
func seedExprsFromArgs(argsText string) []string {
	t := strings.TrimSpace(argsText)
	t = strings.TrimPrefix(t, "(")
	t = strings.TrimSuffix(t, ")")
	parts := splitTopLevel(t)
	if len(parts) == 0 {
		return nil
	}
	return seedArrayLiteral(strings.TrimSpace(parts[0]))
}

// seedArrayLiteral parses `&[b"vault", user.key().as_ref(), &[bump]]` into
// its top-level elements. Signer-seeds nesting (&[&[...]]) unwraps one level.
func seedArrayLiteral(value string) []string {
	t := strings.TrimSpace(value)
	t = strings.TrimPrefix(t, "&")
	if !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, "]") {
		return nil
	}
	inner := t[1 : len(t)-1]
	if !strings.Contains(inner, `b"`) {
		return nil
	}
	parts := splitTopLevel(inner)
	if len(parts) == 1 {
		p := strings.TrimSpace(parts[0])
		if strings.HasPrefix(p, "&[") || strings.HasPrefix(p, "[") {
			return seedArrayLiteral(p)
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func excerptLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n") + "\n// [truncated]"
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte("\n"))
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func hashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
