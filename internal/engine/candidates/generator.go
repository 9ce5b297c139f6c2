// # internal/engine/candidates/generator.go
package candidates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
	"github.com/grkhmz23/solaudit-agent-sub000/internal/shared/observability"
)

// maxConfidence caps every heuristic prior: static evidence alone never
// proves exploitability.
const maxConfidence = 0.95

// Generator derives vulnerability candidates from a parsed program. It is
// pure: no I/O, no model calls, and identical input yields identical output
// in identical order.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// Generate walks the program sink-first. Every rule starts from a
// value-critical sink (or a CPI call, PDA derivation, or account struct tied
// to an instruction that has one) and inspects the enclosing instruction's
// account constraints to decide which vulnerability classes are plausible.
// Duplicate fingerprints collapse to the highest-confidence instance and the
// result is ordered by severity weight times confidence, descending, with
// ties kept in discovery order.
func (g *Generator) Generate(prog *parser.ParsedProgram) []VulnCandidate {
	if prog == nil {
		return nil
	}
	b := newBuilder(prog)
	for i := range prog.Sinks {
		b.inspectSink(&prog.Sinks[i])
	}
	b.inspectCPICalls()
	b.inspectPDADerivations()
	b.inspectAccountStructs()

	out := b.finish()
	observability.CandidatesGenerated.Set(float64(len(out)))
	return out
}

type builder struct {
	prog         *parser.ParsedProgram
	instructions map[string]*parser.Instruction
	structs      map[string]*parser.AccountStruct
	sinksPerInst map[string]int

	order []string
	byFP  map[string]VulnCandidate
}

func newBuilder(prog *parser.ParsedProgram) *builder {
	b := &builder{
		prog:         prog,
		instructions: make(map[string]*parser.Instruction, len(prog.Instructions)),
		structs:      make(map[string]*parser.AccountStruct, len(prog.Accounts)),
		sinksPerInst: make(map[string]int),
		byFP:         make(map[string]VulnCandidate),
	}
	for i := range prog.Instructions {
		b.instructions[prog.Instructions[i].Name] = &prog.Instructions[i]
	}
	for i := range prog.Accounts {
		b.structs[prog.Accounts[i].Name] = &prog.Accounts[i]
	}
	for i := range prog.Sinks {
		if inst := prog.Sinks[i].Instruction; inst != "" {
			b.sinksPerInst[inst]++
		}
	}
	return b
}

// contextStruct resolves the Accounts struct backing an instruction, or nil.
func (b *builder) contextStruct(instr *parser.Instruction) *parser.AccountStruct {
	if instr == nil || instr.Context == "" {
		return nil
	}
	return b.structs[instr.Context]
}

// add records a candidate, keeping the higher-confidence instance when the
// fingerprint collides. The anchor is the sink identifier or account name
// that localizes the hypothesis; discovery order of first insertion is
// preserved so equal-weight candidates sort deterministically.
func (b *builder) add(anchor string, c VulnCandidate) {
	if c.Confidence > maxConfidence {
		c.Confidence = maxConfidence
	}
	if anchor == "" {
		anchor = c.SinkID
	}
	if anchor == "" && len(c.Accounts) > 0 {
		anchor = c.Accounts[0].Name
	}
	c.Fingerprint = fmt.Sprintf("%s|%s|%s|%s", c.Class, c.Instruction, c.Ref.File, anchor)
	c.ID = candidateID(c.Fingerprint)

	existing, ok := b.byFP[c.Fingerprint]
	if ok && existing.Confidence >= c.Confidence {
		return
	}
	if !ok {
		b.order = append(b.order, c.Fingerprint)
	}
	b.byFP[c.Fingerprint] = c
}

func (b *builder) finish() []VulnCandidate {
	if len(b.order) == 0 {
		return nil
	}
	out := make([]VulnCandidate, 0, len(b.order))
	for _, fp := range b.order {
		out = append(out, b.byFP[fp])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight() > out[j].Weight()
	})
	return out
}

func candidateID(fingerprint string) string {
	return fmt.Sprintf("cand-%012x", xxhash.Sum64String(fingerprint)&0xffffffffffff)
}

// inspectSink fans one sink out to every class rule that can apply to its
// kind. Rules are cheap constraint lookups; the sink set bounds their volume.
func (b *builder) inspectSink(sink *parser.Sink) {
	instr := b.instructions[sink.Instruction]
	acct := b.contextStruct(instr)

	b.checkMissingSigner(sink, instr, acct)
	b.checkUncheckedAccounts(sink, acct)
	b.checkArithmetic(sink)

	switch sink.Kind {
	case parser.SinkMint:
		b.checkMintAuthority(sink, acct)
	case parser.SinkAccountClose:
		b.checkAccountClose(sink, instr, acct)
	case parser.SinkAuthorityUpdate:
		b.checkAccessControl(sink, acct)
	case parser.SinkTokenTransfer:
		b.checkTokenConfusion(sink, acct)
	case parser.SinkOracleRead:
		b.checkOracle(sink, acct)
	case parser.SinkStateWrite:
		b.checkOracle(sink, acct)
		b.checkReinitialization(sink, instr, acct)
	}

	if b.prog.Framework == parser.FrameworkNative {
		b.checkNativeHandling(sink, instr)
	}
}

// valueMovingSinks are the kinds whose abuse moves funds or authority
// directly, as opposed to plain state bookkeeping.
var valueMovingSinks = map[parser.SinkKind]bool{
	parser.SinkTokenTransfer:   true,
	parser.SinkLamportTransfer: true,
	parser.SinkMint:            true,
	parser.SinkBurn:            true,
	parser.SinkAccountClose:    true,
	parser.SinkAuthorityUpdate: true,
	parser.SinkSignedCPI:       true,
}

// missingSignerSeverity grades a signerless sink by what the sink can do.
var missingSignerSeverity = map[parser.SinkKind]Severity{
	parser.SinkTokenTransfer:   SeverityCritical,
	parser.SinkLamportTransfer: SeverityCritical,
	parser.SinkMint:            SeverityCritical,
	parser.SinkBurn:            SeverityHigh,
	parser.SinkAccountClose:    SeverityCritical,
	parser.SinkAuthorityUpdate: SeverityCritical,
	parser.SinkSignedCPI:       SeverityCritical,
	parser.SinkRealloc:         SeverityMedium,
	parser.SinkStateWrite:      SeverityHigh,
	parser.SinkOracleRead:      SeverityMedium,
}

// accountContexts renders the struct fields matching names. With no match it
// falls back to the whole struct so prompts always carry the constraint
// table.
func accountContexts(acct *parser.AccountStruct, names []string) []AccountContext {
	if acct == nil {
		return nil
	}
	matched := make([]AccountContext, 0, len(names))
	for _, name := range names {
		if f := fieldByName(acct, name); f != nil {
			matched = append(matched, renderField(f))
		}
	}
	if len(matched) > 0 {
		return matched
	}
	all := make([]AccountContext, 0, len(acct.Fields))
	for i := range acct.Fields {
		all = append(all, renderField(&acct.Fields[i]))
	}
	return all
}

func renderField(f *parser.AccountField) AccountContext {
	return AccountContext{
		Name:        f.Name,
		Wrapper:     string(f.Wrapper),
		Constraints: renderConstraints(f.Constraints),
		IsSigner:    f.IsSigner,
		IsMut:       f.IsMut,
		DocChecked:  f.DocChecked,
	}
}

func renderConstraints(cs []parser.AccountConstraint) []string {
	if len(cs) == 0 {
		return nil
	}
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		switch {
		case c.Kind == parser.ConstraintSeeds:
			out = append(out, fmt.Sprintf("seeds = [%s]", strings.Join(c.SeedExprs, ", ")))
		case c.Kind == parser.ConstraintBump && c.BumpExpr != "":
			out = append(out, "bump = "+c.BumpExpr)
		case c.Expr != "":
			out = append(out, fmt.Sprintf("%s = %s", c.Kind, c.Expr))
		default:
			out = append(out, string(c.Kind))
		}
	}
	return out
}

func fieldByName(acct *parser.AccountStruct, name string) *parser.AccountField {
	if acct == nil {
		return nil
	}
	for i := range acct.Fields {
		if acct.Fields[i].Name == name {
			return &acct.Fields[i]
		}
	}
	return nil
}

func hasSignerField(acct *parser.AccountStruct) bool {
	if acct == nil {
		return false
	}
	for i := range acct.Fields {
		if acct.Fields[i].IsSigner {
			return true
		}
	}
	return false
}

func hasConstraint(acct *parser.AccountStruct, kind parser.ConstraintKind) bool {
	if acct == nil {
		return false
	}
	for i := range acct.Fields {
		if fieldHasConstraint(&acct.Fields[i], kind) {
			return true
		}
	}
	return false
}

func fieldHasConstraint(f *parser.AccountField, kind parser.ConstraintKind) bool {
	if f == nil {
		return false
	}
	for _, c := range f.Constraints {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// weakWrapper reports wrappers that Anchor does not validate at all.
func weakWrapper(w parser.AccountWrapper) bool {
	return w == parser.WrapperUnchecked || w == parser.WrapperAccountInfo
}

// authorityLike matches field names that conventionally gate privileged
// actions.
func authorityLike(name string) bool {
	for _, probe := range []string{"authority", "admin", "owner", "signer"} {
		if strings.Contains(name, probe) {
			return true
		}
	}
	return false
}

func oracleLike(name string) bool {
	for _, probe := range []string{"oracle", "price", "feed", "aggregator"} {
		if strings.Contains(name, probe) {
			return true
		}
	}
	return false
}
