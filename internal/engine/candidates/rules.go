// # internal/engine/candidates/rules.go
package candidates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
)

// checkMissingSigner fires when an instruction reaches a sensitive sink while
// its Accounts context declares no Signer at all. Anchor then enforces no
// signature on any account, so any caller can execute the instruction.
func (b *builder) checkMissingSigner(sink *parser.Sink, instr *parser.Instruction, acct *parser.AccountStruct) {
	if instr == nil || acct == nil || hasSignerField(acct) {
		return
	}
	if sink.Kind == parser.SinkOracleRead {
		return
	}
	sev, ok := missingSignerSeverity[sink.Kind]
	if !ok {
		return
	}
	conf := 0.6
	if !hasConstraint(acct, parser.ConstraintHasOne) {
		conf += 0.15
	}
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if authorityLike(f.Name) && weakWrapper(f.Wrapper) {
			conf += 0.1
			break
		}
	}
	b.add(sink.ID, VulnCandidate{
		Class:       ClassMissingSigner,
		Severity:    sev,
		Confidence:  conf,
		Instruction: instr.Name,
		Ref:         sink.Ref,
		Accounts:    accountContexts(acct, sink.Accounts),
		Reasoning: fmt.Sprintf("%s reaches a %s sink but its %s context declares no Signer account, so any caller can execute it",
			instr.Name, sink.Kind, instr.Context),
		SinkID:  sink.ID,
		Excerpt: sink.Excerpt,
	})
}

// checkUncheckedAccounts flags accounts that flow into a sink through an
// unvalidated wrapper with no constraints and no other constraint in the
// struct referencing them.
func (b *builder) checkUncheckedAccounts(sink *parser.Sink, acct *parser.AccountStruct) {
	if acct == nil {
		return
	}
	for _, name := range sink.Accounts {
		f := fieldByName(acct, name)
		if f == nil || !weakWrapper(f.Wrapper) || len(f.Constraints) > 0 {
			continue
		}
		if guardedByStruct(acct, name) {
			continue
		}
		class := ClassUncheckedAccount
		sev := SeverityMedium
		conf := 0.5
		if valueMovingSinks[sink.Kind] {
			sev = SeverityHigh
			conf += 0.2
		}
		if authorityLike(name) {
			class = ClassMissingOwnerCheck
			sev = SeverityHigh
		}
		if !f.DocChecked {
			conf += 0.05
		}
		b.add(name, VulnCandidate{
			Class:       class,
			Severity:    sev,
			Confidence:  conf,
			Instruction: sink.Instruction,
			Ref:         f.Ref,
			Accounts:    []AccountContext{renderField(f)},
			Reasoning: fmt.Sprintf("account %s flows into a %s sink as %s with no constraint validating its owner or address",
				name, sink.Kind, f.Wrapper),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
}

var (
	arithmeticOpPattern  = regexp.MustCompile(`(\+=|-=|\*=|\s[+\-*]\s)`)
	guardedMathPattern   = regexp.MustCompile(`checked_(add|sub|mul|div)|saturating_|wrapping_|overflowing_`)
	divideBeforeMultiply = regexp.MustCompile(`/[^*/]*\*`)
)

// checkArithmetic inspects the sink excerpt for raw integer math. Release
// profiles build with overflow checks off unless the manifest opts in, so
// unguarded math on balances silently wraps.
func (b *builder) checkArithmetic(sink *parser.Sink) {
	switch sink.Kind {
	case parser.SinkStateWrite, parser.SinkLamportTransfer:
	default:
		return
	}
	if guardedMathPattern.MatchString(sink.Excerpt) {
		return
	}
	if arithmeticOpPattern.MatchString(sink.Excerpt) {
		sev := SeverityMedium
		conf := 0.45
		if sink.Kind == parser.SinkLamportTransfer {
			sev = SeverityHigh
			conf += 0.1
		}
		b.add(sink.ID, VulnCandidate{
			Class:       ClassUncheckedArithmetic,
			Severity:    sev,
			Confidence:  conf,
			Instruction: sink.Instruction,
			Ref:         sink.Ref,
			Reasoning: fmt.Sprintf("%s mutates balance-like state with unchecked integer math that wraps on overflow",
				sink.Instruction),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
	if divideBeforeMultiply.MatchString(sink.Excerpt) {
		b.add(sink.ID, VulnCandidate{
			Class:       ClassPrecisionLoss,
			Severity:    SeverityMedium,
			Confidence:  0.4,
			Instruction: sink.Instruction,
			Ref:         sink.Ref,
			Reasoning: fmt.Sprintf("%s divides before multiplying, truncating toward zero before the scale-up",
				sink.Instruction),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
}

// checkMintAuthority fires on mint sinks whose authority account is neither
// a signer nor bound to stored state.
func (b *builder) checkMintAuthority(sink *parser.Sink, acct *parser.AccountStruct) {
	if acct == nil {
		return
	}
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if !authorityLike(f.Name) || f.IsSigner {
			continue
		}
		if guardedByStruct(acct, f.Name) {
			continue
		}
		conf := 0.6
		if weakWrapper(f.Wrapper) {
			conf += 0.15
		}
		b.add(f.Name, VulnCandidate{
			Class:       ClassMintAuthorityAbuse,
			Severity:    SeverityCritical,
			Confidence:  conf,
			Instruction: sink.Instruction,
			Ref:         sink.Ref,
			Accounts:    []AccountContext{renderField(f)},
			Reasoning: fmt.Sprintf("mint sink in %s relies on %s, which is neither a signer nor bound by has_one",
				sink.Instruction, f.Name),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
}

// checkAccountClose covers runtime close sinks; close constraints declared on
// the struct are handled by checkCloseTargets.
func (b *builder) checkAccountClose(sink *parser.Sink, instr *parser.Instruction, acct *parser.AccountStruct) {
	if instr == nil || acct == nil || hasConstraint(acct, parser.ConstraintHasOne) {
		return
	}
	conf := 0.5
	if !hasSignerField(acct) {
		conf += 0.15
	}
	b.add(sink.ID, VulnCandidate{
		Class:       ClassAccountCloseAbuse,
		Severity:    SeverityHigh,
		Confidence:  conf,
		Instruction: instr.Name,
		Ref:         sink.Ref,
		Accounts:    accountContexts(acct, sink.Accounts),
		Reasoning: fmt.Sprintf("%s closes an account without a has_one constraint tying it to the rent destination",
			instr.Name),
		SinkID:  sink.ID,
		Excerpt: sink.Excerpt,
	})
}

// checkAccessControl fires when an authority field is reassigned on an
// account that carries no ownership guard. Initialization writes are exempt.
func (b *builder) checkAccessControl(sink *parser.Sink, acct *parser.AccountStruct) {
	if acct == nil || len(sink.Accounts) == 0 {
		return
	}
	written := fieldByName(acct, sink.Accounts[0])
	if written == nil {
		return
	}
	if fieldHasConstraint(written, parser.ConstraintInit) {
		return
	}
	if fieldHasConstraint(written, parser.ConstraintHasOne) || fieldHasConstraint(written, parser.ConstraintExpr) {
		return
	}
	conf := 0.55
	if !hasConstraint(acct, parser.ConstraintHasOne) {
		conf += 0.15
	}
	if !hasSignerField(acct) {
		conf += 0.1
	}
	b.add(written.Name, VulnCandidate{
		Class:       ClassMissingAccessControl,
		Severity:    SeverityHigh,
		Confidence:  conf,
		Instruction: sink.Instruction,
		Ref:         sink.Ref,
		Accounts:    []AccountContext{renderField(written)},
		Reasoning: fmt.Sprintf("%s overwrites the authority of %s with no has_one or constraint gating who may do so",
			sink.Instruction, written.Name),
		SinkID:  sink.ID,
		Excerpt: sink.Excerpt,
	})
}

// checkTokenConfusion fires on transfers whose token accounts carry no mint
// or authority constraints, so any token account of the right type passes.
func (b *builder) checkTokenConfusion(sink *parser.Sink, acct *parser.AccountStruct) {
	if acct == nil {
		return
	}
	var loose []*parser.AccountField
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if f.Wrapper != parser.WrapperAccount || !strings.Contains(f.InnerType, "TokenAccount") {
			continue
		}
		if fieldHasConstraint(f, parser.ConstraintTokenAuthority) || fieldHasConstraint(f, parser.ConstraintTokenMint) ||
			fieldHasConstraint(f, parser.ConstraintAssocAuthority) || fieldHasConstraint(f, parser.ConstraintAssocMint) ||
			fieldHasConstraint(f, parser.ConstraintExpr) || guardedByStruct(acct, f.Name) {
			continue
		}
		loose = append(loose, f)
	}
	if len(loose) == 0 {
		return
	}
	conf := 0.4
	if len(loose) > 1 {
		conf += 0.1
	}
	names := make([]string, 0, len(loose))
	accounts := make([]AccountContext, 0, len(loose))
	for _, f := range loose {
		names = append(names, f.Name)
		accounts = append(accounts, renderField(f))
	}
	b.add(sink.ID, VulnCandidate{
		Class:       ClassTokenAccountConfusion,
		Severity:    SeverityMedium,
		Confidence:  conf,
		Instruction: sink.Instruction,
		Ref:         sink.Ref,
		Accounts:    accounts,
		Reasoning: fmt.Sprintf("token transfer in %s uses token accounts (%s) without mint or authority constraints",
			sink.Instruction, strings.Join(names, ", ")),
		SinkID:  sink.ID,
		Excerpt: sink.Excerpt,
	})
}

// checkOracle fires on oracle reads, and on price-flavored state writes, when
// the struct takes an oracle-looking account through a wrapper Anchor never
// validates.
func (b *builder) checkOracle(sink *parser.Sink, acct *parser.AccountStruct) {
	if acct == nil {
		return
	}
	if sink.Kind == parser.SinkStateWrite && !touchesOracleAccount(sink) {
		return
	}
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if !oracleLike(f.Name) || !weakWrapper(f.Wrapper) {
			continue
		}
		if fieldHasConstraint(f, parser.ConstraintOwner) || fieldHasConstraint(f, parser.ConstraintAddress) {
			continue
		}
		conf := 0.55
		if len(f.Constraints) == 0 {
			conf += 0.1
		}
		b.add(f.Name, VulnCandidate{
			Class:       ClassOracleManipulation,
			Severity:    SeverityHigh,
			Confidence:  conf,
			Instruction: sink.Instruction,
			Ref:         f.Ref,
			Accounts:    []AccountContext{renderField(f)},
			Reasoning: fmt.Sprintf("%s consumes price data while %s is accepted without an owner or address constraint, so any account can pose as the feed",
				sink.Instruction, f.Name),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
}

func touchesOracleAccount(sink *parser.Sink) bool {
	for _, a := range sink.Accounts {
		if oracleLike(a) {
			return true
		}
	}
	return false
}

// checkReinitialization covers two shapes: init_if_needed on a declared
// account, and init-flavored instructions that rewrite defaults on an account
// carrying no init constraint at all.
func (b *builder) checkReinitialization(sink *parser.Sink, instr *parser.Instruction, acct *parser.AccountStruct) {
	if instr == nil || acct == nil || len(sink.Accounts) == 0 {
		return
	}
	written := fieldByName(acct, sink.Accounts[0])
	if written == nil {
		return
	}
	for _, c := range written.Constraints {
		if c.Kind == parser.ConstraintInit && c.Expr == "if_needed" {
			b.add(written.Name, VulnCandidate{
				Class:       ClassReinitialization,
				Severity:    SeverityMedium,
				Confidence:  0.5,
				Instruction: instr.Name,
				Ref:         written.Ref,
				Accounts:    []AccountContext{renderField(written)},
				Reasoning: fmt.Sprintf("%s declares %s with init_if_needed, so initialization can run again on a live account",
					instr.Name, written.Name),
				SinkID:  sink.ID,
				Excerpt: sink.Excerpt,
			})
			return
		}
	}
	if fieldHasConstraint(written, parser.ConstraintInit) {
		return
	}
	if !strings.Contains(instr.Name, "init") {
		return
	}
	conf := 0.55
	if !hasConstraint(acct, parser.ConstraintHasOne) {
		conf += 0.15
	}
	b.add(written.Name, VulnCandidate{
		Class:       ClassReinitialization,
		Severity:    SeverityHigh,
		Confidence:  conf,
		Instruction: instr.Name,
		Ref:         sink.Ref,
		Accounts:    []AccountContext{renderField(written)},
		Reasoning: fmt.Sprintf("%s rewrites %s state without an init constraint, so a live account can be reset",
			instr.Name, written.Name),
		SinkID:  sink.ID,
		Excerpt: sink.Excerpt,
	})
}

// checkNativeHandling applies the manual-validation rules for programs built
// without Anchor, where every guard is a hand-written branch in the handler.
func (b *builder) checkNativeHandling(sink *parser.Sink, instr *parser.Instruction) {
	if instr == nil || instr.Body == "" {
		return
	}
	if !strings.Contains(instr.Body, "is_signer") {
		sev := missingSignerSeverity[sink.Kind]
		if sev == "" {
			sev = SeverityMedium
		}
		b.add(sink.ID, VulnCandidate{
			Class:       ClassMissingSigner,
			Severity:    sev,
			Confidence:  0.5,
			Instruction: instr.Name,
			Ref:         sink.Ref,
			Reasoning: fmt.Sprintf("%s reaches a %s sink and never inspects is_signer on any account",
				instr.Name, sink.Kind),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
	if !strings.Contains(instr.Body, "owner") {
		b.add(sink.ID, VulnCandidate{
			Class:       ClassMissingOwnerCheck,
			Severity:    SeverityHigh,
			Confidence:  0.5,
			Instruction: instr.Name,
			Ref:         sink.Ref,
			Reasoning: fmt.Sprintf("%s reaches a %s sink and never compares any account owner against an expected program",
				instr.Name, sink.Kind),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
	if sink.Kind == parser.SinkStateWrite &&
		!strings.Contains(instr.Body, "try_from_slice") && !strings.Contains(instr.Body, "unpack") {
		b.add(sink.ID, VulnCandidate{
			Class:       ClassTypeCosplay,
			Severity:    SeverityMedium,
			Confidence:  0.4,
			Instruction: instr.Name,
			Ref:         sink.Ref,
			Reasoning: fmt.Sprintf("%s writes account state without deserializing through a typed layout, so any account of the right size is accepted",
				instr.Name),
			SinkID:  sink.ID,
			Excerpt: sink.Excerpt,
		})
	}
}

// inspectCPICalls flags unvalidated invocation targets. Helper wrappers from
// the token crate pin their own program id and are skipped.
func (b *builder) inspectCPICalls() {
	for i := range b.prog.CPICalls {
		call := &b.prog.CPICalls[i]
		if call.Validated || call.Kind == parser.CPIHelper {
			continue
		}
		instr := b.instructions[call.Instruction]
		acct := b.contextStruct(instr)

		sev := SeverityHigh
		conf := 0.5
		if call.Kind == parser.CPIInvokeSigned || call.Kind == parser.CPIContextSigned {
			sev = SeverityCritical
			conf += 0.1
		}
		anchor := call.Target
		var accounts []AccountContext
		if anchor == "" {
			anchor = fmt.Sprintf("cpi:%d", call.Ref.StartLine)
			conf -= 0.05
		} else if f := fieldByName(acct, call.Target); f != nil {
			accounts = []AccountContext{renderField(f)}
			if weakWrapper(f.Wrapper) {
				conf += 0.15
			}
		}
		b.add(anchor, VulnCandidate{
			Class:       ClassArbitraryCPI,
			Severity:    sev,
			Confidence:  conf,
			Instruction: call.Instruction,
			Ref:         call.Ref,
			Accounts:    accounts,
			Reasoning: fmt.Sprintf("cross-program invocation in %s executes without pinning the target program id",
				call.Instruction),
			Excerpt: call.Excerpt,
		})
	}
}

// inspectPDADerivations flags non-canonical bump handling, but only inside
// instructions that actually reach a sink.
func (b *builder) inspectPDADerivations() {
	for i := range b.prog.PDADerivations {
		pda := &b.prog.PDADerivations[i]
		if pda.Bump == parser.BumpCanonical {
			continue
		}
		if pda.Instruction == "" || b.sinksPerInst[pda.Instruction] == 0 {
			continue
		}
		sev := SeverityMedium
		conf := 0.45
		reason := "binds a stored or caller-supplied bump instead of deriving the canonical one"
		if pda.Bump == parser.BumpMissing {
			sev = SeverityHigh
			conf = 0.55
			reason = "derives a program address without binding any bump, so several addresses satisfy the same seeds"
		}
		if pda.Origin == parser.PDAInline {
			conf += 0.05
		}
		b.add("bump", VulnCandidate{
			Class:       ClassInsecurePDA,
			Severity:    sev,
			Confidence:  conf,
			Instruction: pda.Instruction,
			Ref:         pda.Ref,
			Reasoning: fmt.Sprintf("%s %s (seeds: %s)",
				pda.Instruction, reason, strings.Join(pda.Seeds, ", ")),
		})
	}
}

// inspectAccountStructs runs the struct-shape rules for every context whose
// instructions reach at least one sink.
func (b *builder) inspectAccountStructs() {
	for i := range b.prog.Accounts {
		acct := &b.prog.Accounts[i]
		users := b.structUsers(acct.Name)
		if len(users) == 0 {
			continue
		}
		b.checkDuplicateMutable(acct, users)
		b.checkSysvarFields(acct, users)
		b.checkCloseTargets(acct, users)
	}
}

func (b *builder) structUsers(name string) []*parser.Instruction {
	var out []*parser.Instruction
	for i := range b.prog.Instructions {
		in := &b.prog.Instructions[i]
		if in.Context == name && b.sinksPerInst[in.Name] > 0 {
			out = append(out, in)
		}
	}
	return out
}

// checkDuplicateMutable flags structs taking two or more mutable accounts of
// the same state type with nothing forcing them to be distinct. Passing the
// same account twice then corrupts the double-applied update.
func (b *builder) checkDuplicateMutable(acct *parser.AccountStruct, users []*parser.Instruction) {
	var typeOrder []string
	byType := make(map[string][]*parser.AccountField)
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if !f.IsMut || f.InnerType == "" || f.Wrapper != parser.WrapperAccount {
			continue
		}
		if _, seen := byType[f.InnerType]; !seen {
			typeOrder = append(typeOrder, f.InnerType)
		}
		byType[f.InnerType] = append(byType[f.InnerType], f)
	}
	for _, inner := range typeOrder {
		fields := byType[inner]
		if len(fields) < 2 || constraintsDistinguish(fields) {
			continue
		}
		names := make([]string, 0, len(fields))
		accounts := make([]AccountContext, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.Name)
			accounts = append(accounts, renderField(f))
		}
		for _, in := range users {
			b.add(strings.Join(names, "+"), VulnCandidate{
				Class:       ClassDuplicateMutableAccounts,
				Severity:    SeverityMedium,
				Confidence:  0.5,
				Instruction: in.Name,
				Ref:         acct.Ref,
				Accounts:    accounts,
				Reasoning: fmt.Sprintf("%s accepts multiple mutable %s accounts (%s) with no constraint forcing them to differ",
					in.Name, inner, strings.Join(names, ", ")),
			})
		}
	}
}

// constraintsDistinguish reports whether any of the same-typed fields carries
// an expression constraint, which is how key inequality is usually enforced.
func constraintsDistinguish(fields []*parser.AccountField) bool {
	for _, f := range fields {
		if fieldHasConstraint(f, parser.ConstraintExpr) {
			return true
		}
	}
	return false
}

var sysvarNames = map[string]bool{
	"rent":               true,
	"clock":              true,
	"instructions":       true,
	"recent_blockhashes": true,
	"slot_hashes":        true,
	"epoch_schedule":     true,
}

// checkSysvarFields flags sysvars passed as raw account infos without an
// address pin. The typed Sysvar wrapper validates itself and is not flagged.
func (b *builder) checkSysvarFields(acct *parser.AccountStruct, users []*parser.Instruction) {
	for i := range acct.Fields {
		f := &acct.Fields[i]
		if !weakWrapper(f.Wrapper) {
			continue
		}
		if !sysvarNames[f.Name] && !strings.Contains(strings.ToLower(f.InnerType), "sysvar") {
			continue
		}
		if fieldHasConstraint(f, parser.ConstraintAddress) {
			continue
		}
		for _, in := range users {
			b.add(f.Name, VulnCandidate{
				Class:       ClassSysvarSpoof,
				Severity:    SeverityLow,
				Confidence:  0.45,
				Instruction: in.Name,
				Ref:         f.Ref,
				Accounts:    []AccountContext{renderField(f)},
				Reasoning: fmt.Sprintf("%s takes sysvar %s as a raw account without an address constraint, so a forged account can stand in",
					in.Name, f.Name),
			})
		}
	}
}

// checkCloseTargets inspects close constraints declared on the struct.
func (b *builder) checkCloseTargets(acct *parser.AccountStruct, users []*parser.Instruction) {
	for i := range acct.Fields {
		f := &acct.Fields[i]
		for _, c := range f.Constraints {
			if c.Kind != parser.ConstraintClose {
				continue
			}
			dest := fieldByName(acct, c.Expr)
			if dest != nil && dest.IsSigner {
				continue
			}
			if fieldHasConstraint(f, parser.ConstraintHasOne) {
				continue
			}
			conf := 0.5
			if dest != nil && weakWrapper(dest.Wrapper) {
				conf += 0.15
			}
			accounts := []AccountContext{renderField(f)}
			if dest != nil {
				accounts = append(accounts, renderField(dest))
			}
			for _, in := range users {
				b.add(f.Name, VulnCandidate{
					Class:       ClassAccountCloseAbuse,
					Severity:    SeverityHigh,
					Confidence:  conf,
					Instruction: in.Name,
					Ref:         f.Ref,
					Accounts:    accounts,
					Reasoning: fmt.Sprintf("%s closes %s to %s, and nothing requires the destination to be an authorized signer",
						in.Name, f.Name, c.Expr),
				})
			}
		}
	}
}

// guardedByStruct reports whether any constraint in the struct references the
// account by name, which usually means Anchor validates it against stored
// state. Payer and space are excluded: they spend from an account rather
// than validate it.
func guardedByStruct(acct *parser.AccountStruct, name string) bool {
	if acct == nil {
		return false
	}
	for i := range acct.Fields {
		for _, c := range acct.Fields[i].Constraints {
			switch c.Kind {
			case parser.ConstraintHasOne:
				if c.Expr == name {
					return true
				}
			case parser.ConstraintExpr, parser.ConstraintAddress, parser.ConstraintOwner,
				parser.ConstraintTokenAuthority, parser.ConstraintTokenMint,
				parser.ConstraintAssocAuthority, parser.ConstraintAssocMint:
				if containsIdent(c.Expr, name) {
					return true
				}
			case parser.ConstraintSeeds:
				for _, seed := range c.SeedExprs {
					if containsIdent(seed, name) {
						return true
					}
				}
			}
		}
	}
	return false
}

// containsIdent matches name as a standalone identifier inside expr. A match
// preceded by '.' is a field access on some other value, not a reference to
// the account, and does not count.
func containsIdent(expr, name string) bool {
	if name == "" {
		return false
	}
	idx := 0
	for {
		i := strings.Index(expr[idx:], name)
		if i == -1 {
			return false
		}
		i += idx
		beforeOK := i == 0 || (!isIdentByte(expr[i-1]) && expr[i-1] != '.')
		afterOK := i+len(name) >= len(expr) || !isIdentByte(expr[i+len(name)])
		if beforeOK && afterOK {
			return true
		}
		idx = i + len(name)
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
