// # internal/engine/parser/resolve.go
package parser

import (
	"fmt"
	"strings"
)

// resolveProgram merges per-file models into one ParsedProgram and runs the
// cross-file passes: sink id assignment, instruction-to-struct linking,
// struct-scoped PDA resolution, and CPI target validation.
func resolveProgram(files []*FileModel, fw Framework, manifestName string) *ParsedProgram {
	prog := &ParsedProgram{Framework: fw, Name: manifestName}

	moduleName := ""
	usesAnchor := false
	hasEntrypoint := false
	for _, f := range files {
		if f == nil {
			continue
		}
		prog.Files = append(prog.Files, FileInfo{Path: f.Path, Lines: f.Lines, Hash: f.Hash})
		if moduleName == "" {
			moduleName = f.ProgramModule
		}
		if prog.ProgramID == "" {
			prog.ProgramID = f.ProgramID
		}
		usesAnchor = usesAnchor || f.UsesAnchor
		hasEntrypoint = hasEntrypoint || f.HasEntrypoint
		prog.Instructions = append(prog.Instructions, f.Instructions...)
		prog.Accounts = append(prog.Accounts, f.Accounts...)
		prog.Sinks = append(prog.Sinks, f.Sinks...)
		prog.CPICalls = append(prog.CPICalls, f.CPICalls...)
		prog.PDADerivations = append(prog.PDADerivations, f.PDAs...)
		prog.Macros = append(prog.Macros, f.Macros...)
		prog.StateEnums = append(prog.StateEnums, f.Enums...)
		prog.Constants = append(prog.Constants, f.Consts...)
		prog.Diagnostics = append(prog.Diagnostics, f.Diagnostics...)
	}
	if moduleName != "" {
		prog.Name = moduleName
	}
	if prog.Framework == FrameworkUnknown {
		switch {
		case usesAnchor:
			prog.Framework = FrameworkAnchor
		case hasEntrypoint:
			prog.Framework = FrameworkNative
		}
	}

	assignSinkIDs(prog)
	linkInstructions(prog)
	attachStructPDAs(prog)
	validateCPITargets(prog)
	return prog
}

// assignSinkIDs gives every sink a stable id derived from its kind and
// location, so findings deduplicate across runs. A rare same-line collision
// gets an ordinal suffix.
func assignSinkIDs(prog *ParsedProgram) {
	seen := make(map[string]int, len(prog.Sinks))
	for i := range prog.Sinks {
		s := &prog.Sinks[i]
		id := fmt.Sprintf("%s@%s:%d", s.Kind, s.Ref.File, s.Ref.StartLine)
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s#%d", id, n+1)
		} else {
			seen[id] = 1
		}
		s.ID = id
	}

	byInstruction := make(map[string][]string)
	for _, s := range prog.Sinks {
		if s.Instruction != "" {
			byInstruction[s.Instruction] = append(byInstruction[s.Instruction], s.ID)
		}
	}
	for i := range prog.Instructions {
		prog.Instructions[i].SinkIDs = byInstruction[prog.Instructions[i].Name]
	}
}

// linkInstructions verifies that every instruction's context struct exists,
// falling back to a case-insensitive and then a partial-overlap match.
// Unresolvable contexts become diagnostics, not errors.
func linkInstructions(prog *ParsedProgram) {
	exact := make(map[string]bool, len(prog.Accounts))
	lower := make(map[string]string, len(prog.Accounts))
	for _, a := range prog.Accounts {
		exact[a.Name] = true
		lower[strings.ToLower(a.Name)] = a.Name
	}
	for i := range prog.Instructions {
		instr := &prog.Instructions[i]
		if instr.Context == "" || exact[instr.Context] {
			continue
		}
		if name, ok := lower[strings.ToLower(instr.Context)]; ok {
			instr.Context = name
			continue
		}
		if match := fuzzyStructMatch(instr.Context, prog.Accounts); match != "" {
			prog.Diagnostics = append(prog.Diagnostics, fmt.Sprintf(
				"instruction %s: context struct %q not found, using closest match %q",
				instr.Name, instr.Context, match))
			instr.Context = match
			continue
		}
		prog.Diagnostics = append(prog.Diagnostics, fmt.Sprintf(
			"instruction %s: context struct %q not found", instr.Name, instr.Context))
	}
}

func fuzzyStructMatch(want string, accounts []AccountStruct) string {
	lw := strings.ToLower(want)
	best := ""
	for _, a := range accounts {
		la := strings.ToLower(a.Name)
		if strings.Contains(la, lw) || strings.Contains(lw, la) {
			if len(a.Name) > len(best) {
				best = a.Name
			}
		}
	}
	return best
}

// attachStructPDAs turns seeds/bump constraints on account fields into PDA
// derivations scoped to every instruction that uses the struct. A bare bump
// lets the runtime find the canonical bump; an explicit expression trusts
// stored state; seeds without bump leave the derivation unverified.
func attachStructPDAs(prog *ParsedProgram) {
	instrsByStruct := make(map[string][]string)
	for _, instr := range prog.Instructions {
		if instr.Context != "" {
			instrsByStruct[instr.Context] = append(instrsByStruct[instr.Context], instr.Name)
		}
	}
	for _, acct := range prog.Accounts {
		for _, field := range acct.Fields {
			var seeds []string
			bump := BumpMissing
			hasSeeds := false
			for _, c := range field.Constraints {
				switch c.Kind {
				case ConstraintSeeds:
					hasSeeds = true
					seeds = c.SeedExprs
				case ConstraintBump:
					if c.BumpExpr == "" {
						bump = BumpCanonical
					} else {
						bump = BumpUnchecked
					}
				}
			}
			if !hasSeeds {
				continue
			}
			users := instrsByStruct[acct.Name]
			if len(users) == 0 {
				users = []string{""}
			}
			for _, name := range users {
				prog.PDADerivations = append(prog.PDADerivations, PDADerivation{
					Ref:         field.Ref,
					Instruction: name,
					Seeds:       seeds,
					Bump:        bump,
					Origin:      PDAConstraint,
				})
			}
		}
	}
}

// validateCPITargets marks CPI calls whose target account is pinned by the
// instruction's context struct, either through a Program wrapper or an
// address constraint. Everything else stays unvalidated and feeds the
// arbitrary-CPI candidate rule.
func validateCPITargets(prog *ParsedProgram) {
	structs := make(map[string]*AccountStruct, len(prog.Accounts))
	for i := range prog.Accounts {
		structs[prog.Accounts[i].Name] = &prog.Accounts[i]
	}
	contexts := make(map[string]string, len(prog.Instructions))
	for _, instr := range prog.Instructions {
		contexts[instr.Name] = instr.Context
	}
	for i := range prog.CPICalls {
		call := &prog.CPICalls[i]
		if call.Target == "" || call.Instruction == "" {
			continue
		}
		acct, ok := structs[contexts[call.Instruction]]
		if !ok {
			continue
		}
		for _, field := range acct.Fields {
			if field.Name != call.Target {
				continue
			}
			if field.Wrapper == WrapperProgram || hasConstraintKind(field.Constraints, ConstraintAddress) {
				call.Validated = true
			}
			break
		}
	}
}

func hasConstraintKind(constraints []AccountConstraint, kind ConstraintKind) bool {
	for _, c := range constraints {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
