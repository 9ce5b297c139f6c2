// # internal/engine/parser/constraints.go
package parser

import "strings"

// ParseConstraints turns the raw argument text of an account attribute into
// typed constraints. Splitting happens on top-level commas only; nesting depth
// is tracked across (), [] and <> so seed arrays and generic types are never
// mis-split. Unrecognized syntax degrades to ConstraintRaw carrying the
// original text verbatim. Never returns an error.
func ParseConstraints(raw string) []AccountConstraint {
	parts := splitTopLevel(raw)
	out := make([]AccountConstraint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, classifyConstraint(part))
	}
	return out
}

// splitTopLevel splits on commas at nesting depth zero. Double-quoted string
// contents are opaque so byte-literal seeds like b"," stay intact. Angle
// brackets only count as nesting when they are not comparison or shift
// operators.
func splitTopLevel(s string) []string {
	var parts []string
	var paren, bracket, angle int
	inString := false
	escaped := false
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '(':
			paren++
		case ')':
			if paren > 0 {
				paren--
			}
		case '[':
			bracket++
		case ']':
			if bracket > 0 {
				bracket--
			}
		case '<':
			if isGenericOpen(s, i) {
				angle++
			}
		case '>':
			if angle > 0 && !isOperatorClose(s, i) {
				angle--
			}
		case ',':
			if paren == 0 && bracket == 0 && angle == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// isGenericOpen reports whether the '<' at position i opens a generic
// argument list rather than acting as a comparison or shift operator.
func isGenericOpen(s string, i int) bool {
	if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '<') {
		return false
	}
	if i > 0 && s[i-1] == '<' {
		return false
	}
	// Generics follow an identifier character; `a < b` does too, but the
	// following guard catches the spaced comparison form.
	if i == 0 || !isIdentChar(s[i-1]) {
		return false
	}
	if i+1 < len(s) && s[i+1] == ' ' {
		return false
	}
	return true
}

// isOperatorClose guards the arrow and comparison forms (->, =>, >=) without
// swallowing the doubled '>' that closes nested generics.
func isOperatorClose(s string, i int) bool {
	if i+1 < len(s) && s[i+1] == '=' {
		return true
	}
	if i > 0 && (s[i-1] == '-' || s[i-1] == '=') {
		return true
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func classifyConstraint(part string) AccountConstraint {
	key, value, isKV := splitKeyValue(part)

	if !isKV {
		switch key {
		case "init":
			return AccountConstraint{Kind: ConstraintInit}
		case "init_if_needed":
			return AccountConstraint{Kind: ConstraintInit, Expr: "if_needed"}
		case "mut":
			return AccountConstraint{Kind: ConstraintMut}
		case "signer":
			return AccountConstraint{Kind: ConstraintSigner}
		case "bump":
			// Bare bump binds the canonical bump.
			return AccountConstraint{Kind: ConstraintBump}
		case "zero":
			return AccountConstraint{Kind: ConstraintZero}
		case "rent_exempt":
			return AccountConstraint{Kind: ConstraintRentExempt}
		case "executable":
			return AccountConstraint{Kind: ConstraintExecutable}
		default:
			return AccountConstraint{Kind: ConstraintRaw, Expr: part}
		}
	}

	switch key {
	case "has_one":
		return AccountConstraint{Kind: ConstraintHasOne, Expr: value}
	case "constraint":
		return AccountConstraint{Kind: ConstraintExpr, Expr: value}
	case "seeds":
		return AccountConstraint{Kind: ConstraintSeeds, Expr: value, SeedExprs: parseSeedList(value)}
	case "bump":
		return AccountConstraint{Kind: ConstraintBump, BumpExpr: value}
	case "payer":
		return AccountConstraint{Kind: ConstraintPayer, Expr: value}
	case "space":
		return AccountConstraint{Kind: ConstraintSpace, Expr: value}
	case "close":
		return AccountConstraint{Kind: ConstraintClose, Expr: value}
	case "owner":
		return AccountConstraint{Kind: ConstraintOwner, Expr: value}
	case "address":
		return AccountConstraint{Kind: ConstraintAddress, Expr: value}
	case "token::authority":
		return AccountConstraint{Kind: ConstraintTokenAuthority, Expr: value}
	case "token::mint":
		return AccountConstraint{Kind: ConstraintTokenMint, Expr: value}
	case "associated_token::authority":
		return AccountConstraint{Kind: ConstraintAssocAuthority, Expr: value}
	case "associated_token::mint":
		return AccountConstraint{Kind: ConstraintAssocMint, Expr: value}
	case "rent_exempt":
		return AccountConstraint{Kind: ConstraintRentExempt, Expr: value}
	}

	switch {
	case strings.HasPrefix(key, "mint::"):
		return AccountConstraint{Kind: ConstraintTokenMint, Expr: part}
	case strings.HasPrefix(key, "realloc"):
		return AccountConstraint{Kind: ConstraintRealloc, Expr: part}
	}

	return AccountConstraint{Kind: ConstraintRaw, Expr: part}
}

// splitKeyValue splits "key = value" on the first top-level '=' that is not
// part of a comparison or fat-arrow operator.
func splitKeyValue(part string) (key, value string, ok bool) {
	var paren, bracket, angle int
	inString := false
	escaped := false

	for i := 0; i < len(part); i++ {
		c := part[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '(':
			paren++
		case ')':
			paren--
		case '[':
			bracket++
		case ']':
			bracket--
		case '<':
			if isGenericOpen(part, i) {
				angle++
			}
		case '>':
			if angle > 0 && !isOperatorClose(part, i) {
				angle--
			}
		case '=':
			if paren != 0 || bracket != 0 || angle != 0 {
				continue
			}
			if i > 0 && (part[i-1] == '=' || part[i-1] == '!' || part[i-1] == '<' || part[i-1] == '>') {
				continue
			}
			if i+1 < len(part) && (part[i+1] == '=' || part[i+1] == '>') {
				// Skip past the operator so `constraint = a == b` keeps
				// scanning from the right place.
				i++
				continue
			}
			return strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:]), true
		}
	}
	return strings.TrimSpace(part), "", false
}

// parseSeedList re-splits a seeds value with the same top-level routine. The
// outer brackets are optional so both `[a, b]` and `a, b` parse.
func parseSeedList(value string) []string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		value = value[1 : len(value)-1]
	}
	parts := splitTopLevel(value)
	seeds := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seeds = append(seeds, part)
	}
	return seeds
}
