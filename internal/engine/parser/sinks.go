// # internal/engine/parser/sinks.go
package parser

import (
	"regexp"
	"strings"
)

// sinkRule maps callee path suffixes to a sink kind. Suffixes are matched
// against the full path text of the callee so `token::transfer` never
// collides with `system_program::transfer`.
type sinkRule struct {
	Kind     SinkKind
	Suffixes []string
}

var sinkRules = []sinkRule{
	{SinkTokenTransfer, []string{"token::transfer", "token::transfer_checked", "spl_token::instruction::transfer"}},
	{SinkLamportTransfer, []string{"system_instruction::transfer", "system_program::transfer"}},
	{SinkMint, []string{"token::mint_to", "mint_to", "mint_to_checked"}},
	{SinkBurn, []string{"token::burn", "burn_checked"}},
	{SinkAccountClose, []string{"token::close_account", "close_account"}},
	{SinkAuthorityUpdate, []string{"token::set_authority", "set_authority"}},
	{SinkSignedCPI, []string{"invoke_signed", "CpiContext::new_with_signer"}},
	{SinkOracleRead, []string{"get_price", "try_get_price", "get_price_no_older_than", "load_price_feed_from_account_info"}},
	{SinkRealloc, []string{"realloc"}},
}

// classifySinkCall matches a callee path against the sink rule table.
func classifySinkCall(callee string) (SinkKind, bool) {
	for _, rule := range sinkRules {
		for _, suffix := range rule.Suffixes {
			if pathMatches(callee, suffix) {
				return rule.Kind, true
			}
		}
	}
	return "", false
}

// pathMatches reports whether callee equals suffix or ends with it at a path
// or method boundary.
func pathMatches(callee, suffix string) bool {
	if callee == suffix {
		return true
	}
	if strings.HasSuffix(callee, "::"+suffix) {
		return true
	}
	if strings.HasSuffix(callee, "."+suffix) {
		return true
	}
	return false
}

// classifyCPICall tags cross-program invocation constructors.
func classifyCPICall(callee string) (CPIKind, bool) {
	switch {
	case pathMatches(callee, "invoke_signed"):
		return CPIInvokeSigned, true
	case pathMatches(callee, "invoke"):
		return CPIInvoke, true
	case pathMatches(callee, "CpiContext::new_with_signer"):
		return CPIContextSigned, true
	case pathMatches(callee, "CpiContext::new"):
		return CPIContext, true
	}
	// Token-program helpers issue the CPI internally.
	if kind, ok := classifySinkCall(callee); ok {
		switch kind {
		case SinkTokenTransfer, SinkMint, SinkBurn, SinkAccountClose, SinkAuthorityUpdate:
			return CPIHelper, true
		}
	}
	return "", false
}

// classifyPDACall tags derived-address calls and the bump handling they imply.
func classifyPDACall(callee string) (BumpHandling, bool) {
	if pathMatches(callee, "find_program_address") {
		return BumpCanonical, true
	}
	if pathMatches(callee, "create_program_address") {
		return BumpUnchecked, true
	}
	return "", false
}

var accountRefPattern = regexp.MustCompile(`ctx\.accounts\.([A-Za-z_][A-Za-z0-9_]*)`)

// referencedAccounts extracts the ctx.accounts.<name> references in source
// order, deduplicated.
func referencedAccounts(text string) []string {
	matches := accountRefPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// notableMacros are the invocation names worth carrying into the program
// model. Guard macros matter to downstream candidate scoring.
var notableMacros = map[string]bool{
	"declare_id":       true,
	"entrypoint":       true,
	"require":          true,
	"require_eq":       true,
	"require_neq":      true,
	"require_keys_eq":  true,
	"require_keys_neq": true,
	"require_gt":       true,
	"require_gte":      true,
	"emit":             true,
}
