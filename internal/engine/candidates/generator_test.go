package candidates

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
)

func parseFixture(t *testing.T, root string) *parser.ParsedProgram {
	t.Helper()
	p, err := parser.New(parser.DiscoverOptions{MaxFileSize: 1 << 20}, 2)
	if err != nil {
		t.Fatalf("parser.New: %v", err)
	}
	prog, err := p.ParseProgram(context.Background(), root)
	if err != nil {
		t.Fatalf("ParseProgram(%s): %v", root, err)
	}
	return prog
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func requireNoDuplicateFingerprints(t *testing.T, got []VulnCandidate) {
	t.Helper()
	seen := make(map[string]int, len(got))
	for i, c := range got {
		if c.Fingerprint == "" {
			t.Errorf("candidate %d (%s) has an empty fingerprint", i, c.Class)
			continue
		}
		if j, dup := seen[c.Fingerprint]; dup {
			t.Errorf("candidates %d and %d share fingerprint %q", j, i, c.Fingerprint)
		}
		seen[c.Fingerprint] = i
	}
}

func requireOrdered(t *testing.T, got []VulnCandidate) {
	t.Helper()
	for i := 1; i < len(got); i++ {
		if got[i-1].Weight() < got[i].Weight() {
			t.Errorf("ordering violated at %d: %s weight %.2f before %s weight %.2f",
				i, got[i-1].Class, got[i-1].Weight(), got[i].Class, got[i].Weight())
		}
	}
}

func TestGenerateVaultFixture(t *testing.T) {
	prog := parseFixture(t, "../parser/testdata/sample-vault")
	got := New().Generate(prog)
	if len(got) == 0 {
		t.Fatal("no candidates for a deliberately vulnerable program")
	}
	requireNoDuplicateFingerprints(t, got)
	requireOrdered(t, got)

	var signerless *VulnCandidate
	for i := range got {
		c := &got[i]
		if c.Instruction != "withdraw" {
			continue
		}
		if c.Class == ClassMissingSigner || c.Class == ClassMissingOwnerCheck {
			signerless = c
			break
		}
	}
	if signerless == nil {
		t.Fatal("withdraw moves tokens via a signerless context but produced no signer/owner candidate")
	}
	if signerless.Severity != SeverityCritical && signerless.Severity != SeverityHigh {
		t.Errorf("signerless withdraw severity = %s, want CRITICAL or HIGH", signerless.Severity)
	}

	top := got[0]
	if top.Class != ClassMissingSigner || top.Instruction != "withdraw" {
		t.Errorf("top candidate = %s in %s, want the signerless withdraw ranked first", top.Class, top.Instruction)
	}
	if top.Severity != SeverityCritical {
		t.Errorf("top severity = %s, want CRITICAL", top.Severity)
	}

	want := []struct {
		class       VulnClass
		instruction string
	}{
		{ClassMissingAccessControl, "reinit_vault"},
		{ClassReinitialization, "reinit_vault"},
		{ClassOracleManipulation, "update_price"},
		{ClassUncheckedArithmetic, "deposit"},
		{ClassInsecurePDA, "withdraw"},
		{ClassDuplicateMutableAccounts, "deposit"},
		{ClassTokenAccountConfusion, "withdraw"},
	}
	for _, w := range want {
		found := false
		for _, c := range got {
			if c.Class == w.class && c.Instruction == w.instruction {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %s candidate for %s", w.class, w.instruction)
		}
	}

	// The well-guarded instructions must stay quiet for the signer classes.
	for _, c := range got {
		if c.Class == ClassMissingSigner && c.Instruction != "withdraw" {
			t.Errorf("unexpected missing_signer candidate for %s", c.Instruction)
		}
	}
}

func TestGenerateNativeFixture(t *testing.T) {
	prog := parseFixture(t, "../parser/testdata/native-transfer")
	got := New().Generate(prog)

	wantClasses := []VulnClass{ClassMissingSigner, ClassMissingOwnerCheck, ClassArbitraryCPI}
	for _, class := range wantClasses {
		found := false
		for _, c := range got {
			if c.Class == class && c.Instruction == "process_instruction" {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %s candidate for process_instruction", class)
		}
	}
	requireNoDuplicateFingerprints(t, got)
	requireOrdered(t, got)
}

func TestGenerateDeterministic(t *testing.T) {
	prog := parseFixture(t, "../parser/testdata/sample-vault")
	first := New().Generate(prog)
	second := New().Generate(prog)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("two runs over the same program disagree")
	}
}

func TestGenerateNilAndEmpty(t *testing.T) {
	if got := New().Generate(nil); got != nil {
		t.Errorf("Generate(nil) = %d candidates, want none", len(got))
	}
	if got := New().Generate(&parser.ParsedProgram{}); got != nil {
		t.Errorf("Generate(empty) = %d candidates, want none", len(got))
	}
}

// Two sinks feeding the same unvalidated account must collapse into one
// candidate carrying the higher confidence.
func TestGenerateCollapsesFingerprints(t *testing.T) {
	ref := parser.SourceRef{File: "src/lib.rs", StartLine: 12, EndLine: 12}
	prog := &parser.ParsedProgram{
		Name:      "escrow",
		Framework: parser.FrameworkAnchor,
		Files:     []parser.FileInfo{{Path: "src/lib.rs", Lines: 80}},
		Instructions: []parser.Instruction{{
			Name:    "drain",
			Context: "Drain",
			Ref:     parser.SourceRef{File: "src/lib.rs", StartLine: 10, EndLine: 30},
		}},
		Accounts: []parser.AccountStruct{{
			Name: "Drain",
			Ref:  parser.SourceRef{File: "src/lib.rs", StartLine: 40, EndLine: 50},
			Fields: []parser.AccountField{
				{Name: "escrow_wallet", Wrapper: parser.WrapperUnchecked, IsMut: true, Ref: ref},
				{Name: "payer", Wrapper: parser.WrapperSigner, IsSigner: true, Ref: ref},
			},
		}},
		Sinks: []parser.Sink{
			{
				ID:          "state_write@src/lib.rs:12",
				Kind:        parser.SinkStateWrite,
				Instruction: "drain",
				Accounts:    []string{"escrow_wallet"},
				Ref:         ref,
			},
			{
				ID:          "token_transfer@src/lib.rs:20",
				Kind:        parser.SinkTokenTransfer,
				Instruction: "drain",
				Accounts:    []string{"escrow_wallet"},
				Ref:         parser.SourceRef{File: "src/lib.rs", StartLine: 20, EndLine: 20},
			},
		},
	}

	got := New().Generate(prog)
	var unchecked []VulnCandidate
	for _, c := range got {
		if c.Class == ClassUncheckedAccount {
			unchecked = append(unchecked, c)
		}
	}
	if len(unchecked) != 1 {
		t.Fatalf("unchecked_account candidates = %d, want 1 after fingerprint collapse", len(unchecked))
	}
	c := unchecked[0]
	if !closeTo(c.Confidence, 0.75) {
		t.Errorf("confidence = %v, want 0.75 (the higher of the two collapsed instances)", c.Confidence)
	}
	if c.Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH from the value-moving instance", c.Severity)
	}
	if c.Fingerprint != "unchecked_account|drain|src/lib.rs|escrow_wallet" {
		t.Errorf("fingerprint = %q", c.Fingerprint)
	}
	if !strings.HasPrefix(c.ID, "cand-") {
		t.Errorf("id = %q, want cand- prefix", c.ID)
	}
}

func TestCheckAccessControlRespectsGuards(t *testing.T) {
	ref := parser.SourceRef{File: "src/lib.rs", StartLine: 5, EndLine: 5}
	base := func(constraints ...parser.AccountConstraint) *parser.ParsedProgram {
		return &parser.ParsedProgram{
			Framework: parser.FrameworkAnchor,
			Instructions: []parser.Instruction{{
				Name: "set_admin", Context: "SetAdmin", Ref: ref,
			}},
			Accounts: []parser.AccountStruct{{
				Name: "SetAdmin",
				Ref:  ref,
				Fields: []parser.AccountField{
					{Name: "config", Wrapper: parser.WrapperAccount, InnerType: "Config", IsMut: true, Constraints: constraints, Ref: ref},
					{Name: "admin", Wrapper: parser.WrapperSigner, IsSigner: true, Ref: ref},
				},
			}},
			Sinks: []parser.Sink{{
				ID:          "authority_update@src/lib.rs:6",
				Kind:        parser.SinkAuthorityUpdate,
				Instruction: "set_admin",
				Accounts:    []string{"config"},
				Ref:         ref,
			}},
		}
	}

	guarded := New().Generate(base(parser.AccountConstraint{Kind: parser.ConstraintHasOne, Expr: "admin"}))
	for _, c := range guarded {
		if c.Class == ClassMissingAccessControl {
			t.Errorf("has_one-guarded authority update still flagged: %s", c.Reasoning)
		}
	}

	open := New().Generate(base(parser.AccountConstraint{Kind: parser.ConstraintMut}))
	found := false
	for _, c := range open {
		if c.Class == ClassMissingAccessControl && c.Instruction == "set_admin" {
			found = true
			if c.Severity != SeverityHigh {
				t.Errorf("severity = %s, want HIGH", c.Severity)
			}
		}
	}
	if !found {
		t.Error("unguarded authority update produced no missing_access_control candidate")
	}
}

func TestCheckReinitializationIfNeeded(t *testing.T) {
	ref := parser.SourceRef{File: "src/lib.rs", StartLine: 8, EndLine: 8}
	prog := &parser.ParsedProgram{
		Framework: parser.FrameworkAnchor,
		Instructions: []parser.Instruction{{
			Name: "create_pool", Context: "CreatePool", Ref: ref,
		}},
		Accounts: []parser.AccountStruct{{
			Name:    "CreatePool",
			Ref:     ref,
			HasInit: true,
			Fields: []parser.AccountField{
				{
					Name: "pool", Wrapper: parser.WrapperAccount, InnerType: "Pool", IsMut: true,
					Constraints: []parser.AccountConstraint{{Kind: parser.ConstraintInit, Expr: "if_needed"}},
					Ref:         ref,
				},
				{Name: "payer", Wrapper: parser.WrapperSigner, IsSigner: true, Ref: ref},
			},
		}},
		Sinks: []parser.Sink{{
			ID:          "state_write@src/lib.rs:9",
			Kind:        parser.SinkStateWrite,
			Instruction: "create_pool",
			Accounts:    []string{"pool"},
			Ref:         ref,
		}},
	}

	got := New().Generate(prog)
	found := false
	for _, c := range got {
		if c.Class == ClassReinitialization {
			found = true
			if c.Severity != SeverityMedium {
				t.Errorf("init_if_needed severity = %s, want MEDIUM", c.Severity)
			}
			if !strings.Contains(c.Reasoning, "init_if_needed") {
				t.Errorf("reasoning does not name init_if_needed: %q", c.Reasoning)
			}
		}
	}
	if !found {
		t.Error("init_if_needed account produced no reinitialization candidate")
	}
}

func TestInspectCPICalls(t *testing.T) {
	ref := parser.SourceRef{File: "src/lib.rs", StartLine: 20, EndLine: 24}
	prog := &parser.ParsedProgram{
		Framework: parser.FrameworkAnchor,
		Instructions: []parser.Instruction{{
			Name: "forward", Context: "Forward", Ref: ref,
		}},
		Accounts: []parser.AccountStruct{{
			Name: "Forward",
			Ref:  ref,
			Fields: []parser.AccountField{
				{Name: "target_program", Wrapper: parser.WrapperUnchecked, Ref: ref},
				{Name: "caller", Wrapper: parser.WrapperSigner, IsSigner: true, Ref: ref},
			},
		}},
		Sinks: []parser.Sink{{
			ID:          "signed_cpi@src/lib.rs:21",
			Kind:        parser.SinkSignedCPI,
			Instruction: "forward",
			Ref:         ref,
		}},
		CPICalls: []parser.CPICall{
			{
				Ref:         ref,
				Instruction: "forward",
				Kind:        parser.CPIInvokeSigned,
				Target:      "target_program",
				Validated:   false,
			},
			{
				Ref:         parser.SourceRef{File: "src/lib.rs", StartLine: 30, EndLine: 30},
				Instruction: "forward",
				Kind:        parser.CPIContext,
				Target:      "token_program",
				Validated:   true,
			},
		},
	}

	got := New().Generate(prog)
	var cpi []VulnCandidate
	for _, c := range got {
		if c.Class == ClassArbitraryCPI {
			cpi = append(cpi, c)
		}
	}
	if len(cpi) != 1 {
		t.Fatalf("arbitrary_cpi candidates = %d, want 1 (validated call must not count)", len(cpi))
	}
	if cpi[0].Severity != SeverityCritical {
		t.Errorf("signed unvalidated CPI severity = %s, want CRITICAL", cpi[0].Severity)
	}
	if !closeTo(cpi[0].Confidence, 0.75) {
		t.Errorf("confidence = %v, want 0.75 (signed call through an unchecked wrapper)", cpi[0].Confidence)
	}
}

func TestCheckSysvarAndCloseRules(t *testing.T) {
	ref := parser.SourceRef{File: "src/lib.rs", StartLine: 3, EndLine: 3}
	prog := &parser.ParsedProgram{
		Framework: parser.FrameworkAnchor,
		Instructions: []parser.Instruction{{
			Name: "settle", Context: "Settle", Ref: ref,
		}},
		Accounts: []parser.AccountStruct{{
			Name:     "Settle",
			Ref:      ref,
			HasClose: true,
			Fields: []parser.AccountField{
				{
					Name: "escrow", Wrapper: parser.WrapperAccount, InnerType: "Escrow", IsMut: true,
					Constraints: []parser.AccountConstraint{
						{Kind: parser.ConstraintMut},
						{Kind: parser.ConstraintClose, Expr: "receiver"},
					},
					Ref: ref,
				},
				{Name: "receiver", Wrapper: parser.WrapperUnchecked, IsMut: true, Ref: ref},
				{Name: "rent", Wrapper: parser.WrapperAccountInfo, Ref: ref},
				{Name: "caller", Wrapper: parser.WrapperSigner, IsSigner: true, Ref: ref},
			},
		}},
		Sinks: []parser.Sink{{
			ID:          "state_write@src/lib.rs:4",
			Kind:        parser.SinkStateWrite,
			Instruction: "settle",
			Accounts:    []string{"escrow"},
			Ref:         ref,
		}},
	}

	got := New().Generate(prog)

	var closeAbuse, sysvar *VulnCandidate
	for i := range got {
		switch got[i].Class {
		case ClassAccountCloseAbuse:
			closeAbuse = &got[i]
		case ClassSysvarSpoof:
			sysvar = &got[i]
		}
	}
	if closeAbuse == nil {
		t.Fatal("close to an unchecked receiver produced no account_close_abuse candidate")
	}
	if !closeTo(closeAbuse.Confidence, 0.65) {
		t.Errorf("close abuse confidence = %v, want 0.65", closeAbuse.Confidence)
	}
	if sysvar == nil {
		t.Fatal("raw rent account produced no sysvar_spoof candidate")
	}
	if sysvar.Severity != SeverityLow {
		t.Errorf("sysvar severity = %s, want LOW", sysvar.Severity)
	}
}

func TestContainsIdent(t *testing.T) {
	cases := []struct {
		expr, name string
		want       bool
	}{
		{"authority.key().as_ref()", "authority", true},
		{"vault.authority.as_ref()", "authority", false},
		{"vault.authority.as_ref()", "vault", true},
		{"new_authority", "authority", false},
		{"authority_old", "authority", false},
		{"a == b", "authority", false},
		{"", "authority", false},
	}
	for _, tc := range cases {
		if got := containsIdent(tc.expr, tc.name); got != tc.want {
			t.Errorf("containsIdent(%q, %q) = %v, want %v", tc.expr, tc.name, got, tc.want)
		}
	}
}

func TestSeverityWeights(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
	for i := 1; i < len(order); i++ {
		if order[i-1].Weight() <= order[i].Weight() {
			t.Errorf("%s weight %d not above %s weight %d",
				order[i-1], order[i-1].Weight(), order[i], order[i].Weight())
		}
	}
	if Severity("bogus").Weight() != 0 {
		t.Errorf("unknown severity weight = %d, want 0", Severity("bogus").Weight())
	}
}
