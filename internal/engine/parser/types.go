// # internal/engine/parser/types.go
package parser

// Framework classifies the program style under audit.
type Framework string

const (
	FrameworkAnchor  Framework = "anchor"
	FrameworkNative  Framework = "native"
	FrameworkUnknown Framework = "unknown"
)

// SourceRef points at a span in one source file. Lines are 1-based and
// inclusive.
type SourceRef struct {
	File      string
	StartLine int
	EndLine   int
}

// FileInfo is the per-file inventory entry. Raw content is not retained
// beyond parse time; Hash is an xxhash64 hex digest for change detection.
type FileInfo struct {
	Path  string
	Lines int
	Hash  string
}

// ParsedProgram is the immutable program model built once per run.
type ParsedProgram struct {
	Name           string
	ProgramID      string
	Framework      Framework
	Files          []FileInfo
	Instructions   []Instruction
	Accounts       []AccountStruct
	Sinks          []Sink
	CPICalls       []CPICall
	PDADerivations []PDADerivation
	Macros         []MacroInvocation
	StateEnums     []StateEnum
	Constants      []Constant
	Diagnostics    []string
}

// Instruction is an entrypoint-reachable handler: an attribute-tagged module
// member under the account-context framework, or a naming-convention function
// in native style.
type Instruction struct {
	Name    string
	Ref     SourceRef
	Context string // bound account-context struct name, "" if none
	Params  []Param
	SinkIDs []string
	Calls   []string
	Body    string // bounded excerpt, at most maxBodyLines lines
}

type Param struct {
	Name string
	Type string
}

// AccountStruct is an account-context struct (#[derive(Accounts)]) or a
// native account layout.
type AccountStruct struct {
	Name     string
	Ref      SourceRef
	Fields   []AccountField
	HasInit  bool
	HasClose bool
}

type AccountField struct {
	Name        string
	RawType     string
	Wrapper     AccountWrapper
	InnerType   string
	Constraints []AccountConstraint
	IsSigner    bool
	IsMut       bool
	DocChecked  bool // carries a /// CHECK: escape-hatch comment
	Ref         SourceRef
}

// AccountWrapper is the resolved wrapper classification of a field type.
type AccountWrapper string

const (
	WrapperAccount       AccountWrapper = "account"
	WrapperSigner        AccountWrapper = "signer"
	WrapperUnchecked     AccountWrapper = "unchecked_account"
	WrapperAccountInfo   AccountWrapper = "account_info"
	WrapperProgram       AccountWrapper = "program"
	WrapperSystemAccount AccountWrapper = "system_account"
	WrapperSysvar        AccountWrapper = "sysvar"
	WrapperLoader        AccountWrapper = "account_loader"
	WrapperInterface     AccountWrapper = "interface"
	WrapperUnknown       AccountWrapper = "unknown"
)

// ConstraintKind tags one parsed account-attribute constraint.
type ConstraintKind string

const (
	ConstraintInit           ConstraintKind = "init"
	ConstraintMut            ConstraintKind = "mut"
	ConstraintSigner         ConstraintKind = "signer"
	ConstraintHasOne         ConstraintKind = "has_one"
	ConstraintExpr           ConstraintKind = "constraint"
	ConstraintSeeds          ConstraintKind = "seeds"
	ConstraintBump           ConstraintKind = "bump"
	ConstraintPayer          ConstraintKind = "payer"
	ConstraintSpace          ConstraintKind = "space"
	ConstraintClose          ConstraintKind = "close"
	ConstraintOwner          ConstraintKind = "owner"
	ConstraintAddress        ConstraintKind = "address"
	ConstraintTokenAuthority ConstraintKind = "token_authority"
	ConstraintTokenMint      ConstraintKind = "token_mint"
	ConstraintAssocAuthority ConstraintKind = "associated_token_authority"
	ConstraintAssocMint      ConstraintKind = "associated_token_mint"
	ConstraintRentExempt     ConstraintKind = "rent_exempt"
	ConstraintZero           ConstraintKind = "zero"
	ConstraintExecutable     ConstraintKind = "executable"
	ConstraintRealloc        ConstraintKind = "realloc"
	ConstraintRaw            ConstraintKind = "raw"
)

// AccountConstraint is one typed constraint. Unrecognized syntax degrades to
// ConstraintRaw carrying the original text verbatim, never dropped.
type AccountConstraint struct {
	Kind      ConstraintKind
	Expr      string
	SeedExprs []string
	BumpExpr  string
}

// CPIKind tags how a cross-program invocation is issued.
type CPIKind string

const (
	CPIInvoke        CPIKind = "invoke"
	CPIInvokeSigned  CPIKind = "invoke_signed"
	CPIContext       CPIKind = "cpi_context"
	CPIContextSigned CPIKind = "cpi_context_signed"
	CPIHelper        CPIKind = "helper"
)

type CPICall struct {
	Ref         SourceRef
	Instruction string
	Kind        CPIKind
	Target      string // program expression, "" if not recoverable
	Validated   bool   // target resolves to a typed Program account
	Excerpt     string
}

// BumpHandling describes how a derived address binds its bump seed.
type BumpHandling string

const (
	BumpCanonical BumpHandling = "canonical"
	BumpUnchecked BumpHandling = "unchecked"
	BumpMissing   BumpHandling = "missing"
)

type PDAOrigin string

const (
	PDAConstraint PDAOrigin = "constraint"
	PDAInline     PDAOrigin = "inline"
)

type PDADerivation struct {
	Ref         SourceRef
	Instruction string
	Seeds       []string
	Bump        BumpHandling
	Origin      PDAOrigin
}

// SinkKind tags a value-critical operation site.
type SinkKind string

const (
	SinkTokenTransfer   SinkKind = "token_transfer"
	SinkLamportTransfer SinkKind = "lamport_transfer"
	SinkMint            SinkKind = "mint"
	SinkBurn            SinkKind = "burn"
	SinkAccountClose    SinkKind = "account_close"
	SinkAuthorityUpdate SinkKind = "authority_update"
	SinkSignedCPI       SinkKind = "signed_cpi"
	SinkOracleRead      SinkKind = "oracle_read"
	SinkRealloc         SinkKind = "realloc"
	SinkStateWrite      SinkKind = "state_write"
)

// Sink is one dangerous-operation site. IDs are assigned once during the
// program merge pass and are stable for the run.
type Sink struct {
	ID          string
	Kind        SinkKind
	Ref         SourceRef
	Instruction string
	Accounts    []string
	Excerpt     string
}

type MacroInvocation struct {
	Name        string
	Args        string
	Instruction string // enclosing instruction, "" at module scope
	Ref         SourceRef
}

type StateEnum struct {
	Name        string
	Variants    []string
	IsErrorCode bool
	Ref         SourceRef
}

type Constant struct {
	Name  string
	Type  string
	Value string
	Ref   SourceRef
}

// FileModel is the per-file extraction result. Sink IDs stay zero until the
// merge pass assigns program-wide ids.
type FileModel struct {
	Path          string
	Lines         int
	Hash          string
	ProgramModule string
	ProgramID     string
	HasEntrypoint bool
	UsesAnchor    bool
	Instructions  []Instruction
	Accounts      []AccountStruct
	Sinks         []Sink
	CPICalls      []CPICall
	PDAs          []PDADerivation
	Macros        []MacroInvocation
	Enums         []StateEnum
	Consts        []Constant
	Diagnostics   []string
}
