// # internal/engine/candidates/types.go
package candidates

import (
	"github.com/grkhmz23/solaudit-agent-sub000/internal/engine/parser"
)

// Severity ranks how damaging a confirmed exploit of the candidate would be.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityWeights = map[Severity]int{
	SeverityCritical: 100,
	SeverityHigh:     75,
	SeverityMedium:   50,
	SeverityLow:      25,
	SeverityInfo:     10,
}

// Weight returns the numeric rank used when ordering candidates. Unknown
// severities rank below INFO.
func (s Severity) Weight() int {
	return severityWeights[s]
}

// VulnClass names the vulnerability hypothesis a candidate represents.
type VulnClass string

const (
	ClassMissingSigner            VulnClass = "missing_signer"
	ClassMissingOwnerCheck        VulnClass = "missing_owner_check"
	ClassUncheckedAccount         VulnClass = "unchecked_account"
	ClassArbitraryCPI             VulnClass = "arbitrary_cpi"
	ClassInsecurePDA              VulnClass = "insecure_pda"
	ClassReinitialization         VulnClass = "reinitialization"
	ClassUncheckedArithmetic      VulnClass = "unchecked_arithmetic"
	ClassPrecisionLoss            VulnClass = "precision_loss"
	ClassOracleManipulation       VulnClass = "oracle_manipulation"
	ClassMissingAccessControl     VulnClass = "missing_access_control"
	ClassAccountCloseAbuse        VulnClass = "account_close_abuse"
	ClassMintAuthorityAbuse       VulnClass = "mint_authority_abuse"
	ClassTokenAccountConfusion    VulnClass = "token_account_confusion"
	ClassDuplicateMutableAccounts VulnClass = "duplicate_mutable_accounts"
	ClassSysvarSpoof              VulnClass = "sysvar_spoof"
	ClassTypeCosplay              VulnClass = "type_cosplay"
)

// AccountContext summarizes the validation surface of one account involved
// in a candidate. It is what the confirmation prompts and reports show, so
// constraints are pre-rendered as source-like strings.
type AccountContext struct {
	Name        string   `json:"name"`
	Wrapper     string   `json:"wrapper"`
	Constraints []string `json:"constraints,omitempty"`
	IsSigner    bool     `json:"is_signer,omitempty"`
	IsMut       bool     `json:"is_mut,omitempty"`
	DocChecked  bool     `json:"doc_checked,omitempty"`
}

// VulnCandidate is a deterministic, not-yet-confirmed vulnerability
// hypothesis. Confidence is the heuristic prior in [0, 1]; it rises when
// several independent guards are absent at the same sink, and is capped
// below certainty because static evidence alone never proves exploitability.
type VulnCandidate struct {
	ID          string           `json:"id"`
	Class       VulnClass        `json:"class"`
	Severity    Severity         `json:"severity"`
	Confidence  float64          `json:"confidence"`
	Instruction string           `json:"instruction,omitempty"`
	Ref         parser.SourceRef `json:"ref"`
	Accounts    []AccountContext `json:"accounts,omitempty"`
	Reasoning   string           `json:"reasoning"`
	SinkID      string           `json:"sink_id,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	Excerpt     string           `json:"excerpt,omitempty"`
}

// Weight is the ordering score: severity weight scaled by confidence.
func (c VulnCandidate) Weight() float64 {
	return float64(c.Severity.Weight()) * c.Confidence
}
