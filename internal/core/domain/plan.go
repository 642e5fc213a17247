package domain

// Intent is a closed routing label. The keyword tables that map question
// text to intents are data (see usecase intent rules), not code.
type Intent string

const (
	IntentContractSignatories   Intent = "contract_signatories"
	IntentPlanningMateriality   Intent = "planning_materiality"
	IntentSampling              Intent = "sampling"
	IntentCycleDeepDive         Intent = "cycle_deep_dive"
	IntentLegalSubsequentEvents Intent = "legal_subsequent_events"
	IntentKAM                   Intent = "kam"
	IntentTCWGCommunications    Intent = "tcwg_communications"
	IntentPBCWaves              Intent = "pbc_waves"
	IntentForensicRedFlags      Intent = "forensic_red_flags"
	IntentSmalltalk             Intent = "smalltalk"
)

// RequiredEvidence is the plan's citation strictness.
type RequiredEvidence string

const (
	EvidenceMustCite RequiredEvidence = "must_cite"
	EvidenceHelpful  RequiredEvidence = "helpful"
	EvidenceOptional RequiredEvidence = "optional"
)

// QueryPlan is the router's decision record. Created once per query,
// immutable afterward. A zero budget means the scope is skipped entirely.
type QueryPlan struct {
	Intent             Intent           `json:"intent"`
	RequiredEvidence   RequiredEvidence `json:"required_evidence"`
	AdminLawBudget     int              `json:"admin_law_budget"`
	CustomerDocBudget  int              `json:"customer_doc_budget"`
	ChatMemoryBudget   int              `json:"chat_memory_budget"`
	TotalContextLimit  int              `json:"total_context_limit"`
	Temperature        float64          `json:"temperature"`
	ExactPatterns      []string         `json:"exact_patterns,omitempty"`
	GoverningStandards []string         `json:"governing_standards,omitempty"`
	SubQueries         []string         `json:"sub_queries,omitempty"`
	MustFind           []string         `json:"must_find,omitempty"`
}

// BudgetFor returns the plan's candidate budget for one scope.
func (p QueryPlan) BudgetFor(scope Scope) int {
	switch scope {
	case ScopeAdminLaw:
		return p.AdminLawBudget
	case ScopeCustomerDoc:
		return p.CustomerDocBudget
	default:
		return 0
	}
}

// EffectiveSubQueries returns the retrieval reformulations, falling back
// to the original question when no decomposition was produced.
func (p QueryPlan) EffectiveSubQueries(question string) []string {
	if len(p.SubQueries) == 0 {
		return []string{question}
	}
	return p.SubQueries
}
