package usecase

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// IntentRule maps question keywords to one intent and its hand-tuned
// retrieval tuple. Rules are evaluated in slice order: the last matching
// rule wins, so the highest-priority intents sit at the end of the list.
// Legal exposure must never be under-retrieved because a more generic
// keyword matched first.
type IntentRule struct {
	Intent             domain.Intent           `yaml:"intent"`
	Keywords           []string                `yaml:"keywords"`
	RequiredEvidence   domain.RequiredEvidence `yaml:"required_evidence"`
	AdminLawBudget     int                     `yaml:"admin_law_budget"`
	CustomerDocBudget  int                     `yaml:"customer_doc_budget"`
	GoverningStandards []string                `yaml:"standards"`
	PatternHints       []string                `yaml:"pattern_hints"`
	// CycleStandards attaches extra standards when a specific cycle
	// keyword matched (revenue -> IFRS 15, leases -> IFRS 16, ...).
	CycleStandards map[string][]string `yaml:"cycle_standards"`
}

// DefaultIntentRules is the compiled-in taxonomy, ordered from lowest to
// highest priority. The list is data: deployments may replace it with a
// YAML file via LoadIntentRules.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		{
			Intent:            domain.IntentContractSignatories,
			Keywords:          []string{"signatory", "signatories", "signature", "signed by", "on behalf of", "director general", "counterparty", "договор", "подпис", "в лице", "директор"},
			RequiredEvidence:  domain.EvidenceMustCite,
			AdminLawBudget:    2,
			CustomerDocBudget: 8,
			PatternHints:      []string{"signatories", "names", "roles"},
		},
		{
			Intent:            domain.IntentCycleDeepDive,
			Keywords:          []string{"revenue", "receivables", "inventory", "lease", "leases", "выручка", "запасы", "аренда"},
			RequiredEvidence:  domain.EvidenceMustCite,
			AdminLawBudget:    5,
			CustomerDocBudget: 7,
			PatternHints:      []string{"cycle_specific_terms", "account_references"},
			CycleStandards: map[string][]string{
				"revenue":     {"IFRS 15"},
				"выручка":     {"IFRS 15"},
				"receivables": {"IFRS 9"},
				"inventory":   {"IAS 2"},
				"запасы":      {"IAS 2"},
				"lease":       {"IFRS 16"},
				"leases":      {"IFRS 16"},
				"аренда":      {"IFRS 16"},
			},
		},
		{
			Intent:             domain.IntentForensicRedFlags,
			Keywords:           []string{"forensic", "fraud", "anomaly", "anomalies", "red flag", "мошенничество"},
			RequiredEvidence:   domain.EvidenceMustCite,
			AdminLawBudget:     8,
			CustomerDocBudget:  4,
			GoverningStandards: []string{"ISA 240"},
			PatternHints:       []string{"anomaly_patterns", "red_flags"},
		},
		{
			Intent:            domain.IntentPBCWaves,
			Keywords:          []string{"pbc", "provide", "request list", "documents needed", "запрос"},
			RequiredEvidence:  domain.EvidenceHelpful,
			AdminLawBudget:    3,
			CustomerDocBudget: 6,
			PatternHints:      []string{"document_types", "formats"},
		},
		{
			Intent:             domain.IntentSampling,
			Keywords:           []string{"sample", "sampling", "выборка"},
			RequiredEvidence:   domain.EvidenceMustCite,
			AdminLawBudget:     6,
			CustomerDocBudget:  3,
			GoverningStandards: []string{"ISA 530"},
			PatternHints:       []string{"population_sizes", "sample_methods"},
		},
		{
			Intent:             domain.IntentPlanningMateriality,
			Keywords:           []string{"materiality", "planning", "benchmark", "существенность"},
			RequiredEvidence:   domain.EvidenceMustCite,
			AdminLawBudget:     7,
			CustomerDocBudget:  2,
			GoverningStandards: []string{"ISA 320", "ISA 220"},
			PatternHints:       []string{"amounts", "benchmarks", "percentages"},
		},
		{
			Intent:             domain.IntentTCWGCommunications,
			Keywords:           []string{"tcwg", "governance", "board", "audit committee", "комитет"},
			RequiredEvidence:   domain.EvidenceHelpful,
			AdminLawBudget:     4,
			CustomerDocBudget:  4,
			GoverningStandards: []string{"ISA 260", "ISA 580"},
		},
		{
			Intent:             domain.IntentKAM,
			Keywords:           []string{"kam", "key audit matter", "key audit matters", "significant risk", "ключевой вопрос"},
			RequiredEvidence:   domain.EvidenceMustCite,
			AdminLawBudget:     6,
			CustomerDocBudget:  6,
			GoverningStandards: []string{"ISA 701"},
			PatternHints:       []string{"materiality_indicators", "judgment_areas"},
		},
		{
			Intent:             domain.IntentLegalSubsequentEvents,
			Keywords:           []string{"lawsuit", "legal", "court", "regulator", "litigation", "subsequent event", "subsequent events", "иск", "регулятор"},
			RequiredEvidence:   domain.EvidenceMustCite,
			AdminLawBudget:     8,
			CustomerDocBudget:  3,
			GoverningStandards: []string{"IAS 37", "IAS 10", "ISA 501"},
			PatternHints:       []string{"legal_references", "dates", "amounts"},
		},
	}
}

var validIntents = map[domain.Intent]struct{}{
	domain.IntentContractSignatories:   {},
	domain.IntentPlanningMateriality:   {},
	domain.IntentSampling:              {},
	domain.IntentCycleDeepDive:         {},
	domain.IntentLegalSubsequentEvents: {},
	domain.IntentKAM:                   {},
	domain.IntentTCWGCommunications:    {},
	domain.IntentPBCWaves:              {},
	domain.IntentForensicRedFlags:      {},
	domain.IntentSmalltalk:             {},
}

// LoadIntentRules reads a YAML rule file. Unknown intents are rejected;
// keywords and budgets are free-form.
func LoadIntentRules(path string) ([]IntentRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent rules: %w", err)
	}

	var file struct {
		Intents []IntentRule `yaml:"intents"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("intent rules file %s: no intents", path)
	}

	for i, rule := range file.Intents {
		if _, ok := validIntents[rule.Intent]; !ok {
			return nil, fmt.Errorf("intent rules file %s: unknown intent %q at index %d", path, rule.Intent, i)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("intent rules file %s: intent %q has no keywords", path, rule.Intent)
		}
		if rule.AdminLawBudget < 0 || rule.CustomerDocBudget < 0 {
			return nil, fmt.Errorf("intent rules file %s: intent %q has a negative budget", path, rule.Intent)
		}
	}
	return file.Intents, nil
}
