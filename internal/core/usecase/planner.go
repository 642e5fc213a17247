package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// Always-on extraction patterns. These run on every question regardless
// of intent: a date, a standard reference, or a monetary amount in the
// question must survive into retrieval verbatim.
var (
	datePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	standardPattern = regexp.MustCompile(`\b[A-Z]{2,4}\s*\d{1,4}\b`)
	currencyPattern = regexp.MustCompile(`\b(?:USD|KZT|EUR)\s*[\d,]+\.?\d*\b`)
)

const (
	defaultChatMemoryBudget  = 3
	defaultTotalContextLimit = 8000
	defaultTemperature       = 0.3

	smalltalkAdminLawBudget = 2

	maxSubQueries = 6
	maxMustFind   = 6
)

// Planner routes a question to an intent and builds the retrieval plan.
// Classification is deterministic keyword routing; the optional LLM pass
// only adds sub-queries and must-find terms on top.
type Planner struct {
	rules     []IntentRule
	generator ports.Generator
	logger    *slog.Logger
}

func NewPlanner(rules []IntentRule, generator ports.Generator, logger *slog.Logger) *Planner {
	if len(rules) == 0 {
		rules = DefaultIntentRules()
	}
	return &Planner{rules: rules, generator: generator, logger: logger}
}

// Plan classifies the question and returns its retrieval tuple. The last
// matching rule wins; no match falls through to smalltalk.
func (p *Planner) Plan(question string) domain.QueryPlan {
	tokens := tokenizeLower(question)
	joined := strings.Join(tokens, " ")

	plan := domain.QueryPlan{
		Intent:            domain.IntentSmalltalk,
		RequiredEvidence:  domain.EvidenceOptional,
		AdminLawBudget:    smalltalkAdminLawBudget,
		CustomerDocBudget: 0,
		ChatMemoryBudget:  defaultChatMemoryBudget,
		TotalContextLimit: defaultTotalContextLimit,
		Temperature:       defaultTemperature,
	}

	for _, rule := range p.rules {
		kw, ok := matchKeywords(rule.Keywords, tokens, joined)
		if !ok {
			continue
		}
		plan.Intent = rule.Intent
		plan.RequiredEvidence = rule.RequiredEvidence
		plan.AdminLawBudget = rule.AdminLawBudget
		plan.CustomerDocBudget = rule.CustomerDocBudget
		plan.GoverningStandards = append([]string(nil), rule.GoverningStandards...)
		if extra, ok := rule.CycleStandards[kw]; ok {
			plan.GoverningStandards = appendUnique(plan.GoverningStandards, extra...)
		}
	}

	plan.ExactPatterns = extractExactPatterns(question)
	plan.MustFind = appendUnique(plan.MustFind, plan.ExactPatterns...)
	return plan
}

// Decompose asks the model to split the question into retrieval
// sub-queries and must-find terms. Any failure is returned to the caller,
// which degrades to single-query retrieval.
func (p *Planner) Decompose(ctx context.Context, question string, plan domain.QueryPlan) (subQueries, mustFind []string, err error) {
	if p.generator == nil {
		return nil, nil, domain.WrapError(domain.ErrPlanningDegraded, "planner.decompose", fmt.Errorf("no generator configured"))
	}

	prompt := decompositionPrompt(question, plan)
	raw, err := p.generator.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrPlanningDegraded, "planner.decompose", err)
	}

	var parsed struct {
		SubQueries []string `json:"sub_queries"`
		MustFind   []string `json:"must_find"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, nil, domain.WrapError(domain.ErrPlanningDegraded, "planner.decompose", err)
	}

	subQueries = trimNonEmpty(parsed.SubQueries, maxSubQueries)
	mustFind = trimNonEmpty(parsed.MustFind, maxMustFind)
	if len(subQueries) == 0 {
		return nil, nil, domain.WrapError(domain.ErrPlanningDegraded, "planner.decompose", fmt.Errorf("empty decomposition"))
	}
	return subQueries, mustFind, nil
}

func decompositionPrompt(question string, plan domain.QueryPlan) string {
	var b strings.Builder
	b.WriteString("Decompose the audit question below into retrieval sub-queries.\n")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"sub_queries": ["..."], "must_find": ["..."]}` + "\n")
	b.WriteString("Rules: 2 to 6 sub_queries, each a standalone search query; ")
	b.WriteString("must_find lists exact terms, identifiers, or amounts the evidence must contain.\n")
	fmt.Fprintf(&b, "Detected intent: %s\n", plan.Intent)
	if len(plan.GoverningStandards) > 0 {
		fmt.Fprintf(&b, "Governing standards: %s\n", strings.Join(plan.GoverningStandards, ", "))
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// extractExactPatterns pulls dates, standard references, and currency
// amounts out of the question text, verbatim and deduplicated.
func extractExactPatterns(question string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{datePattern, standardPattern, currencyPattern} {
		out = appendUnique(out, re.FindAllString(question, -1)...)
	}
	return out
}

// matchKeywords reports the first keyword of the rule found in the
// question. Single-word keywords match whole tokens, with a prefix match
// for stems of six or more runes; multi-word keywords match the
// normalized question as a substring.
func matchKeywords(keywords, tokens []string, joined string) (string, bool) {
	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(joined, kw) {
				return kw, true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw {
				return kw, true
			}
			if utf8.RuneCountInString(kw) >= 6 && strings.HasPrefix(tok, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

func tokenizeLower(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, existing := range dst {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}

func trimNonEmpty(values []string, limit int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// extractJSONObject tolerates models that wrap JSON in prose or fences.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
