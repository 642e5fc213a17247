package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const (
	evidenceItemMaxChars = 1800
	truncationMarker     = "...[truncated]"

	systemPromptCategory = "rag_system"
)

const defaultSystemPrompt = `You are an audit assistant answering questions for auditors. Answer strictly from the evidence blocks provided. Every factual claim must carry a citation in the exact form it appears in the evidence header, for example: [scope=ADMIN_LAW source=isa_530.pdf chunk=12]. Do not invent sources. If the evidence does not support an answer, say so explicitly.`

// AssembledPrompt is the final generation input.
type AssembledPrompt struct {
	System string
	User   string
}

// PromptAssembler builds the generation prompt in a fixed section order:
// graph hints, conversation context, admin-law evidence, customer
// evidence, question. Overlong evidence is truncated with an explicit
// marker so the model never sees a silently clipped sentence.
type PromptAssembler struct {
	prompts ports.PromptProvider
}

func NewPromptAssembler(prompts ports.PromptProvider) *PromptAssembler {
	return &PromptAssembler{prompts: prompts}
}

func (a *PromptAssembler) Assemble(
	ctx context.Context,
	req ports.QueryRequest,
	plan domain.QueryPlan,
	evidence []domain.EvidenceItem,
	hints []domain.GraphHints,
	memory domain.ConversationState,
) AssembledPrompt {
	return AssembledPrompt{
		System: a.systemInstruction(ctx, plan),
		User:   a.userPrompt(req, plan, evidence, hints, memory),
	}
}

func (a *PromptAssembler) systemInstruction(ctx context.Context, plan domain.QueryPlan) string {
	system := defaultSystemPrompt
	if a.prompts != nil {
		if custom := a.prompts.ActivePrompt(ctx, systemPromptCategory); custom != "" {
			system = custom
		}
	}

	var b strings.Builder
	b.WriteString(system)
	switch plan.RequiredEvidence {
	case domain.EvidenceMustCite:
		b.WriteString("\nCitations are mandatory: a statement without a citation must be removed or rephrased as explicitly unsupported.")
	case domain.EvidenceHelpful:
		b.WriteString("\nCite evidence where available; general professional guidance may be given without citations.")
	}
	if len(plan.GoverningStandards) > 0 {
		fmt.Fprintf(&b, "\nGoverning standards for this question: %s.", strings.Join(plan.GoverningStandards, ", "))
	}
	if len(plan.MustFind) > 0 {
		fmt.Fprintf(&b, "\nThe answer must address these exact terms verbatim: %s.", strings.Join(plan.MustFind, "; "))
	}
	return b.String()
}

func (a *PromptAssembler) userPrompt(
	req ports.QueryRequest,
	plan domain.QueryPlan,
	evidence []domain.EvidenceItem,
	hints []domain.GraphHints,
	memory domain.ConversationState,
) string {
	var b strings.Builder

	if len(hints) > 0 {
		b.WriteString("## Knowledge graph hints (background only, never cite)\n")
		for _, h := range hints {
			writeGraphHints(&b, h)
		}
		b.WriteString("\n")
	}

	if memory.RollingSummary != "" || len(memory.MemoryHits) > 0 || len(memory.LastTurns) > 0 {
		b.WriteString("## Prior conversation context\n")
		if memory.RollingSummary != "" {
			fmt.Fprintf(&b, "Summary so far: %s\n", memory.RollingSummary)
		}
		for _, hit := range memory.MemoryHits {
			fmt.Fprintf(&b, "Related earlier discussion: %s\n", hit.Summary.Summary)
		}
		for _, turn := range memory.LastTurns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	writeEvidenceSection(&b, "## Evidence: regulatory framework (ADMIN_LAW)\n", evidence, domain.ScopeAdminLaw)
	writeEvidenceSection(&b, "## Evidence: client documents (CUSTOMER_DOC)\n", evidence, domain.ScopeCustomerDoc)

	if len(evidence) == 0 && plan.RequiredEvidence == domain.EvidenceMustCite {
		b.WriteString("## Evidence\nNo evidence was retrieved for this question.\n\n")
	}

	b.WriteString("## Question\n")
	b.WriteString(req.Question)
	b.WriteString("\n")
	return b.String()
}

func writeEvidenceSection(b *strings.Builder, header string, evidence []domain.EvidenceItem, scope domain.Scope) {
	wrote := false
	for _, item := range evidence {
		if item.Scope != scope {
			continue
		}
		if !wrote {
			b.WriteString(header)
			wrote = true
		}
		fmt.Fprintf(b, "[%s]\n%s\n\n", item.Citation, truncateEvidence(item.Text))
	}
	if wrote {
		b.WriteString("\n")
	}
}

func writeGraphHints(b *strings.Builder, h domain.GraphHints) {
	if len(h.Keywords) > 0 {
		fmt.Fprintf(b, "Related concepts: %s\n", strings.Join(h.Keywords, ", "))
	}
	for _, e := range h.Entities {
		if e.Description != "" {
			fmt.Fprintf(b, "Entity %s (%s): %s\n", e.Name, e.Type, e.Description)
		} else {
			fmt.Fprintf(b, "Entity %s (%s)\n", e.Name, e.Type)
		}
	}
	for _, r := range h.Relationships {
		fmt.Fprintf(b, "Relation: %s -> %s: %s\n", r.Source, r.Target, r.Description)
	}
}

func truncateEvidence(text string) string {
	if len(text) <= evidenceItemMaxChars {
		return text
	}
	cut := text[:evidenceItemMaxChars]
	// Back up to a rune boundary so truncation never splits a multibyte
	// character.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n" + truncationMarker
}
