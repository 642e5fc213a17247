package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const (
	maxQuestionChars    = 4000
	defaultFinalK       = 8
	generationMaxTokens = 1024

	// Three-layer memory: a rolling summary once the transcript outgrows
	// summaryTriggerTurns, the last raw turns verbatim, and semantic hits
	// from prior conversations.
	lastTurnsKept       = 4
	summaryTriggerTurns = 8
	summaryMaxTokens    = 256
	memorySummaryChars  = 1200

	modeAgentic = "agentic"
)

const apologyAnswer = "I was unable to generate an answer for this question right now. The evidence retrieved for it is attached below; please retry shortly."

const noEvidenceAnswer = "I could not find evidence in the available documents to answer this question. Please refine the question or upload the relevant documents."

// QueryService is the pipeline orchestrator: policy gate, routing,
// retrieval, rerank, evidence building, generation, grounding. Every
// stage after the gate degrades instead of failing the query.
type QueryService struct {
	gate      *PolicyGate
	planner   *Planner
	retriever *Retriever
	reranker  *Reranker
	builder   *EvidenceBuilder
	assembler *PromptAssembler
	generator ports.Generator
	grounding *GroundingChecker
	embedder  ports.Embedder
	memory    ports.MemoryVectorStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewQueryService(
	gate *PolicyGate,
	planner *Planner,
	retriever *Retriever,
	reranker *Reranker,
	builder *EvidenceBuilder,
	assembler *PromptAssembler,
	generator ports.Generator,
	grounding *GroundingChecker,
	embedder ports.Embedder,
	memory ports.MemoryVectorStore,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		gate:      gate,
		planner:   planner,
		retriever: retriever,
		reranker:  reranker,
		builder:   builder,
		assembler: assembler,
		generator: generator,
		grounding: grounding,
		embedder:  embedder,
		memory:    memory,
		logger:    logger,
		now:       time.Now,
	}
}

var _ ports.AuditQueryService = (*QueryService)(nil)

func (s *QueryService) Query(ctx context.Context, req ports.QueryRequest) (*domain.QueryResult, error) {
	prepared, err := s.prepare(ctx, req, "rag.query")
	if err != nil {
		return nil, err
	}

	evidence, retrieval := prepared.evidence, prepared.retrieval
	plan := prepared.plan

	if len(evidence) == 0 && plan.RequiredEvidence == domain.EvidenceMustCite {
		s.logger.Info("no evidence for must-cite intent, refusing to generate",
			slog.String("intent", string(plan.Intent)))
		return &domain.QueryResult{
			Answer:         noEvidenceAnswer,
			Evidence:       []domain.EvidenceItem{},
			SourcesUsed:    []string{},
			GraphHints:     retrieval.GraphHints,
			GroundingScore: 0,
			Metadata:       s.metadata(plan, prepared, false),
		}, nil
	}

	memory := s.conversationState(ctx, req, retrieval.MemoryHits)

	prompt := s.assembler.Assemble(ctx, req, plan, evidence, retrieval.GraphHints, memory)

	answer, genErr := s.generator.GenerateText(ctx, prompt.User, prompt.System, plan.Temperature, generationMaxTokens)
	if genErr != nil || strings.TrimSpace(answer) == "" {
		if genErr == nil {
			genErr = fmt.Errorf("empty completion")
		}
		s.logger.Error("generation failed",
			slog.String("intent", string(plan.Intent)), slog.String("error", genErr.Error()))
		prepared.degraded = append(prepared.degraded, "generation")
		return &domain.QueryResult{
			Answer:         apologyAnswer,
			Evidence:       evidence,
			SourcesUsed:    sourcesUsed(evidence),
			GraphHints:     retrieval.GraphHints,
			GroundingScore: 0,
			Metadata:       s.metadata(plan, prepared, true),
		}, nil
	}

	verdict := s.grounding.Check(ctx, req.Question, answer, evidence)
	if verdict.Degraded {
		prepared.degraded = append(prepared.degraded, "grounding")
	}
	if !verdict.Grounded {
		answer = answer + "\n\nNote: some statements above could not be verified against the cited evidence."
	}

	s.indexConversationMemory(ctx, req, answer)

	return &domain.QueryResult{
		Answer:         answer,
		Evidence:       evidence,
		SourcesUsed:    sourcesUsed(evidence),
		GraphHints:     retrieval.GraphHints,
		GroundingScore: verdict.Score,
		Metadata:       s.metadata(plan, prepared, false),
	}, nil
}

// EvidenceOnly runs the pipeline up to evidence building, skipping
// generation and grounding. Used for traceability and debugging.
func (s *QueryService) EvidenceOnly(ctx context.Context, req ports.QueryRequest) (*ports.EvidenceResult, error) {
	prepared, err := s.prepare(ctx, req, "rag.evidence")
	if err != nil {
		return nil, err
	}
	return &ports.EvidenceResult{
		Evidence:   prepared.evidence,
		GraphHints: prepared.retrieval.GraphHints,
		Plan:       prepared.plan,
	}, nil
}

type preparedQuery struct {
	plan      domain.QueryPlan
	decision  domain.PolicyDecision
	retrieval *RetrievalOutput
	evidence  []domain.EvidenceItem
	degraded  []string
}

// prepare runs the shared front half of the pipeline: validation, policy
// gate, planning, retrieval, rerank, evidence building.
func (s *QueryService) prepare(ctx context.Context, req ports.QueryRequest, action string) (*preparedQuery, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	decision, err := s.gate.Evaluate(ctx, req, action)
	if err != nil {
		return nil, err
	}

	prepared := &preparedQuery{decision: decision}

	plan := s.planner.Plan(req.Question)
	plan = clampPlan(plan, decision, req)

	if req.Mode == modeAgentic {
		subQueries, mustFind, decompErr := s.planner.Decompose(ctx, req.Question, plan)
		if decompErr != nil {
			s.logger.Warn("decomposition failed, using single-query retrieval",
				slog.String("error", decompErr.Error()))
			prepared.degraded = append(prepared.degraded, "planning")
		} else {
			plan.SubQueries = subQueries
			plan.MustFind = appendUnique(plan.MustFind, mustFind...)
		}
	}
	prepared.plan = plan

	retrieval, err := s.retriever.Retrieve(ctx, RetrievalInput{Plan: plan, Decision: decision, Request: req})
	if err != nil {
		s.logger.Error("retrieval unavailable", slog.String("error", err.Error()))
		retrieval = &RetrievalOutput{Degraded: []string{"retrieval"}}
	}
	prepared.retrieval = retrieval
	prepared.degraded = append(prepared.degraded, retrieval.Degraded...)

	finalK := req.TopK
	if finalK <= 0 {
		finalK = defaultFinalK
	}
	if finalK > decision.MaxCandidates {
		finalK = decision.MaxCandidates
	}

	ranked, rerankDegraded := s.reranker.Rerank(ctx, req.Question, plan.MustFind, retrieval.Candidates, finalK)
	if rerankDegraded {
		prepared.degraded = append(prepared.degraded, "rerank")
	}

	evidence, buildDegraded := s.builder.Build(ctx, ranked, decision, plan)
	prepared.evidence = evidence
	prepared.degraded = append(prepared.degraded, buildDegraded...)
	return prepared, nil
}

func (s *QueryService) metadata(plan domain.QueryPlan, prepared *preparedQuery, generationFailed bool) domain.QueryMetadata {
	return domain.QueryMetadata{
		Intent:           string(plan.Intent),
		EvidenceCount:    len(prepared.evidence),
		SubQueries:       len(plan.EffectiveSubQueries("")),
		DegradedStages:   dedupeStrings(prepared.degraded),
		GenerationFailed: generationFailed,
	}
}

func validateRequest(req ports.QueryRequest) error {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.WrapError(domain.ErrMalformedQuery, "query.validate", fmt.Errorf("empty question"))
	}
	if len(req.Question) > maxQuestionChars {
		return domain.WrapError(domain.ErrMalformedQuery, "query.validate",
			fmt.Errorf("question exceeds %d characters", maxQuestionChars))
	}
	if req.Mode != "" && req.Mode != "hybrid" && req.Mode != modeAgentic {
		return domain.WrapError(domain.ErrMalformedQuery, "query.validate",
			fmt.Errorf("unknown mode %q", req.Mode))
	}
	if req.TopK < 0 || req.Temperature < 0 || req.Temperature > 2 {
		return domain.WrapError(domain.ErrMalformedQuery, "query.validate", fmt.Errorf("parameter out of range"))
	}
	return nil
}

// clampPlan reconciles the routed plan with the policy decision and the
// caller's overrides. A scope the gate did not grant gets a zero budget;
// the context limit never exceeds the role ceiling.
func clampPlan(plan domain.QueryPlan, decision domain.PolicyDecision, req ports.QueryRequest) domain.QueryPlan {
	if !decision.ScopeAllowed(domain.ScopeAdminLaw) {
		plan.AdminLawBudget = 0
	}
	if !decision.ScopeAllowed(domain.ScopeCustomerDoc) {
		plan.CustomerDocBudget = 0
	}
	if plan.AdminLawBudget > decision.MaxCandidates {
		plan.AdminLawBudget = decision.MaxCandidates
	}
	if plan.CustomerDocBudget > decision.MaxCandidates {
		plan.CustomerDocBudget = decision.MaxCandidates
	}
	if plan.TotalContextLimit > decision.MaxContextChars {
		plan.TotalContextLimit = decision.MaxContextChars
	}
	if req.Temperature > 0 {
		plan.Temperature = req.Temperature
	}
	if req.ConversationID == "" {
		plan.ChatMemoryBudget = 0
	}
	return plan
}

// conversationState builds the three-layer memory for prompt assembly.
// Long transcripts get their older turns compressed into a rolling
// summary so context stays bounded without dropping history outright.
func (s *QueryService) conversationState(ctx context.Context, req ports.QueryRequest, hits []domain.MemoryHit) domain.ConversationState {
	state := domain.ConversationState{
		ConversationID: req.ConversationID,
		LastTurns:      lastTurns(req.Conversation, lastTurnsKept),
		MemoryHits:     hits,
	}
	if len(req.Conversation) > summaryTriggerTurns {
		state.RollingSummary = s.summarizeTranscript(ctx, req.Conversation[:len(req.Conversation)-lastTurnsKept])
	}
	return state
}

// summarizeTranscript condenses older turns. Best-effort: a failed
// summary leaves the rolling layer empty and the query proceeds on the
// raw recent turns.
func (s *QueryService) summarizeTranscript(ctx context.Context, turns []domain.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Summarize the following audit conversation in at most five sentences. Keep customer names, figures, standards, and open questions.\n\n")
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}

	summary, err := s.generator.GenerateText(ctx, b.String(), "", 0.1, summaryMaxTokens)
	if err != nil {
		s.logger.Warn("transcript summarization failed", slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(summary)
}

// indexConversationMemory persists a compact summary of the exchange to
// the memory collection so later conversations can retrieve it
// semantically. Best-effort: failures are logged, never surfaced.
func (s *QueryService) indexConversationMemory(ctx context.Context, req ports.QueryRequest, answer string) {
	if s.memory == nil || s.embedder == nil || req.ConversationID == "" {
		return
	}

	summary := fmt.Sprintf("Q: %s\nA: %s", req.Question, truncateRunes(answer, memorySummaryChars))
	vector, err := s.embedder.EmbedQuery(ctx, summary)
	if err != nil {
		s.logger.Warn("memory embedding failed",
			slog.String("conversation_id", req.ConversationID), slog.String("error", err.Error()))
		return
	}

	record := domain.MemorySummary{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		CustomerID:     req.CustomerID,
		ConversationID: req.ConversationID,
		Summary:        summary,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.memory.IndexSummary(ctx, record, vector); err != nil {
		s.logger.Warn("memory indexing failed",
			slog.String("conversation_id", req.ConversationID), slog.String("error", err.Error()))
	}
}

func lastTurns(turns []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func truncateRunes(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func sourcesUsed(evidence []domain.EvidenceItem) []string {
	var sources []string
	for _, item := range evidence {
		name := item.Filename
		if name == "" {
			name = item.DocumentID
		}
		sources = appendUnique(sources, name)
	}
	if sources == nil {
		sources = []string{}
	}
	return sources
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return appendUnique(nil, values...)
}
