package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

type queryFixture struct {
	service *QueryService
	gen     *fakeGenerator
	audit   *fakeAudit
	vector  *fakeVectorStore
	memory  *fakeMemory
}

func newQueryFixture(gen *fakeGenerator) *queryFixture {
	identity := &fakeIdentity{
		roles: map[string]domain.Role{
			"e1": domain.RoleEmployee,
			"c1": domain.RoleCustomer,
			"g1": domain.RoleGuest,
		},
		assignments: map[string][]string{"e1": {"cust-1"}, "c1": {"cust-1"}},
	}
	audit := &fakeAudit{}
	gate := NewPolicyGate(identity, audit, testLogger())

	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw: {{
			Scope: domain.ScopeAdminLaw, DocumentID: "law1", ChunkIndex: 1,
			Score: 0.9, Text: "Sample sizes shall reflect the assessed risk.",
		}},
		domain.ScopeCustomerDoc: {{
			Scope: domain.ScopeCustomerDoc, DocumentID: "doc1", ChunkIndex: 4,
			Score: 0.8, Text: "The population contains 1200 invoices.", CustomerID: "cust-1",
		}},
	}}

	chunks := &fakeChunkStore{
		chunks: map[string][]domain.Chunk{
			"law1": {
				{DocumentID: "law1", Offset: 0, Text: "Introduction."},
				{DocumentID: "law1", Offset: 1, Text: "Sample sizes shall reflect the assessed risk."},
				{DocumentID: "law1", Offset: 2, Text: "Further guidance."},
			},
			"doc1": {
				{DocumentID: "doc1", Offset: 3, Text: "Ledger extract."},
				{DocumentID: "doc1", Offset: 4, Text: "The population contains 1200 invoices."},
				{DocumentID: "doc1", Offset: 5, Text: "Detail listing."},
			},
		},
		meta: map[string]*domain.DocumentMeta{
			"law1": {DocumentID: "law1", Filename: "isa_530.pdf", Scope: domain.ScopeAdminLaw},
			"doc1": {DocumentID: "doc1", Filename: "ledger.xlsx", Scope: domain.ScopeCustomerDoc, CustomerID: "cust-1"},
		},
	}

	planner := NewPlanner(nil, gen, testLogger())
	retriever := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())
	reranker := NewReranker(gen, testLogger())
	builder := NewEvidenceBuilder(chunks, vector, testLogger())
	assembler := NewPromptAssembler(&fakePrompts{})
	grounding := NewGroundingChecker(gen, testLogger())

	memory := &fakeMemory{}
	service := NewQueryService(gate, planner, retriever, reranker, builder, assembler, gen, grounding, &fakeEmbedder{}, memory, testLogger())
	return &queryFixture{service: service, gen: gen, audit: audit, vector: vector, memory: memory}
}

func employeeRequest(question string) ports.QueryRequest {
	return ports.QueryRequest{
		Question:            question,
		ActorID:             "e1",
		TenantID:            "t1",
		CustomerID:          "cust-1",
		IncludeAdminLaws:    true,
		IncludeCustomerDocs: true,
	}
}

func TestQueryHappyPath(t *testing.T) {
	gen := &fakeGenerator{
		textResponse: "Sample sizes follow assessed risk [scope=ADMIN_LAW source=isa_530.pdf chunks=0-2].",
		jsonResponse: `{"grounded": true, "score": 0.9}`,
	}
	f := newQueryFixture(gen)

	result, err := f.service.Query(context.Background(), employeeRequest("What sampling approach should we take?"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Metadata.Intent != string(domain.IntentSampling) {
		t.Errorf("intent = %s, want sampling", result.Metadata.Intent)
	}
	if len(result.Evidence) == 0 {
		t.Fatal("expected evidence items")
	}
	if result.GroundingScore != 0.9 {
		t.Errorf("grounding score = %v, want 0.9", result.GroundingScore)
	}
	if !containsString(result.SourcesUsed, "isa_530.pdf") {
		t.Errorf("sources = %v, want isa_530.pdf listed", result.SourcesUsed)
	}
	if len(f.audit.entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(f.audit.entries))
	}
}

func TestQueryGenerationFailureKeepsEvidence(t *testing.T) {
	gen := &fakeGenerator{textErr: errors.New("model down"), jsonResponse: `{"grounded": true, "score": 1}`}
	f := newQueryFixture(gen)

	result, err := f.service.Query(context.Background(), employeeRequest("Which sampling method applies here?"))
	if err != nil {
		t.Fatalf("generation failure must not fail the query: %v", err)
	}
	if result.Answer != apologyAnswer {
		t.Errorf("answer = %q, want the apology text", result.Answer)
	}
	if len(result.Evidence) == 0 {
		t.Fatal("evidence must survive a generation failure")
	}
	if !result.Metadata.GenerationFailed {
		t.Error("metadata must flag the failed generation")
	}
	if !containsString(result.Metadata.DegradedStages, "generation") {
		t.Errorf("degraded stages = %v", result.Metadata.DegradedStages)
	}
	if result.GroundingScore != 0 {
		t.Errorf("grounding score = %v, want 0 for an apology", result.GroundingScore)
	}
}

func TestQueryDeniedScopeProducesNoLawEvidence(t *testing.T) {
	gen := &fakeGenerator{
		textResponse: "The population detail is in the ledger [scope=CUSTOMER_DOC source=ledger.xlsx chunks=3-5].",
		jsonResponse: `{"grounded": true, "score": 1}`,
	}
	f := newQueryFixture(gen)

	// A customer account gets its own CUSTOMER_DOC only; the routed
	// admin-law budget must be clamped rather than leaking the law pool.
	req := ports.QueryRequest{
		Question:            "What sampling approach should we take?",
		ActorID:             "c1",
		TenantID:            "t1",
		CustomerID:          "cust-1",
		IncludeAdminLaws:    true,
		IncludeCustomerDocs: true,
	}
	result, err := f.service.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, item := range result.Evidence {
		if item.Scope == domain.ScopeAdminLaw {
			t.Fatalf("law-pool evidence leaked to a customer account: %+v", item)
		}
	}
	if len(result.Evidence) == 0 {
		t.Fatal("the customer's own evidence should still be returned")
	}
}

func TestQueryEmptyQuestionRejected(t *testing.T) {
	f := newQueryFixture(&fakeGenerator{})

	_, err := f.service.Query(context.Background(), ports.QueryRequest{Question: "   ", ActorID: "e1"})
	if !domain.IsKind(err, domain.ErrMalformedQuery) {
		t.Fatalf("error = %v, want malformed query", err)
	}
}

func TestQueryAccessDeniedPropagates(t *testing.T) {
	f := newQueryFixture(&fakeGenerator{})

	req := ports.QueryRequest{Question: "show me everything", ActorID: "g1", IncludeCustomerDocs: true}
	_, err := f.service.Query(context.Background(), req)
	if !domain.IsKind(err, domain.ErrAccessDenied) {
		t.Fatalf("error = %v, want access denied", err)
	}
}

func TestQueryNoEvidenceMustCiteRefusesWithoutGeneration(t *testing.T) {
	gen := &fakeGenerator{textResponse: "should not be used"}
	f := newQueryFixture(gen)
	f.vector.hits = map[domain.Scope][]domain.EvidenceCandidate{}

	result, err := f.service.Query(context.Background(), employeeRequest("Which sampling method applies?"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Answer != noEvidenceAnswer {
		t.Errorf("answer = %q, want the no-evidence text", result.Answer)
	}
	if gen.textCalls != 0 {
		t.Errorf("generation called %d times with no evidence for a must-cite intent", gen.textCalls)
	}
}

func TestEvidenceOnlySkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{}
	f := newQueryFixture(gen)

	result, err := f.service.EvidenceOnly(context.Background(), employeeRequest("Which sampling method applies?"))
	if err != nil {
		t.Fatalf("EvidenceOnly: %v", err)
	}
	if len(result.Evidence) == 0 {
		t.Fatal("expected evidence items")
	}
	if result.Plan.Intent != domain.IntentSampling {
		t.Errorf("plan intent = %s", result.Plan.Intent)
	}
	if gen.textCalls != 0 {
		t.Errorf("generation called %d times", gen.textCalls)
	}
}

func TestQueryIndexesConversationMemory(t *testing.T) {
	gen := &fakeGenerator{
		textResponse: "Sampling follows risk [scope=ADMIN_LAW source=isa_530.pdf chunks=0-2].",
		jsonResponse: `{"grounded": true, "score": 1}`,
	}
	f := newQueryFixture(gen)

	req := employeeRequest("Which sampling method applies?")
	req.ConversationID = "conv-42"
	if _, err := f.service.Query(context.Background(), req); err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(f.memory.indexed) != 1 {
		t.Fatalf("indexed %d summaries, want 1", len(f.memory.indexed))
	}
	rec := f.memory.indexed[0]
	if rec.TenantID != "t1" || rec.CustomerID != "cust-1" || rec.ConversationID != "conv-42" {
		t.Fatalf("summary record = %+v", rec)
	}
	if !strings.Contains(rec.Summary, "Which sampling method applies?") {
		t.Errorf("summary %q should carry the question", rec.Summary)
	}
}

func TestQueryWithoutConversationSkipsMemoryIndexing(t *testing.T) {
	gen := &fakeGenerator{
		textResponse: "Sampling follows risk [scope=ADMIN_LAW source=isa_530.pdf chunks=0-2].",
		jsonResponse: `{"grounded": true, "score": 1}`,
	}
	f := newQueryFixture(gen)

	if _, err := f.service.Query(context.Background(), employeeRequest("Which sampling method applies?")); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(f.memory.indexed) != 0 {
		t.Fatalf("one-shot queries must not write memory, indexed %d", len(f.memory.indexed))
	}
}

func TestConversationStateSummarizesLongTranscripts(t *testing.T) {
	gen := &fakeGenerator{textResponse: "summary of the earlier discussion"}
	f := newQueryFixture(gen)

	turns := make([]domain.ConversationTurn, 10)
	for i := range turns {
		turns[i] = domain.ConversationTurn{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}
	req := ports.QueryRequest{ConversationID: "conv-1", Conversation: turns}

	state := f.service.conversationState(context.Background(), req, nil)
	if state.RollingSummary != "summary of the earlier discussion" {
		t.Fatalf("rolling summary = %q", state.RollingSummary)
	}
	if len(state.LastTurns) != lastTurnsKept {
		t.Fatalf("last turns = %d, want %d", len(state.LastTurns), lastTurnsKept)
	}

	req.Conversation = turns[:summaryTriggerTurns]
	state = f.service.conversationState(context.Background(), req, nil)
	if state.RollingSummary != "" {
		t.Fatalf("short transcript must not be summarized, got %q", state.RollingSummary)
	}
}

func TestQueryAgenticDecompositionFallsBack(t *testing.T) {
	gen := &fakeGenerator{
		jsonErr:      errors.New("model down"),
		textResponse: "answer",
	}
	f := newQueryFixture(gen)

	req := employeeRequest("Which sampling method applies?")
	req.Mode = modeAgentic
	result, err := f.service.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !containsString(result.Metadata.DegradedStages, "planning") {
		t.Errorf("degraded stages = %v, want planning recorded", result.Metadata.DegradedStages)
	}
	if result.Metadata.SubQueries != 1 {
		t.Errorf("sub-queries = %d, want single-query fallback", result.Metadata.SubQueries)
	}
}
