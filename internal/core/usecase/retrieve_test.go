package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

func retrievalInput() RetrievalInput {
	return RetrievalInput{
		Plan: domain.QueryPlan{
			Intent:            domain.IntentCycleDeepDive,
			AdminLawBudget:    4,
			CustomerDocBudget: 4,
		},
		Decision: domain.PolicyDecision{
			Allowed:            true,
			AllowedScopes:      []domain.Scope{domain.ScopeAdminLaw, domain.ScopeCustomerDoc},
			AllowedCustomerIDs: []string{"cust-1"},
			MaxCandidates:      10,
		},
		Request: ports.QueryRequest{
			Question:   "revenue recognition for long-term contracts",
			ActorID:    "actor-1",
			TenantID:   "tenant-1",
			CustomerID: "cust-1",
		},
	}
}

func candidate(doc string, index int, scope domain.Scope, customer string, score float64) domain.EvidenceCandidate {
	return domain.EvidenceCandidate{
		DocumentID: doc,
		ChunkIndex: index,
		Scope:      scope,
		CustomerID: customer,
		Score:      score,
	}
}

func TestRetrieveMergesBothScopes(t *testing.T) {
	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw:    {candidate("d1", 0, domain.ScopeAdminLaw, "", 0.9)},
		domain.ScopeCustomerDoc: {candidate("d2", 0, domain.ScopeCustomerDoc, "cust-1", 0.8)},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	out, err := r.Retrieve(context.Background(), retrievalInput())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(out.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(out.Candidates))
	}
	if len(out.Degraded) != 0 {
		t.Errorf("degraded = %v, want none", out.Degraded)
	}
}

func TestRetrieveDropsForeignCustomerCandidates(t *testing.T) {
	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeCustomerDoc: {
			candidate("d1", 0, domain.ScopeCustomerDoc, "cust-1", 0.9),
			candidate("d2", 0, domain.ScopeCustomerDoc, "cust-other", 0.95),
		},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	out, err := r.Retrieve(context.Background(), retrievalInput())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range out.Candidates {
		if c.CustomerID == "cust-other" {
			t.Fatalf("candidate from ungranted customer survived containment: %+v", c)
		}
	}
}

func TestRetrieveSkipsDisallowedScope(t *testing.T) {
	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw:    {candidate("d1", 0, domain.ScopeAdminLaw, "", 0.9)},
		domain.ScopeCustomerDoc: {candidate("d2", 0, domain.ScopeCustomerDoc, "cust-1", 0.8)},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	in := retrievalInput()
	in.Decision.AllowedScopes = []domain.Scope{domain.ScopeAdminLaw}

	out, err := r.Retrieve(context.Background(), in)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range out.Candidates {
		if c.Scope != domain.ScopeAdminLaw {
			t.Fatalf("candidate outside the granted scope: %+v", c)
		}
	}
}

func TestRetrieveCapsAtPolicyCeiling(t *testing.T) {
	var many []domain.EvidenceCandidate
	for i := 0; i < 8; i++ {
		many = append(many, candidate(
			"d-"+string(rune('a'+i)), i,
			domain.ScopeAdminLaw, "", float64(8-i)))
	}
	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{domain.ScopeAdminLaw: many}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.AdminLawBudget = 8
	in.Plan.CustomerDocBudget = 0
	in.Decision.MaxCandidates = 3

	out, err := r.Retrieve(context.Background(), in)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(out.Candidates) > 3 {
		t.Fatalf("candidates = %d, exceeds policy ceiling 3", len(out.Candidates))
	}
}

func TestRetrieveSparseQueriesIncludeExactPatterns(t *testing.T) {
	sparse := &fakeSparse{}
	r := NewRetriever(&fakeEmbedder{}, &fakeVectorStore{}, sparse, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.CustomerDocBudget = 0
	in.Plan.ExactPatterns = []string{"31.12.2024"}

	if _, err := r.Retrieve(context.Background(), in); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	found := false
	for _, q := range sparse.queries {
		if q == "31.12.2024" {
			found = true
		}
	}
	if !found {
		t.Fatalf("exact pattern never reached the keyword channel: %v", sparse.queries)
	}
}

func TestRetrieveDegradesWhenDenseChannelFails(t *testing.T) {
	vector := &fakeVectorStore{searchErr: errors.New("qdrant down")}
	sparse := &fakeSparse{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw: {candidate("d1", 0, domain.ScopeAdminLaw, "", 0.5)},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, sparse, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.CustomerDocBudget = 0

	out, err := r.Retrieve(context.Background(), in)
	if err != nil {
		t.Fatalf("sparse survivors should keep the query alive: %v", err)
	}
	if len(out.Candidates) == 0 {
		t.Fatalf("expected sparse candidates")
	}
	foundStage := false
	for _, d := range out.Degraded {
		if d == "dense_retrieval:ADMIN_LAW" {
			foundStage = true
		}
	}
	if !foundStage {
		t.Errorf("degraded = %v, want dense_retrieval:ADMIN_LAW", out.Degraded)
	}
}

func TestRetrieveFailsWhenNothingRetrievable(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: errors.New("embedder down")}, &fakeVectorStore{}, nil, nil, nil, testLogger())

	_, err := r.Retrieve(context.Background(), retrievalInput())
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("err = %v, want retrieval unavailable", err)
	}
}

func TestRetrieveGraphFailureIsNonFatal(t *testing.T) {
	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw: {candidate("d1", 0, domain.ScopeAdminLaw, "", 0.9)},
	}}
	graph := &fakeGraph{queryErr: errors.New("neo4j down")}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, graph, nil, testLogger())

	out, err := r.Retrieve(context.Background(), retrievalInput())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	found := false
	for _, d := range out.Degraded {
		if d == "graph_hints" {
			found = true
		}
	}
	if !found {
		t.Errorf("degraded = %v, want graph_hints", out.Degraded)
	}
}

func TestRetrieveSplitsBudgetAcrossCustomers(t *testing.T) {
	vector := &fakeVectorStore{byCustomer: map[string][]domain.EvidenceCandidate{
		"cust-1": {candidate("d1", 0, domain.ScopeCustomerDoc, "cust-1", 0.9)},
		"cust-2": {candidate("d2", 0, domain.ScopeCustomerDoc, "cust-2", 0.8)},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.AdminLawBudget = 0
	in.Plan.CustomerDocBudget = 4
	in.Decision.AllowedCustomerIDs = []string{"cust-1", "cust-2"}
	in.Request.CustomerID = ""

	out, err := r.Retrieve(context.Background(), in)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	searched := map[string]int{}
	for i, f := range vector.filters {
		if f.Scope == domain.ScopeCustomerDoc {
			searched[f.CustomerID] = vector.limits[i]
		}
	}
	if searched["cust-1"] != 2 || searched["cust-2"] != 2 {
		t.Fatalf("per-customer searches = %v, want budget 4 split as 2 each", searched)
	}
	got := map[string]bool{}
	for _, c := range out.Candidates {
		got[c.CustomerID] = true
	}
	if !got["cust-1"] || !got["cust-2"] {
		t.Fatalf("candidates = %+v, want evidence from both customers", out.Candidates)
	}
}

func TestRetrievePerCustomerBudgetFloorIsOne(t *testing.T) {
	vector := &fakeVectorStore{}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.AdminLawBudget = 0
	in.Plan.CustomerDocBudget = 2
	in.Decision.AllowedCustomerIDs = []string{"cust-1", "cust-2", "cust-3"}
	in.Request.CustomerID = ""

	if _, err := r.Retrieve(context.Background(), in); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i, f := range vector.filters {
		if f.Scope == domain.ScopeCustomerDoc && vector.limits[i] < 1 {
			t.Fatalf("customer %q searched with limit %d", f.CustomerID, vector.limits[i])
		}
	}
}

func TestRetrieveDropsCrossTenantCandidates(t *testing.T) {
	foreign := candidate("d2", 0, domain.ScopeAdminLaw, "", 0.95)
	foreign.TenantID = "tenant-other"
	own := candidate("d1", 0, domain.ScopeAdminLaw, "", 0.9)
	own.TenantID = "tenant-1"

	vector := &fakeVectorStore{hits: map[domain.Scope][]domain.EvidenceCandidate{
		domain.ScopeAdminLaw: {foreign, own},
	}}
	r := NewRetriever(&fakeEmbedder{}, vector, nil, nil, nil, testLogger())

	in := retrievalInput()
	in.Plan.CustomerDocBudget = 0

	out, err := r.Retrieve(context.Background(), in)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range out.Candidates {
		if c.TenantID == "tenant-other" {
			t.Fatalf("cross-tenant candidate survived containment: %+v", c)
		}
	}
	if len(out.Candidates) != 1 {
		t.Fatalf("candidates = %d, want the caller's own document only", len(out.Candidates))
	}
	for _, f := range vector.filters {
		if f.TenantID != "tenant-1" {
			t.Fatalf("search filter missing tenant predicate: %+v", f)
		}
	}
}

func TestGraphWorkspaceNaming(t *testing.T) {
	if got := GraphWorkspace(domain.ScopeCustomerDoc, "t1", "c1"); got != "t1_customer_c1" {
		t.Errorf("customer workspace = %q", got)
	}
	if got := GraphWorkspace(domain.ScopeAdminLaw, "t1", "c1"); got != "t1_admin_law" {
		t.Errorf("admin law workspace = %q", got)
	}
	if got := GraphWorkspace(domain.ScopeCustomerDoc, "t1", ""); got != "t1_admin_law" {
		t.Errorf("customer scope without customer id = %q", got)
	}
}
