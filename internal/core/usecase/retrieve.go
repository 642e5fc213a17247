package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const graphHintTopK = 5

// RetrievalInput bundles everything the retriever needs: the routed plan,
// the policy ceiling, and the original request.
type RetrievalInput struct {
	Plan     domain.QueryPlan
	Decision domain.PolicyDecision
	Request  ports.QueryRequest
}

// RetrievalOutput is the fused candidate set plus the secondary signals.
type RetrievalOutput struct {
	Candidates []domain.EvidenceCandidate
	GraphHints []domain.GraphHints
	MemoryHits []domain.MemoryHit
	Degraded   []string
}

// Retriever runs the evidence channels for each allowed scope and fuses
// their results. Dense search is the primary channel; sparse keyword
// search and the knowledge graph are second signals. Channel failures
// degrade the output, they never fail the query.
type Retriever struct {
	embedder ports.Embedder
	vector   ports.VectorStore
	sparse   ports.SparseIndex
	graph    ports.GraphEnricher
	memory   ports.MemoryVectorStore
	logger   *slog.Logger
}

func NewRetriever(
	embedder ports.Embedder,
	vector ports.VectorStore,
	sparse ports.SparseIndex,
	graph ports.GraphEnricher,
	memory ports.MemoryVectorStore,
	logger *slog.Logger,
) *Retriever {
	return &Retriever{
		embedder: embedder,
		vector:   vector,
		sparse:   sparse,
		graph:    graph,
		memory:   memory,
		logger:   logger,
	}
}

// Retrieve fans out dense and sparse searches per allowed scope and
// sub-query, fuses per-scope results, and enforces the policy candidate
// ceiling on the combined list.
func (r *Retriever) Retrieve(ctx context.Context, in RetrievalInput) (*RetrievalOutput, error) {
	subQueries := in.Plan.EffectiveSubQueries(in.Request.Question)

	vectors, embedErr := r.embedder.Embed(ctx, subQueries)
	if embedErr != nil {
		r.logger.Warn("query embedding failed, dense channel disabled",
			slog.String("error", embedErr.Error()))
		vectors = nil
	}

	out := &RetrievalOutput{}
	if embedErr != nil {
		out.Degraded = append(out.Degraded, "dense_retrieval")
	}

	var perScope []([]domain.EvidenceCandidate)
	for _, scope := range []domain.Scope{domain.ScopeAdminLaw, domain.ScopeCustomerDoc} {
		budget := in.Plan.BudgetFor(scope)
		if budget <= 0 || !in.Decision.ScopeAllowed(scope) {
			continue
		}
		if budget > in.Decision.MaxCandidates {
			budget = in.Decision.MaxCandidates
		}

		fused, degraded := r.retrieveScope(ctx, scope, subQueries, vectors, in, budget)
		out.Degraded = append(out.Degraded, degraded...)
		perScope = append(perScope, fused)
	}

	candidates := mergeMaxScore(perScope...)
	candidates = r.enforceContainment(candidates, in.Decision, in.Request.TenantID)
	if in.Plan.Intent == domain.IntentContractSignatories {
		candidates = filterSignatoryNoise(candidates)
	}
	candidates = capPerDocument(candidates, in.Plan.Intent)
	if len(candidates) > in.Decision.MaxCandidates {
		candidates = candidates[:in.Decision.MaxCandidates]
	}
	out.Candidates = candidates

	out.GraphHints = r.collectGraphHints(ctx, in, out)
	out.MemoryHits = r.collectMemoryHits(ctx, in, vectors, out)

	if len(out.Candidates) == 0 && embedErr != nil && r.sparse == nil {
		return out, domain.WrapError(domain.ErrRetrievalUnavailable, "retriever.retrieve", embedErr)
	}
	return out, nil
}

// searchTarget is one filtered search: a payload filter plus the slice
// of the scope budget it may spend.
type searchTarget struct {
	filter ports.VectorFilter
	limit  int
}

// scopeTargets expands one scope into its filtered searches. The law
// pool and tenant-wide admin access are a single search; an explicit
// customer set divides the budget across customers, minimum 1 each, so
// one filtered search runs per granted customer and no budget is burned
// on hits containment would discard.
func scopeTargets(scope domain.Scope, in RetrievalInput, budget int) []searchTarget {
	base := ports.VectorFilter{Scope: scope, TenantID: in.Request.TenantID}
	if scope != domain.ScopeCustomerDoc {
		return []searchTarget{{filter: base, limit: budget}}
	}

	customers := in.Decision.AllowedCustomerIDs
	if in.Request.CustomerID != "" {
		customers = []string{in.Request.CustomerID}
	}
	if len(customers) == 0 {
		return []searchTarget{{filter: base, limit: budget}}
	}

	perCustomer := budget / len(customers)
	if perCustomer < 1 {
		perCustomer = 1
	}
	targets := make([]searchTarget, 0, len(customers))
	for _, id := range customers {
		filter := base
		filter.CustomerID = id
		targets = append(targets, searchTarget{filter: filter, limit: perCustomer})
	}
	return targets
}

// retrieveScope runs every sub-query through the dense and sparse
// channels for one scope and fuses the two rank lists.
func (r *Retriever) retrieveScope(
	ctx context.Context,
	scope domain.Scope,
	subQueries []string,
	vectors [][]float32,
	in RetrievalInput,
	budget int,
) (fused []domain.EvidenceCandidate, degraded []string) {
	targets := scopeTargets(scope, in, budget)

	var (
		mu          sync.Mutex
		denseLists  [][]domain.EvidenceCandidate
		sparseLists [][]domain.EvidenceCandidate
		denseFailed bool
		sparseFail  bool
	)

	g, gctx := errgroup.WithContext(ctx)

	for i := range subQueries {
		if vectors == nil || i >= len(vectors) {
			break
		}
		vec := vectors[i]
		for _, target := range targets {
			target := target
			g.Go(func() error {
				hits, err := r.vector.Search(gctx, vec, target.limit, target.filter)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					denseFailed = true
					r.logger.Warn("dense search failed",
						slog.String("scope", string(scope)), slog.String("error", err.Error()))
					return nil
				}
				denseLists = append(denseLists, tagCandidates(hits, domain.SourceDense, scope))
				return nil
			})
		}
	}

	if r.sparse != nil {
		// Exact patterns are queried verbatim alongside the sub-queries
		// so a date or standard reference in the question is guaranteed a
		// keyword lookup.
		sparseQueries := append(append([]string(nil), subQueries...), in.Plan.ExactPatterns...)
		for _, q := range sparseQueries {
			query := q
			for _, target := range targets {
				target := target
				g.Go(func() error {
					hits, err := r.sparse.SearchKeyword(gctx, query, target.filter, target.limit)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						sparseFail = true
						r.logger.Warn("sparse search failed",
							slog.String("scope", string(scope)), slog.String("error", err.Error()))
						return nil
					}
					sparseLists = append(sparseLists, tagCandidates(hits, domain.SourceSparse, scope))
					return nil
				})
			}
		}
	}

	_ = g.Wait()

	if denseFailed {
		degraded = append(degraded, fmt.Sprintf("dense_retrieval:%s", scope))
	}
	if sparseFail {
		degraded = append(degraded, fmt.Sprintf("sparse_retrieval:%s", scope))
	}

	dense := mergeMaxScore(denseLists...)
	sparse := mergeMaxScore(sparseLists...)

	switch {
	case len(sparse) == 0:
		fused = dense
	case len(dense) == 0:
		fused = sparse
	default:
		fused = fuseDenseSparse(dense, sparse)
	}
	if len(fused) > budget {
		fused = fused[:budget]
	}
	return fused, degraded
}

// enforceContainment drops candidates from other tenants and customer
// pool candidates outside the granted customer set. An empty customer
// set with the scope granted means tenant-wide access within the
// caller's own tenant.
func (r *Retriever) enforceContainment(candidates []domain.EvidenceCandidate, decision domain.PolicyDecision, tenantID string) []domain.EvidenceCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if !decision.ScopeAllowed(c.Scope) {
			continue
		}
		if tenantID != "" && c.TenantID != "" && c.TenantID != tenantID {
			continue
		}
		if c.Scope == domain.ScopeCustomerDoc &&
			len(decision.AllowedCustomerIDs) > 0 &&
			!decision.CustomerAllowed(c.CustomerID) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Retriever) collectGraphHints(ctx context.Context, in RetrievalInput, out *RetrievalOutput) []domain.GraphHints {
	if r.graph == nil {
		return nil
	}
	var hints []domain.GraphHints
	for _, scope := range in.Decision.AllowedScopes {
		if in.Plan.BudgetFor(scope) <= 0 {
			continue
		}
		workspace := GraphWorkspace(scope, in.Request.TenantID, in.Request.CustomerID)
		h, err := r.graph.QueryHints(ctx, workspace, in.Request.Question, graphHintTopK)
		if err != nil {
			r.logger.Warn("graph hints unavailable",
				slog.String("workspace", workspace), slog.String("error", err.Error()))
			out.Degraded = append(out.Degraded, "graph_hints")
			continue
		}
		if !h.Empty() {
			hints = append(hints, h)
		}
	}
	return hints
}

func (r *Retriever) collectMemoryHits(ctx context.Context, in RetrievalInput, vectors [][]float32, out *RetrievalOutput) []domain.MemoryHit {
	if r.memory == nil || in.Plan.ChatMemoryBudget <= 0 || len(vectors) == 0 {
		return nil
	}
	hits, err := r.memory.SearchSummaries(ctx,
		in.Request.TenantID, in.Request.CustomerID, in.Request.ConversationID,
		vectors[0], in.Plan.ChatMemoryBudget)
	if err != nil {
		r.logger.Warn("memory search failed", slog.String("error", err.Error()))
		out.Degraded = append(out.Degraded, "chat_memory")
		return nil
	}
	return hits
}

// GraphWorkspace names the isolated graph partition for one scope. The
// shared law pool has a single workspace per tenant; customer documents
// get one workspace per customer.
func GraphWorkspace(scope domain.Scope, tenantID, customerID string) string {
	if scope == domain.ScopeCustomerDoc && customerID != "" {
		return fmt.Sprintf("%s_customer_%s", tenantID, customerID)
	}
	return fmt.Sprintf("%s_admin_law", tenantID)
}

func tagCandidates(hits []domain.EvidenceCandidate, source domain.SourceKind, scope domain.Scope) []domain.EvidenceCandidate {
	for i := range hits {
		hits[i].Source = source
		if hits[i].Scope == "" {
			hits[i].Scope = scope
		}
	}
	return hits
}
