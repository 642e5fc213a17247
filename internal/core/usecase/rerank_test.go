package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

func TestRerankSkipsModelForSmallLists(t *testing.T) {
	gen := &fakeGenerator{jsonErr: errors.New("must not be called")}
	r := NewReranker(gen, testLogger())

	candidates := []domain.EvidenceCandidate{cand("d1", 0, 0.9, "a"), cand("d2", 0, 0.8, "b")}
	ranked, degraded := r.Rerank(context.Background(), "q", nil, candidates, 5)

	if degraded {
		t.Fatal("small list must not degrade")
	}
	if gen.jsonCalls != 0 {
		t.Fatalf("model called %d times for a list within finalK", gen.jsonCalls)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
}

func TestRerankUsesModelRanking(t *testing.T) {
	gen := &fakeGenerator{jsonResponse: `{"ranking": [2, 0]}`}
	r := NewReranker(gen, testLogger())

	candidates := []domain.EvidenceCandidate{
		cand("d1", 0, 0.9, "first"),
		cand("d2", 0, 0.8, "second"),
		cand("d3", 0, 0.7, "third"),
	}
	ranked, degraded := r.Rerank(context.Background(), "q", nil, candidates, 2)

	if degraded {
		t.Fatal("successful model rerank must not degrade")
	}
	if ranked[0].DocumentID != "d3" || ranked[1].DocumentID != "d1" {
		t.Fatalf("ranked order = %s, %s", ranked[0].DocumentID, ranked[1].DocumentID)
	}
}

func TestRerankBackfillsShortRanking(t *testing.T) {
	gen := &fakeGenerator{jsonResponse: `{"ranking": [1, 99, 1]}`}
	r := NewReranker(gen, testLogger())

	candidates := []domain.EvidenceCandidate{
		cand("d1", 0, 0.9, "a"), cand("d2", 0, 0.8, "b"), cand("d3", 0, 0.7, "c"),
	}
	ranked, _ := r.Rerank(context.Background(), "q", nil, candidates, 2)

	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].DocumentID != "d2" || ranked[1].DocumentID != "d1" {
		t.Fatalf("backfill order = %s, %s, want d2 then d1", ranked[0].DocumentID, ranked[1].DocumentID)
	}
}

func TestRerankFallsBackDeterministically(t *testing.T) {
	gen := &fakeGenerator{jsonErr: errors.New("model down")}
	r := NewReranker(gen, testLogger())

	candidates := []domain.EvidenceCandidate{
		cand("d-high", 0, 0.95, "inventory valuation methods and obsolescence provisions"),
		cand("d-mid", 0, 0.90, "unrelated boilerplate about office supplies"),
		cand("d-low", 0, 0.10, "inventory counts and valuation at year end"),
	}
	ranked, degraded := r.Rerank(context.Background(), "inventory valuation", nil, candidates, 2)

	if !degraded {
		t.Fatal("fallback must report degradation")
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].DocumentID != "d-high" || ranked[1].DocumentID != "d-mid" {
		t.Fatalf("fallback order = %s, %s, want descending original score", ranked[0].DocumentID, ranked[1].DocumentID)
	}
}

func TestDeterministicRerankMustFindBonus(t *testing.T) {
	window := []domain.EvidenceCandidate{
		cand("d1", 0, 0.5, "the sample covers invoices"),
		cand("d2", 0, 0.5, "the sample covers invoices dated 2024-03-15"),
	}

	ranked := deterministicRerank("sample invoices", []string{"2024-03-15"}, window, 1)
	if ranked[0].DocumentID != "d2" {
		t.Fatalf("must-find bonus ignored, top = %s", ranked[0].DocumentID)
	}
}
