package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const (
	rerankWindow       = 30
	rerankSnippetChars = 400

	overlapWeight  = 0.60
	mustFindWeight = 0.10
)

// Reranker orders fused candidates by relevance to the question. The
// model pass is an optimization: when it fails or returns garbage, the
// deterministic scorer takes over and the query still completes.
type Reranker struct {
	generator ports.Generator
	logger    *slog.Logger
}

func NewReranker(generator ports.Generator, logger *slog.Logger) *Reranker {
	return &Reranker{generator: generator, logger: logger}
}

// Rerank returns the top finalK candidates. Lists already within finalK
// skip the model call entirely. The degraded flag reports a fallback to
// the deterministic scorer.
func (r *Reranker) Rerank(ctx context.Context, question string, mustFind []string, candidates []domain.EvidenceCandidate, finalK int) ([]domain.EvidenceCandidate, bool) {
	if finalK <= 0 || len(candidates) <= finalK {
		return candidates, false
	}

	window := candidates
	if len(window) > rerankWindow {
		window = window[:rerankWindow]
	}

	if r.generator != nil {
		ranked, err := r.rerankWithModel(ctx, question, window, finalK)
		if err == nil {
			return ranked, false
		}
		r.logger.Warn("model rerank failed, using deterministic scorer",
			slog.String("error", err.Error()))
	}

	return deterministicRerank(question, mustFind, window, finalK), true
}

func (r *Reranker) rerankWithModel(ctx context.Context, question string, window []domain.EvidenceCandidate, finalK int) ([]domain.EvidenceCandidate, error) {
	raw, err := r.generator.GenerateJSON(ctx, rerankPrompt(question, window, finalK))
	if err != nil {
		return nil, fmt.Errorf("rerank generate: %w", err)
	}

	var parsed struct {
		Ranking []int `json:"ranking"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("rerank parse: %w", err)
	}
	if len(parsed.Ranking) == 0 {
		return nil, fmt.Errorf("rerank parse: empty ranking")
	}

	chosen := make([]domain.EvidenceCandidate, 0, finalK)
	used := make(map[int]bool, len(parsed.Ranking))
	for _, idx := range parsed.Ranking {
		if idx < 0 || idx >= len(window) || used[idx] {
			continue
		}
		used[idx] = true
		chosen = append(chosen, window[idx])
		if len(chosen) == finalK {
			return chosen, nil
		}
	}

	// Short or partially invalid rankings are backfilled in fused order
	// rather than rejected.
	for idx, c := range window {
		if used[idx] {
			continue
		}
		chosen = append(chosen, c)
		if len(chosen) == finalK {
			break
		}
	}
	return chosen, nil
}

func rerankPrompt(question string, window []domain.EvidenceCandidate, finalK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the snippets below by relevance to the question. Respond with a single JSON object {\"ranking\": [indices]} listing the %d most relevant snippet indices, best first.\n\n", finalK)
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	for i, c := range window {
		snippet := c.Text
		if len(snippet) > rerankSnippetChars {
			snippet = snippet[:rerankSnippetChars]
		}
		fmt.Fprintf(&b, "[%d] %s\n", i, snippet)
	}
	return b.String()
}

// deterministicRerank returns the top finalK by original fusion score,
// descending. Token overlap with the question and must-find hits only
// break ties between equally scored candidates.
func deterministicRerank(question string, mustFind []string, window []domain.EvidenceCandidate, finalK int) []domain.EvidenceCandidate {
	queryTokens := tokenSet(question)

	type scored struct {
		candidate domain.EvidenceCandidate
		tie       float64
		position  int
	}
	scoredList := make([]scored, 0, len(window))
	for i, c := range window {
		tie := overlapWeight * tokenOverlap(queryTokens, c.Text)
		if containsAnyFold(c.Text, mustFind) {
			tie += mustFindWeight
		}
		scoredList = append(scoredList, scored{candidate: c, tie: tie, position: i})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].candidate.Score != scoredList[j].candidate.Score {
			return scoredList[i].candidate.Score > scoredList[j].candidate.Score
		}
		if scoredList[i].tie != scoredList[j].tie {
			return scoredList[i].tie > scoredList[j].tie
		}
		return scoredList[i].position < scoredList[j].position
	})

	if len(scoredList) > finalK {
		scoredList = scoredList[:finalK]
	}
	out := make([]domain.EvidenceCandidate, 0, len(scoredList))
	for _, s := range scoredList {
		out = append(out, s.candidate)
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenizeLower(text) {
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	return set
}

func tokenOverlap(queryTokens map[string]bool, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matched := make(map[string]bool)
	for _, tok := range tokenizeLower(text) {
		if queryTokens[tok] {
			matched[tok] = true
		}
	}
	return float64(len(matched)) / float64(len(queryTokens))
}

func containsAnyFold(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
