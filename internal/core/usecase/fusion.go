package usecase

import (
	"sort"
	"strings"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// rrfK dampens rank influence in reciprocal rank fusion. The standard
// constant from the literature; raising it flattens the curve.
const rrfK = 60

const (
	perDocumentCapDefault     = 3
	perDocumentCapSignatories = 2
)

type chunkKey struct {
	documentID string
	chunkIndex int
}

func candidateKey(c domain.EvidenceCandidate) chunkKey {
	return chunkKey{documentID: c.DocumentID, chunkIndex: c.ChunkIndex}
}

// mergeMaxScore folds candidates from several sub-queries and channels
// into one list, keeping the best score per chunk. Deduplication is
// idempotent: merging a list with itself returns the same list.
func mergeMaxScore(lists ...[]domain.EvidenceCandidate) []domain.EvidenceCandidate {
	best := make(map[chunkKey]domain.EvidenceCandidate)
	order := make([]chunkKey, 0)

	for _, list := range lists {
		for _, c := range list {
			key := candidateKey(c)
			existing, seen := best[key]
			if !seen {
				best[key] = c
				order = append(order, key)
				continue
			}
			best[key] = preferCandidate(existing, c)
		}
	}

	out := make([]domain.EvidenceCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sortCandidates(out)
	return out
}

// preferCandidate keeps the higher score and the richer payload. A sparse
// hit often carries text a dense hit dropped, and vice versa.
func preferCandidate(a, b domain.EvidenceCandidate) domain.EvidenceCandidate {
	winner, loser := a, b
	if b.Score > a.Score {
		winner, loser = b, a
	}
	if winner.Text == "" {
		winner.Text = loser.Text
	}
	if winner.Filename == "" {
		winner.Filename = loser.Filename
	}
	return winner
}

// fuseDenseSparse combines one scope's dense and sparse result lists with
// reciprocal rank fusion. Raw scores from the two channels are not
// comparable, so only ranks contribute.
func fuseDenseSparse(dense, sparse []domain.EvidenceCandidate) []domain.EvidenceCandidate {
	fused := make(map[chunkKey]domain.EvidenceCandidate)
	scores := make(map[chunkKey]float64)

	accumulate := func(list []domain.EvidenceCandidate) {
		for rank, c := range list {
			key := candidateKey(c)
			scores[key] += 1.0 / float64(rrfK+rank+1)
			if existing, ok := fused[key]; ok {
				fused[key] = preferCandidate(existing, c)
			} else {
				fused[key] = c
			}
		}
	}
	accumulate(dense)
	accumulate(sparse)

	out := make([]domain.EvidenceCandidate, 0, len(fused))
	for key, c := range fused {
		c.Score = scores[key]
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// signatoryMarkers spot chunks that actually name signing parties.
// Contract bodies drown the signature page in boilerplate; the filter
// keeps the page in reach.
var signatoryMarkers = []string{
	"signatory", "signed by", "on behalf of", "director",
	"подпис", "в лице", "директор",
}

// filterSignatoryNoise narrows signatory-intent candidates to chunks that
// mention signing parties. Never narrows to an empty list: when no chunk
// matches, the unfiltered list survives.
func filterSignatoryNoise(candidates []domain.EvidenceCandidate) []domain.EvidenceCandidate {
	kept := make([]domain.EvidenceCandidate, 0, len(candidates))
	for _, c := range candidates {
		text := strings.ToLower(c.Text)
		for _, marker := range signatoryMarkers {
			if strings.Contains(text, marker) {
				kept = append(kept, c)
				break
			}
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

// capPerDocument limits how many chunks one document may contribute, so a
// single long file cannot crowd out the rest of the corpus. Candidates
// must already be sorted best-first.
func capPerDocument(candidates []domain.EvidenceCandidate, intent domain.Intent) []domain.EvidenceCandidate {
	limit := perDocumentCapDefault
	if intent == domain.IntentContractSignatories {
		limit = perDocumentCapSignatories
	}

	perDoc := make(map[string]int)
	out := make([]domain.EvidenceCandidate, 0, len(candidates))
	for _, c := range candidates {
		if perDoc[c.DocumentID] >= limit {
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	return out
}

// sortCandidates orders best-first with a deterministic tie-break so the
// pipeline is reproducible across runs.
func sortCandidates(candidates []domain.EvidenceCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].DocumentID != candidates[j].DocumentID {
			return candidates[i].DocumentID < candidates[j].DocumentID
		}
		return candidates[i].ChunkIndex < candidates[j].ChunkIndex
	})
}
