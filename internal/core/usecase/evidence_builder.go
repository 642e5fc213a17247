package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// EvidenceBuilder turns reranked seed chunks into citable evidence items
// by pulling neighboring chunks around each seed. Chunk text comes from
// the relational chunk store; the vector store payload is the fallback
// when rows are missing.
type EvidenceBuilder struct {
	chunks ports.ChunkStore
	vector ports.VectorStore
	logger *slog.Logger
}

func NewEvidenceBuilder(chunks ports.ChunkStore, vector ports.VectorStore, logger *slog.Logger) *EvidenceBuilder {
	return &EvidenceBuilder{chunks: chunks, vector: vector, logger: logger}
}

// Build expands each candidate into a chunk window, re-checks access on
// the document metadata, deduplicates subsumed ranges, and stops once the
// context budget is spent.
func (b *EvidenceBuilder) Build(ctx context.Context, candidates []domain.EvidenceCandidate, decision domain.PolicyDecision, plan domain.QueryPlan) ([]domain.EvidenceItem, []string) {
	var degraded []string
	degradedMeta := false

	budget := decision.MaxContextChars
	if plan.TotalContextLimit > 0 && plan.TotalContextLimit < budget {
		budget = plan.TotalContextLimit
	}

	emitted := make(map[string][]docRange)

	items := make([]domain.EvidenceItem, 0, len(candidates))
	spent := 0

	for _, c := range candidates {
		meta := b.lookupMeta(ctx, c)
		if meta == nil {
			degradedMeta = true
			meta = &domain.DocumentMeta{
				DocumentID: c.DocumentID,
				Filename:   c.Filename,
				Scope:      c.Scope,
				CustomerID: c.CustomerID,
				OwnerID:    c.OwnerID,
			}
		}

		// Defense in depth: the retrieval filters already constrain the
		// search, but the stored metadata is re-checked before any text
		// reaches the prompt.
		if !decision.ScopeAllowed(meta.Scope) {
			continue
		}
		if meta.Scope == domain.ScopeCustomerDoc &&
			len(decision.AllowedCustomerIDs) > 0 &&
			!decision.CustomerAllowed(meta.CustomerID) {
			continue
		}

		radius := 1
		if looksTruncated(c.Text) {
			radius = 2
		}
		from := c.ChunkIndex - radius
		if from < 0 {
			from = 0
		}
		to := c.ChunkIndex + radius

		window := b.fetchWindow(ctx, c, from, to)
		if len(window) == 0 {
			if c.Text == "" {
				continue
			}
			window = []domain.Chunk{{DocumentID: c.DocumentID, Offset: c.ChunkIndex, Text: c.Text}}
		}
		from = window[0].Offset
		to = window[len(window)-1].Offset

		if rangeSubsumed(emitted[c.DocumentID], from, to) {
			continue
		}

		texts := make([]string, 0, len(window))
		for _, chunk := range window {
			texts = append(texts, chunk.Text)
		}
		text := strings.Join(texts, "\n")

		if spent+len(text) > budget && len(items) > 0 {
			break
		}
		spent += len(text)

		emitted[c.DocumentID] = append(emitted[c.DocumentID], docRange{from: from, to: to})
		items = append(items, domain.EvidenceItem{
			Scope:      meta.Scope,
			DocumentID: c.DocumentID,
			Filename:   meta.Filename,
			OffsetFrom: from,
			OffsetTo:   to,
			SeedOffset: c.ChunkIndex,
			Text:       text,
			Citation:   domain.FormatCitation(meta.Scope, meta.Filename, c.DocumentID, from, to),
			Score:      c.Score,
			CustomerID: meta.CustomerID,
			OwnerID:    meta.OwnerID,
		})
	}

	if degradedMeta {
		degraded = append(degraded, "evidence_meta")
	}
	return items, degraded

}

func (b *EvidenceBuilder) lookupMeta(ctx context.Context, c domain.EvidenceCandidate) *domain.DocumentMeta {
	if b.chunks == nil {
		return nil
	}
	meta, err := b.chunks.DocumentMeta(ctx, c.DocumentID)
	if err != nil {
		b.logger.Warn("document metadata lookup failed",
			slog.String("document_id", c.DocumentID), slog.String("error", err.Error()))
		return nil
	}
	return meta
}

// fetchWindow reads the chunk range from the chunk store, falling back to
// a payload scroll on the vector store when the store has no rows.
func (b *EvidenceBuilder) fetchWindow(ctx context.Context, c domain.EvidenceCandidate, from, to int) []domain.Chunk {
	if b.chunks != nil {
		window, err := b.chunks.ChunkRange(ctx, c.DocumentID, from, to)
		if err != nil {
			b.logger.Warn("chunk range lookup failed",
				slog.String("document_id", c.DocumentID), slog.String("error", err.Error()))
		} else if len(window) > 0 {
			return window
		}
	}

	if b.vector == nil {
		return nil
	}
	lo, hi := from, to
	filter := ports.VectorFilter{
		Scope:      c.Scope,
		DocumentID: c.DocumentID,
		OffsetFrom: &lo,
		OffsetTo:   &hi,
	}
	hits, err := b.vector.ScrollByDocument(ctx, filter, to-from+1)
	if err != nil {
		b.logger.Warn("vector scroll fallback failed",
			slog.String("document_id", c.DocumentID), slog.String("error", err.Error()))
		return nil
	}
	window := make([]domain.Chunk, 0, len(hits))
	for _, h := range hits {
		window = append(window, domain.Chunk{DocumentID: h.DocumentID, Offset: h.ChunkIndex, Text: h.Text})
	}
	sortChunks(window)
	return window
}

func sortChunks(chunks []domain.Chunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].Offset < chunks[j-1].Offset; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

// looksTruncated spots chunks that start or end mid-sentence and widens
// the neighbor window for them.
func looksTruncated(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	first := []rune(trimmed)[0]
	if unicode.IsLower(first) {
		return true
	}
	last := []rune(trimmed)[len([]rune(trimmed))-1]
	switch last {
	case '.', '!', '?', ';', ':':
		return false
	}
	return true
}

type docRange struct{ from, to int }

func rangeSubsumed(existing []docRange, from, to int) bool {
	for _, r := range existing {
		if from >= r.from && to <= r.to {
			return true
		}
	}
	return false
}
