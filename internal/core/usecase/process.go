package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const embedBatchSize = 32

// ProcessService turns an uploaded document into searchable chunks:
// extract, split, embed, index. Graph enrichment is best-effort; a
// document whose graph insert fails still becomes ready.
type ProcessService struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	vector    ports.VectorStore
	chunks    ports.ChunkStore
	graph     ports.GraphEnricher
	logger    *slog.Logger
}

func NewProcessService(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vector ports.VectorStore,
	chunks ports.ChunkStore,
	graph ports.GraphEnricher,
	logger *slog.Logger,
) *ProcessService {
	return &ProcessService{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		vector:    vector,
		chunks:    chunks,
		graph:     graph,
		logger:    logger,
	}
}

var _ ports.DocumentProcessor = (*ProcessService)(nil)

func (s *ProcessService) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return domain.WrapError(domain.ErrDocumentNotFound, "process.load", err)
	}

	if err := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusProcessing, ""); err != nil {
		return domain.WrapError(domain.ErrTemporary, "process.status", err)
	}

	if err := s.index(ctx, doc); err != nil {
		if stErr := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, err.Error()); stErr != nil {
			s.logger.Error("failed to mark document failed",
				slog.String("document_id", doc.ID), slog.String("error", stErr.Error()))
		}
		return err
	}

	if err := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusReady, ""); err != nil {
		return domain.WrapError(domain.ErrTemporary, "process.status", err)
	}
	s.logger.Info("document indexed",
		slog.String("document_id", doc.ID), slog.Int("chunks", doc.ChunkCount))
	return nil
}

func (s *ProcessService) index(ctx context.Context, doc *domain.Document) error {
	text, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "process.extract", err)
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "process.split", fmt.Errorf("document produced no chunks"))
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := s.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "process.embed", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(domain.ErrTemporary, "process.embed",
			fmt.Errorf("embedded %d of %d chunks", len(vectors), len(chunks)))
	}

	if err := s.vector.IndexChunks(ctx, doc, chunks, vectors); err != nil {
		return domain.WrapError(domain.ErrTemporary, "process.index", err)
	}
	if err := s.chunks.SaveChunks(ctx, doc, chunks); err != nil {
		return domain.WrapError(domain.ErrTemporary, "process.save_chunks", err)
	}
	if err := s.repo.SetChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		return domain.WrapError(domain.ErrTemporary, "process.chunk_count", err)
	}
	doc.ChunkCount = len(chunks)

	s.enrichGraph(ctx, doc, text)
	return nil
}

// enrichGraph feeds the document into its workspace graph. Failures are
// logged and swallowed: graph hints are a second signal, not a
// prerequisite for searchability.
func (s *ProcessService) enrichGraph(ctx context.Context, doc *domain.Document, text string) {
	if s.graph == nil {
		return
	}
	workspace := GraphWorkspace(doc.Scope, doc.TenantID, doc.CustomerID)
	if _, err := s.graph.Insert(ctx, workspace, text); err != nil {
		s.logger.Warn("graph enrichment failed",
			slog.String("document_id", doc.ID),
			slog.String("workspace", workspace),
			slog.String("error", err.Error()))
	}
}
