package ports

import (
	"context"
	"io"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorFilter is a conjunction of payload predicates applied to
// similarity search and scroll.
type VectorFilter struct {
	Scope      domain.Scope
	TenantID   string
	CustomerID string
	OwnerID    string
	DocumentID string
	OffsetFrom *int
	OffsetTo   *int
}

// VectorStore is the per-scope nearest-neighbor index.
type VectorStore interface {
	IndexChunks(ctx context.Context, doc *domain.Document, chunks []string, vectors [][]float32) error
	Search(ctx context.Context, queryVector []float32, limit int, filter VectorFilter) ([]domain.EvidenceCandidate, error)
	ScrollByDocument(ctx context.Context, filter VectorFilter, limit int) ([]domain.EvidenceCandidate, error)
}

// SparseIndex is the optional keyword/full-text channel over the same
// chunk corpus.
type SparseIndex interface {
	SearchKeyword(ctx context.Context, query string, filter VectorFilter, limit int) ([]domain.EvidenceCandidate, error)
}

// GraphEnricher is the optional workspace-isolated knowledge graph. Its
// hints are never a citation source.
type GraphEnricher interface {
	Insert(ctx context.Context, workspace, text string) (string, error)
	QueryHints(ctx context.Context, workspace, question string, topK int) (domain.GraphHints, error)
}

// Generator creates model output for answer generation, reranking,
// decomposition, and grounding checks.
type Generator interface {
	GenerateText(ctx context.Context, prompt, systemInstruction string, temperature float64, maxTokens int) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// ChunkStore reads persisted chunk text and document metadata. Owned by
// the ingestion subsystem; the query pipeline only reads from it.
type ChunkStore interface {
	SaveChunks(ctx context.Context, doc *domain.Document, chunks []string) error
	ChunkRange(ctx context.Context, documentID string, from, to int) ([]domain.Chunk, error)
	DocumentMeta(ctx context.Context, documentID string) (*domain.DocumentMeta, error)
}

// Identity resolves actor roles and employee-customer assignments.
type Identity interface {
	ActorRole(ctx context.Context, actorID string) (domain.Role, error)
	AssignedCustomers(ctx context.Context, actorID string) ([]string, error)
}

// AuditSink appends policy-evaluation records. Best-effort: callers log
// and swallow its errors.
type AuditSink interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// PromptProvider supplies active system prompt blocks by category.
// Never errors; absence returns an empty string.
type PromptProvider interface {
	ActivePrompt(ctx context.Context, category string) string
}

// MemoryVectorStore indexes and searches prior-conversation summaries.
type MemoryVectorStore interface {
	IndexSummary(ctx context.Context, summary domain.MemorySummary, vector []float32) error
	SearchSummaries(ctx context.Context, tenantID, customerID, excludeConversationID string, queryVector []float32, limit int) ([]domain.MemoryHit, error)
}

// DocumentRepository persists document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, count int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into indexable chunks.
type Chunker interface {
	Split(text string) []string
}
