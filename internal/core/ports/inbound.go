package ports

import (
	"context"
	"io"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// QueryRequest is the core's public query surface.
type QueryRequest struct {
	Question            string
	ActorID             string
	TenantID            string
	CustomerID          string
	IncludeAdminLaws    bool
	IncludeCustomerDocs bool
	Mode                string // "hybrid" (default) or "agentic" (LLM decomposition)
	TopK                int
	Temperature         float64
	Conversation        []domain.ConversationTurn
	ConversationID      string
}

// EvidenceResult is the retrieval-only response for debugging and
// traceability.
type EvidenceResult struct {
	Evidence   []domain.EvidenceItem `json:"evidence"`
	GraphHints []domain.GraphHints   `json:"graph_hints,omitempty"`
	Plan       domain.QueryPlan      `json:"plan"`
}

// AuditQueryService is the inbound contract for the full pipeline.
type AuditQueryService interface {
	Query(ctx context.Context, req QueryRequest) (*domain.QueryResult, error)
	EvidenceOnly(ctx context.Context, req QueryRequest) (*EvidenceResult, error)
}

// UploadRequest carries one document into the ingestion pipeline.
type UploadRequest struct {
	Filename   string
	MimeType   string
	Scope      domain.Scope
	TenantID   string
	CustomerID string
	OwnerID    string
	Body       io.Reader
}

// DocumentIngestor is the inbound contract for document upload.
type DocumentIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous indexing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}
