package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document is one ingested source file in either pool.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Scope       Scope          `json:"scope"`
	TenantID    string         `json:"tenant_id,omitempty"`
	CustomerID  string         `json:"customer_id,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Status      DocumentStatus `json:"status"`
	ChunkCount  int            `json:"chunk_count,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is one persisted slice of a document's extracted text, addressed
// by ordinal offset within the document.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Offset     int    `json:"offset"`
	Text       string `json:"text"`
}

// DocumentMeta is the read-model used for citation formatting and
// defense-in-depth ACL checks during evidence building.
type DocumentMeta struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Scope      Scope  `json:"scope"`
	CustomerID string `json:"customer_id,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
}
