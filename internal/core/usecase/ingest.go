package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// IngestService accepts document uploads, persists the raw file and the
// document record, and hands indexing off to the queue.
type IngestService struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	logger  *slog.Logger
	now     func() time.Time
}

func NewIngestService(repo ports.DocumentRepository, storage ports.ObjectStorage, queue ports.MessageQueue, logger *slog.Logger) *IngestService {
	return &IngestService{repo: repo, storage: storage, queue: queue, logger: logger, now: time.Now}
}

var (
	_ ports.DocumentIngestor = (*IngestService)(nil)
	_ ports.DocumentReader   = (*IngestService)(nil)
)

func (s *IngestService) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Document, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		Filename:   filepath.Base(req.Filename),
		MimeType:   req.MimeType,
		Scope:      req.Scope,
		TenantID:   req.TenantID,
		CustomerID: req.CustomerID,
		OwnerID:    req.OwnerID,
		Status:     domain.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	doc.StoragePath = storageKey(doc)

	if err := s.storage.Save(ctx, doc.StoragePath, req.Body); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "ingest.save", err)
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "ingest.create", err)
	}

	if err := s.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		// The record and the file are durable; a worker sweep can pick
		// the document up even without the event.
		s.logger.Error("failed to publish ingestion event",
			slog.String("document_id", doc.ID), slog.String("error", err.Error()))
	}

	s.logger.Info("document accepted",
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.String("scope", string(doc.Scope)))
	return doc, nil
}

func (s *IngestService) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest.get", fmt.Errorf("empty document id"))
	}
	return s.repo.GetByID(ctx, id)
}

func validateUpload(req ports.UploadRequest) error {
	if strings.TrimSpace(req.Filename) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest.validate", fmt.Errorf("empty filename"))
	}
	if !req.Scope.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "ingest.validate", fmt.Errorf("invalid scope %q", req.Scope))
	}
	if req.Scope == domain.ScopeCustomerDoc && req.CustomerID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest.validate", fmt.Errorf("customer documents require a customer id"))
	}
	if req.Body == nil {
		return domain.WrapError(domain.ErrInvalidInput, "ingest.validate", fmt.Errorf("empty body"))
	}
	return nil
}

func storageKey(doc *domain.Document) string {
	switch doc.Scope {
	case domain.ScopeCustomerDoc:
		return fmt.Sprintf("customers/%s/%s/%s", doc.CustomerID, doc.ID, doc.Filename)
	default:
		return fmt.Sprintf("admin_law/%s/%s", doc.ID, doc.Filename)
	}
}
