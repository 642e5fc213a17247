package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// ChunkStore persists extracted chunk text and serves the sparse keyword
// channel over it via Postgres full-text search.
type ChunkStore struct {
	db *sql.DB
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

func (s *ChunkStore) SaveChunks(ctx context.Context, doc *domain.Document, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Reprocessing replaces the document's chunks wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (document_id, chunk_offset, chunk_text) VALUES ($1, $2, $3)
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for offset, text := range chunks {
		if _, err := stmt.ExecContext(ctx, doc.ID, offset, text); err != nil {
			return fmt.Errorf("insert chunk %d: %w", offset, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (s *ChunkStore) ChunkRange(ctx context.Context, documentID string, from, to int) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_id, chunk_offset, chunk_text
FROM document_chunks
WHERE document_id = $1 AND chunk_offset BETWEEN $2 AND $3
ORDER BY chunk_offset
`, documentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query chunk range: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.DocumentID, &c.Offset, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ChunkStore) DocumentMeta(ctx context.Context, documentID string) (*domain.DocumentMeta, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, filename, scope, customer_id, owner_id
FROM documents
WHERE id = $1
`, documentID)

	var meta domain.DocumentMeta
	var scope string
	if err := row.Scan(&meta.DocumentID, &meta.Filename, &scope, &meta.CustomerID, &meta.OwnerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "postgres.document_meta", fmt.Errorf("id %s", documentID))
		}
		return nil, fmt.Errorf("scan document meta: %w", err)
	}
	meta.Scope = domain.Scope(scope)
	return &meta, nil
}

// SearchKeyword is the sparse retrieval channel: full-text rank over the
// chunk corpus, filtered by the same access predicates as dense search.
func (s *ChunkStore) SearchKeyword(ctx context.Context, query string, filter ports.VectorFilter, limit int) ([]domain.EvidenceCandidate, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	sqlQuery := `
SELECT c.document_id, c.chunk_offset, c.chunk_text,
       d.filename, d.scope, d.tenant_id, d.customer_id, d.owner_id,
       ts_rank(c.text_search, plainto_tsquery('simple', $1)) AS rank
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.text_search @@ plainto_tsquery('simple', $1)
  AND d.status = 'ready'
  AND d.scope = $2
`
	args := []any{query, string(filter.Scope)}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		sqlQuery += fmt.Sprintf("  AND d.customer_id = $%d\n", len(args))
	}
	args = append(args, limit)
	sqlQuery += fmt.Sprintf("ORDER BY rank DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "postgres.search_keyword", err)
	}
	defer rows.Close()

	var out []domain.EvidenceCandidate
	for rows.Next() {
		var c domain.EvidenceCandidate
		var scope string
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Text, &c.Filename, &scope, &c.TenantID, &c.CustomerID, &c.OwnerID, &c.Score); err != nil {
			return nil, fmt.Errorf("scan sparse hit: %w", err)
		}
		c.Scope = domain.Scope(scope)
		c.Source = domain.SourceSparse
		out = append(out, c)
	}
	return out, rows.Err()
}
