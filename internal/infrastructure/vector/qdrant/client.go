package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
	"github.com/auditgrid/audit-assistant/internal/infrastructure/resilience"
)

// Config holds the connection settings and the per-pool collection names.
type Config struct {
	URL                  string
	APIKey               string
	AdminLawCollection   string
	CustomerCollection   string
	MemoryCollection     string
	Dims                 uint64
}

// Store implements the dense evidence index over two collections, one
// per document pool. Customer isolation is payload filtering inside the
// customer collection; the law pool carries no customer payload at all.
type Store struct {
	client   *qdrant.Client
	cfg      Config
	executor *resilience.Executor
	logger   *slog.Logger
}

// parseURL accepts "https://host:6333", "http://host:6333" or
// "host:6334" and returns gRPC connection parameters. The REST port 6333
// is silently mapped to the gRPC port.
func parseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("qdrant: invalid URL %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("qdrant: invalid port %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

func NewStore(cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Store, error) {
	host, port, useTLS, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w", host, port, err)
	}

	return &Store{client: client, cfg: cfg, executor: executor, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) collectionFor(scope domain.Scope) string {
	if scope == domain.ScopeCustomerDoc {
		return s.cfg.CustomerCollection
	}
	return s.cfg.AdminLawCollection
}

// EnsureCollections creates the evidence and memory collections and their
// payload indexes. CreateFieldIndex is idempotent, so indexes added later
// are backfilled on restart.
func (s *Store) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{s.cfg.AdminLawCollection, s.cfg.CustomerCollection, s.cfg.MemoryCollection} {
		if err := s.ensureCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %q: %w", name, err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.Dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("qdrant: create collection %q: %w", name, err)
		}
		s.logger.Info("qdrant collection created", slog.String("collection", name), slog.Uint64("dims", s.cfg.Dims))
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"document_id", "tenant_id", "customer_id", "owner_id", "conversation_id"} {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("qdrant: ensure index on %q: %w", field, err)
		}
	}

	integerType := qdrant.FieldType_FieldTypeInteger
	if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "chunk_offset",
		FieldType:      &integerType,
	}); err != nil {
		return fmt.Errorf("qdrant: ensure index on chunk_offset: %w", err)
	}
	return nil
}

// chunkPointID derives a stable point id from document and offset so
// reprocessing a document overwrites its old points instead of
// accumulating duplicates.
func chunkPointID(documentID string, offset int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, offset))).String()
}

func (s *Store) IndexChunks(ctx context.Context, doc *domain.Document, chunks []string, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i := range chunks {
		payload := map[string]any{
			"document_id":  doc.ID,
			"chunk_offset": int64(i),
			"text":         chunks[i],
			"filename":     doc.Filename,
			"scope":        string(doc.Scope),
			"tenant_id":    doc.TenantID,
		}
		if doc.CustomerID != "" {
			payload["customer_id"] = doc.CustomerID
		}
		if doc.OwnerID != "" {
			payload["owner_id"] = doc.OwnerID
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunkPointID(doc.ID, i)),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	collection := s.collectionFor(doc.Scope)
	return s.execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
		}
		return nil
	})
}

func buildConditions(filter ports.VectorFilter) []*qdrant.Condition {
	var must []*qdrant.Condition
	if filter.TenantID != "" {
		must = append(must, qdrant.NewMatch("tenant_id", filter.TenantID))
	}
	if filter.CustomerID != "" {
		must = append(must, qdrant.NewMatch("customer_id", filter.CustomerID))
	}
	if filter.OwnerID != "" {
		must = append(must, qdrant.NewMatch("owner_id", filter.OwnerID))
	}
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", filter.DocumentID))
	}
	if filter.OffsetFrom != nil || filter.OffsetTo != nil {
		r := &qdrant.Range{}
		if filter.OffsetFrom != nil {
			r.Gte = qdrant.PtrOf(float64(*filter.OffsetFrom))
		}
		if filter.OffsetTo != nil {
			r.Lte = qdrant.PtrOf(float64(*filter.OffsetTo))
		}
		must = append(must, qdrant.NewRange("chunk_offset", r))
	}
	return must
}

func (s *Store) Search(ctx context.Context, queryVector []float32, limit int, filter ports.VectorFilter) ([]domain.EvidenceCandidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	fetchLimit := uint64(limit)
	query := &qdrant.QueryPoints{
		CollectionName: s.collectionFor(filter.Scope),
		Query:          qdrant.NewQueryDense(queryVector),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if must := buildConditions(filter); len(must) > 0 {
		query.Filter = &qdrant.Filter{Must: must}
	}

	var scored []*qdrant.ScoredPoint
	err := s.execute(ctx, "qdrant.query", func(ctx context.Context) error {
		var err error
		scored, err = s.client.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("qdrant: query: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant.search", err)
	}

	out := make([]domain.EvidenceCandidate, 0, len(scored))
	for _, sp := range scored {
		c := candidateFromPayload(sp.Payload, filter.Scope)
		c.Score = float64(sp.Score)
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ScrollByDocument(ctx context.Context, filter ports.VectorFilter, limit int) ([]domain.EvidenceCandidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	scroll := &qdrant.ScrollPoints{
		CollectionName: s.collectionFor(filter.Scope),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if must := buildConditions(filter); len(must) > 0 {
		scroll.Filter = &qdrant.Filter{Must: must}
	}

	var points []*qdrant.RetrievedPoint
	err := s.execute(ctx, "qdrant.scroll", func(ctx context.Context) error {
		var err error
		points, err = s.client.Scroll(ctx, scroll)
		if err != nil {
			return fmt.Errorf("qdrant: scroll: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant.scroll", err)
	}

	out := make([]domain.EvidenceCandidate, 0, len(points))
	for _, p := range points {
		out = append(out, candidateFromPayload(p.Payload, filter.Scope))
	}
	return out, nil
}

// DeleteDocument removes all points of one document, used when a
// document is reprocessed with fewer chunks or removed entirely.
func (s *Store) DeleteDocument(ctx context.Context, scope domain.Scope, documentID string) error {
	return s.execute(ctx, "qdrant.delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collectionFor(scope),
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("qdrant: delete document %s: %w", documentID, err)
		}
		return nil
	})
}

func (s *Store) Healthy(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: unhealthy: %w", err)
	}
	return nil
}

func (s *Store) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, operation, fn, resilience.ClassifyTransport)
}

func candidateFromPayload(payload map[string]*qdrant.Value, scope domain.Scope) domain.EvidenceCandidate {
	c := domain.EvidenceCandidate{Source: domain.SourceDense, Scope: scope}
	if v, ok := payload["document_id"]; ok {
		c.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["chunk_offset"]; ok {
		c.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["filename"]; ok {
		c.Filename = v.GetStringValue()
	}
	if v, ok := payload["tenant_id"]; ok {
		c.TenantID = v.GetStringValue()
	}
	if v, ok := payload["customer_id"]; ok {
		c.CustomerID = v.GetStringValue()
	}
	if v, ok := payload["owner_id"]; ok {
		c.OwnerID = v.GetStringValue()
	}
	if v, ok := payload["scope"]; ok && v.GetStringValue() != "" {
		c.Scope = domain.Scope(v.GetStringValue())
	}
	return c
}
