package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIdentity struct {
	roles       map[string]domain.Role
	assignments map[string][]string
	roleErr     error
}

func (f *fakeIdentity) ActorRole(_ context.Context, actorID string) (domain.Role, error) {
	if f.roleErr != nil {
		return "", f.roleErr
	}
	role, ok := f.roles[actorID]
	if !ok {
		return "", errors.New("unknown actor")
	}
	return role, nil
}

func (f *fakeIdentity) AssignedCustomers(_ context.Context, actorID string) ([]string, error) {
	return f.assignments[actorID], nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	err     error
}

func (f *fakeAudit) Append(_ context.Context, entry domain.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type fakeVectorStore struct {
	mu         sync.Mutex
	hits       map[domain.Scope][]domain.EvidenceCandidate
	byCustomer map[string][]domain.EvidenceCandidate
	scrollHits []domain.EvidenceCandidate
	searchErr  error
	indexed    int
	filters    []ports.VectorFilter
	limits     []int
}

func (f *fakeVectorStore) IndexChunks(_ context.Context, _ *domain.Document, chunks []string, _ [][]float32) error {
	f.indexed += len(chunks)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, limit int, filter ports.VectorFilter) ([]domain.EvidenceCandidate, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.hits[filter.Scope]
	if filter.CustomerID != "" && f.byCustomer != nil {
		hits = f.byCustomer[filter.CustomerID]
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return append([]domain.EvidenceCandidate(nil), hits...), nil
}

func (f *fakeVectorStore) ScrollByDocument(_ context.Context, filter ports.VectorFilter, _ int) ([]domain.EvidenceCandidate, error) {
	var out []domain.EvidenceCandidate
	for _, h := range f.scrollHits {
		if h.DocumentID != filter.DocumentID {
			continue
		}
		if filter.OffsetFrom != nil && h.ChunkIndex < *filter.OffsetFrom {
			continue
		}
		if filter.OffsetTo != nil && h.ChunkIndex > *filter.OffsetTo {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

type fakeSparse struct {
	mu      sync.Mutex
	hits    map[domain.Scope][]domain.EvidenceCandidate
	err     error
	queries []string
}

func (f *fakeSparse) SearchKeyword(_ context.Context, query string, filter ports.VectorFilter, limit int) ([]domain.EvidenceCandidate, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits[filter.Scope]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return append([]domain.EvidenceCandidate(nil), hits...), nil
}

type fakeGraph struct {
	hints      domain.GraphHints
	queryErr   error
	inserted   []string
	workspaces []string
}

func (f *fakeGraph) Insert(_ context.Context, workspace, text string) (string, error) {
	f.workspaces = append(f.workspaces, workspace)
	f.inserted = append(f.inserted, text)
	return fmt.Sprintf("track-%d", len(f.inserted)), nil
}

func (f *fakeGraph) QueryHints(_ context.Context, workspace, _ string, _ int) (domain.GraphHints, error) {
	if f.queryErr != nil {
		return domain.GraphHints{}, f.queryErr
	}
	h := f.hints
	h.Workspace = workspace
	return h, nil
}

type fakeMemory struct {
	hits    []domain.MemoryHit
	err     error
	indexed []domain.MemorySummary
}

func (f *fakeMemory) IndexSummary(_ context.Context, summary domain.MemorySummary, _ []float32) error {
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, summary)
	return nil
}

func (f *fakeMemory) SearchSummaries(_ context.Context, _, _, _ string, _ []float32, _ int) ([]domain.MemoryHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

// fakeGenerator scripts both generation surfaces. A nil response map
// entry falls through to the default response.
type fakeGenerator struct {
	textResponse string
	textErr      error
	jsonResponse string
	jsonErr      error
	textCalls    int
	jsonCalls    int
	lastPrompt   string
	lastSystem   string
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt, system string, _ float64, _ int) (string, error) {
	f.textCalls++
	f.lastPrompt = prompt
	f.lastSystem = system
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.textResponse, nil
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.jsonCalls++
	f.lastPrompt = prompt
	if f.jsonErr != nil {
		return "", f.jsonErr
	}
	return f.jsonResponse, nil
}

type fakeChunkStore struct {
	chunks map[string][]domain.Chunk
	meta   map[string]*domain.DocumentMeta
	saved  int
}

func (f *fakeChunkStore) SaveChunks(_ context.Context, doc *domain.Document, chunks []string) error {
	f.saved += len(chunks)
	return nil
}

func (f *fakeChunkStore) ChunkRange(_ context.Context, documentID string, from, to int) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, c := range f.chunks[documentID] {
		if c.Offset >= from && c.Offset <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) DocumentMeta(_ context.Context, documentID string) (*domain.DocumentMeta, error) {
	meta, ok := f.meta[documentID]
	if !ok {
		return nil, errors.New("no metadata")
	}
	return meta, nil
}

type fakePrompts struct {
	prompts map[string]string
}

func (f *fakePrompts) ActivePrompt(_ context.Context, category string) string {
	return f.prompts[category]
}

type fakeDocRepo struct {
	docs       map[string]*domain.Document
	created    []*domain.Document
	statuses   []domain.DocumentStatus
	lastErrMsg string
	chunkCount int
	createErr  error
	statusErr  error
}

func (f *fakeDocRepo) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	if f.docs == nil {
		f.docs = map[string]*domain.Document{}
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	return doc, nil
}

func (f *fakeDocRepo) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	f.lastErrMsg = errMessage
	return nil
}

func (f *fakeDocRepo) SetChunkCount(_ context.Context, _ string, count int) error {
	f.chunkCount = count
	return nil
}

type fakeStorage struct {
	saved   map[string][]byte
	saveErr error
}

func (f *fakeStorage) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = raw
	return nil
}

func (f *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type fakeQueue struct {
	published []string
	err       error
}

func (f *fakeQueue) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *fakeQueue) SubscribeDocumentIngested(_ context.Context, _ func(context.Context, string) error) error {
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, _ *domain.Document) (string, error) {
	return f.text, f.err
}

type fakeChunker struct {
	chunks []string
}

func (f *fakeChunker) Split(_ string) []string {
	return f.chunks
}
