package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

type fakeQueryService struct {
	result  *domain.QueryResult
	err     error
	lastReq ports.QueryRequest
}

func (f *fakeQueryService) Query(_ context.Context, req ports.QueryRequest) (*domain.QueryResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeQueryService) EvidenceOnly(_ context.Context, req ports.QueryRequest) (*ports.EvidenceResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ports.EvidenceResult{Evidence: f.result.Evidence}, nil
}

type fakeIngestor struct {
	doc     *domain.Document
	err     error
	lastReq ports.UploadRequest
}

func (f *fakeIngestor) Upload(_ context.Context, req ports.UploadRequest) (*domain.Document, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fakeReader struct {
	doc *domain.Document
	err error
}

func (f *fakeReader) GetByID(_ context.Context, _ string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func newTestRouter(query *fakeQueryService, ingestor *fakeIngestor, reader *fakeReader) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(query, ingestor, reader, nil, logger).Handler()
}

func postQuery(t *testing.T, handler http.Handler, path string, body map[string]any, withHeaders bool) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if withHeaders {
		req.Header.Set(actorIDHeader, "actor-1")
		req.Header.Set(tenantIDHeader, "tenant-1")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRAGQueryPassesIdentityHeaders(t *testing.T) {
	query := &fakeQueryService{result: &domain.QueryResult{Answer: "done"}}
	handler := newTestRouter(query, &fakeIngestor{}, &fakeReader{})

	rec := postQuery(t, handler, "/v1/rag/query", map[string]any{
		"question":              "What is the sampling basis?",
		"include_customer_docs": true,
		"customer_id":           "cust-9",
	}, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if query.lastReq.ActorID != "actor-1" || query.lastReq.TenantID != "tenant-1" {
		t.Fatalf("identity not forwarded: %+v", query.lastReq)
	}
	if query.lastReq.CustomerID != "cust-9" || !query.lastReq.IncludeCustomerDocs {
		t.Fatalf("payload not forwarded: %+v", query.lastReq)
	}
}

func TestRAGQueryRequiresIdentityHeaders(t *testing.T) {
	handler := newTestRouter(&fakeQueryService{result: &domain.QueryResult{}}, &fakeIngestor{}, &fakeReader{})

	rec := postQuery(t, handler, "/v1/rag/query", map[string]any{"question": "q"}, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRAGQueryMapsAccessDenied(t *testing.T) {
	query := &fakeQueryService{err: domain.WrapError(domain.ErrAccessDenied, "policy", domain.ErrAccessDenied)}
	handler := newTestRouter(query, &fakeIngestor{}, &fakeReader{})

	rec := postQuery(t, handler, "/v1/rag/query", map[string]any{"question": "q"}, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRAGQueryMapsMalformedQuery(t *testing.T) {
	query := &fakeQueryService{err: domain.WrapError(domain.ErrMalformedQuery, "validate", domain.ErrMalformedQuery)}
	handler := newTestRouter(query, &fakeIngestor{}, &fakeReader{})

	rec := postQuery(t, handler, "/v1/rag/query", map[string]any{"question": ""}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvidenceEndpointReturnsEvidenceOnly(t *testing.T) {
	query := &fakeQueryService{result: &domain.QueryResult{
		Evidence: []domain.EvidenceItem{{Citation: "scope=ADMIN_LAW source=a.pdf chunk=1"}},
	}}
	handler := newTestRouter(query, &fakeIngestor{}, &fakeReader{})

	rec := postQuery(t, handler, "/v1/rag/evidence", map[string]any{"question": "q", "include_admin_laws": true}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out ports.EvidenceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Evidence) != 1 {
		t.Fatalf("evidence = %+v", out.Evidence)
	}
}

func TestUploadDocumentBindsFormFields(t *testing.T) {
	ingestor := &fakeIngestor{doc: &domain.Document{ID: "doc-1", Status: domain.StatusUploaded}}
	handler := newTestRouter(&fakeQueryService{result: &domain.QueryResult{}}, ingestor, &fakeReader{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "contract.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("pdf bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = form.WriteField("scope", "CUSTOMER_DOC")
	_ = form.WriteField("customer_id", "cust-9")
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set(actorIDHeader, "actor-1")
	req.Header.Set(tenantIDHeader, "tenant-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ingestor.lastReq.Scope != domain.ScopeCustomerDoc || ingestor.lastReq.CustomerID != "cust-9" {
		t.Fatalf("upload request = %+v", ingestor.lastReq)
	}
	if ingestor.lastReq.OwnerID != "actor-1" || ingestor.lastReq.TenantID != "tenant-1" {
		t.Fatalf("identity not bound: %+v", ingestor.lastReq)
	}
}

func TestGetDocumentMapsNotFound(t *testing.T) {
	reader := &fakeReader{err: domain.WrapError(domain.ErrDocumentNotFound, "repo", domain.ErrDocumentNotFound)}
	handler := newTestRouter(&fakeQueryService{result: &domain.QueryResult{}}, &fakeIngestor{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "document not found") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	handler := newTestRouter(&fakeQueryService{result: &domain.QueryResult{}}, &fakeIngestor{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}
}
