package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
	"github.com/auditgrid/audit-assistant/internal/observability/metrics"
)

const serviceName = "api"

// Identity headers are set by the authenticating gateway in front of
// this service; the policy gate resolves the role and assignments.
const (
	actorIDHeader  = "X-Actor-Id"
	tenantIDHeader = "X-Tenant-Id"
)

type Router struct {
	query    ports.AuditQueryService
	ingestor ports.DocumentIngestor
	reader   ports.DocumentReader
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
}

func NewRouter(
	query ports.AuditQueryService,
	ingestor ports.DocumentIngestor,
	reader ports.DocumentReader,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		query:    query,
		ingestor: ingestor,
		reader:   reader,
		metrics:  m,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/rag/query", rt.ragQuery)
	mux.HandleFunc("/v1/rag/evidence", rt.ragEvidence)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryPayload struct {
	Question            string                    `json:"question"`
	CustomerID          string                    `json:"customer_id"`
	IncludeAdminLaws    bool                      `json:"include_admin_laws"`
	IncludeCustomerDocs bool                      `json:"include_customer_docs"`
	Mode                string                    `json:"mode"`
	TopK                int                       `json:"top_k"`
	Temperature         float64                   `json:"temperature"`
	Conversation        []domain.ConversationTurn `json:"conversation"`
	ConversationID      string                    `json:"conversation_id"`
}

func (rt *Router) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (ports.QueryRequest, bool) {
	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return ports.QueryRequest{}, false
	}

	actorID := strings.TrimSpace(r.Header.Get(actorIDHeader))
	tenantID := strings.TrimSpace(r.Header.Get(tenantIDHeader))
	if actorID == "" || tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "X-Actor-Id and X-Tenant-Id headers are required",
		})
		return ports.QueryRequest{}, false
	}

	return ports.QueryRequest{
		Question:            payload.Question,
		ActorID:             actorID,
		TenantID:            tenantID,
		CustomerID:          payload.CustomerID,
		IncludeAdminLaws:    payload.IncludeAdminLaws,
		IncludeCustomerDocs: payload.IncludeCustomerDocs,
		Mode:                payload.Mode,
		TopK:                payload.TopK,
		Temperature:         payload.Temperature,
		Conversation:        payload.Conversation,
		ConversationID:      payload.ConversationID,
	}, true
}

func (rt *Router) ragQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, ok := rt.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := rt.query.Query(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, "/v1/rag/query", err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordQuery(serviceName, "/v1/rag/query",
			result.Metadata.Intent, result.Metadata.EvidenceCount,
			result.GroundingScore, time.Since(start))
		rt.metrics.RecordDegradedStages(serviceName, result.Metadata.DegradedStages)
		if result.Metadata.GenerationFailed {
			rt.metrics.RecordGenerationFailure(serviceName, "/v1/rag/query")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) ragEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, ok := rt.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	result, err := rt.query.EvidenceOnly(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, "/v1/rag/evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	actorID := strings.TrimSpace(r.Header.Get(actorIDHeader))
	tenantID := strings.TrimSpace(r.Header.Get(tenantIDHeader))
	if actorID == "" || tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "X-Actor-Id and X-Tenant-Id headers are required",
		})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingestor.Upload(r.Context(), ports.UploadRequest{
		Filename:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		Scope:      domain.Scope(r.FormValue("scope")),
		TenantID:   tenantID,
		CustomerID: r.FormValue("customer_id"),
		OwnerID:    actorID,
		Body:       file,
	})
	if err != nil {
		rt.writeError(w, r, "/v1/documents", err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, "/v1/documents/{document_id}", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status == http.StatusForbidden && rt.metrics != nil {
		rt.metrics.RecordPolicyDenial(serviceName, endpoint)
	}
	if status >= 500 {
		rt.logger.Error("request failed",
			"request_id", requestIDFromContext(r.Context()),
			"endpoint", endpoint, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
