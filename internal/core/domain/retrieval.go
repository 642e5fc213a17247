package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope partitions the document corpus: shared standards/laws vs
// per-customer uploaded evidence.
type Scope string

const (
	ScopeAdminLaw    Scope = "ADMIN_LAW"
	ScopeCustomerDoc Scope = "CUSTOMER_DOC"
)

func (s Scope) Valid() bool {
	return s == ScopeAdminLaw || s == ScopeCustomerDoc
}

// SourceKind records which retrieval channel produced a candidate.
type SourceKind string

const (
	SourceDense  SourceKind = "dense"
	SourceSparse SourceKind = "sparse"
	SourceGraph  SourceKind = "graph"
	SourceMemory SourceKind = "memory"
)

// EvidenceCandidate is one retrieved unit before fusion. Scores are
// comparable within one source but not bounded to [0,1] across sources.
type EvidenceCandidate struct {
	Source     SourceKind `json:"source"`
	Scope      Scope      `json:"scope"`
	Score      float64    `json:"score"`
	DocumentID string     `json:"document_id"`
	ChunkIndex int        `json:"chunk_index"`
	Text       string     `json:"text,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	TenantID   string     `json:"tenant_id,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
	OwnerID    string     `json:"owner_id,omitempty"`
}

// EvidenceItem is the final citable unit: a contiguous chunk range
// expanded around a retrieved seed.
type EvidenceItem struct {
	Scope      Scope   `json:"scope"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename,omitempty"`
	OffsetFrom int     `json:"offset_from"`
	OffsetTo   int     `json:"offset_to"`
	SeedOffset int     `json:"seed_offset"`
	Text       string  `json:"text"`
	Citation   string  `json:"citation"`
	Score      float64 `json:"score"`
	CustomerID string  `json:"customer_id,omitempty"`
	OwnerID    string  `json:"owner_id,omitempty"`
}

// FormatCitation builds the stable citation string the generation prompt
// reproduces verbatim. Source falls back from filename to document id.
func FormatCitation(scope Scope, filename, documentID string, from, to int) string {
	src := filename
	if src == "" {
		src = documentID
	}
	if src == "" {
		src = "unknown_source"
	}
	if from == to {
		return fmt.Sprintf("scope=%s source=%s chunk=%d", scope, src, from)
	}
	return fmt.Sprintf("scope=%s source=%s chunks=%d-%d", scope, src, from, to)
}

// ParseCitation is the inverse of FormatCitation. It returns the scope,
// source name, and seed offset range encoded in a citation string.
func ParseCitation(citation string) (scope Scope, source string, from, to int, err error) {
	fields := strings.Fields(citation)
	vals := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return "", "", 0, 0, fmt.Errorf("parse citation %q: bad field %q", citation, f)
		}
		vals[k] = v
	}

	scope = Scope(vals["scope"])
	if !scope.Valid() {
		return "", "", 0, 0, fmt.Errorf("parse citation %q: unknown scope", citation)
	}
	source = vals["source"]
	if source == "" {
		return "", "", 0, 0, fmt.Errorf("parse citation %q: missing source", citation)
	}

	switch {
	case vals["chunk"] != "":
		n, convErr := strconv.Atoi(vals["chunk"])
		if convErr != nil {
			return "", "", 0, 0, fmt.Errorf("parse citation %q: %w", citation, convErr)
		}
		return scope, source, n, n, nil
	case vals["chunks"] != "":
		lo, hi, ok := strings.Cut(vals["chunks"], "-")
		if !ok {
			return "", "", 0, 0, fmt.Errorf("parse citation %q: bad chunk range", citation)
		}
		from, err = strconv.Atoi(lo)
		if err == nil {
			to, err = strconv.Atoi(hi)
		}
		if err != nil {
			return "", "", 0, 0, fmt.Errorf("parse citation %q: %w", citation, err)
		}
		return scope, source, from, to, nil
	default:
		return "", "", 0, 0, fmt.Errorf("parse citation %q: missing chunk reference", citation)
	}
}

// GraphHints is the non-authoritative second signal from the knowledge
// graph. Hints steer prompt framing; they are never cited as evidence.
type GraphHints struct {
	Workspace     string              `json:"workspace"`
	Keywords      []string            `json:"keywords,omitempty"`
	Entities      []GraphEntity       `json:"entities,omitempty"`
	Relationships []GraphRelationship `json:"relationships,omitempty"`
}

func (h GraphHints) Empty() bool {
	return len(h.Keywords) == 0 && len(h.Entities) == 0 && len(h.Relationships) == 0
}

type GraphEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

type GraphRelationship struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
}

// GroundingResult carries the generated answer plus the verdict of the
// evidence-support check. Ephemeral: produced once per query.
type GroundingResult struct {
	Answer      string   `json:"answer"`
	Grounded    bool     `json:"grounded"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// QueryResult is the pipeline's public response shape.
type QueryResult struct {
	Answer         string         `json:"answer"`
	Evidence       []EvidenceItem `json:"evidence"`
	SourcesUsed    []string       `json:"sources_used"`
	GraphHints     []GraphHints   `json:"graph_hints,omitempty"`
	GroundingScore float64        `json:"grounding_score"`
	Metadata       QueryMetadata  `json:"metadata"`
}

type QueryMetadata struct {
	Intent           string   `json:"intent"`
	EvidenceCount    int      `json:"evidence_count"`
	SubQueries       int      `json:"sub_queries"`
	DegradedStages   []string `json:"degraded_stages,omitempty"`
	GenerationFailed bool     `json:"generation_failed,omitempty"`
}
