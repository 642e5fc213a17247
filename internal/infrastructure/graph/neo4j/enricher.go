package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

const extractionPromptTemplate = `Extract the named entities and their relationships from the text below.
Respond with a JSON object of this shape and nothing else:
{"entities":[{"name":"...","type":"...","description":"..."}],"relationships":[{"source":"...","target":"...","description":"..."}]}
Entity types: organization, person, standard, account, process, document.
Use short canonical names. Skip generic words.

Text:
%s`

const maxExtractionChars = 6000

// Enricher maintains a per-workspace entity graph in Neo4j. Every node
// and relationship carries a workspace property, so tenants and
// customers can never see across each other even inside one database.
// Writes into one workspace are serialized; concurrent MERGE on the
// same entity name would otherwise create duplicate nodes.
type Enricher struct {
	driver    neo4j.DriverWithContext
	generator ports.Generator
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEnricher(driver neo4j.DriverWithContext, generator ports.Generator, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{driver: driver, generator: generator, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (e *Enricher) workspaceLock(workspace string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[workspace]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[workspace] = lock
	}
	return lock
}

type extraction struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Relationships []struct {
		Source      string `json:"source"`
		Target      string `json:"target"`
		Description string `json:"description"`
	} `json:"relationships"`
}

// Insert extracts entities from the text with the model and merges them
// into the workspace subgraph. It returns a tracking id for the batch.
func (e *Enricher) Insert(ctx context.Context, workspace, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if len(text) > maxExtractionChars {
		text = text[:maxExtractionChars]
	}

	raw, err := e.generator.GenerateJSON(ctx, fmt.Sprintf(extractionPromptTemplate, text))
	if err != nil {
		return "", fmt.Errorf("graph extraction: %w", err)
	}

	var parsed extraction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("graph extraction: decode model output: %w", err)
	}
	if len(parsed.Entities) == 0 {
		return "", nil
	}

	lock := e.workspaceLock(workspace)
	lock.Lock()
	defer lock.Unlock()

	batchID := uuid.NewString()
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, ent := range parsed.Entities {
			name := strings.TrimSpace(ent.Name)
			if name == "" {
				continue
			}
			_, err := tx.Run(ctx, `
				MERGE (e:Entity {workspace: $workspace, name: $name})
				SET e.type = $type,
				    e.description = $description,
				    e.batch_id = $batch`,
				map[string]any{
					"workspace":   workspace,
					"name":        name,
					"type":        ent.Type,
					"description": ent.Description,
					"batch":       batchID,
				})
			if err != nil {
				return nil, err
			}
		}
		for _, rel := range parsed.Relationships {
			source := strings.TrimSpace(rel.Source)
			target := strings.TrimSpace(rel.Target)
			if source == "" || target == "" {
				continue
			}
			_, err := tx.Run(ctx, `
				MATCH (a:Entity {workspace: $workspace, name: $source})
				MATCH (b:Entity {workspace: $workspace, name: $target})
				MERGE (a)-[r:RELATED_TO]->(b)
				SET r.description = $description`,
				map[string]any{
					"workspace":   workspace,
					"source":      source,
					"target":      target,
					"description": rel.Description,
				})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("graph insert: %w", err)
	}
	return batchID, nil
}

// QueryHints matches question tokens against entity names in the
// workspace and returns the matched entities with their one-hop
// neighborhood.
func (e *Enricher) QueryHints(ctx context.Context, workspace, question string, topK int) (domain.GraphHints, error) {
	hints := domain.GraphHints{Workspace: workspace}

	tokens := questionTokens(question)
	if len(tokens) == 0 || topK <= 0 {
		return hints, nil
	}

	session := e.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {workspace: $workspace})
			WHERE any(token IN $tokens WHERE toLower(e.name) CONTAINS token)
			OPTIONAL MATCH (e)-[r:RELATED_TO]-(n:Entity {workspace: $workspace})
			RETURN e.name AS name, e.type AS type, e.description AS description,
			       n.name AS neighbor, r.description AS relation
			LIMIT $limit`,
			map[string]any{
				"workspace": workspace,
				"tokens":    tokens,
				"limit":     topK * 4,
			})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return hints, fmt.Errorf("graph query: %w", err)
	}

	seenEntities := make(map[string]bool)
	seenRelations := make(map[string]bool)
	for _, rec := range records.([]*neo4j.Record) {
		name := stringValue(rec, "name")
		if name == "" {
			continue
		}
		if !seenEntities[name] && len(hints.Entities) < topK {
			seenEntities[name] = true
			hints.Entities = append(hints.Entities, domain.GraphEntity{
				Name:        name,
				Type:        stringValue(rec, "type"),
				Description: stringValue(rec, "description"),
			})
			hints.Keywords = append(hints.Keywords, name)
		}
		neighbor := stringValue(rec, "neighbor")
		if neighbor == "" {
			continue
		}
		key := name + "|" + neighbor
		if seenRelations[key] || len(hints.Relationships) >= topK {
			continue
		}
		seenRelations[key] = true
		hints.Relationships = append(hints.Relationships, domain.GraphRelationship{
			Source:      name,
			Target:      neighbor,
			Description: stringValue(rec, "relation"),
		})
	}
	return hints, nil
}

func (e *Enricher) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func questionTokens(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 4 {
			continue
		}
		out = append(out, f)
	}
	return out
}
