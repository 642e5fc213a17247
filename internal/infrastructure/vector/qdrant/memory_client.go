package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// MemoryStore keeps prior-conversation summaries in their own collection
// so cross-conversation recall can never mix into document evidence.
type MemoryStore struct {
	store *Store
}

func NewMemoryStore(store *Store) *MemoryStore {
	return &MemoryStore{store: store}
}

func (m *MemoryStore) IndexSummary(ctx context.Context, summary domain.MemorySummary, vector []float32) error {
	payload := map[string]any{
		"summary":         summary.Summary,
		"tenant_id":       summary.TenantID,
		"conversation_id": summary.ConversationID,
		"created_at_unix": summary.CreatedAt.Unix(),
	}
	if summary.CustomerID != "" {
		payload["customer_id"] = summary.CustomerID
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(summary.ID),
		Vectors: qdrant.NewVectorsDense(vector),
		Payload: qdrant.NewValueMap(payload),
	}

	return m.store.execute(ctx, "qdrant.memory_upsert", func(ctx context.Context) error {
		_, err := m.store.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: m.store.cfg.MemoryCollection,
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert memory summary: %w", err)
		}
		return nil
	})
}

// SearchSummaries retrieves summaries of other conversations in the same
// tenant (and customer, when given). The active conversation is excluded;
// its raw turns are already in the prompt.
func (m *MemoryStore) SearchSummaries(ctx context.Context, tenantID, customerID, excludeConversationID string, queryVector []float32, limit int) ([]domain.MemoryHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	must := []*qdrant.Condition{qdrant.NewMatch("tenant_id", tenantID)}
	if customerID != "" {
		must = append(must, qdrant.NewMatch("customer_id", customerID))
	}
	filter := &qdrant.Filter{Must: must}
	if excludeConversationID != "" {
		filter.MustNot = []*qdrant.Condition{qdrant.NewMatch("conversation_id", excludeConversationID)}
	}

	fetchLimit := uint64(limit)
	var scored []*qdrant.ScoredPoint
	err := m.store.execute(ctx, "qdrant.memory_query", func(ctx context.Context) error {
		var err error
		scored, err = m.store.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: m.store.cfg.MemoryCollection,
			Query:          qdrant.NewQueryDense(queryVector),
			Filter:         filter,
			Limit:          &fetchLimit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant: query memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant.memory_search", err)
	}

	out := make([]domain.MemoryHit, 0, len(scored))
	for _, sp := range scored {
		summary := domain.MemorySummary{ID: sp.Id.GetUuid()}
		if v, ok := sp.Payload["summary"]; ok {
			summary.Summary = v.GetStringValue()
		}
		if v, ok := sp.Payload["tenant_id"]; ok {
			summary.TenantID = v.GetStringValue()
		}
		if v, ok := sp.Payload["customer_id"]; ok {
			summary.CustomerID = v.GetStringValue()
		}
		if v, ok := sp.Payload["conversation_id"]; ok {
			summary.ConversationID = v.GetStringValue()
		}
		if v, ok := sp.Payload["created_at_unix"]; ok {
			summary.CreatedAt = time.Unix(v.GetIntegerValue(), 0).UTC()
		}
		out = append(out, domain.MemoryHit{Summary: summary, Score: float64(sp.Score)})
	}
	return out, nil
}
