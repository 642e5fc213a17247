package domain

import "time"

// ConversationTurn is one raw message in the active transcript.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the three-layer memory handed to the pipeline:
// rolling summary, last raw turns, and semantically retrieved snippets
// from prior conversations.
type ConversationState struct {
	ConversationID string             `json:"conversation_id"`
	RollingSummary string             `json:"rolling_summary,omitempty"`
	LastTurns      []ConversationTurn `json:"last_turns,omitempty"`
	MemoryHits     []MemoryHit        `json:"memory_hits,omitempty"`
}

// MemorySummary is a persisted summary of a past conversation span.
type MemorySummary struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	CustomerID     string    `json:"customer_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemoryHit is a semantically similar prior-conversation snippet.
type MemoryHit struct {
	Summary MemorySummary `json:"summary"`
	Score   float64       `json:"score"`
}
