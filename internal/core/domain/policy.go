package domain

import "time"

// Role is the caller's access class.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
	RoleGuest    Role = "guest"
)

// PolicyDecision is the gate's output. Never mutated after creation.
// Invariant: Allowed=false implies every ceiling is zero and both lists
// are empty.
type PolicyDecision struct {
	Allowed            bool     `json:"allowed"`
	AllowedScopes      []Scope  `json:"allowed_scopes"`
	AllowedCustomerIDs []string `json:"allowed_customer_ids"`
	MaxCandidates      int      `json:"max_candidates"`
	MaxContextChars    int      `json:"max_context_chars"`
	RateLimitRemaining int      `json:"rate_limit_remaining"`
	Reason             string   `json:"reason"`
}

// ScopeAllowed reports whether the decision grants the given scope.
func (d PolicyDecision) ScopeAllowed(scope Scope) bool {
	for _, s := range d.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CustomerAllowed reports whether the decision grants the given customer.
func (d PolicyDecision) CustomerAllowed(customerID string) bool {
	for _, id := range d.AllowedCustomerIDs {
		if id == customerID {
			return true
		}
	}
	return false
}

// AuditEntry records one policy evaluation, allow or deny.
type AuditEntry struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ActorID         string    `json:"actor_id"`
	TenantID        string    `json:"tenant_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	Action          string    `json:"action"`
	RequestedScopes []Scope   `json:"requested_scopes"`
	GrantedScopes   []Scope   `json:"granted_scopes"`
	Decision        string    `json:"decision"`
	Reason          string    `json:"reason"`
}
