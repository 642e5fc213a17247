package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

type roleLimits struct {
	maxCandidates   int
	maxContextChars int
	ratePerHour     int
}

// Guests carry no limits row: they are denied before quotas apply.
var limitsByRole = map[domain.Role]roleLimits{
	domain.RoleAdmin:    {maxCandidates: 20, maxContextChars: 16000, ratePerHour: 1000},
	domain.RoleEmployee: {maxCandidates: 15, maxContextChars: 12000, ratePerHour: 500},
	domain.RoleCustomer: {maxCandidates: 10, maxContextChars: 8000, ratePerHour: 100},
}

// PolicyGate decides, before any retrieval, which scopes and customers a
// caller may touch and how much the pipeline may spend on them. Every
// evaluation is recorded to the audit sink, allow or deny.
//
// An admin may be granted CUSTOMER_DOC with an empty customer list; that
// means tenant-wide access. Every other role either gets an explicit
// customer list or is denied the scope.
type PolicyGate struct {
	identity ports.Identity
	audit    ports.AuditSink
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewPolicyGate(identity ports.Identity, audit ports.AuditSink, logger *slog.Logger) *PolicyGate {
	return &PolicyGate{
		identity: identity,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
		windows:  make(map[string][]time.Time),
	}
}

// Evaluate gates one query. A deny returns a typed access error together
// with the (fully zeroed) decision for logging.
func (g *PolicyGate) Evaluate(ctx context.Context, req ports.QueryRequest, action string) (domain.PolicyDecision, error) {
	requested := requestedScopes(req)

	role, err := g.resolveRole(ctx, req.ActorID)
	if err != nil {
		decision := deniedDecision("identity unresolved")
		g.record(ctx, req, action, requested, decision)
		return decision, domain.WrapError(domain.ErrAccessDenied, "policy.evaluate", err)
	}
	if role == domain.RoleGuest {
		decision := deniedDecision("guests are denied")
		g.record(ctx, req, action, requested, decision)
		return decision, domain.WrapError(domain.ErrAccessDenied, "policy.evaluate",
			fmt.Errorf("actor %q: guests are denied", req.ActorID))
	}
	limits := limitsByRole[role]

	remaining, ok := g.consumeRate(req.ActorID, limits.ratePerHour)
	if !ok {
		decision := deniedDecision("rate limit exceeded")
		g.record(ctx, req, action, requested, decision)
		return decision, domain.WrapError(domain.ErrAccessDenied, "policy.evaluate",
			fmt.Errorf("actor %s: rate limit exceeded", req.ActorID))
	}

	granted, customers, reason := g.grantScopes(ctx, role, req, requested)
	if len(granted) == 0 {
		decision := deniedDecision(reason)
		g.record(ctx, req, action, requested, decision)
		return decision, domain.WrapError(domain.ErrAccessDenied, "policy.evaluate",
			fmt.Errorf("actor %s: %s", req.ActorID, reason))
	}

	decision := domain.PolicyDecision{
		Allowed:            true,
		AllowedScopes:      granted,
		AllowedCustomerIDs: customers,
		MaxCandidates:      limits.maxCandidates,
		MaxContextChars:    limits.maxContextChars,
		RateLimitRemaining: remaining,
		Reason:             reason,
	}
	g.record(ctx, req, action, requested, decision)
	return decision, nil
}

// resolveRole maps the actor to a known role. A failed lookup is an
// error, not a downgrade: the gate fails closed. Unknown role values
// collapse to guest, which Evaluate denies.
func (g *PolicyGate) resolveRole(ctx context.Context, actorID string) (domain.Role, error) {
	if actorID == "" {
		return domain.RoleGuest, nil
	}
	role, err := g.identity.ActorRole(ctx, actorID)
	if err != nil {
		g.logger.Warn("identity lookup failed, denying request",
			slog.String("actor_id", actorID), slog.String("error", err.Error()))
		return "", fmt.Errorf("actor %s: identity lookup: %w", actorID, err)
	}
	if _, ok := limitsByRole[role]; !ok {
		return domain.RoleGuest, nil
	}
	return role, nil
}

func (g *PolicyGate) grantScopes(ctx context.Context, role domain.Role, req ports.QueryRequest, requested []domain.Scope) (scopes []domain.Scope, customers []string, reason string) {
	wantsAdminLaw := containsScope(requested, domain.ScopeAdminLaw)
	wantsCustomer := containsScope(requested, domain.ScopeCustomerDoc)

	// The law pool is staff-only. Customer accounts see their own
	// documents and nothing else.
	if wantsAdminLaw && role != domain.RoleCustomer {
		scopes = append(scopes, domain.ScopeAdminLaw)
	}

	if !wantsCustomer {
		if len(scopes) == 0 {
			return nil, nil, "admin laws are not available to customer accounts"
		}
		return scopes, nil, "granted"
	}

	switch role {
	case domain.RoleAdmin:
		scopes = append(scopes, domain.ScopeCustomerDoc)
		if req.CustomerID != "" {
			customers = []string{req.CustomerID}
		}
		return scopes, customers, "granted"

	default: // employee or customer, both bound to explicit assignments
		assigned, err := g.identity.AssignedCustomers(ctx, req.ActorID)
		if err != nil {
			g.logger.Warn("assignment lookup failed, denying customer scope",
				slog.String("actor_id", req.ActorID), slog.String("error", err.Error()))
			if len(scopes) == 0 {
				return nil, nil, "assignment lookup failed"
			}
			return scopes, nil, "customer scope denied: assignment lookup failed"
		}
		if req.CustomerID != "" {
			if !containsString(assigned, req.CustomerID) {
				if len(scopes) == 0 {
					return nil, nil, fmt.Sprintf("customer %s not assigned", req.CustomerID)
				}
				return scopes, nil, fmt.Sprintf("customer scope denied: customer %s not assigned", req.CustomerID)
			}
			scopes = append(scopes, domain.ScopeCustomerDoc)
			return scopes, []string{req.CustomerID}, "granted"
		}
		if len(assigned) == 0 {
			if len(scopes) == 0 {
				return nil, nil, "no customer assignments"
			}
			return scopes, nil, "customer scope denied: no assignments"
		}
		scopes = append(scopes, domain.ScopeCustomerDoc)
		return scopes, assigned, "granted"
	}
}

// consumeRate admits one request into the actor's rolling one-hour window
// and returns the remaining allowance.
func (g *PolicyGate) consumeRate(actorID string, limit int) (remaining int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-time.Hour)

	window := g.windows[actorID]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		g.windows[actorID] = kept
		return 0, false
	}
	kept = append(kept, now)
	g.windows[actorID] = kept
	return limit - len(kept), true
}

func (g *PolicyGate) record(ctx context.Context, req ports.QueryRequest, action string, requested []domain.Scope, decision domain.PolicyDecision) {
	entry := domain.AuditEntry{
		ID:              uuid.NewString(),
		Timestamp:       g.now().UTC(),
		ActorID:         req.ActorID,
		TenantID:        req.TenantID,
		CustomerID:      req.CustomerID,
		Action:          action,
		RequestedScopes: requested,
		GrantedScopes:   decision.AllowedScopes,
		Decision:        decisionLabel(decision.Allowed),
		Reason:          decision.Reason,
	}
	if err := g.audit.Append(ctx, entry); err != nil {
		g.logger.Error("audit append failed",
			slog.String("actor_id", req.ActorID),
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

func deniedDecision(reason string) domain.PolicyDecision {
	return domain.PolicyDecision{Allowed: false, Reason: reason}
}

func requestedScopes(req ports.QueryRequest) []domain.Scope {
	var scopes []domain.Scope
	if req.IncludeAdminLaws {
		scopes = append(scopes, domain.ScopeAdminLaw)
	}
	if req.IncludeCustomerDocs {
		scopes = append(scopes, domain.ScopeCustomerDoc)
	}
	if len(scopes) == 0 {
		scopes = []domain.Scope{domain.ScopeAdminLaw, domain.ScopeCustomerDoc}
	}
	return scopes
}

func containsScope(scopes []domain.Scope, s domain.Scope) bool {
	for _, v := range scopes {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
