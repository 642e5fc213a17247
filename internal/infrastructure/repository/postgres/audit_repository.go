package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// AuditRepository appends policy evaluation records. Writes are single
// inserts; the caller treats failures as best-effort.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO policy_audit_log (
	id, occurred_at, actor_id, tenant_id, customer_id, action, requested_scopes, granted_scopes, decision, reason
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		entry.ID, entry.Timestamp, entry.ActorID, entry.TenantID, entry.CustomerID, entry.Action,
		joinScopes(entry.RequestedScopes), joinScopes(entry.GrantedScopes), entry.Decision, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func joinScopes(scopes []domain.Scope) string {
	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}
