package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
)

// IdentityRepository resolves actor roles and employee-customer
// assignments from the actors tables.
type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) ActorRole(ctx context.Context, actorID string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx, `SELECT role FROM actors WHERE id = $1`, actorID)

	var role string
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("actor %s not found", actorID)
		}
		return "", fmt.Errorf("scan actor role: %w", err)
	}
	return domain.Role(role), nil
}

func (r *IdentityRepository) AssignedCustomers(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT customer_id FROM actor_customers WHERE actor_id = $1 ORDER BY customer_id
`, actorID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
