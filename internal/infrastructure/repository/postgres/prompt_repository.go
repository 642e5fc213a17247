package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
)

// PromptRepository serves the active system prompt per category. Lookup
// failures fall back to the empty string so a database hiccup can never
// block answer generation; the compiled-in default takes over.
type PromptRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPromptRepository(db *sql.DB, logger *slog.Logger) *PromptRepository {
	return &PromptRepository{db: db, logger: logger}
}

func (r *PromptRepository) ActivePrompt(ctx context.Context, category string) string {
	row := r.db.QueryRowContext(ctx, `
SELECT content FROM prompts WHERE category = $1 AND active
`, category)

	var content string
	if err := row.Scan(&content); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("active prompt lookup failed",
				slog.String("category", category), slog.String("error", err.Error()))
		}
		return ""
	}
	return content
}
