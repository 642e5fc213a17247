package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/auditgrid/audit-assistant/internal/core/domain"
	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// Composite routes extraction by mime type, falling back to the file
// extension when the upload did not declare one.
type Composite struct {
	plaintext ports.TextExtractor
	pdf       ports.TextExtractor
	xlsx      ports.TextExtractor
}

func NewComposite(plaintext, pdf, xlsx ports.TextExtractor) *Composite {
	return &Composite{plaintext: plaintext, pdf: pdf, xlsx: xlsx}
}

func (c *Composite) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	switch kind(doc) {
	case "pdf":
		return c.pdf.Extract(ctx, doc)
	case "xlsx":
		return c.xlsx.Extract(ctx, doc)
	case "text":
		return c.plaintext.Extract(ctx, doc)
	default:
		return "", fmt.Errorf("unsupported document type %q (%s)", doc.MimeType, doc.Filename)
	}
}

func kind(doc *domain.Document) string {
	mime := strings.ToLower(strings.TrimSpace(doc.MimeType))
	switch {
	case mime == "application/pdf":
		return "pdf"
	case mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "text/markdown":
		return "text"
	}

	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".pdf":
		return "pdf"
	case ".xlsx", ".xlsm":
		return "xlsx"
	case ".txt", ".md", ".csv", ".json", ".log":
		return "text"
	}
	return ""
}
