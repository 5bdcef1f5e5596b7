package parse

import (
	"context"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Parser turns raw bytes of a validated upload into pages.
type Parser interface {
	Parse(ctx context.Context, format models.Format, data []byte) (*models.ParsedDocument, error)
}

// Router dispatches on the declared format.
type Router struct {
	PDF  Parser
	PPTX Parser
}

// NewRouter wires the built-in parsers.
func NewRouter() *Router {
	return &Router{PDF: &PDFParser{}, PPTX: &PPTXParser{}}
}

func (r *Router) Parse(ctx context.Context, format models.Format, data []byte) (*models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch format {
	case models.FormatPDF:
		return r.PDF.Parse(ctx, format, data)
	case models.FormatPPTX:
		return r.PPTX.Parse(ctx, format, data)
	case models.FormatPPT:
		return nil, &models.ParseError{Format: format, Reason: "legacy binary presentations must be converted to pptx"}
	}
	return nil, &models.ParseError{Format: format, Reason: "unsupported format"}
}

// assemble fills in the raw text and titles from the pages.
func assemble(pages []models.Page) *models.ParsedDocument {
	var raw strings.Builder
	for i := range pages {
		p := &pages[i]
		if p.Layout.Title == "" {
			p.Layout.Title = firstLine(p.Text)
		}
		if p.Text == "" {
			continue
		}
		if raw.Len() > 0 {
			raw.WriteString("\n\n")
		}
		raw.WriteString(p.Text)
	}
	return &models.ParsedDocument{Pages: pages, RawText: raw.String()}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 200 {
			line = string(r[:200])
		}
		return line
	}
	return ""
}
