package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Generator is the slice of *genai.GenerativeModel the adapters use.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

const (
	serviceName     = "vertexai"
	maxPageChars    = 2000
	maxPromptChars  = 60000
	maxSectionChars = 20000
)

var errEmptyResponse = errors.New("model returned an empty response")

// responseText gets the raw text content from the model response.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return CleanJSON(sb.String())
}

func generate(ctx context.Context, model Generator, op, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &models.ExternalServiceError{Service: serviceName, Op: op, Cause: err}
	}
	text := responseText(resp)
	if text == "" {
		return "", &models.ExternalServiceError{Service: serviceName, Op: op, Cause: errEmptyResponse}
	}
	return text, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// VertexClassifier asks Gemini to group pages into sections.
type VertexClassifier struct {
	model Generator
}

func NewVertexClassifier(model Generator) *VertexClassifier {
	return &VertexClassifier{model: model}
}

func (c *VertexClassifier) Classify(ctx context.Context, doc *models.ParsedDocument) ([]SectionCandidate, error) {
	var sb strings.Builder
	sb.WriteString(gcp.ClassifierUserPrompt)
	for _, p := range doc.Pages {
		fmt.Fprintf(&sb, "\n--- Page %d ---\n", p.Number)
		if p.Layout.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", p.Layout.Title)
		}
		sb.WriteString(truncate(p.Text, maxPageChars))
		sb.WriteByte('\n')
	}
	text, err := generate(ctx, c.model, "classify", truncate(sb.String(), maxPromptChars))
	if err != nil {
		return nil, err
	}
	candidates, err := DecodeClassification(text)
	if err != nil {
		return nil, &models.ExternalServiceError{Service: serviceName, Op: "classify", Cause: err}
	}
	return candidates, nil
}

// VertexExtractor asks Gemini for the catalog fields relevant to a section.
type VertexExtractor struct {
	model Generator
}

func NewVertexExtractor(model Generator) *VertexExtractor {
	return &VertexExtractor{model: model}
}

func (e *VertexExtractor) Extract(ctx context.Context, in SectionInput) (map[string]RawField, error) {
	var sb strings.Builder
	sb.WriteString(gcp.ExtractorUserPrompt)
	sb.WriteString("\nFields:\n")
	for _, f := range in.Fields {
		fmt.Fprintf(&sb, "- %s (%s)\n", f.Path, f.Kind)
	}
	fmt.Fprintf(&sb, "\nSection %s (pages %v):\n%s\n", in.Section.Type, in.Section.Pages, truncate(in.Text, maxSectionChars))

	text, err := generate(ctx, e.model, "extract", sb.String())
	if err != nil {
		return nil, err
	}
	fields, err := DecodeExtraction(text)
	if err != nil {
		return nil, &models.ExternalServiceError{Service: serviceName, Op: "extract", Cause: err}
	}
	return fields, nil
}

// VertexSummarizer writes the executive summary and investment flags.
type VertexSummarizer struct {
	model Generator
}

func NewVertexSummarizer(model Generator) *VertexSummarizer {
	return &VertexSummarizer{model: model}
}

func (s *VertexSummarizer) Summarize(ctx context.Context, in SummaryInput) (*models.Summary, error) {
	var sb strings.Builder
	sb.WriteString(gcp.SummarizerUserPrompt)
	for _, sec := range in.Sections {
		fmt.Fprintf(&sb, "\n--- Section %s ---\n%s\n", sec.Ref(), truncate(sec.Text, maxPageChars*2))
	}
	sb.WriteString("\nExtracted facts:\n")
	for _, f := range in.Information.Fields() {
		if !f.Value.IsNull() {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Value.Text())
		}
	}
	text, err := generate(ctx, s.model, "summarize", truncate(sb.String(), maxPromptChars))
	if err != nil {
		return nil, err
	}
	summary, err := DecodeSummary(text)
	if err != nil {
		return nil, &models.ExternalServiceError{Service: serviceName, Op: "summarize", Cause: err}
	}
	return summary, nil
}
