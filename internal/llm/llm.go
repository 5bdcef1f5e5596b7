// Package llm defines the language-model collaborators of the pipeline and
// their Vertex AI and keyword-based implementations.
package llm

import (
	"context"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// SectionCandidate is one classifier proposal before validation. Label is
// free text mapped onto the taxonomy by the coordinator.
type SectionCandidate struct {
	Label      string  `json:"type"`
	Pages      []int   `json:"pages"`
	Confidence float64 `json:"confidence"`
}

type Classifier interface {
	Classify(ctx context.Context, doc *models.ParsedDocument) ([]SectionCandidate, error)
}

// SectionInput is the extraction request for one section.
type SectionInput struct {
	DocumentID string
	Section    models.ClassifiedSection
	Text       string
	Fields     []models.FieldSpec
}

// RawField is one extracted value with the extractor's own confidence. Team
// members are keyed "team[i].x" with i local to the section.
type RawField struct {
	Value      models.FieldValue
	Confidence float64
}

type Extractor interface {
	Extract(ctx context.Context, in SectionInput) (map[string]RawField, error)
}

// SummaryInput carries the classified sections and merged facts.
type SummaryInput struct {
	DocumentID  string
	Sections    []models.ClassifiedSection
	Information models.ExtractedInformation
}

type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (*models.Summary, error)
}

// FieldsFor lists the catalog fields an extractor should look for in a
// section of the given type. Every section may carry the company identity.
func FieldsFor(t models.SectionType) []models.FieldSpec {
	prefixes := map[models.SectionType][]string{
		models.SectionProblem:       {"company."},
		models.SectionSolution:      {"company.", "market.target_customer"},
		models.SectionMarket:        {"company.", "market."},
		models.SectionBusinessModel: {"company.", "financials.revenue", "market.target_customer"},
		models.SectionTeam:          {"company.", "team[]."},
		models.SectionTraction:      {"company.", "traction.", "financials.revenue"},
		models.SectionFinancials:    {"company.", "financials.", "traction.growth_rate"},
		models.SectionCompetition:   {"company.", "market."},
		models.SectionAsk:           {"company.", "ask.", "financials.funding_raised", "financials.runway_months"},
	}
	want, ok := prefixes[t]
	if !ok {
		return append([]models.FieldSpec(nil), models.Catalog...)
	}
	var out []models.FieldSpec
	for _, spec := range models.Catalog {
		for _, p := range want {
			if len(spec.Path) >= len(p) && spec.Path[:len(p)] == p {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}
