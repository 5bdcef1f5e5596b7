package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// DefaultFieldConfidence applies when the model returns a value without a
// confidence of its own.
const DefaultFieldConfidence = 0.5

// CleanJSON strips the markdown fences models sometimes wrap around JSON.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type classificationItem struct {
	Type        string  `json:"type"`
	SectionType string  `json:"section_type"`
	Category    string  `json:"category"`
	Pages       []int   `json:"pages"`
	PageNumbers []int   `json:"page_numbers"`
	Confidence  float64 `json:"confidence"`
}

// DecodeClassification accepts {"sections": [...]} or a bare array, with
// either key naming the model tends to use.
func DecodeClassification(text string) ([]SectionCandidate, error) {
	text = CleanJSON(text)
	var items []classificationItem
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("failed to parse classification array: %w", err)
		}
	} else {
		var wrapper struct {
			Sections []classificationItem `json:"sections"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse classification object: %w", err)
		}
		items = wrapper.Sections
	}
	out := make([]SectionCandidate, 0, len(items))
	for _, it := range items {
		label := firstNonEmpty(it.Type, it.SectionType, it.Category)
		pages := it.Pages
		if len(pages) == 0 {
			pages = it.PageNumbers
		}
		out = append(out, SectionCandidate{Label: label, Pages: pages, Confidence: confidence.Clamp(it.Confidence)})
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type fieldAnswer struct {
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence"`
	Currency   string          `json:"currency"`
}

// DecodeExtraction reads {"fields": {"path": {"value", "confidence",
// "currency"}}}. A bare object keyed by path, or bare values, are accepted
// too. Unknown paths and null values are dropped.
func DecodeExtraction(text string) (map[string]RawField, error) {
	text = CleanJSON(text)
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("failed to parse extraction object: %w", err)
	}
	if inner, ok := top["fields"]; ok {
		top = nil
		if err := json.Unmarshal(inner, &top); err != nil {
			return nil, fmt.Errorf("failed to parse extraction fields: %w", err)
		}
	}
	out := make(map[string]RawField, len(top))
	for path, raw := range top {
		spec, ok := models.SpecFor(path)
		if !ok {
			continue
		}
		if i, isTeam := models.TeamIndex(path); isTeam && i >= models.MaxTeamMembers {
			continue
		}
		answer := fieldAnswer{Value: raw}
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"value"`) {
			if err := json.Unmarshal(raw, &answer); err != nil {
				continue
			}
		}
		value := Coerce(spec.Kind, answer.Value, answer.Currency)
		if value.IsNull() {
			continue
		}
		conf := DefaultFieldConfidence
		if answer.Confidence != nil {
			conf = confidence.Clamp(*answer.Confidence)
		}
		out[path] = RawField{Value: value, Confidence: conf}
	}
	return out, nil
}

type summaryAnswer struct {
	Executive  *string  `json:"executiveSummary"`
	Highlights []string `json:"keyHighlights"`
	Sections   []struct {
		SectionType string  `json:"sectionType"`
		Ordinal     int     `json:"ordinal"`
		Summary     string  `json:"summary"`
		Confidence  float64 `json:"confidence"`
	} `json:"sectionSummaries"`
	GreenFlags     []string `json:"greenFlags"`
	RedFlags       []string `json:"redFlags"`
	YellowFlags    []string `json:"yellowFlags"`
	Recommendation string   `json:"recommendation"`
	Risk           struct {
		Market      string `json:"market"`
		Execution   string `json:"execution"`
		Financial   string `json:"financial"`
		Competitive string `json:"competitive"`
	} `json:"riskAssessment"`
	Confidence float64 `json:"confidence"`
}

// DecodeSummary reads the summarizer's JSON answer.
func DecodeSummary(text string) (*models.Summary, error) {
	var a summaryAnswer
	if err := json.Unmarshal([]byte(CleanJSON(text)), &a); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	s := &models.Summary{
		Highlights:  nonBlank(a.Highlights),
		GreenFlags:  nonBlank(a.GreenFlags),
		RedFlags:    nonBlank(a.RedFlags),
		YellowFlags: nonBlank(a.YellowFlags),
		// Unknown verdicts and risk grades are dropped rather than guessed.
		Recommendation: models.ParseRecommendation(a.Recommendation),
		Risk: models.RiskAssessment{
			Market:      models.ParseRiskLevel(a.Risk.Market),
			Execution:   models.ParseRiskLevel(a.Risk.Execution),
			Financial:   models.ParseRiskLevel(a.Risk.Financial),
			Competitive: models.ParseRiskLevel(a.Risk.Competitive),
		},
		Confidence: confidence.Clamp(a.Confidence),
		Sections:   []models.SectionSummary{},
	}
	if a.Executive != nil && strings.TrimSpace(*a.Executive) != "" {
		exec := strings.TrimSpace(*a.Executive)
		s.Executive = &exec
	}
	for _, sec := range a.Sections {
		if strings.TrimSpace(sec.Summary) == "" {
			continue
		}
		ordinal := sec.Ordinal
		if ordinal < 1 {
			ordinal = 1
		}
		s.Sections = append(s.Sections, models.SectionSummary{
			Type:       models.ParseSectionType(sec.SectionType),
			Ordinal:    ordinal,
			Summary:    strings.TrimSpace(sec.Summary),
			Confidence: confidence.Clamp(sec.Confidence),
		})
	}
	return s, nil
}

func nonBlank(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
