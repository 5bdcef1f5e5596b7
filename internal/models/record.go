package models

import (
	"strings"
	"time"
)

// Page is one parsed page or slide.
type Page struct {
	Number int        `json:"number"`
	Text   string     `json:"text"`
	Images int        `json:"images"`
	Layout PageLayout `json:"layout"`
}

// PageLayout carries the little layout information the parsers recover.
type PageLayout struct {
	Title  string `json:"title"`
	Blocks int    `json:"blocks"`
}

// ParsedDocument is the parsing collaborator's output.
type ParsedDocument struct {
	Pages   []Page `json:"pages"`
	RawText string `json:"rawText"`
}

// Warning records a recoverable failure absorbed at a stage boundary.
type Warning struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarnClassificationEmpty  = "classification_empty"
	WarnExtractionIncomplete = "extraction_incomplete"
	WarnSummaryUnavailable   = "summary_unavailable"
	WarnCacheUnavailable     = "cache_unavailable"
)

type SectionSummary struct {
	Type       SectionType `json:"sectionType"`
	Ordinal    int         `json:"ordinal"`
	Summary    string      `json:"summary"`
	Confidence float64     `json:"confidence"`
}

// Recommendation is the investment verdict of the summary.
type Recommendation string

const (
	RecommendStrongPass Recommendation = "strong_pass"
	RecommendPass       Recommendation = "pass"
	RecommendMaybe      Recommendation = "maybe"
	RecommendNoPass     Recommendation = "no_pass"
)

var Recommendations = []Recommendation{RecommendStrongPass, RecommendPass, RecommendMaybe, RecommendNoPass}

// ParseRecommendation returns nil for anything outside Recommendations.
func ParseRecommendation(s string) *Recommendation {
	r := Recommendation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	for _, known := range Recommendations {
		if r == known {
			return &r
		}
	}
	return nil
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// ParseRiskLevel returns nil for anything but low, medium or high.
func ParseRiskLevel(s string) *RiskLevel {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range RiskLevels {
		if l == known {
			return &l
		}
	}
	return nil
}

// RiskAssessment grades four risk dimensions. Nil means not assessed.
type RiskAssessment struct {
	Market      *RiskLevel `json:"market"`
	Execution   *RiskLevel `json:"execution"`
	Financial   *RiskLevel `json:"financial"`
	Competitive *RiskLevel `json:"competitive"`
}

// Summary is the Summarize stage output, including the investment flags.
// Yellow flags are open questions rather than risks.
type Summary struct {
	Executive      *string          `json:"executiveSummary"`
	Highlights     []string         `json:"keyHighlights"`
	Sections       []SectionSummary `json:"sectionSummaries"`
	GreenFlags     []string         `json:"greenFlags"`
	RedFlags       []string         `json:"redFlags"`
	YellowFlags    []string         `json:"yellowFlags"`
	Recommendation *Recommendation  `json:"recommendation"`
	Risk           RiskAssessment   `json:"riskAssessment"`
	Confidence     float64          `json:"confidence"`
}

// ConfidenceBreakdown partitions field names by confidence category.
type ConfidenceBreakdown struct {
	Low    []string `json:"low"`
	Medium []string `json:"medium"`
	High   []string `json:"high"`
}

// FieldEvidence is the raw signal set behind one field's score.
type FieldEvidence struct {
	SectionConfidence float64
	LLMConfidence     float64
	Agreements        int
	Contradictions    int
}

// ProcessingRecord accumulates one document's results across all stages. It
// is owned by a single coordinator invocation.
type ProcessingRecord struct {
	Document          Document             `json:"document"`
	PageCount         int                  `json:"pageCount"`
	Sections          []ClassifiedSection  `json:"sections"`
	Information       ExtractedInformation `json:"extracted"`
	Summary           Summary              `json:"summary"`
	Breakdown         ConfidenceBreakdown  `json:"breakdown"`
	OverallConfidence float64              `json:"overallConfidence"`
	RawText           *string              `json:"rawText"`
	Warnings          []Warning            `json:"warnings"`
	ProcessedAt       time.Time            `json:"processedAt"`

	Evidence map[string]FieldEvidence `json:"-"`
	Parsed   *ParsedDocument          `json:"-"`
}

// NewProcessingRecord starts a record for doc with every collection empty
// rather than nil.
func NewProcessingRecord(doc Document) *ProcessingRecord {
	r := &ProcessingRecord{
		Document:    doc,
		Information: NewExtractedInformation(),
		Evidence:    map[string]FieldEvidence{},
	}
	r.Normalize()
	return r
}

// Normalize replaces nil slices so every serialised record has the same keys
// and the same JSON types.
func (r *ProcessingRecord) Normalize() {
	if r.Sections == nil {
		r.Sections = []ClassifiedSection{}
	}
	for i := range r.Sections {
		if r.Sections[i].Pages == nil {
			r.Sections[i].Pages = []int{}
		}
	}
	r.Information.Normalize()
	if r.Summary.Highlights == nil {
		r.Summary.Highlights = []string{}
	}
	if r.Summary.Sections == nil {
		r.Summary.Sections = []SectionSummary{}
	}
	if r.Summary.GreenFlags == nil {
		r.Summary.GreenFlags = []string{}
	}
	if r.Summary.RedFlags == nil {
		r.Summary.RedFlags = []string{}
	}
	if r.Summary.YellowFlags == nil {
		r.Summary.YellowFlags = []string{}
	}
	if r.Breakdown.Low == nil {
		r.Breakdown.Low = []string{}
	}
	if r.Breakdown.Medium == nil {
		r.Breakdown.Medium = []string{}
	}
	if r.Breakdown.High == nil {
		r.Breakdown.High = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []Warning{}
	}
}

// Warn appends a warning.
func (r *ProcessingRecord) Warn(stage Stage, code, message string) {
	r.Warnings = append(r.Warnings, Warning{Stage: stage, Code: code, Message: message})
}
