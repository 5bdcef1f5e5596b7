// Package output renders processing records as the versioned JSON envelope
// and the flat CSV export, and validates both before they leave the service.
package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// SchemaVersion identifies the envelope layout and the CSV header.
const SchemaVersion = "1.0"

// DefaultSystemVersion is stamped on outputs when no version is configured.
const DefaultSystemVersion = "1.0.0"

type Envelope struct {
	SchemaVersion       string  `json:"schemaVersion"`
	SystemVersion       string  `json:"systemVersion"`
	DocumentID          string  `json:"documentId"`
	ProcessingTimestamp string  `json:"processingTimestamp"`
	Data                Payload `json:"data"`
}

type Payload struct {
	Document   models.Document             `json:"document"`
	PageCount  int                         `json:"pageCount"`
	Sections   []models.ClassifiedSection  `json:"sections"`
	Extracted  models.ExtractedInformation `json:"extracted"`
	Summary    models.Summary              `json:"summary"`
	Confidence ConfidenceBlock             `json:"confidence"`
	RawText    *string                     `json:"rawText"`
	Warnings   []models.Warning            `json:"warnings"`
}

type ConfidenceBlock struct {
	Overall   float64                    `json:"overall"`
	Breakdown models.ConfidenceBreakdown `json:"breakdown"`
}

// Generator renders and validates outputs for one system version.
type Generator struct {
	systemVersion string
	schema        *jsonschema.Resolved
}

// NewGenerator resolves the envelope schema once.
func NewGenerator(systemVersion string) (*Generator, error) {
	if systemVersion == "" {
		systemVersion = DefaultSystemVersion
	}
	resolved, err := Schema().Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output schema: %w", err)
	}
	return &Generator{systemVersion: systemVersion, schema: resolved}, nil
}

func (g *Generator) SystemVersion() string { return g.systemVersion }

// Timestamp formats t the way every output carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Envelope builds the envelope of rec without touching rec.
func (g *Generator) Envelope(rec *models.ProcessingRecord) Envelope {
	c := *rec
	c.Sections = append([]models.ClassifiedSection(nil), rec.Sections...)
	c.Warnings = append([]models.Warning(nil), rec.Warnings...)
	c.Information.Team = append([]models.TeamMember(nil), rec.Information.Team...)
	c.Normalize()
	return Envelope{
		SchemaVersion:       SchemaVersion,
		SystemVersion:       g.systemVersion,
		DocumentID:          c.Document.ID,
		ProcessingTimestamp: Timestamp(c.ProcessedAt),
		Data: Payload{
			Document:   c.Document,
			PageCount:  c.PageCount,
			Sections:   c.Sections,
			Extracted:  c.Information,
			Summary:    c.Summary,
			Confidence: ConfidenceBlock{Overall: c.OverallConfidence, Breakdown: c.Breakdown},
			RawText:    c.RawText,
			Warnings:   c.Warnings,
		},
	}
}

// Render serialises rec without validating it. Identical records produce
// identical bytes.
func (g *Generator) Render(rec *models.ProcessingRecord) ([]byte, error) {
	if rec == nil {
		return nil, &models.SchemaViolation{Detail: "nil record"}
	}
	data, err := json.Marshal(g.Envelope(rec))
	if err != nil {
		return nil, &models.SchemaViolation{Detail: "record could not be serialised", Cause: err}
	}
	return data, nil
}

// ToJSON renders rec and validates the result against the schema.
func (g *Generator) ToJSON(rec *models.ProcessingRecord) ([]byte, error) {
	data, err := g.Render(rec)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Validate checks a serialised envelope against the schema.
func (g *Generator) Validate(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return &models.SchemaViolation{Detail: "output is not valid JSON", Cause: err}
	}
	if err := g.schema.Validate(instance); err != nil {
		return &models.SchemaViolation{Detail: "output does not match schema " + SchemaVersion, Cause: err}
	}
	return nil
}
