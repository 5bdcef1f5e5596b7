package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// TeamSlots is the number of team members flattened into the CSV row. The
// full team is always available in the JSON envelope.
const TeamSlots = 5

// listSeparator joins list values inside a single CSV cell.
const listSeparator = "; "

// HeaderV1 is the fixed CSV header of schema version 1.0.
var HeaderV1 = buildHeader()

func buildHeader() []string {
	h := []string{
		"schemaVersion", "systemVersion", "documentId", "processingTimestamp",
		"document.filename", "document.format", "document.status", "document.contentFingerprint",
		"pageCount", "sections.count", "sections.refs",
		"confidence.overall", "confidence.category",
	}
	for _, spec := range models.Catalog {
		if strings.HasPrefix(spec.Path, "team[]") {
			continue
		}
		h = append(h, fieldColumns(spec.Path, spec.Kind)...)
	}
	h = append(h, "team.count")
	for i := 0; i < TeamSlots; i++ {
		for _, attr := range []string{"name", "title", "background"} {
			h = append(h, fieldColumns(fmt.Sprintf("team.%d.%s", i, attr), models.KindString)...)
		}
	}
	return append(h,
		"summary.executive", "summary.confidence", "summary.keyHighlights",
		"summary.greenFlags", "summary.redFlags", "summary.yellowFlags", "summary.recommendation",
		"risk.market", "risk.execution", "risk.financial", "risk.competitive",
		"breakdown.low", "breakdown.medium", "breakdown.high",
		"warnings.count", "warnings.codes",
	)
}

func fieldColumns(path string, kind models.ValueKind) []string {
	cols := []string{path, path + ".confidence"}
	if kind == models.KindCurrency {
		cols = append(cols, path+".currency")
	}
	return cols
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fieldCells(f models.ExtractedField, kind models.ValueKind) []string {
	cells := []string{f.Value.Text(), formatFloat(f.Confidence)}
	if kind == models.KindCurrency {
		currency := ""
		if f.Value.Kind() == models.KindCurrency {
			currency = f.Value.Money().Currency
		}
		cells = append(cells, currency)
	}
	return cells
}

// optional renders a nil enum as an empty cell.
func optional[T ~string](v *T) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

// Row flattens rec into one row aligned with HeaderV1.
func (g *Generator) Row(rec *models.ProcessingRecord) []string {
	env := g.Envelope(rec)
	d := env.Data

	refs := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		refs[i] = s.Ref()
	}
	row := []string{
		env.SchemaVersion, env.SystemVersion, env.DocumentID, env.ProcessingTimestamp,
		d.Document.Filename, string(d.Document.Format), string(d.Document.Status), d.Document.Fingerprint,
		strconv.Itoa(d.PageCount), strconv.Itoa(len(d.Sections)), strings.Join(refs, listSeparator),
		formatFloat(d.Confidence.Overall), string(confidence.Categorize(d.Confidence.Overall)),
	}
	info := d.Extracted
	for _, spec := range models.Catalog {
		if strings.HasPrefix(spec.Path, "team[]") {
			continue
		}
		row = append(row, fieldCells(*info.Field(spec.Path), spec.Kind)...)
	}
	row = append(row, strconv.Itoa(len(info.Team)))
	for i := 0; i < TeamSlots; i++ {
		var m models.TeamMember
		if i < len(info.Team) {
			m = info.Team[i]
		}
		for _, f := range []models.ExtractedField{m.Name, m.Title, m.Background} {
			row = append(row, fieldCells(f, models.KindString)...)
		}
	}

	executive := ""
	if d.Summary.Executive != nil {
		executive = *d.Summary.Executive
	}
	risk := d.Summary.Risk
	codes := make([]string, len(d.Warnings))
	for i, w := range d.Warnings {
		codes[i] = w.Code
	}
	return append(row,
		executive, formatFloat(d.Summary.Confidence), strings.Join(d.Summary.Highlights, listSeparator),
		strings.Join(d.Summary.GreenFlags, listSeparator), strings.Join(d.Summary.RedFlags, listSeparator),
		strings.Join(d.Summary.YellowFlags, listSeparator), optional(d.Summary.Recommendation),
		optional(risk.Market), optional(risk.Execution), optional(risk.Financial), optional(risk.Competitive),
		strings.Join(d.Confidence.Breakdown.Low, listSeparator),
		strings.Join(d.Confidence.Breakdown.Medium, listSeparator),
		strings.Join(d.Confidence.Breakdown.High, listSeparator),
		strconv.Itoa(len(d.Warnings)), strings.Join(codes, listSeparator),
	)
}

// ToCSV renders the header and one data row, then validates the result.
func (g *Generator) ToCSV(rec *models.ProcessingRecord) ([]byte, error) {
	if rec == nil {
		return nil, &models.SchemaViolation{Detail: "nil record"}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(HeaderV1); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.Write(g.Row(rec)); err != nil {
		return nil, fmt.Errorf("failed to write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	data := buf.Bytes()
	if err := ValidateCSV(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateCSV checks that data is a header identical to HeaderV1 followed by
// exactly one row of the same width.
func ValidateCSV(data []byte) error {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return &models.SchemaViolation{Detail: "csv is not well formed", Cause: err}
	}
	if len(rows) != 2 {
		return &models.SchemaViolation{Detail: fmt.Sprintf("csv has %d rows, want header plus one", len(rows))}
	}
	if len(rows[0]) != len(HeaderV1) {
		return &models.SchemaViolation{Detail: fmt.Sprintf("csv header has %d columns, want %d", len(rows[0]), len(HeaderV1))}
	}
	for i, col := range HeaderV1 {
		if rows[0][i] != col {
			return &models.SchemaViolation{Detail: fmt.Sprintf("csv column %d is %q, want %q", i, rows[0][i], col)}
		}
	}
	if len(rows[1]) != len(HeaderV1) {
		return &models.SchemaViolation{Detail: fmt.Sprintf("csv row has %d cells, want %d", len(rows[1]), len(HeaderV1))}
	}
	return nil
}
