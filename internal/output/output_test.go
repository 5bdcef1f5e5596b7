package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

func fixture() *models.ProcessingRecord {
	queued := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	done := queued.Add(42 * time.Second)
	rec := models.NewProcessingRecord(models.Document{
		ID:          "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		Filename:    "acme.pdf",
		Format:      models.FormatPDF,
		SizeBytes:   2048,
		Fingerprint: "abc123",
		Status:      models.StatusProcessing,
		QueuedAt:    queued,
	})
	rec.Document.Complete(0.72, done)
	rec.PageCount = 6
	rec.Sections = []models.ClassifiedSection{
		{Type: models.SectionProblem, Ordinal: 1, Pages: []int{1, 2}, Confidence: 0.9},
		{Type: models.SectionTeam, Ordinal: 1, Pages: []int{3}, Confidence: 0.85},
		{Type: models.SectionFinancials, Ordinal: 1, Pages: []int{4, 5, 6}, Confidence: 0.7},
	}
	rec.Information.Company.Name = models.ExtractedField{Value: models.StringValue("Acme, Inc."), Confidence: 0.9, Source: "problem#1"}
	rec.Information.Financials.Revenue = models.ExtractedField{Value: models.CurrencyValue(1200000, "USD"), Confidence: 0.66, Source: "financials#1"}
	rec.Information.EnsureTeam(2)
	rec.Information.Team[0].Name = models.ExtractedField{Value: models.StringValue("Ada Lovelace"), Confidence: 0.84, Source: "team#1"}
	rec.Information.Team[1].Name = models.ExtractedField{Value: models.StringValue("Alan Turing"), Confidence: 0.84, Source: "team#1"}
	rec.Information.Normalize()
	exec := "Acme sells anvils."
	rec.Summary.Executive = &exec
	rec.Summary.Confidence = 0.8
	rec.Summary.GreenFlags = []string{"repeat customers"}
	rec.Summary.YellowFlags = []string{"churn not reported", "single supplier"}
	rec.Summary.Recommendation = models.ParseRecommendation("maybe")
	rec.Summary.Risk.Market = models.ParseRiskLevel("high")
	rec.Breakdown = models.ConfidenceBreakdown{High: []string{"company.name"}, Medium: []string{"financials.revenue"}}
	rec.OverallConfidence = 0.72
	rec.ProcessedAt = done
	rec.Warn(models.StageSummarize, models.WarnSummaryUnavailable, "example")
	return rec
}

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator("1.2.3")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestToJSONValidatesAndIsDeterministic(t *testing.T) {
	g := newGenerator(t)
	first, err := g.ToJSON(fixture())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	second, err := g.ToJSON(fixture())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("identical records rendered differently:\n%s\n%s", first, second)
	}

	var env map[string]any
	if err := json.Unmarshal(first, &env); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if env["schemaVersion"] != SchemaVersion || env["systemVersion"] != "1.2.3" {
		t.Errorf("unexpected versions: %v / %v", env["schemaVersion"], env["systemVersion"])
	}
	if env["processingTimestamp"] != "2026-05-04T10:00:42Z" {
		t.Errorf("processingTimestamp = %v", env["processingTimestamp"])
	}
}

func TestToJSONEmitsExplicitNulls(t *testing.T) {
	g := newGenerator(t)
	data, err := g.ToJSON(fixture())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var env struct {
		Data struct {
			Extracted map[string]json.RawMessage `json:"extracted"`
			RawText   *string                    `json:"rawText"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Data.Extracted) != 6 {
		t.Fatalf("extracted has %d groups, want 6", len(env.Data.Extracted))
	}
	var ask map[string]map[string]any
	if err := json.Unmarshal(env.Data.Extracted["ask"], &ask); err != nil {
		t.Fatalf("unmarshal ask: %v", err)
	}
	amount, ok := ask["amount"]
	if !ok {
		t.Fatal("ask.amount omitted")
	}
	if v, present := amount["value"]; !present || v != nil {
		t.Errorf("ask.amount value = %v (present %v), want explicit null", v, present)
	}
	if !strings.Contains(string(data), `"rawText":null`) {
		t.Error("rawText should be an explicit null")
	}
}

func TestValidateRejectsTamperedEnvelope(t *testing.T) {
	g := newGenerator(t)
	data, err := g.ToJSON(fixture())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	tampered := bytes.Replace(data, []byte(`"schemaVersion":"1.0"`), []byte(`"schemaVersion":"9.9"`), 1)
	var sv *models.SchemaViolation
	if err := g.Validate(tampered); !errors.As(err, &sv) {
		t.Fatalf("expected SchemaViolation, got %v", err)
	}
	if err := g.Validate([]byte("{not json")); !errors.As(err, &sv) {
		t.Fatalf("expected SchemaViolation for malformed JSON, got %v", err)
	}
}

func TestRenderDoesNotMutateRecord(t *testing.T) {
	g := newGenerator(t)
	rec := fixture()
	rec.Warnings = nil
	if _, err := g.Render(rec); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rec.Warnings != nil {
		t.Error("Render normalised the caller's record")
	}
}

func TestToCSVHeaderIsFixed(t *testing.T) {
	g := newGenerator(t)
	full, err := g.ToCSV(fixture())
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}
	empty, err := g.ToCSV(models.NewProcessingRecord(models.Document{ID: "x", Status: models.StatusCompleted}))
	if err != nil {
		t.Fatalf("ToCSV on empty record: %v", err)
	}
	headerOf := func(data []byte) []string {
		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			t.Fatalf("read csv: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("csv has %d rows", len(rows))
		}
		return rows[0]
	}
	a, b := headerOf(full), headerOf(empty)
	if strings.Join(a, ",") != strings.Join(b, ",") {
		t.Fatal("header differs between records")
	}
	if strings.Join(a, ",") != strings.Join(HeaderV1, ",") {
		t.Fatal("header differs from HeaderV1")
	}
}

func TestToCSVRowValues(t *testing.T) {
	g := newGenerator(t)
	data, err := g.ToCSV(fixture())
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}
	rows, _ := csv.NewReader(bytes.NewReader(data)).ReadAll()
	cell := map[string]string{}
	for i, col := range rows[0] {
		cell[col] = rows[1][i]
	}
	want := map[string]string{
		"company.name":                "Acme, Inc.",
		"company.name.confidence":     "0.9",
		"financials.revenue":          "1200000",
		"financials.revenue.currency": "USD",
		"team.count":                  "2",
		"team.1.name":                 "Alan Turing",
		"team.4.name":                 "",
		"confidence.category":         "medium",
		"sections.refs":               "problem#1; team#1; financials#1",
		"market.market_size":          "",
		"market.market_size.currency": "",
		"warnings.codes":              "summary_unavailable",
		"summary.greenFlags":          "repeat customers",
		"summary.yellowFlags":         "churn not reported; single supplier",
		"summary.recommendation":      "maybe",
		"risk.market":                 "high",
		"risk.execution":              "",
	}
	for col, v := range want {
		if cell[col] != v {
			t.Errorf("%s = %q, want %q", col, cell[col], v)
		}
	}
}

func TestValidateCSVRejectsWrongHeader(t *testing.T) {
	bad := "a,b\n1,2\n"
	var sv *models.SchemaViolation
	if err := ValidateCSV([]byte(bad)); !errors.As(err, &sv) {
		t.Fatalf("expected SchemaViolation, got %v", err)
	}
}
