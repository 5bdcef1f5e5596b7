package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

type fakeModel struct {
	answer string
	err    error
	prompt string
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			f.prompt += string(t)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.answer)}}}},
	}, nil
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		code string
	}{
		{"$1.5M", 1.5e6, "USD"},
		{"EUR 200k", 2e5, "EUR"},
		{"3,000,000", 3e6, ""},
		{"£2 billion", 2e9, "GBP"},
		{"12%", 12, ""},
		{"450 USD", 450, "USD"},
	}
	for _, tc := range cases {
		got, code, ok := ParseAmount(tc.in)
		if !ok || got != tc.want || code != tc.code {
			t.Errorf("ParseAmount(%q) = %v, %q, %v; want %v, %q", tc.in, got, code, ok, tc.want, tc.code)
		}
	}
	if _, _, ok := ParseAmount("lots of money"); ok {
		t.Error("ParseAmount should reject prose")
	}
}

func TestCoerce(t *testing.T) {
	if v := Coerce(models.KindCurrency, json.RawMessage(`"$2M"`), ""); v.Kind() != models.KindCurrency || v.Money().Amount != 2e6 || v.Money().Currency != "USD" {
		t.Errorf("currency string coerced to %+v", v)
	}
	if v := Coerce(models.KindCurrency, json.RawMessage(`5000`), "eur"); v.Money().Currency != "EUR" {
		t.Errorf("bare amount should take the declared currency, got %+v", v.Money())
	}
	if v := Coerce(models.KindDate, json.RawMessage(`"2019-06"`), ""); v.Text() != "2019-06-01" {
		t.Errorf("partial date coerced to %q", v.Text())
	}
	if v := Coerce(models.KindNumber, json.RawMessage(`"n/a"`), ""); !v.IsNull() {
		t.Errorf("n/a should be null, got %+v", v)
	}
	if v := Coerce(models.KindString, json.RawMessage(`"Not mentioned"`), ""); !v.IsNull() {
		t.Errorf("placeholder text should be null, got %q", v.Text())
	}
	if v := Coerce(models.KindString, json.RawMessage(`["Launched beta", "Signed 3 pilots"]`), ""); v.Text() != "Launched beta; Signed 3 pilots" {
		t.Errorf("list coerced to %q", v.Text())
	}
}

func TestDecodeClassificationAcceptsBothShapes(t *testing.T) {
	a, err := DecodeClassification("```json\n{\"sections\":[{\"type\":\"team\",\"pages\":[3],\"confidence\":0.9}]}\n```")
	if err != nil || len(a) != 1 || a[0].Label != "team" || a[0].Pages[0] != 3 {
		t.Fatalf("wrapped form decoded to %+v, %v", a, err)
	}
	b, err := DecodeClassification(`[{"section_type":"ask","page_numbers":[9,10],"confidence":1.7}]`)
	if err != nil || len(b) != 1 || b[0].Label != "ask" || len(b[0].Pages) != 2 {
		t.Fatalf("array form decoded to %+v, %v", b, err)
	}
	if b[0].Confidence != 1 {
		t.Errorf("confidence should be clamped, got %v", b[0].Confidence)
	}
	if _, err := DecodeClassification("not json"); err == nil {
		t.Error("expected error for malformed answer")
	}
}

func TestDecodeExtraction(t *testing.T) {
	fields, err := DecodeExtraction(`{"fields": {
		"company.name": {"value": "Acme", "confidence": 0.92},
		"ask.amount": {"value": 2000000, "currency": "usd", "confidence": 0.8},
		"team[0].name": {"value": "Ada Lovelace", "confidence": 0.9},
		"team[30].name": {"value": "Too Many", "confidence": 0.9},
		"financials.revenue": {"value": null, "confidence": 0.9},
		"company.mascot": {"value": "Owl"},
		"market.target_customer": "SMB retailers"
	}}`)
	if err != nil {
		t.Fatalf("DecodeExtraction: %v", err)
	}
	if f := fields["company.name"]; f.Value.Str() != "Acme" || f.Confidence != 0.92 {
		t.Errorf("company.name = %+v", f)
	}
	if f := fields["ask.amount"]; f.Value.Money().Currency != "USD" || f.Value.Money().Amount != 2e6 {
		t.Errorf("ask.amount = %+v", f.Value.Money())
	}
	if _, ok := fields["team[0].name"]; !ok {
		t.Error("team[0].name missing")
	}
	for _, dropped := range []string{"team[30].name", "financials.revenue", "company.mascot"} {
		if _, ok := fields[dropped]; ok {
			t.Errorf("%s should have been dropped", dropped)
		}
	}
	if f := fields["market.target_customer"]; f.Confidence != DefaultFieldConfidence {
		t.Errorf("bare value should get default confidence, got %v", f.Confidence)
	}
}

func TestVertexClassifierWrapsFailures(t *testing.T) {
	doc := &models.ParsedDocument{Pages: []models.Page{{Number: 1, Text: "We fix invoices"}}}

	_, err := NewVertexClassifier(&fakeModel{err: errors.New("unavailable")}).Classify(context.Background(), doc)
	var ext *models.ExternalServiceError
	if !errors.As(err, &ext) || !models.IsRetryable(err) {
		t.Fatalf("expected retryable ExternalServiceError, got %v", err)
	}

	_, err = NewVertexClassifier(&fakeModel{answer: ""}).Classify(context.Background(), doc)
	if !errors.As(err, &ext) {
		t.Fatalf("empty answer: expected ExternalServiceError, got %v", err)
	}

	model := &fakeModel{answer: `{"sections":[{"type":"problem","pages":[1],"confidence":0.8}]}`}
	got, err := NewVertexClassifier(model).Classify(context.Background(), doc)
	if err != nil || len(got) != 1 {
		t.Fatalf("Classify = %+v, %v", got, err)
	}
	if !strings.Contains(model.prompt, "--- Page 1 ---") || !strings.Contains(model.prompt, "We fix invoices") {
		t.Errorf("prompt does not carry the pages: %q", model.prompt)
	}
}

func TestVertexSummarizer(t *testing.T) {
	model := &fakeModel{answer: `{"executiveSummary":" Acme sells anvils. ","keyHighlights":["ARR $1M",""],
		"sectionSummaries":[{"sectionType":"Problem","ordinal":1,"summary":"Anvils are heavy.","confidence":0.7}],
		"greenFlags":["Profitable"],"redFlags":[],"yellowFlags":["Churn not reported"," "],
		"recommendation":"Maybe","riskAssessment":{"market":"HIGH","execution":"unclear","financial":"low"},
		"confidence":0.75}`}
	s, err := NewVertexSummarizer(model).Summarize(context.Background(), SummaryInput{Information: models.NewExtractedInformation()})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Executive == nil || *s.Executive != "Acme sells anvils." {
		t.Errorf("executive = %v", s.Executive)
	}
	if len(s.Highlights) != 1 || len(s.Sections) != 1 || s.Sections[0].Type != models.SectionProblem {
		t.Errorf("unexpected summary %+v", s)
	}
	if len(s.YellowFlags) != 1 || s.YellowFlags[0] != "Churn not reported" {
		t.Errorf("yellow flags = %q", s.YellowFlags)
	}
	if s.Recommendation == nil || *s.Recommendation != models.RecommendMaybe {
		t.Errorf("recommendation = %v", s.Recommendation)
	}
	r := s.Risk
	if r.Market == nil || *r.Market != models.RiskHigh || r.Execution != nil || r.Competitive != nil {
		t.Errorf("risk = %+v", r)
	}
	if r.Financial == nil || *r.Financial != models.RiskLow {
		t.Errorf("financial risk = %v", r.Financial)
	}
}

func TestExtractiveSummarizerFlagsAndRisk(t *testing.T) {
	info := models.NewExtractedInformation()
	info.EnsureTeam(1)
	info.Team[0].Name = models.ExtractedField{Value: models.StringValue("Ada Lovelace"), Confidence: 0.8}
	info.Ask.Amount = models.ExtractedField{Value: models.CurrencyValue(2e6, "USD"), Confidence: 0.8}
	info.Financials.RunwayMonths = models.ExtractedField{Value: models.NumberValue(9), Confidence: 0.7}

	s, err := ExtractiveSummarizer{}.Summarize(context.Background(), SummaryInput{Information: info})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got := strings.Join(s.YellowFlags, "|"); got != "Use of funds not stated|Single founder|Market size not stated" {
		t.Errorf("yellow flags = %s", got)
	}
	if got := strings.Join(s.RedFlags, "|"); got != "Runway below twelve months" {
		t.Errorf("red flags = %s", got)
	}
	if s.Risk.Execution == nil || *s.Risk.Execution != models.RiskMedium {
		t.Errorf("execution risk = %v", s.Risk.Execution)
	}
	if s.Risk.Financial == nil || *s.Risk.Financial != models.RiskHigh {
		t.Errorf("financial risk = %v", s.Risk.Financial)
	}
	if s.Risk.Market != nil || s.Recommendation != nil {
		t.Errorf("keyword summary should not judge market or verdict: %+v", s)
	}
}

func TestKeywordClassifierMergesRuns(t *testing.T) {
	doc := &models.ParsedDocument{Pages: []models.Page{
		{Number: 1, Layout: models.PageLayout{Title: "The Problem"}, Text: "Invoices are a pain point"},
		{Number: 2, Layout: models.PageLayout{Title: "Meet the team"}, Text: "Ada Lovelace - CEO"},
		{Number: 3, Layout: models.PageLayout{Title: "Team"}, Text: "Advisors"},
		{Number: 4, Text: "Thank you"},
	}}
	got, err := KeywordClassifier{}.Classify(context.Background(), doc)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].Label != "problem" || got[1].Label != "team" || len(got[1].Pages) != 2 {
		t.Errorf("unexpected candidates %+v", got)
	}
}

func TestPatternExtractor(t *testing.T) {
	text := "Ada Lovelace - CEO, ex-Google engineer\nAlan Turing | CTO\nWe are raising $2.5M to reach 18 months of runway.\nFounded in 2019."
	in := SectionInput{Section: models.ClassifiedSection{Type: models.SectionTeam, Ordinal: 1}, Text: text, Fields: models.Catalog}
	got, err := PatternExtractor{}.Extract(context.Background(), in)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got["team[0].name"].Value.Str() != "Ada Lovelace" || got["team[1].title"].Value.Str() != "CTO" {
		t.Errorf("team lines not extracted: %+v", got)
	}
	if got["team[0].background"].Value.Str() != "ex-Google engineer" {
		t.Errorf("background = %q", got["team[0].background"].Value.Str())
	}
	if a := got["ask.amount"].Value.Money(); a.Amount != 2.5e6 {
		t.Errorf("ask.amount = %+v", a)
	}
	if got["financials.runway_months"].Value.Number() != 18 {
		t.Errorf("runway = %v", got["financials.runway_months"].Value.Number())
	}
	if got["company.founding_date"].Value.Text() != "2019-01-01" {
		t.Errorf("founding date = %q", got["company.founding_date"].Value.Text())
	}
}

func TestFieldsFor(t *testing.T) {
	team := FieldsFor(models.SectionTeam)
	var hasTeam, hasAsk bool
	for _, f := range team {
		hasTeam = hasTeam || f.Path == "team[].name"
		hasAsk = hasAsk || f.Path == "ask.amount"
	}
	if !hasTeam || hasAsk {
		t.Errorf("team section fields = %+v", team)
	}
	if len(FieldsFor(models.SectionUnclassified)) != len(models.Catalog) {
		t.Error("unclassified sections should be searched for every field")
	}
}
