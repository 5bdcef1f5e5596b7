package llm

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// The keyword collaborators let the service run without a model endpoint.
// They are deliberately conservative: low confidences, few fields.

var sectionKeywords = map[models.SectionType][]string{
	models.SectionProblem:       {"problem", "pain point", "challenge", "today's reality", "broken"},
	models.SectionSolution:      {"solution", "our product", "how it works", "platform", "introducing"},
	models.SectionMarket:        {"market", "tam", "sam", "som", "opportunity", "addressable"},
	models.SectionBusinessModel: {"business model", "pricing", "revenue model", "subscription", "go-to-market", "monetization"},
	models.SectionTeam:          {"team", "founder", "co-founder", "ceo", "cto", "advisor", "leadership"},
	models.SectionTraction:      {"traction", "milestone", "growth", "customers", "users", "pilots", "mom"},
	models.SectionFinancials:    {"financial", "projection", "burn", "runway", "p&l", "ebitda", "forecast"},
	models.SectionCompetition:   {"competition", "competitor", "landscape", "alternatives", "differentiation"},
	models.SectionAsk:           {"the ask", "raising", "use of funds", "investment", "funding round", "seed round", "series a"},
}

// KeywordClassifier labels each page by keyword hits, weighting the page
// title double, and merges runs of equally labelled pages.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(ctx context.Context, doc *models.ParsedDocument) ([]SectionCandidate, error) {
	var out []SectionCandidate
	for _, p := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, hits := bestSection(p)
		if hits == 0 {
			continue
		}
		conf := 0.5 + 0.1*float64(hits)
		if conf > 0.85 {
			conf = 0.85
		}
		if n := len(out); n > 0 && out[n-1].Label == string(label) && lastPage(out[n-1]) == p.Number-1 {
			out[n-1].Pages = append(out[n-1].Pages, p.Number)
			if conf < out[n-1].Confidence {
				out[n-1].Confidence = conf
			}
			continue
		}
		out = append(out, SectionCandidate{Label: string(label), Pages: []int{p.Number}, Confidence: conf})
	}
	return out, nil
}

func lastPage(c SectionCandidate) int {
	return c.Pages[len(c.Pages)-1]
}

func bestSection(p models.Page) (models.SectionType, int) {
	title := strings.ToLower(p.Layout.Title)
	text := strings.ToLower(p.Text)
	best, bestHits := models.SectionUnclassified, 0
	for _, t := range models.SectionTypes {
		hits := 0
		for _, kw := range sectionKeywords[t] {
			if strings.Contains(title, kw) {
				hits += 2
			}
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = t, hits
		}
	}
	return best, bestHits
}

const patternConfidence = 0.6

const money = `((?:[A-Z]{3}\s?)?(?:US\$|[$€£¥])?\s?[0-9][0-9,.]*\s?(?:k|m|mm|b|bn|million|billion)?)\b`

var fieldPatterns = []struct {
	path string
	re   *regexp.Regexp
}{
	{"company.founding_date", regexp.MustCompile(`(?i)\b(?:founded|established|since)\s+(?:in\s+)?((?:19|20)\d{2})\b`)},
	{"company.location", regexp.MustCompile(`(?i)\b(?:headquartered|based)\s+in\s+([A-Z][\w.' -]+?)(?:[.,\n]|$)`)},
	{"financials.revenue", regexp.MustCompile(`(?i)\b(?:revenue|arr|mrr)\b[^0-9$€£\n]{0,20}` + money)},
	{"financials.burn_rate", regexp.MustCompile(`(?i)\bburn(?:\s+rate)?\b[^0-9$€£\n]{0,20}` + money)},
	{"financials.runway_months", regexp.MustCompile(`(?i)\b(\d{1,3})\s+months?\s+(?:of\s+)?runway\b|\brunway\b[^0-9\n]{0,20}(\d{1,3})\s+months?`)},
	{"financials.funding_raised", regexp.MustCompile(`(?i)\b(?:raised|funding to date)\b[^0-9$€£\n]{0,20}` + money)},
	{"market.market_size", regexp.MustCompile(`(?i)\b(?:tam|market size|market of)\b[^0-9$€£\n]{0,20}` + money)},
	{"market.growth_rate", regexp.MustCompile(`(?i)\b(?:cagr|market growth)\b[^0-9\n]{0,20}([0-9.]+)\s?%`)},
	{"traction.user_count", regexp.MustCompile(`(?i)\b([0-9][0-9,.]*\s?(?:k|m)?)\+?\s+(?:active\s+)?(?:users|customers|subscribers)\b`)},
	{"traction.growth_rate", regexp.MustCompile(`(?i)\b([0-9.]+)\s?%\s+(?:mom|month[- ]over[- ]month|yoy|growth)\b`)},
	{"ask.amount", regexp.MustCompile(`(?i)\b(?:raising|seeking|the ask[:\s]*)\b[^0-9$€£\n]{0,20}` + money)},
	{"ask.use_of_funds", regexp.MustCompile(`(?i)\buse of funds\b[:\s-]*([^\n]{3,200})`)},
}

var teamLineRe = regexp.MustCompile(`^([A-Z][a-z]+(?:\s[A-Z][a-z'-]+){1,2})\s*(?:[-–—,|:])\s*([^,\n]{2,80})(?:,\s*(.+))?$`)

// PatternExtractor pulls a handful of figures with regular expressions.
type PatternExtractor struct{}

func (PatternExtractor) Extract(ctx context.Context, in SectionInput) (map[string]RawField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := map[string]models.FieldSpec{}
	for _, f := range in.Fields {
		wanted[f.Path] = f
	}
	out := map[string]RawField{}
	for _, p := range fieldPatterns {
		spec, ok := wanted[p.path]
		if !ok {
			continue
		}
		m := p.re.FindStringSubmatch(in.Text)
		if m == nil {
			continue
		}
		raw := firstNonEmpty(m[1:]...)
		value := Coerce(spec.Kind, quote(raw), "")
		if !value.IsNull() {
			out[p.path] = RawField{Value: value, Confidence: patternConfidence}
		}
	}
	if _, ok := wanted["team[].name"]; ok {
		member := 0
		for _, line := range strings.Split(in.Text, "\n") {
			m := teamLineRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil || member >= models.MaxTeamMembers {
				continue
			}
			prefix := "team[" + strconv.Itoa(member) + "]."
			out[prefix+"name"] = RawField{Value: models.StringValue(m[1]), Confidence: patternConfidence}
			out[prefix+"title"] = RawField{Value: models.StringValue(m[2]), Confidence: patternConfidence}
			if bg := models.StringValue(m[3]); !bg.IsNull() {
				out[prefix+"background"] = RawField{Value: bg, Confidence: patternConfidence - 0.1}
			}
			member++
		}
	}
	return out, nil
}

func quote(s string) []byte {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n', '\r', '\t':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return []byte(b.String())
}

// ExtractiveSummarizer builds the summary from the first sentence of each
// section and rule-based flags over the extracted facts.
type ExtractiveSummarizer struct{}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]+1])
	}
	return truncate(text, 200)
}

func (ExtractiveSummarizer) Summarize(ctx context.Context, in SummaryInput) (*models.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &models.Summary{
		Highlights:  []string{},
		Sections:    []models.SectionSummary{},
		GreenFlags:  []string{},
		RedFlags:    []string{},
		YellowFlags: []string{},
	}
	var lead []string
	for _, sec := range in.Sections {
		first := firstSentence(sec.Text)
		if first == "" {
			continue
		}
		s.Sections = append(s.Sections, models.SectionSummary{Type: sec.Type, Ordinal: sec.Ordinal, Summary: first, Confidence: 0.4})
		if sec.Type == models.SectionProblem || sec.Type == models.SectionSolution {
			lead = append(lead, first)
		}
	}
	if len(lead) == 0 && len(s.Sections) > 0 {
		lead = append(lead, s.Sections[0].Summary)
	}
	if len(lead) > 0 {
		exec := strings.Join(lead, " ")
		s.Executive = &exec
	}

	info := in.Information
	for _, f := range info.Fields() {
		if !f.Value.IsNull() && (strings.HasPrefix(f.Name, "financials.") || strings.HasPrefix(f.Name, "traction.") || f.Name == "ask.amount") {
			s.Highlights = append(s.Highlights, f.Name+": "+f.Value.Text())
		}
	}
	sort.Strings(s.Highlights)

	if !info.Financials.Revenue.Value.IsNull() {
		s.GreenFlags = append(s.GreenFlags, "Reports revenue")
	}
	if !info.Traction.UserCount.Value.IsNull() {
		s.GreenFlags = append(s.GreenFlags, "Shows user traction")
	}
	if len(info.Team) == 0 {
		s.RedFlags = append(s.RedFlags, "No team members identified")
	}
	if r := info.Financials.RunwayMonths.Value; !r.IsNull() && r.Number() < 12 {
		s.RedFlags = append(s.RedFlags, "Runway below twelve months")
	}
	if info.Ask.Amount.Value.IsNull() {
		s.RedFlags = append(s.RedFlags, "Funding ask not stated")
	} else if info.Ask.UseOfFunds.Value.IsNull() {
		s.YellowFlags = append(s.YellowFlags, "Use of funds not stated")
	}
	if len(info.Team) == 1 {
		s.YellowFlags = append(s.YellowFlags, "Single founder")
	}
	if info.Financials.RunwayMonths.Value.IsNull() {
		s.YellowFlags = append(s.YellowFlags, "Runway not stated")
	}
	if info.Market.MarketSize.Value.IsNull() {
		s.YellowFlags = append(s.YellowFlags, "Market size not stated")
	}
	s.Risk = keywordRisk(info)
	if s.Executive != nil {
		s.Confidence = 0.4
	}
	return s, nil
}

// keywordRisk grades what the extracted facts can support: execution from the
// team size and financial from the runway. Market and competitive risk need
// judgement and stay unassessed.
func keywordRisk(info models.ExtractedInformation) models.RiskAssessment {
	var r models.RiskAssessment
	execution := models.RiskLow
	switch len(info.Team) {
	case 0:
		execution = models.RiskHigh
	case 1:
		execution = models.RiskMedium
	}
	r.Execution = &execution
	if runway := info.Financials.RunwayMonths.Value; !runway.IsNull() {
		financial := models.RiskLow
		switch {
		case runway.Number() < 12:
			financial = models.RiskHigh
		case runway.Number() < 18:
			financial = models.RiskMedium
		}
		r.Financial = &financial
	}
	return r
}
