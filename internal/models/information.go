package models

import (
	"fmt"
	"regexp"
	"strconv"
)

// FieldSpec declares one catalogued field. Team fields use the "team[]."
// prefix and apply to every member.
type FieldSpec struct {
	Path string
	Kind ValueKind
}

// Catalog is the fixed field set of the extraction schema, in output order.
var Catalog = []FieldSpec{
	{"company.name", KindString},
	{"company.founding_date", KindDate},
	{"company.location", KindString},
	{"company.industry", KindString},
	{"team[].name", KindString},
	{"team[].title", KindString},
	{"team[].background", KindString},
	{"financials.revenue", KindCurrency},
	{"financials.burn_rate", KindCurrency},
	{"financials.runway_months", KindNumber},
	{"financials.funding_raised", KindCurrency},
	{"market.market_size", KindCurrency},
	{"market.target_customer", KindString},
	{"market.growth_rate", KindNumber},
	{"traction.user_count", KindNumber},
	{"traction.growth_rate", KindNumber},
	{"traction.key_milestones", KindString},
	{"ask.amount", KindCurrency},
	{"ask.use_of_funds", KindString},
}

// MaxTeamMembers bounds how many team members a document may carry.
const MaxTeamMembers = 25

var teamPathRe = regexp.MustCompile(`^team\[(\d+)\]\.([a-z_]+)$`)

// CanonicalPath maps "team[3].name" to "team[].name"; other paths are returned
// unchanged.
func CanonicalPath(name string) string {
	if m := teamPathRe.FindStringSubmatch(name); m != nil {
		return "team[]." + m[2]
	}
	return name
}

// TeamIndex returns the member index of a team path.
func TeamIndex(name string) (int, bool) {
	m := teamPathRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return i, true
}

// SpecFor looks a field name up in the catalog.
func SpecFor(name string) (FieldSpec, bool) {
	canonical := CanonicalPath(name)
	for _, s := range Catalog {
		if s.Path == canonical {
			return s, true
		}
	}
	return FieldSpec{}, false
}

type CompanyInfo struct {
	Name         ExtractedField `json:"name"`
	FoundingDate ExtractedField `json:"founding_date"`
	Location     ExtractedField `json:"location"`
	Industry     ExtractedField `json:"industry"`
}

type TeamMember struct {
	Name       ExtractedField `json:"name"`
	Title      ExtractedField `json:"title"`
	Background ExtractedField `json:"background"`
}

type FinancialInfo struct {
	Revenue       ExtractedField `json:"revenue"`
	BurnRate      ExtractedField `json:"burn_rate"`
	RunwayMonths  ExtractedField `json:"runway_months"`
	FundingRaised ExtractedField `json:"funding_raised"`
}

type MarketInfo struct {
	MarketSize     ExtractedField `json:"market_size"`
	TargetCustomer ExtractedField `json:"target_customer"`
	GrowthRate     ExtractedField `json:"growth_rate"`
}

type TractionInfo struct {
	UserCount     ExtractedField `json:"user_count"`
	GrowthRate    ExtractedField `json:"growth_rate"`
	KeyMilestones ExtractedField `json:"key_milestones"`
}

type FundingAsk struct {
	Amount     ExtractedField `json:"amount"`
	UseOfFunds ExtractedField `json:"use_of_funds"`
}

// ExtractedInformation holds the six field groups. Every group is always
// present; absent facts are explicit nulls.
type ExtractedInformation struct {
	Company    CompanyInfo   `json:"company"`
	Team       []TeamMember  `json:"team"`
	Financials FinancialInfo `json:"financials"`
	Market     MarketInfo    `json:"market"`
	Traction   TractionInfo  `json:"traction"`
	Ask        FundingAsk    `json:"ask"`
}

// NewExtractedInformation returns an instance with every field named and null.
func NewExtractedInformation() ExtractedInformation {
	info := ExtractedInformation{Team: []TeamMember{}}
	info.Normalize()
	return info
}

// Normalize names every field after its path and replaces a nil team with an
// empty one.
func (info *ExtractedInformation) Normalize() {
	if info.Team == nil {
		info.Team = []TeamMember{}
	}
	for path, f := range info.fieldMap() {
		f.Name = path
	}
}

// EnsureTeam grows the team to at least n null members.
func (info *ExtractedInformation) EnsureTeam(n int) {
	if n > MaxTeamMembers {
		n = MaxTeamMembers
	}
	for len(info.Team) < n {
		info.Team = append(info.Team, TeamMember{})
	}
	info.Normalize()
}

// Fields returns pointers to every field in catalog order, team members in
// index order.
func (info *ExtractedInformation) Fields() []*ExtractedField {
	out := []*ExtractedField{
		&info.Company.Name, &info.Company.FoundingDate, &info.Company.Location, &info.Company.Industry,
	}
	for i := range info.Team {
		m := &info.Team[i]
		out = append(out, &m.Name, &m.Title, &m.Background)
	}
	return append(out,
		&info.Financials.Revenue, &info.Financials.BurnRate, &info.Financials.RunwayMonths, &info.Financials.FundingRaised,
		&info.Market.MarketSize, &info.Market.TargetCustomer, &info.Market.GrowthRate,
		&info.Traction.UserCount, &info.Traction.GrowthRate, &info.Traction.KeyMilestones,
		&info.Ask.Amount, &info.Ask.UseOfFunds,
	)
}

// Field returns the field at path, or nil if the path is unknown or names a
// team member that does not exist.
func (info *ExtractedInformation) Field(path string) *ExtractedField {
	return info.fieldMap()[path]
}

func (info *ExtractedInformation) fieldMap() map[string]*ExtractedField {
	m := map[string]*ExtractedField{
		"company.name":              &info.Company.Name,
		"company.founding_date":     &info.Company.FoundingDate,
		"company.location":          &info.Company.Location,
		"company.industry":          &info.Company.Industry,
		"financials.revenue":        &info.Financials.Revenue,
		"financials.burn_rate":      &info.Financials.BurnRate,
		"financials.runway_months":  &info.Financials.RunwayMonths,
		"financials.funding_raised": &info.Financials.FundingRaised,
		"market.market_size":        &info.Market.MarketSize,
		"market.target_customer":    &info.Market.TargetCustomer,
		"market.growth_rate":        &info.Market.GrowthRate,
		"traction.user_count":       &info.Traction.UserCount,
		"traction.growth_rate":      &info.Traction.GrowthRate,
		"traction.key_milestones":   &info.Traction.KeyMilestones,
		"ask.amount":                &info.Ask.Amount,
		"ask.use_of_funds":          &info.Ask.UseOfFunds,
	}
	for i := range info.Team {
		mem := &info.Team[i]
		m[fmt.Sprintf("team[%d].name", i)] = &mem.Name
		m[fmt.Sprintf("team[%d].title", i)] = &mem.Title
		m[fmt.Sprintf("team[%d].background", i)] = &mem.Background
	}
	return m
}
