package confidence

import "github.com/Lllllllleong/pitchdeckflow/internal/models"

// Weights maps canonical field paths (team members as "team[].x") to their
// importance in the document score.
type Weights map[string]float64

// FallbackWeight applies to fields missing from a weight table.
const FallbackWeight = 1.0

// DefaultWeights ranks company identity and financial figures above
// descriptive text.
func DefaultWeights() Weights {
	return Weights{
		"company.name":              3.0,
		"company.founding_date":     1.0,
		"company.location":          1.0,
		"company.industry":          1.0,
		"team[].name":               2.0,
		"team[].title":              1.0,
		"team[].background":         1.0,
		"financials.revenue":        2.5,
		"financials.burn_rate":      2.5,
		"financials.runway_months":  2.0,
		"financials.funding_raised": 2.5,
		"market.market_size":        2.0,
		"market.target_customer":    1.0,
		"market.growth_rate":        1.5,
		"traction.user_count":       2.0,
		"traction.growth_rate":      1.5,
		"traction.key_milestones":   1.0,
		"ask.amount":                2.5,
		"ask.use_of_funds":          1.0,
	}
}

// For returns the weight of a concrete field name.
func (w Weights) For(name string) float64 {
	if v, ok := w[models.CanonicalPath(name)]; ok {
		return v
	}
	return FallbackWeight
}
