package models

import (
	"fmt"
	"strings"
)

// SectionType is the fixed pitch-deck section taxonomy.
type SectionType string

const (
	SectionProblem       SectionType = "problem"
	SectionSolution      SectionType = "solution"
	SectionMarket        SectionType = "market"
	SectionBusinessModel SectionType = "business_model"
	SectionTeam          SectionType = "team"
	SectionTraction      SectionType = "traction"
	SectionFinancials    SectionType = "financials"
	SectionCompetition   SectionType = "competition"
	SectionAsk           SectionType = "ask"
	SectionUnclassified  SectionType = "unclassified"
)

// SectionTypes lists every classifiable type; unclassified is excluded.
var SectionTypes = []SectionType{
	SectionProblem, SectionSolution, SectionMarket, SectionBusinessModel, SectionTeam,
	SectionTraction, SectionFinancials, SectionCompetition, SectionAsk,
}

// UnclassifiedCeiling is the highest confidence an unclassified section may carry.
const UnclassifiedCeiling = 0.59

var sectionAliases = map[string]SectionType{
	"funding_ask":    SectionAsk,
	"funding":        SectionAsk,
	"the_ask":        SectionAsk,
	"financial":      SectionFinancials,
	"finance":        SectionFinancials,
	"business":       SectionBusinessModel,
	"revenue_model":  SectionBusinessModel,
	"competitors":    SectionCompetition,
	"founders":       SectionTeam,
	"market_size":    SectionMarket,
	"product":        SectionSolution,
	"problem_space":  SectionProblem,
	"growth_metrics": SectionTraction,
}

// ParseSectionType maps a classifier label onto the taxonomy. Unknown labels
// become unclassified.
func ParseSectionType(label string) SectionType {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, t := range SectionTypes {
		if string(t) == key {
			return t
		}
	}
	if t, ok := sectionAliases[key]; ok {
		return t
	}
	return SectionUnclassified
}

// ClassifiedSection is a contiguous or scattered group of pages sharing one
// section type. Text is carried between stages but never serialised.
type ClassifiedSection struct {
	Type       SectionType `json:"sectionType"`
	Ordinal    int         `json:"ordinal"`
	Pages      []int       `json:"sourcePages"`
	Confidence float64     `json:"confidence"`
	Text       string      `json:"-"`
}

// Ref is the stable section reference used by extracted fields, e.g. "team#1".
func (s ClassifiedSection) Ref() string {
	return fmt.Sprintf("%s#%d", s.Type, s.Ordinal)
}
