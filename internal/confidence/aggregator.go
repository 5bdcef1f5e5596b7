// Package confidence turns heterogeneous uncertainty signals into calibrated
// scores. Every function is pure and deterministic so identical inputs give
// identical outputs across runs.
package confidence

import (
	"math"
	"sort"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Signal weights for ScoreField.
const (
	SectionWeight       = 0.4
	ExtractionWeight    = 0.6
	AgreementBonus      = 0.05
	ContradictionMalus  = 0.15
	MaxConsistencyCount = 3
)

// Consistency counts how many other sections agree or disagree with the
// chosen value of a field.
type Consistency struct {
	Agreements     int
	Contradictions int
}

// ScoreField combines the originating section's classification confidence,
// the extraction confidence and the cross-section consistency signal:
//
//	clamp(0.4*section + 0.6*llm + 0.05*min(agree,3) - 0.15*min(contradict,3))
func ScoreField(sectionConfidence, llmConfidence float64, c Consistency) float64 {
	base := SectionWeight*Clamp(sectionConfidence) + ExtractionWeight*Clamp(llmConfidence)
	adj := AgreementBonus*float64(capCount(c.Agreements)) - ContradictionMalus*float64(capCount(c.Contradictions))
	return Clamp(base + adj)
}

// ScoreEvidence scores a field from its recorded evidence.
func ScoreEvidence(e models.FieldEvidence) float64 {
	return ScoreField(e.SectionConfidence, e.LLMConfidence, Consistency{
		Agreements:     e.Agreements,
		Contradictions: e.Contradictions,
	})
}

func capCount(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxConsistencyCount {
		return MaxConsistencyCount
	}
	return n
}

// Clamp maps x into [0,1]; NaN becomes 0.
func Clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// FieldScore is one scored field as seen by ScoreDocument.
type FieldScore struct {
	Name  string
	Score float64
	Null  bool
}

// ScoreDocument is the weighted mean of non-null field scores. Fields with a
// non-positive weight or a null value do not participate; a document with no
// participating field scores 0.
func ScoreDocument(scores []FieldScore, weights Weights) float64 {
	var sum, total float64
	for _, s := range scores {
		if s.Null {
			continue
		}
		w := weights.For(s.Name)
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		sum += w * Clamp(s.Score)
		total += w
	}
	if total == 0 {
		return 0
	}
	return Clamp(sum / total)
}

// Category is the three-way confidence badge.
type Category string

const (
	Low    Category = "low"
	Medium Category = "medium"
	High   Category = "high"
)

// Category boundaries: low < 0.5 <= medium <= 0.8 < high.
const (
	MediumFloor   = 0.5
	MediumCeiling = 0.8
)

// Categorize is the single source of truth for badge boundaries.
func Categorize(score float64) Category {
	switch {
	case math.IsNaN(score) || score < MediumFloor:
		return Low
	case score <= MediumCeiling:
		return Medium
	default:
		return High
	}
}

// Breakdown partitions the named scores into the three categories. Names are
// sorted within each category so the result does not depend on input order.
func Breakdown(scores []FieldScore) models.ConfidenceBreakdown {
	b := models.ConfidenceBreakdown{Low: []string{}, Medium: []string{}, High: []string{}}
	for _, s := range scores {
		switch Categorize(s.Score) {
		case Low:
			b.Low = append(b.Low, s.Name)
		case Medium:
			b.Medium = append(b.Medium, s.Name)
		case High:
			b.High = append(b.High, s.Name)
		}
	}
	sort.Strings(b.Low)
	sort.Strings(b.Medium)
	sort.Strings(b.High)
	return b
}
