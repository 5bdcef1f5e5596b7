package pipeline

import (
	"sort"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/llm"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// FallbackConfidence is assigned to the single section produced when
// classification yields nothing usable.
const FallbackConfidence = 0.3

// validateSections turns classifier candidates into sections: unknown labels
// become unclassified, pages outside the document are dropped, and ordinals
// are assigned per type in document order.
func validateSections(candidates []llm.SectionCandidate, parsed *models.ParsedDocument) []models.ClassifiedSection {
	pageCount := len(parsed.Pages)
	var out []models.ClassifiedSection
	for _, cand := range candidates {
		pages := cleanPages(cand.Pages, pageCount)
		if len(pages) == 0 {
			continue
		}
		t := models.ParseSectionType(cand.Label)
		conf := confidence.Clamp(cand.Confidence)
		if t == models.SectionUnclassified && conf > models.UnclassifiedCeiling {
			conf = models.UnclassifiedCeiling
		}
		out = append(out, models.ClassifiedSection{Type: t, Pages: pages, Confidence: conf})
	}
	// Stable, so ties on first page keep classifier order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pages[0] < out[j].Pages[0] })

	ordinals := map[models.SectionType]int{}
	for i := range out {
		ordinals[out[i].Type]++
		out[i].Ordinal = ordinals[out[i].Type]
		out[i].Text = sectionText(parsed, out[i].Pages)
	}
	return out
}

func cleanPages(pages []int, pageCount int) []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range pages {
		if p < 1 || p > pageCount || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func sectionText(parsed *models.ParsedDocument, pages []int) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if text := strings.TrimSpace(parsed.Pages[p-1].Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// fallbackSection covers the whole document with one unclassified section.
func fallbackSection(parsed *models.ParsedDocument) models.ClassifiedSection {
	pages := make([]int, len(parsed.Pages))
	for i := range pages {
		pages[i] = i + 1
	}
	return models.ClassifiedSection{
		Type:       models.SectionUnclassified,
		Ordinal:    1,
		Pages:      pages,
		Confidence: FallbackConfidence,
		Text:       parsed.RawText,
	}
}

// allUnclassified reports whether the classifier recognized nothing. An empty
// slice counts.
func allUnclassified(sections []models.ClassifiedSection) bool {
	for _, s := range sections {
		if s.Type != models.SectionUnclassified {
			return false
		}
	}
	return true
}
