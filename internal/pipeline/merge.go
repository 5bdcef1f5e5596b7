package pipeline

import (
	"fmt"
	"sort"

	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/llm"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

type candidate struct {
	value             models.FieldValue
	llmConfidence     float64
	sectionConfidence float64
	source            string
	order             int
}

func (c candidate) base() float64 {
	return confidence.ScoreField(c.sectionConfidence, c.llmConfidence, confidence.Consistency{})
}

// merger collects per-section extraction results and resolves every field to
// its best candidate. Sections must be added in document order.
type merger struct {
	info       *models.ExtractedInformation
	candidates map[string][]candidate
	order      int
}

func newMerger(info *models.ExtractedInformation) *merger {
	return &merger{info: info, candidates: map[string][]candidate{}}
}

func (m *merger) push(path string, sec models.ClassifiedSection, raw llm.RawField) {
	m.order++
	m.candidates[path] = append(m.candidates[path], candidate{
		value:             raw.Value,
		llmConfidence:     confidence.Clamp(raw.Confidence),
		sectionConfidence: sec.Confidence,
		source:            sec.Ref(),
		order:             m.order,
	})
}

func (m *merger) add(sec models.ClassifiedSection, fields map[string]llm.RawField) {
	members := map[int]map[string]llm.RawField{}
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		raw := fields[path]
		spec, ok := models.SpecFor(path)
		if !ok || raw.Value.IsNull() || raw.Value.Kind() != spec.Kind {
			continue
		}
		if idx, isTeam := models.TeamIndex(path); isTeam {
			attr := spec.Path[len("team[]."):]
			if members[idx] == nil {
				members[idx] = map[string]llm.RawField{}
			}
			members[idx][attr] = raw
			continue
		}
		if path != spec.Path {
			continue
		}
		m.push(path, sec, raw)
	}

	local := make([]int, 0, len(members))
	for idx := range members {
		local = append(local, idx)
	}
	sort.Ints(local)
	for _, idx := range local {
		m.addMember(sec, members[idx])
	}
}

// addMember attaches a section-local team member to the global team: a member
// whose name matches an existing one is merged, anything else is appended.
func (m *merger) addMember(sec models.ClassifiedSection, attrs map[string]llm.RawField) {
	slot := -1
	if name, ok := attrs["name"]; ok {
		for i := range m.info.Team {
			if m.memberName(i).Equal(name.Value) {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		if len(m.info.Team) >= models.MaxTeamMembers {
			return
		}
		slot = len(m.info.Team)
		m.info.EnsureTeam(slot + 1)
	}
	for _, attr := range []string{"name", "title", "background"} {
		if raw, ok := attrs[attr]; ok {
			m.push(fmt.Sprintf("team[%d].%s", slot, attr), sec, raw)
		}
	}
}

// memberName is the first name candidate seen for a slot.
func (m *merger) memberName(slot int) models.FieldValue {
	if c := m.candidates[fmt.Sprintf("team[%d].name", slot)]; len(c) > 0 {
		return c[0].value
	}
	return models.Null()
}

// resolve writes the winning candidate of every field into the information
// and returns the evidence behind each score.
func (m *merger) resolve() map[string]models.FieldEvidence {
	evidence := map[string]models.FieldEvidence{}
	for path, cands := range m.candidates {
		best := cands[0]
		for _, c := range cands[1:] {
			if c.base() > best.base() {
				best = c
			}
		}
		ev := models.FieldEvidence{
			SectionConfidence: best.sectionConfidence,
			LLMConfidence:     best.llmConfidence,
		}
		for _, c := range cands {
			if c.order == best.order {
				continue
			}
			if c.value.Equal(best.value) {
				ev.Agreements++
			} else {
				ev.Contradictions++
			}
		}
		f := m.info.Field(path)
		if f == nil {
			continue
		}
		f.Value = best.value
		f.Source = best.source
		f.Confidence = confidence.ScoreEvidence(ev)
		evidence[path] = ev
	}
	return evidence
}
