package prompts

import (
	"fmt"
	"maps"

	"signsync/internal/services"
)

// SectionProgress counts prompts already recorded in one section.
type SectionProgress struct {
	MainIndex     int `json:"mainIndex"`
	TutorialIndex int `json:"tutorialIndex"`
}

// Index returns the counter used in the given mode.
func (p SectionProgress) Index(tutorial bool) int {
	if tutorial {
		return p.TutorialIndex
	}
	return p.MainIndex
}

// Progress maps section names to their counters.
type Progress map[string]SectionProgress

// Clone returns an independent copy.
func (p Progress) Clone() Progress {
	if p == nil {
		return Progress{}
	}
	return maps.Clone(p)
}

// Reconcile aligns progress with a collection: unknown sections are dropped,
// new ones start at zero, and indexes are clamped to the section length.
func Reconcile(progress Progress, collection *Collection) Progress {
	out := Progress{}
	if collection == nil {
		return out
	}
	for _, section := range collection.Sections {
		current := progress[section.Name]
		current.MainIndex = clamp(current.MainIndex, len(section.MainPrompts))
		current.TutorialIndex = clamp(current.TutorialIndex, len(section.TutorialPrompts))
		out[section.Name] = current
	}
	return out
}

// Advance returns a copy of progress with the section's counter for the given
// mode moved forward by one. The counter never passes the section length.
func Advance(progress Progress, collection *Collection, sectionName string, tutorial bool) (Progress, error) {
	section, ok := collection.Section(sectionName)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "prompts", "advance",
			fmt.Sprintf("unknown section %q", sectionName), nil)
	}
	out := progress.Clone()
	current := out[sectionName]
	if tutorial {
		current.TutorialIndex = clamp(current.TutorialIndex+1, len(section.TutorialPrompts))
	} else {
		current.MainIndex = clamp(current.MainIndex+1, len(section.MainPrompts))
	}
	out[sectionName] = current
	return out, nil
}

func clamp(value, limit int) int {
	if value < 0 {
		return 0
	}
	if value > limit {
		return limit
	}
	return value
}
