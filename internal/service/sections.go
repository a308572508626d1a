package service

import (
	"regexp"
	"strconv"
	"strings"
)

var headingRe = regexp.MustCompile(`^(={1,6})\s*.+?\s*=+\s*$`)

// splitSections cuts wikitext into the lead (index 0) and one entry per
// heading, the way section edit links number them. syntheticLead is true
// when the document starts directly with a heading and the empty lead was
// inserted to keep the numbering stable.
func splitSections(text string) (sections []string, syntheticLead bool) {
	lines := strings.Split(text, "\n")
	var current []string
	started := false

	flush := func() {
		sections = append(sections, strings.Join(current, "\n"))
		current = current[:0]
	}

	for _, line := range lines {
		if headingRe.MatchString(line) {
			if !started {
				sections = append(sections, "")
				syntheticLead = true
			} else {
				flush()
			}
		}
		started = true
		current = append(current, line)
	}
	flush()
	return sections, syntheticLead
}

func joinSections(sections []string, syntheticLead bool) string {
	if syntheticLead && len(sections) > 0 && sections[0] == "" {
		return strings.Join(sections[1:], "\n")
	}
	return strings.Join(sections, "\n")
}

// replaceSection applies a section edit on top of stored pending text.
// section is the edit-form section id: "0" for the lead, "1".."n" for
// headed sections, "new" to append. Unknown ids fall back to the new text
// unchanged, matching what the edit form would have produced against a page
// that lost that section.
func replaceSection(stored, section, sectionText string) string {
	if section == "" {
		return sectionText
	}
	if section == "new" {
		if stored == "" {
			return sectionText
		}
		return stored + "\n\n" + sectionText
	}

	idx, err := strconv.Atoi(section)
	if err != nil || idx < 0 {
		return sectionText
	}

	sections, synthetic := splitSections(stored)
	if idx >= len(sections) {
		return sectionText
	}
	sections[idx] = sectionText
	if idx == 0 && sectionText != "" {
		synthetic = false
	}
	return joinSections(sections, synthetic)
}
