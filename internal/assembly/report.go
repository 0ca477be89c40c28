package assembly

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Format specifies the output format for brain reports
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMarkdown, FormatPlain:
		return Format(s), nil
	case "":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (valid: markdown, plain)", s)
}

// Report is a human-readable overview of an assembled brain
type Report struct {
	Text     string    `json:"text"`
	Sections []Section `json:"sections"`
	Format   Format    `json:"format"`
}

// Section is one titled block of a report
type Section struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// Describe renders the brain's behaviors, reaction triggers and chooser
// trees.
func Describe(b *Brain, format Format) *Report {
	sections := []Section{
		behaviorSection(b),
		triggerSection(b),
		chooserSection(b),
	}
	return &Report{
		Text:     assembleText(sections, format),
		Sections: sections,
		Format:   format,
	}
}

// behaviorSection lists behaviors grouped by class, classes sorted by name
func behaviorSection(b *Brain) Section {
	byClass := make(map[models.BehaviorClass][]string)
	for _, bh := range b.Registry.All() {
		byClass[bh.Class()] = append(byClass[bh.Class()], string(bh.ID()))
	}
	classes := make([]models.BehaviorClass, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	s := Section{Title: fmt.Sprintf("Behaviors (%d)", b.Registry.Len())}
	for _, c := range classes {
		s.Lines = append(s.Lines, fmt.Sprintf("%s: %s", c, strings.Join(byClass[c], ", ")))
	}
	return s
}

func triggerSection(b *Brain) Section {
	triggers := b.Triggers()
	s := Section{Title: fmt.Sprintf("Reaction triggers (%d)", len(triggers))}
	for _, t := range triggers {
		line := fmt.Sprintf("%d. %s [%s] -> %s", t.Priority, t.Trigger, t.Strategy, t.Behavior)
		if !t.Enabled {
			line += " (disabled)"
		}
		s.Lines = append(s.Lines, line)
	}
	return s
}

func chooserSection(b *Brain) Section {
	s := Section{Title: "Choosers"}
	s.Lines = append(s.Lines, chooserLines(&b.Config.Choosers.Freeplay, 0)...)
	if sc := b.Config.Choosers.Sparks; sc != nil {
		s.Lines = append(s.Lines, chooserLines(sc, 0)...)
	}
	return s
}

func chooserLines(c *models.ChooserConfig, depth int) []string {
	if c == nil {
		return nil
	}
	line := fmt.Sprintf("%s%s (%s)", strings.Repeat("  ", depth), c.Name, c.Type)
	var members []string
	for _, id := range c.Behaviors {
		members = append(members, string(id))
	}
	for _, g := range c.Groups {
		members = append(members, "group:"+g)
	}
	if len(members) > 0 {
		line += ": " + strings.Join(members, ", ")
	}
	if c.Fallback != "" {
		line += " else " + string(c.Fallback)
	}
	lines := []string{line}
	for _, child := range []*models.ChooserConfig{c.Delegate, c.Setup, c.Building} {
		lines = append(lines, chooserLines(child, depth+1)...)
	}
	return lines
}

// assembleText combines sections into the final report text
func assembleText(sections []Section, format Format) string {
	var parts []string

	switch format {
	case FormatPlain:
		for i, s := range sections {
			if i > 0 {
				parts = append(parts, "")
			}
			parts = append(parts, s.Title+":")
			for _, l := range s.Lines {
				parts = append(parts, "  "+l)
			}
		}

	default: // FormatMarkdown
		parts = append(parts, "## Brain")
		for _, s := range sections {
			parts = append(parts, "", fmt.Sprintf("### %s", s.Title), "")
			for _, l := range s.Lines {
				parts = append(parts, "- "+l)
			}
		}
	}

	return strings.Join(parts, "\n") + "\n"
}
