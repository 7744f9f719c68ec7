package workflow

import (
	"fmt"
	"strings"
)

// Mermaid produces a Mermaid flowchart of the definition for external
// renderers. Shapes: initial state as a circle, final states as
// double-bracket subroutines, everything else as rectangles. Timed states
// are annotated with their timeout; auto transitions use dotted arrows.
func Mermaid(d *Definition) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, s := range d.States() {
		safeID := sanitizeMermaidID(s.Name)

		opener, closer := "[", "]"
		switch {
		case s.Initial:
			opener, closer = "((", "))"
		case s.Final:
			opener, closer = "[[", "]]"
		}

		label := s.Name
		if s.Timeout > 0 {
			label = fmt.Sprintf("%s <br/> timeout %s", s.Name, s.Timeout)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))
	}

	for _, t := range d.Transitions() {
		safeTo := sanitizeMermaidID(t.Dest)
		for _, src := range t.Sources {
			safeFrom := sanitizeMermaidID(src)

			arrow := "-->"
			if t.Auto {
				arrow = "-.->"
			}
			if t.Trigger != "" {
				label := strings.ReplaceAll(t.Trigger, "\"", "'")
				if t.Auto {
					arrow = fmt.Sprintf("-. \"%s\" .->", label)
				} else {
					arrow = fmt.Sprintf("-- \"%s\" -->", label)
				}
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeFrom, arrow, safeTo))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", "-", "_", ".", "_")
	return replacer.Replace(id)
}
