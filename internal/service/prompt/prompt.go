// Package prompt renders the system instruction for a chat turn.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"sage-app/internal/repository/db"
)

// Context is everything the instruction depends on besides the fixed persona
type Context struct {
	Components    []db.ManualComponent
	ReturningUser bool
	Summary       *string
	Calibration   *string
}

// Build returns the persona followed by the dynamic context block
func Build(c Context) string {
	var sb strings.Builder
	sb.WriteString(persona)
	writeManual(&sb, c.Components)

	if c.ReturningUser {
		sb.WriteString("\nSESSION CONTEXT\n")
		sb.WriteString("The user is returning. They have been through at least one session before.\n")
		sb.WriteString("Do NOT run the entry sequence. Greet them as a returning user.\n")
		if c.Summary != nil && *c.Summary != "" {
			sb.WriteString("Summary of previous conversation:\n")
			sb.WriteString(*c.Summary + "\n")
		}
	}

	if c.Calibration != nil && *c.Calibration != "" {
		sb.WriteString("\nCALIBRATION RATINGS (from first session)\n")
		sb.WriteString(*c.Calibration + "\n")
	}

	return sb.String()
}

func writeManual(sb *strings.Builder, components []db.ManualComponent) {
	if len(components) == 0 {
		return
	}

	// Group by layer without reordering entries inside a layer
	sorted := make([]db.ManualComponent, len(components))
	copy(sorted, components)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Layer < sorted[j].Layer })

	sb.WriteString("\nCURRENT MANUAL CONTENTS\n")
	sb.WriteString("The user has confirmed components in their manual:\n\n")
	for _, comp := range sorted {
		fmt.Fprintf(sb, "Layer %d (%s) — %s", comp.Layer, db.LayerName(comp.Layer), comp.Type)
		if comp.Name != nil && *comp.Name != "" {
			fmt.Fprintf(sb, " — \"%s\"", *comp.Name)
		}
		fmt.Fprintf(sb, ":\n%s\n\n", comp.Content)
	}
}
