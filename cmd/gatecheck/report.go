package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"plangate/pkg/models"
)

var (
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#6B7280")
	colorPrimary = lipgloss.Color("#60A5FA")
)

// renderReport formats a validation result for a terminal.
func renderReport(result *models.ValidationResult) string {
	var lines []string

	verdict := lipgloss.NewStyle().Bold(true)
	if result.Valid {
		lines = append(lines, verdict.Foreground(colorSuccess).Render("PLAN VALID"))
	} else {
		lines = append(lines, verdict.Foreground(colorError).Render("PLAN REJECTED"))
	}

	mutedStyle := lipgloss.NewStyle().Foreground(colorMuted)
	if result.ValidationID != "" {
		lines = append(lines, mutedStyle.Render("validation "+result.ValidationID))
	}

	lines = append(lines, findingLines("Errors", colorError, result.Errors)...)
	lines = append(lines, findingLines("Warnings", colorWarning, result.Warnings)...)

	if len(result.Corrections) > 0 {
		header := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
		lines = append(lines, "", header.Render(fmt.Sprintf("Corrections (%d)", len(result.Corrections))))
		for _, c := range result.Corrections {
			lines = append(lines, fmt.Sprintf("  ~ %s -> %s %s", c.Original, c.CorrectedTo, mutedStyle.Render("("+c.Reason+")")))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func findingLines(title string, color lipgloss.Color, findings []models.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	header := lipgloss.NewStyle().Foreground(color).Bold(true)
	severity := lipgloss.NewStyle().Foreground(color)

	lines := []string{"", header.Render(fmt.Sprintf("%s (%d)", title, len(findings)))}
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("  %s %s %s: %s",
			severity.Render("["+string(f.Severity)+"]"), f.Type, f.Component, f.Message))
	}
	return lines
}
