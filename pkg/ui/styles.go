// Package ui holds the terminal styles shared by the verify and memory
// status reports.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color Palette
// This is the single source of truth for all report colors.
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // Soft pastel salmon pink - primary accent
	mintGreen   = lipgloss.Color("#A8E6CF") // Soft mint green - success
	amber       = lipgloss.Color("#FFD59E") // Soft amber - warnings and aging entries
	mutedGray   = lipgloss.Color("#6B7280") // Muted gray - secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // Bright white - primary text
)

// Common Styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	PassStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(amber)

	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	TextStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)

// Mark renders a pass or fail marker.
func Mark(ok bool) string {
	if ok {
		return PassStyle.Render("✓")
	}
	return FailStyle.Render("✗")
}

// Status renders PASS or FAIL.
func Status(ok bool) string {
	if ok {
		return PassStyle.Render("PASS")
	}
	return FailStyle.Render("FAIL")
}

// KeyValues renders aligned "key  value" rows.
func KeyValues(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s", MutedStyle.Render(r[0]+strings.Repeat(" ", width-lipgloss.Width(r[0]))), TextStyle.Render(r[1]))
	}
	return b.String()
}
