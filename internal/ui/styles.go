// Package ui holds the terminal styling used by the fieldsync CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted styles secondary detail text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// StateIcon returns the indicator shown next to a field for its save
// state: green for confirmed, yellow for local-only, nothing for
// unanswered or in-flight values.
func StateIcon(state string) string {
	switch state {
	case "database":
		return RenderPass("✓")
	case "local":
		return RenderWarn("●")
	case "unsaved":
		return RenderMuted("…")
	default:
		return " "
	}
}
