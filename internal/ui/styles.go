// Package ui holds terminal rendering helpers shared by the cutburn commands.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Adaptive colors pick a shade that reads on both light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86B300"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F07178"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#59C2FF"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#8A8A8A"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// ShouldUseColor honours NO_COLOR and CLICOLOR_FORCE, then falls back to
// whether stdout is a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return IsTerminal(os.Stdout)
}

// ConnectivityBadge renders the online/offline indicator.
func ConnectivityBadge(online bool) string {
	if online {
		return RenderPass("● online")
	}
	return RenderWarn("○ offline")
}

// PendingBadge renders the pending-writes badge, e.g. "3 pending".
// It is empty when nothing is waiting.
func PendingBadge(pending, deadLetters int) string {
	var s string
	if pending > 0 {
		s = RenderWarn(fmt.Sprintf("%d pending", pending))
	}
	if deadLetters > 0 {
		if s != "" {
			s += " "
		}
		s += RenderFail(fmt.Sprintf("%d rejected", deadLetters))
	}
	return s
}
