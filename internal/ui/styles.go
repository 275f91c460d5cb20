// Package ui renders CLI output styles.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette.
var (
	ColorAccent = lipgloss.Color("#83a598")
	ColorPass   = lipgloss.Color("#8ec07c")
	ColorWarn   = lipgloss.Color("#fabd2f")
	ColorFail   = lipgloss.Color("#fb4934")
	ColorDim    = lipgloss.Color("#928374")
	ColorHeader = lipgloss.Color("#fe8019")
)

var (
	styleAccent = lipgloss.NewStyle().Foreground(ColorAccent)
	stylePass   = lipgloss.NewStyle().Foreground(ColorPass)
	styleWarn   = lipgloss.NewStyle().Foreground(ColorWarn)
	styleFail   = lipgloss.NewStyle().Foreground(ColorFail)
	styleDim    = lipgloss.NewStyle().Foreground(ColorDim)
	styleHeader = lipgloss.NewStyle().Foreground(ColorHeader).Bold(true)
	styleBold   = lipgloss.NewStyle().Bold(true)
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor reports whether stdout is a terminal that wants color.
// NO_COLOR disables color; CLICOLOR_FORCE enables it.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderAccent renders text in the accent color.
func RenderAccent(text string) string { return styleAccent.Render(text) }

// RenderPass renders a success marker or message.
func RenderPass(text string) string { return stylePass.Render(text) }

// RenderWarn renders a warning.
func RenderWarn(text string) string { return styleWarn.Render(text) }

// RenderFail renders a failure.
func RenderFail(text string) string { return styleFail.Render(text) }

// RenderDim renders secondary text.
func RenderDim(text string) string { return styleDim.Render(text) }

// RenderBold renders text in bold.
func RenderBold(text string) string { return styleBold.Render(text) }

// Header renders a section header with an underline.
func Header(text string) string {
	upper := strings.ToUpper(text)
	line := strings.Repeat("─", len(upper))
	return fmt.Sprintf("%s\n%s", styleHeader.Render(upper), styleDim.Render(line))
}

// KeyValue renders an aligned "key: value" line.
func KeyValue(key string, value any) string {
	return fmt.Sprintf("  %s %v", styleDim.Render(fmt.Sprintf("%-14s", key+":")), value)
}
