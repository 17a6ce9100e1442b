// internal/ui/style/palette.go
package style

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

var (
	Cyan    = lipgloss.Color("#00E5FF") // Primary highlight
	Magenta = lipgloss.Color("#FF1B6B") // Accent
	Yellow  = lipgloss.Color("#FFB500") // Warnings
	Green   = lipgloss.Color("#2AFFAA") // Healthy / success
	Red     = lipgloss.Color("#FF5555") // Liquidation risk / errors
	Orange  = lipgloss.Color("#FF8C42")

	Base01 = lipgloss.Color("#6C7280") // Muted text
	Base2  = lipgloss.Color("#ECEFF4") // Primary text
)

// Palette provides a centralized color management
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
}

// DefaultPalette returns the default color palette
func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Secondary: Magenta,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,
		Text:      Base2,
		TextMuted: Base01,
	}
}

// RiskColor returns the colour of a liquidation risk tier.
func RiskColor(level lending.RiskLevel) lipgloss.Color {
	switch level {
	case lending.RiskCritical:
		return Red
	case lending.RiskHigh:
		return Orange
	case lending.RiskMedium:
		return Yellow
	case lending.RiskLow:
		return Green
	default:
		return Base01
	}
}

// Risk renders a risk level in its color.
func Risk(level lending.RiskLevel) string {
	return lipgloss.NewStyle().Foreground(RiskColor(level)).Bold(level == lending.RiskCritical).Render(string(level))
}

// Title renders a section heading.
func Title(s string) string {
	return lipgloss.NewStyle().Foreground(DefaultPalette().Primary).Bold(true).Render(s)
}

// Muted renders secondary text.
func Muted(s string) string {
	return lipgloss.NewStyle().Foreground(DefaultPalette().TextMuted).Render(s)
}

// Error renders an error line.
func Error(s string) string {
	return lipgloss.NewStyle().Foreground(DefaultPalette().Error).Render(s)
}
