package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	PrimaryColor = lipgloss.Color("#00D4FF")
	AccentColor  = lipgloss.Color("#7C3AED")

	SuccessColor = lipgloss.Color("#10B981")
	ErrorColor   = lipgloss.Color("#EF4444")
	WarningColor = lipgloss.Color("#F59E0B")
	InfoColor    = lipgloss.Color("#3B82F6")

	TextColor   = lipgloss.Color("#E5E7EB")
	MutedColor  = lipgloss.Color("#9CA3AF")
	DimColor    = lipgloss.Color("#6B7280")
	BorderColor = lipgloss.Color("#4B5563")
	HighlightBg = lipgloss.Color("#2D3748")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true).
				Background(HighlightBg)

	MenuItemStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	DoneItemStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(16)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)
)

// toastStyle colours a toast by level.
func toastStyle(level string) lipgloss.Style {
	color := InfoColor
	switch level {
	case "success":
		color = SuccessColor
	case "warning":
		color = WarningColor
	case "error":
		color = ErrorColor
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#111827")).
		Background(color).
		Bold(true).
		Padding(0, 1)
}
