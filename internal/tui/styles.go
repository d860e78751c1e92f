package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorFg     = lipgloss.Color("#ABB2BF")
	colorMuted  = lipgloss.Color("#636B78")
	colorRed    = lipgloss.Color("#E06C75")
	colorGreen  = lipgloss.Color("#98C379")
	colorYellow = lipgloss.Color("#E5C07B")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorPurple = lipgloss.Color("#C678DD")
	colorBorder = lipgloss.Color("#3F4451")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			PaddingLeft(1)

	bodyStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Foreground(colorFg).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().Foreground(colorRed)

	onlineStyle = lipgloss.NewStyle().Foreground(colorGreen)

	offlineStyle = lipgloss.NewStyle().Foreground(colorYellow)

	userStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)

	aiStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)

	systemStyle = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)

	activeDot   = lipgloss.NewStyle().Foreground(colorPurple).Render("●")
	inactiveDot = lipgloss.NewStyle().Foreground(colorMuted).Render("○")
)
