package viz

import "github.com/charmbracelet/lipgloss"

// Theme defines color scheme for the viewer
type Theme struct {
	Name    string
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Text    lipgloss.Color
	Muted   lipgloss.Color
	Border  lipgloss.Color
}

var (
	ThemeOcean = Theme{
		Name:    "ocean",
		Primary: lipgloss.Color("#00cccc"),
		Accent:  lipgloss.Color("#ff88ff"),
		Text:    lipgloss.Color("#ffffff"),
		Muted:   lipgloss.Color("#666688"),
		Border:  lipgloss.Color("#444466"),
	}

	ThemeRetroGreen = Theme{
		Name:    "retro",
		Primary: lipgloss.Color("#00ff00"),
		Accent:  lipgloss.Color("#88ff88"),
		Text:    lipgloss.Color("#00ff00"),
		Muted:   lipgloss.Color("#005500"),
		Border:  lipgloss.Color("#003300"),
	}

	ThemeMinimal = Theme{
		Name:    "minimal",
		Primary: lipgloss.Color("#ffffff"),
		Accent:  lipgloss.Color("#0088ff"),
		Text:    lipgloss.Color("#ffffff"),
		Muted:   lipgloss.Color("#888888"),
		Border:  lipgloss.Color("#555555"),
	}
)

var AllThemes = []Theme{ThemeOcean, ThemeRetroGreen, ThemeMinimal}

// NextTheme returns the theme after current, wrapping around.
func NextTheme(current Theme) Theme {
	for i, t := range AllThemes {
		if t.Name == current.Name {
			return AllThemes[(i+1)%len(AllThemes)]
		}
	}
	return AllThemes[0]
}
