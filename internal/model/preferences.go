package model

type Theme string

const (
	ThemeLight = Theme("light")
	ThemeDark  = Theme("dark")
)

func ParseTheme(s string) (Theme, bool) {
	switch s {
	case string(ThemeLight):
		return ThemeLight, true
	case string(ThemeDark):
		return ThemeDark, true
	default:
		return "", false
	}
}

// Preferences holds the ambient UI state handed to render collaborators.
// A nil SubjectFilter shows chats of every subject.
type Preferences struct {
	Theme         Theme
	SidebarOpen   bool
	SubjectFilter *string
}

func (p Preferences) Toggled() Preferences {
	if p.Theme == ThemeDark {
		p.Theme = ThemeLight
	} else {
		p.Theme = ThemeDark
	}
	return p
}
