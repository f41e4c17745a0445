// Package local holds user-facing texts with per-language translations.
package local

import "fmt"

type Language string

const (
	Eng = Language("en")
	Hin = Language("hi")
)

func ParseLanguage(s string) Language {
	switch Language(s) {
	case Hin:
		return Hin
	default:
		return Eng
	}
}

type Localization struct {
	language Language
	text     string
}

// TextSet is a text with its translations. Default is used for languages
// without a translation.
type TextSet struct {
	Default          string
	translationsText map[Language]string
}

func NewTrans(language Language, text string) Localization {
	return Localization{
		language: language,
		text:     text,
	}
}

func NewSet(defaultText string, localizations ...Localization) TextSet {
	set := TextSet{
		Default:          defaultText,
		translationsText: make(map[Language]string),
	}
	for _, localization := range localizations {
		set.translationsText[localization.language] = localization.text
	}
	return set
}

func (l TextSet) Text(language Language) string {
	if text, ok := l.translationsText[language]; ok {
		return text
	}
	return l.Default
}

func (l TextSet) DefaultFormat(a ...any) string {
	return fmt.Sprintf(l.Default, a...)
}

func (l TextSet) Format(language Language, a ...any) string {
	if text, ok := l.translationsText[language]; ok {
		return fmt.Sprintf(text, a...)
	}
	return l.DefaultFormat(a...)
}
