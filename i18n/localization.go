package i18n

import "golang.org/x/text/language"

// Localization resolves plural forms for one configured locale
type Localization struct {
	locale string
	tag    language.Tag
}

// NewLocalization creates a Localization for locale. An empty locale is an error.
func NewLocalization(locale string) (*Localization, error) {
	tag, err := ParseLocale(locale)
	if err != nil {
		return nil, err
	}
	return &Localization{locale: locale, tag: tag}, nil
}

// Locale returns the configured locale
func (l *Localization) Locale() string {
	return l.locale
}

// Tag returns the parsed language tag
func (l *Localization) Tag() language.Tag {
	return l.tag
}

// Category returns the plural category of value
func (l *Localization) Category(value float64) (Category, error) {
	return categoryFor(l.tag, value)
}

// Resolve picks the case key for value, see Resolve
func (l *Localization) Resolve(value float64, cases []string) (string, error) {
	return resolve(l.tag, l.locale, value, cases)
}

// Format selects and renders a message, see FormatPlural
func (l *Localization) Format(value float64, messages map[string]string) (string, error) {
	return FormatPlural(value, messages, l.locale)
}
