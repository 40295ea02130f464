package i18n

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
)

var (
	// ErrMissingLocale is returned when no locale was supplied
	ErrMissingLocale = errors.New("i18n: locale is required")
	// ErrInvalidLocale is returned when the locale cannot be parsed as a BCP 47 tag
	ErrInvalidLocale = errors.New("i18n: invalid locale")
	// ErrInvalidNumber is returned for NaN and infinite values
	ErrInvalidNumber = errors.New("i18n: value has no plural category")
)

// OtherKey is the catch-all case key
const OtherKey = "other"

// Category is a CLDR plural category
type Category int

const (
	Other Category = iota
	Zero
	One
	Two
	Few
	Many
)

func (c Category) String() string {
	switch c {
	case Zero:
		return "zero"
	case One:
		return "one"
	case Two:
		return "two"
	case Few:
		return "few"
	case Many:
		return "many"
	default:
		return OtherKey
	}
}

// NoPluralFormError reports a value for which none of the supplied cases apply
type NoPluralFormError struct {
	Value    float64
	Category Category
	Locale   string
}

func (e *NoPluralFormError) Error() string {
	return fmt.Sprintf("no plural message found for value %q (category %s, locale %s)",
		FormatNumber(e.Value), e.Category, e.Locale)
}

// FormatNumber renders value in its shortest decimal form, as used by exact case keys
func FormatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// ExactKey returns the exact-match case key for value, e.g. "=1"
func ExactKey(value float64) string {
	return "=" + FormatNumber(value)
}

// ParseLocale validates locale and returns its language tag
func ParseLocale(locale string) (language.Tag, error) {
	if strings.TrimSpace(locale) == "" {
		return language.Und, ErrMissingLocale
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return language.Und, fmt.Errorf("%w %q: %w", ErrInvalidLocale, locale, err)
	}
	return tag, nil
}

// PluralCategory returns the cardinal plural category of value in locale
func PluralCategory(value float64, locale string) (Category, error) {
	tag, err := ParseLocale(locale)
	if err != nil {
		return Other, err
	}
	return categoryFor(tag, value)
}

func categoryFor(tag language.Tag, value float64) (Category, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Other, fmt.Errorf("%w: %v", ErrInvalidNumber, value)
	}

	i, v, w, f, t := operands(value)
	switch plural.Cardinal.MatchPlural(tag, i, v, w, f, t) {
	case plural.Zero:
		return Zero, nil
	case plural.One:
		return One, nil
	case plural.Two:
		return Two, nil
	case plural.Few:
		return Few, nil
	case plural.Many:
		return Many, nil
	default:
		return Other, nil
	}
}

// maxIntegerDigits keeps the integer operand within int range.
// Larger values keep their low digits, so modulo rules still apply, and stay above
// every small range a rule can test.
const maxIntegerDigits = 9

// operands computes the CLDR operands of the shortest decimal rendering of value:
// integer digits i, visible fraction digit count v (and w without trailing zeros),
// visible fraction digits f (and t without trailing zeros).
func operands(value float64) (i, v, w, f, t int) {
	s := FormatNumber(math.Abs(value))
	intPart, fracPart, _ := strings.Cut(s, ".")

	if len(intPart) > maxIntegerDigits {
		low, _ := strconv.Atoi(intPart[len(intPart)-maxIntegerDigits:])
		i = int(math.Pow10(maxIntegerDigits)) + low
	} else {
		i, _ = strconv.Atoi(intPart)
	}

	if len(fracPart) > maxIntegerDigits {
		fracPart = fracPart[:maxIntegerDigits]
	}
	v = len(fracPart)
	f, _ = strconv.Atoi(fracPart)

	trimmed := strings.TrimRight(fracPart, "0")
	w = len(trimmed)
	t, _ = strconv.Atoi(trimmed)
	return i, v, w, f, t
}

// Resolve picks the case key for value from cases.
//
// An exact "=<value>" key wins, then the locale's plural category, then "other".
// When none is present a *NoPluralFormError naming value is returned.
func Resolve(value float64, cases []string, locale string) (string, error) {
	tag, err := ParseLocale(locale)
	if err != nil {
		return "", err
	}
	return resolve(tag, locale, value, cases)
}

func resolve(tag language.Tag, locale string, value float64, cases []string) (string, error) {
	available := make(map[string]struct{}, len(cases))
	for _, c := range cases {
		available[c] = struct{}{}
	}

	if key := ExactKey(value); has(available, key) {
		return key, nil
	}

	category, err := categoryFor(tag, value)
	if err != nil {
		return "", err
	}
	if key := category.String(); has(available, key) {
		return key, nil
	}

	if has(available, OtherKey) {
		return OtherKey, nil
	}

	return "", &NoPluralFormError{Value: value, Category: category, Locale: locale}
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// FormatPlural selects the message for value and replaces every "#" with the value
func FormatPlural(value float64, messages map[string]string, locale string) (string, error) {
	cases := make([]string, 0, len(messages))
	for key := range messages {
		cases = append(cases, key)
	}

	key, err := Resolve(value, cases, locale)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(messages[key], "#", FormatNumber(value)), nil
}
