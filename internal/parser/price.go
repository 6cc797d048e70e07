package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// PriceBounds is the accepted price range in storefront currency units.
// Values outside the range are treated as extraction noise.
type PriceBounds struct {
	Min float64
	Max float64
}

// DefaultPriceBounds covers the realistic price span across storefronts.
var DefaultPriceBounds = PriceBounds{Min: 100, Max: 10_000_000}

// Contains reports whether v is inside the bounds.
func (b PriceBounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

var (
	// Digit groups optionally separated by spaces, e.g. "12 990".
	priceGroupRe = regexp.MustCompile(`\d+(?:[ \x{00A0}]+\d+)*`)
	// Standalone run of digits used as a last-resort match.
	priceFallbackRe = regexp.MustCompile(`\b\d{3,7}\b`)

	currencyCleaner = strings.NewReplacer("₸", "", "₽", "", "р.", "", "тг", "")
)

// ParsePrice extracts the first in-bounds price from free text. Returns
// false, never an error, on malformed input.
func ParsePrice(text string, bounds PriceBounds) (float64, bool) {
	if text == "" {
		return 0, false
	}
	clean := strings.TrimSpace(currencyCleaner.Replace(text))

	for _, group := range priceGroupRe.FindAllString(clean, -1) {
		if v, ok := parseDigitGroup(group); ok && bounds.Contains(v) {
			return v, true
		}
	}
	for _, m := range priceFallbackRe.FindAllString(clean, -1) {
		if v, err := strconv.ParseFloat(m, 64); err == nil && bounds.Contains(v) {
			return v, true
		}
	}
	return 0, false
}

// parseDigitGroup collapses thousand-separator spaces and strips leading
// zeros before converting.
func parseDigitGroup(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// priceFromAny converts a decoded JSON value to a price. Strings are parsed
// leniently; anything unparseable yields 0.
func priceFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		if f, ok := parseDigitGroup(s); ok {
			return f
		}
	}
	return 0
}
