// Package normalize turns loosely formatted scraped text into typed values.
// Every function is total: malformed input yields a zero value or false, never
// an error or a panic.
package normalize

import (
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

var suffixFactors = map[byte]int64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

var (
	decimalPattern   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	// Separators are left to ParseMagnitude, which drops every comma.
	magnitudeLocator = regexp.MustCompile(`(?i)\d[\d,]*(?:\.\d+)?(?:\s?[kmb]\b)?`)
)

// ParseMagnitude converts abbreviated counts such as "1.2K", "3M" or "1,234"
// into an integer. Fractions are truncated and negative values clamp to zero.
// Anything unparseable yields 0.
func ParseMagnitude(text string) int64 {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' {
			return -1
		}
		return r
	}, text)
	s = strings.ToUpper(s)
	if s == "" {
		return 0
	}

	factor := int64(1)
	if f, ok := suffixFactors[s[len(s)-1]]; ok {
		factor = f
		s = s[:len(s)-1]
	}
	if !decimalPattern.MatchString(s) {
		return 0
	}
	value, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0
	}
	value.Mul(value, new(big.Rat).SetInt64(factor))
	truncated := new(big.Int).Quo(value.Num(), value.Denom())
	if truncated.Sign() <= 0 || !truncated.IsInt64() {
		return 0
	}
	return truncated.Int64()
}

// MagnitudeIn finds the first count token inside a sentence such as
// "2.3K followers" and parses it with ParseMagnitude.
func MagnitudeIn(text string) int64 {
	token := magnitudeLocator.FindString(text)
	if token == "" {
		return 0
	}
	return ParseMagnitude(token)
}
