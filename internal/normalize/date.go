package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DatePattern locates a date inside free text and lists the layouts tried
// against each located candidate.
type DatePattern struct {
	Locate  *regexp.Regexp
	Layouts []string
}

// DefaultDatePatterns is the ordered set used by ParseLooseDate.
var DefaultDatePatterns = []DatePattern{
	{
		Locate:  regexp.MustCompile(`\b[A-Za-z]+\.? \d{1,2},? \d{4}\b`),
		Layouts: []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006", "Jan. 2, 2006"},
	},
	{
		Locate:  regexp.MustCompile(`\b\d{1,2} [A-Za-z]+,? \d{4}\b`),
		Layouts: []string{"2 January 2006", "2 January, 2006", "2 Jan 2006", "2 Jan, 2006"},
	},
	{
		Locate:  regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		Layouts: []string{"2006-01-02"},
	},
}

// septAbbrev is the one common month abbreviation time.Parse rejects.
var septAbbrev = regexp.MustCompile(`(?i)\bsept\b`)

// ParseLooseDate searches text for a calendar date using DefaultDatePatterns.
func ParseLooseDate(text string) (time.Time, bool) {
	return ParseLooseDateWith(text, DefaultDatePatterns...)
}

// ParseLooseDateWith tries each pattern in order and returns the first
// candidate that parses. The result is midnight UTC.
func ParseLooseDateWith(text string, patterns ...DatePattern) (time.Time, bool) {
	for _, p := range patterns {
		if p.Locate == nil {
			continue
		}
		for _, candidate := range p.Locate.FindAllString(text, -1) {
			candidate = septAbbrev.ReplaceAllString(candidate, "Sep")
			for _, layout := range p.Layouts {
				if t, err := time.Parse(layout, candidate); err == nil {
					return t.UTC(), true
				}
			}
		}
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006 15:04",
}

// ParseTimestamp parses an exact timestamp as found in time-marker attributes.
// Bare integers are read as unix seconds.
func ParseTimestamp(text string) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
