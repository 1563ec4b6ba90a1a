// Package dateutils provides the date parsing and formatting used when
// normalizing statement rows.
package dateutils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layouts referenced by name elsewhere in the codebase.
const (
	LayoutISO      = "2006-01-02"
	LayoutDayFirst = "02.01.2006"
)

// dayFirstFormats lists the layouts tried when parsing statement dates.
// Day-first layouts come before US-style ones: the source data is European
// bank output, so 03.04.2025 means April 3rd.
var dayFirstFormats = []string{
	LayoutDayFirst,
	"02/01/2006",
	"02-01-2006",
	"2.1.2006",
	LayoutISO,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02 Jan 2006",
	"2 January 2006",
	"01/02/2006",
}

var spaceRe = regexp.MustCompile(`\s+`)

// CleanDateString trims and collapses whitespace in a raw date value.
func CleanDateString(dateStr string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(dateStr), " ")
}

// ParseDayFirst parses a raw date string, preferring day-first layouts.
func ParseDayFirst(dateStr string) (time.Time, error) {
	cleaned := CleanDateString(dateStr)
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dayFirstFormats {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// ToISODate formats a time as YYYY-MM-DD.
func ToISODate(date time.Time) string {
	return date.Format(LayoutISO)
}

// NormalizeToISO parses a raw (possibly day-first) date string and returns
// it in ISO form.
func NormalizeToISO(dateStr string) (string, error) {
	t, err := ParseDayFirst(dateStr)
	if err != nil {
		return "", err
	}
	return ToISODate(t), nil
}
