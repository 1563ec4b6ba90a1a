package dateutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanDateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Trims whitespace", "  15.01.2023  ", "15.01.2023"},
		{"Collapses inner whitespace", "15   Jan \t 2023", "15 Jan 2023"},
		{"Empty string", "", ""},
		{"Already clean", "2023-01-15", "2023-01-15"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CleanDateString(tc.input))
		})
	}
}

func TestParseDayFirst(t *testing.T) {
	tests := []struct {
		name       string
		dateStr    string
		expectedOk bool
		expectedY  int
		expectedM  time.Month
		expectedD  int
	}{
		{"European dotted", "15.01.2023", true, 2023, time.January, 15},
		{"European slashed", "15/01/2023", true, 2023, time.January, 15},
		{"Dash-separated", "15-01-2023", true, 2023, time.January, 15},
		{"Single digit parts", "3.4.2025", true, 2025, time.April, 3},
		{"ISO format", "2023-01-15", true, 2023, time.January, 15},
		{"Full timestamp", "2023-01-15 10:30:45", true, 2023, time.January, 15},
		{"Month name", "15 Jan 2023", true, 2023, time.January, 15},
		{"US fallback", "01/15/2023", true, 2023, time.January, 15},
		{"Ambiguous is day first", "03.04.2025", true, 2025, time.April, 3},
		{"Padded input", "  15.01.2023 ", true, 2023, time.January, 15},
		{"Empty string", "", false, 0, 0, 0},
		{"Invalid format", "not a date", false, 0, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			date, err := ParseDayFirst(tc.dateStr)

			if tc.expectedOk {
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedY, date.Year())
				assert.Equal(t, tc.expectedM, date.Month())
				assert.Equal(t, tc.expectedD, date.Day())
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNormalizeToISO(t *testing.T) {
	tests := []struct {
		name     string
		dateStr  string
		expected string
		wantErr  bool
	}{
		{"Dotted to ISO", "15.01.2023", "2023-01-15", false},
		{"ISO stays ISO", "2023-01-15", "2023-01-15", false},
		{"Day before month", "02.03.2024", "2024-03-02", false},
		{"Unparseable", "99.99.9999", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeToISO(tc.dateStr)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, got)
			}
		})
	}
}

func TestToISODate(t *testing.T) {
	date := time.Date(2023, time.January, 15, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "2023-01-15", ToISODate(date))
}
