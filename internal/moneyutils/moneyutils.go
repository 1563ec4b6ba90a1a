// Package moneyutils provides amount standardization and currency detection
// for raw statement values.
package moneyutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// symbolRe strips currency symbols and whitespace from raw amount strings.
var symbolRe = regexp.MustCompile(`[€$£¥₽₣₤₹₺₩฿₴\s]`)

// currencySymbols maps a symbol found in the raw value to its ISO code.
// Order matters only for determinism of tests, so it is a slice.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"$", "USD"},
	{"€", "EUR"},
	{"₽", "RUB"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

// StandardizeAmount converts locale-formatted amount strings to a form
// decimal.NewFromString accepts. Handles "1 234,56", "1.234,56", "1,234.56",
// "1'234.56" and plain "1234,56".
func StandardizeAmount(amountStr string) string {
	amountStr = symbolRe.ReplaceAllString(amountStr, "")
	amountStr = strings.ReplaceAll(amountStr, "'", "")
	amountStr = strings.ReplaceAll(amountStr, " ", "")

	hasComma := strings.Contains(amountStr, ",")
	hasDot := strings.Contains(amountStr, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(amountStr, ".") < strings.LastIndex(amountStr, ",") {
			// European: 1.234,56
			amountStr = strings.ReplaceAll(amountStr, ".", "")
			amountStr = strings.ReplaceAll(amountStr, ",", ".")
		} else {
			// Anglo: 1,234.56
			amountStr = strings.ReplaceAll(amountStr, ",", "")
		}
	case hasComma:
		parts := strings.Split(amountStr, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			// Decimal comma: 1234,56
			amountStr = strings.ReplaceAll(amountStr, ",", ".")
		} else {
			// Thousands comma: 1,234 or 1,234,567
			amountStr = strings.ReplaceAll(amountStr, ",", "")
		}
	}

	return amountStr
}

// ParseAmount parses a raw amount string into a decimal value.
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	standardized := StandardizeAmount(amountStr)
	if standardized == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(standardized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
	}
	return amount, nil
}

// DetectCurrency returns the ISO code of the first currency symbol found in
// the raw amount string, or fallback when none is present.
func DetectCurrency(raw, fallback string) string {
	for _, entry := range currencySymbols {
		if strings.Contains(raw, entry.symbol) {
			return entry.code
		}
	}
	return fallback
}
