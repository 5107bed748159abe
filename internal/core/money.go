// Package core provides money parsing and handling utilities.
//
// This file contains the parser for user-entered amounts and the
// formatter used when amounts leave the system as text.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-entered decimal string to an amount.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted.
// Signs, exponents, thousands separators and non-positive values are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") || strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}

	amount := d.InexactFloat64()
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// FormatAmount renders an amount in its shortest exact decimal form.
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).String()
}
