// Package core provides money parsing and handling utilities.
//
// This file contains the Amount value type, the parser for user-entered
// decimal strings and the locale-aware currency formatter.
package core

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale is used when no locale is configured. Amount input is
// always read with its conventions.
var DefaultLocale = language.MustParse("es-CL")

// wholeUnitInput is set when the input currency has no minor unit, so a
// lone dot before three digits can only group thousands.
var wholeUnitInput = currencyScale(DefaultLocale) == 0

// Amount is an exact decimal monetary value. The zero value is 0.
type Amount struct {
	d decimal.Decimal
}

// NewAmount returns an Amount of whole currency units.
func NewAmount(units int64) Amount {
	return Amount{d: decimal.NewFromInt(units)}
}

// AmountFromDecimal wraps an existing decimal value.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d}
}

func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }

func (a Amount) IsZero() bool { return a.d.IsZero() }

func (a Amount) IsPositive() bool { return a.d.IsPositive() }

func (a Amount) IsNegative() bool { return a.d.IsNegative() }

// String renders the plain decimal form used on the wire ("1500.5").
func (a Amount) String() string { return a.d.String() }

// Float64 is for display arithmetic such as percentages.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// ParseAmount converts user input into an Amount.
//
// Leading and trailing whitespace is ignored. Both "." and "," are accepted
// as the decimal separator; when both appear, or when a separator repeats,
// the repeated or leading one is treated as a thousands separator
// ("1.234,56", "1.234.567", "1,234.56"). In a whole-unit currency such as
// CLP a single dot before exactly three digits groups thousands too, so
// "1.000" is what the formatter prints for a thousand. Signs are rejected,
// so negative input is invalid. Zero is a valid result.
//
// Examples:
//
//	ParseAmount("1500")      -> 1500, nil
//	ParseAmount(" 12,5 ")    -> 12.5, nil
//	ParseAmount("1.234.567") -> 1234567, nil
//	ParseAmount("1.000")     -> 1000, nil
//	ParseAmount("-3")        -> ErrInvalidAmount
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Amount{}, ErrInvalidAmount
	}

	s = normalizeSeparators(s)

	digits := 0
	dots := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.':
			dots++
		default:
			return Amount{}, ErrInvalidAmount
		}
	}
	if digits == 0 || dots > 1 {
		return Amount{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{d: d}, nil
}

// ParseAmountOrZero is the lenient form used for totals: anything
// unparsable counts as zero.
func ParseAmountOrZero(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		return Amount{}
	}
	return a
}

func normalizeSeparators(s string) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")
	switch {
	case commas > 0 && dots > 0:
		// The separator that appears last is the decimal one.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		return strings.Replace(s, ",", ".", 1)
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case dots == 1 && wholeUnitInput && groupsThousands(s):
		return strings.Replace(s, ".", "", 1)
	}
	return s
}

// groupsThousands reports whether s looks like "1.000": one to three
// leading digits, not starting with 0, then exactly three digits.
func groupsThousands(s string) bool {
	i := strings.IndexByte(s, '.')
	return i >= 1 && i <= 3 && s[0] != '0' && len(s)-i-1 == 3
}

// FormatAmount renders value as a currency string for the locale, with
// thousands separators and no forced decimals on whole values. A nil value
// renders as zero.
func FormatAmount(value *Amount, locale language.Tag) string {
	var a Amount
	if value != nil {
		a = *value
	}

	unit, _ := currency.FromTag(locale)
	scale := currencyScale(locale)
	rounded := a.d.Round(int32(scale))

	p := message.NewPrinter(locale)
	abs := rounded.Abs()
	formatted := groupWhole(p, abs.Truncate(0))
	if frac := fractionDigits(abs, scale); frac != "" {
		formatted += decimalSeparator(p) + frac
	}

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return sign + currencySymbol(unit) + formatted
}

func currencyScale(locale language.Tag) int {
	unit, _ := currency.FromTag(locale)
	scale, _ := currency.Standard.Rounding(unit)
	if scale < 0 {
		return 0
	}
	return scale
}

var maxExactWhole = decimal.NewFromInt(math.MaxInt64)

// groupWhole renders a non-negative integral value with the locale's digit
// grouping. Values past int64 are grouped by hand with the same separator.
func groupWhole(p *message.Printer, whole decimal.Decimal) string {
	if whole.LessThanOrEqual(maxExactWhole) {
		return p.Sprint(number.Decimal(whole.IntPart()))
	}
	sep := ""
	if r := []rune(p.Sprint(number.Decimal(1000000))); len(r) > 7 {
		sep = string(r[1])
	}
	digits := whole.String()
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(c)
	}
	return b.String()
}

// fractionDigits returns the significant fraction digits of abs, without
// trailing zeros.
func fractionDigits(abs decimal.Decimal, scale int) string {
	if scale == 0 {
		return ""
	}
	s := abs.StringFixed(int32(scale))
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return ""
	}
	return strings.TrimRight(s[i+1:], "0")
}

func decimalSeparator(p *message.Printer) string {
	if r := []rune(p.Sprint(number.Decimal(1.5, number.MinFractionDigits(1)))); len(r) == 3 {
		return string(r[1])
	}
	return "."
}

// FormatAmountString formats raw user input, rendering anything
// unparsable as zero.
func FormatAmountString(raw string, locale language.Tag) string {
	a := ParseAmountOrZero(raw)
	return FormatAmount(&a, locale)
}

var dollarSigned = []currency.Unit{
	currency.USD,
	currency.MustParseISO("CLP"),
	currency.MustParseISO("MXN"),
	currency.MustParseISO("ARS"),
	currency.MustParseISO("COP"),
}

// currencySymbol returns the narrow symbol for the peso and dollar
// currencies the backend deals in and the ISO code for anything else.
func currencySymbol(unit currency.Unit) string {
	for _, u := range dollarSigned {
		if u == unit {
			return "$"
		}
	}
	if unit == currency.EUR {
		return "€"
	}
	return unit.String() + " "
}
