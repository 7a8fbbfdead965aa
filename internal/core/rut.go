package core

import (
	"regexp"
	"strconv"
	"strings"
)

var rutPattern = regexp.MustCompile(`^\d{7,8}-[\dK]$`)

// NormalizeRUT strips dots and whitespace and uppercases the check digit.
func NormalizeRUT(rut string) string {
	rut = strings.ToUpper(strings.TrimSpace(rut))
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, rut)
}

// ValidateRUT checks the format and modulo-11 check digit of a Chilean RUT
// and returns it normalized as "12345678-5".
func ValidateRUT(rut string) (string, error) {
	clean := NormalizeRUT(rut)
	if !rutPattern.MatchString(clean) {
		return "", ErrInvalidRUT
	}
	body, dv, _ := strings.Cut(clean, "-")
	if CheckDigit(body) != dv {
		return "", ErrInvalidRUT
	}
	return clean, nil
}

// CheckDigit computes the RUT verifier for the numeric body. Weights cycle
// 2 to 7 from the rightmost digit.
func CheckDigit(body string) string {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	switch r := 11 - sum%11; r {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return strconv.Itoa(r)
	}
}

// FormatRUT renders a RUT with thousands dots, e.g. "12.345.678-5". Input
// that does not look like a RUT is returned normalized but otherwise as is.
func FormatRUT(rut string) string {
	clean := NormalizeRUT(rut)
	body, dv, ok := strings.Cut(clean, "-")
	if !ok || body == "" {
		return clean
	}
	var b strings.Builder
	for i, r := range body {
		if i > 0 && (len(body)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String() + "-" + dv
}
