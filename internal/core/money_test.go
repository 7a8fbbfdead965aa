package core

import (
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"0", "0", true},
		{"1.5", "1.5", true},
		{"1,5", "1.5", true},
		{" 2.50 ", "2.5", true},
		{"1.234.567", "1234567", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"600000", "600000", true},
		{"1.000", "1000", true},
		{"12.500", "12500", true},
		{"0.500", "0.5", true},
		{"1.50", "1.5", true},
		{"1234.567", "1234.567", true},
		{"-1", "", false},
		{"+1", "", false},
		{"abc", "", false},
		{"12a", "", false},
		{"", "", false},
		{"   ", "", false},
		{".", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestParseAmountOrZero(t *testing.T) {
	if !ParseAmountOrZero("nope").IsZero() {
		t.Fatalf("unparsable input should count as zero")
	}
	if ParseAmountOrZero("10").Cmp(NewAmount(10)) != 0 {
		t.Fatalf("expected 10")
	}
}

func TestFormatAmount(t *testing.T) {
	es := language.MustParse("es-CL")
	en := language.MustParse("en-US")
	million := NewAmount(1000000)
	half, _ := ParseAmount("1500.5")
	neg := NewAmount(-250000)
	huge, _ := ParseAmount("9007199254740993")
	enormous, _ := ParseAmount("123456789012345678901234")

	cases := []struct {
		name   string
		value  *Amount
		locale language.Tag
		want   string
	}{
		{"chilean pesos", &million, es, "$1.000.000"},
		{"us dollars", &million, en, "$1,000,000"},
		{"nil renders zero", nil, es, "$0"},
		{"fraction kept for dollars", &half, en, "$1,500.5"},
		{"negative", &neg, es, "-$250.000"},
		{"past float precision", &huge, es, "$9.007.199.254.740.993"},
		{"past int64", &enormous, es, "$123.456.789.012.345.678.901.234"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatAmount(tc.value, tc.locale); got != tc.want {
				t.Errorf("FormatAmount() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatAmountStringInvalidRendersZero(t *testing.T) {
	if got := FormatAmountString("NaN", language.MustParse("es-CL")); got != "$0" {
		t.Fatalf("got %q", got)
	}
}

func TestFormattedAmountParsesBack(t *testing.T) {
	es := language.MustParse("es-CL")
	for _, units := range []int64{1000, 12500, 999999, 1000000} {
		a := NewAmount(units)
		shown := strings.TrimPrefix(FormatAmount(&a, es), "$")
		got, err := ParseAmount(shown)
		if err != nil || !got.Equal(a) {
			t.Errorf("ParseAmount(%q) = %s, %v; want %d", shown, got, err, units)
		}
	}
}
