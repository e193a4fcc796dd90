package sheet

import (
	"math"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		value  float64
		want   string
	}{
		{"real", FormatReal, 12.5, "12.5"},
		{"real integral", FormatReal, 20, "20"},
		{"real default", "", 0.1, "0.1"},
		{"int truncates", FormatInt, 2.9, "2"},
		{"int truncates toward zero", FormatInt, -2.9, "-2"},
		{"char", FormatChar, 72, "H"},
		{"char truncates", FormatChar, 105.7, "i"},
		{"int beyond int64", FormatInt, 1e20, "100000000000000000000"},
		{"int below int64", FormatInt, -1e20, "-100000000000000000000"},
		{"int at int64 minimum", FormatInt, math.MinInt64, "-9223372036854775808"},
		{"char beyond rune range", FormatChar, 1e20, "\uFFFD"},
		{"nan", FormatInt, math.NaN(), "NaN"},
		{"positive infinity", FormatReal, math.Inf(1), "+Inf"},
		{"negative infinity", FormatChar, math.Inf(-1), "-Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Render(tt.value); got != tt.want {
				t.Errorf("%s.Render(%v) = %q, want %q", tt.format, tt.value, got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	if got := FormatInt.Apply(3.7); got != 3 {
		t.Errorf("FormatInt.Apply(3.7) = %v", got)
	}
	if got := FormatReal.Apply(3.7); got != 3.7 {
		t.Errorf("FormatReal.Apply(3.7) = %v", got)
	}
	if got := FormatInt.Apply(math.Inf(1)); !math.IsInf(got, 1) {
		t.Errorf("FormatInt.Apply(+Inf) = %v", got)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"", "real", "int", "char"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("hex"); err == nil {
		t.Error("ParseFormat(hex) succeeded")
	}
}
