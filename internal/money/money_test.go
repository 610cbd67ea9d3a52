package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"1250.50", "1250.50", nil},
		{"0", "0.00", nil},
		{" 12 ", "12.00", nil},
		{"", "", ErrInvalidAmount},
		{"abc", "", ErrInvalidAmount},
		{"-1", "", ErrNegative},
		{"1.005", "", ErrTooPrecise},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if Format(got) != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, Format(got), tt.want)
		}
	}
}

func TestPercent_RoundsDown(t *testing.T) {
	tests := []struct {
		total, pct, want string
	}{
		{"10000", "80", "8000.00"},
		{"100", "33.33", "33.33"},
		{"0.05", "50", "0.02"},
		{"999.99", "12.5", "124.99"},
	}
	for _, tt := range tests {
		got := Percent(decimal.RequireFromString(tt.total), decimal.RequireFromString(tt.pct))
		if Format(got) != tt.want {
			t.Errorf("Percent(%s, %s) = %s, want %s", tt.total, tt.pct, Format(got), tt.want)
		}
	}
}

func TestValidPercentage(t *testing.T) {
	if !ValidPercentage(decimal.Zero) || !ValidPercentage(decimal.NewFromInt(100)) {
		t.Error("bounds 0 and 100 must be valid")
	}
	if ValidPercentage(decimal.NewFromInt(-1)) || ValidPercentage(decimal.RequireFromString("100.01")) {
		t.Error("values outside [0,100] must be invalid")
	}
}

func TestSum(t *testing.T) {
	got := Sum(decimal.RequireFromString("1.10"), decimal.RequireFromString("2.20"))
	if !got.Equal(decimal.RequireFromString("3.30")) {
		t.Errorf("Sum = %s", got)
	}
}
