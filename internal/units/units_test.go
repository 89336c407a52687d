package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	for _, u := range []string{"", "mm", "NM", "µm"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true", u)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got, want := GetValidUnitsString(), "m, um, nm"; got != want {
		t.Errorf("GetValidUnitsString() = %q, want %q", got, want)
	}
}

func TestScalingFactor(t *testing.T) {
	tests := []struct {
		unit string
		want float64
		ok   bool
	}{
		{M, 1, true},
		{UM, 1e6, true},
		{NM, 1e9, true},
		{"ft", 0, false},
	}
	for _, tt := range tests {
		got, ok := ScalingFactor(tt.unit)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ScalingFactor(%q) = %g, %v; want %g, %v", tt.unit, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConvertLength(t *testing.T) {
	tests := []struct {
		meters float64
		unit   string
		want   float64
	}{
		{2.5e-9, NM, 2.5},
		{2.5e-6, UM, 2.5},
		{0.25, M, 0.25},
		{0.25, "furlong", 0.25},
	}
	for _, tt := range tests {
		if got := ConvertLength(tt.meters, tt.unit); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ConvertLength(%g, %q) = %g, want %g", tt.meters, tt.unit, got, tt.want)
		}
	}
}
