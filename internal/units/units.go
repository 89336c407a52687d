// Package units provides shared constants and validation for length units.
// Acquisitions store positions in meters.
package units

import "strings"

// Unit constants
const (
	M  = "m"
	UM = "um"
	NM = "nm"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{M, UM, NM}

var perMeter = map[string]float64{
	M:  1,
	UM: 1e6,
	NM: 1e9,
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	_, ok := perMeter[unit]
	return ok
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ScalingFactor returns the factor converting meters to unit.
func ScalingFactor(unit string) (float64, bool) {
	f, ok := perMeter[unit]
	return f, ok
}

// ConvertLength converts a length in meters to the target unit. Unknown
// units leave the value in meters.
func ConvertLength(meters float64, unit string) float64 {
	if f, ok := perMeter[unit]; ok {
		return meters * f
	}
	return meters
}
