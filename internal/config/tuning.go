package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxFileSize bounds the size of a tuning file.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// TuningConfig holds the processing options. Every field is optional:
// nil means "use the default", which the Get* methods supply.
type TuningConfig struct {
	// Reader params
	UnitScalingFactor        *float64 `json:"unit_scaling_factor,omitempty"`
	ZScalingFactor           *float64 `json:"z_scaling_factor,omitempty"`
	ValidOnly                *bool    `json:"valid_only,omitempty"`
	DetectLastValidIteration *bool    `json:"detect_last_valid_iteration,omitempty"`
	UseWeightedLocalizations *bool    `json:"use_weighted_localizations,omitempty"`

	// Filter params
	MinNumLocPerTrace *int        `json:"min_num_loc_per_trace,omitempty"`
	EFORange          *[2]float64 `json:"efo_range,omitempty"` // [min, max) in Hz
	CFRRange          *[2]float64 `json:"cfr_range,omitempty"`

	// Histogram params
	EFOBinSizeHz          *float64 `json:"efo_bin_size_hz,omitempty"` // 0 selects bins automatically
	ScottBins             *bool    `json:"scott_bins,omitempty"`
	RobustThresholdFactor *float64 `json:"robust_threshold_factor,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default value.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		UnitScalingFactor:        ptrFloat64(1e9),
		ZScalingFactor:           ptrFloat64(1.0),
		ValidOnly:                ptrBool(true),
		DetectLastValidIteration: ptrBool(true),
		UseWeightedLocalizations: ptrBool(false),
		MinNumLocPerTrace:        ptrInt(1),
		EFOBinSizeHz:             ptrFloat64(1000),
		ScottBins:                ptrBool(false),
		RobustThresholdFactor:    ptrFloat64(2.0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB. Fields omitted
// from the JSON file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MinEFOBinSizeHz is the smallest fixed EFO histogram bin width accepted.
const MinEFOBinSizeHz = 1.0

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.UnitScalingFactor != nil && *c.UnitScalingFactor <= 0 {
		return fmt.Errorf("unit_scaling_factor must be positive, got %g", *c.UnitScalingFactor)
	}
	if c.ZScalingFactor != nil && *c.ZScalingFactor <= 0 {
		return fmt.Errorf("z_scaling_factor must be positive, got %g", *c.ZScalingFactor)
	}
	if c.MinNumLocPerTrace != nil && *c.MinNumLocPerTrace < 1 {
		return fmt.Errorf("min_num_loc_per_trace must be at least 1, got %d", *c.MinNumLocPerTrace)
	}
	if c.EFOBinSizeHz != nil && *c.EFOBinSizeHz != 0 && !(*c.EFOBinSizeHz >= MinEFOBinSizeHz) {
		return fmt.Errorf("efo_bin_size_hz must be 0 (automatic) or at least %g, got %g", MinEFOBinSizeHz, *c.EFOBinSizeHz)
	}
	if c.RobustThresholdFactor != nil && *c.RobustThresholdFactor < 0 {
		return fmt.Errorf("robust_threshold_factor must be non-negative, got %g", *c.RobustThresholdFactor)
	}
	if c.EFORange != nil && c.EFORange[0] == c.EFORange[1] {
		return fmt.Errorf("efo_range must not be empty, got %v", *c.EFORange)
	}
	if c.CFRRange != nil && c.CFRRange[0] == c.CFRRange[1] {
		return fmt.Errorf("cfr_range must not be empty, got %v", *c.CFRRange)
	}
	return nil
}

// GetUnitScalingFactor returns the unit_scaling_factor value or the default.
func (c *TuningConfig) GetUnitScalingFactor() float64 {
	if c.UnitScalingFactor == nil {
		return 1e9 // meters to nanometers
	}
	return *c.UnitScalingFactor
}

// GetZScalingFactor returns the z_scaling_factor value or the default.
func (c *TuningConfig) GetZScalingFactor() float64 {
	if c.ZScalingFactor == nil {
		return 1.0
	}
	return *c.ZScalingFactor
}

// GetValidOnly returns the valid_only value or the default.
func (c *TuningConfig) GetValidOnly() bool {
	if c.ValidOnly == nil {
		return true
	}
	return *c.ValidOnly
}

// GetDetectLastValidIteration returns the detect_last_valid_iteration value or the default.
func (c *TuningConfig) GetDetectLastValidIteration() bool {
	if c.DetectLastValidIteration == nil {
		return true
	}
	return *c.DetectLastValidIteration
}

// GetUseWeightedLocalizations returns the use_weighted_localizations value or the default.
func (c *TuningConfig) GetUseWeightedLocalizations() bool {
	if c.UseWeightedLocalizations == nil {
		return false
	}
	return *c.UseWeightedLocalizations
}

// GetMinNumLocPerTrace returns the min_num_loc_per_trace value or the default.
func (c *TuningConfig) GetMinNumLocPerTrace() int {
	if c.MinNumLocPerTrace == nil {
		return 1
	}
	return *c.MinNumLocPerTrace
}

// GetEFORange returns the efo_range and whether it is set.
func (c *TuningConfig) GetEFORange() ([2]float64, bool) {
	if c.EFORange == nil {
		return [2]float64{}, false
	}
	return *c.EFORange, true
}

// GetCFRRange returns the cfr_range and whether it is set.
func (c *TuningConfig) GetCFRRange() ([2]float64, bool) {
	if c.CFRRange == nil {
		return [2]float64{}, false
	}
	return *c.CFRRange, true
}

// GetEFOBinSizeHz returns the efo_bin_size_hz value or the default.
func (c *TuningConfig) GetEFOBinSizeHz() float64 {
	if c.EFOBinSizeHz == nil {
		return 1000
	}
	return *c.EFOBinSizeHz
}

// GetScottBins returns the scott_bins value or the default.
func (c *TuningConfig) GetScottBins() bool {
	if c.ScottBins == nil {
		return false // Freedman–Diaconis
	}
	return *c.ScottBins
}

// GetRobustThresholdFactor returns the robust_threshold_factor value or the default.
func (c *TuningConfig) GetRobustThresholdFactor() float64 {
	if c.RobustThresholdFactor == nil {
		return 2.0
	}
	return *c.RobustThresholdFactor
}
