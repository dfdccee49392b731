package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Decay configuration
}

// LoadCalibration loads decay weights from a JSON calibration file.
// If the file doesn't exist or can't be parsed, returns default weights
// with an error so the caller can log and degrade gracefully. Partial
// configurations are merged with defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read scoring calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse scoring calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	merged := MergeCalibration(DefaultWeights(), &config.Weights)
	logCalibrationOverrides(merged)
	return merged, nil
}

// MergeCalibration merges override weights with base weights. Only set
// values from the override are applied, allowing partial overrides in the
// calibration file.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		base = DefaultWeights()
	}
	result := *base
	result.Decay = append([]float64(nil), base.Decay...)

	if override == nil {
		return &result
	}
	if len(override.Decay) > 0 {
		result.Decay = append([]float64(nil), override.Decay...)
	}
	if override.WindowDays > 0 {
		result.WindowDays = override.WindowDays
	}
	return &result
}

// logCalibrationOverrides logs which weights differ from defaults.
func logCalibrationOverrides(loaded *Weights) {
	defaults := DefaultWeights()

	decayChanged := len(loaded.Decay) != len(defaults.Decay)
	if !decayChanged {
		for i := range loaded.Decay {
			if loaded.Decay[i] != defaults.Decay[i] {
				decayChanged = true
				break
			}
		}
	}

	switch {
	case decayChanged || loaded.WindowDays != defaults.WindowDays:
		slog.Info("loaded scoring calibration with overrides",
			"decay", loaded.Decay,
			"window_days", loaded.WindowDays)
	default:
		slog.Info("loaded scoring calibration (using all defaults)")
	}
}
