package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/louisbranch/cuerposonoro/internal/services/motion/pose"
)

// Config holds the extraction constants. It is read once at startup and
// shared read-only by every session.
type Config struct {
	SmoothingFactor       float64 `env:"CUERPO_SONORO_MOTION_SMOOTHING_FACTOR"         envDefault:"0.3"`
	EnergyGain            float64 `env:"CUERPO_SONORO_MOTION_ENERGY_GAIN"              envDefault:"10"`
	EnergyKeyPoints       []int   `env:"CUERPO_SONORO_MOTION_ENERGY_KEY_POINTS"        envDefault:"0,15,16,27,28"`
	SymmetryGain          float64 `env:"CUERPO_SONORO_MOTION_SYMMETRY_GAIN"            envDefault:"2"`
	SmoothnessGain        float64 `env:"CUERPO_SONORO_MOTION_SMOOTHNESS_GAIN"          envDefault:"5"`
	SmoothnessKeyPoints   []int   `env:"CUERPO_SONORO_MOTION_SMOOTHNESS_KEY_POINTS"    envDefault:"15,16"`
	ArmAngleOffset        float64 `env:"CUERPO_SONORO_MOTION_ARM_ANGLE_OFFSET"         envDefault:"0.5"`
	VerticalExtensionGain float64 `env:"CUERPO_SONORO_MOTION_VERTICAL_EXTENSION_GAIN"  envDefault:"1.5"`
}

// DefaultConfig returns the tuning used by the reference client mappings.
func DefaultConfig() Config {
	return Config{
		SmoothingFactor:       0.3,
		EnergyGain:            10,
		EnergyKeyPoints:       []int{pose.Nose, pose.LeftWrist, pose.RightWrist, pose.LeftAnkle, pose.RightAnkle},
		SymmetryGain:          2,
		SmoothnessGain:        5,
		SmoothnessKeyPoints:   []int{pose.LeftWrist, pose.RightWrist},
		ArmAngleOffset:        0.5,
		VerticalExtensionGain: 1.5,
	}
}

// Validate reports the first configuration value that would break the
// documented output ranges.
func (c Config) Validate() error {
	if math.IsNaN(c.SmoothingFactor) || c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("smoothing factor must be in (0,1], got %v", c.SmoothingFactor)
	}
	gains := []struct {
		name  string
		value float64
	}{
		{name: "energy gain", value: c.EnergyGain},
		{name: "symmetry gain", value: c.SymmetryGain},
		{name: "smoothness gain", value: c.SmoothnessGain},
		{name: "vertical extension gain", value: c.VerticalExtensionGain},
	}
	for _, gain := range gains {
		if math.IsNaN(gain.value) || math.IsInf(gain.value, 0) || gain.value < 0 {
			return fmt.Errorf("%s must be a finite non-negative number, got %v", gain.name, gain.value)
		}
	}
	if math.IsNaN(c.ArmAngleOffset) || math.IsInf(c.ArmAngleOffset, 0) {
		return fmt.Errorf("arm angle offset must be finite, got %v", c.ArmAngleOffset)
	}
	if err := validateKeyPoints("energy", c.EnergyKeyPoints); err != nil {
		return err
	}
	return validateKeyPoints("smoothness", c.SmoothnessKeyPoints)
}

func validateKeyPoints(name string, indices []int) error {
	if len(indices) == 0 {
		return errors.New(name + " key points are required")
	}
	for _, idx := range indices {
		if idx < 0 || idx >= pose.LandmarkCount {
			return fmt.Errorf("%s key point %d out of range [0,%d)", name, idx, pose.LandmarkCount)
		}
	}
	return nil
}
