package features

import (
	"math"

	"github.com/louisbranch/cuerposonoro/internal/services/motion/pose"
)

// Energy is the summed planar displacement of the energy key points between
// frames, scaled and clamped to [0,1]. Without a previous frame it is 0.
func (c Config) Energy(current, previous pose.Frame) float64 {
	if previous.Empty() {
		return 0
	}
	return clamp(displacement(current, previous, c.EnergyKeyPoints)*c.EnergyGain, 0, 1)
}

// Symmetry compares how far each wrist sits from the horizontal center:
// positive is right-heavy, negative left-heavy, 0 balanced.
func (c Config) Symmetry(current pose.Frame) float64 {
	const center = 0.5
	leftDev := center - current[pose.LeftWrist].X
	rightDev := current[pose.RightWrist].X - center
	return clamp((rightDev-leftDev)*c.SymmetryGain, -1, 1)
}

// Smoothness is the inverse of wrist jerk between frames. Without a previous
// frame it is the neutral 0.5.
func (c Config) Smoothness(current, previous pose.Frame) float64 {
	if previous.Empty() {
		return 0.5
	}
	jerk := clamp(displacement(current, previous, c.SmoothnessKeyPoints)*c.SmoothnessGain, 0, 1)
	return math.Max(0, 1-jerk)
}

// ArmAngle averages a per-arm elevation proxy: wrists above the shoulders
// push it toward 1.
func (c Config) ArmAngle(current pose.Frame) float64 {
	elevation := func(shoulder, wrist pose.Landmark) float64 {
		return clamp(shoulder.Y-wrist.Y+c.ArmAngleOffset, 0, 1)
	}
	left := elevation(current[pose.LeftShoulder], current[pose.LeftWrist])
	right := elevation(current[pose.RightShoulder], current[pose.RightWrist])
	return (left + right) / 2
}

// VerticalExtension grows with the distance between the nose and the ankle
// midpoint below it.
func (c Config) VerticalExtension(current pose.Frame) float64 {
	ankleY := (current[pose.LeftAnkle].Y + current[pose.RightAnkle].Y) / 2
	return clamp((ankleY-current[pose.Nose].Y)*c.VerticalExtensionGain, 0, 1)
}

// Raw computes all five metrics for a non-empty frame without smoothing.
func (c Config) Raw(current, previous pose.Frame) Vector {
	return Vector{
		Energy:            c.Energy(current, previous),
		Symmetry:          c.Symmetry(current),
		Smoothness:        c.Smoothness(current, previous),
		ArmAngle:          c.ArmAngle(current),
		VerticalExtension: c.VerticalExtension(current),
	}
}

func displacement(current, previous pose.Frame, indices []int) float64 {
	total := 0.0
	for _, idx := range indices {
		if idx < 0 || idx >= len(current) || idx >= len(previous) {
			continue
		}
		dx := current[idx].X - previous[idx].X
		dy := current[idx].Y - previous[idx].Y
		total += math.Hypot(dx, dy)
	}
	return total
}

// clamp bounds v to [lo,hi]; NaN collapses to the in-range value nearest 0.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}
