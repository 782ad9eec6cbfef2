// Package features derives normalized motion-expressiveness metrics from pose
// frames and smooths them over the lifetime of one stream.
package features

import "github.com/louisbranch/cuerposonoro/internal/services/motion/pose"

// Vector is one feature result. Ranges: Energy, Smoothness, ArmAngle and
// VerticalExtension in [0,1]; Symmetry in [-1,1].
type Vector struct {
	Energy            float64 `json:"energy"`
	Symmetry          float64 `json:"symmetry"`
	Smoothness        float64 `json:"smoothness"`
	ArmAngle          float64 `json:"armAngle"`
	VerticalExtension float64 `json:"verticalExtension"`
}

// Neutral is the fixed result for frames without a usable pose. Smoothness
// and VerticalExtension sit at the midpoint, the magnitudes at zero.
func Neutral() Vector {
	return Vector{
		Energy:            0,
		Symmetry:          0,
		Smoothness:        0.5,
		ArmAngle:          0,
		VerticalExtension: 0.5,
	}
}

func (v Vector) blend(previous Vector, alpha float64) Vector {
	mix := func(raw, prev float64) float64 {
		return alpha*raw + (1-alpha)*prev
	}
	return Vector{
		Energy:            mix(v.Energy, previous.Energy),
		Symmetry:          mix(v.Symmetry, previous.Symmetry),
		Smoothness:        mix(v.Smoothness, previous.Smoothness),
		ArmAngle:          mix(v.ArmAngle, previous.ArmAngle),
		VerticalExtension: mix(v.VerticalExtension, previous.VerticalExtension),
	}
}

// Extractor computes feature vectors and carries the smoothing memory for a
// single stream. It is not safe for concurrent use.
type Extractor struct {
	cfg      Config
	smoothed *Vector
}

// NewExtractor returns an extractor with empty smoothing memory. cfg is
// expected to have passed Validate.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Calculate returns the smoothed features for current, using previous for the
// velocity-based metrics. An empty current frame yields Neutral and leaves the
// smoothing memory untouched.
func (e *Extractor) Calculate(current, previous pose.Frame) Vector {
	if current.Empty() {
		return Neutral()
	}

	raw := e.cfg.Raw(current, previous)
	if e.smoothed == nil {
		seed := raw
		e.smoothed = &seed
		return raw
	}

	next := raw.blend(*e.smoothed, e.cfg.SmoothingFactor)
	*e.smoothed = next
	return next
}
