// Package pose defines landmark frames and the validation that decides whether
// an inbound message is usable for feature extraction.
package pose

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// LandmarkCount is the number of points the upstream pose model emits per frame.
const LandmarkCount = 33

// Landmark indices fixed by the upstream pose model.
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftWrist     = 15
	RightWrist    = 16
	LeftAnkle     = 27
	RightAnkle    = 28
)

// Landmark is one tracked body point in normalized image space.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Frame is the ordered landmark set for one time sample. A Frame shorter than
// LandmarkCount is the "no pose" marker and must never be indexed.
type Frame []Landmark

// Empty reports whether the frame carries no usable pose.
func (f Frame) Empty() bool {
	return len(f) < LandmarkCount
}

// Decode parses a text payload into a Frame.
//
// Only payloads that are not JSON at all produce an error. Valid JSON of the
// wrong shape yields an Empty frame so the stream can continue.
func Decode(data []byte) (Frame, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode landmark payload: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode landmark payload: trailing data after JSON value")
	}
	return Normalize(raw), nil
}

// Normalize accepts an arbitrary decoded JSON value and returns it as a Frame
// when it is a list of at least LandmarkCount records with numeric x and y.
// Any other shape yields nil.
func Normalize(raw any) Frame {
	items, ok := raw.([]any)
	if !ok || len(items) < LandmarkCount {
		return nil
	}

	frame := make(Frame, 0, len(items))
	for _, item := range items {
		point, ok := landmarkFrom(item)
		if !ok {
			return nil
		}
		frame = append(frame, point)
	}
	return frame
}

func landmarkFrom(item any) (Landmark, bool) {
	record, ok := item.(map[string]any)
	if !ok {
		return Landmark{}, false
	}
	x, ok := number(record["x"])
	if !ok {
		return Landmark{}, false
	}
	y, ok := number(record["y"])
	if !ok {
		return Landmark{}, false
	}
	// z and visibility are optional; present-but-non-numeric is still a bad record.
	z, ok := optionalNumber(record, "z")
	if !ok {
		return Landmark{}, false
	}
	visibility, ok := optionalNumber(record, "visibility")
	if !ok {
		return Landmark{}, false
	}
	return Landmark{X: x, Y: y, Z: z, Visibility: visibility}, true
}

func optionalNumber(record map[string]any, key string) (float64, bool) {
	value, present := record[key]
	if !present || value == nil {
		return 0, true
	}
	return number(value)
}

// number accepts float64 or json.Number values that fit a finite float64.
func number(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case json.Number:
		parsed, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
