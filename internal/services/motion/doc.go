// Package motion turns streamed body-pose landmark frames into normalized
// motion-expressiveness features for real-time audio/visual mappings.
//
// Pose detection happens upstream; this service trusts the landmarks it
// receives and owns only per-connection extraction state.
package motion
