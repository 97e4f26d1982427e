package openscreen

import (
	"math"
	"sort"
)

// TrimRegion is a contiguous source-time interval excluded from the export.
// Bounds are source-timeline milliseconds with StartMs < EndMs.
type TrimRegion struct {
	StartMs int64 `yaml:"start_ms"`
	EndMs   int64 `yaml:"end_ms"`
}

// LengthMs returns the trimmed interval length.
func (t TrimRegion) LengthMs() int64 {
	return t.EndMs - t.StartMs
}

// sortedTrims returns a copy of trims ordered ascending by start time.
// Callers may supply regions unsorted; the mapping walk requires order.
func sortedTrims(trims []TrimRegion) []TrimRegion {
	if len(trims) == 0 {
		return nil
	}
	out := make([]TrimRegion, len(trims))
	copy(out, trims)
	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out
}

// EffectiveDurationMs returns the duration of the output timeline after the
// trim regions are removed: sourceMs - sum of trim lengths, floored at zero.
func EffectiveDurationMs(sourceMs int64, trims []TrimRegion) int64 {
	d := sourceMs
	for _, t := range trims {
		d -= t.LengthMs()
	}
	if d < 0 {
		return 0
	}
	return d
}

// MapEffectiveToSource maps a position on the trimmed (effective) timeline to
// the corresponding position on the source timeline.
//
// Walking the trims in ascending start order, every trim whose start lies at
// or before the running (already-shifted) position pushes the position forward
// by the trim length. The walk stops at the first trim starting past the
// running position. With zero trims the mapping is the identity, and it is
// monotonic non-decreasing in the effective time.
func MapEffectiveToSource(effectiveMs int64, trims []TrimRegion) int64 {
	return mapEffectiveToSourceMicros(effectiveMs*1000, trims) / 1000
}

// mapEffectiveToSourceMicros is the microsecond-precision mapping used by the
// frame loop, which addresses fractional-millisecond frame instants.
func mapEffectiveToSourceMicros(effectiveMicros int64, trims []TrimRegion) int64 {
	source := effectiveMicros
	for _, t := range sortedTrims(trims) {
		if t.StartMs*1000 > source {
			break
		}
		source += t.LengthMs() * 1000
	}
	return source
}

// Segment is a contiguous source-time interval, in milliseconds.
type Segment struct {
	StartMs int64
	EndMs   int64
}

// LengthMs returns the segment length.
func (s Segment) LengthMs() int64 {
	return s.EndMs - s.StartMs
}

// SourceSegments returns the complement of the trim set over [0, sourceMs] in
// source-time order: the intervals that remain in the export. Overlapping or
// out-of-range trims are clamped and merged, so the result never overlaps.
// Audio extraction replays exactly these segments, in order.
func SourceSegments(sourceMs int64, trims []TrimRegion) []Segment {
	if sourceMs <= 0 {
		return nil
	}
	var segments []Segment
	cursor := int64(0)
	for _, t := range sortedTrims(trims) {
		start, end := t.StartMs, t.EndMs
		if end <= cursor || start >= sourceMs {
			continue
		}
		if start < cursor {
			start = cursor
		}
		if end > sourceMs {
			end = sourceMs
		}
		if start > cursor {
			segments = append(segments, Segment{StartMs: cursor, EndMs: start})
		}
		cursor = end
	}
	if cursor < sourceMs {
		segments = append(segments, Segment{StartMs: cursor, EndMs: sourceMs})
	}
	return segments
}

// TotalFrames returns the number of output frames for an effective duration at
// the given frame rate: ceil(duration * frameRate). The small epsilon guards
// against float error inflating an exact product (e.g. 2.0s * 30fps = 60, not
// 61).
func TotalFrames(effectiveMs int64, frameRate float64) int {
	if effectiveMs <= 0 || frameRate <= 0 {
		return 0
	}
	seconds := float64(effectiveMs) / 1000.0
	return int(math.Ceil(seconds*frameRate - 1e-9))
}
