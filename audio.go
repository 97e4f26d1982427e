package openscreen

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// audioExtractor replays the source audio track through the audio encoder.
// Only the non-trimmed source segments are replayed, in source order, and
// every buffer is restamped against a monotonic output-side audio clock so
// the concatenated track lines up with the trimmed output timeline.
type audioExtractor struct {
	reader AudioReader
	enc    AudioEncoder
	log    logrus.FieldLogger

	// Samples emitted so far; the output clock is derived from this count so
	// restamping never accumulates rounding drift.
	samplesOut int64
}

func newAudioExtractor(reader AudioReader, enc AudioEncoder, log logrus.FieldLogger) *audioExtractor {
	return &audioExtractor{reader: reader, enc: enc, log: log}
}

// Run performs the extraction pass. With no trims this is a single pass over
// [0, durationMs); with trims each segment of the complement is sought and
// replayed in order. Errors are audio-runtime errors; the caller downgrades
// to video-only instead of failing the export.
func (x *audioExtractor) Run(ctx context.Context, durationMs int64, trims []TrimRegion) error {
	segments := SourceSegments(durationMs, trims)
	for _, seg := range segments {
		if err := x.runSegment(ctx, seg); err != nil {
			return err
		}
	}
	x.log.WithFields(logrus.Fields{
		"segments": len(segments),
		"samples":  x.samplesOut,
	}).Debug("audio extraction pass complete")
	return nil
}

func (x *audioExtractor) runSegment(ctx context.Context, seg Segment) error {
	if err := x.reader.Seek(seg.StartMs * 1000); err != nil {
		return fmt.Errorf("%w: seek to %dms: %v", ErrAudioRuntime, seg.StartMs, err)
	}

	rate := x.reader.SampleRate()
	endMicros := seg.EndMs * 1000

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, err := x.reader.ReadSamples(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrAudioRuntime, err)
		}
		if samples.TimestampMicros >= endMicros {
			return nil
		}

		// Truncate the buffer crossing the segment end.
		last := false
		if remain := (endMicros - samples.TimestampMicros) * int64(rate) / 1_000_000; remain < int64(samples.SampleCount) {
			frameBytes := samples.Channels * samples.Format.BytesPerSample()
			samples.Data = samples.Data[:int(remain)*frameBytes]
			samples.SampleCount = int(remain)
			last = true
		}
		if samples.SampleCount == 0 {
			return nil
		}

		planar := x.toPlanar(samples)
		planar.TimestampMicros = x.samplesOut * 1_000_000 / int64(rate)
		x.samplesOut += int64(planar.SampleCount)

		if err := x.enc.Encode(planar); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// toPlanar converts an interleaved S16 buffer to the planar F32 layout the
// audio encoder expects. F32 buffers pass through unchanged.
func (x *audioExtractor) toPlanar(s *AudioSamples) *AudioSamples {
	if s.Format == AudioFormatF32 {
		return s
	}

	out := make([]byte, s.SampleCount*s.Channels*4)
	for ch := 0; ch < s.Channels; ch++ {
		plane := out[ch*s.SampleCount*4:]
		for i := 0; i < s.SampleCount; i++ {
			raw := int16(binary.LittleEndian.Uint16(s.Data[(i*s.Channels+ch)*2:]))
			f := float32(raw) / 32768.0
			binary.LittleEndian.PutUint32(plane[i*4:], math.Float32bits(f))
		}
	}
	return &AudioSamples{
		Data:            out,
		SampleRate:      s.SampleRate,
		Channels:        s.Channels,
		SampleCount:     s.SampleCount,
		Format:          AudioFormatF32,
		TimestampMicros: s.TimestampMicros,
	}
}
