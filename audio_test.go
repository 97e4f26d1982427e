package openscreen

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
)

// mockAudioReader serves interleaved S16 silence from a synthetic track,
// recording seeks.
type mockAudioReader struct {
	rate     int
	channels int
	totalMs  int64
	posFrame int64 // next sample index per channel
	seeks    []int64
	closed   bool
}

func newMockAudioReader(rate, channels int, totalMs int64) *mockAudioReader {
	return &mockAudioReader{rate: rate, channels: channels, totalMs: totalMs}
}

func (r *mockAudioReader) SampleRate() int { return r.rate }
func (r *mockAudioReader) Channels() int   { return r.channels }

func (r *mockAudioReader) Seek(sourceMicros int64) error {
	r.seeks = append(r.seeks, sourceMicros)
	r.posFrame = sourceMicros * int64(r.rate) / 1_000_000
	return nil
}

func (r *mockAudioReader) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	total := r.totalMs * int64(r.rate) / 1000
	if r.posFrame >= total {
		return nil, io.EOF
	}
	n := int64(audioBufferSamples)
	if r.posFrame+n > total {
		n = total - r.posFrame
	}
	s := &AudioSamples{
		Data:            make([]byte, n*int64(r.channels)*2),
		SampleRate:      r.rate,
		Channels:        r.channels,
		SampleCount:     int(n),
		Format:          AudioFormatS16,
		TimestampMicros: r.posFrame * 1_000_000 / int64(r.rate),
	}
	r.posFrame += n
	return s, nil
}

func (r *mockAudioReader) Close() error {
	r.closed = true
	return nil
}

// mockAudioEncoder records encoded buffers; it never produces chunks.
type mockAudioEncoder struct {
	buffers []*AudioSamples
	flushed bool
	closed  bool
}

func (e *mockAudioEncoder) Encode(samples *AudioSamples) error {
	e.buffers = append(e.buffers, samples)
	return nil
}

func (e *mockAudioEncoder) Flush() error        { e.flushed = true; return nil }
func (e *mockAudioEncoder) Description() []byte { return nil }
func (e *mockAudioEncoder) State() EncoderState { return EncoderStateConfigured }
func (e *mockAudioEncoder) Close() error        { e.closed = true; return nil }

func (e *mockAudioEncoder) totalSamples() int64 {
	var n int64
	for _, b := range e.buffers {
		n += int64(b.SampleCount)
	}
	return n
}

func TestAudioExtractorFullTrack(t *testing.T) {
	reader := newMockAudioReader(48000, 2, 1000)
	enc := &mockAudioEncoder{}
	x := newAudioExtractor(reader, enc, testLogger())

	if err := x.Run(context.Background(), 1000, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := enc.totalSamples(); got != 48000 {
		t.Errorf("encoded %d samples, want 48000", got)
	}
	if len(reader.seeks) != 1 || reader.seeks[0] != 0 {
		t.Errorf("seeks = %v, want single seek to 0", reader.seeks)
	}
}

func TestAudioExtractorReplaysSegmentsInOrder(t *testing.T) {
	reader := newMockAudioReader(48000, 2, 10000)
	enc := &mockAudioEncoder{}
	x := newAudioExtractor(reader, enc, testLogger())

	trims := []TrimRegion{{StartMs: 2000, EndMs: 4000}}
	if err := x.Run(context.Background(), 10000, trims); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One seek per complement segment, in source order.
	want := []int64{0, 4_000_000}
	if len(reader.seeks) != len(want) {
		t.Fatalf("seeks = %v, want %v", reader.seeks, want)
	}
	for i, s := range reader.seeks {
		if s != want[i] {
			t.Errorf("seek %d = %d, want %d", i, s, want[i])
		}
	}

	// 8 effective seconds of audio, truncated precisely at segment ends.
	if got := enc.totalSamples(); got != 8*48000 {
		t.Errorf("encoded %d samples, want %d", got, 8*48000)
	}
}

func TestAudioExtractorRestampsMonotonically(t *testing.T) {
	reader := newMockAudioReader(48000, 1, 6000)
	enc := &mockAudioEncoder{}
	x := newAudioExtractor(reader, enc, testLogger())

	trims := []TrimRegion{{StartMs: 1000, EndMs: 3000}, {StartMs: 4500, EndMs: 5000}}
	if err := x.Run(context.Background(), 6000, trims); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Output timestamps form one contiguous track despite source gaps. The
	// clock is derived from the cumulative sample count, never from source
	// positions.
	var cum int64
	for i, b := range enc.buffers {
		want := cum * 1_000_000 / 48000
		if b.TimestampMicros != want {
			t.Fatalf("buffer %d stamped %dus, want %dus", i, b.TimestampMicros, want)
		}
		cum += int64(b.SampleCount)
	}
}

func TestAudioExtractorConvertsToPlanarF32(t *testing.T) {
	x := &audioExtractor{log: testLogger()}

	// Two frames of stereo S16: L0=0x2000, R0=-0x2000, L1=0x4000, R1=0.
	in := &AudioSamples{
		Data:        make([]byte, 8),
		SampleRate:  48000,
		Channels:    2,
		SampleCount: 2,
		Format:      AudioFormatS16,
	}
	putS16 := func(off int, v int16) {
		binary.LittleEndian.PutUint16(in.Data[off:], uint16(v))
	}
	putS16(0, 0x2000)
	putS16(2, -0x2000)
	putS16(4, 0x4000)
	putS16(6, 0)

	out := x.toPlanar(in)
	if out.Format != AudioFormatF32 {
		t.Fatalf("format = %v, want F32", out.Format)
	}
	if len(out.Data) != 16 {
		t.Fatalf("data length = %d, want 16", len(out.Data))
	}

	read := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(out.Data[off:]))
	}
	// Left plane first, then right plane.
	wantVals := []float32{0.25, 0.5, -0.25, 0}
	for i, want := range wantVals {
		if got := read(i * 4); got != want {
			t.Errorf("sample %d = %g, want %g", i, got, want)
		}
	}
}

func TestAudioExtractorCancellation(t *testing.T) {
	reader := newMockAudioReader(48000, 2, 60000)
	enc := &mockAudioEncoder{}
	x := newAudioExtractor(reader, enc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := x.Run(ctx, 60000, nil); err == nil {
		t.Fatal("Run ignored cancelled context")
	}
}
