// Core frame, sample and chunk types used across the export pipeline.
package openscreen

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatRGBA32 PixelFormat = iota // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
	PixelFormatI420                      // YUV 4:2:0 planar (encoder input)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	case PixelFormatI420:
		return "I420"
	default:
		return "Unknown"
	}
}

// BytesPerPixel returns the packed pixel size, or 0 for planar formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 4
	default:
		return 0
	}
}

// VideoFrame represents a raw video frame.
// Timestamps are in microseconds: source-timeline for decoded frames,
// output-timeline once the frame has been handed to the encode controller.
type VideoFrame struct {
	Data            []byte      // Packed pixel data
	Stride          int         // Row stride in bytes
	Width           int         // Frame width in pixels
	Height          int         // Frame height in pixels
	Format          PixelFormat // Pixel format
	TimestampMicros int64       // Presentation timestamp in microseconds
	DurationMicros  int64       // Frame duration in microseconds
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := *f
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return &clone
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit PCM, interleaved
	AudioFormatF32                    // 32-bit float, planar
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// AudioSamples represents one fixed-size buffer of raw audio.
// S16 buffers are interleaved; F32 buffers are planar (one full channel plane
// after another), which is the layout the audio encoder expects.
type AudioSamples struct {
	Data            []byte      // Sample data
	SampleRate      int         // Sample rate (e.g., 48000)
	Channels        int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount     int         // Number of samples per channel
	Format          AudioFormat // Sample format and layout
	TimestampMicros int64       // Timestamp in microseconds
}

// DurationMicros returns the buffer duration derived from the sample count.
func (s *AudioSamples) DurationMicros() int64 {
	if s.SampleRate == 0 {
		return 0
	}
	return int64(s.SampleCount) * 1_000_000 / int64(s.SampleRate)
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := *s
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return &clone
}

// FrameType indicates whether an encoded chunk is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // Can be decoded independently
	FrameTypeDelta             // Requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// DecoderConfig is the codec-specific metadata a decoder needs to interpret a
// chunk stream. It must accompany the first chunk of each track; subsequent
// chunks omit it.
type DecoderConfig struct {
	Codec       string     // RFC 6381 codec string
	Width       int        // Video only
	Height      int        // Video only
	SampleRate  int        // Audio only
	Channels    int        // Audio only
	Description []byte     // Codec-specific description bytes (e.g. avcC, ASC)
	ColorSpace  ColorSpace // Video only; BT.709 profile when unreported
}

// EncodedChunk holds one encoded video or audio chunk on its way to the
// container.
type EncodedChunk struct {
	Data            []byte
	TimestampMicros int64
	DurationMicros  int64
	FrameType       FrameType
	Config          *DecoderConfig // Set on the first chunk of a stream only
}

// IsKeyframe returns true if this is a keyframe.
func (c *EncodedChunk) IsKeyframe() bool {
	return c.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded chunk.
func (c *EncodedChunk) Clone() *EncodedChunk {
	clone := *c
	if c.Data != nil {
		clone.Data = make([]byte, len(c.Data))
		copy(clone.Data, c.Data)
	}
	return &clone
}
