package openscreen

import (
	"errors"
	"fmt"
	"sync"
)

// Common encoder errors.
var (
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
	ErrEncoderClosed     = errors.New("encoder closed")
)

// EncoderState mirrors the configure lifecycle of an encoder.
type EncoderState int32

const (
	EncoderStateUnconfigured EncoderState = iota
	EncoderStateConfigured
	EncoderStateClosed
)

func (s EncoderState) String() string {
	switch s {
	case EncoderStateUnconfigured:
		return "unconfigured"
	case EncoderStateConfigured:
		return "configured"
	case EncoderStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChunkHandler receives encoded chunks asynchronously, from the encoder's
// output context rather than the caller of Encode.
type ChunkHandler func(chunk *EncodedChunk)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec    VideoCodec // Codec type (H264, HEVC, VP9)
	Provider Provider   // Provider to use (ProviderAuto = hardware first)

	Width      int     // Frame width
	Height     int     // Frame height
	FrameRate  float64 // Target framerate
	BitrateBps int     // Target bitrate in bits per second
}

// VideoEncoder encodes raw video frames to compressed chunks. Chunks are
// delivered through the ChunkHandler supplied at creation, asynchronously
// with respect to Encode calls.
type VideoEncoder interface {
	// Encode submits a frame. keyFrame forces an independently decodable
	// chunk. The frame's timestamp and duration are carried through to the
	// produced chunk.
	Encode(frame *VideoFrame, keyFrame bool) error

	// Flush drains buffered frames; all pending chunks are delivered before
	// Flush returns.
	Flush() error

	// Description returns the codec-specific description bytes (e.g. an avcC
	// record) once the first chunk has been produced; nil before that.
	Description() []byte

	// ColorSpace returns the encoder-reported color metadata, or nil if the
	// encoder does not report one.
	ColorSpace() *ColorSpace

	// State reports the configure lifecycle state.
	State() EncoderState

	// Provider returns which provider created this encoder.
	Provider() Provider

	Close() error
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec      AudioCodec // Codec type (AAC, Opus)
	SampleRate int        // Sample rate (e.g., 48000)
	Channels   int        // Number of channels (1 or 2)
	BitrateBps int        // Target bitrate in bps
}

// AudioEncoder encodes planar audio buffers to compressed chunks, delivered
// through the ChunkHandler supplied at creation.
type AudioEncoder interface {
	Encode(samples *AudioSamples) error
	Flush() error
	Description() []byte
	State() EncoderState
	Close() error
}

// --- Registry ---

type videoEncoderFactory func(VideoEncoderConfig, ChunkHandler) (VideoEncoder, error)
type videoSupportsFunc func(VideoEncoderConfig) bool
type audioEncoderFactory func(AudioEncoderConfig, ChunkHandler) (AudioEncoder, error)
type audioSupportsFunc func(AudioEncoderConfig) bool

type videoEncoderEntry struct {
	supports videoSupportsFunc
	factory  videoEncoderFactory
}

type audioEncoderEntry struct {
	supports audioSupportsFunc
	factory  audioEncoderFactory
}

type encoderRegistry struct {
	mu    sync.RWMutex
	video map[VideoCodec]map[Provider]videoEncoderEntry
	audio map[AudioCodec]audioEncoderEntry
}

var globalEncoderRegistry = &encoderRegistry{
	video: make(map[VideoCodec]map[Provider]videoEncoderEntry),
	audio: make(map[AudioCodec]audioEncoderEntry),
}

// registerVideoEncoder registers a video encoder for a codec+provider.
func registerVideoEncoder(codec VideoCodec, provider Provider, supports videoSupportsFunc, factory videoEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.video[codec] == nil {
		globalEncoderRegistry.video[codec] = make(map[Provider]videoEncoderEntry)
	}
	globalEncoderRegistry.video[codec][provider] = videoEncoderEntry{supports: supports, factory: factory}
}

// registerAudioEncoder registers an audio encoder for a codec.
func registerAudioEncoder(codec AudioCodec, supports audioSupportsFunc, factory audioEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.audio[codec] = audioEncoderEntry{supports: supports, factory: factory}
}

func (r *encoderRegistry) videoEntry(codec VideoCodec, p Provider) (videoEncoderEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := r.video[codec]
	if providers == nil {
		return videoEncoderEntry{}, false
	}
	e, ok := providers[p]
	return e, ok
}

// IsVideoConfigSupported reports whether a provider can accept the given
// configuration. With ProviderAuto it reports true if any provider in the
// hardware-first preference order does.
func IsVideoConfigSupported(config VideoEncoderConfig) bool {
	if config.Provider == ProviderAuto {
		for _, p := range providerPreference {
			probe := config
			probe.Provider = p
			if IsVideoConfigSupported(probe) {
				return true
			}
		}
		return false
	}
	if !config.Provider.Available() {
		return false
	}
	e, ok := globalEncoderRegistry.videoEntry(config.Codec, config.Provider)
	return ok && e.supports(config)
}

// NewVideoEncoder creates a configured video encoder. With ProviderAuto the
// hardware provider is tried first, then software.
func NewVideoEncoder(config VideoEncoderConfig, handler ChunkHandler) (VideoEncoder, error) {
	if config.Provider == ProviderAuto {
		var lastErr error
		for _, p := range providerPreference {
			attempt := config
			attempt.Provider = p
			enc, err := NewVideoEncoder(attempt, handler)
			if err == nil {
				return enc, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
		}
		return nil, lastErr
	}

	e, ok := globalEncoderRegistry.videoEntry(config.Codec, config.Provider)
	if !ok || !config.Provider.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, config.Provider, config.Codec)
	}
	if !e.supports(config) {
		return nil, fmt.Errorf("%w: %s rejected %dx%d@%g", ErrCodecNotSupported,
			config.Provider, config.Width, config.Height, config.FrameRate)
	}
	return e.factory(config, handler)
}

// IsAudioConfigSupported reports whether the audio codec can accept the given
// configuration.
func IsAudioConfigSupported(config AudioEncoderConfig) bool {
	globalEncoderRegistry.mu.RLock()
	e, ok := globalEncoderRegistry.audio[config.Codec]
	globalEncoderRegistry.mu.RUnlock()
	return ok && e.supports(config)
}

// NewAudioEncoder creates a configured audio encoder.
func NewAudioEncoder(config AudioEncoderConfig, handler ChunkHandler) (AudioEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	e, ok := globalEncoderRegistry.audio[config.Codec]
	globalEncoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrCodecNotSupported, config.Codec)
	}
	if !e.supports(config) {
		return nil, fmt.Errorf("%w: %s rejected rate=%d ch=%d", ErrCodecNotSupported,
			config.Codec, config.SampleRate, config.Channels)
	}
	return e.factory(config, handler)
}
