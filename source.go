package openscreen

import (
	"context"
	"fmt"
	"io"

	vidio "github.com/AlexEidt/Vidio"
	aio "github.com/AlexEidt/aio"
)

// MediaInfo describes a decodable source. HasAudio is declared up front as
// part of capability negotiation; downstream components branch on this field
// and never probe the source at use time.
type MediaInfo struct {
	Width      int
	Height     int
	DurationMs int64
	FrameRate  float64
	Codec      string
	HasAudio   bool
}

// MediaSource is the decoder boundary: it yields raw frames at arbitrary seek
// positions on the source timeline, and optionally an audio sample reader.
type MediaSource interface {
	// Info returns the source description, including the typed HasAudio flag.
	Info() MediaInfo

	// FrameAt seeks to the given source-timeline instant and decodes the
	// frame covering it. The returned frame is owned by the caller.
	FrameAt(ctx context.Context, sourceMicros int64) (*VideoFrame, error)

	// OpenAudio opens the source's audio track. Callers must only invoke it
	// when Info().HasAudio is true.
	OpenAudio() (AudioReader, error)

	Close() error
}

// AudioReader replays the source's audio track as fixed-size sample buffers.
type AudioReader interface {
	SampleRate() int
	Channels() int

	// Seek positions the reader at a source-timeline instant.
	Seek(sourceMicros int64) error

	// ReadSamples returns the next buffer of interleaved S16 samples stamped
	// with its source-timeline position. Returns io.EOF at end of track.
	ReadSamples(ctx context.Context) (*AudioSamples, error)

	Close() error
}

// audioBufferSamples is the fixed buffer size the audio graph samples at,
// per channel.
const audioBufferSamples = 1024

// FileSource decodes a recorded clip through ffmpeg via Vidio. Decoding is
// sequential; backward seeks reopen the stream and forward seeks skip frames.
type FileSource struct {
	path  string
	video *vidio.Video
	info  MediaInfo

	// Index of the frame the next Read() call will produce.
	nextFrame int
}

// NewFileSource opens a media file and probes its stream description.
func NewFileSource(path string) (*FileSource, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInput, path, err)
	}

	s := &FileSource{
		path:  path,
		video: video,
		info: MediaInfo{
			Width:      video.Width(),
			Height:     video.Height(),
			DurationMs: int64(video.Duration() * 1000),
			FrameRate:  video.FPS(),
			Codec:      video.Codec(),
			HasAudio:   video.HasStreams(),
		},
	}
	return s, nil
}

// Info returns the probed stream description.
func (s *FileSource) Info() MediaInfo {
	return s.info
}

// FrameAt decodes the frame covering sourceMicros. The frame data is copied
// out of the decoder's reusable buffer.
func (s *FileSource) FrameAt(ctx context.Context, sourceMicros int64) (*VideoFrame, error) {
	if s.video == nil {
		return nil, fmt.Errorf("%w: source closed", ErrInput)
	}

	target := int(float64(sourceMicros) * s.info.FrameRate / 1e6)
	if total := s.video.Frames(); total > 0 && target >= total {
		target = total - 1
	}
	if target < 0 {
		target = 0
	}

	// Sequential decoder: reopen for backward seeks.
	if target < s.nextFrame-1 {
		if err := s.reopen(); err != nil {
			return nil, err
		}
	}

	for s.nextFrame <= target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.video.Read() {
			return nil, fmt.Errorf("%w: decode failed at frame %d", ErrInput, s.nextFrame)
		}
		s.nextFrame++
	}

	frameDur := int64(1e6 / s.info.FrameRate)
	frame := &VideoFrame{
		Data:            make([]byte, len(s.video.FrameBuffer())),
		Stride:          s.info.Width * 4,
		Width:           s.info.Width,
		Height:          s.info.Height,
		Format:          PixelFormatRGBA32,
		TimestampMicros: int64(float64(target) * 1e6 / s.info.FrameRate),
		DurationMicros:  frameDur,
	}
	copy(frame.Data, s.video.FrameBuffer())
	return frame, nil
}

func (s *FileSource) reopen() error {
	s.video.Close()
	video, err := vidio.NewVideo(s.path)
	if err != nil {
		return fmt.Errorf("%w: reopen %s: %v", ErrInput, s.path, err)
	}
	s.video = video
	s.nextFrame = 0
	return nil
}

// OpenAudio opens the clip's audio track as a fixed-buffer sample reader.
func (s *FileSource) OpenAudio() (AudioReader, error) {
	return newFileAudioReader(s.path)
}

// Close releases the decoder.
func (s *FileSource) Close() error {
	if s.video != nil {
		s.video.Close()
		s.video = nil
	}
	return nil
}

// fileAudioReader replays a clip's audio track through ffmpeg as interleaved
// S16 buffers of audioBufferSamples samples per channel.
type fileAudioReader struct {
	path  string
	audio *aio.Audio

	sampleRate int
	channels   int

	// Samples per channel consumed so far; source position of the next read.
	pos int64

	// Tail of a buffer partially consumed by a sub-buffer Seek.
	pending []byte

	eof bool
}

func newFileAudioReader(path string) (*fileAudioReader, error) {
	audio, err := aio.NewAudio(path, &aio.Options{Format: "s16le"})
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrAudioRuntime, err)
	}

	r := &fileAudioReader{
		path:       path,
		audio:      audio,
		sampleRate: audio.SampleRate(),
		channels:   audio.Channels(),
	}
	r.audio.SetBuffer(make([]byte, audioBufferSamples*r.frameBytes()))
	return r, nil
}

func (r *fileAudioReader) frameBytes() int {
	return r.channels * 2 // interleaved s16
}

func (r *fileAudioReader) SampleRate() int { return r.sampleRate }
func (r *fileAudioReader) Channels() int   { return r.channels }

// Seek positions the reader at sourceMicros, reopening for backward seeks and
// skipping forward with sub-buffer precision.
func (r *fileAudioReader) Seek(sourceMicros int64) error {
	target := sourceMicros * int64(r.sampleRate) / 1_000_000
	if target < r.pos {
		if err := r.reopen(); err != nil {
			return err
		}
	}
	r.pending = nil

	for r.pos < target {
		if !r.audio.Read() {
			r.eof = true
			return nil
		}
		buf := r.audio.Buffer()
		n := int64(len(buf) / r.frameBytes())
		if r.pos+n <= target {
			r.pos += n
			continue
		}
		skip := target - r.pos
		r.pending = append([]byte(nil), buf[skip*int64(r.frameBytes()):]...)
		r.pos = target
	}
	return nil
}

func (r *fileAudioReader) reopen() error {
	r.audio.Close()
	audio, err := aio.NewAudio(r.path, &aio.Options{Format: "s16le"})
	if err != nil {
		return fmt.Errorf("%w: reopen audio: %v", ErrAudioRuntime, err)
	}
	r.audio = audio
	r.audio.SetBuffer(make([]byte, audioBufferSamples*r.frameBytes()))
	r.pos = 0
	r.eof = false
	return nil
}

// ReadSamples returns the next buffer, stamped with its source position.
func (r *fileAudioReader) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.eof {
		return nil, io.EOF
	}

	var data []byte
	if len(r.pending) > 0 {
		data = r.pending
		r.pending = nil
	} else {
		if !r.audio.Read() {
			r.eof = true
			return nil, io.EOF
		}
		data = append([]byte(nil), r.audio.Buffer()...)
	}

	count := len(data) / r.frameBytes()
	samples := &AudioSamples{
		Data:            data,
		SampleRate:      r.sampleRate,
		Channels:        r.channels,
		SampleCount:     count,
		Format:          AudioFormatS16,
		TimestampMicros: r.pos * 1_000_000 / int64(r.sampleRate),
	}
	r.pos += int64(count)
	return samples, nil
}

// Close releases the audio decoder.
func (r *fileAudioReader) Close() error {
	if r.audio != nil {
		r.audio.Close()
		r.audio = nil
	}
	return nil
}
