//go:build darwin || linux

// Native encoder support via libopenscreen_codec using purego. The wrapper
// library exposes both the platform hardware encode path and a software
// fallback behind the same symbol surface, selected by an accel flag.

package openscreen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	oscCodecOnce    sync.Once
	oscCodecHandle  uintptr
	oscCodecInitErr error
	oscCodecLoaded  bool
)

// libopenscreen_codec function pointers
var (
	oscEncoderAvailable func(accel int32) int32

	oscVideoEncoderSupports   func(accel, codec, width, height int32, fps float64, bitrate int32) int32
	oscVideoEncoderCreate     func(accel, codec, width, height int32, fps float64, bitrate int32) uint64
	oscVideoEncoderEncode     func(encoder uint64, data uintptr, stride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType uintptr) int32
	oscVideoEncoderFlush      func(encoder uint64, outData uintptr, outCapacity int32, outFrameType uintptr) int32
	oscVideoEncoderMaxOutput  func(encoder uint64) int32
	oscVideoEncoderDescribe   func(encoder uint64, outData uintptr, outCapacity int32) int32
	oscVideoEncoderColorSpace func(encoder uint64) int32
	oscVideoEncoderDestroy    func(encoder uint64)

	oscAudioEncoderSupports func(codec, sampleRate, channels, bitrate int32) int32
	oscAudioEncoderCreate   func(codec, sampleRate, channels, bitrate int32) uint64
	oscAudioEncoderEncode   func(encoder uint64, data uintptr, sampleCount int32, outData uintptr, outCapacity int32) int32
	oscAudioEncoderFlush    func(encoder uint64, outData uintptr, outCapacity int32) int32
	oscAudioEncoderDescribe func(encoder uint64, outData uintptr, outCapacity int32) int32
	oscAudioEncoderDestroy  func(encoder uint64)

	oscLastError func() uintptr
)

// Constants from openscreen_codec.h
const (
	oscAccelHardware = 1
	oscAccelSoftware = 0

	oscCodecH264 = 1
	oscCodecHEVC = 2
	oscCodecVP9  = 3
	oscCodecAAC  = 10

	oscFrameKey   = 1
	oscFrameDelta = 2

	oscColorUnreported = 0
	oscColorBT709      = 1
	oscColorBT601      = 2
)

func loadOSCCodec() error {
	oscCodecOnce.Do(func() {
		oscCodecInitErr = loadOSCCodecLib()
		if oscCodecInitErr == nil {
			oscCodecLoaded = true
		}
	})
	return oscCodecInitErr
}

func loadOSCCodecLib() error {
	paths := getOSCCodecLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			oscCodecHandle = handle
			loadOSCCodecSymbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libopenscreen_codec: %w", lastErr)
	}
	return errors.New("libopenscreen_codec not found in any standard location")
}

func getOSCCodecLibPaths() []string {
	var paths []string

	libName := "libopenscreen_codec.so"
	if runtime.GOOS == "darwin" {
		libName = "libopenscreen_codec.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("OPENSCREEN_CODEC_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName), envPath)
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to working directory and module root
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, "build", libName))
	}
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadOSCCodecSymbols() {
	purego.RegisterLibFunc(&oscEncoderAvailable, oscCodecHandle, "osc_encoder_available")

	purego.RegisterLibFunc(&oscVideoEncoderSupports, oscCodecHandle, "osc_video_encoder_supports")
	purego.RegisterLibFunc(&oscVideoEncoderCreate, oscCodecHandle, "osc_video_encoder_create")
	purego.RegisterLibFunc(&oscVideoEncoderEncode, oscCodecHandle, "osc_video_encoder_encode")
	purego.RegisterLibFunc(&oscVideoEncoderFlush, oscCodecHandle, "osc_video_encoder_flush")
	purego.RegisterLibFunc(&oscVideoEncoderMaxOutput, oscCodecHandle, "osc_video_encoder_max_output_size")
	purego.RegisterLibFunc(&oscVideoEncoderDescribe, oscCodecHandle, "osc_video_encoder_description")
	purego.RegisterLibFunc(&oscVideoEncoderColorSpace, oscCodecHandle, "osc_video_encoder_color_space")
	purego.RegisterLibFunc(&oscVideoEncoderDestroy, oscCodecHandle, "osc_video_encoder_destroy")

	purego.RegisterLibFunc(&oscAudioEncoderSupports, oscCodecHandle, "osc_audio_encoder_supports")
	purego.RegisterLibFunc(&oscAudioEncoderCreate, oscCodecHandle, "osc_audio_encoder_create")
	purego.RegisterLibFunc(&oscAudioEncoderEncode, oscCodecHandle, "osc_audio_encoder_encode")
	purego.RegisterLibFunc(&oscAudioEncoderFlush, oscCodecHandle, "osc_audio_encoder_flush")
	purego.RegisterLibFunc(&oscAudioEncoderDescribe, oscCodecHandle, "osc_audio_encoder_description")
	purego.RegisterLibFunc(&oscAudioEncoderDestroy, oscCodecHandle, "osc_audio_encoder_destroy")

	purego.RegisterLibFunc(&oscLastError, oscCodecHandle, "osc_last_error")
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func oscNativeError(op string) error {
	msg := goStringFromPtr(oscLastError())
	if msg == "" {
		msg = "unknown native error"
	}
	return fmt.Errorf("%s: %s", op, msg)
}

// IsNativeCodecAvailable checks if libopenscreen_codec is loadable.
func IsNativeCodecAvailable() bool {
	return loadOSCCodec() == nil
}

func nativeVideoCodecID(c VideoCodec) int32 {
	switch c {
	case VideoCodecH264:
		return oscCodecH264
	case VideoCodecHEVC:
		return oscCodecHEVC
	case VideoCodecVP9:
		return oscCodecVP9
	default:
		return 0
	}
}

func accelFlag(p Provider) int32 {
	if p == ProviderHardware {
		return oscAccelHardware
	}
	return oscAccelSoftware
}

func init() {
	if !IsNativeCodecAvailable() {
		return
	}

	for _, p := range []Provider{ProviderHardware, ProviderSoftware} {
		p := p
		if oscEncoderAvailable(accelFlag(p)) == 0 {
			continue
		}
		setProviderAvailable(p)

		supports := func(cfg VideoEncoderConfig) bool {
			codec := nativeVideoCodecID(cfg.Codec)
			if codec == 0 {
				return false
			}
			return oscVideoEncoderSupports(accelFlag(p), codec,
				int32(cfg.Width), int32(cfg.Height), cfg.FrameRate, int32(cfg.BitrateBps)) != 0
		}
		factory := func(cfg VideoEncoderConfig, handler ChunkHandler) (VideoEncoder, error) {
			return newNativeVideoEncoder(cfg, handler)
		}
		for _, codec := range []VideoCodec{VideoCodecH264, VideoCodecHEVC, VideoCodecVP9} {
			registerVideoEncoder(codec, p, supports, factory)
		}
	}

	registerAudioEncoder(AudioCodecAAC,
		func(cfg AudioEncoderConfig) bool {
			return oscAudioEncoderSupports(oscCodecAAC,
				int32(cfg.SampleRate), int32(cfg.Channels), int32(cfg.BitrateBps)) != 0
		},
		func(cfg AudioEncoderConfig, handler ChunkHandler) (AudioEncoder, error) {
			return newNativeAudioEncoder(cfg, handler)
		})
}

// chunkStamps carries submitted input timing to the chunks an encoder
// eventually produces. Buffering encoders hold input back, so the chunk that
// comes out of the current encode call describes an earlier submit; every
// produced chunk pops the oldest queued stamp. Flush output past the queue
// continues from the end of the last stamped chunk.
type chunkStamps struct {
	queue   []chunkStamp
	lastEnd int64
}

type chunkStamp struct {
	ts, dur int64
}

func (s *chunkStamps) push(ts, dur int64) {
	s.queue = append(s.queue, chunkStamp{ts, dur})
}

func (s *chunkStamps) pop() (ts, dur int64) {
	if len(s.queue) == 0 {
		return s.lastEnd, 0
	}
	st := s.queue[0]
	s.queue = s.queue[1:]
	s.lastEnd = st.ts + st.dur
	return st.ts, st.dur
}

// nativeVideoEncoder wraps a libopenscreen_codec video encoder. Encode runs
// the native call synchronously; produced chunks are handed to the dispatch
// goroutine so the handler runs asynchronously with respect to the frame loop.
type nativeVideoEncoder struct {
	handle   uint64
	config   VideoEncoderConfig
	handler  ChunkHandler
	outBuf   []byte
	desc     []byte
	colorSp  *ColorSpace
	stamps   chunkStamps
	state    EncoderState
	stateMu  sync.Mutex
	chunkCh  chan *EncodedChunk
	pending  sync.WaitGroup
	workerWg sync.WaitGroup
}

func newNativeVideoEncoder(cfg VideoEncoderConfig, handler ChunkHandler) (VideoEncoder, error) {
	codec := nativeVideoCodecID(cfg.Codec)
	if codec == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, cfg.Codec)
	}

	handle := oscVideoEncoderCreate(accelFlag(cfg.Provider), codec,
		int32(cfg.Width), int32(cfg.Height), cfg.FrameRate, int32(cfg.BitrateBps))
	if handle == 0 {
		return nil, fmt.Errorf("%w: %v", ErrCodecNotSupported, oscNativeError("video encoder create"))
	}

	e := &nativeVideoEncoder{
		handle:  handle,
		config:  cfg,
		handler: handler,
		outBuf:  make([]byte, oscVideoEncoderMaxOutput(handle)),
		state:   EncoderStateConfigured,
		chunkCh: make(chan *EncodedChunk, 8),
	}

	if n := oscVideoEncoderDescribe(handle, uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf))); n > 0 {
		e.desc = append([]byte(nil), e.outBuf[:n]...)
	}
	switch oscVideoEncoderColorSpace(handle) {
	case oscColorBT709:
		cs := BT709ColorSpace()
		e.colorSp = &cs
	case oscColorBT601:
		e.colorSp = &ColorSpace{Primaries: "bt601", Transfer: "bt601", Matrix: "bt601"}
	}

	e.workerWg.Add(1)
	go e.dispatchLoop()
	return e, nil
}

func (e *nativeVideoEncoder) dispatchLoop() {
	defer e.workerWg.Done()
	for chunk := range e.chunkCh {
		e.handler(chunk)
		e.pending.Done()
	}
}

func (e *nativeVideoEncoder) emit(data []byte, frameType FrameType, ts, dur int64) {
	chunk := &EncodedChunk{
		Data:            append([]byte(nil), data...),
		TimestampMicros: ts,
		DurationMicros:  dur,
		FrameType:       frameType,
	}
	e.pending.Add(1)
	e.chunkCh <- chunk
}

func (e *nativeVideoEncoder) Encode(frame *VideoFrame, keyFrame bool) error {
	if e.State() != EncoderStateConfigured {
		return ErrEncoderClosed
	}
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: empty frame", ErrEncoderRuntime)
	}

	force := int32(0)
	if keyFrame {
		force = 1
	}
	var frameType int32
	n := oscVideoEncoderEncode(e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0])), int32(frame.Stride), force,
		uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)),
		uintptr(unsafe.Pointer(&frameType)))
	if n < 0 {
		return fmt.Errorf("%w: %v", ErrEncoderRuntime, oscNativeError("video encode"))
	}
	e.stamps.push(frame.TimestampMicros, frame.DurationMicros)
	if n == 0 {
		return nil // Encoder buffering; the stamp stays queued for the delayed chunk
	}

	ft := FrameTypeDelta
	if frameType == oscFrameKey {
		ft = FrameTypeKey
	}
	ts, dur := e.stamps.pop()
	e.emit(e.outBuf[:n], ft, ts, dur)
	return nil
}

func (e *nativeVideoEncoder) Flush() error {
	if e.State() != EncoderStateConfigured {
		return nil
	}
	for {
		var frameType int32
		n := oscVideoEncoderFlush(e.handle,
			uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)),
			uintptr(unsafe.Pointer(&frameType)))
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrEncoderRuntime, oscNativeError("video flush"))
		}
		if n == 0 {
			break
		}
		ft := FrameTypeDelta
		if frameType == oscFrameKey {
			ft = FrameTypeKey
		}
		ts, dur := e.stamps.pop()
		e.emit(e.outBuf[:n], ft, ts, dur)
	}
	e.pending.Wait()
	return nil
}

func (e *nativeVideoEncoder) Description() []byte     { return e.desc }
func (e *nativeVideoEncoder) ColorSpace() *ColorSpace { return e.colorSp }
func (e *nativeVideoEncoder) Provider() Provider      { return e.config.Provider }

func (e *nativeVideoEncoder) State() EncoderState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *nativeVideoEncoder) Close() error {
	e.stateMu.Lock()
	if e.state == EncoderStateClosed {
		e.stateMu.Unlock()
		return nil
	}
	e.state = EncoderStateClosed
	e.stateMu.Unlock()

	close(e.chunkCh)
	e.workerWg.Wait()
	oscVideoEncoderDestroy(e.handle)
	e.handle = 0
	return nil
}

// nativeAudioEncoder wraps a libopenscreen_codec audio encoder. Input buffers
// must be planar F32.
type nativeAudioEncoder struct {
	handle   uint64
	config   AudioEncoderConfig
	handler  ChunkHandler
	outBuf   []byte
	desc     []byte
	stamps   chunkStamps
	state    EncoderState
	stateMu  sync.Mutex
	chunkCh  chan *EncodedChunk
	pending  sync.WaitGroup
	workerWg sync.WaitGroup
}

func newNativeAudioEncoder(cfg AudioEncoderConfig, handler ChunkHandler) (AudioEncoder, error) {
	if cfg.Codec != AudioCodecAAC {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, cfg.Codec)
	}
	handle := oscAudioEncoderCreate(oscCodecAAC,
		int32(cfg.SampleRate), int32(cfg.Channels), int32(cfg.BitrateBps))
	if handle == 0 {
		return nil, fmt.Errorf("%w: %v", ErrCodecNotSupported, oscNativeError("audio encoder create"))
	}

	e := &nativeAudioEncoder{
		handle:  handle,
		config:  cfg,
		handler: handler,
		outBuf:  make([]byte, 64*1024),
		state:   EncoderStateConfigured,
		chunkCh: make(chan *EncodedChunk, 8),
	}
	if n := oscAudioEncoderDescribe(handle, uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf))); n > 0 {
		e.desc = append([]byte(nil), e.outBuf[:n]...)
	}

	e.workerWg.Add(1)
	go e.dispatchLoop()
	return e, nil
}

func (e *nativeAudioEncoder) dispatchLoop() {
	defer e.workerWg.Done()
	for chunk := range e.chunkCh {
		e.handler(chunk)
		e.pending.Done()
	}
}

func (e *nativeAudioEncoder) Encode(samples *AudioSamples) error {
	if e.State() != EncoderStateConfigured {
		return ErrEncoderClosed
	}
	if samples.Format != AudioFormatF32 {
		return fmt.Errorf("%w: audio encoder expects planar F32, got %s", ErrAudioRuntime, samples.Format)
	}
	if len(samples.Data) == 0 {
		return nil
	}

	n := oscAudioEncoderEncode(e.handle,
		uintptr(unsafe.Pointer(&samples.Data[0])), int32(samples.SampleCount),
		uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)))
	if n < 0 {
		return fmt.Errorf("%w: %v", ErrAudioRuntime, oscNativeError("audio encode"))
	}
	e.stamps.push(samples.TimestampMicros, samples.DurationMicros())
	if n == 0 {
		return nil
	}

	ts, dur := e.stamps.pop()
	chunk := &EncodedChunk{
		Data:            append([]byte(nil), e.outBuf[:n]...),
		TimestampMicros: ts,
		DurationMicros:  dur,
		FrameType:       FrameTypeKey,
	}
	e.pending.Add(1)
	e.chunkCh <- chunk
	return nil
}

func (e *nativeAudioEncoder) Flush() error {
	if e.State() != EncoderStateConfigured {
		return nil
	}
	for {
		n := oscAudioEncoderFlush(e.handle,
			uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)))
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrAudioRuntime, oscNativeError("audio flush"))
		}
		if n == 0 {
			break
		}
		ts, dur := e.stamps.pop()
		chunk := &EncodedChunk{
			Data:            append([]byte(nil), e.outBuf[:n]...),
			TimestampMicros: ts,
			DurationMicros:  dur,
			FrameType:       FrameTypeKey,
		}
		e.pending.Add(1)
		e.chunkCh <- chunk
	}
	e.pending.Wait()
	return nil
}

func (e *nativeAudioEncoder) Description() []byte { return e.desc }

func (e *nativeAudioEncoder) State() EncoderState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *nativeAudioEncoder) Close() error {
	e.stateMu.Lock()
	if e.state == EncoderStateClosed {
		e.stateMu.Unlock()
		return nil
	}
	e.state = EncoderStateClosed
	e.stateMu.Unlock()

	close(e.chunkCh)
	e.workerWg.Wait()
	oscAudioEncoderDestroy(e.handle)
	e.handle = 0
	return nil
}
