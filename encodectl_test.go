package openscreen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockVideoEncoder delivers chunks asynchronously through the handler, like
// the native encoders do. delay stretches the encode-to-delivery gap so tests
// can pile up in-flight frames.
type mockVideoEncoder struct {
	handler  ChunkHandler
	provider Provider
	delay    time.Duration
	encodeN  atomic.Int64
	closed   atomic.Bool
	failWith error
	wg       sync.WaitGroup
}

func (e *mockVideoEncoder) Encode(frame *VideoFrame, keyFrame bool) error {
	if e.failWith != nil {
		return e.failWith
	}
	e.encodeN.Add(1)
	ft := FrameTypeDelta
	if keyFrame {
		ft = FrameTypeKey
	}
	chunk := &EncodedChunk{
		Data:            []byte{0xab},
		TimestampMicros: frame.TimestampMicros,
		DurationMicros:  frame.DurationMicros,
		FrameType:       ft,
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
		e.handler(chunk)
	}()
	return nil
}

func (e *mockVideoEncoder) Flush() error {
	e.wg.Wait()
	return nil
}

func (e *mockVideoEncoder) Description() []byte     { return []byte{0x01} }
func (e *mockVideoEncoder) ColorSpace() *ColorSpace { return nil }
func (e *mockVideoEncoder) State() EncoderState     { return EncoderStateConfigured }
func (e *mockVideoEncoder) Provider() Provider      { return e.provider }

func (e *mockVideoEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

func testVideoConfig() VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:      VideoCodecH264,
		Width:      320,
		Height:     240,
		FrameRate:  30,
		BitrateBps: 1_000_000,
	}
}

func TestEncodeControllerHardwareFirst(t *testing.T) {
	var probes []Provider
	var enc *mockVideoEncoder
	deps := encoderDeps{
		Supports: func(cfg VideoEncoderConfig) bool {
			probes = append(probes, cfg.Provider)
			return true
		},
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			enc = &mockVideoEncoder{handler: h, provider: cfg.Provider}
			return enc, nil
		},
	}
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 8, nil)
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}
	if got := ctl.Provider(); got != ProviderHardware {
		t.Errorf("provider = %v, want hardware when available", got)
	}
	if len(probes) != 1 || probes[0] != ProviderHardware {
		t.Errorf("probes = %v, want single hardware probe", probes)
	}
}

func TestEncodeControllerSoftwareFallback(t *testing.T) {
	var probes []Provider
	deps := encoderDeps{
		Supports: func(cfg VideoEncoderConfig) bool {
			probes = append(probes, cfg.Provider)
			return cfg.Provider == ProviderSoftware
		},
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			return &mockVideoEncoder{handler: h, provider: cfg.Provider}, nil
		},
	}
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 8, nil)
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}
	if got := ctl.Provider(); got != ProviderSoftware {
		t.Errorf("provider = %v, want software fallback", got)
	}
	// Hardware probed and rejected, then software probed and accepted.
	if len(probes) != 2 || probes[0] != ProviderHardware || probes[1] != ProviderSoftware {
		t.Errorf("probes = %v, want [hardware software]", probes)
	}
}

func TestEncodeControllerNoProviderFails(t *testing.T) {
	deps := encoderDeps{
		Supports: func(VideoEncoderConfig) bool { return false },
		NewEncoder: func(VideoEncoderConfig, ChunkHandler) (VideoEncoder, error) {
			t.Fatal("NewEncoder must not be called when nothing supports the config")
			return nil, nil
		},
	}
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	_, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 8, nil)
	if !errors.Is(err, ErrConfigUnsupported) {
		t.Fatalf("error = %v, want ErrConfigUnsupported", err)
	}
}

func TestEncodeControllerBoundsInFlight(t *testing.T) {
	const bound = 4
	var enc *mockVideoEncoder
	deps := encoderDeps{
		Supports: func(VideoEncoderConfig) bool { return true },
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			enc = &mockVideoEncoder{handler: h, provider: cfg.Provider, delay: 2 * time.Millisecond}
			return enc, nil
		},
	}
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), bound, nil)
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 64; i++ {
		frame := &VideoFrame{TimestampMicros: int64(i) * 33_333}
		if err := ctl.Submit(ctx, frame, false); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	if err := ctl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if peak := ctl.PeakInFlight(); peak > bound {
		t.Errorf("peak in-flight = %d, exceeds bound %d", peak, bound)
	}
	if _, err := mux.WaitAndFinalize(); err != nil {
		t.Fatalf("WaitAndFinalize: %v", err)
	}
	if got := ctl.ChunksForwarded(); got != 64 {
		t.Errorf("chunks forwarded = %d, want 64", got)
	}
}

func TestEncodeControllerSubmitObservesCancellation(t *testing.T) {
	deps := encoderDeps{
		Supports: func(VideoEncoderConfig) bool { return true },
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			// Never delivers, so every slot stays taken.
			return &mockVideoEncoder{handler: func(*EncodedChunk) {}, provider: cfg.Provider, delay: time.Hour}, nil
		},
	}
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 1, nil)
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctl.Submit(ctx, &VideoFrame{}, true); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = ctl.Submit(ctx, &VideoFrame{}, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("blocked Submit returned %v, want context.Canceled", err)
	}
}

func TestEncodeControllerFirstChunkCarriesConfig(t *testing.T) {
	var enc *mockVideoEncoder
	deps := encoderDeps{
		Supports: func(VideoEncoderConfig) bool { return true },
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			enc = &mockVideoEncoder{handler: h, provider: cfg.Provider}
			return enc, nil
		},
	}
	writer := newMockContainerWriter()
	mux := newMuxCoordinator(writer, testLogger(), 0)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 8, nil)
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ctl.Submit(ctx, &VideoFrame{TimestampMicros: int64(i) * 33_333}, i == 0); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := ctl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := mux.WaitAndFinalize(); err != nil {
		t.Fatalf("WaitAndFinalize: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.video) != 3 {
		t.Fatalf("wrote %d chunks, want 3", len(writer.video))
	}
	first := writer.video[0]
	if first.Config == nil {
		t.Fatal("first chunk has no decoder configuration")
	}
	if first.Config.Codec != "avc1.42001f" {
		t.Errorf("codec string = %q", first.Config.Codec)
	}
	if first.Config.Width != 320 || first.Config.Height != 240 {
		t.Errorf("config dimensions = %dx%d", first.Config.Width, first.Config.Height)
	}
	if first.Config.ColorSpace != BT709ColorSpace() {
		t.Errorf("color space = %+v, want BT.709 default", first.Config.ColorSpace)
	}
	for _, c := range writer.video[1:] {
		if c.Config != nil {
			t.Error("decoder configuration repeated past the first chunk")
		}
	}
}

func TestEncodeControllerFatalEscalation(t *testing.T) {
	boom := errors.New("encoder exploded")
	deps := encoderDeps{
		Supports: func(VideoEncoderConfig) bool { return true },
		NewEncoder: func(cfg VideoEncoderConfig, h ChunkHandler) (VideoEncoder, error) {
			return &mockVideoEncoder{handler: h, provider: cfg.Provider, failWith: boom}, nil
		},
	}
	var fatal error
	mux := newMuxCoordinator(newMockContainerWriter(), testLogger(), 4)
	ctl, err := newEncodeController(testVideoConfig(), deps, mux, testLogger(), 8,
		func(err error) { fatal = err })
	if err != nil {
		t.Fatalf("newEncodeController: %v", err)
	}

	if err := ctl.Submit(context.Background(), &VideoFrame{}, true); !errors.Is(err, boom) {
		t.Fatalf("Submit = %v, want encoder error", err)
	}
	if !errors.Is(fatal, boom) {
		t.Errorf("onFatal received %v, want encoder error", fatal)
	}
	if ctl.InFlight() != 0 {
		t.Errorf("in-flight = %d after failed submit, want 0", ctl.InFlight())
	}
}
