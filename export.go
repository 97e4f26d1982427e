package openscreen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ExportState represents the export pipeline lifecycle.
type ExportState int32

const (
	ExportStateIdle ExportState = iota
	ExportStateDecodingSource
	ExportStateInitializingRenderer
	ExportStateInitializingAudioEncoder
	ExportStateInitializingMuxer
	ExportStateInitializingVideoEncoder
	ExportStateExtractingAudio
	ExportStateEncodingFrames
	ExportStateFlushing
	ExportStateFinalizing
	ExportStateCompleted
	ExportStateFailed
	ExportStateCancelled
)

func (s ExportState) String() string {
	switch s {
	case ExportStateIdle:
		return "Idle"
	case ExportStateDecodingSource:
		return "DecodingSource"
	case ExportStateInitializingRenderer:
		return "InitializingRenderer"
	case ExportStateInitializingAudioEncoder:
		return "InitializingAudioEncoder"
	case ExportStateInitializingMuxer:
		return "InitializingMuxer"
	case ExportStateInitializingVideoEncoder:
		return "InitializingVideoEncoder"
	case ExportStateExtractingAudio:
		return "ExtractingAudio"
	case ExportStateEncodingFrames:
		return "EncodingFrames"
	case ExportStateFlushing:
		return "Flushing"
	case ExportStateFinalizing:
		return "Finalizing"
	case ExportStateCompleted:
		return "Completed"
	case ExportStateFailed:
		return "Failed"
	case ExportStateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ExportProgress is reported after every rendered frame.
type ExportProgress struct {
	CurrentFrame       int
	TotalFrames        int
	Percentage         float64
	EstimatedRemaining time.Duration
}

// ProgressFunc receives progress updates. Called from the export goroutine;
// slow callbacks slow the export.
type ProgressFunc func(ExportProgress)

// ExportStats summarizes a finished export.
type ExportStats struct {
	FramesRendered int
	VideoChunks    uint64
	AudioChunks    uint64
	PeakInFlight   int64
	Provider       Provider
	VideoOnly      bool
	Elapsed        time.Duration
}

// ExportResult carries the finished container blob and run statistics.
type ExportResult struct {
	Blob  []byte
	Stats ExportStats
}

const (
	// defaultKeyframeInterval forces an independently decodable frame at a
	// fixed cadence so players can seek the output.
	defaultKeyframeInterval = 150

	// defaultSeekEpsilonMicros is how far the mapped source position may
	// advance before the pipeline decodes a new frame instead of reusing the
	// previous one. Half a frame at 1000fps; effectively every frame decodes
	// unless the output framerate oversamples the source.
	defaultSeekEpsilonMicros = 500
)

// ExportPipelineConfig wires the pipeline's collaborators. Zero-value fields
// fall back to the production implementations (Vidio-backed decoding, the CPU
// effect renderer, the fMP4 writer, the native encoder registry).
type ExportPipelineConfig struct {
	Logger logrus.FieldLogger

	OpenSource  func(path string) (MediaSource, error)
	NewRenderer func() FrameRenderer
	NewWriter   func() ContainerWriter

	SupportsVideoEncoder func(VideoEncoderConfig) bool
	NewVideoEncoder      func(VideoEncoderConfig, ChunkHandler) (VideoEncoder, error)
	SupportsAudioEncoder func(AudioEncoderConfig) bool
	NewAudioEncoder      func(AudioEncoderConfig, ChunkHandler) (AudioEncoder, error)

	OnProgress ProgressFunc

	MaxInFlight       int   // bound on submitted-but-unmuxed frames (default 128)
	KeyframeInterval  int   // frames between forced keyframes (default 150)
	ReorderWindow     int   // mux reorder buffer depth (default 16)
	SeekEpsilonMicros int64 // source-position delta below which the last frame is reused
}

func (c ExportPipelineConfig) withDefaults() ExportPipelineConfig {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.OpenSource == nil {
		c.OpenSource = func(path string) (MediaSource, error) { return NewFileSource(path) }
	}
	if c.NewRenderer == nil {
		c.NewRenderer = func() FrameRenderer { return NewEffectRenderer() }
	}
	if c.NewWriter == nil {
		c.NewWriter = func() ContainerWriter { return NewFMP4Writer() }
	}
	if c.SupportsVideoEncoder == nil {
		c.SupportsVideoEncoder = IsVideoConfigSupported
	}
	if c.NewVideoEncoder == nil {
		c.NewVideoEncoder = NewVideoEncoder
	}
	if c.SupportsAudioEncoder == nil {
		c.SupportsAudioEncoder = IsAudioConfigSupported
	}
	if c.NewAudioEncoder == nil {
		c.NewAudioEncoder = NewAudioEncoder
	}
	if c.KeyframeInterval <= 0 {
		c.KeyframeInterval = defaultKeyframeInterval
	}
	if c.SeekEpsilonMicros <= 0 {
		c.SeekEpsilonMicros = defaultSeekEpsilonMicros
	}
	return c
}

// ExportPipeline runs recorded clips through decode, effect compositing,
// encoding and muxing, producing a finished container blob. A pipeline runs
// one export at a time; Export on a busy pipeline fails with
// ErrExportInProgress.
type ExportPipeline struct {
	cfg ExportPipelineConfig

	state  atomic.Int32
	active atomic.Bool

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// NewExportPipeline creates a pipeline with the given collaborator wiring.
func NewExportPipeline(cfg ExportPipelineConfig) *ExportPipeline {
	return &ExportPipeline{cfg: cfg.withDefaults()}
}

// State returns the current lifecycle state.
func (p *ExportPipeline) State() ExportState {
	return ExportState(p.state.Load())
}

func (p *ExportPipeline) setState(s ExportState) {
	p.state.Store(int32(s))
}

// Cancel requests cooperative cancellation of the running export. The export
// stops at the next frame boundary and returns ErrCancelled; partially
// written output is discarded.
func (p *ExportPipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancelFn
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Export runs the full pipeline for one clip and blocks until the output blob
// is ready, the context is cancelled, or a fatal error occurs.
func (p *ExportPipeline) Export(ctx context.Context, cfg *ExportConfig) (*ExportResult, error) {
	if !p.active.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	defer p.active.Store(false)

	if err := cfg.Validate(); err != nil {
		p.setState(ExportStateFailed)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelFn = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancelFn = nil
		p.mu.Unlock()
		cancel()
	}()

	log := p.cfg.Logger.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"input":   cfg.Input,
	})

	start := time.Now()
	run := &exportRun{pipeline: p, cfg: cfg, log: log}
	defer run.cleanup()

	result, err := run.execute(ctx)
	if err != nil {
		run.drain()
		if errors.Is(err, ErrCancelled) {
			p.setState(ExportStateCancelled)
		} else {
			p.setState(ExportStateFailed)
		}
		log.WithError(err).WithField("state", p.State().String()).Error("export aborted")
		return nil, err
	}

	result.Stats.Elapsed = time.Since(start)
	p.setState(ExportStateCompleted)
	log.WithFields(logrus.Fields{
		"frames":   result.Stats.FramesRendered,
		"provider": result.Stats.Provider.String(),
		"elapsed":  result.Stats.Elapsed,
		"bytes":    len(result.Blob),
	}).Info("export complete")
	return result, nil
}

// exportRun holds the per-export resources so cleanup can release whatever
// was acquired regardless of where the run stopped.
type exportRun struct {
	pipeline *ExportPipeline
	cfg      *ExportConfig
	log      logrus.FieldLogger

	source      MediaSource
	renderer    FrameRenderer
	mux         *muxCoordinator
	ctl         *encodeController
	audioReader AudioReader
	audioEnc    AudioEncoder

	audioMu     sync.Mutex
	audioChunks []*EncodedChunk

	fatalMu  sync.Mutex
	fatalErr error

	cleanupOnce sync.Once
}

func (r *exportRun) fatal(err error) {
	r.fatalMu.Lock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.fatalMu.Unlock()
}

func (r *exportRun) fatalError() error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatalErr
}

func (r *exportRun) execute(ctx context.Context) (*ExportResult, error) {
	p := r.pipeline
	cfg := r.cfg
	p.setState(ExportStateDecodingSource)

	source, err := p.cfg.OpenSource(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInput, cfg.Input, err)
	}
	r.source = source
	info := source.Info()

	effectiveMs := EffectiveDurationMs(info.DurationMs, cfg.TrimRegions)
	if effectiveMs <= 0 {
		return nil, fmt.Errorf("%w: trims remove the entire %dms clip", ErrInput, info.DurationMs)
	}
	totalFrames := TotalFrames(effectiveMs, cfg.FrameRate)

	p.setState(ExportStateInitializingRenderer)
	r.renderer = p.cfg.NewRenderer()
	if err := r.renderer.Initialize(cfg); err != nil {
		return nil, err
	}

	stats := ExportStats{}

	// Audio collaborators come up before the container so the writer knows
	// whether the output carries an audio track. Any failure here downgrades
	// to video-only instead of failing the export.
	p.setState(ExportStateInitializingAudioEncoder)
	hasAudio := false
	if info.HasAudio {
		hasAudio = r.setupAudio(source)
	}
	stats.VideoOnly = !hasAudio

	p.setState(ExportStateInitializingMuxer)
	r.mux = newMuxCoordinator(p.cfg.NewWriter(), r.log, p.cfg.ReorderWindow)
	if err := r.mux.Initialize(cfg, hasAudio); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMuxing, err)
	}

	p.setState(ExportStateInitializingVideoEncoder)
	onFatal := func(err error) {
		r.fatal(err)
		p.Cancel()
	}
	deps := encoderDeps{Supports: p.cfg.SupportsVideoEncoder, NewEncoder: p.cfg.NewVideoEncoder}
	ctl, err := newEncodeController(VideoEncoderConfig{
		Codec:      cfg.Codec,
		Width:      cfg.Width,
		Height:     cfg.Height,
		FrameRate:  cfg.FrameRate,
		BitrateBps: cfg.BitrateBps,
	}, deps, r.mux, r.log, p.cfg.MaxInFlight, onFatal)
	if err != nil {
		return nil, err
	}
	r.ctl = ctl

	r.log.WithFields(logrus.Fields{
		"duration_ms": effectiveMs,
		"frames":      totalFrames,
		"provider":    ctl.Provider().String(),
		"audio":       hasAudio,
	}).Info("export started")

	if hasAudio {
		p.setState(ExportStateExtractingAudio)
		if err := r.runAudio(ctx, info.DurationMs, &stats); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			r.log.WithError(err).Warn("audio extraction failed, continuing video-only")
			stats.VideoOnly = true
			stats.AudioChunks = 0
		}
	}

	p.setState(ExportStateEncodingFrames)
	if err := r.runVideo(ctx, totalFrames, &stats); err != nil {
		return nil, err
	}

	p.setState(ExportStateFlushing)
	if err := ctl.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush: %v", ErrEncoderRuntime, err)
	}

	p.setState(ExportStateFinalizing)
	blob, err := r.mux.WaitAndFinalize()
	if err != nil {
		return nil, err
	}

	stats.VideoChunks = ctl.ChunksForwarded()
	stats.PeakInFlight = ctl.PeakInFlight()
	stats.Provider = ctl.Provider()
	return &ExportResult{Blob: blob, Stats: stats}, nil
}

// setupAudio opens the source audio track and configures the audio encoder.
// Encoded chunks are collected locally and only handed to the muxer once the
// whole extraction pass succeeds, so a mid-track failure leaves a clean
// video-only output rather than a truncated audio track.
func (r *exportRun) setupAudio(source MediaSource) bool {
	reader, err := source.OpenAudio()
	if err != nil {
		r.log.WithError(err).Warn("audio track unavailable, exporting video-only")
		return false
	}

	encCfg := AudioEncoderConfig{
		Codec:      r.cfg.AudioCodec,
		SampleRate: reader.SampleRate(),
		Channels:   reader.Channels(),
		BitrateBps: r.cfg.AudioBitrateBps,
	}
	if !r.pipeline.cfg.SupportsAudioEncoder(encCfg) {
		r.log.WithError(ErrAudioUnsupported).WithFields(logrus.Fields{
			"codec":       encCfg.Codec.String(),
			"sample_rate": encCfg.SampleRate,
			"channels":    encCfg.Channels,
		}).Warn("exporting video-only")
		reader.Close()
		return false
	}

	var configOnce sync.Once
	enc, err := r.pipeline.cfg.NewAudioEncoder(encCfg, func(chunk *EncodedChunk) {
		configOnce.Do(func() {
			chunk.Config = &DecoderConfig{
				Codec:       encCfg.Codec.CodecString(),
				SampleRate:  encCfg.SampleRate,
				Channels:    encCfg.Channels,
				Description: r.audioEnc.Description(),
			}
		})
		r.audioMu.Lock()
		r.audioChunks = append(r.audioChunks, chunk)
		r.audioMu.Unlock()
	})
	if err != nil {
		r.log.WithError(err).Warn("audio encoder creation failed, exporting video-only")
		reader.Close()
		return false
	}

	r.audioReader = reader
	r.audioEnc = enc
	return true
}

// runAudio performs the full audio pass: segment replay, encode, flush, and
// hand-off of the collected chunks to the mux coordinator.
func (r *exportRun) runAudio(ctx context.Context, durationMs int64, stats *ExportStats) error {
	extractor := newAudioExtractor(r.audioReader, r.audioEnc, r.log)
	if err := extractor.Run(ctx, durationMs, r.cfg.TrimRegions); err != nil {
		return err
	}
	if err := r.audioEnc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrAudioRuntime, err)
	}

	r.audioMu.Lock()
	chunks := r.audioChunks
	r.audioMu.Unlock()
	for _, chunk := range chunks {
		r.mux.AddAudioChunk(chunk)
	}
	stats.AudioChunks = uint64(len(chunks))
	return nil
}

// runVideo drives the frame loop: walk the effective timeline frame by frame,
// remap to source time, decode when the source position moved, composite, and
// submit under the encoder's in-flight bound.
func (r *exportRun) runVideo(ctx context.Context, totalFrames int, stats *ExportStats) error {
	p := r.pipeline
	frameDurMicros := int64(1_000_000 / r.cfg.FrameRate)

	var (
		frame        *VideoFrame
		lastSourceUs int64 = -1
	)
	start := time.Now()

	// Progress is reported for every processed frame, including the frame
	// whose encode failed.
	report := func(done int) {
		if p.cfg.OnProgress == nil {
			return
		}
		elapsed := time.Since(start)
		var eta time.Duration
		if done > 0 {
			eta = time.Duration(int64(elapsed) / int64(done) * int64(totalFrames-done))
		}
		p.cfg.OnProgress(ExportProgress{
			CurrentFrame:       done,
			TotalFrames:        totalFrames,
			Percentage:         float64(done) / float64(totalFrames) * 100,
			EstimatedRemaining: eta,
		})
	}

	for i := 0; i < totalFrames; i++ {
		if err := ctx.Err(); err != nil {
			if fatal := r.fatalError(); fatal != nil {
				return fatal
			}
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		effMicros := int64(float64(i) * 1_000_000 / r.cfg.FrameRate)
		srcMicros := mapEffectiveToSourceMicros(effMicros, r.cfg.TrimRegions)

		if frame == nil || srcMicros < lastSourceUs || srcMicros-lastSourceUs > p.cfg.SeekEpsilonMicros {
			decoded, err := r.source.FrameAt(ctx, srcMicros)
			if err != nil {
				return fmt.Errorf("%w: frame %d at %dus: %v", ErrInput, i, srcMicros, err)
			}
			frame = decoded
			lastSourceUs = srcMicros
		}

		rendered, err := r.renderer.RenderFrame(frame, srcMicros)
		if err != nil {
			return err
		}
		rendered.TimestampMicros = effMicros
		rendered.DurationMicros = frameDurMicros

		keyFrame := i%p.cfg.KeyframeInterval == 0
		if err := r.ctl.Submit(ctx, rendered, keyFrame); err != nil {
			report(i + 1)
			if fatal := r.fatalError(); fatal != nil {
				return fmt.Errorf("%w: %v", ErrEncoderRuntime, fatal)
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return fmt.Errorf("%w: %v", ErrEncoderRuntime, err)
		}

		report(i + 1)
	}
	stats.FramesRendered = totalFrames
	return nil
}

// drain joins outstanding mux tasks on failure paths so cleanup does not race
// in-flight writes.
func (r *exportRun) drain() {
	if r.mux != nil {
		r.mux.Drain()
	}
}

// cleanup releases every acquired resource exactly once. Individual release
// failures are logged and aggregated but never override the export outcome.
func (r *exportRun) cleanup() {
	r.cleanupOnce.Do(func() {
		var errs *multierror.Error
		if r.ctl != nil {
			errs = multierror.Append(errs, r.ctl.Close())
		}
		if r.audioEnc != nil {
			errs = multierror.Append(errs, r.audioEnc.Close())
		}
		if r.audioReader != nil {
			errs = multierror.Append(errs, r.audioReader.Close())
		}
		if r.renderer != nil {
			errs = multierror.Append(errs, r.renderer.Destroy())
		}
		if r.source != nil {
			errs = multierror.Append(errs, r.source.Close())
		}
		if err := errs.ErrorOrNil(); err != nil {
			r.log.WithError(err).Warn("resource cleanup reported errors")
		}
	})
}
