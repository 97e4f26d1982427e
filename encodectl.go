package openscreen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// defaultMaxInFlight bounds how many frames may sit between the frame loop
// and the muxer before the producer blocks. Load-bearing: encoder output is
// forwarded asynchronously, so without the bound a slow encoder lets the
// renderer queue frames without limit.
const defaultMaxInFlight = 128

// encoderDeps abstracts encoder selection so tests can substitute the
// registry-backed defaults.
type encoderDeps struct {
	Supports   func(VideoEncoderConfig) bool
	NewEncoder func(VideoEncoderConfig, ChunkHandler) (VideoEncoder, error)
}

func defaultEncoderDeps() encoderDeps {
	return encoderDeps{
		Supports:   IsVideoConfigSupported,
		NewEncoder: NewVideoEncoder,
	}
}

// encodeController owns the video encoder and bounds how far encoding may run
// ahead of muxing. A slot is taken before each frame is submitted and given
// back when that frame's encoded chunk has been forwarded to the mux
// coordinator; the producer blocks on the slot channel, woken by the
// consumer, with no polling.
type encodeController struct {
	enc VideoEncoder
	cfg VideoEncoderConfig
	mux *muxCoordinator
	log logrus.FieldLogger

	slots        chan struct{}
	inFlight     atomic.Int64
	peakInFlight atomic.Int64
	chunksOut    atomic.Uint64

	configOnce sync.Once
	fatalOnce  sync.Once
	onFatal    func(error)
}

// newEncodeController selects and configures the video encoder:
// hardware-accelerated first, software fallback with identical settings, and
// a fatal ErrConfigUnsupported when neither path accepts the configuration.
func newEncodeController(cfg VideoEncoderConfig, deps encoderDeps, mux *muxCoordinator,
	log logrus.FieldLogger, maxInFlight int, onFatal func(error)) (*encodeController, error) {

	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	c := &encodeController{
		mux:     mux,
		log:     log,
		slots:   make(chan struct{}, maxInFlight),
		onFatal: onFatal,
	}

	for _, p := range providerPreference {
		attempt := cfg
		attempt.Provider = p
		if !deps.Supports(attempt) {
			log.WithField("provider", p.String()).Debug("encoder configuration rejected")
			continue
		}
		enc, err := deps.NewEncoder(attempt, c.handleChunk)
		if err != nil {
			log.WithField("provider", p.String()).WithError(err).Debug("encoder creation failed")
			continue
		}
		c.enc = enc
		c.cfg = attempt
		log.WithField("provider", p.String()).Debug("video encoder configured")
		break
	}
	if c.enc == nil {
		return nil, fmt.Errorf("%w: %s %dx%d@%g", ErrConfigUnsupported,
			cfg.Codec, cfg.Width, cfg.Height, cfg.FrameRate)
	}
	return c, nil
}

// Submit hands one composited frame to the encoder, blocking while the
// in-flight bound is reached. Cancellation is observed inside the wait.
func (c *encodeController) Submit(ctx context.Context, frame *VideoFrame, keyFrame bool) error {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	cur := c.inFlight.Add(1)
	for {
		peak := c.peakInFlight.Load()
		if cur <= peak || c.peakInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	if err := c.enc.Encode(frame, keyFrame); err != nil {
		c.release()
		c.fatal(err)
		return err
	}
	return nil
}

// handleChunk runs on the encoder's output context, concurrently with the
// frame loop. The first chunk is tagged with the stream's decoder
// configuration; the muxer cannot build a valid container header without it.
func (c *encodeController) handleChunk(chunk *EncodedChunk) {
	c.configOnce.Do(func() {
		cs := BT709ColorSpace()
		if reported := c.enc.ColorSpace(); reported != nil {
			cs = *reported
		}
		chunk.Config = &DecoderConfig{
			Codec:       c.cfg.Codec.CodecString(),
			Width:       c.cfg.Width,
			Height:      c.cfg.Height,
			Description: c.enc.Description(),
			ColorSpace:  cs,
		}
	})
	c.chunksOut.Add(1)
	c.mux.AddVideoChunk(chunk)
	c.release()
}

func (c *encodeController) release() {
	c.inFlight.Add(-1)
	<-c.slots
}

func (c *encodeController) fatal(err error) {
	c.fatalOnce.Do(func() {
		c.log.WithError(err).Error("fatal encoder error, aborting export")
		if c.onFatal != nil {
			c.onFatal(err)
		}
	})
}

// Flush drains the encoder; every pending chunk reaches the mux coordinator
// before Flush returns.
func (c *encodeController) Flush() error {
	return c.enc.Flush()
}

// Close releases the encoder.
func (c *encodeController) Close() error {
	return c.enc.Close()
}

// Provider reports which provider ended up configured (hardware or software).
func (c *encodeController) Provider() Provider {
	return c.enc.Provider()
}

// InFlight returns the current number of submitted-but-unmuxed frames.
func (c *encodeController) InFlight() int64 {
	return c.inFlight.Load()
}

// PeakInFlight returns the high-water mark of the in-flight counter.
func (c *encodeController) PeakInFlight() int64 {
	return c.peakInFlight.Load()
}

// ChunksForwarded returns how many chunks reached the mux coordinator.
func (c *encodeController) ChunksForwarded() uint64 {
	return c.chunksOut.Load()
}
