package openscreen

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ContainerWriter is the boundary to the physical container serializer. The
// coordinator guarantees per-track calls arrive in monotonic timestamp order
// and never concurrently. A track's DecoderConfig rides the first chunk to
// leave the encoder, which under out-of-order completion is not necessarily
// the first chunk written; writers must capture Config from whichever early
// chunk carries it.
type ContainerWriter interface {
	Initialize(cfg *ExportConfig, hasAudio bool) error
	WriteVideoChunk(chunk *EncodedChunk) error
	WriteAudioChunk(chunk *EncodedChunk) error
	Finalize() ([]byte, error)
}

// defaultReorderWindow bounds how far out of order chunks may arrive at the
// coordinator. Encoder output callbacks can overtake each other at the
// scheduling layer, but never by more than a handful of chunks.
const defaultReorderWindow = 16

// muxCoordinator accepts independently-produced video and audio chunks,
// restores per-track timestamp order, and serializes writes to the container
// writer. Every Add dispatches an asynchronous write task; WaitAndFinalize
// joins all of them before finalizing, so no chunk can be dropped by an early
// finalize.
//
// Per-chunk write failures are logged where they happen and aggregated; a
// failed chunk fails the whole export rather than leaving a silently
// truncated container.
type muxCoordinator struct {
	writer ContainerWriter
	log    logrus.FieldLogger
	window int

	wg sync.WaitGroup

	mu           sync.Mutex
	videoPending []*EncodedChunk
	audioPending []*EncodedChunk
	errs         *multierror.Error
}

func newMuxCoordinator(writer ContainerWriter, log logrus.FieldLogger, window int) *muxCoordinator {
	if window <= 0 {
		window = defaultReorderWindow
	}
	return &muxCoordinator{
		writer: writer,
		log:    log,
		window: window,
	}
}

// Initialize prepares the underlying container writer.
func (m *muxCoordinator) Initialize(cfg *ExportConfig, hasAudio bool) error {
	return m.writer.Initialize(cfg, hasAudio)
}

// AddVideoChunk dispatches an asynchronous write task for a video chunk.
func (m *muxCoordinator) AddVideoChunk(chunk *EncodedChunk) {
	m.add(chunk, true)
}

// AddAudioChunk dispatches an asynchronous write task for an audio chunk.
func (m *muxCoordinator) AddAudioChunk(chunk *EncodedChunk) {
	m.add(chunk, false)
}

func (m *muxCoordinator) add(chunk *EncodedChunk, video bool) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.mu.Lock()
		defer m.mu.Unlock()

		if video {
			m.videoPending = insertByTimestamp(m.videoPending, chunk)
			m.flushLocked(true, false)
		} else {
			m.audioPending = insertByTimestamp(m.audioPending, chunk)
			m.flushLocked(false, false)
		}
	}()
}

// flushLocked writes pending chunks in timestamp order. With drainAll false it
// keeps up to window chunks buffered to absorb out-of-order arrivals.
func (m *muxCoordinator) flushLocked(video, drainAll bool) {
	pending := &m.videoPending
	track := "video"
	write := m.writer.WriteVideoChunk
	if !video {
		pending = &m.audioPending
		track = "audio"
		write = m.writer.WriteAudioChunk
	}

	keep := m.window
	if drainAll {
		keep = 0
	}
	for len(*pending) > keep {
		chunk := (*pending)[0]
		*pending = (*pending)[1:]
		if err := write(chunk); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"track":     track,
				"timestamp": chunk.TimestampMicros,
			}).Error("container chunk write failed")
			m.errs = multierror.Append(m.errs,
				fmt.Errorf("%s chunk at %dus: %w", track, chunk.TimestampMicros, err))
		}
	}
}

// insertByTimestamp inserts a chunk keeping the slice ordered by timestamp.
// Equal timestamps keep arrival order.
func insertByTimestamp(pending []*EncodedChunk, chunk *EncodedChunk) []*EncodedChunk {
	i := sort.Search(len(pending), func(i int) bool {
		return pending[i].TimestampMicros > chunk.TimestampMicros
	})
	pending = append(pending, nil)
	copy(pending[i+1:], pending[i:])
	pending[i] = chunk
	return pending
}

// WaitAndFinalize joins every outstanding write task, drains the reorder
// buffers, and finalizes the container. Any per-chunk write failure fails the
// export.
func (m *muxCoordinator) WaitAndFinalize() ([]byte, error) {
	m.wg.Wait()

	m.mu.Lock()
	m.flushLocked(true, true)
	m.flushLocked(false, true)
	errs := m.errs
	m.mu.Unlock()

	if errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrMuxing, errs.ErrorOrNil())
	}
	blob, err := m.writer.Finalize()
	if err != nil {
		return nil, fmt.Errorf("%w: finalize: %v", ErrMuxing, err)
	}
	return blob, nil
}

// Drain joins outstanding write tasks without finalizing. Used on failure
// paths so cleanup does not race in-flight writes.
func (m *muxCoordinator) Drain() {
	m.wg.Wait()
}
