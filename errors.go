package openscreen

import "errors"

// Error taxonomy for a single export attempt. Every failure returned by
// Export wraps one of these sentinels so callers can branch with errors.Is.
var (
	// ErrInput means the source media failed to load or decode. Fatal, raised
	// before any encoder is touched.
	ErrInput = errors.New("source media failed to load")

	// ErrConfigUnsupported means the requested video encoder configuration was
	// rejected by both the hardware and the software path. Fatal.
	ErrConfigUnsupported = errors.New("video encoder configuration not supported")

	// ErrEncoderRuntime means the encoder failed mid-stream. Escalated to
	// cancellation; the export is reported as failed.
	ErrEncoderRuntime = errors.New("encoder runtime failure")

	// ErrAudioUnsupported means the audio encoder configuration was rejected.
	// Non-fatal: the export downgrades to video-only.
	ErrAudioUnsupported = errors.New("audio encoder configuration not supported")

	// ErrAudioRuntime means the audio extraction pass failed mid-stream.
	// Non-fatal: the export downgrades to video-only.
	ErrAudioRuntime = errors.New("audio extraction failure")

	// ErrMuxing means one or more chunk writes to the container failed.
	ErrMuxing = errors.New("container write failed")

	// ErrCancelled means the export was cancelled by the user or by an
	// escalated sub-resource failure. Distinguishable from true failures.
	ErrCancelled = errors.New("export cancelled")

	// ErrExportInProgress is returned when Export is called while a previous
	// export on the same pipeline is still running.
	ErrExportInProgress = errors.New("export already in progress")
)
