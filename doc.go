// Package openscreen exports recorded screen/camera clips into a finished,
// effect-composited container file.
//
// Key pieces include:
//   - ExportPipeline: the top-level orchestrator (decode -> render -> encode -> mux)
//   - TimeMapper helpers for trim-aware timeline remapping
//   - Video/Audio encoders with hardware-first selection and software fallback
//   - An audio extraction pass that replays only the non-trimmed segments
//   - A muxing coordinator that restores per-track chunk order before writing
//
// # Architecture
//
//	Video: MediaSource -> FrameRenderer -> encode controller -> mux coordinator
//	Audio: MediaSource audio track -> audio extractor -> audio encoder -> mux coordinator
//	Both tracks drain into a ContainerWriter that produces the final byte blob.
//
// # Native Libraries
//
// Encoder bindings load libopenscreen_codec via purego (CGO_ENABLED=0). Set
// OPENSCREEN_CODEC_LIB_PATH to the directory containing the library. Hardware
// acceleration availability is probed at configure time; when the platform
// rejects a hardware configuration the pipeline falls back to the software
// encoder with the same settings.
//
// # External Collaborators
//
// Screen/camera acquisition, window management and UI are out of scope. The
// pipeline consumes any MediaSource (a Vidio/ffmpeg-backed file source is
// provided) and hands composited frames to any FrameRenderer.
package openscreen
