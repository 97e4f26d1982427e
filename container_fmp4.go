package openscreen

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
)

const (
	videoTrackID   = 1
	audioTrackID   = 2
	videoTimeScale = 90000
)

// FMP4Writer assembles encoded chunks into a fragmented MP4 blob. Samples are
// buffered per track and the file is laid out as an init section plus a single
// fragment when Finalize is called; the writer never touches the filesystem.
type FMP4Writer struct {
	cfg      *ExportConfig
	hasAudio bool

	videoConfig *DecoderConfig
	audioConfig *DecoderConfig
	video       []*fmp4.PartSample
	videoTimes  []int64
	audio       []*fmp4.PartSample
	audioTimes  []int64
}

// NewFMP4Writer returns an empty writer. Initialize must be called before
// chunks are written.
func NewFMP4Writer() *FMP4Writer {
	return &FMP4Writer{}
}

func (w *FMP4Writer) Initialize(cfg *ExportConfig, hasAudio bool) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil export config", ErrMuxing)
	}
	w.cfg = cfg
	w.hasAudio = hasAudio
	return nil
}

func (w *FMP4Writer) WriteVideoChunk(chunk *EncodedChunk) error {
	if chunk.Config != nil && w.videoConfig == nil {
		w.videoConfig = chunk.Config
	}
	w.video = append(w.video, &fmp4.PartSample{
		Duration:        durationToScale(chunk.DurationMicros, videoTimeScale),
		IsNonSyncSample: !chunk.IsKeyframe(),
		Payload:         chunk.Data,
	})
	w.videoTimes = append(w.videoTimes, chunk.TimestampMicros)
	return nil
}

func (w *FMP4Writer) WriteAudioChunk(chunk *EncodedChunk) error {
	if !w.hasAudio {
		return fmt.Errorf("%w: audio chunk on video-only output", ErrMuxing)
	}
	if chunk.Config != nil && w.audioConfig == nil {
		w.audioConfig = chunk.Config
	}
	scale := uint32(videoTimeScale)
	if w.audioConfig != nil && w.audioConfig.SampleRate > 0 {
		scale = uint32(w.audioConfig.SampleRate)
	}
	w.audio = append(w.audio, &fmp4.PartSample{
		Duration: durationToScale(chunk.DurationMicros, scale),
		Payload:  chunk.Data,
	})
	w.audioTimes = append(w.audioTimes, chunk.TimestampMicros)
	return nil
}

// Finalize marshals the init section and a single fragment holding every
// buffered sample, and returns the complete file.
func (w *FMP4Writer) Finalize() ([]byte, error) {
	if w.videoConfig == nil {
		return nil, fmt.Errorf("%w: no video decoder configuration received", ErrMuxing)
	}

	videoCodec, err := videoTrackCodec(w.videoConfig)
	if err != nil {
		return nil, err
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: videoTimeScale,
			Codec:     videoCodec,
		}},
	}

	audioScale := uint32(0)
	if w.hasAudio && w.audioConfig != nil && len(w.audio) > 0 {
		audioCodec, err := audioTrackCodec(w.audioConfig)
		if err != nil {
			return nil, err
		}
		audioScale = uint32(w.audioConfig.SampleRate)
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: audioScale,
			Codec:     audioCodec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("%w: init section: %v", ErrMuxing, err)
	}

	part := fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: microsToScale(w.videoTimes[0], videoTimeScale),
			Samples:  w.video,
		}},
	}
	if audioScale != 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: microsToScale(w.audioTimes[0], audioScale),
			Samples:  w.audio,
		})
	}
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("%w: fragment: %v", ErrMuxing, err)
	}
	return buf.Bytes(), nil
}

func durationToScale(micros int64, scale uint32) uint32 {
	return uint32(micros * int64(scale) / 1_000_000)
}

func microsToScale(micros int64, scale uint32) uint64 {
	if micros < 0 {
		return 0
	}
	return uint64(micros) * uint64(scale) / 1_000_000
}

// videoTrackCodec maps a decoder configuration onto an fMP4 track codec,
// parsing the codec-private description where the container needs its parts.
func videoTrackCodec(dc *DecoderConfig) (fmp4.Codec, error) {
	switch {
	case len(dc.Codec) >= 4 && dc.Codec[:4] == "avc1":
		sps, pps, err := parseAVCC(dc.Description)
		if err != nil {
			return nil, fmt.Errorf("%w: avcC: %v", ErrMuxing, err)
		}
		return &fmp4.CodecH264{SPS: sps, PPS: pps}, nil

	case len(dc.Codec) >= 4 && dc.Codec[:4] == "hvc1":
		vps, sps, pps, err := parseHVCC(dc.Description)
		if err != nil {
			return nil, fmt.Errorf("%w: hvcC: %v", ErrMuxing, err)
		}
		return &fmp4.CodecH265{VPS: vps, SPS: sps, PPS: pps}, nil

	case len(dc.Codec) >= 4 && dc.Codec[:4] == "vp09":
		return &fmp4.CodecVP9{
			Width:             dc.Width,
			Height:            dc.Height,
			Profile:           0,
			BitDepth:          8,
			ChromaSubsampling: 1,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported video codec %q", ErrMuxing, dc.Codec)
	}
}

func audioTrackCodec(dc *DecoderConfig) (fmp4.Codec, error) {
	switch {
	case len(dc.Codec) >= 4 && dc.Codec[:4] == "mp4a":
		var conf mpeg4audio.AudioSpecificConfig
		if err := conf.Unmarshal(dc.Description); err != nil {
			return nil, fmt.Errorf("%w: AudioSpecificConfig: %v", ErrMuxing, err)
		}
		return &fmp4.CodecMPEG4Audio{Config: conf}, nil

	case len(dc.Codec) >= 4 && dc.Codec[:4] == "opus":
		return &fmp4.CodecOpus{ChannelCount: dc.Channels}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported audio codec %q", ErrMuxing, dc.Codec)
	}
}

// parseAVCC extracts the first SPS and PPS from an AVCDecoderConfigurationRecord.
func parseAVCC(b []byte) (sps, pps []byte, err error) {
	if len(b) < 7 {
		return nil, nil, fmt.Errorf("record too short (%d bytes)", len(b))
	}
	pos := 5
	spsCount := int(b[pos] & 0x1f)
	pos++
	for i := 0; i < spsCount; i++ {
		if pos+2 > len(b) {
			return nil, nil, fmt.Errorf("truncated SPS length")
		}
		n := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+n > len(b) {
			return nil, nil, fmt.Errorf("truncated SPS")
		}
		if sps == nil {
			sps = b[pos : pos+n]
		}
		pos += n
	}
	if pos >= len(b) {
		return nil, nil, fmt.Errorf("missing PPS count")
	}
	ppsCount := int(b[pos])
	pos++
	for i := 0; i < ppsCount; i++ {
		if pos+2 > len(b) {
			return nil, nil, fmt.Errorf("truncated PPS length")
		}
		n := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+n > len(b) {
			return nil, nil, fmt.Errorf("truncated PPS")
		}
		if pps == nil {
			pps = b[pos : pos+n]
		}
		pos += n
	}
	if sps == nil || pps == nil {
		return nil, nil, fmt.Errorf("record carries no parameter sets")
	}
	return sps, pps, nil
}

// parseHVCC extracts the first VPS, SPS and PPS from an
// HEVCDecoderConfigurationRecord's NAL unit arrays.
func parseHVCC(b []byte) (vps, sps, pps []byte, err error) {
	if len(b) < 23 {
		return nil, nil, nil, fmt.Errorf("record too short (%d bytes)", len(b))
	}
	numArrays := int(b[22])
	pos := 23
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(b) {
			return nil, nil, nil, fmt.Errorf("truncated array header")
		}
		nalType := b[pos] & 0x3f
		count := int(b[pos+1])<<8 | int(b[pos+2])
		pos += 3
		for j := 0; j < count; j++ {
			if pos+2 > len(b) {
				return nil, nil, nil, fmt.Errorf("truncated NALU length")
			}
			n := int(b[pos])<<8 | int(b[pos+1])
			pos += 2
			if pos+n > len(b) {
				return nil, nil, nil, fmt.Errorf("truncated NALU")
			}
			nalu := b[pos : pos+n]
			pos += n
			switch nalType {
			case 32:
				if vps == nil {
					vps = nalu
				}
			case 33:
				if sps == nil {
					sps = nalu
				}
			case 34:
				if pps == nil {
					pps = nalu
				}
			}
		}
	}
	if vps == nil || sps == nil || pps == nil {
		return nil, nil, nil, fmt.Errorf("record carries no parameter sets")
	}
	return vps, sps, pps, nil
}
