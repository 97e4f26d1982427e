package openscreen

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecHEVC
	VideoCodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecHEVC:
		return "HEVC"
	case VideoCodecVP9:
		return "VP9"
	default:
		return "Unknown"
	}
}

// CodecString returns the RFC 6381 codec string used in decoder configurations
// and container sample entries.
func (c VideoCodec) CodecString() string {
	switch c {
	case VideoCodecH264:
		return "avc1.42001f"
	case VideoCodecHEVC:
		return "hvc1.1.6.L120.90"
	case VideoCodecVP9:
		return "vp09.00.10.08"
	default:
		return ""
	}
}

// ParseVideoCodec parses a codec name as written in config files ("h264",
// "hevc", "vp9"). Returns VideoCodecUnknown for anything else.
func ParseVideoCodec(s string) VideoCodec {
	switch s {
	case "h264", "H264", "avc", "avc1":
		return VideoCodecH264
	case "hevc", "HEVC", "h265", "H265":
		return VideoCodecHEVC
	case "vp9", "VP9":
		return VideoCodecVP9
	default:
		return VideoCodecUnknown
	}
}

// MarshalYAML encodes the codec as its config-file name.
func (c VideoCodec) MarshalYAML() (interface{}, error) {
	switch c {
	case VideoCodecH264:
		return "h264", nil
	case VideoCodecHEVC:
		return "hevc", nil
	case VideoCodecVP9:
		return "vp9", nil
	default:
		return "", nil
	}
}

// UnmarshalYAML decodes a codec from its config-file name.
func (c *VideoCodec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*c = ParseVideoCodec(s)
	return nil
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecAAC
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "AAC"
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// CodecString returns the RFC 6381 codec string for this codec.
func (c AudioCodec) CodecString() string {
	switch c {
	case AudioCodecAAC:
		return "mp4a.40.2"
	case AudioCodecOpus:
		return "opus"
	default:
		return ""
	}
}

// ParseAudioCodec parses an audio codec name as written in config files.
func ParseAudioCodec(s string) AudioCodec {
	switch s {
	case "aac", "AAC", "mp4a":
		return AudioCodecAAC
	case "opus", "Opus":
		return AudioCodecOpus
	default:
		return AudioCodecUnknown
	}
}

// MarshalYAML encodes the codec as its config-file name.
func (c AudioCodec) MarshalYAML() (interface{}, error) {
	switch c {
	case AudioCodecAAC:
		return "aac", nil
	case AudioCodecOpus:
		return "opus", nil
	default:
		return "", nil
	}
}

// UnmarshalYAML decodes a codec from its config-file name.
func (c *AudioCodec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*c = ParseAudioCodec(s)
	return nil
}

// ColorSpace describes the color metadata attached to a video decoder
// configuration.
type ColorSpace struct {
	Primaries string // e.g. "bt709"
	Transfer  string // e.g. "bt709"
	Matrix    string // e.g. "bt709"
	FullRange bool
}

// BT709ColorSpace returns the fixed BT.709 studio-range profile used when an
// encoder does not report color metadata of its own.
func BT709ColorSpace() ColorSpace {
	return ColorSpace{
		Primaries: "bt709",
		Transfer:  "bt709",
		Matrix:    "bt709",
		FullRange: false,
	}
}
