package openscreen

import "testing"

func TestVideoCodecStrings(t *testing.T) {
	cases := []struct {
		codec VideoCodec
		name  string
		rfc   string
	}{
		{VideoCodecH264, "H264", "avc1.42001f"},
		{VideoCodecHEVC, "HEVC", "hvc1.1.6.L120.90"},
		{VideoCodecVP9, "VP9", "vp09.00.10.08"},
	}
	for _, tc := range cases {
		if got := tc.codec.String(); got != tc.name {
			t.Errorf("String() = %q, want %q", got, tc.name)
		}
		if got := tc.codec.CodecString(); got != tc.rfc {
			t.Errorf("CodecString() = %q, want %q", got, tc.rfc)
		}
	}
}

func TestParseVideoCodec(t *testing.T) {
	if ParseVideoCodec("h264") != VideoCodecH264 {
		t.Error("h264 not parsed")
	}
	if ParseVideoCodec("h265") != VideoCodecHEVC {
		t.Error("h265 alias not parsed")
	}
	if ParseVideoCodec("mpeg2") != VideoCodecUnknown {
		t.Error("unknown name must parse to Unknown")
	}
}

func TestAudioCodecStrings(t *testing.T) {
	if AudioCodecAAC.CodecString() != "mp4a.40.2" {
		t.Errorf("AAC codec string = %q", AudioCodecAAC.CodecString())
	}
	if AudioCodecOpus.CodecString() != "opus" {
		t.Errorf("Opus codec string = %q", AudioCodecOpus.CodecString())
	}
}

func TestBT709ColorSpace(t *testing.T) {
	cs := BT709ColorSpace()
	if cs.Primaries != "bt709" || cs.Transfer != "bt709" || cs.Matrix != "bt709" || cs.FullRange {
		t.Errorf("unexpected profile %+v", cs)
	}
}
