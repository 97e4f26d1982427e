package openscreen

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseAVCC(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce}
	record := []byte{
		0x01, 0x42, 0x00, 0x1f, 0xff,
		0xe1,       // one SPS
		0x00, 0x04, // SPS length
	}
	record = append(record, sps...)
	record = append(record, 0x01, 0x00, 0x02) // one PPS, length 2
	record = append(record, pps...)

	gotSPS, gotPPS, err := parseAVCC(record)
	if err != nil {
		t.Fatalf("parseAVCC: %v", err)
	}
	if !bytes.Equal(gotSPS, sps) {
		t.Errorf("SPS = %x, want %x", gotSPS, sps)
	}
	if !bytes.Equal(gotPPS, pps) {
		t.Errorf("PPS = %x, want %x", gotPPS, pps)
	}
}

func TestParseAVCCTruncated(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01, 0x42},
		{0x01, 0x42, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x10, 0x67}, // SPS shorter than its length
		{0x01, 0x42, 0x00, 0x1f, 0xff, 0xe0, 0x00},             // zero parameter sets
	}
	for i, record := range cases {
		if _, _, err := parseAVCC(record); err == nil {
			t.Errorf("case %d: malformed record accepted", i)
		}
	}
}

func TestParseHVCC(t *testing.T) {
	vps := []byte{0x40, 0x01}
	sps := []byte{0x42, 0x01, 0x01}
	pps := []byte{0x44, 0x01}

	record := make([]byte, 22)
	record[0] = 0x01
	record = append(record, 3) // three NALU arrays
	appendArray := func(nalType byte, nalu []byte) {
		record = append(record, nalType, 0x00, 0x01,
			byte(len(nalu)>>8), byte(len(nalu)))
		record = append(record, nalu...)
	}
	appendArray(32, vps)
	appendArray(33, sps)
	appendArray(34, pps)

	gotVPS, gotSPS, gotPPS, err := parseHVCC(record)
	if err != nil {
		t.Fatalf("parseHVCC: %v", err)
	}
	if !bytes.Equal(gotVPS, vps) || !bytes.Equal(gotSPS, sps) || !bytes.Equal(gotPPS, pps) {
		t.Errorf("parameter sets = %x %x %x", gotVPS, gotSPS, gotPPS)
	}
}

func TestFMP4WriterRejectsAudioOnVideoOnly(t *testing.T) {
	w := NewFMP4Writer()
	cfg := testExportConfig()
	if err := w.Initialize(&cfg, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := w.WriteAudioChunk(chunkAt(0)); !errors.Is(err, ErrMuxing) {
		t.Errorf("error = %v, want ErrMuxing", err)
	}
}

// The decoder config rides the first chunk to leave the encoder, which is
// not always the first chunk the coordinator writes. The writer must capture
// it from whichever chunk carries it.
func TestFMP4WriterAcceptsConfigOnLaterChunk(t *testing.T) {
	w := NewFMP4Writer()
	cfg := testExportConfig()
	if err := w.Initialize(&cfg, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := w.WriteVideoChunk(chunkAt(0)); err != nil {
		t.Fatalf("WriteVideoChunk: %v", err)
	}
	withCfg := chunkAt(33_333)
	withCfg.Config = &DecoderConfig{Codec: "avc1.42001f", Width: 320, Height: 240}
	if err := w.WriteVideoChunk(withCfg); err != nil {
		t.Fatalf("WriteVideoChunk with config: %v", err)
	}
	if w.videoConfig == nil || w.videoConfig.Codec != "avc1.42001f" {
		t.Errorf("videoConfig = %+v, want the config carried on the second chunk", w.videoConfig)
	}
}

func TestFMP4WriterFinalizeWithoutConfig(t *testing.T) {
	w := NewFMP4Writer()
	cfg := testExportConfig()
	if err := w.Initialize(&cfg, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := w.WriteVideoChunk(chunkAt(0)); err != nil {
		t.Fatalf("WriteVideoChunk: %v", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, ErrMuxing) {
		t.Errorf("error = %v, want ErrMuxing for missing decoder config", err)
	}
}

func TestDurationToScale(t *testing.T) {
	if got := durationToScale(33_333, videoTimeScale); got != 2999 {
		t.Errorf("33333us at 90kHz = %d, want 2999", got)
	}
	if got := microsToScale(1_000_000, 48000); got != 48000 {
		t.Errorf("1s at 48kHz = %d, want 48000", got)
	}
}
