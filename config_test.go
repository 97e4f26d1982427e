package openscreen

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExportConfigValidate(t *testing.T) {
	valid := func() ExportConfig {
		cfg := DefaultExportConfig()
		cfg.Input = "clip.mp4"
		return cfg
	}

	if err := func() error { c := valid(); return c.Validate() }(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ExportConfig)
	}{
		{"missing input", func(c *ExportConfig) { c.Input = "" }},
		{"zero width", func(c *ExportConfig) { c.Width = 0 }},
		{"negative height", func(c *ExportConfig) { c.Height = -1 }},
		{"zero framerate", func(c *ExportConfig) { c.FrameRate = 0 }},
		{"zero bitrate", func(c *ExportConfig) { c.BitrateBps = 0 }},
		{"unknown codec", func(c *ExportConfig) { c.Codec = VideoCodecUnknown }},
		{"inverted trim", func(c *ExportConfig) {
			c.TrimRegions = []TrimRegion{{StartMs: 500, EndMs: 100}}
		}},
		{"negative trim start", func(c *ExportConfig) {
			c.TrimRegions = []TrimRegion{{StartMs: -1, EndMs: 100}}
		}},
		{"zoom scale below one", func(c *ExportConfig) {
			c.ZoomRegions = []ZoomRegion{{StartMs: 0, EndMs: 100, Scale: 0.5}}
		}},
		{"negative padding", func(c *ExportConfig) { c.Padding = -4 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadExportConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.yaml")
	data := []byte(`
input: recording.mp4
width: 1280
height: 720
codec: hevc
trim_regions:
  - start_ms: 1000
    end_ms: 2500
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadExportConfig(path)
	if err != nil {
		t.Fatalf("LoadExportConfig: %v", err)
	}
	if cfg.Input != "recording.mp4" || cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("parsed config %+v", cfg)
	}
	if cfg.Codec != VideoCodecHEVC {
		t.Errorf("codec = %v, want HEVC", cfg.Codec)
	}
	// Omitted fields keep their defaults.
	if cfg.FrameRate != 30 || cfg.BitrateBps != 8_000_000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.TrimRegions) != 1 || cfg.TrimRegions[0] != (TrimRegion{StartMs: 1000, EndMs: 2500}) {
		t.Errorf("trim regions = %+v", cfg.TrimRegions)
	}
}

func TestLoadExportConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.yaml")
	if err := os.WriteFile(path, []byte("input: ''\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExportConfig(path); err == nil {
		t.Error("config without input accepted")
	}
}
