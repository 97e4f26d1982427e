package openscreen

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ZoomRegion describes a time-keyed zoom effect. Times are source-timeline
// milliseconds so the effect animates against the original recording even
// when trims shift the output timeline. Focus coordinates are normalized to
// the frame (0..1).
type ZoomRegion struct {
	StartMs int64   `yaml:"start_ms"`
	EndMs   int64   `yaml:"end_ms"`
	FocusX  float64 `yaml:"focus_x"`
	FocusY  float64 `yaml:"focus_y"`
	Scale   float64 `yaml:"scale"` // 1.0 = no zoom
}

// CropRegion describes a static crop applied before any other effect.
type CropRegion struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// AnnotationRegion describes a time-keyed rectangle overlay.
type AnnotationRegion struct {
	StartMs int64    `yaml:"start_ms"`
	EndMs   int64    `yaml:"end_ms"`
	X       int      `yaml:"x"`
	Y       int      `yaml:"y"`
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
	Color   [4]uint8 `yaml:"color"` // RGBA
}

// ExportConfig configures one export. It is immutable for the lifetime of the
// export.
type ExportConfig struct {
	Input string `yaml:"input"` // Source media locator (file path)

	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	FrameRate  float64    `yaml:"frame_rate"`
	BitrateBps int        `yaml:"bitrate_bps"`
	Codec      VideoCodec `yaml:"codec"`

	AudioCodec      AudioCodec `yaml:"audio_codec"`
	AudioBitrateBps int        `yaml:"audio_bitrate_bps"`

	TrimRegions []TrimRegion       `yaml:"trim_regions"`
	ZoomRegions []ZoomRegion       `yaml:"zoom_regions"`
	Crop        *CropRegion        `yaml:"crop"`
	Annotations []AnnotationRegion `yaml:"annotations"`

	// Padding adds a uniform border around the composited frame, filled with
	// Background. The output stays Width x Height; the content is scaled in.
	Padding    int      `yaml:"padding"`
	Background [4]uint8 `yaml:"background"` // RGBA
}

// DefaultExportConfig returns a 1080p30 H.264/AAC configuration.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Width:           1920,
		Height:          1080,
		FrameRate:       30,
		BitrateBps:      8_000_000,
		Codec:           VideoCodecH264,
		AudioCodec:      AudioCodecAAC,
		AudioBitrateBps: 128_000,
		Background:      [4]uint8{0, 0, 0, 255},
	}
}

// Validate checks the configuration before an export starts.
func (c *ExportConfig) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid output dimensions %dx%d", c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %v", c.FrameRate)
	}
	if c.BitrateBps <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.BitrateBps)
	}
	if c.Codec == VideoCodecUnknown {
		return fmt.Errorf("video codec is required")
	}
	for _, t := range c.TrimRegions {
		if t.StartMs >= t.EndMs {
			return fmt.Errorf("trim region [%d,%d): start must precede end", t.StartMs, t.EndMs)
		}
		if t.StartMs < 0 {
			return fmt.Errorf("trim region [%d,%d): negative start", t.StartMs, t.EndMs)
		}
	}
	for _, z := range c.ZoomRegions {
		if z.Scale < 1.0 {
			return fmt.Errorf("zoom region [%d,%d): scale %v below 1.0", z.StartMs, z.EndMs, z.Scale)
		}
	}
	if c.Padding < 0 {
		return fmt.Errorf("negative padding %d", c.Padding)
	}
	return nil
}

// LoadExportConfig reads an ExportConfig from a YAML file, applying defaults
// for omitted fields.
func LoadExportConfig(path string) (*ExportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultExportConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
