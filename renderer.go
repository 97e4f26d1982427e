package openscreen

import "fmt"

// FrameRenderer composites one source frame into one output frame, applying
// the configured visual effects. Effects are keyed against the source
// timestamp so zooms and annotations animate against the original recording,
// not the trimmed output.
type FrameRenderer interface {
	// Initialize prepares the renderer for the given export configuration.
	Initialize(cfg *ExportConfig) error

	// RenderFrame composites frame at the given source-timeline instant and
	// returns the output-sized result. The returned frame is owned by the
	// renderer and valid until the next RenderFrame call.
	RenderFrame(frame *VideoFrame, sourceMicros int64) (*VideoFrame, error)

	// OutputSize returns the composited frame dimensions.
	OutputSize() (width, height int)

	// Destroy releases renderer resources. Safe to call more than once.
	Destroy() error
}

// zoomRampMs is the ease-in/ease-out ramp at either edge of a zoom region.
const zoomRampMs = 300

// EffectRenderer is the CPU implementation of FrameRenderer. It works on
// packed RGBA frames: crop, time-keyed zoom, scale into the padded content
// area over the background color, then annotation overlays.
type EffectRenderer struct {
	cfg *ExportConfig
	out *VideoFrame
}

// NewEffectRenderer creates an uninitialized effect renderer.
func NewEffectRenderer() *EffectRenderer {
	return &EffectRenderer{}
}

// Initialize allocates the output canvas.
func (r *EffectRenderer) Initialize(cfg *ExportConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("renderer: invalid output size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Padding*2 >= cfg.Width || cfg.Padding*2 >= cfg.Height {
		return fmt.Errorf("renderer: padding %d leaves no content area", cfg.Padding)
	}
	r.cfg = cfg
	r.out = &VideoFrame{
		Data:   make([]byte, cfg.Width*cfg.Height*4),
		Stride: cfg.Width * 4,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: PixelFormatRGBA32,
	}
	return nil
}

// OutputSize returns the configured output dimensions.
func (r *EffectRenderer) OutputSize() (int, int) {
	if r.cfg == nil {
		return 0, 0
	}
	return r.cfg.Width, r.cfg.Height
}

// RenderFrame composites one frame.
func (r *EffectRenderer) RenderFrame(frame *VideoFrame, sourceMicros int64) (*VideoFrame, error) {
	if r.cfg == nil || r.out == nil {
		return nil, fmt.Errorf("renderer: not initialized")
	}
	if frame.Format != PixelFormatRGBA32 && frame.Format != PixelFormatBGRA32 {
		return nil, fmt.Errorf("renderer: unsupported pixel format %s", frame.Format)
	}

	sourceMs := sourceMicros / 1000

	// View rectangle on the source frame: crop first, then zoom.
	vx, vy, vw, vh := 0.0, 0.0, float64(frame.Width), float64(frame.Height)
	if c := r.cfg.Crop; c != nil {
		vx, vy = float64(c.X), float64(c.Y)
		vw, vh = float64(c.Width), float64(c.Height)
	}
	if scale, fx, fy := r.activeZoom(sourceMs); scale > 1.0 {
		zw, zh := vw/scale, vh/scale
		cx := vx + fx*vw
		cy := vy + fy*vh
		vx = clampFloat(cx-zw/2, vx, vx+vw-zw)
		vy = clampFloat(cy-zh/2, vy, vy+vh-zh)
		vw, vh = zw, zh
	}

	r.fill(r.cfg.Background)
	r.blit(frame, vx, vy, vw, vh)

	for _, a := range r.cfg.Annotations {
		if sourceMs >= a.StartMs && sourceMs < a.EndMs {
			r.drawRect(a)
		}
	}

	r.out.TimestampMicros = frame.TimestampMicros
	r.out.DurationMicros = frame.DurationMicros
	return r.out, nil
}

// activeZoom returns the eased zoom scale and focus for the given source
// instant, or scale 1.0 when no region is active.
func (r *EffectRenderer) activeZoom(sourceMs int64) (scale, fx, fy float64) {
	for _, z := range r.cfg.ZoomRegions {
		if sourceMs < z.StartMs || sourceMs >= z.EndMs {
			continue
		}
		t := 1.0
		if in := sourceMs - z.StartMs; in < zoomRampMs {
			t = float64(in) / zoomRampMs
		} else if out := z.EndMs - sourceMs; out < zoomRampMs {
			t = float64(out) / zoomRampMs
		}
		// Smoothstep easing over the ramp.
		t = t * t * (3 - 2*t)
		return 1 + (z.Scale-1)*t, z.FocusX, z.FocusY
	}
	return 1.0, 0.5, 0.5
}

func (r *EffectRenderer) fill(color [4]uint8) {
	px := r.out.Data
	for i := 0; i < len(px); i += 4 {
		px[i] = color[0]
		px[i+1] = color[1]
		px[i+2] = color[2]
		px[i+3] = color[3]
	}
}

// blit samples the view rectangle of src into the padded content area with
// nearest-neighbor scaling, swapping channels for BGRA input.
func (r *EffectRenderer) blit(src *VideoFrame, vx, vy, vw, vh float64) {
	pad := r.cfg.Padding
	cw := r.cfg.Width - 2*pad
	ch := r.cfg.Height - 2*pad
	bgra := src.Format == PixelFormatBGRA32

	for oy := 0; oy < ch; oy++ {
		sy := int(vy + (float64(oy)+0.5)*vh/float64(ch))
		if sy < 0 {
			sy = 0
		} else if sy >= src.Height {
			sy = src.Height - 1
		}
		srcRow := sy * src.Stride
		dstRow := (oy+pad)*r.out.Stride + pad*4
		for ox := 0; ox < cw; ox++ {
			sx := int(vx + (float64(ox)+0.5)*vw/float64(cw))
			if sx < 0 {
				sx = 0
			} else if sx >= src.Width {
				sx = src.Width - 1
			}
			si := srcRow + sx*4
			di := dstRow + ox*4
			if bgra {
				r.out.Data[di] = src.Data[si+2]
				r.out.Data[di+1] = src.Data[si+1]
				r.out.Data[di+2] = src.Data[si]
			} else {
				r.out.Data[di] = src.Data[si]
				r.out.Data[di+1] = src.Data[si+1]
				r.out.Data[di+2] = src.Data[si+2]
			}
			r.out.Data[di+3] = 255
		}
	}
}

// drawRect alpha-blends an annotation rectangle over the output canvas.
func (r *EffectRenderer) drawRect(a AnnotationRegion) {
	alpha := int(a.Color[3])
	for y := a.Y; y < a.Y+a.Height; y++ {
		if y < 0 || y >= r.out.Height {
			continue
		}
		row := y * r.out.Stride
		for x := a.X; x < a.X+a.Width; x++ {
			if x < 0 || x >= r.out.Width {
				continue
			}
			i := row + x*4
			for c := 0; c < 3; c++ {
				bg := int(r.out.Data[i+c])
				fg := int(a.Color[c])
				r.out.Data[i+c] = uint8((fg*alpha + bg*(255-alpha)) / 255)
			}
		}
	}
}

// Destroy releases the canvas. Idempotent.
func (r *EffectRenderer) Destroy() error {
	r.cfg = nil
	r.out = nil
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
