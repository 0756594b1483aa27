package core

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// MaxBrightness is the highest per-LED brightness the strip protocol accepts.
const MaxBrightness = 31

// Color is an immutable RGB value with a 5-bit global brightness.
type Color struct {
	r, g, b    uint8
	brightness uint8
}

var (
	Black = RGB(0, 0, 0)
	White = RGB(255, 255, 255)
	Red   = RGB(255, 0, 0)
	Green = RGB(0, 255, 0)
	Blue  = RGB(0, 0, 255)
)

// RGB returns a color at full brightness.
func RGB(r, g, b uint8) Color {
	return Color{r: r, g: g, b: b, brightness: MaxBrightness}
}

// NewColor returns a color with an explicit brightness, clamped to MaxBrightness.
func NewColor(r, g, b, brightness uint8) Color {
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	return Color{r: r, g: g, b: b, brightness: brightness}
}

// ClampedRGB builds a color from ints, clamping each channel to [0,255].
func ClampedRGB(r, g, b int) Color {
	return RGB(clamp8(r), clamp8(g), clamp8(b))
}

// FromHSV converts hue in degrees [0,360), saturation and value in [0,1].
func FromHSV(h, s, v float64) Color {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return RGB(r, g, b)
}

func (c Color) R() uint8          { return c.r }
func (c Color) G() uint8          { return c.g }
func (c Color) B() uint8          { return c.b }
func (c Color) Brightness() uint8 { return c.brightness }

// WithBrightness returns a copy of c with a different brightness.
func (c Color) WithBrightness(brightness uint8) Color {
	return NewColor(c.r, c.g, c.b, brightness)
}

// HSV returns hue in degrees and saturation/value in [0,1].
func (c Color) HSV() (h, s, v float64) {
	return c.colorful().Hsv()
}

// Blend linearly interpolates towards other; t is clamped to [0,1].
func (c Color) Blend(other Color, t float64) Color {
	if t <= 0 {
		return c
	}
	if t >= 1 {
		return other
	}
	r, g, b := c.colorful().BlendRgb(other.colorful(), t).Clamped().RGB255()
	br := float64(c.brightness) + t*(float64(other.brightness)-float64(c.brightness))
	return NewColor(r, g, b, uint8(br+0.5))
}

// Hex formats the color as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.r, c.g, c.b)
}

func (c Color) String() string {
	return fmt.Sprintf("%s@%d", c.Hex(), c.brightness)
}

func (c Color) colorful() colorful.Color {
	return colorful.Color{R: float64(c.r) / 255, G: float64(c.g) / 255, B: float64(c.b) / 255}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
