package pattern

import (
	"math"
	"time"

	"stripcast/internal/core"
)

func solidDescriptor() Descriptor {
	return Descriptor{
		Name:        "solid",
		Description: "Fills the viewport with one color",
		Params: []ParamSpec{
			{Name: "r", Default: 255, Min: 0, Max: 255},
			{Name: "g", Default: 255, Min: 0, Max: 255},
			{Name: "b", Default: 255, Min: 0, Max: 255},
			{Name: "brightness", Default: core.MaxBrightness, Min: 0, Max: core.MaxBrightness},
		},
		New: func() Pattern { return &solid{} },
	}
}

type solid struct {
	color core.Color
}

func (s *solid) Initialize(_ *core.Viewport, p Params) error {
	s.color = core.NewColor(
		uint8(p.Get("r", 255)),
		uint8(p.Get("g", 255)),
		uint8(p.Get("b", 255)),
		uint8(p.Get("brightness", core.MaxBrightness)),
	)
	return nil
}

func (s *solid) Update(time.Duration, time.Duration) {}
func (s *solid) Render(vp *core.Viewport)            { vp.Fill(s.color) }
func (s *solid) Cleanup()                            {}

func rainbowDescriptor() Descriptor {
	return Descriptor{
		Name:        "rainbow",
		Description: "Hue sweep scrolling along x",
		Params: []ParamSpec{
			{Name: "speed", Description: "hue degrees per second", Default: 90, Min: -720, Max: 720},
			{Name: "scale", Description: "hue degrees per column", Default: 10, Min: 0, Max: 360},
		},
		New: func() Pattern { return &rainbow{} },
	}
}

type rainbow struct {
	speed, scale float64
	phase        float64
}

func (r *rainbow) Initialize(_ *core.Viewport, p Params) error {
	r.speed = p.Get("speed", 90)
	r.scale = p.Get("scale", 10)
	r.phase = 0
	return nil
}

func (r *rainbow) Update(dt, _ time.Duration) {
	r.phase = math.Mod(r.phase+r.speed*dt.Seconds(), 360)
}

func (r *rainbow) Render(vp *core.Viewport) {
	for x := 0; x < vp.Width(); x++ {
		h := math.Mod(r.phase+float64(x)*r.scale, 360)
		if h < 0 {
			h += 360
		}
		c := core.FromHSV(h, 1, 1)
		for y := 0; y < vp.Height(); y++ {
			vp.Set(x, y, c)
		}
	}
}

func (r *rainbow) Cleanup() {}
