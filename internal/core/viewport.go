package core

// Viewport is the 2D pixel buffer patterns draw into. Dimensions are fixed at
// construction. It is not safe for concurrent use; the frame scheduler owns it.
type Viewport struct {
	width, height int
	pixels        []Color
}

// NewViewport allocates a black viewport. Non-positive dimensions yield an empty buffer.
func NewViewport(width, height int) *Viewport {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	v := &Viewport{width: width, height: height, pixels: make([]Color, width*height)}
	v.Clear()
	return v
}

func (v *Viewport) Width() int  { return v.width }
func (v *Viewport) Height() int { return v.height }

// InBounds reports whether (x,y) addresses a pixel.
func (v *Viewport) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < v.width && y < v.height
}

// Get returns the pixel at (x,y), or Black when out of bounds.
func (v *Viewport) Get(x, y int) Color {
	if !v.InBounds(x, y) {
		return Black
	}
	return v.pixels[y*v.width+x]
}

// At is Get for a Point.
func (v *Viewport) At(p Point) Color { return v.Get(p.X, p.Y) }

// Set writes the pixel at (x,y). Out-of-bounds writes are ignored.
func (v *Viewport) Set(x, y int, c Color) {
	if !v.InBounds(x, y) {
		return
	}
	v.pixels[y*v.width+x] = c
}

// Fill paints every pixel.
func (v *Viewport) Fill(c Color) {
	for i := range v.pixels {
		v.pixels[i] = c
	}
}

// Clear resets every pixel to black.
func (v *Viewport) Clear() { v.Fill(Black) }

// Snapshot copies the current buffer into an immutable Frame.
func (v *Viewport) Snapshot() *Frame {
	px := make([]Color, len(v.pixels))
	copy(px, v.pixels)
	return &Frame{width: v.width, height: v.height, pixels: px}
}

// Frame is a read-only copy of a viewport taken at the end of a render.
type Frame struct {
	width, height int
	pixels        []Color
}

// NewFrame builds a frame from row-major pixels; missing pixels are black.
func NewFrame(width, height int, pixels []Color) *Frame {
	px := make([]Color, width*height)
	for i := range px {
		px[i] = Black
	}
	copy(px, pixels)
	return &Frame{width: width, height: height, pixels: px}
}

func (f *Frame) Width() int  { return f.width }
func (f *Frame) Height() int { return f.height }

// Get returns the pixel at (x,y), or Black when out of bounds.
func (f *Frame) Get(x, y int) Color {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return Black
	}
	return f.pixels[y*f.width+x]
}

// RGB returns the row-major RGB bytes, three per pixel.
func (f *Frame) RGB() []byte {
	out := make([]byte, 0, len(f.pixels)*3)
	for _, c := range f.pixels {
		out = append(out, c.r, c.g, c.b)
	}
	return out
}
