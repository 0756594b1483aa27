package mapper

import "stripcast/internal/core"

// NewLinear maps each strip along the straight line from its start to its end
// point, one point per LED.
func NewLinear(strips []core.StripLayout) Mapper {
	t := newTable()
	for _, s := range strips {
		if s.Length <= 0 {
			continue
		}
		pts := Bresenham(s.Start, s.End)
		if len(pts) != s.Length {
			pts = Interpolate(s.Start, s.End, s.Length)
		}
		for i, p := range pts {
			idx := i
			if s.Reverse {
				idx = s.Length - 1 - i
			}
			t.assign(p, s.ID, idx)
		}
	}
	return t
}

// Bresenham rasterizes the segment from a to b, both ends included.
func Bresenham(a, b core.Point) []core.Point {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}

	pts := make([]core.Point, 0, max(dx, -dy)+1)
	x, y := a.X, a.Y
	e := dx + dy
	for {
		pts = append(pts, core.Point{X: x, Y: y})
		if x == b.X && y == b.Y {
			return pts
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// Interpolate samples exactly n points between a and b, truncating towards zero.
func Interpolate(a, b core.Point, n int) []core.Point {
	if n <= 0 {
		return nil
	}
	pts := make([]core.Point, n)
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		pts[i] = core.Point{
			X: int(float64(a.X) + t*float64(b.X-a.X)),
			Y: int(float64(a.Y) + t*float64(b.Y-a.Y)),
		}
	}
	return pts
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
