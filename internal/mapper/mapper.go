// Package mapper turns viewport pixels into per-LED colors using a lookup
// table built once from the strip layout.
package mapper

import (
	"sort"

	"stripcast/internal/core"
)

// PixelSource is anything the mapper can sample, a live Viewport or a Frame.
type PixelSource interface {
	Width() int
	Height() int
	Get(x, y int) core.Color
}

// Mapper maps viewport pixels to LED addresses.
type Mapper interface {
	MapViewportToLEDs(src PixelSource) map[core.LEDAddress]core.Color
	Entries() []Entry
}

// Entry is one row of the lookup table.
type Entry struct {
	Point   core.Point
	Address core.LEDAddress
}

// table is the immutable point → address lookup shared by both mapper kinds.
// Several LEDs of one strip may sample the same point; across strips the
// strip assigned last owns the point.
type table struct {
	points map[core.Point][]core.LEDAddress
}

func newTable() *table {
	return &table{points: make(map[core.Point][]core.LEDAddress)}
}

func (t *table) assign(p core.Point, stripID, ledIndex int) {
	addr, err := core.NewLEDAddress(stripID, ledIndex)
	if err != nil {
		return
	}
	cur := t.points[p]
	if len(cur) > 0 && cur[0].StripID() != stripID {
		cur = nil
	}
	t.points[p] = append(cur, addr)
}

// MapViewportToLEDs samples every mapped point that lies inside src.
func (t *table) MapViewportToLEDs(src PixelSource) map[core.LEDAddress]core.Color {
	out := make(map[core.LEDAddress]core.Color, len(t.points))
	w, h := src.Width(), src.Height()
	for p, addrs := range t.points {
		if p.X < 0 || p.Y < 0 || p.X >= w || p.Y >= h {
			continue
		}
		c := src.Get(p.X, p.Y)
		for _, a := range addrs {
			out[a] = c
		}
	}
	return out
}

// Entries returns the table sorted by strip and LED index.
func (t *table) Entries() []Entry {
	out := make([]Entry, 0, len(t.points))
	for p, addrs := range t.points {
		for _, a := range addrs {
			out = append(out, Entry{Point: p, Address: a})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Address, out[j].Address
		if ai.StripID() != aj.StripID() {
			return ai.StripID() < aj.StripID()
		}
		return ai.Index() < aj.Index()
	})
	return out
}

// GroupByStrip lays the mapped colors out per strip in LED order. Every strip
// in lengths gets exactly that many colors; LEDs without a mapped color are black.
func GroupByStrip(colors map[core.LEDAddress]core.Color, lengths map[int]int) map[int][]core.Color {
	out := make(map[int][]core.Color, len(lengths))
	for id, n := range lengths {
		if n <= 0 {
			continue
		}
		buf := make([]core.Color, n)
		for i := range buf {
			buf[i] = core.Black
		}
		out[id] = buf
	}
	for addr, c := range colors {
		buf, ok := out[addr.StripID()]
		if !ok || addr.Index() >= len(buf) {
			continue
		}
		buf[addr.Index()] = c
	}
	return out
}

// Lengths indexes strip lengths by id.
func Lengths(strips []core.StripLayout) map[int]int {
	out := make(map[int]int, len(strips))
	for _, s := range strips {
		out[s.ID] = s.Length
	}
	return out
}
