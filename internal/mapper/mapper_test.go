package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripcast/internal/core"
)

func addrOf(t *testing.T, m Mapper, p core.Point) []core.LEDAddress {
	t.Helper()
	var out []core.LEDAddress
	for _, e := range m.Entries() {
		if e.Point == p {
			out = append(out, e.Address)
		}
	}
	return out
}

func TestLinearEndpoints(t *testing.T) {
	strip := core.StripLayout{ID: 1, Length: 10, Start: core.Point{X: 0, Y: 2}, End: core.Point{X: 9, Y: 2}}
	m := NewLinear([]core.StripLayout{strip})

	assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(1, 0)}, addrOf(t, m, strip.Start))
	assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(1, 9)}, addrOf(t, m, strip.End))

	strip.Reverse = true
	m = NewLinear([]core.StripLayout{strip})
	assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(1, 9)}, addrOf(t, m, strip.Start))
	assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(1, 0)}, addrOf(t, m, strip.End))
}

func TestLinearAlwaysLengthEntries(t *testing.T) {
	cases := []core.StripLayout{
		{ID: 0, Length: 5, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 40, Y: 0}},
		{ID: 0, Length: 30, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 3, Y: 0}},
		{ID: 0, Length: 8, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 7, Y: 7}},
		{ID: 0, Length: 1, Start: core.Point{X: 4, Y: 4}, End: core.Point{X: 4, Y: 4}},
		{ID: 0, Length: 12, Start: core.Point{X: 11, Y: 3}, End: core.Point{X: 0, Y: 0}},
	}
	for _, s := range cases {
		m := NewLinear([]core.StripLayout{s})
		entries := m.Entries()
		require.Len(t, entries, s.Length, "strip %+v", s)
		for i, e := range entries {
			assert.Equal(t, i, e.Address.Index())
		}
	}
}

func TestBresenhamDiagonal(t *testing.T) {
	pts := Bresenham(core.Point{X: 0, Y: 0}, core.Point{X: 3, Y: 3})
	assert.Equal(t, []core.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}, pts)

	pts = Bresenham(core.Point{X: 2, Y: 0}, core.Point{X: 0, Y: 0})
	assert.Equal(t, []core.Point{{X: 2, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}}, pts)
}

func TestInterpolateTruncates(t *testing.T) {
	pts := Interpolate(core.Point{X: 0, Y: 0}, core.Point{X: 10, Y: 1}, 3)
	assert.Equal(t, []core.Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 10, Y: 1}}, pts)
	assert.Equal(t, []core.Point{{X: 3, Y: 3}}, Interpolate(core.Point{X: 3, Y: 3}, core.Point{X: 9, Y: 9}, 1))
}

func TestLinearReverseColors(t *testing.T) {
	v := core.NewViewport(3, 1)
	v.Set(0, 0, core.Red)
	v.Set(1, 0, core.Green)
	v.Set(2, 0, core.Blue)

	strips := []core.StripLayout{{ID: 0, Length: 3, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 2, Y: 0}, Reverse: true}}
	m := NewLinear(strips)
	grouped := GroupByStrip(m.MapViewportToLEDs(v), Lengths(strips))

	assert.Equal(t, []core.Color{core.Blue, core.Green, core.Red}, grouped[0])
}

func TestLinearLaterStripWins(t *testing.T) {
	strips := []core.StripLayout{
		{ID: 0, Length: 3, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 2, Y: 0}},
		{ID: 1, Length: 3, Start: core.Point{X: 2, Y: 0}, End: core.Point{X: 2, Y: 2}},
	}
	m := NewLinear(strips)
	assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(1, 0)}, addrOf(t, m, core.Point{X: 2, Y: 0}))
	assert.Len(t, m.Entries(), 5)
}

func TestMappingOmitsOutOfViewport(t *testing.T) {
	strips := []core.StripLayout{{ID: 0, Length: 6, Start: core.Point{X: 0, Y: 0}, End: core.Point{X: 5, Y: 0}}}
	m := NewLinear(strips)
	v := core.NewViewport(4, 1)
	v.Fill(core.White)

	colors := m.MapViewportToLEDs(v)
	assert.Len(t, colors, 4)
	_, ok := colors[core.MustLEDAddress(0, 5)]
	assert.False(t, ok)

	grouped := GroupByStrip(colors, Lengths(strips))
	require.Len(t, grouped[0], 6)
	assert.Equal(t, core.White, grouped[0][3])
	assert.Equal(t, core.Black, grouped[0][4])
}

func TestGridSerpentine(t *testing.T) {
	strips := []core.StripLayout{
		{ID: 7, Length: 4, Start: core.Point{X: 0, Y: 1}, Reverse: true},
		{ID: 3, Length: 4, Start: core.Point{X: 0, Y: 0}},
	}
	m := NewGrid(strips, 4, 2)

	for col := 0; col < 4; col++ {
		assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(3, col)}, addrOf(t, m, core.Point{X: col, Y: 0}))
		assert.Equal(t, []core.LEDAddress{core.MustLEDAddress(7, 3-col)}, addrOf(t, m, core.Point{X: col, Y: 1}))
	}
}

func TestGridDropsOutOfBounds(t *testing.T) {
	strips := []core.StripLayout{
		{ID: 0, Length: 6, Start: core.Point{X: 0, Y: 0}},
		{ID: 1, Length: 6, Start: core.Point{X: 0, Y: 1}},
		{ID: 2, Length: 6, Start: core.Point{X: 0, Y: 2}},
	}
	m := NewGrid(strips, 4, 2)
	assert.Len(t, m.Entries(), 8)
	for _, e := range m.Entries() {
		assert.NotEqual(t, 2, e.Address.StripID())
		assert.Less(t, e.Point.X, 4)
	}
}
